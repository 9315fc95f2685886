package batch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/batchdex/solver/internal/domain"
	"github.com/batchdex/solver/internal/envelope"
	"github.com/batchdex/solver/internal/external"
	"github.com/batchdex/solver/internal/fixedpoint"
)

func newTestEngine() (*Engine, *external.FixedClock) {
	clock := external.NewFixedClock(time.Unix(1_700_000_000, 0))
	engine := NewEngine(clock, &external.FakeZKBackend{}, nil)
	return engine, clock
}

func validEnvelope() []byte {
	return envelope.Zero().Serialize()
}

func trader(b byte) domain.TraderID {
	var t domain.TraderID
	t[0] = b
	return t
}

func TestBeginBatchRejectsInvalidDuration(t *testing.T) {
	engine, _ := newTestEngine()

	_, err := engine.BeginBatch("ETH-USDC", 10) // below MIN_BATCH_DURATION
	require.NotNil(t, err)
	assert.Equal(t, ErrInvalidDuration, err.Kind)

	_, err = engine.BeginBatch("ETH-USDC", 100_000) // above MAX_BATCH_DURATION
	require.NotNil(t, err)
	assert.Equal(t, ErrInvalidDuration, err.Kind)
}

func TestBeginBatchOpensAtDeadline(t *testing.T) {
	engine, clock := newTestEngine()

	id, err := engine.BeginBatch("ETH-USDC", 120)
	require.Nil(t, err)

	view, getErr := engine.GetBatch(id)
	require.Nil(t, getErr)
	assert.Equal(t, PhaseOpen, view.Phase)
	assert.Equal(t, clock.Now().Add(120*time.Second), view.Deadline)
}

func TestSubmitOrderRejectsMalformedEnvelope(t *testing.T) {
	engine, _ := newTestEngine()
	id, _ := engine.BeginBatch("ETH-USDC", 120)

	_, err := engine.SubmitOrder(id, trader(1), domain.SideBuy, fixedpoint.FromInt64(100), make([]byte, 50))
	require.NotNil(t, err)
	assert.Equal(t, ErrInvalidEnvelope, err.Kind)
}

func TestSubmitOrderRejectsDuplicateAdmission(t *testing.T) {
	engine, _ := newTestEngine()
	id, _ := engine.BeginBatch("ETH-USDC", 120)
	env := validEnvelope()

	_, err := engine.SubmitOrder(id, trader(1), domain.SideBuy, fixedpoint.FromInt64(100), env)
	require.Nil(t, err)

	// Same trader/side/price/envelope at the same (fixed) clock instant
	// hashes to the same order id (§3 invariant 1: ids unique within a batch).
	_, err = engine.SubmitOrder(id, trader(1), domain.SideBuy, fixedpoint.FromInt64(100), env)
	require.NotNil(t, err)
	assert.Equal(t, ErrDuplicateID, err.Kind)
}

func TestSubmitOrderRejectsAfterClose(t *testing.T) {
	engine, _ := newTestEngine()
	id, _ := engine.BeginBatch("ETH-USDC", 120)
	require.Nil(t, engine.CloseBatch(id))

	_, err := engine.SubmitOrder(id, trader(1), domain.SideBuy, fixedpoint.FromInt64(100), validEnvelope())
	require.NotNil(t, err)
	assert.Equal(t, ErrBatchClosed, err.Kind)
}

func TestCancelOrderRaceAfterClose(t *testing.T) {
	// Scenario F: submit order, close batch, attempt cancellation.
	engine, _ := newTestEngine()
	id, _ := engine.BeginBatch("ETH-USDC", 120)
	orderID, submitErr := engine.SubmitOrder(id, trader(1), domain.SideBuy, fixedpoint.FromInt64(100), validEnvelope())
	require.Nil(t, submitErr)

	require.Nil(t, engine.CloseBatch(id))

	cancelErr := engine.CancelOrder(id, orderID, trader(1))
	require.NotNil(t, cancelErr)
	assert.Equal(t, ErrWrongPhase, cancelErr.Kind)
}

func TestCancelOrderRequiresOwner(t *testing.T) {
	engine, _ := newTestEngine()
	id, _ := engine.BeginBatch("ETH-USDC", 120)
	orderID, _ := engine.SubmitOrder(id, trader(1), domain.SideBuy, fixedpoint.FromInt64(100), validEnvelope())

	err := engine.CancelOrder(id, orderID, trader(2))
	require.NotNil(t, err)
	assert.Equal(t, ErrNotOwner, err.Kind)
}

func TestCloseBatchIsIdempotent(t *testing.T) {
	engine, _ := newTestEngine()
	id, _ := engine.BeginBatch("ETH-USDC", 120)

	require.Nil(t, engine.CloseBatch(id))
	require.Nil(t, engine.CloseBatch(id)) // second call is a no-op, not an error

	view, _ := engine.GetBatch(id)
	assert.Equal(t, PhaseClosing, view.Phase)
}

func TestCloseBatchRejectedOnceSettled(t *testing.T) {
	engine, clock := newTestEngine()
	id, _ := engine.BeginBatch("ETH-USDC", 120)
	_, _ = engine.SubmitOrder(id, trader(1), domain.SideBuy, fixedpoint.FromInt64(1000), validEnvelope())
	_, _ = engine.SubmitOrder(id, trader(2), domain.SideSell, fixedpoint.FromInt64(900), validEnvelope())
	require.Nil(t, engine.CloseBatch(id))
	_, err := engine.SettleBatch(context.Background(), id)
	require.Nil(t, err)
	_ = clock

	err = engine.CloseBatch(id)
	require.NotNil(t, err)
	assert.Equal(t, ErrAlreadyClosed, err.Kind)
}

func TestSettleBatchTwoSidedCross(t *testing.T) {
	engine, _ := newTestEngine()
	id, _ := engine.BeginBatch("ETH-USDC", 120)

	_, err := engine.SubmitOrder(id, trader(1), domain.SideBuy, fixedpoint.FromInt64(1050), validEnvelope())
	require.Nil(t, err)
	_, err = engine.SubmitOrder(id, trader(2), domain.SideSell, fixedpoint.FromInt64(990), validEnvelope())
	require.Nil(t, err)

	require.Nil(t, engine.CloseBatch(id))

	settlement, settleErr := engine.SettleBatch(context.Background(), id)
	require.Nil(t, settleErr)
	assert.False(t, settlement.Aborted)

	view, getErr := engine.GetBatch(id)
	require.Nil(t, getErr)
	assert.Equal(t, PhaseSettled, view.Phase)
	require.NotNil(t, view.Settlement)
}

func TestSettleBatchIsIdempotent(t *testing.T) {
	engine, _ := newTestEngine()
	id, _ := engine.BeginBatch("ETH-USDC", 120)
	_, _ = engine.SubmitOrder(id, trader(1), domain.SideBuy, fixedpoint.FromInt64(1050), validEnvelope())
	_, _ = engine.SubmitOrder(id, trader(2), domain.SideSell, fixedpoint.FromInt64(990), validEnvelope())
	require.Nil(t, engine.CloseBatch(id))

	first, err1 := engine.SettleBatch(context.Background(), id)
	require.Nil(t, err1)
	second, err2 := engine.SettleBatch(context.Background(), id)
	require.Nil(t, err2)

	assert.Equal(t, first.Encode(), second.Encode())
}

func TestSettleBatchRequiresClosing(t *testing.T) {
	engine, _ := newTestEngine()
	id, _ := engine.BeginBatch("ETH-USDC", 120)

	_, err := engine.SettleBatch(context.Background(), id)
	require.NotNil(t, err)
	assert.Equal(t, ErrNotClosed, err.Kind)
}

func TestSettleBatchNoCrossFallsBackToMidpoint(t *testing.T) {
	// Scenario C: no crossing orders, settle still succeeds via mid-price
	// fallback with zero matched volume.
	engine, _ := newTestEngine()
	id, _ := engine.BeginBatch("ETH-USDC", 120)
	_, _ = engine.SubmitOrder(id, trader(1), domain.SideBuy, fixedpoint.FromInt64(900), validEnvelope())
	_, _ = engine.SubmitOrder(id, trader(2), domain.SideSell, fixedpoint.FromInt64(1000), validEnvelope())
	require.Nil(t, engine.CloseBatch(id))

	settlement, err := engine.SettleBatch(context.Background(), id)
	require.Nil(t, err)
	assert.False(t, settlement.Aborted)
	assert.True(t, settlement.TotalMatchedVolume.IsZero())
	assert.Equal(t, fixedpoint.FromInt64(950).String(), settlement.ClearingPrice.String())
}

func TestEstimateVolumeOnlyCountsPending(t *testing.T) {
	engine, _ := newTestEngine()
	id, _ := engine.BeginBatch("ETH-USDC", 120)
	orderID, _ := engine.SubmitOrder(id, trader(1), domain.SideBuy, fixedpoint.FromInt64(1000), validEnvelope())

	before, err := engine.EstimateVolume(id)
	require.Nil(t, err)
	assert.False(t, before.Total.IsZero())

	require.Nil(t, engine.CancelOrder(id, orderID, trader(1)))

	after, err := engine.EstimateVolume(id)
	require.Nil(t, err)
	assert.True(t, after.Total.IsZero())
}

func TestGetBatchNotFound(t *testing.T) {
	engine, _ := newTestEngine()
	_, err := engine.GetBatch([16]byte{})
	require.NotNil(t, err)
	assert.Equal(t, ErrNotFound, err.Kind)
}
