package settlement

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/batchdex/solver/internal/allocator"
	"github.com/batchdex/solver/internal/domain"
	"github.com/batchdex/solver/internal/envelope"
	"github.com/batchdex/solver/internal/external"
	"github.com/batchdex/solver/internal/fixedpoint"
	"github.com/batchdex/solver/internal/orderbook"
	"github.com/batchdex/solver/internal/volume"
)

func oneMatchedOrder(t *testing.T) (orderbook.Snapshot, volume.Result, []allocator.Fill) {
	t.Helper()
	var oid domain.OrderID
	oid[0] = 1
	o := domain.Order{
		ID:            oid,
		PairID:        "ETH-USDC",
		Side:          domain.SideBuy,
		PublicPrice:   fixedpoint.FromInt64(100),
		EnvelopeBytes: envelope.Zero().Serialize(),
		SubmittedAt:   time.Unix(1700000000, 0),
	}
	snap := orderbook.Build("ETH-USDC", []domain.Order{o}, nil)
	est := volume.Result{PerOrder: map[domain.OrderID]fixedpoint.Amount{oid: fixedpoint.FromInt64(10)}}
	fills := []allocator.Fill{{OrderID: oid, Amount: fixedpoint.FromInt64(10)}}
	return snap, est, fills
}

func TestPackageWithFakeBackendProducesFills(t *testing.T) {
	snap, est, fills := oneMatchedOrder(t)
	zk := &external.FakeZKBackend{}

	s := Package(context.Background(), snap, est, fills, fixedpoint.FromInt64(100), fixedpoint.FromInt64(10), zk, nil)
	require.Len(t, s.Fills, 1)
	assert.False(t, s.ProofInvalid)
	assert.Equal(t, "fake-proof", string(s.ProofBlob))
}

func TestPackageFallsBackToZeroEnvelopeWhenBackendUnavailable(t *testing.T) {
	snap, est, fills := oneMatchedOrder(t)
	zk := external.UnavailableZKBackend{}

	s := Package(context.Background(), snap, est, fills, fixedpoint.FromInt64(100), fixedpoint.FromInt64(10), zk, nil)
	require.Len(t, s.Fills, 1)
	assert.Equal(t, envelope.Zero().Serialize(), s.Fills[0].Envelope)
	assert.True(t, s.ProofInvalid)
	assert.Len(t, s.ProofBlob, ProofPlaceholderSize)
}

func TestPackageOversizeProofReplacedWithPlaceholder(t *testing.T) {
	snap, est, fills := oneMatchedOrder(t)
	zk := &external.FakeZKBackend{}
	// wrap with a backend whose ProveSettlement returns an oversize blob
	oversize := &oversizeProofBackend{FakeZKBackend: zk}

	s := Package(context.Background(), snap, est, fills, fixedpoint.FromInt64(100), fixedpoint.FromInt64(10), oversize, nil)
	assert.True(t, s.ProofInvalid)
	assert.Len(t, s.ProofBlob, ProofPlaceholderSize)
}

type oversizeProofBackend struct {
	*external.FakeZKBackend
}

func (b *oversizeProofBackend) ProveSettlement(ctx context.Context, clearingPrice []byte, matchedIDs [][32]byte, fillEnvelopes [][]byte) ([]byte, error) {
	return make([]byte, MaxProofSize+1), nil
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	var oid domain.OrderID
	oid[0] = 7
	s := Settlement{
		ClearingPrice:      fixedpoint.FromInt64(1015),
		Fills:              []domain.FillEntry{{OrderID: oid, Envelope: envelope.Zero().Serialize()}},
		ProofBlob:          []byte{1, 2, 3, 4},
		TotalMatchedVolume: fixedpoint.FromInt64(10),
	}

	raw := s.Encode()
	decoded, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, s.ClearingPrice.String(), decoded.ClearingPrice.String())
	require.Len(t, decoded.Fills, 1)
	assert.Equal(t, s.Fills[0].OrderID, decoded.Fills[0].OrderID)
	assert.Equal(t, s.Fills[0].Envelope, decoded.Fills[0].Envelope)
	assert.Equal(t, s.ProofBlob, decoded.ProofBlob)
}

func TestDecodeRejectsTooShort(t *testing.T) {
	_, err := Decode(make([]byte, 10))
	assert.ErrorIs(t, err, ErrTooShort)
}

func TestDecodeRejectsTruncatedFills(t *testing.T) {
	raw := make([]byte, 16+4)
	raw[19] = 1 // n_fills = 1 but no fill data follows
	_, err := Decode(raw)
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestAbortedSettlementHasNoFills(t *testing.T) {
	s := Aborted("ConservationViolated")
	assert.True(t, s.Aborted)
	assert.Equal(t, "ConservationViolated", s.Reason)
	assert.Empty(t, s.Fills)
}
