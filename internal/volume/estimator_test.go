package volume

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/batchdex/solver/internal/domain"
	"github.com/batchdex/solver/internal/envelope"
	"github.com/batchdex/solver/internal/fixedpoint"
)

func makeOrder(id byte, price string, env envelope.Envelope) domain.Order {
	var oid domain.OrderID
	oid[0] = id
	return domain.Order{
		ID:            oid,
		PairID:        "ETH-USDC",
		Side:          domain.SideBuy,
		PublicPrice:   fixedpoint.FromString(price),
		EnvelopeBytes: env.Serialize(),
		SubmittedAt:   time.Unix(1700000000, 0),
	}
}

func distinctEnvelope(seed byte) envelope.Envelope {
	e := envelope.Zero()
	e.R[1] = seed
	return e
}

func TestRoundToLadderNearestRung(t *testing.T) {
	assert.True(t, RoundToLadder(fixedpoint.FromInt64(0)).IsZero())
	assert.Equal(t, "1", RoundToLadder(fixedpoint.FromInt64(1)).String())
	assert.Equal(t, "1", RoundToLadder(fixedpoint.FromInt64(3)).String())
	assert.Equal(t, "10", RoundToLadder(fixedpoint.FromInt64(7)).String())
	assert.Equal(t, "10", RoundToLadder(fixedpoint.FromInt64(12)).String())
	assert.Equal(t, "100", RoundToLadder(fixedpoint.FromInt64(60)).String())
}

func TestEstimateInvalidEnvelopeContributesZero(t *testing.T) {
	e := NewEstimator(nil)
	bad := makeOrder(1, "100", envelope.Zero())
	bad.EnvelopeBytes = []byte{1, 2, 3}

	res := e.Estimate([]domain.Order{bad})
	assert.True(t, res.Total.IsZero())
	assert.True(t, res.PerOrder[bad.ID].IsZero())
}

func TestEstimateDeterministic(t *testing.T) {
	e := NewEstimator(nil)
	orders := []domain.Order{
		makeOrder(1, "100", distinctEnvelope(1)),
		makeOrder(2, "100", distinctEnvelope(2)),
		makeOrder(3, "101", distinctEnvelope(3)),
	}

	r1 := e.Estimate(orders)
	r2 := e.Estimate(orders)
	assert.Equal(t, r1.Total.String(), r2.Total.String())
	assert.Equal(t, r1.PerPriceLevel, r2.PerPriceLevel)
}

func TestEstimatePerPriceLevelGrouping(t *testing.T) {
	e := NewEstimator(nil)
	orders := []domain.Order{
		makeOrder(1, "100", distinctEnvelope(1)),
		makeOrder(2, "100", distinctEnvelope(2)),
		makeOrder(3, "101", distinctEnvelope(3)),
	}

	res := e.Estimate(orders)
	require.Len(t, res.PerPriceLevel, 2)
	assert.Equal(t, "100", res.PerPriceLevel[0].Price.String())
	assert.Equal(t, "101", res.PerPriceLevel[1].Price.String())

	sumPerOrder := fixedpoint.Zero
	for _, amt := range res.PerOrder {
		sumPerOrder = sumPerOrder.Add(amt)
	}
	assert.Equal(t, sumPerOrder.String(), res.Total.String())
}

func TestEstimateEmptyOrders(t *testing.T) {
	e := NewEstimator(nil)
	res := e.Estimate(nil)
	assert.True(t, res.Total.IsZero())
	assert.Empty(t, res.PerPriceLevel)
}

func TestBucketIndexWithinRange(t *testing.T) {
	fp := distinctEnvelope(9).Fingerprint()
	idx := bucketIndex(fp, DefaultBuckets)
	assert.True(t, idx >= 0 && idx < DefaultBuckets)
}
