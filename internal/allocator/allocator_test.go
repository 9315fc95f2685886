package allocator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/batchdex/solver/internal/domain"
	"github.com/batchdex/solver/internal/fixedpoint"
	"github.com/batchdex/solver/internal/orderbook"
	"github.com/batchdex/solver/internal/volume"
)

type orderSpec struct {
	id     byte
	side   domain.Side
	price  string
	amount string
}

func build(t *testing.T, specs []orderSpec) (orderbook.Snapshot, volume.Result) {
	t.Helper()
	var orders []domain.Order
	perOrder := make(map[domain.OrderID]fixedpoint.Amount)
	for _, s := range specs {
		var oid domain.OrderID
		oid[0] = s.id
		o := domain.Order{
			ID:          oid,
			PairID:      "ETH-USDC",
			Side:        s.side,
			PublicPrice: fixedpoint.FromString(s.price),
			SubmittedAt: time.Unix(1700000000+int64(s.id), 0),
		}
		orders = append(orders, o)
		perOrder[oid] = fixedpoint.FromString(s.amount)
	}
	snap := orderbook.Build("ETH-USDC", orders, nil)
	return snap, volume.Result{PerOrder: perOrder}
}

func fillFor(t *testing.T, fills []Fill, id byte) fixedpoint.Amount {
	t.Helper()
	for _, f := range fills {
		if f.OrderID[0] == id {
			return f.Amount
		}
	}
	t.Fatalf("no fill for order id %d", id)
	return fixedpoint.Zero
}

func TestAllocateScenarioBProRata(t *testing.T) {
	snap, est := build(t, []orderSpec{
		{1, domain.SideBuy, "1000", "10"},
		{2, domain.SideSell, "990", "15"},
		{3, domain.SideSell, "995", "5"},
	})
	res := Allocate(snap, est, fixedpoint.FromInt64(1000), nil)
	require.False(t, res.Aborted)

	b1 := fillFor(t, res.Fills, 1)
	s1 := fillFor(t, res.Fills, 2)
	s2 := fillFor(t, res.Fills, 3)

	assert.Equal(t, "10", b1.String())
	assert.Equal(t, "7.5", s1.String())
	assert.Equal(t, "2.5", s2.String())
	assert.Equal(t, b1.String(), s1.Add(s2).String())
}

func TestAllocateScenarioCNoFills(t *testing.T) {
	snap, est := build(t, []orderSpec{
		{1, domain.SideBuy, "900", "10"},
		{2, domain.SideSell, "1000", "10"},
	})
	res := Allocate(snap, est, fixedpoint.FromInt64(950), nil)
	require.False(t, res.Aborted)
	for _, f := range res.Fills {
		assert.True(t, f.Amount.IsZero())
	}
	assert.True(t, res.Executed.IsZero())
}

func TestAllocateOutputCoversEveryOrderExactlyOnce(t *testing.T) {
	snap, est := build(t, []orderSpec{
		{1, domain.SideBuy, "1050", "10"},
		{2, domain.SideBuy, "900", "5"},
		{4, domain.SideSell, "990", "4"},
		{5, domain.SideSell, "1100", "8"},
	})
	res := Allocate(snap, est, fixedpoint.FromInt64(1000), nil)
	assert.Len(t, res.Fills, 4)

	seen := make(map[domain.OrderID]bool)
	for _, f := range res.Fills {
		assert.False(t, seen[f.OrderID])
		seen[f.OrderID] = true
	}
}

func TestAllocateNoMatchedOrdersYieldsZeroRatioNoPanic(t *testing.T) {
	snap, est := build(t, []orderSpec{
		{1, domain.SideBuy, "100", "10"},
		{2, domain.SideSell, "200", "10"},
	})
	res := Allocate(snap, est, fixedpoint.FromInt64(150), nil)
	require.False(t, res.Aborted)
	for _, f := range res.Fills {
		assert.True(t, f.Amount.IsZero())
	}
}
