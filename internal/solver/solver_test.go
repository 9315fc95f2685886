package solver

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

func ord(id byte, side domain.Side, price, amount string) (domain.Order, fixedpoint.Amount) {
	var oid domain.OrderID
	oid[0] = id
	return domain.Order{
		ID:          oid,
		PairID:      "ETH-USDC",
		Side:        side,
		PublicPrice: fixedpoint.FromString(price),
		SubmittedAt: time.Unix(1700000000+int64(id), 0),
	}, fixedpoint.FromString(amount)
}

func buildCase(t *testing.T, specs []struct {
	id     byte
	side   domain.Side
	price  string
	amount string
}) (orderbook.Snapshot, volume.Result) {
	t.Helper()
	var orders []domain.Order
	perOrder := make(map[domain.OrderID]fixedpoint.Amount)
	total := fixedpoint.Zero
	for _, s := range specs {
		o, amt := ord(s.id, s.side, s.price, s.amount)
		orders = append(orders, o)
		perOrder[o.ID] = amt
		total = total.Add(amt)
	}
	snap := orderbook.Build("ETH-USDC", orders, nil)
	return snap, volume.Result{Total: total, PerOrder: perOrder}
}

func TestSolveEmptyBook(t *testing.T) {
	snap := orderbook.Build("ETH-USDC", nil, nil)
	res := Solve(snap, volume.Result{Total: fixedpoint.Zero, PerOrder: map[domain.OrderID]fixedpoint.Amount{}}, nil)
	assert.False(t, res.Viable)
	assert.Equal(t, ReasonEmptyBook, res.Reason)
}

func TestSolveOneSidedBook(t *testing.T) {
	snap, est := buildCase(t, []struct {
		id     byte
		side   domain.Side
		price  string
		amount string
	}{
		{1, domain.SideBuy, "100", "10"},
	})
	res := Solve(snap, est, nil)
	assert.False(t, res.Viable)
	assert.Equal(t, ReasonOneSidedBook, res.Reason)
}

func TestSolveZeroVolume(t *testing.T) {
	snap, est := buildCase(t, []struct {
		id     byte
		side   domain.Side
		price  string
		amount string
	}{
		{1, domain.SideBuy, "100", "0"},
		{2, domain.SideSell, "90", "0"},
	})
	res := Solve(snap, est, nil)
	assert.False(t, res.Viable)
	assert.Equal(t, ReasonZeroVolume, res.Reason)
}

func TestSolveScenarioATwoSidedCross(t *testing.T) {
	snap, est := buildCase(t, []struct {
		id     byte
		side   domain.Side
		price  string
		amount string
	}{
		{1, domain.SideBuy, "1050", "10"},
		{2, domain.SideBuy, "1030", "5"},
		{3, domain.SideBuy, "1010", "3"},
		{4, domain.SideSell, "990", "4"},
		{5, domain.SideSell, "1000", "8"},
		{6, domain.SideSell, "1020", "6"},
	})
	res := Solve(snap, est, nil)
	require.True(t, res.Viable)
	assert.False(t, res.Fallback)
	assert.True(t, res.Price.GreaterThanOrEqual(fixedpoint.FromInt64(1010)))
	assert.True(t, res.Price.LessThan(fixedpoint.FromInt64(1020)))
}

func TestSolveScenarioCNoCrossFallsBackToMidpoint(t *testing.T) {
	snap, est := buildCase(t, []struct {
		id     byte
		side   domain.Side
		price  string
		amount string
	}{
		{1, domain.SideBuy, "900", "10"},
		{2, domain.SideSell, "1000", "10"},
	})
	res := Solve(snap, est, nil)
	require.True(t, res.Viable)
	assert.True(t, res.Fallback)
	assert.Equal(t, "950", res.Price.String())
}

func TestSolveDeterministicAcrossRuns(t *testing.T) {
	snap, est := buildCase(t, []struct {
		id     byte
		side   domain.Side
		price  string
		amount string
	}{
		{1, domain.SideBuy, "1050", "10"},
		{4, domain.SideSell, "990", "4"},
		{5, domain.SideSell, "1000", "8"},
	})
	r1 := Solve(snap, est, nil)
	r2 := Solve(snap, est, nil)
	assert.Equal(t, r1, r2)
}
