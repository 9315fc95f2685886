// Package allocator turns a clearing price into per-order fills, honoring
// pro-rata allocation and conservation of volume (§4.6). It never sees
// plaintext amounts — "amount" throughout is the volume estimator's
// per-order estimate.
package allocator

import (
	"math/big"

	"github.com/sirupsen/logrus"

	"github.com/batchdex/solver/internal/domain"
	"github.com/batchdex/solver/internal/fixedpoint"
	"github.com/batchdex/solver/internal/orderbook"
	"github.com/batchdex/solver/internal/volume"
)

// Fill pairs an order with the amount of it that executes at the clearing
// price. Unmatched orders carry a zero Fill.
type Fill struct {
	OrderID domain.OrderID
	Amount  fixedpoint.Amount
}

// Result is the allocator's output: every order in the snapshot exactly
// once, in the fixed output order described by §4.6 (matched buys, matched
// sells, unmatched buys, unmatched sells).
type Result struct {
	Fills    []Fill
	Aborted  bool
	Reason   string
	Executed fixedpoint.Amount
}

// conservationReason is the Settlement.reason value used when
// post-rounding drift cannot be reconciled.
const conservationReason = "ConservationViolated"

// Allocate computes pro-rata fills for every order in the snapshot at the
// given clearing price.
func Allocate(snap orderbook.Snapshot, est volume.Result, clearingPrice fixedpoint.Amount, logger *logrus.Logger) Result {
	var matchedBuys, unmatchedBuys []domain.Order
	for _, o := range snap.Buys {
		if o.PublicPrice.GreaterThanOrEqual(clearingPrice) {
			matchedBuys = append(matchedBuys, o)
		} else {
			unmatchedBuys = append(unmatchedBuys, o)
		}
	}

	var matchedSells, unmatchedSells []domain.Order
	for _, o := range snap.Sells {
		if o.PublicPrice.LessThanOrEqual(clearingPrice) {
			matchedSells = append(matchedSells, o)
		} else {
			unmatchedSells = append(unmatchedSells, o)
		}
	}

	B := sumAmounts(matchedBuys, est.PerOrder)
	S := sumAmounts(matchedSells, est.PerOrder)
	executable := fixedpoint.Min(B, S)

	rBuy := executable.Div(B, logger)
	rSell := executable.Div(S, logger)

	buyFills := proRataFills(matchedBuys, est.PerOrder, rBuy)
	sellFills := proRataFills(matchedSells, est.PerOrder, rSell)

	aborted, reason := reconcile(buyFills, sellFills, est.PerOrder, B, S)

	out := make([]Fill, 0, len(matchedBuys)+len(matchedSells)+len(unmatchedBuys)+len(unmatchedSells))
	if aborted {
		if logger != nil {
			logger.WithField("pair_id", snap.PairID).Warn("allocator: conservation violated after rounding adjustment")
		}
		for _, o := range matchedBuys {
			out = append(out, Fill{OrderID: o.ID, Amount: fixedpoint.Zero})
		}
		for _, o := range matchedSells {
			out = append(out, Fill{OrderID: o.ID, Amount: fixedpoint.Zero})
		}
	} else {
		out = append(out, buyFills...)
		out = append(out, sellFills...)
	}
	for _, o := range unmatchedBuys {
		out = append(out, Fill{OrderID: o.ID, Amount: fixedpoint.Zero})
	}
	for _, o := range unmatchedSells {
		out = append(out, Fill{OrderID: o.ID, Amount: fixedpoint.Zero})
	}

	return Result{Fills: out, Aborted: aborted, Reason: reason, Executed: executable}
}

func sumAmounts(orders []domain.Order, perOrder map[domain.OrderID]fixedpoint.Amount) fixedpoint.Amount {
	sum := fixedpoint.Zero
	for _, o := range orders {
		sum = sum.Add(perOrder[o.ID])
	}
	return sum
}

func proRataFills(orders []domain.Order, perOrder map[domain.OrderID]fixedpoint.Amount, ratio fixedpoint.Amount) []Fill {
	fills := make([]Fill, len(orders))
	for i, o := range orders {
		amt := perOrder[o.ID]
		fills[i] = Fill{OrderID: o.ID, Amount: fixedpoint.Min(amt.Mul(ratio), amt)}
	}
	return fills
}

// reconcile applies §4.6 step 5: after rounding, any drift between the two
// sides' fill totals is pushed onto the last matched order of the larger
// gross side. If the adjustment would take that order's fill negative or
// above its original amount, conservation cannot be restored and the batch
// must abort.
func reconcile(buyFills, sellFills []Fill, perOrder map[domain.OrderID]fixedpoint.Amount, grossBuy, grossSell fixedpoint.Amount) (aborted bool, reason string) {
	sumBuy := sumFills(buyFills)
	sumSell := sumFills(sellFills)
	drift := new(big.Int).Sub(sumBuy.Raw(), sumSell.Raw())
	if drift.Sign() == 0 {
		return false, ""
	}

	largerIsBuy := grossBuy.Cmp(grossSell) >= 0
	target := buyFills
	if !largerIsBuy {
		target = sellFills
	}
	if len(target) == 0 {
		return true, conservationReason
	}

	last := len(target) - 1
	orig := perOrder[target[last].OrderID]
	var newRaw *big.Int
	if largerIsBuy {
		newRaw = new(big.Int).Sub(target[last].Amount.Raw(), drift)
	} else {
		newRaw = new(big.Int).Add(target[last].Amount.Raw(), drift)
	}

	if newRaw.Sign() < 0 || newRaw.Cmp(orig.Raw()) > 0 {
		return true, conservationReason
	}
	target[last].Amount = fixedpoint.New(newRaw)

	finalDrift := new(big.Int).Sub(sumFills(buyFills).Raw(), sumFills(sellFills).Raw())
	finalDrift.Abs(finalDrift)
	if finalDrift.Cmp(big.NewInt(1)) > 0 {
		return true, conservationReason
	}
	return false, ""
}

func sumFills(fills []Fill) fixedpoint.Amount {
	sum := fixedpoint.Zero
	for _, f := range fills {
		sum = sum.Add(f.Amount)
	}
	return sum
}
