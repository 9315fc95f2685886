// Package solver implements the uniform clearing-price search over a frozen
// order book snapshot (§4.5). It never mutates its inputs and never
// touches plaintext amounts — every volume figure comes from the
// estimator's per-order estimate.
package solver

import (
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/batchdex/solver/internal/domain"
	"github.com/batchdex/solver/internal/fixedpoint"
	"github.com/batchdex/solver/internal/orderbook"
	"github.com/batchdex/solver/internal/volume"
)

// Reason names why no clearing price could be found, or why a non-crossing
// fallback price was used instead.
type Reason string

const (
	// ReasonNone marks a successful, non-fallback result.
	ReasonNone Reason = ""
	// ReasonEmptyBook is returned for a snapshot with no orders at all.
	ReasonEmptyBook Reason = "EmptyBook"
	// ReasonOneSidedBook is returned when only buys or only sells rest.
	ReasonOneSidedBook Reason = "OneSidedBook"
	// ReasonZeroVolume is returned when every order's estimate is zero.
	ReasonZeroVolume Reason = "ZeroVolume"
	// ReasonNoCrossingPrice names the case where neither a viable price nor
	// a midpoint fallback can be computed. Solve never returns it: after the
	// EmptyBook/OneSidedBook/ZeroVolume checks above, both sides are
	// non-empty, so a midpoint is always available.
	ReasonNoCrossingPrice Reason = "NoCrossingPrice"
)

// Result is the outcome of a solve: either a viable price (Viable true) or
// a reason why none was found.
type Result struct {
	Price    fixedpoint.Amount
	Viable   bool
	Fallback bool
	Reason   Reason
}

// Solve scans the snapshot's candidate prices and returns the one that
// maximizes executable volume, falling back to a non-crossing midpoint
// when no price actually crosses.
func Solve(snap orderbook.Snapshot, est volume.Result, logger *logrus.Logger) Result {
	if snap.IsEmpty() {
		return Result{Reason: ReasonEmptyBook}
	}
	if snap.IsOneSided() {
		return Result{Reason: ReasonOneSidedBook}
	}
	if est.Total.IsZero() {
		return Result{Reason: ReasonZeroVolume}
	}

	candidates := candidatePrices(snap)

	best := fixedpoint.Zero
	bestVol := fixedpoint.Zero
	found := false
	for _, p := range candidates {
		cumBuy := cumulativeBuy(snap.Buys, est.PerOrder, p)
		cumSell := cumulativeSell(snap.Sells, est.PerOrder, p)
		if cumBuy.IsZero() || cumSell.IsZero() {
			continue
		}
		exec := fixedpoint.Min(cumBuy, cumSell)
		// candidates are iterated ascending, so the first price to reach a
		// new maximum is already the lowest price tied for it.
		if !found || exec.GreaterThan(bestVol) {
			best = p
			bestVol = exec
			found = true
		}
	}
	if found {
		return Result{Price: best, Viable: true}
	}

	maxBuy := snap.Buys[0].PublicPrice
	minSell := snap.Sells[0].PublicPrice
	mid := maxBuy.Add(minSell).Div(fixedpoint.FromInt64(2), logger)
	return Result{Price: mid, Viable: true, Fallback: true}
}

// candidatePrices returns the deduplicated, ascending union of buy and
// sell public prices in the snapshot.
func candidatePrices(snap orderbook.Snapshot) []fixedpoint.Amount {
	seen := make(map[string]fixedpoint.Amount, len(snap.Buys)+len(snap.Sells))
	for _, o := range snap.Buys {
		seen[o.PublicPrice.String()] = o.PublicPrice
	}
	for _, o := range snap.Sells {
		seen[o.PublicPrice.String()] = o.PublicPrice
	}
	out := make([]fixedpoint.Amount, 0, len(seen))
	for _, p := range seen {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LessThan(out[j]) })
	return out
}

func cumulativeBuy(buys []domain.Order, perOrder map[domain.OrderID]fixedpoint.Amount, p fixedpoint.Amount) fixedpoint.Amount {
	sum := fixedpoint.Zero
	for _, o := range buys {
		if o.PublicPrice.GreaterThanOrEqual(p) {
			sum = sum.Add(perOrder[o.ID])
		}
	}
	return sum
}

func cumulativeSell(sells []domain.Order, perOrder map[domain.OrderID]fixedpoint.Amount, p fixedpoint.Amount) fixedpoint.Amount {
	sum := fixedpoint.Zero
	for _, o := range sells {
		if o.PublicPrice.LessThanOrEqual(p) {
			sum = sum.Add(perOrder[o.ID])
		}
	}
	return sum
}
