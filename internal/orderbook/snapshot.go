// Package orderbook builds immutable snapshots of a batch's resting orders,
// sorted into buy and sell sides ready for the solver to walk (§4.4). A
// Snapshot never mutates once built — each batch gets a fresh one when it
// is settled.
package orderbook

import (
	"bytes"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/batchdex/solver/internal/domain"
)

// MaxOrdersPerBatch bounds how many orders a single batch's snapshot will
// carry, defending the solver against an unbounded admission backlog
// (§4.4 MAX_ORDERS_PER_BATCH).
const MaxOrdersPerBatch = 1000

// Snapshot is the immutable view of a batch's resting orders a solver run
// is computed against. Buys are sorted best-first (highest price, then
// earliest timestamp, then lexicographically smallest id); Sells the
// mirror image (lowest price first).
type Snapshot struct {
	PairID string
	Buys   []domain.Order
	Sells  []domain.Order
}

// Build sorts orders into a Snapshot, truncating to the first
// MaxOrdersPerBatch by timestamp ascending if the batch admitted more than
// that (§4.4; logging a warning — this should never happen if the batch
// state machine enforces admission limits, but the snapshot stays defensive
// on its own).
func Build(pairID string, orders []domain.Order, logger *logrus.Logger) Snapshot {
	if len(orders) > MaxOrdersPerBatch {
		if logger != nil {
			logger.WithFields(logrus.Fields{
				"pair_id": pairID,
				"count":   len(orders),
				"max":     MaxOrdersPerBatch,
			}).Warn("orderbook: truncating oversized batch to max orders per batch")
		}
		byAdmission := make([]domain.Order, len(orders))
		copy(byAdmission, orders)
		sort.SliceStable(byAdmission, func(i, j int) bool {
			if !byAdmission[i].SubmittedAt.Equal(byAdmission[j].SubmittedAt) {
				return byAdmission[i].SubmittedAt.Before(byAdmission[j].SubmittedAt)
			}
			return bytes.Compare(byAdmission[i].ID[:], byAdmission[j].ID[:]) < 0
		})
		orders = byAdmission[:MaxOrdersPerBatch]
	}

	var buys, sells []domain.Order
	for _, o := range orders {
		if o.Side == domain.SideBuy {
			buys = append(buys, o)
		} else {
			sells = append(sells, o)
		}
	}

	sort.SliceStable(buys, func(i, j int) bool { return lessBuy(buys[i], buys[j]) })
	sort.SliceStable(sells, func(i, j int) bool { return lessSell(sells[i], sells[j]) })

	return Snapshot{PairID: pairID, Buys: buys, Sells: sells}
}

// lessBuy orders the buy side best-first: higher price first, then earlier
// timestamp, then lexicographically smaller order id.
func lessBuy(a, b domain.Order) bool {
	if c := a.PublicPrice.Cmp(b.PublicPrice); c != 0 {
		return c > 0
	}
	return tieBreak(a, b)
}

// lessSell orders the sell side best-first: lower price first, then the
// same timestamp/id tie-break as the buy side.
func lessSell(a, b domain.Order) bool {
	if c := a.PublicPrice.Cmp(b.PublicPrice); c != 0 {
		return c < 0
	}
	return tieBreak(a, b)
}

func tieBreak(a, b domain.Order) bool {
	if !a.SubmittedAt.Equal(b.SubmittedAt) {
		return a.SubmittedAt.Before(b.SubmittedAt)
	}
	return bytes.Compare(a.ID[:], b.ID[:]) < 0
}

// TotalOrders returns the number of orders carried by the snapshot across
// both sides.
func (s Snapshot) TotalOrders() int {
	return len(s.Buys) + len(s.Sells)
}

// IsEmpty reports whether the snapshot carries no orders at all.
func (s Snapshot) IsEmpty() bool {
	return len(s.Buys) == 0 && len(s.Sells) == 0
}

// IsOneSided reports whether only one side of the book has orders — the
// solver's OneSidedBook edge case (§4.5).
func (s Snapshot) IsOneSided() bool {
	return (len(s.Buys) == 0) != (len(s.Sells) == 0)
}
