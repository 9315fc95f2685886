// Package batch implements the batch lifecycle state machine (§4.7): the
// single owner of a batch's order records from admission through
// settlement. Each Batch is driven by one logical task at a time per §5 —
// the mutex here exists because the API layer fans in concurrent HTTP
// requests, not because the core itself needs multi-writer semantics.
package batch

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/batchdex/solver/internal/domain"
	"github.com/batchdex/solver/internal/settlement"
)

// Phase is a batch's position in its lifecycle.
type Phase string

const (
	PhaseOpen     Phase = "Open"
	PhaseClosing  Phase = "Closing"
	PhaseSettled  Phase = "Settled"
	PhaseAborted  Phase = "Aborted"
)

// OrderStatus is an order's position within its batch.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "Pending"
	OrderStatusCancelled OrderStatus = "Cancelled"
	OrderStatusMatched   OrderStatus = "Matched"
)

// MinDuration and MaxDuration bound begin_batch's duration_seconds input
// (§6 MIN_BATCH_DURATION / MAX_BATCH_DURATION).
const (
	MinDuration = 60 * time.Second
	MaxDuration = 86400 * time.Second
)

type record struct {
	Order  domain.Order
	Status OrderStatus
}

// Batch is one time-bounded auction: the sole owner of its orders (§9
// "Batch is the sole owner of its Order records"). Callers only see it
// through View: a copy of its fields plus a pointer to the Settlement,
// which is not modified once set.
type Batch struct {
	mu sync.RWMutex

	ID       uuid.UUID
	PairID   string
	Phase    Phase
	Deadline time.Time

	records      map[domain.OrderID]*record
	insertOrder  []domain.OrderID
	settlement   *settlement.Settlement
	createdAt    time.Time
}

func newBatch(pairID string, deadline time.Time) *Batch {
	return &Batch{
		ID:          uuid.New(),
		PairID:      pairID,
		Phase:       PhaseOpen,
		Deadline:    deadline,
		records:     make(map[domain.OrderID]*record),
		createdAt:   deadline, // overwritten by caller with the real start time
	}
}

// View is the read-only snapshot returned by get_batch (§6). It never
// exposes the batch's internal map or mutex.
type View struct {
	ID         uuid.UUID
	PairID     string
	Phase      Phase
	Deadline   time.Time
	OrderCount int
	Settlement *settlement.Settlement
}

// View builds a read-only snapshot of the batch's current state.
func (b *Batch) View() View {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return View{
		ID:         b.ID,
		PairID:     b.PairID,
		Phase:      b.Phase,
		Deadline:   b.Deadline,
		OrderCount: len(b.records),
		Settlement: b.settlement,
	}
}

// pendingOrders returns every order currently Pending, in admission order
// — the sequence the volume estimator and snapshot builder require for
// reproducibility (§4.3, §4.4).
func (b *Batch) pendingOrders() []domain.Order {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]domain.Order, 0, len(b.insertOrder))
	for _, id := range b.insertOrder {
		rec := b.records[id]
		if rec.Status == OrderStatusPending {
			out = append(out, rec.Order)
		}
	}
	return out
}

