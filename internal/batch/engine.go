package batch

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/batchdex/solver/internal/allocator"
	"github.com/batchdex/solver/internal/domain"
	"github.com/batchdex/solver/internal/envelope"
	"github.com/batchdex/solver/internal/external"
	"github.com/batchdex/solver/internal/fixedpoint"
	"github.com/batchdex/solver/internal/orderbook"
	"github.com/batchdex/solver/internal/settlement"
	"github.com/batchdex/solver/internal/solver"
	"github.com/batchdex/solver/internal/volume"
	"github.com/batchdex/solver/pkg/orderhash"
)

// Engine owns every live batch and is the one entry point the service
// layer drives (§6's exposed API). It plays the role the teacher's
// MatchingEngine plays for a single trading pair's order book, generalized
// to own many independent batches.
type Engine struct {
	mu        sync.RWMutex
	batches   map[uuid.UUID]*Batch
	estimator *volume.Estimator
	clock     external.Clock
	zk        external.ZKBackend
	logger    *logrus.Logger
}

// NewEngine builds an Engine wired to its external collaborators.
func NewEngine(clock external.Clock, zk external.ZKBackend, logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	return &Engine{
		batches:   make(map[uuid.UUID]*Batch),
		estimator: volume.NewEstimator(logger),
		clock:     clock,
		zk:        zk,
		logger:    logger,
	}
}

// BeginBatch opens a new batch for pairID, lasting durationSeconds.
func (e *Engine) BeginBatch(pairID string, durationSeconds int64) (uuid.UUID, *Error) {
	dur := durationSeconds
	if dur < int64(MinDuration.Seconds()) || dur > int64(MaxDuration.Seconds()) {
		return uuid.Nil, newErr(ErrInvalidDuration, "duration_seconds %d outside [%d, %d]", durationSeconds, int64(MinDuration.Seconds()), int64(MaxDuration.Seconds()))
	}

	now := e.clock.Now()
	b := newBatch(pairID, now.Add(time.Duration(dur)*time.Second))
	b.createdAt = now

	e.mu.Lock()
	e.batches[b.ID] = b
	e.mu.Unlock()

	e.logger.WithFields(logrus.Fields{
		"batch_id": b.ID,
		"pair_id":  pairID,
		"deadline": b.Deadline,
	}).Info("batch: opened")

	return b.ID, nil
}

// SubmitOrder validates and admits an order into an Open batch, assigning
// it a fresh id.
func (e *Engine) SubmitOrder(batchID uuid.UUID, trader domain.TraderID, side domain.Side, publicPrice fixedpoint.Amount, envelopeBytes []byte) (domain.OrderID, *Error) {
	b, err := e.find(batchID)
	if err != nil {
		return domain.OrderID{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.Phase != PhaseOpen {
		return domain.OrderID{}, newErr(ErrBatchClosed, "batch %s is not open", batchID)
	}
	now := e.clock.Now()
	if now.After(b.Deadline) {
		return domain.OrderID{}, newErr(ErrBatchClosed, "batch %s deadline has passed", batchID)
	}
	if len(b.records) >= orderbook.MaxOrdersPerBatch {
		return domain.OrderID{}, newErr(ErrBatchFull, "batch %s is full", batchID)
	}

	if _, ok := envelope.ParseStrict(envelopeBytes); ok != nil {
		return domain.OrderID{}, newErr(ErrInvalidEnvelope, "%v", ok)
	}

	priceBytes := publicPrice.Bytes16()
	id := orderhash.Derive(b.PairID, trader, side, priceBytes, envelopeBytes, now.UnixNano())
	if _, exists := b.records[id]; exists {
		return domain.OrderID{}, newErr(ErrDuplicateID, "order id %x already admitted", id)
	}

	order := domain.Order{
		ID:            id,
		PairID:        b.PairID,
		Trader:        trader,
		Side:          side,
		PublicPrice:   publicPrice,
		EnvelopeBytes: envelopeBytes,
		SubmittedAt:   now,
	}
	b.records[id] = &record{Order: order, Status: OrderStatusPending}
	b.insertOrder = append(b.insertOrder, id)

	return id, nil
}

// CancelOrder cancels a Pending order in an Open batch, on behalf of the
// trader that created it.
func (e *Engine) CancelOrder(batchID uuid.UUID, orderID domain.OrderID, trader domain.TraderID) *Error {
	b, err := e.find(batchID)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.Phase != PhaseOpen {
		return newErr(ErrWrongPhase, "batch %s is not open", batchID)
	}
	rec, ok := b.records[orderID]
	if !ok {
		return newErr(ErrNotFound, "order %x not found", orderID)
	}
	if rec.Order.Trader != trader {
		return newErr(ErrNotOwner, "order %x not owned by trader", orderID)
	}
	if rec.Status != OrderStatusPending {
		return newErr(ErrWrongPhase, "order %x is not pending", orderID)
	}

	rec.Status = OrderStatusCancelled
	return nil
}

// EstimateVolume returns the current bucketed volume estimate for a
// batch's still-pending orders.
func (e *Engine) EstimateVolume(batchID uuid.UUID) (volume.Result, *Error) {
	b, err := e.find(batchID)
	if err != nil {
		return volume.Result{}, err
	}
	return e.estimator.Estimate(b.pendingOrders()), nil
}

// CloseBatch transitions an Open batch to Closing. It is idempotent while
// still Open or Closing; closing a terminal batch is an error.
func (e *Engine) CloseBatch(batchID uuid.UUID) *Error {
	b, err := e.find(batchID)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.Phase {
	case PhaseOpen:
		b.Phase = PhaseClosing
		e.logger.WithField("batch_id", batchID).Info("batch: closed")
		return nil
	case PhaseClosing:
		return nil
	default:
		return newErr(ErrAlreadyClosed, "batch %s already %s", batchID, b.Phase)
	}
}

// SettleBatch runs §4.4→§4.5→§4.6→§4.8 over a Closing batch and records
// the resulting Settlement. Re-invocation after Settled/Aborted returns
// the stored Settlement without recomputing anything (§4.7 idempotence).
func (e *Engine) SettleBatch(ctx context.Context, batchID uuid.UUID) (settlement.Settlement, *Error) {
	b, err := e.find(batchID)
	if err != nil {
		return settlement.Settlement{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.Phase == PhaseSettled || b.Phase == PhaseAborted {
		return *b.settlement, nil
	}
	if b.Phase != PhaseClosing {
		return settlement.Settlement{}, newErr(ErrNotClosed, "batch %s is not closing", batchID)
	}

	pending := make([]domain.Order, 0, len(b.insertOrder))
	for _, id := range b.insertOrder {
		rec := b.records[id]
		if rec.Status == OrderStatusPending {
			pending = append(pending, rec.Order)
		}
	}

	snap := orderbook.Build(b.PairID, pending, e.logger)
	est := e.estimator.Estimate(pending)

	solved := solver.Solve(snap, est, e.logger)
	if !solved.Viable {
		final := settlement.Aborted(string(solved.Reason))
		b.settlement = &final
		b.Phase = PhaseAborted
		e.logger.WithFields(logrus.Fields{"batch_id": batchID, "reason": solved.Reason}).Warn("batch: aborted, no viable clearing price")
		return final, nil
	}

	allocated := allocator.Allocate(snap, est, solved.Price, e.logger)
	if allocated.Aborted {
		final := settlement.Aborted(allocated.Reason)
		b.settlement = &final
		b.Phase = PhaseAborted
		e.logger.WithFields(logrus.Fields{"batch_id": batchID, "reason": allocated.Reason}).Warn("batch: aborted during allocation")
		return final, nil
	}

	packaged := settlement.Package(ctx, snap, est, allocated.Fills, solved.Price, allocated.Executed, e.zk, e.logger)
	for _, f := range allocated.Fills {
		if !f.Amount.IsZero() {
			if rec, ok := b.records[f.OrderID]; ok {
				rec.Status = OrderStatusMatched
			}
		}
	}
	b.settlement = &packaged
	b.Phase = PhaseSettled
	e.logger.WithFields(logrus.Fields{
		"batch_id":       batchID,
		"clearing_price": packaged.ClearingPrice.String(),
		"matched_fills":  len(packaged.Fills),
	}).Info("batch: settled")

	return packaged, nil
}

// GetBatch returns a read-only view of a batch.
func (e *Engine) GetBatch(batchID uuid.UUID) (View, *Error) {
	b, err := e.find(batchID)
	if err != nil {
		return View{}, err
	}
	return b.View(), nil
}

func (e *Engine) find(batchID uuid.UUID) (*Batch, *Error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	b, ok := e.batches[batchID]
	if !ok {
		return nil, newErr(ErrNotFound, "batch %s not found", batchID)
	}
	return b, nil
}
