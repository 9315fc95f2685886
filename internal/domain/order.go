// Package domain holds the entities shared by the matching core: orders,
// sides, and the fill records settlement produces from them. It has no
// behavior of its own beyond small, obviously-correct helpers — the actual
// matching logic lives in orderbook, solver, allocator and batch.
package domain

import (
	"time"

	"github.com/batchdex/solver/internal/fixedpoint"
)

// OrderID is the admission-assigned identifier for an order, 32 bytes on
// the wire (§6).
type OrderID [32]byte

// TraderID identifies the submitting account. It reuses the 20-byte EVM
// address shape the settlement contract already speaks.
type TraderID [20]byte

// Side is which side of the book an order rests on.
type Side uint8

const (
	// SideBuy is a bid.
	SideBuy Side = iota
	// SideSell is an ask.
	SideSell
)

func (s Side) String() string {
	if s == SideBuy {
		return "buy"
	}
	return "sell"
}

// Order is an admitted order: its amount is only ever visible as an
// envelope, never as plaintext. PublicPrice is the one value the solver is
// allowed to see in the clear (§1: prices are public, amounts are not).
type Order struct {
	ID          OrderID
	PairID      string
	Trader      TraderID
	Side        Side
	PublicPrice fixedpoint.Amount
	// EnvelopeBytes is the raw 99-byte wire envelope. It is re-parsed by
	// every consumer that needs it rather than cached as a parsed value, so
	// a corrupt envelope degrades gracefully (contributes zero) wherever it
	// is used instead of only at admission time.
	EnvelopeBytes []byte
	SubmittedAt   time.Time
}

// FillEntry pairs an order with the (possibly re-encrypted) envelope the ZK
// backend produced for its fill, as written into a Settlement (§4.8, §6).
type FillEntry struct {
	OrderID  OrderID
	Envelope []byte
}
