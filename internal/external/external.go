// Package external declares the narrow capability interfaces the core
// consumes from its environment (§6): a clock and a ZK backend. Expressing
// them as small interfaces rather than concrete clients lets the core stay
// synchronous and lets tests substitute deterministic doubles (§9 "dynamic
// dispatch across adapters").
package external

import (
	"context"
	"time"
)

// CallTimeout bounds every external call the core makes (§5
// EXTERNAL_CALL_TIMEOUT). Callers are expected to derive a context with
// this timeout before invoking a collaborator.
const CallTimeout = 10 * time.Second

// Clock reports the current time. The production implementation reads the
// chain's block timestamp; tests use a fixed or steppable fake.
type Clock interface {
	Now() time.Time
}

// ZKBackend is the two-operation trait the settlement packager drives
// (§4.8, §6). Both operations are opaque from the core's perspective — it
// never inspects what they compute, only whether they succeeded and
// whether the result respects its size bound.
type ZKBackend interface {
	// ScaleEnvelope homomorphically scales an encrypted amount by
	// numerator/denominator without decrypting it.
	ScaleEnvelope(ctx context.Context, envelope []byte, numerator, denominator []byte) ([]byte, error)
	// ProveSettlement produces an opaque proof blob for a settlement. The
	// caller enforces the MaxProofSize bound; the backend is not trusted to.
	ProveSettlement(ctx context.Context, clearingPrice []byte, matchedIDs [][32]byte, fillEnvelopes [][]byte) ([]byte, error)
}

// WithTimeout derives a context bounded by CallTimeout. ChainClock.Now uses
// it; HTTPZKBackend bounds its requests through its http.Client timeout
// (also CallTimeout) instead.
func WithTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, CallTimeout)
}
