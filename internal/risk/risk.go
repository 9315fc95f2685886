// Package risk implements the admission throttle that sits in front of
// the batch engine's submit_order and cancel_order operations: a per-
// trader rate limit plus a blacklist, both backed by Redis. It is
// deliberately independent of batch's own validation (duplicate id,
// envelope shape, phase) — this is an outer layer that can reject a
// trader before their order is even looked at.
package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/batchdex/solver/internal/storage"
)

// Config tunes the throttle. Defaults mirror the teacher's rate-limit
// shape (counts per rolling window) but drop every field tied to
// plaintext order amount or balance, since this solver never sees either.
type Config struct {
	OrderRateLimit  int           // max submit_order calls per RateLimitWindow
	CancelRateLimit int           // max cancel_order calls per RateLimitWindow
	RateLimitWindow time.Duration

	AutoBlacklistThreshold int           // rejections within RateLimitWindow that trigger auto-blacklisting
	BlacklistDuration      time.Duration
}

// DefaultConfig returns reasonable defaults for a single solver instance.
func DefaultConfig() Config {
	return Config{
		OrderRateLimit:         20,
		CancelRateLimit:        20,
		RateLimitWindow:        time.Minute,
		AutoBlacklistThreshold: 10,
		BlacklistDuration:      15 * time.Minute,
	}
}

// CheckResult mirrors the teacher's RiskCheckResult shape: a boolean verdict
// plus a machine-readable code for the rejection reason.
type CheckResult struct {
	Allowed bool
	Code    string
	Reason  string
}

func allow() CheckResult { return CheckResult{Allowed: true} }

func deny(code, reason string) CheckResult {
	return CheckResult{Allowed: false, Code: code, Reason: reason}
}

// Throttle is the admission gate. It tracks nothing in process memory
// beyond a logger and config — all mutable state lives in Redis so a
// solver can be load-balanced across processes.
type Throttle struct {
	cache  *storage.RedisCache
	config Config
	logger *logrus.Logger

	// rejectionPrefix namespaces the per-trader admission-rejection
	// counters used to trigger auto-blacklisting. The counters live in Redis
	// via the same cache so they survive process restarts.
	rejectionPrefix string
}

// NewThrottle builds a Throttle backed by cache.
func NewThrottle(cache *storage.RedisCache, config Config, logger *logrus.Logger) *Throttle {
	if logger == nil {
		logger = logrus.New()
	}
	return &Throttle{cache: cache, config: config, logger: logger, rejectionPrefix: "rejections"}
}

// CheckSubmit gates a submit_order call for trader.
func (t *Throttle) CheckSubmit(ctx context.Context, trader string) CheckResult {
	return t.check(ctx, trader, "order", t.config.OrderRateLimit)
}

// CheckCancel gates a cancel_order call for trader.
func (t *Throttle) CheckCancel(ctx context.Context, trader string) CheckResult {
	return t.check(ctx, trader, "cancel", t.config.CancelRateLimit)
}

func (t *Throttle) check(ctx context.Context, trader, action string, limit int) CheckResult {
	blacklisted, err := t.cache.IsBlacklisted(ctx, trader)
	if err != nil {
		t.logger.WithError(err).WithField("trader", trader).Warn("risk: blacklist lookup failed, failing open")
	} else if blacklisted {
		return deny("BLACKLISTED", "trader is currently blacklisted")
	}

	allowed, err := t.cache.RateLimitCheck(ctx, trader, action, limit, t.config.RateLimitWindow)
	if err != nil {
		t.logger.WithError(err).WithField("trader", trader).Warn("risk: rate limit check failed, failing open")
		return allow()
	}
	if !allowed {
		return deny("RATE_LIMITED", fmt.Sprintf("more than %d %s calls in %s", limit, action, t.config.RateLimitWindow))
	}
	return allow()
}

// RecordRejection notes that trader was rejected at the batch layer (e.g.
// InvalidEnvelope, DuplicateId) and auto-blacklists them once rejections
// cross the configured threshold within the rate-limit window.
func (t *Throttle) RecordRejection(ctx context.Context, trader string) {
	count, err := t.cache.Increment(ctx, rejectionKey(trader, t.rejectionPrefix), t.config.RateLimitWindow)
	if err != nil {
		t.logger.WithError(err).WithField("trader", trader).Warn("risk: failed to record rejection")
		return
	}

	if count < int64(t.config.AutoBlacklistThreshold) {
		return
	}

	reason := fmt.Sprintf("auto-blacklisted after %d rejections in %s", count, t.config.RateLimitWindow)
	if err := t.cache.AddToBlacklist(ctx, trader, reason, t.config.BlacklistDuration); err != nil {
		t.logger.WithError(err).WithField("trader", trader).Warn("risk: failed to auto-blacklist trader")
		return
	}
	t.logger.WithFields(logrus.Fields{
		"trader": trader,
		"count":  count,
	}).Warn("risk: auto-blacklisted trader after repeated rejections")
}

func rejectionKey(trader, prefix string) string {
	return fmt.Sprintf("%s:%s", prefix, trader)
}
