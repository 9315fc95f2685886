// Package volume estimates traded volume from encrypted order amounts
// without ever decrypting them (§4.3). Each order's envelope is hashed into
// one of a fixed number of buckets, each bucket carries a representative
// weight, and the per-order contribution is rounded to a coarse ladder
// before being summed — so the output reveals an aggregate shape, never an
// individual amount.
package volume

import (
	"encoding/binary"
	"math/big"

	"github.com/sirupsen/logrus"

	"github.com/batchdex/solver/internal/domain"
	"github.com/batchdex/solver/internal/envelope"
	"github.com/batchdex/solver/internal/fixedpoint"
)

// DefaultBuckets is VOLUME_BUCKETS from §4.3.
const DefaultBuckets = 16

// Estimator derives volume estimates from envelopes. It holds no order
// data itself; every call is a pure function of the orders passed in.
type Estimator struct {
	Buckets  int
	BaseUnit fixedpoint.Amount
	Logger   *logrus.Logger
}

// NewEstimator builds an Estimator with the default bucket count and a
// representative weight of one unit per bucket.
func NewEstimator(logger *logrus.Logger) *Estimator {
	return &Estimator{
		Buckets:  DefaultBuckets,
		BaseUnit: fixedpoint.FromInt64(1),
		Logger:   logger,
	}
}

// PriceLevelEstimate is the estimated contribution of every order resting
// at a single public price.
type PriceLevelEstimate struct {
	Price    fixedpoint.Amount
	Estimate fixedpoint.Amount
}

// Result is the output of Estimate: a grand total and a per-price-level
// breakdown, plus the per-order contribution used to build both (exposed so
// callers like the solver don't need to re-derive it).
type Result struct {
	Total         fixedpoint.Amount
	PerOrder      map[domain.OrderID]fixedpoint.Amount
	PerPriceLevel []PriceLevelEstimate
}

// Estimate computes the bucketed, ladder-rounded volume estimate for a set
// of orders, assumed already in the batch's insertion order. Total and
// PerOrder do not depend on input order (each order's contribution is
// independent of the others); PerPriceLevel lists price levels in the order
// they first appear in the input.
func (e *Estimator) Estimate(orders []domain.Order) Result {
	buckets := e.Buckets
	if buckets <= 0 {
		buckets = DefaultBuckets
	}

	perOrder := make(map[domain.OrderID]fixedpoint.Amount, len(orders))
	levelTotal := make(map[string]fixedpoint.Amount)
	levelPrice := make(map[string]fixedpoint.Amount)
	var levelOrder []string

	total := fixedpoint.Zero
	for _, o := range orders {
		amt := e.estimateOrder(o, buckets)
		perOrder[o.ID] = amt
		total = total.Add(amt)

		key := o.PublicPrice.String()
		if _, seen := levelTotal[key]; !seen {
			levelTotal[key] = fixedpoint.Zero
			levelPrice[key] = o.PublicPrice
			levelOrder = append(levelOrder, key)
		}
		levelTotal[key] = levelTotal[key].Add(amt)
	}

	perLevel := make([]PriceLevelEstimate, 0, len(levelOrder))
	for _, key := range levelOrder {
		perLevel = append(perLevel, PriceLevelEstimate{
			Price:    levelPrice[key],
			Estimate: levelTotal[key],
		})
	}

	return Result{Total: total, PerOrder: perOrder, PerPriceLevel: perLevel}
}

func (e *Estimator) estimateOrder(o domain.Order, buckets int) fixedpoint.Amount {
	env, err := envelope.ParseStrict(o.EnvelopeBytes)
	if err != nil {
		if e.Logger != nil {
			e.Logger.WithFields(logrus.Fields{
				"order_id": o.ID,
				"error":    err,
			}).Warn("volume: invalid envelope contributes zero")
		}
		return fixedpoint.Zero
	}

	fp := env.Fingerprint()
	idx := bucketIndex(fp, buckets)
	weight := e.weightForBucket(idx)
	return RoundToLadder(weight)
}

func bucketIndex(fp [envelope.FingerprintLen]byte, buckets int) int {
	n := binary.BigEndian.Uint64(fp[:])
	return int(n % uint64(buckets))
}

// weightForBucket returns the representative weight assigned to a hash
// bucket. The default policy is a flat weight for every bucket: bucket
// membership exists to decorrelate which envelopes land together, not to
// encode a weight distribution.
func (e *Estimator) weightForBucket(_ int) fixedpoint.Amount {
	base := e.BaseUnit
	if base.IsZero() {
		base = fixedpoint.FromInt64(1)
	}
	return base
}

// ladderDepth bounds how many powers of ten RoundToLadder will consider.
// 40 covers the full saturating range (Max is on the order of 10^20 whole
// units), with room to spare.
const ladderDepth = 40

// RoundToLadder rounds amt to the nearest value in the rounding ladder
// {0, 1, 10, 100, 1000, ...}, comparing whole units (the fractional part is
// irrelevant at this resolution). Exported so the solver and tests can
// reason about the exact rounding an estimate went through.
func RoundToLadder(amt fixedpoint.Amount) fixedpoint.Amount {
	units := new(big.Int).Quo(amt.Raw(), fixedpoint.Scale)
	if units.Sign() <= 0 {
		return fixedpoint.Zero
	}

	best := big.NewInt(0)
	bestDiff := new(big.Int).Set(units)
	rung := big.NewInt(1)
	ten := big.NewInt(10)

	for i := 0; i < ladderDepth; i++ {
		diff := new(big.Int).Sub(units, rung)
		diff.Abs(diff)
		if diff.Cmp(bestDiff) < 0 {
			bestDiff = diff
			best = new(big.Int).Set(rung)
		}
		rung = new(big.Int).Mul(rung, ten)
	}

	return fixedpoint.New(new(big.Int).Mul(best, fixedpoint.Scale))
}
