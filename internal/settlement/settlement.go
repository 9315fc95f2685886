// Package settlement assembles the Settlement artifact a batch produces at
// close (§4.8) and implements its wire encoding (§6). It is the only
// package that talks to the ZK backend's ProveSettlement/ScaleEnvelope
// pair — the solver and allocator never see it.
package settlement

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/batchdex/solver/internal/allocator"
	"github.com/batchdex/solver/internal/domain"
	"github.com/batchdex/solver/internal/envelope"
	"github.com/batchdex/solver/internal/external"
	"github.com/batchdex/solver/internal/fixedpoint"
	"github.com/batchdex/solver/internal/orderbook"
	"github.com/batchdex/solver/internal/volume"
)

// MaxProofSize is MAX_PROOF_SIZE (§6).
const MaxProofSize = 32 * 1024

// ProofPlaceholderSize is the size of the deterministic placeholder
// substituted when the ZK backend's proof is unavailable or oversize.
const ProofPlaceholderSize = 1024

// Settlement is the artifact a batch produces on settle (or on abort, in
// which case Fills is empty and Reason explains why).
type Settlement struct {
	ClearingPrice      fixedpoint.Amount
	Fills              []domain.FillEntry
	ProofBlob          []byte
	ProofInvalid       bool
	TotalMatchedVolume fixedpoint.Amount
	Aborted            bool
	Reason             string
}

// Aborted builds the Settlement recorded when a batch could not settle.
func Aborted(reason string) Settlement {
	return Settlement{
		ClearingPrice:      fixedpoint.Zero,
		TotalMatchedVolume: fixedpoint.Zero,
		Aborted:            true,
		Reason:             reason,
	}
}

// Package builds the Settlement for a viable clearing price: it asks the
// ZK backend to homomorphically scale every matched order's envelope to
// its fill amount, then to prove the settlement as a whole. Both calls
// degrade gracefully per §4.8/§9(a) rather than failing the settlement.
func Package(ctx context.Context, snap orderbook.Snapshot, est volume.Result, fills []allocator.Fill, clearingPrice, executedVolume fixedpoint.Amount, zk external.ZKBackend, logger *logrus.Logger) Settlement {
	orderByID := indexOrders(snap)

	var entries []domain.FillEntry
	for _, f := range fills {
		if f.Amount.IsZero() {
			continue
		}
		o, ok := orderByID[f.OrderID]
		if !ok {
			continue
		}
		amt := est.PerOrder[f.OrderID]
		scaled := scaleEnvelope(ctx, zk, o.EnvelopeBytes, f.Amount, amt, logger)
		entries = append(entries, domain.FillEntry{OrderID: f.OrderID, Envelope: scaled})
	}

	matchedIDs := make([][32]byte, len(entries))
	fillEnvelopes := make([][]byte, len(entries))
	for i, e := range entries {
		matchedIDs[i] = e.OrderID
		fillEnvelopes[i] = e.Envelope
	}

	priceBytes := clearingPrice.Bytes16()
	proof, proofInvalid := prove(ctx, zk, priceBytes[:], matchedIDs, fillEnvelopes, logger)

	return Settlement{
		ClearingPrice:      clearingPrice,
		Fills:              entries,
		ProofBlob:          proof,
		ProofInvalid:       proofInvalid,
		TotalMatchedVolume: executedVolume,
	}
}

func indexOrders(snap orderbook.Snapshot) map[domain.OrderID]domain.Order {
	idx := make(map[domain.OrderID]domain.Order, snap.TotalOrders())
	for _, o := range snap.Buys {
		idx[o.ID] = o
	}
	for _, o := range snap.Sells {
		idx[o.ID] = o
	}
	return idx
}

func scaleEnvelope(ctx context.Context, zk external.ZKBackend, env []byte, fill, amount fixedpoint.Amount, logger *logrus.Logger) []byte {
	if zk == nil || amount.IsZero() {
		return envelope.Zero().Serialize()
	}
	num := fill.Bytes16()
	den := amount.Bytes16()
	scaled, err := zk.ScaleEnvelope(ctx, env, num[:], den[:])
	if err != nil {
		if logger != nil {
			logger.WithError(err).Warn("settlement: zk backend unavailable for scale_envelope, emitting zero envelope")
		}
		return envelope.Zero().Serialize()
	}
	return scaled
}

func prove(ctx context.Context, zk external.ZKBackend, priceBytes []byte, matchedIDs [][32]byte, fillEnvelopes [][]byte, logger *logrus.Logger) ([]byte, bool) {
	if zk == nil {
		return placeholder(), true
	}
	proof, err := zk.ProveSettlement(ctx, priceBytes, matchedIDs, fillEnvelopes)
	if err != nil {
		if logger != nil {
			logger.WithError(err).Warn("settlement: zk backend unavailable for prove_settlement, using placeholder")
		}
		return placeholder(), true
	}
	if len(proof) > MaxProofSize {
		if logger != nil {
			logger.WithField("size", len(proof)).Warn("settlement: proof exceeds max size, using placeholder")
		}
		return placeholder(), true
	}
	return proof, false
}

func placeholder() []byte {
	out := make([]byte, ProofPlaceholderSize)
	for i := range out {
		out[i] = 0xAA
	}
	return out
}

// ErrTooShort is returned by Decode when raw is shorter than the fixed
// header.
var ErrTooShort = fmt.Errorf("settlement: input shorter than fixed header")

// ErrTruncated is returned by Decode when a length-prefixed section runs
// past the end of the input.
var ErrTruncated = fmt.Errorf("settlement: input truncated mid-section")

// Encode renders the settlement to its exact wire form (§6):
// clearing_price (16B) || n_fills (u32 BE) || [order_id (32B) || fill_envelope (99B)]×n || proof_len (u32 BE) || proof_bytes.
func (s Settlement) Encode() []byte {
	price := s.ClearingPrice.Bytes16()
	out := make([]byte, 0, 16+4+len(s.Fills)*(32+envelope.Len)+4+len(s.ProofBlob))
	out = append(out, price[:]...)

	var nFills [4]byte
	binary.BigEndian.PutUint32(nFills[:], uint32(len(s.Fills)))
	out = append(out, nFills[:]...)

	for _, f := range s.Fills {
		out = append(out, f.OrderID[:]...)
		out = append(out, f.Envelope...)
	}

	var proofLen [4]byte
	binary.BigEndian.PutUint32(proofLen[:], uint32(len(s.ProofBlob)))
	out = append(out, proofLen[:]...)
	out = append(out, s.ProofBlob...)
	return out
}

// Decode parses a Settlement from its wire form, the exact inverse of
// Encode.
func Decode(raw []byte) (Settlement, error) {
	if len(raw) < 16+4 {
		return Settlement{}, ErrTooShort
	}

	var s Settlement
	var priceBytes [16]byte
	copy(priceBytes[:], raw[:16])
	s.ClearingPrice = fixedpoint.FromBytes16(priceBytes)

	offset := 16
	nFills := binary.BigEndian.Uint32(raw[offset : offset+4])
	offset += 4

	for i := uint32(0); i < nFills; i++ {
		if offset+32+envelope.Len > len(raw) {
			return Settlement{}, ErrTruncated
		}
		var oid domain.OrderID
		copy(oid[:], raw[offset:offset+32])
		offset += 32

		env := make([]byte, envelope.Len)
		copy(env, raw[offset:offset+envelope.Len])
		offset += envelope.Len

		s.Fills = append(s.Fills, domain.FillEntry{OrderID: oid, Envelope: env})
	}

	if offset+4 > len(raw) {
		return Settlement{}, ErrTruncated
	}
	proofLen := binary.BigEndian.Uint32(raw[offset : offset+4])
	offset += 4
	if offset+int(proofLen) > len(raw) {
		return Settlement{}, ErrTruncated
	}
	s.ProofBlob = append([]byte(nil), raw[offset:offset+int(proofLen)]...)

	return s, nil
}
