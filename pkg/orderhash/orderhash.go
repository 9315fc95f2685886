// Package orderhash derives the 32-byte order id assigned at admission
// (§6 "Order id: 32 bytes"). It keeps the teacher's Keccak256-over-packed-
// fields idiom but drops everything EIP-712/ECDSA related — this solver
// never verifies wallet signatures, it only needs a collision-resistant,
// deterministic identifier for a freshly admitted order.
package orderhash

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/batchdex/solver/internal/domain"
)

// Derive hashes the fields that make an order admission unique: the pair,
// trader, side, public price, envelope bytes, and the admission timestamp
// (nanoseconds since epoch) that the batch state machine stamps on
// submission. Two submissions can only collide if every one of those
// fields matches exactly, including the monotonically-observed admission
// time.
func Derive(pairID string, trader domain.TraderID, side domain.Side, publicPriceBytes [16]byte, envelopeBytes []byte, submittedAtUnixNano int64) domain.OrderID {
	var data []byte
	data = append(data, []byte(pairID)...)
	data = append(data, trader[:]...)
	data = append(data, byte(side))
	data = append(data, publicPriceBytes[:]...)
	data = append(data, envelopeBytes...)

	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], uint64(submittedAtUnixNano))
	data = append(data, tsBuf[:]...)

	hash := crypto.Keccak256Hash(data)
	var id domain.OrderID
	copy(id[:], hash.Bytes())
	return id
}

// TraderFromAddress converts a go-ethereum common.Address to a TraderID.
// Both are 20 bytes; this exists so callers at the API boundary don't need
// to know the domain package's internal representation.
func TraderFromAddress(addr common.Address) domain.TraderID {
	var t domain.TraderID
	copy(t[:], addr.Bytes())
	return t
}
