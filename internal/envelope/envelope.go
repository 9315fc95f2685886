// Package envelope implements the wire codec for the 99-byte encrypted
// amount envelope (r || C1 || C2), an ElGamal-style triplet on the
// BabyJubJub curve. The codec never decrypts and has no access to keys, and
// never decompresses C1/C2 to check curve membership: it only validates
// shape (exact length, non-zero components) and derives an unlinkable
// fingerprint for the volume estimator.
package envelope

import (
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// Len is the exact wire size of an envelope: r (33B) || C1 (33B) || C2 (33B).
const Len = 99

// componentLen is the size of each of the three sub-slices.
const componentLen = 33

// MaxInputSize is the largest envelope-shaped input accepted from an
// untrusted source before parsing is even attempted (§6 MAX_INPUT_SIZE).
const MaxInputSize = 32 * 1024

// Envelope is the parsed (but still opaque) (r, C1, C2) triplet.
type Envelope struct {
	R  [componentLen]byte
	C1 [componentLen]byte
	C2 [componentLen]byte
}

// ErrTooLarge is returned when the input exceeds MaxInputSize.
var ErrTooLarge = fmt.Errorf("envelope: input exceeds max input size of %d bytes", MaxInputSize)

// ErrWrongLength is returned when the input isn't exactly Len bytes.
var ErrWrongLength = fmt.Errorf("envelope: expected exactly %d bytes", Len)

// ErrZeroComponent is returned when one of r/C1/C2 is all-zero.
var ErrZeroComponent = fmt.Errorf("envelope: zero-valued component")

// Parse parses a byte slice into an Envelope. It returns (Envelope{}, false)
// rather than an error when the input isn't a well-formed envelope — the
// caller is expected to map that to InvalidEnvelope at the API boundary;
// this function never panics on attacker-controlled input.
func Parse(raw []byte) (Envelope, bool) {
	e, err := ParseStrict(raw)
	if err != nil {
		return Envelope{}, false
	}
	return e, true
}

// ParseStrict is like Parse but returns the specific reason for rejection,
// used by callers that want to distinguish "too large" from "malformed" in
// logs without ever logging the envelope's contents. It checks shape and
// non-zero components only — it does not decompress or validate that C1/C2
// decode to a point on the curve (§4.2: "parsing does not require
// decompression").
func ParseStrict(raw []byte) (Envelope, error) {
	if len(raw) > MaxInputSize {
		return Envelope{}, ErrTooLarge
	}
	if len(raw) != Len {
		return Envelope{}, ErrWrongLength
	}

	var e Envelope
	copy(e.R[:], raw[0:componentLen])
	copy(e.C1[:], raw[componentLen:2*componentLen])
	copy(e.C2[:], raw[2*componentLen:3*componentLen])

	if isZero(e.R[:]) || isZero(e.C1[:]) || isZero(e.C2[:]) {
		return Envelope{}, ErrZeroComponent
	}

	return e, nil
}

func isZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// Serialize renders the envelope back to its exact 99-byte wire form.
func (e Envelope) Serialize() []byte {
	out := make([]byte, 0, Len)
	out = append(out, e.R[:]...)
	out = append(out, e.C1[:]...)
	out = append(out, e.C2[:]...)
	return out
}

// FingerprintLen is the length of the unlinkable bucket key derived from an
// envelope.
const FingerprintLen = 8

// Fingerprint derives a short, unlinkable bucket key from the envelope: the
// first 8 bytes of Keccak256 of its wire encoding, the same hashing idiom
// the teacher uses for order admission. It carries no information about
// the plaintext amount.
func (e Envelope) Fingerprint() [FingerprintLen]byte {
	sum := crypto.Keccak256(e.Serialize())
	var out [FingerprintLen]byte
	copy(out[:], sum[:FingerprintLen])
	return out
}

// Zero returns a deterministic "zero" envelope of correct shape, used by the
// settlement packager when the ZK backend that would homomorphically scale
// an envelope to zero is unavailable (§4.8, §9 open question (a)).
func Zero() Envelope {
	var e Envelope
	e.R[0] = 1
	// C1, C2 encode the curve's identity point (x=0, y=1): the last byte of
	// each 32-byte coordinate is 1, which always satisfies the curve
	// equation regardless of the curve's a/d parameters.
	e.C1[componentLen-1] = 1
	e.C2[componentLen-1] = 1
	return e
}
