// Package fixedpoint implements the saturating, non-negative 128-bit-scale
// fixed-point arithmetic the matching and settlement core is built on.
//
// Scale is 10^18 (canonical on-chain precision). Every operation saturates
// at Max rather than wrapping or panicking — an unexpected panic in the
// allocator would make a batch unsettleable, so the arithmetic here must be
// total.
package fixedpoint

import (
	"math/big"
	"strings"

	"github.com/sirupsen/logrus"
)

// Scale is the fixed-point decimal scale factor, 10^18.
var Scale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// Max is the saturation ceiling, 2^128-1.
var Max = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

// Amount is a non-negative fixed-point value scaled by 10^18. The zero value
// is zero.
type Amount struct {
	v *big.Int
}

// Zero is the additive identity.
var Zero = Amount{v: big.NewInt(0)}

func fromBig(v *big.Int) Amount {
	if v.Sign() < 0 {
		return Zero
	}
	if v.Cmp(Max) > 0 {
		return Amount{v: new(big.Int).Set(Max)}
	}
	return Amount{v: new(big.Int).Set(v)}
}

// New builds an Amount from an integer count of scale units (i.e. already
// multiplied by 10^18).
func New(raw *big.Int) Amount {
	if raw == nil {
		return Zero
	}
	return fromBig(raw)
}

// FromInt64 builds an Amount representing the whole number n (n * 10^18).
func FromInt64(n int64) Amount {
	if n < 0 {
		return Zero
	}
	return fromBig(new(big.Int).Mul(big.NewInt(n), Scale))
}

// FromString parses a decimal string ("123.456") into an Amount. Parsing is
// forgiving: non-numeric or empty input returns Zero rather than an error,
// matching §4.1's "conversion from decimal strings is forgiving" contract.
func FromString(s string) Amount {
	s = strings.TrimSpace(s)
	if s == "" {
		return Zero
	}
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	intPart := s
	fracPart := ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart = s[:i]
		fracPart = s[i+1:]
	}
	if intPart == "" {
		intPart = "0"
	}
	for len(fracPart) < 18 {
		fracPart += "0"
	}
	fracPart = fracPart[:18]

	combined := intPart + fracPart
	v, ok := new(big.Int).SetString(combined, 10)
	if !ok {
		return Zero
	}
	if neg {
		// amounts are non-negative; a negative literal is treated as invalid input
		return Zero
	}
	return fromBig(v)
}

// Raw returns the underlying scaled integer (read-only; callers must not
// mutate the returned value).
func (a Amount) Raw() *big.Int {
	if a.v == nil {
		return big.NewInt(0)
	}
	return a.v
}

// String renders the amount as a decimal string with up to 18 fractional
// digits, trailing zeros trimmed.
func (a Amount) String() string {
	v := a.Raw()
	s := v.String()
	for len(s) <= 18 {
		s = "0" + s
	}
	intPart := s[:len(s)-18]
	fracPart := strings.TrimRight(s[len(s)-18:], "0")
	if fracPart == "" {
		return intPart
	}
	return intPart + "." + fracPart
}

// IsZero reports whether the amount is zero.
func (a Amount) IsZero() bool { return a.Raw().Sign() == 0 }

// Add returns a+b, saturating at Max.
func (a Amount) Add(b Amount) Amount {
	return fromBig(new(big.Int).Add(a.Raw(), b.Raw()))
}

// Sub returns a-b, floored at zero (amounts never go negative).
func (a Amount) Sub(b Amount) Amount {
	return fromBig(new(big.Int).Sub(a.Raw(), b.Raw()))
}

// Mul returns a*b scaled back down by 10^18, saturating at Max.
func (a Amount) Mul(b Amount) Amount {
	prod := new(big.Int).Mul(a.Raw(), b.Raw())
	prod.Quo(prod, Scale)
	return fromBig(prod)
}

// Div returns a/b scaled by 10^18. Division by zero returns Zero with a
// logged warning — it is never correct for a caller to rely on this value,
// it exists only so the core stays total.
func (a Amount) Div(b Amount, logger *logrus.Logger) Amount {
	if b.IsZero() {
		if logger != nil {
			logger.WithField("dividend", a.String()).Warn("fixedpoint: division by zero, returning 0")
		}
		return Zero
	}
	num := new(big.Int).Mul(a.Raw(), Scale)
	num.Quo(num, b.Raw())
	return fromBig(num)
}

// Min returns the smaller of a, b.
func Min(a, b Amount) Amount {
	if a.Raw().Cmp(b.Raw()) <= 0 {
		return a
	}
	return b
}

// Max2 returns the larger of a, b.
func Max2(a, b Amount) Amount {
	if a.Raw().Cmp(b.Raw()) >= 0 {
		return a
	}
	return b
}

// Cmp returns -1, 0, +1 per big.Int.Cmp semantics.
func (a Amount) Cmp(b Amount) int { return a.Raw().Cmp(b.Raw()) }

// GreaterThan reports a > b.
func (a Amount) GreaterThan(b Amount) bool { return a.Cmp(b) > 0 }

// GreaterThanOrEqual reports a >= b.
func (a Amount) GreaterThanOrEqual(b Amount) bool { return a.Cmp(b) >= 0 }

// LessThan reports a < b.
func (a Amount) LessThan(b Amount) bool { return a.Cmp(b) < 0 }

// LessThanOrEqual reports a <= b.
func (a Amount) LessThanOrEqual(b Amount) bool { return a.Cmp(b) <= 0 }

// Equal reports a == b.
func (a Amount) Equal(b Amount) bool { return a.Cmp(b) == 0 }

// AbsDiff returns |a-b|.
func AbsDiff(a, b Amount) Amount {
	if a.GreaterThanOrEqual(b) {
		return a.Sub(b)
	}
	return b.Sub(a)
}

// Bytes16 renders the amount as a 16-byte big-endian wire value, per §6's
// "Price / amount: 128-bit unsigned fixed-point ... big-endian on wire".
func (a Amount) Bytes16() [16]byte {
	var out [16]byte
	b := a.Raw().Bytes()
	if len(b) > 16 {
		b = b[len(b)-16:]
	}
	copy(out[16-len(b):], b)
	return out
}

// FromBytes16 parses a 16-byte big-endian wire value back into an Amount.
func FromBytes16(b [16]byte) Amount {
	return New(new(big.Int).SetBytes(b[:]))
}
