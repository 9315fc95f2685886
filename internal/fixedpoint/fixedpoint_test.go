package fixedpoint

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromStringForgiving(t *testing.T) {
	assert.True(t, FromString("").IsZero())
	assert.True(t, FromString("not-a-number").IsZero())
	assert.True(t, FromString("-5").IsZero())
	assert.Equal(t, "5", FromString("5").String())
	assert.Equal(t, "5.25", FromString("5.25").String())
}

func TestAddSaturates(t *testing.T) {
	huge := New(new(big.Int).Set(Max))
	sum := huge.Add(FromInt64(1))
	assert.Equal(t, 0, sum.Cmp(New(Max)))
}

func TestSubFloorsAtZero(t *testing.T) {
	a := FromInt64(3)
	b := FromInt64(5)
	assert.True(t, a.Sub(b).IsZero())
}

func TestMulScalesDown(t *testing.T) {
	a := FromInt64(2)
	b := FromString("0.5")
	assert.Equal(t, "1", a.Mul(b).String())
}

func TestDivByZeroReturnsZero(t *testing.T) {
	a := FromInt64(10)
	result := a.Div(Zero, nil)
	assert.True(t, result.IsZero())
}

func TestDivExact(t *testing.T) {
	a := FromInt64(10)
	b := FromInt64(4)
	assert.Equal(t, "2.5", a.Div(b, nil).String())
}

func TestBytes16RoundTrip(t *testing.T) {
	a := FromString("12345.6789")
	b := a.Bytes16()
	require.Equal(t, a.String(), FromBytes16(b).String())
}

func TestMinMax(t *testing.T) {
	a := FromInt64(3)
	b := FromInt64(7)
	assert.True(t, Min(a, b).Equal(a))
	assert.True(t, Max2(a, b).Equal(b))
	assert.True(t, AbsDiff(a, b).Equal(FromInt64(4)))
}
