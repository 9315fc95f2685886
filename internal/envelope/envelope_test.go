package envelope

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWrongLength(t *testing.T) {
	_, ok := Parse(make([]byte, 50))
	assert.False(t, ok)

	_, err := ParseStrict(make([]byte, 100))
	assert.ErrorIs(t, err, ErrWrongLength)
}

func TestParseTooLarge(t *testing.T) {
	_, err := ParseStrict(make([]byte, MaxInputSize+1))
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestParseRejectsZeroComponent(t *testing.T) {
	raw := make([]byte, Len)
	_, err := ParseStrict(raw)
	assert.ErrorIs(t, err, ErrZeroComponent)
}

func TestSerializeRoundTrip(t *testing.T) {
	e := Zero()
	raw := e.Serialize()
	require.Len(t, raw, Len)

	e2, ok := Parse(raw)
	require.True(t, ok)
	assert.True(t, bytes.Equal(e.Serialize(), e2.Serialize()))
}

func TestFingerprintDeterministic(t *testing.T) {
	e := Zero()
	f1 := e.Fingerprint()
	f2 := e.Fingerprint()
	assert.Equal(t, f1, f2)
}

func TestFingerprintLength(t *testing.T) {
	e := Zero()
	assert.Len(t, e.Fingerprint(), FingerprintLen)
}
