package store

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeVector(t *testing.T) {
	s, err := encodeVector([]float32{0.5, -1, 2})
	require.NoError(t, err)
	assert.Equal(t, "[0.5,-1,2]", s)
}

func TestDecodeVector_Blob(t *testing.T) {
	want := []float32{0.25, -3.5, 1}
	raw := make([]byte, len(want)*4)
	for i, f := range want {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(f))
	}

	got, err := decodeVector(raw)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestDecodeVector_JSONFallback(t *testing.T) {
	got, err := decodeVector([]byte("[1,2.5,-0.5]"))
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2.5, -0.5}, got)
}

func TestDecodeVector_Malformed(t *testing.T) {
	_, err := decodeVector(nil)
	assert.Error(t, err)

	// blob length not divisible by float32 width
	_, err = decodeVector([]byte{0x01, 0x02, 0x03})
	assert.Error(t, err)

	_, err = decodeVector([]byte("[1,2,"))
	assert.Error(t, err)
}

func TestStringListRoundTrip(t *testing.T) {
	s, err := encodeStringList([]string{"a", "b"})
	require.NoError(t, err)

	got, err := decodeStringList(s)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestStringList_NilEncodesEmpty(t *testing.T) {
	s, err := encodeStringList(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", s)

	got, err := decodeStringList("")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)

	got, err = decodeStringList("null")
	require.NoError(t, err)
	assert.NotNil(t, got)
}
