package hash_test

import (
	"testing"

	"github.com/spawn-build/spawn/internal/hash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSumIsStableAndHex(t *testing.T) {
	d1 := hash.Sum([]byte("SELECT 1;\n"))
	d2 := hash.Sum([]byte("SELECT 1;\n"))
	assert.Equal(t, d1, d2)
	assert.Len(t, d1.String(), 32)
	assert.Equal(t, d1.String()[:2], d1.Prefix())

	d3 := hash.Sum([]byte("SELECT 2;\n"))
	assert.NotEqual(t, d1, d3)
}

func TestParseRoundTrip(t *testing.T) {
	d := hash.Sum([]byte("hello"))
	parsed, err := hash.Parse(d.String())
	require.NoError(t, err)
	assert.Equal(t, d, parsed)

	_, err = hash.Parse("zz")
	assert.Error(t, err)
	_, err = hash.Parse("abcd")
	assert.Error(t, err, "too short must be rejected")
}

func TestHasherMatchesSum(t *testing.T) {
	h := hash.NewHasher()
	_, err := h.Write([]byte("SELECT"))
	require.NoError(t, err)
	_, err = h.Write([]byte(" 1;\n"))
	require.NoError(t, err)
	assert.Equal(t, hash.Sum([]byte("SELECT 1;\n")), h.Sum128())
}

func TestZero(t *testing.T) {
	var d hash.Digest
	assert.True(t, d.Zero())
	assert.False(t, hash.Sum(nil).Zero())
}
