package objtree_test

import (
	"testing"

	"github.com/spawn-build/spawn/internal/hash"
	"github.com/spawn-build/spawn/internal/objtree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tree, err := objtree.Build(map[string]hash.Digest{
		"b/nested.sql": hash.Sum([]byte("two")),
		"a.sql":        hash.Sum([]byte("one")),
	})
	require.NoError(t, err)

	encoded := objtree.Encode(tree)
	decoded, err := objtree.Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, tree, decoded)

	// Entries come back sorted byte-wise by path.
	assert.Equal(t, []string{"a.sql", "b/nested.sql"}, decoded.Paths())
}

func TestDigestIsHashOfEncoding(t *testing.T) {
	tree, err := objtree.Build(map[string]hash.Digest{"a.sql": hash.Sum([]byte("x"))})
	require.NoError(t, err)
	assert.Equal(t, hash.Sum(objtree.Encode(tree)), objtree.Digest(tree))
}

func TestEmptyTree(t *testing.T) {
	tree, err := objtree.Build(nil)
	require.NoError(t, err)
	assert.Empty(t, objtree.Encode(tree))

	decoded, err := objtree.Decode(nil)
	require.NoError(t, err)
	assert.Empty(t, decoded.Entries)

	// The empty tree digest is the hash of the empty byte sequence.
	assert.Equal(t, hash.Sum(nil), objtree.Digest(tree))
}

func TestBuildRejectsBadPaths(t *testing.T) {
	for _, p := range []string{"", "/abs.sql", "a/../b.sql", "../escape.sql"} {
		_, err := objtree.Build(map[string]hash.Digest{p: {}})
		assert.Error(t, err, "path %q must be rejected", p)
	}
}

func TestDecodeRejectsMalformedLines(t *testing.T) {
	_, err := objtree.Decode([]byte("nodigesthere\n"))
	assert.Error(t, err)

	_, err = objtree.Decode([]byte("zzzz a.sql\n"))
	assert.Error(t, err)
}

func TestLookup(t *testing.T) {
	d := hash.Sum([]byte("content"))
	tree, err := objtree.Build(map[string]hash.Digest{"a.sql": d})
	require.NoError(t, err)

	got, ok := tree.Lookup("a.sql")
	assert.True(t, ok)
	assert.Equal(t, d, got)

	_, ok = tree.Lookup("missing.sql")
	assert.False(t, ok)
}
