package blobstore_test

import (
	"testing"

	"github.com/spawn-build/spawn/internal/blobstore"
	"github.com/spawn-build/spawn/internal/hash"
	"github.com/spawn-build/spawn/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGetRoundTrip(t *testing.T) {
	s := blobstore.New(storage.NewMemory())

	d, err := s.Put([]byte("SELECT 1;\n"))
	require.NoError(t, err)
	assert.Equal(t, hash.Sum([]byte("SELECT 1;\n")), d)

	got, err := s.Get(d)
	require.NoError(t, err)
	assert.Equal(t, []byte("SELECT 1;\n"), got)
	assert.True(t, s.Exists(d))
}

func TestPutIsIdempotent(t *testing.T) {
	s := blobstore.New(storage.NewMemory())
	d1, err := s.Put([]byte("same"))
	require.NoError(t, err)
	d2, err := s.Put([]byte("same"))
	require.NoError(t, err)
	assert.Equal(t, d1, d2)

	all, err := s.Iter()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestGetMissing(t *testing.T) {
	s := blobstore.New(storage.NewMemory())
	_, err := s.Get(hash.Sum([]byte("never stored")))
	var bm *blobstore.BlobMissingError
	assert.ErrorAs(t, err, &bm)
	assert.False(t, s.Exists(hash.Sum([]byte("never stored"))))
}

func TestEmptyBlobIsValid(t *testing.T) {
	s := blobstore.New(storage.NewMemory())
	d, err := s.Put(nil)
	require.NoError(t, err)
	got, err := s.Get(d)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestIterReturnsAllDigests(t *testing.T) {
	s := blobstore.New(storage.NewMemory())
	d1, err := s.Put([]byte("one"))
	require.NoError(t, err)
	d2, err := s.Put([]byte("two"))
	require.NoError(t, err)

	all, err := s.Iter()
	require.NoError(t, err)
	assert.ElementsMatch(t, []hash.Digest{d1, d2}, all)
}
