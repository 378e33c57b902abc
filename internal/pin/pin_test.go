package pin_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spawn-build/spawn/internal/blobstore"
	"github.com/spawn-build/spawn/internal/hash"
	"github.com/spawn-build/spawn/internal/pin"
	"github.com/spawn-build/spawn/internal/spawnerr"
	"github.com/spawn-build/spawn/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeComponents(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for path, content := range files {
		full := filepath.Join(dir, filepath.FromSlash(path))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
	return dir
}

func TestPinIsDeterministic(t *testing.T) {
	components := writeComponents(t, map[string]string{
		"a.sql":        "SELECT 1;\n",
		"dir/b.sql":    "SELECT 2;\n",
		"dir/deep.sql": "",
	})
	store := blobstore.New(storage.NewMemory())

	d1, err := pin.Pin(components, store)
	require.NoError(t, err)
	d2, err := pin.Pin(components, store)
	require.NoError(t, err)
	assert.Equal(t, d1, d2)

	// The content blob is stored under its own digest.
	blob, err := store.Get(hash.Sum([]byte("SELECT 1;\n")))
	require.NoError(t, err)
	assert.Equal(t, []byte("SELECT 1;\n"), blob)
}

func TestPinChangesWithContent(t *testing.T) {
	components := writeComponents(t, map[string]string{"a.sql": "SELECT 1;\n"})
	store := blobstore.New(storage.NewMemory())

	d1, err := pin.Pin(components, store)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(components, "a.sql"), []byte("SELECT 2;\n"), 0o644))
	d2, err := pin.Pin(components, store)
	require.NoError(t, err)
	assert.NotEqual(t, d1, d2)
}

func TestPinFollowsSymlinkedSubdirectory(t *testing.T) {
	shared := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(shared, "common.sql"), []byte("SELECT 42;\n"), 0o644))
	components := writeComponents(t, map[string]string{"a.sql": "SELECT 1;\n"})
	require.NoError(t, os.Symlink(shared, filepath.Join(components, "shared")))

	store := blobstore.New(storage.NewMemory())
	treeDigest, err := pin.Pin(components, store)
	require.NoError(t, err)

	r, err := pin.Resolve(store, treeDigest)
	require.NoError(t, err)
	paths, err := r.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"a.sql", "shared/common.sql"}, paths)

	data, err := r.Open("shared/common.sql")
	require.NoError(t, err)
	assert.Equal(t, []byte("SELECT 42;\n"), data)
}

func TestResolveReadsThroughTree(t *testing.T) {
	components := writeComponents(t, map[string]string{
		"a.sql":     "SELECT 1;\n",
		"dir/b.sql": "SELECT 2;\n",
	})
	store := blobstore.New(storage.NewMemory())
	treeDigest, err := pin.Pin(components, store)
	require.NoError(t, err)

	r, err := pin.Resolve(store, treeDigest)
	require.NoError(t, err)

	data, err := r.Open("a.sql")
	require.NoError(t, err)
	assert.Equal(t, []byte("SELECT 1;\n"), data)

	paths, err := r.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"a.sql", "dir/b.sql"}, paths)

	_, err = r.Open("missing.sql")
	var pm *spawnerr.PinMissingError
	assert.ErrorAs(t, err, &pm)
}

func TestResolveUnknownTreeIsPinCorrupt(t *testing.T) {
	store := blobstore.New(storage.NewMemory())
	_, err := pin.Resolve(store, hash.Sum([]byte("no such tree")))
	var pc *spawnerr.PinCorruptError
	assert.ErrorAs(t, err, &pc)
}

func TestResolveNonTreeBlobIsPinCorrupt(t *testing.T) {
	store := blobstore.New(storage.NewMemory())
	d, err := store.Put([]byte("this is not a tree encoding"))
	require.NoError(t, err)
	_, err = pin.Resolve(store, d)
	var pc *spawnerr.PinCorruptError
	assert.ErrorAs(t, err, &pc)
}

func TestLockFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock.toml")
	lf := pin.LockFile{Pin: "00112233445566778899aabbccddeeff", Renderer: pin.CurrentRendererVersion}
	require.NoError(t, pin.WriteLockFile(path, lf))

	got, err := pin.ReadLockFile(path)
	require.NoError(t, err)
	assert.Equal(t, lf, got)

	// A second write is byte-for-byte identical.
	first, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, pin.WriteLockFile(path, lf))
	second, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestReadLockFileMissing(t *testing.T) {
	_, err := pin.ReadLockFile(filepath.Join(t.TempDir(), "lock.toml"))
	var lm *spawnerr.LockMissingError
	assert.ErrorAs(t, err, &lm)
}
