// Package pin walks a migration's component tree into the content
// store, writes the resulting lock.toml, and resolves a previously
// pinned tree back into a read-through byte source for the template
// engine.
package pin

import (
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spawn-build/spawn/internal/blobstore"
	"github.com/spawn-build/spawn/internal/hash"
	"github.com/spawn-build/spawn/internal/objtree"
	"github.com/spawn-build/spawn/internal/spawnerr"
	"github.com/spawn-build/spawn/internal/storage"
)

// LockFile is the per-migration manifest recorded in lock.toml.
type LockFile struct {
	Pin      string `toml:"pin"`
	Renderer string `toml:"renderer,omitempty"`
}

// CurrentRendererVersion is stamped into newly written lock files. It
// is reserved for future compatibility gates; the renderer has not
// changed shape since the first release, so every lock file seen by
// this implementation compares equal on this field.
const CurrentRendererVersion = "1"

// WriteLockFile writes lf to path as TOML, overwriting any existing
// file. Pinning twice over identical input rewrites an identical file.
func WriteLockFile(path string, lf LockFile) error {
	f, err := os.Create(path)
	if err != nil {
		return &spawnerr.IoError{Op: "write lock.toml", Err: err}
	}
	defer f.Close()
	enc := toml.NewEncoder(f)
	if err := enc.Encode(lf); err != nil {
		return &spawnerr.IoError{Op: "encode lock.toml", Err: err}
	}
	return nil
}

// ReadLockFile reads and parses path.
func ReadLockFile(path string) (LockFile, error) {
	var lf LockFile
	if _, err := toml.DecodeFile(path, &lf); err != nil {
		return LockFile{}, &spawnerr.LockMissingError{Migration: path}
	}
	return lf, nil
}

// Pin walks every file under componentsRoot in deterministic
// (lexicographic) order, writes each as a blob, builds the canonical
// tree, stores the tree itself as a blob, and returns the tree digest.
// Calling Pin twice against byte-identical input always yields the same
// digest.
func Pin(componentsRoot string, store *blobstore.Store) (hash.Digest, error) {
	disk, err := storage.NewDisk(componentsRoot)
	if err != nil {
		return hash.Digest{}, err
	}
	paths, err := disk.List("")
	if err != nil {
		return hash.Digest{}, err
	}
	entries := make(map[string]hash.Digest, len(paths))
	for _, p := range paths {
		data, err := disk.Read(p)
		if err != nil {
			return hash.Digest{}, err
		}
		d, err := store.Put(data)
		if err != nil {
			return hash.Digest{}, err
		}
		entries[p] = d
	}
	tree, err := objtree.Build(entries)
	if err != nil {
		return hash.Digest{}, err
	}
	encoded := objtree.Encode(tree)
	treeDigest, err := store.Put(encoded)
	if err != nil {
		return hash.Digest{}, err
	}
	return treeDigest, nil
}

// Resolver is the read-through view 4.D produces over a pinned tree: it
// satisfies the loader capability of 4.E (Open/List) without exposing
// anything about blobs or digests to its callers.
type Resolver struct {
	store *blobstore.Store
	tree  objtree.Tree
}

// Resolve loads the tree for treeDigest and returns a Resolver over it.
// A tree digest whose canonical encoding is missing from the store, or
// whose bytes don't decode as a tree, fails fast with PinCorruptError —
// even when the constituent blobs are all present.
func Resolve(store *blobstore.Store, treeDigest hash.Digest) (*Resolver, error) {
	raw, err := store.Get(treeDigest)
	if err != nil {
		return nil, &spawnerr.PinCorruptError{Digest: treeDigest.String()}
	}
	tree, err := objtree.Decode(raw)
	if err != nil {
		return nil, &spawnerr.PinCorruptError{Digest: treeDigest.String()}
	}
	return &Resolver{store: store, tree: tree}, nil
}

// Open fetches the blob for path via the pinned tree.
func (r *Resolver) Open(path string) ([]byte, error) {
	d, ok := r.tree.Lookup(path)
	if !ok {
		return nil, &spawnerr.PinMissingError{Path: path}
	}
	data, err := r.store.Get(d)
	if err != nil {
		return nil, &spawnerr.PinMissingError{Path: path}
	}
	return data, nil
}

// List returns every path present in the pinned tree, sorted.
func (r *Resolver) List() ([]string, error) {
	return r.tree.Paths(), nil
}

// TreeDigest returns the digest of the resolved tree.
func (r *Resolver) TreeDigest() hash.Digest {
	return objtree.Digest(r.tree)
}
