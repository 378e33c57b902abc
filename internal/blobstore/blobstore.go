// Package blobstore is a content-addressed byte store keyed by 128-bit
// digest, fanned out two hex characters deep (blobs/<aa>/<digest>) to
// keep any one directory from growing without bound. Writes are
// idempotent — Put checks existence first, so two processes pinning the
// same component concurrently never race on the content itself, only on
// which one's identical write wins.
package blobstore

import (
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"github.com/spawn-build/spawn/internal/hash"
	"github.com/spawn-build/spawn/internal/spawnerr"
	"github.com/spawn-build/spawn/internal/storage"
)

// BlobMissingError is returned by Get when the digest is not present.
type BlobMissingError struct{ Digest hash.Digest }

func (e *BlobMissingError) Error() string { return fmt.Sprintf("blob missing: %s", e.Digest) }
func (e *BlobMissingError) Kind() spawnerr.Kind { return spawnerr.KindPinMissing }

// Store is the content-addressed blob store, backed by any
// storage.Storage implementation (on-disk under pinned/blobs, or
// in-memory for tests).
type Store struct {
	backend storage.Storage
}

// New wraps a storage backend as a blob store.
func New(backend storage.Storage) *Store {
	return &Store{backend: backend}
}

func blobPath(d hash.Digest) string {
	return "blobs/" + d.Prefix() + "/" + d.String()
}

// Put writes data if its digest isn't already present and returns the
// digest either way. The existence check plus idempotent write means a
// losing concurrent writer of byte-identical content never corrupts the
// store; a brief retry absorbs the rare case where Exists and Write race
// against another process's in-flight rename.
func (s *Store) Put(data []byte) (hash.Digest, error) {
	d := hash.Sum(data)
	if s.backend.Exists(blobPath(d)) {
		return d, nil
	}
	op := func() error {
		if s.backend.Exists(blobPath(d)) {
			return nil
		}
		return s.backend.Write(blobPath(d), data)
	}
	bo := backoff.WithMaxRetries(backoff.NewConstantBackOff(0), 2)
	if err := backoff.Retry(op, bo); err != nil {
		return hash.Digest{}, err
	}
	return d, nil
}

// Get reads the blob for digest, failing with BlobMissingError if absent.
func (s *Store) Get(d hash.Digest) ([]byte, error) {
	b, err := s.backend.Read(blobPath(d))
	if err != nil {
		return nil, &BlobMissingError{Digest: d}
	}
	return b, nil
}

// Exists reports whether digest is present in the store.
func (s *Store) Exists(d hash.Digest) bool {
	return s.backend.Exists(blobPath(d))
}

// Iter returns every digest currently in the store, in lexicographic
// order of their hex representation.
func (s *Store) Iter() ([]hash.Digest, error) {
	paths, err := s.backend.List("blobs/")
	if err != nil {
		return nil, err
	}
	out := make([]hash.Digest, 0, len(paths))
	for _, p := range paths {
		// blobs/<aa>/<digest>
		idx := len(p) - 32
		if idx < 0 {
			continue
		}
		d, err := hash.Parse(p[idx:])
		if err != nil {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}
