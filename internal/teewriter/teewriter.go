// Package teewriter provides an io.Writer that forwards every byte to
// an inner sink while accumulating an xxh3-128 checksum of the full
// stream. The migration builder wraps its render sink in one of
// these so the checksum recorded in migration_history is computed as the
// bytes flow to psql, without ever buffering the whole render.
package teewriter

import (
	"io"

	"github.com/spawn-build/spawn/internal/hash"
)

// Tee forwards writes to Sink and hashes them.
type Tee struct {
	sink io.Writer
	h    *hash.Hasher
	n    int64
}

// New wraps sink.
func New(sink io.Writer) *Tee {
	return &Tee{sink: sink, h: hash.NewHasher()}
}

// Write forwards p to the sink and updates the hash. A short write from
// the sink is surfaced verbatim; the hash only ever covers bytes the
// sink accepted, so a failed render never reports a checksum for bytes
// that did not reach the consumer.
func (t *Tee) Write(p []byte) (int, error) {
	n, err := t.sink.Write(p)
	if n > 0 {
		_, _ = t.h.Write(p[:n])
		t.n += int64(n)
	}
	if err == nil && n < len(p) {
		err = io.ErrShortWrite
	}
	return n, err
}

// Sum128 returns the checksum of everything written so far.
func (t *Tee) Sum128() hash.Digest { return t.h.Sum128() }

// BytesWritten returns the total byte count forwarded to the sink.
func (t *Tee) BytesWritten() int64 { return t.n }
