// Package hash implements the 128-bit content hash that identifies
// blobs and trees. xxh3-128 is fast and non-cryptographic, which is
// exactly what a build-system content store needs: collision resistance
// against accidental clashes, not adversaries.
package hash

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/xxh3"
)

// Size is the digest length in bytes (128 bits).
const Size = 16

// Digest is a 128-bit xxh3 content hash, rendered as lower-case hex.
type Digest [Size]byte

// Sum computes the digest of b.
func Sum(b []byte) Digest {
	h := xxh3.Hash128(b)
	var d Digest
	copy(d[:8], u64be(h.Hi))
	copy(d[8:], u64be(h.Lo))
	return d
}

func u64be(v uint64) []byte {
	return []byte{
		byte(v >> 56), byte(v >> 48), byte(v >> 40), byte(v >> 32),
		byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v),
	}
}

// String renders the digest as lower-case hex.
func (d Digest) String() string { return hex.EncodeToString(d[:]) }

// Prefix returns the first two hex characters, used as the blob store's
// fan-out directory (blobs/<aa>/<digest>).
func (d Digest) Prefix() string { return d.String()[:2] }

// Zero reports whether d is the zero digest (never a valid content hash
// for non-empty input, but used as a sentinel for "no digest yet").
func (d Digest) Zero() bool { return d == Digest{} }

// Parse decodes a hex digest string.
func Parse(s string) (Digest, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Digest{}, fmt.Errorf("invalid digest %q: %w", s, err)
	}
	if len(b) != Size {
		return Digest{}, fmt.Errorf("invalid digest %q: expected %d bytes, got %d", s, Size, len(b))
	}
	var d Digest
	copy(d[:], b)
	return d, nil
}

// Hasher accumulates a streaming xxh3-128 hash, used by the tee/checksum
// writer (4.H) so the digest can be computed as bytes flow to the sink
// without buffering the whole render.
type Hasher struct {
	h *xxh3.Hasher
}

// NewHasher returns a fresh streaming hasher.
func NewHasher() *Hasher { return &Hasher{h: xxh3.New()} }

// Write implements io.Writer.
func (hs *Hasher) Write(p []byte) (int, error) { return hs.h.Write(p) }

// Sum128 returns the accumulated digest.
func (hs *Hasher) Sum128() Digest {
	h := hs.h.Sum128()
	var d Digest
	copy(d[:8], u64be(h.Hi))
	copy(d[8:], u64be(h.Lo))
	return d
}
