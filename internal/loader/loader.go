// Package loader is the single capability the template engine uses for
// include/import resolution, presented identically whether the
// underlying source is the live components directory or a pinned
// snapshot. Templates never see a filesystem path directly — they only
// ever see this capability — which keeps the path-escape guarantee
// enforceable in one place.
package loader

import (
	"sort"

	"github.com/spawn-build/spawn/internal/pin"
	"github.com/spawn-build/spawn/internal/storage"
)

// Loader reads components by relative path: open(path) → bytes plus
// list() → paths, regardless of where the bytes live.
type Loader interface {
	Open(path string) ([]byte, error)
	List() ([]string, error)
}

// Live reads directly from the working components/ directory.
type Live struct {
	backend *storage.Disk
}

// NewLive roots a live loader at componentsDir.
func NewLive(componentsDir string) (*Live, error) {
	d, err := storage.NewDisk(componentsDir)
	if err != nil {
		return nil, err
	}
	return &Live{backend: d}, nil
}

func (l *Live) Open(path string) ([]byte, error) { return l.backend.Read(path) }
func (l *Live) List() ([]string, error)          { return l.backend.List("") }

// Pinned reads through a resolved pinner tree (internal/pin.Resolver).
type Pinned struct {
	resolver *pin.Resolver
}

// NewPinned wraps a resolved pin tree as a loader.
func NewPinned(resolver *pin.Resolver) *Pinned {
	return &Pinned{resolver: resolver}
}

func (p *Pinned) Open(path string) ([]byte, error) { return p.resolver.Open(path) }
func (p *Pinned) List() ([]string, error)          { return p.resolver.List() }

// Map serves components from an in-memory map, used for the engine's
// embedded schema migrations and in tests.
type Map map[string][]byte

func (m Map) Open(path string) ([]byte, error) {
	b, ok := m[path]
	if !ok {
		return nil, &storage.ErrNotFound{Path: path}
	}
	return b, nil
}

func (m Map) List() ([]string, error) {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}
