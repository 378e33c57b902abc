// Package build resolves a migration by name, chooses the live or
// pinned component source, and drives the template engine into a
// caller-supplied sink through the checksum tee. It also hosts the pin
// orchestration, because pinning and building are the two halves of the
// same reproducibility contract.
package build

import (
	"io"
	"os"

	"github.com/spawn-build/spawn/internal/blobstore"
	"github.com/spawn-build/spawn/internal/config"
	"github.com/spawn-build/spawn/internal/hash"
	"github.com/spawn-build/spawn/internal/loader"
	"github.com/spawn-build/spawn/internal/pin"
	"github.com/spawn-build/spawn/internal/project"
	"github.com/spawn-build/spawn/internal/spawnerr"
	"github.com/spawn-build/spawn/internal/storage"
	"github.com/spawn-build/spawn/internal/teewriter"
	"github.com/spawn-build/spawn/internal/template"
	"github.com/spawn-build/spawn/internal/value"
)

// Options select how a migration is built.
type Options struct {
	// Pinned selects the pinned snapshot (requires lock.toml); false
	// reads the live components directory.
	Pinned bool
	// Variables is the loaded variables bundle ("variables" in templates).
	Variables value.Value
	// Env is the environment string ("env" in templates).
	Env string
}

// Result reports what a build produced.
type Result struct {
	Migration project.Migration
	// Checksum is the xxh3-128 of the rendered bytes.
	Checksum hash.Digest
	// PinHash is the pinned tree digest, zero when built live.
	PinHash hash.Digest
}

// Store opens the project's content-addressed blob store under pinned/.
func Store(cfg *config.Config) (*blobstore.Store, error) {
	disk, err := storage.NewDisk(cfg.PinnedDir())
	if err != nil {
		return nil, err
	}
	return blobstore.New(disk), nil
}

// Builder builds migrations for one project.
type Builder struct {
	cfg *config.Config
}

// New returns a Builder over cfg's spawn folder.
func New(cfg *config.Config) *Builder { return &Builder{cfg: cfg} }

// Resolve finds the migration for name (exact or prefix match).
func (b *Builder) Resolve(name string) (project.Migration, error) {
	return project.Resolve(b.cfg.MigrationsDir(), name)
}

// openLoader returns the component source for the migration per opts,
// plus the pinned tree digest when opts.Pinned.
func (b *Builder) openLoader(m project.Migration, pinned bool) (loader.Loader, hash.Digest, error) {
	if !pinned {
		l, err := loader.NewLive(b.cfg.ComponentsDir())
		return l, hash.Digest{}, err
	}
	lf, err := pin.ReadLockFile(m.LockPath())
	if err != nil {
		return nil, hash.Digest{}, &spawnerr.LockMissingError{Migration: m.Name}
	}
	treeDigest, err := hash.Parse(lf.Pin)
	if err != nil {
		return nil, hash.Digest{}, &spawnerr.PinCorruptError{Digest: lf.Pin}
	}
	store, err := Store(b.cfg)
	if err != nil {
		return nil, hash.Digest{}, err
	}
	resolver, err := pin.Resolve(store, treeDigest)
	if err != nil {
		return nil, hash.Digest{}, err
	}
	return loader.NewPinned(resolver), treeDigest, nil
}

// Build resolves name, renders its up.sql through the tee writer into
// sink, and returns the stream checksum. The sink receives bytes as they
// render; on error the bytes already written must be discarded by the
// caller, since only a clean return marks the stream complete.
func (b *Builder) Build(name string, opts Options, sink io.Writer) (Result, error) {
	m, err := b.Resolve(name)
	if err != nil {
		return Result{}, err
	}
	return b.BuildMigration(m, opts, sink)
}

// BuildMigration renders an already-resolved migration.
func (b *Builder) BuildMigration(m project.Migration, opts Options, sink io.Writer) (Result, error) {
	l, pinHash, err := b.openLoader(m, opts.Pinned)
	if err != nil {
		return Result{}, err
	}
	src, err := os.ReadFile(m.UpSQLPath())
	if err != nil {
		return Result{}, &spawnerr.IoError{Op: "read " + m.UpSQLPath(), Err: err}
	}
	tpl, err := template.Parse(string(src))
	if err != nil {
		return Result{}, &spawnerr.TemplateError{Msg: err.Error(), Path: m.UpSQLPath(), Err: err}
	}
	env := template.NewEnv(l, opts.Env, opts.Variables)
	tee := teewriter.New(sink)
	if err := template.Render(tpl, env, tee); err != nil {
		return Result{}, err
	}
	return Result{Migration: m, Checksum: tee.Sum128(), PinHash: pinHash}, nil
}

// Pin snapshots the live components directory for the migration: blobs
// and tree into the store, tree digest into lock.toml. Idempotent — a
// second pin over byte-identical components rewrites an identical
// lock.toml.
func (b *Builder) Pin(name string) (project.Migration, hash.Digest, error) {
	m, err := b.Resolve(name)
	if err != nil {
		return project.Migration{}, hash.Digest{}, err
	}
	store, err := Store(b.cfg)
	if err != nil {
		return project.Migration{}, hash.Digest{}, err
	}
	treeDigest, err := pin.Pin(b.cfg.ComponentsDir(), store)
	if err != nil {
		return project.Migration{}, hash.Digest{}, err
	}
	lf := pin.LockFile{Pin: treeDigest.String(), Renderer: pin.CurrentRendererVersion}
	if err := pin.WriteLockFile(m.LockPath(), lf); err != nil {
		return project.Migration{}, hash.Digest{}, err
	}
	return m, treeDigest, nil
}
