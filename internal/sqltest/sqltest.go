// Package sqltest renders a test template, pipes it through psql, and
// compares captured output against the test's expected baseline.
package sqltest

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/spawn-build/spawn/internal/config"
	"github.com/spawn-build/spawn/internal/engine"
	"github.com/spawn-build/spawn/internal/loader"
	"github.com/spawn-build/spawn/internal/spawnerr"
	"github.com/spawn-build/spawn/internal/template"
	"github.com/spawn-build/spawn/internal/value"
)

// Runner renders and executes tests for one project.
type Runner struct {
	cfg       *config.Config
	eng       *engine.Engine
	envName   string
	variables value.Value
}

// New builds a Runner. eng may be nil for Build-only use.
func New(cfg *config.Config, eng *engine.Engine, envName string, variables value.Value) *Runner {
	return &Runner{cfg: cfg, eng: eng, envName: envName, variables: variables}
}

func (r *Runner) testDir(name string) string      { return filepath.Join(r.cfg.TestsDir(), name) }
func (r *Runner) scriptPath(name string) string   { return filepath.Join(r.testDir(name), "test.sql") }
func (r *Runner) expectedPath(name string) string { return filepath.Join(r.testDir(name), "expected") }

// List returns every test directory name, sorted.
func (r *Runner) List() ([]string, error) {
	entries, err := os.ReadDir(r.cfg.TestsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &spawnerr.IoError{Op: "list tests", Err: err}
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			if _, err := os.Stat(r.scriptPath(e.Name())); err == nil {
				out = append(out, e.Name())
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

// Build renders the test template into sink. Tests always render
// against the live components directory.
func (r *Runner) Build(name string, sink io.Writer) error {
	src, err := os.ReadFile(r.scriptPath(name))
	if err != nil {
		return &spawnerr.IoError{Op: "read " + r.scriptPath(name), Err: err}
	}
	tpl, err := template.Parse(string(src))
	if err != nil {
		return &spawnerr.TemplateError{Msg: err.Error(), Path: r.scriptPath(name), Err: err}
	}
	l, err := loader.NewLive(r.cfg.ComponentsDir())
	if err != nil {
		return err
	}
	env := template.NewEnv(l, r.envName, r.variables)
	return template.Render(tpl, env, sink)
}

// Run renders the test and executes it, capturing psql's stdout. The
// session runs with autocommit off so the whole test is one implicit
// transaction that rolls back when the session ends.
func (r *Runner) Run(ctx context.Context, name string, stdout io.Writer) error {
	return r.eng.ExecuteSQL(ctx, func(w io.Writer) error {
		if _, err := io.WriteString(w, "\\set AUTOCOMMIT off\n"); err != nil {
			return err
		}
		return r.Build(name, w)
	}, stdout)
}

// Outcome is the result of comparing one test against its baseline.
type Outcome struct {
	Name string
	// Diff is empty when actual output matched expected.
	Diff string
}

// Compare runs the test and diffs its output against expected. A
// missing baseline is an Io error; a differing one yields an Outcome
// with a unified line diff (context 3).
func (r *Runner) Compare(ctx context.Context, name string) (Outcome, error) {
	var actual bytes.Buffer
	if err := r.Run(ctx, name, &actual); err != nil {
		return Outcome{}, err
	}
	expected, err := os.ReadFile(r.expectedPath(name))
	if err != nil {
		return Outcome{}, &spawnerr.IoError{Op: "read " + r.expectedPath(name), Err: err}
	}
	return Outcome{Name: name, Diff: DiffLines(string(expected), actual.String())}, nil
}

// CompareAll fans out over every test and collects outcomes. The error
// return reports infrastructure failures only; diffs live in the
// outcomes.
func (r *Runner) CompareAll(ctx context.Context) ([]Outcome, error) {
	names, err := r.List()
	if err != nil {
		return nil, err
	}
	out := make([]Outcome, 0, len(names))
	for _, name := range names {
		o, err := r.Compare(ctx, name)
		if err != nil {
			return out, err
		}
		out = append(out, o)
	}
	return out, nil
}

// Expect runs the test and overwrites its expected baseline with the
// captured output.
func (r *Runner) Expect(ctx context.Context, name string) error {
	var actual bytes.Buffer
	if err := r.Run(ctx, name, &actual); err != nil {
		return err
	}
	if err := os.WriteFile(r.expectedPath(name), actual.Bytes(), 0o644); err != nil {
		return &spawnerr.IoError{Op: "write " + r.expectedPath(name), Err: err}
	}
	return nil
}
