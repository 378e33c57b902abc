// Package project models the on-disk spawn folder layout: the
// migrations/, components/, tests/, and pinned/ directories, migration
// naming (YYYYMMDDHHMMSS-kebab-name), and name resolution by prefix.
package project

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/spawn-build/spawn/internal/spawnerr"
)

// namePattern is the migration directory invariant: a 14-digit
// timestamp prefix, a dash, and a kebab name.
var namePattern = regexp.MustCompile(`^\d{14}-[a-z0-9]+(-[a-z0-9]+)*$`)

// Migration is one resolved migration directory.
type Migration struct {
	Name string // full directory name, e.g. 20260101000000-create-users
	Dir  string // absolute path
}

// UpSQLPath returns the path of the migration's template.
func (m Migration) UpSQLPath() string { return filepath.Join(m.Dir, "up.sql") }

// LockPath returns the path of the migration's pin manifest.
func (m Migration) LockPath() string { return filepath.Join(m.Dir, "lock.toml") }

// Pinned reports whether the migration has a lock.toml.
func (m Migration) Pinned() bool {
	_, err := os.Stat(m.LockPath())
	return err == nil
}

// ValidName reports whether name satisfies the migration naming invariant.
func ValidName(name string) bool { return namePattern.MatchString(name) }

// List enumerates every migration directory under migrationsDir, sorted
// by timestamp prefix (which is also plain lexicographic order for the
// fixed-width prefix).
func List(migrationsDir string) ([]Migration, error) {
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &spawnerr.IoError{Op: "list migrations", Err: err}
	}
	var out []Migration
	for _, e := range entries {
		if !e.IsDir() || !ValidName(e.Name()) {
			continue
		}
		out = append(out, Migration{Name: e.Name(), Dir: filepath.Join(migrationsDir, e.Name())})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Resolve finds the single migration whose directory name equals name or
// begins with it. Zero matches fail with MigrationNotFound; more than
// one with MigrationAmbiguous.
func Resolve(migrationsDir, name string) (Migration, error) {
	all, err := List(migrationsDir)
	if err != nil {
		return Migration{}, err
	}
	var matches []Migration
	for _, m := range all {
		if m.Name == name {
			return m, nil
		}
		if strings.HasPrefix(m.Name, name) {
			matches = append(matches, m)
		}
	}
	switch len(matches) {
	case 0:
		return Migration{}, &spawnerr.MigrationNotFoundError{Name: name}
	case 1:
		return matches[0], nil
	default:
		names := make([]string, len(matches))
		for i, m := range matches {
			names[i] = m.Name
		}
		return Migration{}, &spawnerr.MigrationAmbiguousError{Name: name, Candidates: names}
	}
}

// Kebab converts an arbitrary human name into the kebab segment of a
// migration directory name.
func Kebab(name string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

const upSQLStub = `-- Write your migration here. Everything under components/ can be
-- pulled in with {% include "path.sql" %}.
`

const testSQLStub = `-- Write a test here, then capture its baseline with: spawn test expect
`

// NewMigration scaffolds migrations/<timestamp>-<kebab>/up.sql, creating
// components/ and tests/ alongside if missing, and returns the new
// migration.
func NewMigration(folder, name string, now time.Time) (Migration, error) {
	kebab := Kebab(name)
	if kebab == "" {
		return Migration{}, &spawnerr.ConfigError{Msg: fmt.Sprintf("migration name %q has no usable characters", name)}
	}
	dirName := now.UTC().Format("20060102150405") + "-" + kebab
	dir := filepath.Join(folder, "migrations", dirName)
	for _, d := range []string{filepath.Join(folder, "components"), filepath.Join(folder, "tests"), dir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return Migration{}, &spawnerr.IoError{Op: "create " + d, Err: err}
		}
	}
	upPath := filepath.Join(dir, "up.sql")
	if _, err := os.Stat(upPath); err == nil {
		return Migration{}, &spawnerr.IoError{Op: "create " + upPath, Err: os.ErrExist}
	}
	if err := os.WriteFile(upPath, []byte(upSQLStub), 0o644); err != nil {
		return Migration{}, &spawnerr.IoError{Op: "write " + upPath, Err: err}
	}
	return Migration{Name: dirName, Dir: dir}, nil
}

// NewTest scaffolds tests/<name>/test.sql.
func NewTest(folder, name string) (string, error) {
	dir := filepath.Join(folder, "tests", name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &spawnerr.IoError{Op: "create " + dir, Err: err}
	}
	scriptPath := filepath.Join(dir, "test.sql")
	if _, err := os.Stat(scriptPath); err == nil {
		return "", &spawnerr.IoError{Op: "create " + scriptPath, Err: os.ErrExist}
	}
	if err := os.WriteFile(scriptPath, []byte(testSQLStub), 0o644); err != nil {
		return "", &spawnerr.IoError{Op: "write " + scriptPath, Err: err}
	}
	return scriptPath, nil
}
