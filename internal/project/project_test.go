package project_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spawn-build/spawn/internal/project"
	"github.com/spawn-build/spawn/internal/spawnerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidName(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{"20260101000000-one", true},
		{"20260101000000-create-users-table", true},
		{"20260101000000-", false},
		{"2026-create", false},
		{"20260101000000-Create", false},
		{"notadate-create", false},
		{"20260101000000-двойной", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.valid, project.ValidName(tt.name), tt.name)
	}
}

func makeMigrations(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, n := range names {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, n), 0o755))
	}
	return dir
}

func TestListSortedByTimestamp(t *testing.T) {
	dir := makeMigrations(t,
		"20260301000000-later",
		"20260101000000-first",
		"not-a-migration",
	)
	got, err := project.List(dir)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "20260101000000-first", got[0].Name)
	assert.Equal(t, "20260301000000-later", got[1].Name)
}

func TestResolve(t *testing.T) {
	dir := makeMigrations(t,
		"20260101000000-alpha",
		"20260201000000-alpine",
		"20260301000000-beta",
	)

	m, err := project.Resolve(dir, "20260301000000-beta")
	require.NoError(t, err)
	assert.Equal(t, "20260301000000-beta", m.Name)

	m, err = project.Resolve(dir, "202603")
	require.NoError(t, err)
	assert.Equal(t, "20260301000000-beta", m.Name)

	_, err = project.Resolve(dir, "2026")
	var amb *spawnerr.MigrationAmbiguousError
	assert.ErrorAs(t, err, &amb)
	assert.Len(t, amb.Candidates, 3)

	_, err = project.Resolve(dir, "20270101")
	var nf *spawnerr.MigrationNotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestKebab(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Create Users", "create-users"},
		{"add_index!", "add-index"},
		{"  spaced  out  ", "spaced-out"},
		{"already-kebab", "already-kebab"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, project.Kebab(tt.in))
	}
}

func TestNewMigrationScaffolds(t *testing.T) {
	folder := t.TempDir()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	m, err := project.NewMigration(folder, "Create Users", now)
	require.NoError(t, err)
	assert.Equal(t, "20260102030405-create-users", m.Name)
	assert.FileExists(t, m.UpSQLPath())
	assert.DirExists(t, filepath.Join(folder, "components"))
	assert.DirExists(t, filepath.Join(folder, "tests"))
	assert.False(t, m.Pinned())

	// Creating the same migration again refuses to clobber up.sql.
	_, err = project.NewMigration(folder, "Create Users", now)
	assert.Error(t, err)
}

func TestNewTestScaffolds(t *testing.T) {
	folder := t.TempDir()
	path, err := project.NewTest(folder, "smoke")
	require.NoError(t, err)
	assert.FileExists(t, path)

	_, err = project.NewTest(folder, "smoke")
	assert.Error(t, err)
}
