package engine

import (
	"context"
	"testing"

	"github.com/spawn-build/spawn/internal/config"
	"github.com/spawn-build/spawn/internal/spawnerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveDirect(t *testing.T) {
	r := NewCommandResolver(config.CommandConfig{
		Kind:   "direct",
		Direct: []string{"psql", "--dbname", "app"},
	})
	argv, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"psql", "--dbname", "app"}, argv)
}

func TestResolveProviderParsesShellQuoting(t *testing.T) {
	r := NewCommandResolver(config.CommandConfig{
		Kind:     "provider",
		Provider: []string{"sh", "-c", `echo "psql --dbname 'my db' --set x=\"1\""`},
		Append:   []string{"--no-psqlrc"},
	})
	argv, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"psql", "--dbname", "my db", `--set`, `x=1`, "--no-psqlrc"}, argv)
}

func TestResolveProviderCachesArgv(t *testing.T) {
	// The provider writes to a temp file on each run; a second Resolve
	// must not run it again.
	marker := t.TempDir() + "/ran"
	r := NewCommandResolver(config.CommandConfig{
		Kind:     "provider",
		Provider: []string{"sh", "-c", "echo run >> " + marker + "; echo psql"},
	})
	_, err := r.Resolve(context.Background())
	require.NoError(t, err)
	argv, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"psql"}, argv)

	data := readFile(t, marker)
	assert.Equal(t, "run\n", data, "provider must run exactly once per process")
}

func TestResolveProviderRejectsBadOutput(t *testing.T) {
	tests := []struct {
		name   string
		script string
	}{
		{"unbalanced quote", `echo "psql 'oops"`},
		{"empty output", "true"},
		{"multiple lines", `printf 'psql\nextra\n'`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewCommandResolver(config.CommandConfig{
				Kind:     "provider",
				Provider: []string{"sh", "-c", tt.script},
			})
			_, err := r.Resolve(context.Background())
			var ce *spawnerr.ConfigError
			assert.ErrorAs(t, err, &ce)
		})
	}
}

func TestResolveProviderRetriesTransientExit(t *testing.T) {
	// Fails on the first run, succeeds on the second.
	marker := t.TempDir() + "/attempted"
	r := NewCommandResolver(config.CommandConfig{
		Kind:     "provider",
		Provider: []string{"sh", "-c", "if [ -e " + marker + " ]; then echo psql; else touch " + marker + "; exit 1; fi"},
	})
	argv, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"psql"}, argv)
}

func TestAdvisoryLockKeyIsStable(t *testing.T) {
	h1a, h2a := advisoryLockKey()
	h1b, h2b := advisoryLockKey()
	assert.Equal(t, h1a, h1b)
	assert.Equal(t, h2a, h2b)
	assert.NotEqual(t, h1a, int32(0))
}
