package sqltest_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spawn-build/spawn/internal/config"
	"github.com/spawn-build/spawn/internal/sqltest"
	"github.com/spawn-build/spawn/internal/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testProject(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	configPath := filepath.Join(dir, "spawn.toml")
	require.NoError(t, os.WriteFile(configPath, []byte("spawn_folder = \"db\"\n"), 0o644))

	folder := filepath.Join(dir, "db")
	require.NoError(t, os.MkdirAll(filepath.Join(folder, "components"), 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(folder, "components", "frag.sql"), []byte("SELECT {{ variables.n }};"), 0o644))

	for name, body := range map[string]string{
		"alpha": `{% include "frag.sql" %}` + "\n",
		"beta":  "SELECT 2;\n",
	} {
		testDir := filepath.Join(folder, "tests", name)
		require.NoError(t, os.MkdirAll(testDir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(testDir, "test.sql"), []byte(body), 0o644))
	}

	cfg, err := config.Load(configPath)
	require.NoError(t, err)
	return cfg
}

func TestListFindsTests(t *testing.T) {
	cfg := testProject(t)
	r := sqltest.New(cfg, nil, "dev", value.Null())
	names, err := r.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, names)
}

func TestBuildRendersThroughComponents(t *testing.T) {
	cfg := testProject(t)
	vars := value.Map(map[string]value.Value{"n": value.Int(9)})
	r := sqltest.New(cfg, nil, "dev", vars)

	var out bytes.Buffer
	require.NoError(t, r.Build("alpha", &out))
	assert.Equal(t, "SELECT 9;\n", out.String())
}

func TestBuildUnknownTest(t *testing.T) {
	cfg := testProject(t)
	r := sqltest.New(cfg, nil, "dev", value.Null())
	assert.Error(t, r.Build("missing", &bytes.Buffer{}))
}
