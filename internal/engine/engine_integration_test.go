package engine

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"testing"
	"time"

	"github.com/spawn-build/spawn/internal/config"
	"github.com/spawn-build/spawn/internal/hash"
	"github.com/spawn-build/spawn/internal/spawnerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

// startPostgres spins up a throwaway PostgreSQL and returns an Engine
// pointed at it through the local psql binary.
func startPostgres(t *testing.T) *Engine {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test skipped in -short mode")
	}
	if _, err := exec.LookPath("psql"); err != nil {
		t.Skip("psql binary not available")
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("spawn_test"),
		tcpostgres.WithUsername("spawn"),
		tcpostgres.WithPassword("spawn"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Skipf("cannot start postgres container: %v", err)
	}
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(container) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	uri := fmt.Sprintf("postgresql://spawn:spawn@%s:%s/spawn_test", host, port.Port())
	eng, err := New(&config.DatabaseConfig{
		Engine:        "postgres-psql",
		SpawnDatabase: "spawn_test",
		SpawnSchema:   "_spawn",
		Command: config.CommandConfig{
			Kind:   "direct",
			Direct: []string{"psql", uri},
		},
	}, "integration-test")
	require.NoError(t, err)
	return eng
}

func staticRender(sql string) RenderFunc {
	return func(w io.Writer) (string, error) {
		if _, err := io.WriteString(w, sql); err != nil {
			return "", err
		}
		return hash.Sum([]byte(sql)).String(), nil
	}
}

func TestIntegrationBootstrapIsIdempotent(t *testing.T) {
	eng := startPostgres(t)
	ctx := context.Background()

	require.NoError(t, eng.Bootstrap(ctx))
	require.NoError(t, eng.Bootstrap(ctx))

	exists, err := eng.tableExists(ctx, "migration_history")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestIntegrationApplyRecordsHistory(t *testing.T) {
	eng := startPostgres(t)
	ctx := context.Background()

	sql := "CREATE TABLE widgets (id BIGINT PRIMARY KEY, name TEXT);\n"
	err := eng.Apply(ctx, "20260101000000-widgets", staticRender(sql), ApplyOptions{PinHash: "feedface"})
	require.NoError(t, err)

	row, err := eng.lastHistory(ctx, "20260101000000-widgets", UserNamespace)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "APPLY", row.Activity)
	assert.Equal(t, "SUCCESS", row.Status)
	assert.Equal(t, hash.Sum([]byte(sql)).String(), row.Checksum)
	assert.Equal(t, "feedface", row.PinHash)

	// A second apply refuses.
	err = eng.Apply(ctx, "20260101000000-widgets", staticRender(sql), ApplyOptions{})
	var aa *spawnerr.AlreadyAppliedError
	assert.ErrorAs(t, err, &aa)
}

func TestIntegrationFailureThenRetry(t *testing.T) {
	eng := startPostgres(t)
	ctx := context.Background()

	name := "20260102000000-broken"
	err := eng.Apply(ctx, name, staticRender("SELECT * FROM table_that_does_not_exist;\n"), ApplyOptions{})
	var ee *spawnerr.EngineError
	require.ErrorAs(t, err, &ee)

	row, err := eng.lastHistory(ctx, name, UserNamespace)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "FAILURE", row.Status)
	assert.Contains(t, row.Name, "broken")

	// Without --retry the failure blocks a second attempt.
	err = eng.Apply(ctx, name, staticRender("SELECT 1;\n"), ApplyOptions{})
	var na *spawnerr.NotAppliedError
	require.ErrorAs(t, err, &na)

	// With --retry it goes through.
	err = eng.Apply(ctx, name, staticRender("SELECT 1;\n"), ApplyOptions{Retry: true})
	require.NoError(t, err)

	row, err = eng.lastHistory(ctx, name, UserNamespace)
	require.NoError(t, err)
	assert.Equal(t, "SUCCESS", row.Status)
}

func TestIntegrationContention(t *testing.T) {
	eng := startPostgres(t)
	ctx := context.Background()
	require.NoError(t, eng.Bootstrap(ctx))

	// Hold the advisory lock from a separate session, then try to apply.
	holder, err := eng.acquireLock(ctx, "holder")
	require.NoError(t, err)

	err = eng.Apply(ctx, "20260103000000-contended", staticRender("SELECT 1;\n"), ApplyOptions{})
	var cont *spawnerr.ContendedError
	require.ErrorAs(t, err, &cont)

	// The loser left no history.
	row, err := eng.lastHistory(ctx, "20260103000000-contended", UserNamespace)
	require.NoError(t, err)
	assert.Nil(t, row)

	holder.close()
	// Give the server a moment to notice the session ended.
	time.Sleep(200 * time.Millisecond)

	err = eng.Apply(ctx, "20260103000000-contended", staticRender("SELECT 1;\n"), ApplyOptions{})
	require.NoError(t, err)
}

func TestIntegrationAdoptAndStatus(t *testing.T) {
	eng := startPostgres(t)
	ctx := context.Background()

	require.NoError(t, eng.Adopt(ctx, "20260104000000-preexisting", "cafe", ""))

	history, err := eng.History(ctx)
	require.NoError(t, err)
	row, ok := history["20260104000000-preexisting"]
	require.True(t, ok)
	assert.Equal(t, "ADOPT", row.Activity)
	assert.Equal(t, "SUCCESS", row.Status)
	assert.Equal(t, "cafe", row.Checksum)

	// Adopting again refuses: the migration is already recorded.
	err = eng.Adopt(ctx, "20260104000000-preexisting", "cafe", "")
	var aa *spawnerr.AlreadyAppliedError
	assert.ErrorAs(t, err, &aa)
}
