package engine

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/shlex"
	"github.com/spawn-build/spawn/internal/config"
	"github.com/spawn-build/spawn/internal/spawnerr"
)

// ProviderTimeout bounds one provider-command invocation.
const ProviderTimeout = 30 * time.Second

// CommandResolver turns a database config's command table into the psql
// argv. Provider commands run at most once per process; the parsed argv
// is cached for every subsequent execution.
type CommandResolver struct {
	cmd config.CommandConfig

	mu     sync.Mutex
	cached []string
}

// NewCommandResolver builds a resolver for cmd.
func NewCommandResolver(cmd config.CommandConfig) *CommandResolver {
	return &CommandResolver{cmd: cmd}
}

// Resolve returns the argv to execute.
func (r *CommandResolver) Resolve(ctx context.Context) ([]string, error) {
	if r.cmd.Kind == "direct" {
		return r.cmd.Direct, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cached != nil {
		return r.cached, nil
	}
	argv, err := r.runProvider(ctx)
	if err != nil {
		return nil, err
	}
	r.cached = argv
	return argv, nil
}

// runProvider invokes the provider argv, parses its single-line stdout
// with POSIX shell tokenization (quotes and backslash escapes honored;
// nothing is expanded through a shell), and appends the configured
// append vector. One retry absorbs a transient non-zero exit.
func (r *CommandResolver) runProvider(ctx context.Context) ([]string, error) {
	var out []byte
	op := func() error {
		cctx, cancel := context.WithTimeout(ctx, ProviderTimeout)
		defer cancel()
		cmd := exec.CommandContext(cctx, r.cmd.Provider[0], r.cmd.Provider[1:]...)
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			if _, ok := err.(*exec.ExitError); ok {
				return fmt.Errorf("provider command exited non-zero: %s", strings.TrimSpace(stderr.String()))
			}
			return backoff.Permanent(&spawnerr.IoError{Op: "run provider command", Err: err})
		}
		out = stdout.Bytes()
		return nil
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(200*time.Millisecond), 1), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return nil, err
	}

	line := strings.TrimSpace(string(out))
	if line == "" || strings.ContainsRune(line, '\n') {
		return nil, &spawnerr.ConfigError{Msg: "provider command must print exactly one line of shell-quoted arguments"}
	}
	argv, err := shlex.Split(line)
	if err != nil {
		return nil, &spawnerr.ConfigError{Msg: fmt.Sprintf("provider output %q is not valid shell quoting", line), Err: err}
	}
	if len(argv) == 0 {
		return nil, &spawnerr.ConfigError{Msg: "provider command produced an empty argv"}
	}
	return append(argv, r.cmd.Append...), nil
}
