package engine

import (
	"bytes"
	"context"
	"io"
	"os/exec"
	"syscall"
	"time"

	"github.com/spawn-build/spawn/internal/spawnerr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

// DefaultMaxCapture caps captured stdout/stderr for buffered executions.
// Test runs that want the full stream pass an io.Writer instead.
const DefaultMaxCapture = 4 << 20

// killGracePeriod is how long a cancelled child gets between SIGTERM
// and SIGKILL.
const killGracePeriod = 5 * time.Second

// cappedBuffer collects up to max bytes and truncates the rest with a
// marker, so a runaway psql session can't balloon process memory.
type cappedBuffer struct {
	buf       bytes.Buffer
	max       int
	truncated bool
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	room := c.max - c.buf.Len()
	if room > 0 {
		if len(p) <= room {
			c.buf.Write(p)
			return len(p), nil
		}
		c.buf.Write(p[:room])
	}
	c.truncated = true
	return len(p), nil
}

func (c *cappedBuffer) String() string {
	if c.truncated {
		return c.buf.String() + "\n...(truncated)"
	}
	return c.buf.String()
}

// psqlPreamble is written before any caller SQL. QUIET must come first
// so the other settings don't echo.
const psqlPreamble = "\\set QUIET on\n\\pset pager off\n\\set ON_ERROR_STOP on\n"

// ExecOptions configure one child execution.
type ExecOptions struct {
	// Stdout receives the child's stdout. Nil discards it.
	Stdout io.Writer
	// NoPreamble skips the psql preamble (for non-psql children).
	NoPreamble bool
}

// Execute spawns argv with stdin/stdout/stderr piped and runs write,
// stdout-drain, and stderr-drain concurrently so the pipes can never
// deadlock. stdin is closed when write returns; the child's
// stderr is returned for error reporting. A non-zero exit yields
// EngineError{exit, stderr}.
func Execute(ctx context.Context, argv []string, write func(io.Writer) error, opts ExecOptions) error {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	// The child gets its own process group so cancellation can reach any
	// helpers psql itself spawned. SIGTERM first, SIGKILL after the
	// grace period via WaitDelay.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return unix.Kill(-cmd.Process.Pid, unix.SIGTERM)
	}
	cmd.WaitDelay = killGracePeriod

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return &spawnerr.IoError{Op: "open stdin pipe", Err: err}
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return &spawnerr.IoError{Op: "open stdout pipe", Err: err}
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return &spawnerr.IoError{Op: "open stderr pipe", Err: err}
	}

	if err := cmd.Start(); err != nil {
		return &spawnerr.IoError{Op: "start " + argv[0], Err: err}
	}

	stderrBuf := &cappedBuffer{max: DefaultMaxCapture}

	var g errgroup.Group
	g.Go(func() error {
		defer stdin.Close()
		if !opts.NoPreamble {
			if _, err := io.WriteString(stdin, psqlPreamble); err != nil {
				return err
			}
		}
		return write(stdin)
	})
	g.Go(func() error {
		dst := opts.Stdout
		if dst == nil {
			dst = io.Discard
		}
		_, err := io.Copy(dst, stdoutPipe)
		return err
	})
	g.Go(func() error {
		_, err := io.Copy(stderrBuf, stderrPipe)
		return err
	})

	writeErr := g.Wait()
	waitErr := cmd.Wait()

	// A render-side failure (template error, unsafe value) is the root
	// cause even when the aborted stream also made psql exit non-zero;
	// a plain pipe error is not — there the child's stderr explains what
	// actually happened.
	var classified spawnerr.Classified
	if writeErr != nil && errorsAs(writeErr, &classified) {
		return writeErr
	}
	if waitErr != nil {
		exit := -1
		if ee, ok := waitErr.(*exec.ExitError); ok {
			exit = ee.ExitCode()
		}
		return &spawnerr.EngineError{Exit: exit, Stderr: stderrBuf.String()}
	}
	if writeErr != nil {
		return writeErr
	}
	return nil
}

func errorsAs(err error, target *spawnerr.Classified) bool {
	for err != nil {
		if c, ok := err.(spawnerr.Classified); ok {
			*target = c
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
