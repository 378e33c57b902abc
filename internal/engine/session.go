package engine

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"syscall"

	"github.com/spawn-build/spawn/internal/spawnerr"
	"golang.org/x/sys/unix"
)

const (
	lockAcquiredMarker = "SPAWN_LOCK_ACQUIRED"
	lockBusyMarker     = "SPAWN_LOCK_BUSY"
)

// lockSession is the long-lived psql session ("Session L") that holds
// the advisory lock while the apply and record sessions run. The lock is
// session-scoped on the PostgreSQL side, so closing this session — on
// any exit path, including a crash — releases it.
type lockSession struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *cappedBuffer
}

// acquireLock opens Session L and attempts pg_try_advisory_lock. A held
// lock fails with Contended without opening further sessions.
func (e *Engine) acquireLock(ctx context.Context, migration string) (*lockSession, error) {
	argv, err := e.resolver.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	h1, h2 := advisoryLockKey()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return unix.Kill(-cmd.Process.Pid, unix.SIGTERM)
	}
	cmd.WaitDelay = killGracePeriod

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &spawnerr.IoError{Op: "open stdin pipe", Err: err}
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &spawnerr.IoError{Op: "open stdout pipe", Err: err}
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, &spawnerr.IoError{Op: "open stderr pipe", Err: err}
	}
	if err := cmd.Start(); err != nil {
		return nil, &spawnerr.IoError{Op: "start " + argv[0], Err: err}
	}

	s := &lockSession{cmd: cmd, stdin: stdin, stderr: &cappedBuffer{max: DefaultMaxCapture}}
	go func() { _, _ = io.Copy(s.stderr, stderrPipe) }()

	probe := psqlPreamble +
		"\\pset tuples_only on\n\\pset format unaligned\n" +
		fmt.Sprintf("SELECT CASE WHEN pg_try_advisory_lock(%d, %d) THEN '%s' ELSE '%s' END;\n",
			h1, h2, lockAcquiredMarker, lockBusyMarker)
	if _, err := io.WriteString(stdin, probe); err != nil {
		s.close()
		return nil, &spawnerr.IoError{Op: "write lock probe", Err: err}
	}

	r := bufio.NewReader(stdoutPipe)
	for {
		line, err := r.ReadString('\n')
		trimmed := strings.TrimSpace(line)
		switch trimmed {
		case lockAcquiredMarker:
			// Keep draining stdout so the session never blocks on a full
			// pipe while it idles holding the lock.
			go func() { _, _ = io.Copy(io.Discard, r) }()
			return s, nil
		case lockBusyMarker:
			s.close()
			return nil, &spawnerr.ContendedError{Migration: migration}
		}
		if err != nil {
			s.close()
			return nil, &spawnerr.EngineError{Exit: -1, Stderr: s.stderr.String()}
		}
	}
}

// close releases the lock by ending the session. Explicit unlock is
// unnecessary — the advisory lock dies with the connection — but a
// polite \q lets psql exit cleanly instead of seeing EOF.
func (s *lockSession) close() {
	if s.stdin != nil {
		_, _ = io.WriteString(s.stdin, "\\q\n")
		_ = s.stdin.Close()
		s.stdin = nil
	}
	_ = s.cmd.Wait()
}
