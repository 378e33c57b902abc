package engine

import (
	"bytes"
	"context"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/spawn-build/spawn/internal/spawnerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestExecuteStreamsStdinToStdout(t *testing.T) {
	var out bytes.Buffer
	err := Execute(context.Background(), []string{"cat"}, func(w io.Writer) error {
		_, err := io.WriteString(w, "SELECT 1;\n")
		return err
	}, ExecOptions{Stdout: &out, NoPreamble: true})
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1;\n", out.String())
}

func TestExecutePreamble(t *testing.T) {
	var out bytes.Buffer
	err := Execute(context.Background(), []string{"cat"}, func(w io.Writer) error {
		_, err := io.WriteString(w, "body\n")
		return err
	}, ExecOptions{Stdout: &out})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out.String(), "\\set QUIET on\n"), "preamble comes first")
	assert.True(t, strings.HasSuffix(out.String(), "body\n"))
}

func TestExecuteNonZeroExit(t *testing.T) {
	err := Execute(context.Background(), []string{"sh", "-c", "echo boom >&2; exit 3"},
		func(w io.Writer) error { return nil }, ExecOptions{NoPreamble: true})
	var ee *spawnerr.EngineError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, 3, ee.Exit)
	assert.Contains(t, ee.Stderr, "boom")
}

func TestExecuteRenderErrorWins(t *testing.T) {
	// A classified render failure stays primary even though closing
	// stdin early can also upset the child.
	renderErr := &spawnerr.TemplateError{Msg: "undefined variable"}
	err := Execute(context.Background(), []string{"cat"}, func(w io.Writer) error {
		_, _ = io.WriteString(w, "partial")
		return renderErr
	}, ExecOptions{NoPreamble: true})
	var te *spawnerr.TemplateError
	assert.ErrorAs(t, err, &te)
}

func TestExecuteCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Execute(ctx, []string{"sh", "-c", "sleep 60"}, func(w io.Writer) error {
			<-ctx.Done()
			return ctx.Err()
		}, ExecOptions{NoPreamble: true})
	}()
	cancel()
	err := <-done
	assert.Error(t, err)
}

func TestCappedBuffer(t *testing.T) {
	b := &cappedBuffer{max: 5}
	n, err := b.Write([]byte("123456789"))
	require.NoError(t, err)
	assert.Equal(t, 9, n, "writes never short-count, overflow is dropped")
	assert.Equal(t, "12345\n...(truncated)", b.String())

	small := &cappedBuffer{max: 100}
	_, _ = small.Write([]byte("all kept"))
	assert.Equal(t, "all kept", small.String())
}

func TestSplitCSVLine(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"a,b,c", []string{"a", "b", "c"}},
		{`a,"with,comma",c`, []string{"a", "with,comma", "c"}},
		{`"quote""inside",b`, []string{`quote"inside`, "b"}},
		{"one", []string{"one"}},
		{"a,,c", []string{"a", "", "c"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, splitCSVLine(tt.in), tt.in)
	}
}

func TestParseHistoryCSV(t *testing.T) {
	row, err := parseHistoryCSV("20260101000000-one,default,APPLY,SUCCESS,abc123,def456,2026-01-01 00:00:00+00")
	require.NoError(t, err)
	assert.Equal(t, "20260101000000-one", row.Name)
	assert.Equal(t, "APPLY", row.Activity)
	assert.Equal(t, "SUCCESS", row.Status)
	assert.Equal(t, "abc123", row.Checksum)
	assert.Equal(t, "def456", row.PinHash)

	_, err = parseHistoryCSV("too,few,fields")
	assert.Error(t, err)
}
