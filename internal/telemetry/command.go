package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const commandScopeName = "github.com/spawn-build/spawn/command"

// Command records one span per CLI invocation, tagged only with
// non-identifying properties: the anonymous project id, the command
// name, and whether the build was pinned. No migration names, paths, or
// SQL ever leave the process.
type Command struct {
	span    trace.Span
	start   time.Time
	runs    metric.Int64Counter
	dur     metric.Float64Histogram
	command string
}

// StartCommand opens the per-command span. projectID is the anonymous
// UUID from spawn.toml ("" when the project has none).
func StartCommand(ctx context.Context, command, projectID string) (context.Context, *Command) {
	c := &Command{start: time.Now(), command: command}
	if !Enabled() {
		return ctx, c
	}
	m := Meter(commandScopeName)
	c.runs, _ = m.Int64Counter("spawn.command.runs",
		metric.WithDescription("Total CLI command invocations"),
	)
	c.dur, _ = m.Float64Histogram("spawn.command.duration",
		metric.WithDescription("CLI command wall time in seconds"),
	)
	ctx, c.span = Tracer(commandScopeName).Start(ctx, command,
		trace.WithAttributes(
			attribute.String("spawn.command", command),
			attribute.String("spawn.project_id", projectID),
		),
	)
	return ctx, c
}

// SetPinned tags the span with whether the command built from a pin.
func (c *Command) SetPinned(pinned bool) {
	if c.span != nil {
		c.span.SetAttributes(attribute.Bool("spawn.pinned", pinned))
	}
}

// End closes the span, recording the outcome and duration.
func (c *Command) End(ctx context.Context, err error) {
	if c.span == nil {
		return
	}
	elapsed := time.Since(c.start).Seconds()
	attrs := metric.WithAttributes(
		attribute.String("spawn.command", c.command),
		attribute.Bool("spawn.ok", err == nil),
	)
	if c.runs != nil {
		c.runs.Add(ctx, 1, attrs)
	}
	if c.dur != nil {
		c.dur.Record(ctx, elapsed, attrs)
	}
	if err != nil {
		c.span.SetStatus(codes.Error, err.Error())
	} else {
		c.span.SetStatus(codes.Ok, "")
	}
	c.span.End()
}
