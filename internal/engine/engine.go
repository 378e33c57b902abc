// Package engine is the PostgreSQL adapter that drives an external psql
// process. It never speaks the wire protocol itself — every interaction
// is SQL streamed into a psql child with stdout/stderr drained
// concurrently.
package engine

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spawn-build/spawn/internal/config"
	"github.com/spawn-build/spawn/internal/spawnerr"
	"github.com/spawn-build/spawn/internal/sqlescape"
	"github.com/zeebo/xxh3"
)

// UserNamespace is the namespace user migrations are recorded under;
// the engine's own schema migrations use EngineNamespace.
const (
	UserNamespace   = "default"
	EngineNamespace = "spawn"
)

// advisoryLockKey derives the two 32-bit halves of the process-wide
// advisory lock constant. The constant is the xxh3-64 of "spawn" and
// must stay stable across versions to preserve cross-version exclusion.
func advisoryLockKey() (int32, int32) {
	h := xxh3.HashString("spawn")
	return int32(uint32(h >> 32)), int32(uint32(h))
}

// Engine executes SQL against one configured database via psql.
type Engine struct {
	resolver *CommandResolver
	// schemaIdent and schemaLit are the schema name pre-escaped for the
	// two positions it appears in: as an identifier (schema.table) and
	// as a literal (WHERE table_schema = ...).
	schemaIdent sqlescape.Safe
	schemaLit   sqlescape.Safe
	actor       string
}

// New builds an engine for db. actor is recorded in history rows.
func New(db *config.DatabaseConfig, actor string) (*Engine, error) {
	ident, err := sqlescape.EscapeIdentifier(db.SpawnSchema)
	if err != nil {
		return nil, err
	}
	return &Engine{
		resolver:    NewCommandResolver(db.Command),
		schemaIdent: ident,
		schemaLit:   lit(db.SpawnSchema),
		actor:       actor,
	}, nil
}

// execute resolves the argv and runs one psql child.
func (e *Engine) execute(ctx context.Context, write func(io.Writer) error, opts ExecOptions) error {
	argv, err := e.resolver.Resolve(ctx)
	if err != nil {
		return err
	}
	return Execute(ctx, argv, write, opts)
}

// ExecuteSQL streams write's output into a fresh psql session, copying
// the child's stdout into stdout unbounded (the caller decides where
// large test output lands — a buffer or a file).
func (e *Engine) ExecuteSQL(ctx context.Context, write func(io.Writer) error, stdout io.Writer) error {
	return e.execute(ctx, write, ExecOptions{Stdout: stdout})
}

// query runs sql in a fresh psql session and returns its stdout with
// tuples-only CSV formatting, for the engine's own bookkeeping reads.
func (e *Engine) query(ctx context.Context, sql string) (string, error) {
	out := &cappedBuffer{max: DefaultMaxCapture}
	err := e.execute(ctx, func(w io.Writer) error {
		if _, err := io.WriteString(w, "\\pset tuples_only on\n\\pset format csv\n"); err != nil {
			return err
		}
		_, err := io.WriteString(w, sql)
		return err
	}, ExecOptions{Stdout: out})
	if err != nil {
		return "", err
	}
	return out.String(), nil
}

// run streams sql into a fresh psql session, discarding stdout.
func (e *Engine) run(ctx context.Context, sql string) error {
	return e.execute(ctx, func(w io.Writer) error {
		_, err := io.WriteString(w, sql)
		return err
	}, ExecOptions{})
}

func lit(s string) sqlescape.Safe {
	return sqlescape.Safe("'" + strings.ReplaceAll(s, "'", "''") + "'")
}

// tableExists checks information_schema for one of the engine's tables.
func (e *Engine) tableExists(ctx context.Context, table string) (bool, error) {
	out, err := e.query(ctx, fmt.Sprintf(
		"SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_schema = %s AND table_name = %s);\n",
		e.schemaLit, lit(table)))
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) == "t", nil
}

// HistoryRow is the latest migration_history entry for one migration.
type HistoryRow struct {
	Name      string
	Namespace string
	Activity  string
	Status    string
	Checksum  string
	PinHash   string
	AppliedAt string
}

// lastHistory returns the most recent history row for name in ns, or
// nil when the migration has never been recorded.
func (e *Engine) lastHistory(ctx context.Context, name, ns string) (*HistoryRow, error) {
	exists, err := e.tableExists(ctx, "migration_history")
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	out, err := e.query(ctx, fmt.Sprintf(`SELECT m.name, m.namespace, mh.activity, mh.status, coalesce(mh.checksum, ''), coalesce(mh.pin_hash, ''), mh.created_at
FROM %s.migration_history mh
JOIN %s.migration m ON mh.migration_id = m.migration_id
WHERE m.name = %s AND m.namespace = %s
ORDER BY mh.migration_history_id DESC
LIMIT 1;
`, e.schemaIdent, e.schemaIdent, lit(name), lit(ns)))
	if err != nil {
		return nil, err
	}
	line := strings.TrimSpace(out)
	if line == "" {
		return nil, nil
	}
	row, err := parseHistoryCSV(line)
	if err != nil {
		return nil, &spawnerr.EngineError{Exit: 0, Stderr: fmt.Sprintf("unparseable history row %q", line)}
	}
	return row, nil
}

func parseHistoryCSV(line string) (*HistoryRow, error) {
	fields := splitCSVLine(line)
	if len(fields) < 7 {
		return nil, fmt.Errorf("expected 7 fields, got %d", len(fields))
	}
	return &HistoryRow{
		Name:      fields[0],
		Namespace: fields[1],
		Activity:  fields[2],
		Status:    fields[3],
		Checksum:  fields[4],
		PinHash:   fields[5],
		AppliedAt: fields[6],
	}, nil
}

// splitCSVLine splits one psql csv-format output line. psql only quotes
// fields containing separators or quotes; this undoes exactly that.
func splitCSVLine(line string) []string {
	var fields []string
	var cur strings.Builder
	inQuotes := false
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case inQuotes && c == '"' && i+1 < len(line) && line[i+1] == '"':
			cur.WriteByte('"')
			i++
		case c == '"':
			inQuotes = !inQuotes
		case c == ',' && !inQuotes:
			fields = append(fields, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	fields = append(fields, cur.String())
	return fields
}
