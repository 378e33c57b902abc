package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spawn-build/spawn/internal/spawnerr"
)

// noteLimit bounds the stderr tail recorded in a FAILURE history row.
const noteLimit = 2000

// historyRecord is one row to insert into {schema}.migration_history.
type historyRecord struct {
	Name      string
	Namespace string
	Activity  string // APPLY | ADOPT | REVERT
	Status    string // SUCCESS | ATTEMPTED | FAILURE
	Checksum  string // hex, "" → NULL
	PinHash   string // hex, "" → NULL
	Duration  time.Duration
	Note      string
}

// recordHistory opens a fresh session and inserts exactly one history
// row, creating the migration row on first sight. This is "Session B":
// it runs on its own connection so it succeeds even when the apply
// session left its connection in an aborted transaction.
func (e *Engine) recordHistory(ctx context.Context, rec historyRecord) error {
	note := rec.Note
	if len(note) > noteLimit {
		note = note[:noteLimit] + "...(truncated)"
	}
	sql := fmt.Sprintf(`BEGIN;
INSERT INTO %s.migration (name, namespace) VALUES (%s, %s)
ON CONFLICT (name, namespace) DO NOTHING;
INSERT INTO %s.migration_history (migration_id, activity, status, created_by, checksum, pin_hash, execution_time, note)
SELECT migration_id, %s, %s, %s, NULLIF(%s, ''), NULLIF(%s, ''), INTERVAL '%f second', %s
FROM %s.migration WHERE name = %s AND namespace = %s;
COMMIT;
`,
		e.schemaIdent, lit(rec.Name), lit(rec.Namespace),
		e.schemaIdent,
		lit(rec.Activity), lit(rec.Status), lit(e.actor),
		lit(rec.Checksum), lit(rec.PinHash),
		rec.Duration.Seconds(), lit(note),
		e.schemaIdent, lit(rec.Name), lit(rec.Namespace))
	return e.run(ctx, sql)
}

// RenderFunc streams a migration's rendered SQL into w and returns the
// checksum of the bytes written. A non-nil error means the stream ended
// dirty; the checksum returned with it may be empty.
type RenderFunc func(w io.Writer) (checksum string, err error)

// ApplyOptions configure one apply.
type ApplyOptions struct {
	// Retry permits re-applying after a recorded FAILURE.
	Retry bool
	// PinHash is the pinned tree digest recorded alongside the history
	// row; empty for an unpinned apply.
	PinHash string
}

// Apply runs the full two-session protocol: bootstrap,
// advisory lock, history pre-check, apply session, record session,
// release. The returned error reflects the apply itself; history
// recording is best-effort on failure paths and both errors are joined
// when Session B also fails.
func (e *Engine) Apply(ctx context.Context, name string, render RenderFunc, opts ApplyOptions) error {
	if err := e.Bootstrap(ctx); err != nil {
		return err
	}

	lock, err := e.acquireLock(ctx, name)
	if err != nil {
		return err
	}
	defer lock.close()

	last, err := e.lastHistory(ctx, name, UserNamespace)
	if err != nil {
		return err
	}
	if last != nil {
		switch last.Status {
		case "SUCCESS":
			return &spawnerr.AlreadyAppliedError{Migration: name, Checksum: last.Checksum}
		case "FAILURE", "ATTEMPTED":
			if !opts.Retry {
				return &spawnerr.NotAppliedError{
					Migration: name,
					Reason:    fmt.Sprintf("previous %s ended in %s; use --retry to attempt again", last.Activity, last.Status),
				}
			}
		}
	}

	// Session A: stream the render into psql, measuring wall duration.
	start := time.Now()
	var checksum string
	applyErr := e.execute(ctx, func(w io.Writer) error {
		var err error
		checksum, err = render(w)
		return err
	}, ExecOptions{})
	duration := time.Since(start)

	rec := historyRecord{
		Name:      name,
		Namespace: UserNamespace,
		Activity:  "APPLY",
		Checksum:  checksum,
		PinHash:   opts.PinHash,
		Duration:  duration,
	}
	if applyErr == nil {
		rec.Status = "SUCCESS"
	} else {
		rec.Status = "FAILURE"
		rec.Note = failureNote(ctx, applyErr)
	}

	// Session B: record on a fresh connection while still holding the
	// lock. On the failure path this is best-effort — the apply error
	// stays primary, with the record error joined for visibility.
	if recErr := e.recordHistory(ctx, rec); recErr != nil {
		if applyErr != nil {
			return errors.Join(applyErr, recErr)
		}
		return recErr
	}
	return applyErr
}

func failureNote(ctx context.Context, err error) string {
	if ctx.Err() != nil {
		return "cancelled"
	}
	var ee *spawnerr.EngineError
	if errors.As(err, &ee) {
		return ee.Stderr
	}
	return err.Error()
}

// Adopt records activity=ADOPT, status=SUCCESS without executing any
// SQL, backfilling history for migrations applied out-of-band.
func (e *Engine) Adopt(ctx context.Context, name, checksum, pinHash string) error {
	if err := e.Bootstrap(ctx); err != nil {
		return err
	}
	lock, err := e.acquireLock(ctx, name)
	if err != nil {
		return err
	}
	defer lock.close()

	last, err := e.lastHistory(ctx, name, UserNamespace)
	if err != nil {
		return err
	}
	if last != nil && last.Status == "SUCCESS" {
		return &spawnerr.AlreadyAppliedError{Migration: name, Checksum: last.Checksum}
	}
	return e.recordHistory(ctx, historyRecord{
		Name:      name,
		Namespace: UserNamespace,
		Activity:  "ADOPT",
		Status:    "SUCCESS",
		Checksum:  checksum,
		PinHash:   pinHash,
	})
}

// History returns the latest history row per migration name in the user
// namespace, keyed by name. Returns an empty map before bootstrap.
func (e *Engine) History(ctx context.Context) (map[string]HistoryRow, error) {
	exists, err := e.tableExists(ctx, "migration_history")
	if err != nil {
		return nil, err
	}
	out := map[string]HistoryRow{}
	if !exists {
		return out, nil
	}
	raw, err := e.query(ctx, fmt.Sprintf(`SELECT DISTINCT ON (m.migration_id)
  m.name, m.namespace, mh.activity, mh.status, coalesce(mh.checksum, ''), coalesce(mh.pin_hash, ''), mh.created_at
FROM %s.migration_history mh
JOIN %s.migration m ON mh.migration_id = m.migration_id
WHERE m.namespace = %s
ORDER BY m.migration_id, mh.migration_history_id DESC;
`, e.schemaIdent, e.schemaIdent, lit(UserNamespace)))
	if err != nil {
		return nil, err
	}
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		row, err := parseHistoryCSV(line)
		if err != nil {
			continue
		}
		out[row.Name] = *row
	}
	return out, nil
}
