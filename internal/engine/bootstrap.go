package engine

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/spawn-build/spawn/internal/loader"
	"github.com/spawn-build/spawn/internal/spawnerr"
	"github.com/spawn-build/spawn/internal/template"
	"github.com/spawn-build/spawn/internal/value"
	"github.com/spawn-build/spawn/static"
)

const engineMigrationsRoot = "engine-migrations/postgres-psql"

// Bootstrap applies the embedded engine migrations that have not yet
// been recorded, creating the {schema}.migration bookkeeping tables on
// first contact with a database. Idempotent.
func (e *Engine) Bootstrap(ctx context.Context) error {
	entries, err := fs.ReadDir(static.EngineMigrations, engineMigrationsRoot)
	if err != nil {
		return &spawnerr.IoError{Op: "read embedded engine migrations", Err: err}
	}
	names := make([]string, 0, len(entries))
	for _, ent := range entries {
		if ent.IsDir() {
			names = append(names, ent.Name())
		}
	}
	sort.Strings(names)

	applied, err := e.appliedEngineMigrations(ctx)
	if err != nil {
		return err
	}

	for _, name := range names {
		if applied[name] {
			continue
		}
		src, err := fs.ReadFile(static.EngineMigrations, engineMigrationsRoot+"/"+name+"/up.sql")
		if err != nil {
			return &spawnerr.IoError{Op: "read embedded migration " + name, Err: err}
		}
		sql, err := e.renderEngineMigration(string(src))
		if err != nil {
			return err
		}
		if err := e.run(ctx, sql); err != nil {
			return err
		}
		if err := e.recordHistory(ctx, historyRecord{
			Name:      name,
			Namespace: EngineNamespace,
			Activity:  "APPLY",
			Status:    "SUCCESS",
		}); err != nil {
			return err
		}
	}
	return nil
}

// renderEngineMigration renders an embedded up.sql with the schema bound
// as a pre-escaped identifier, through the same template engine user
// migrations get.
func (e *Engine) renderEngineMigration(src string) (string, error) {
	tpl, err := template.Parse(src)
	if err != nil {
		return "", &spawnerr.TemplateError{Msg: err.Error(), Err: err}
	}
	env := template.NewEnv(loader.Map{}, "", value.Null())
	env.Globals["schema"] = value.SafeString(e.schemaIdent.String())
	var b strings.Builder
	if err := template.Render(tpl, env, &b); err != nil {
		return "", err
	}
	return b.String(), nil
}

// appliedEngineMigrations returns the engine-namespace migration names
// already recorded, or an empty set before the first bootstrap.
func (e *Engine) appliedEngineMigrations(ctx context.Context) (map[string]bool, error) {
	exists, err := e.tableExists(ctx, "migration")
	if err != nil {
		return nil, err
	}
	if !exists {
		return map[string]bool{}, nil
	}
	out, err := e.query(ctx, fmt.Sprintf(
		"SELECT name FROM %s.migration WHERE namespace = %s;\n", e.schemaIdent, lit(EngineNamespace)))
	if err != nil {
		return nil, err
	}
	applied := map[string]bool{}
	for _, line := range strings.Split(out, "\n") {
		if name := strings.TrimSpace(line); name != "" {
			applied[name] = true
		}
	}
	return applied, nil
}
