package template

import (
	"github.com/spawn-build/spawn/internal/loader"
	"github.com/spawn-build/spawn/internal/spawnerr"
	"github.com/spawn-build/spawn/internal/storage"
	"github.com/spawn-build/spawn/internal/value"
)

// Filter is a named transformation invoked as `expr | name(args...)`.
// Filters receive the Env so the file-reading filters (read_file and the
// read_json/read_toml/read_yaml sugar) can resolve paths through the
// loader, which is the only file access templates ever get.
type Filter func(e *Env, target value.Value, args []value.Value) (value.Value, error)

// Function is a named callable invoked as `name(args...)`.
type Function func(args []value.Value) (value.Value, error)

// Env binds everything a render needs beyond the parsed Template
// itself: the loader for include/import/read_file resolution, the
// standard context (env, variables), and the filter/function
// registries, populated once in NewEnv and extendable by callers that
// need additional builtins.
type Env struct {
	Loader    loader.Loader
	Globals   map[string]value.Value
	Filters   map[string]Filter
	Functions map[string]Function
}

// NewEnv builds an environment with the standard context and builtin
// filters/functions already registered. envName and variables populate
// the "env"/"variables" globals.
func NewEnv(l loader.Loader, envName string, variables value.Value) *Env {
	e := &Env{
		Loader: l,
		Globals: map[string]value.Value{
			"env":       value.String(envName),
			"variables": variables,
		},
		Filters:   map[string]Filter{},
		Functions: map[string]Function{},
	}
	registerBuiltinFilters(e)
	registerBuiltinFunctions(e)
	return e
}

// open resolves path through the loader, mapping a path that escapes the
// components root to TemplateSecurityError before the loader ever sees
// it.
func (e *Env) open(path string) ([]byte, error) {
	if err := storage.ValidatePath(path); err != nil {
		return nil, &spawnerr.TemplateSecurityError{Path: path}
	}
	data, err := e.Loader.Open(path)
	if err != nil {
		return nil, &spawnerr.TemplateError{Msg: err.Error(), Path: path, Err: err}
	}
	return data, nil
}

func (e *Env) lookupFilter(name string) (Filter, bool) {
	f, ok := e.Filters[name]
	return f, ok
}

func (e *Env) lookupFunction(name string) (Function, bool) {
	f, ok := e.Functions[name]
	return f, ok
}
