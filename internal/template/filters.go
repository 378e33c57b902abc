package template

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/spawn-build/spawn/internal/spawnerr"
	"github.com/spawn-build/spawn/internal/sqlescape"
	"github.com/spawn-build/spawn/internal/value"
)

func registerBuiltinFilters(e *Env) {
	e.Filters["upper"] = filterUpper
	e.Filters["lower"] = filterLower
	e.Filters["length"] = filterLength
	e.Filters["default"] = filterDefault
	e.Filters["replace"] = filterReplace

	e.Filters["safe"] = filterSafe
	e.Filters["escape_identifier"] = filterEscapeIdentifier

	e.Filters["read_file"] = filterReadFile
	e.Filters["to_string_lossy"] = filterToStringLossy
	e.Filters["base64_encode"] = filterBase64Encode
	e.Filters["parse_json"] = parseFilter("parse_json", value.FromJSON)
	e.Filters["parse_toml"] = parseFilter("parse_toml", value.FromTOML)
	e.Filters["parse_yaml"] = parseFilter("parse_yaml", value.FromYAML)
	e.Filters["read_json"] = readParseFilter("read_json", value.FromJSON)
	e.Filters["read_toml"] = readParseFilter("read_toml", value.FromTOML)
	e.Filters["read_yaml"] = readParseFilter("read_yaml", value.FromYAML)
}

func wantString(name string, v value.Value) (string, error) {
	s, ok := v.Str()
	if !ok {
		return "", &spawnerr.TemplateError{Msg: fmt.Sprintf("%s: expected a string, got %s", name, v.Kind())}
	}
	return s, nil
}

func filterUpper(_ *Env, v value.Value, _ []value.Value) (value.Value, error) {
	s, err := wantString("upper", v)
	if err != nil {
		return value.Value{}, err
	}
	return value.String(strings.ToUpper(s)), nil
}

func filterLower(_ *Env, v value.Value, _ []value.Value) (value.Value, error) {
	s, err := wantString("lower", v)
	if err != nil {
		return value.Value{}, err
	}
	return value.String(strings.ToLower(s)), nil
}

func filterLength(_ *Env, v value.Value, _ []value.Value) (value.Value, error) {
	return lengthOf(v)
}

// filterDefault substitutes its argument when the target is null, so
// `variables.x | default("fallback")` covers a key whose value is null.
// A key absent from the map still fails in attribute lookup before the
// filter runs. It does not treat empty strings or zero as missing.
func filterDefault(_ *Env, v value.Value, args []value.Value) (value.Value, error) {
	if len(args) != 1 {
		return value.Value{}, &spawnerr.TemplateError{Msg: "default: takes exactly one argument"}
	}
	if v.IsNull() {
		return args[0], nil
	}
	return v, nil
}

func filterReplace(_ *Env, v value.Value, args []value.Value) (value.Value, error) {
	s, err := wantString("replace", v)
	if err != nil {
		return value.Value{}, err
	}
	if len(args) != 2 {
		return value.Value{}, &spawnerr.TemplateError{Msg: "replace: takes exactly two arguments"}
	}
	from, err := wantString("replace", args[0])
	if err != nil {
		return value.Value{}, err
	}
	to, err := wantString("replace", args[1])
	if err != nil {
		return value.Value{}, err
	}
	return value.String(strings.ReplaceAll(s, from, to)), nil
}

// filterSafe unconditionally marks its target as already-escaped SQL.
// This is a deliberate, documented footgun: anything piped through it
// reaches the database verbatim, so it must only ever see trusted
// fragments, never user-supplied values.
func filterSafe(_ *Env, v value.Value, _ []value.Value) (value.Value, error) {
	if v.IsSafe() {
		return v, nil
	}
	s, ok := v.Str()
	if !ok {
		s = v.String()
	}
	return value.SafeString(s), nil
}

func filterEscapeIdentifier(_ *Env, v value.Value, _ []value.Value) (value.Value, error) {
	s, err := wantString("escape_identifier", v)
	if err != nil {
		return value.Value{}, err
	}
	ident, err := sqlescape.EscapeIdentifier(s)
	if err != nil {
		return value.Value{}, err
	}
	return value.SafeString(ident.String()), nil
}

func filterReadFile(e *Env, v value.Value, _ []value.Value) (value.Value, error) {
	path, err := wantString("read_file", v)
	if err != nil {
		return value.Value{}, err
	}
	data, err := e.open(path)
	if err != nil {
		return value.Value{}, err
	}
	return value.Bytes(data), nil
}

func filterToStringLossy(_ *Env, v value.Value, _ []value.Value) (value.Value, error) {
	if b, ok := v.BytesVal(); ok {
		return value.String(strings.ToValidUTF8(string(b), "�")), nil
	}
	if s, ok := v.Str(); ok {
		return value.String(strings.ToValidUTF8(s, "�")), nil
	}
	return value.Value{}, &spawnerr.TemplateError{Msg: fmt.Sprintf("to_string_lossy: expected bytes or string, got %s", v.Kind())}
}

func filterBase64Encode(_ *Env, v value.Value, _ []value.Value) (value.Value, error) {
	var data []byte
	if b, ok := v.BytesVal(); ok {
		data = b
	} else if s, ok := v.Str(); ok {
		data = []byte(s)
	} else {
		return value.Value{}, &spawnerr.TemplateError{Msg: fmt.Sprintf("base64_encode: expected bytes or string, got %s", v.Kind())}
	}
	return value.String(base64.StdEncoding.EncodeToString(data)), nil
}

func parseFilter(name string, parse func([]byte) (value.Value, error)) Filter {
	return func(_ *Env, v value.Value, _ []value.Value) (value.Value, error) {
		s, err := wantString(name, v)
		if err != nil {
			return value.Value{}, err
		}
		out, err := parse([]byte(s))
		if err != nil {
			return value.Value{}, &spawnerr.TemplateError{Msg: err.Error(), Err: err}
		}
		return out, nil
	}
}

// readParseFilter is the read_json/read_toml/read_yaml sugar: read the
// component through the loader, decode lossily, parse.
func readParseFilter(name string, parse func([]byte) (value.Value, error)) Filter {
	return func(e *Env, v value.Value, _ []value.Value) (value.Value, error) {
		path, err := wantString(name, v)
		if err != nil {
			return value.Value{}, err
		}
		data, err := e.open(path)
		if err != nil {
			return value.Value{}, err
		}
		out, err := parse([]byte(strings.ToValidUTF8(string(data), "�")))
		if err != nil {
			return value.Value{}, &spawnerr.TemplateError{Msg: err.Error(), Path: path, Err: err}
		}
		return out, nil
	}
}

func lengthOf(v value.Value) (value.Value, error) {
	if s, ok := v.Str(); ok {
		return value.Int(int64(len(s))), nil
	}
	if l, ok := v.List(); ok {
		return value.Int(int64(len(l))), nil
	}
	if m, ok := v.Map(); ok {
		return value.Int(int64(len(m))), nil
	}
	if b, ok := v.BytesVal(); ok {
		return value.Int(int64(len(b))), nil
	}
	return value.Value{}, &spawnerr.TemplateError{Msg: fmt.Sprintf("length: cannot measure %s value", v.Kind())}
}
