// Package sqlescape implements type-directed PostgreSQL literal and
// identifier escaping, plus the Safe wrapper that lets the template
// engine (internal/template) distinguish "already valid SQL" from
// "untrusted value that must be escaped on every interpolation."
package sqlescape

import (
	"fmt"
	"math"
	"strings"

	"github.com/spawn-build/spawn/internal/spawnerr"
	"github.com/spawn-build/spawn/internal/value"
)

// Safe marks a string as already-escaped (or intentionally raw) SQL,
// exempt from auto-escaping on further interpolation.
// Concatenating two Safe strings yields Safe; the
// template evaluator is responsible for escaping the non-Safe side when
// concatenating Safe with an unescaped value (see internal/template's
// binary "+" handling).
type Safe string

// String returns the underlying SQL text.
func (s Safe) String() string { return string(s) }

// EscapeLiteral renders v as a PostgreSQL literal by its type. Maps
// have no default serialization and are rejected.
func EscapeLiteral(v value.Value) (Safe, error) {
	switch v.Kind() {
	case value.KindNull:
		return Safe("NULL"), nil
	case value.KindBool:
		b, _ := v.Bool()
		if b {
			return Safe("TRUE"), nil
		}
		return Safe("FALSE"), nil
	case value.KindInt:
		i, _ := v.Int()
		return Safe(fmt.Sprintf("%d", i)), nil
	case value.KindFloat:
		f, _ := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return "", &spawnerr.UnsafeValueError{Reason: "NaN/Infinity is not a valid SQL literal"}
		}
		return Safe(formatFloat(f)), nil
	case value.KindString:
		s, _ := v.Str()
		return Safe(escapeStringLiteral(s)), nil
	case value.KindBytes:
		b, _ := v.BytesVal()
		return Safe(escapeBytesLiteral(b)), nil
	case value.KindList:
		items, _ := v.List()
		parts := make([]string, len(items))
		for i, it := range items {
			esc, err := EscapeLiteral(it)
			if err != nil {
				return "", err
			}
			parts[i] = esc.String()
		}
		return Safe("ARRAY[" + strings.Join(parts, ", ") + "]"), nil
	case value.KindMap:
		return "", &spawnerr.UnsafeValueError{Reason: "maps have no default SQL serialization; use a filter to project a scalar/list first"}
	default:
		return "", &spawnerr.UnsafeValueError{Reason: "unrecognized value kind"}
	}
}

func formatFloat(f float64) string {
	s := fmt.Sprintf("%g", f)
	return s
}

// escapeStringLiteral single-quotes s, doubling embedded quotes. No
// E''/backslash processing: this escaper never emits Postgres's
// "extended" string syntax.
func escapeStringLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// escapeBytesLiteral renders bytes using Postgres's hex bytea escape.
func escapeBytesLiteral(b []byte) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, 0, len(b)*2+3)
	out = append(out, '\'', '\\', 'x')
	for _, c := range b {
		out = append(out, hexdigits[c>>4], hexdigits[c&0xf])
	}
	out = append(out, '\'')
	return string(out)
}

// EscapeIdentifier double-quotes s, doubling embedded quotes. Rejects
// the empty string and any NUL byte.
func EscapeIdentifier(s string) (Safe, error) {
	if s == "" {
		return "", &spawnerr.UnsafeValueError{Reason: "identifier must not be empty"}
	}
	if strings.IndexByte(s, 0) >= 0 {
		return "", &spawnerr.UnsafeValueError{Reason: "identifier must not contain NUL"}
	}
	return Safe(`"` + strings.ReplaceAll(s, `"`, `""`) + `"`), nil
}
