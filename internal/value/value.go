// Package value implements the tagged value model backing the variables
// bundle, shared by the template engine (internal/template) and escaper
// (internal/sqlescape) as their common runtime type.
package value

import "fmt"

// Kind discriminates the variant held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindList
	KindMap
	KindBytes
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	case KindBytes:
		return "bytes"
	default:
		return "unknown"
	}
}

// Value is an immutable tagged union over null, bool, int, float,
// string, list, map, and bytes.
type Value struct {
	kind  Kind
	b     bool
	i     int64
	f     float64
	s     string
	list  []Value
	m     map[string]Value
	bytes []byte

	// safe marks a string value as already-escaped SQL. Only meaningful
	// for KindString; every other kind is always unsafe and goes
	// through the literal escaper on output.
	safe bool
}

func Null() Value               { return Value{kind: KindNull} }
func Bool(b bool) Value         { return Value{kind: KindBool, b: b} }
func Int(i int64) Value         { return Value{kind: KindInt, i: i} }
func Float(f float64) Value     { return Value{kind: KindFloat, f: f} }
func String(s string) Value     { return Value{kind: KindString, s: s} }
func Bytes(b []byte) Value      { return Value{kind: KindBytes, bytes: append([]byte(nil), b...)} }
func List(vs []Value) Value     { return Value{kind: KindList, list: vs} }
func Map(m map[string]Value) Value {
	return Value{kind: KindMap, m: m}
}

// SafeString tags s as already-escaped SQL, exempt from auto-escaping.
func SafeString(s string) Value { return Value{kind: KindString, s: s, safe: true} }

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

// IsSafe reports whether v carries the already-escaped tag.
func (v Value) IsSafe() bool { return v.kind == KindString && v.safe }

func (v Value) Bool() (bool, bool)       { return v.b, v.kind == KindBool }
func (v Value) Int() (int64, bool)       { return v.i, v.kind == KindInt }
func (v Value) Float() (float64, bool)   { return v.f, v.kind == KindFloat }
func (v Value) Str() (string, bool)      { return v.s, v.kind == KindString }
func (v Value) BytesVal() ([]byte, bool) { return v.bytes, v.kind == KindBytes }
func (v Value) List() ([]Value, bool)    { return v.list, v.kind == KindList }
func (v Value) Map() (map[string]Value, bool) {
	return v.m, v.kind == KindMap
}

// Truthy implements the engine's notion of truthiness for if, and, or
// and not.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindNull:
		return false
	case KindBool:
		return v.b
	case KindInt:
		return v.i != 0
	case KindFloat:
		return v.f != 0
	case KindString:
		return v.s != ""
	case KindList:
		return len(v.list) > 0
	case KindMap:
		return len(v.m) > 0
	case KindBytes:
		return len(v.bytes) > 0
	default:
		return false
	}
}

// Get descends nested maps one key per argument (Get("db", "host") for
// db.host), used to expose the "variables" bundle to templates.
func (v Value) Get(path ...string) (Value, bool) {
	cur := v
	for _, p := range path {
		m, ok := cur.Map()
		if !ok {
			return Value{}, false
		}
		next, ok := m[p]
		if !ok {
			return Value{}, false
		}
		cur = next
	}
	return cur, true
}

// Index resolves integer indexing into a list, used by template
// subscript expressions.
func (v Value) Index(i int) (Value, bool) {
	l, ok := v.List()
	if !ok || i < 0 || i >= len(l) {
		return Value{}, false
	}
	return l[i], true
}

// String renders a debug/display form; NOT the SQL-escaped form (that is
// internal/sqlescape's job).
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindBool:
		if v.b {
			return "true"
		}
		return "false"
	case KindInt:
		return fmt.Sprintf("%d", v.i)
	case KindFloat:
		return fmt.Sprintf("%g", v.f)
	case KindString:
		return v.s
	case KindBytes:
		return fmt.Sprintf("%x", v.bytes)
	case KindList:
		out := "["
		for i, e := range v.list {
			if i > 0 {
				out += ", "
			}
			out += e.String()
		}
		return out + "]"
	case KindMap:
		return fmt.Sprintf("<map with %d keys>", len(v.m))
	default:
		return ""
	}
}
