package value

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// FromJSON parses JSON text into a Value. Numbers are decoded via
// json.Number so whole numbers stay ints instead of collapsing to
// float64, matching the TOML and YAML loaders.
func FromJSON(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return Value{}, fmt.Errorf("parse_json: %w", err)
	}
	if dec.More() {
		return Value{}, fmt.Errorf("parse_json: trailing data after JSON document")
	}
	return fromGo(raw), nil
}

// FromTOML parses TOML text into a Value. TOML has no top-level scalar
// documents, so the root is always a map.
func FromTOML(data []byte) (Value, error) {
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return Value{}, fmt.Errorf("parse_toml: %w", err)
	}
	return fromGo(raw), nil
}

// FromYAML parses YAML text into a Value.
func FromYAML(data []byte) (Value, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Value{}, fmt.Errorf("parse_yaml: %w", err)
	}
	return fromGo(normalizeYAML(raw)), nil
}

// normalizeYAML returns a copy with every map keyed by string; yaml.v3 already
// decodes mappings as map[string]interface{} for string keys, but nested
// map[interface{}]interface{} can appear from anchors/merges in older
// documents, so we defensively coerce those too.
func normalizeYAML(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalizeYAML(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprintf("%v", k)] = normalizeYAML(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeYAML(val)
		}
		return out
	default:
		return v
	}
}

func fromGo(raw any) Value {
	switch t := raw.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(t)
	case string:
		return String(t)
	case int:
		return Int(int64(t))
	case int64:
		return Int(t)
	case float64:
		return Float(t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return Int(i)
		}
		f, _ := t.Float64()
		return Float(f)
	case []byte:
		return Bytes(t)
	case []any:
		vs := make([]Value, len(t))
		for i, e := range t {
			vs[i] = fromGo(e)
		}
		return List(vs)
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, e := range t {
			m[k] = fromGo(e)
		}
		return Map(m)
	default:
		return String(fmt.Sprintf("%v", t))
	}
}
