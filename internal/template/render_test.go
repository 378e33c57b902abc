package template_test

import (
	"strings"
	"testing"

	"github.com/spawn-build/spawn/internal/loader"
	"github.com/spawn-build/spawn/internal/spawnerr"
	"github.com/spawn-build/spawn/internal/template"
	"github.com/spawn-build/spawn/internal/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// render is the common harness: parse src, render it against the given
// components and variables, return the output.
func render(t *testing.T, src string, components loader.Map, vars value.Value) (string, error) {
	t.Helper()
	tpl, err := template.Parse(src)
	require.NoError(t, err)
	env := template.NewEnv(components, "test", vars)
	var b strings.Builder
	err = template.Render(tpl, env, &b)
	return b.String(), err
}

func vars(m map[string]value.Value) value.Value { return value.Map(m) }

func TestAutoEscapesLiterals(t *testing.T) {
	tests := []struct {
		name string
		src  string
		vars map[string]value.Value
		want string
	}{
		{
			name: "string with injection attempt",
			src:  "INSERT INTO t VALUES ({{ variables.v }});",
			vars: map[string]value.Value{"v": value.String("O'Reilly; DROP TABLE t;--")},
			want: "INSERT INTO t VALUES ('O''Reilly; DROP TABLE t;--');",
		},
		{
			name: "integer",
			src:  "SELECT {{ variables.n }};",
			vars: map[string]value.Value{"n": value.Int(42)},
			want: "SELECT 42;",
		},
		{
			name: "null",
			src:  "SELECT {{ variables.x }};",
			vars: map[string]value.Value{"x": value.Null()},
			want: "SELECT NULL;",
		},
		{
			name: "boolean",
			src:  "SELECT {{ variables.b }};",
			vars: map[string]value.Value{"b": value.Bool(true)},
			want: "SELECT TRUE;",
		},
		{
			name: "list",
			src:  "SELECT {{ variables.l }};",
			vars: map[string]value.Value{"l": value.List([]value.Value{value.Int(1), value.String("x")})},
			want: "SELECT ARRAY[1, 'x'];",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := render(t, tt.src, loader.Map{}, vars(tt.vars))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEscapeIdentifierFilter(t *testing.T) {
	got, err := render(t, "SELECT * FROM {{ variables.t | escape_identifier }};",
		loader.Map{}, vars(map[string]value.Value{"t": value.String(`weird"name`)}))
	require.NoError(t, err)
	assert.Equal(t, `SELECT * FROM "weird""name";`, got)
}

func TestSafeFilterBypassesEscaping(t *testing.T) {
	got, err := render(t, "{{ variables.frag | safe }}",
		loader.Map{}, vars(map[string]value.Value{"frag": value.String("count(*) > 0")}))
	require.NoError(t, err)
	assert.Equal(t, "count(*) > 0", got)
}

func TestSafeConcatForcesEscapeOfUnsafeSide(t *testing.T) {
	got, err := render(t, `{{ ("WHERE name = " | safe) + variables.v }}`,
		loader.Map{}, vars(map[string]value.Value{"v": value.String("bob's")}))
	require.NoError(t, err)
	assert.Equal(t, "WHERE name = 'bob''s'", got)
}

func TestControlFlow(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"if true", "{% if 1 < 2 %}yes{% else %}no{% endif %}", "yes"},
		{"if false", "{% if 1 > 2 %}yes{% else %}no{% endif %}", "no"},
		{"elif", "{% if false %}a{% elif true %}b{% else %}c{% endif %}", "b"},
		{"for", "{% for i in range(3) %}{{ i }},{% endfor %}", "0,1,2,"},
		{"for else on empty", "{% for i in range(0) %}{{ i }}{% else %}none{% endfor %}", "none"},
		{"set", "{% set x = 2 * 21 %}{{ x }}", "42"},
		{"comment", "a{# not rendered #}b", "ab"},
		{"trim", "a   {{- 1 }}   \n{{ 2 -}}   b", "a1   \n2b"},
		{"arith precedence", "{{ 1 + 2 * 3 }}", "7"},
		{"string helpers", `{{ "HeLLo" | lower | upper }}`, "'HELLO'"},
		{"length", `{{ [1, 2, 3] | length }}`, "3"},
		{"default", "{{ none | default(5) }}", "5"},
		{"replace", `{{ "a-b" | replace("-", "_") }}`, "'a_b'"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := render(t, tt.src, loader.Map{}, value.Null())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMacro(t *testing.T) {
	src := `{% macro pair(a, b) %}({{ a }}, {{ b }}){% endmacro %}{{ pair(1, "x'y") }}`
	got, err := render(t, src, loader.Map{}, value.Null())
	require.NoError(t, err)
	assert.Equal(t, "(1, 'x''y')", got)
}

func TestInclude(t *testing.T) {
	components := loader.Map{
		"frag.sql": []byte("SELECT {{ variables.n }};"),
	}
	got, err := render(t, `{% include "frag.sql" %}`, components,
		vars(map[string]value.Value{"n": value.Int(7)}))
	require.NoError(t, err)
	assert.Equal(t, "SELECT 7;", got)
}

func TestIncludeCycleFails(t *testing.T) {
	components := loader.Map{
		"a.sql": []byte(`{% include "b.sql" %}`),
		"b.sql": []byte(`{% include "a.sql" %}`),
	}
	_, err := render(t, `{% include "a.sql" %}`, components, value.Null())
	var cyc *spawnerr.TemplateCycleError
	assert.ErrorAs(t, err, &cyc)
}

func TestIncludeEscapeFails(t *testing.T) {
	_, err := render(t, `{% include "../outside.sql" %}`, loader.Map{}, value.Null())
	var sec *spawnerr.TemplateSecurityError
	assert.ErrorAs(t, err, &sec)
}

func TestFromImport(t *testing.T) {
	components := loader.Map{
		"macros.sql": []byte(`{% macro ident(name) %}{{ name | escape_identifier }}{% endmacro %}`),
	}
	src := `{% from "macros.sql" import ident %}SELECT * FROM {{ ident("users") }};`
	got, err := render(t, src, components, value.Null())
	require.NoError(t, err)
	assert.Equal(t, `SELECT * FROM "users";`, got)
}

func TestReadFileFilters(t *testing.T) {
	components := loader.Map{
		"data.json": []byte(`{"host": "db.local", "port": 5432}`),
		"raw.bin":   []byte("hello"),
	}
	got, err := render(t, `{{ "data.json" | read_json }}`, loader.Map{}, value.Null())
	assert.Error(t, err, "missing component must fail")

	got, err = render(t, `{{ ("data.json" | read_json).host }}`, components, value.Null())
	require.NoError(t, err)
	assert.Equal(t, "'db.local'", got)

	got, err = render(t, `{{ "raw.bin" | read_file | base64_encode }}`, components, value.Null())
	require.NoError(t, err)
	assert.Equal(t, "'aGVsbG8='", got)

	got, err = render(t, `{{ "raw.bin" | read_file | to_string_lossy }}`, components, value.Null())
	require.NoError(t, err)
	assert.Equal(t, "'hello'", got)
}

func TestUndefinedVariableFails(t *testing.T) {
	_, err := render(t, "{{ nope }}", loader.Map{}, value.Null())
	var te *spawnerr.TemplateError
	assert.ErrorAs(t, err, &te)
}

func TestMapInterpolationFails(t *testing.T) {
	_, err := render(t, "{{ variables }}", loader.Map{},
		vars(map[string]value.Value{"k": value.Int(1)}))
	var ue *spawnerr.UnsafeValueError
	assert.ErrorAs(t, err, &ue)
}

func TestStreamingPartialOutputOnError(t *testing.T) {
	// Output before the failure point reaches the sink; the error signal
	// is what tells consumers to discard it.
	tpl, err := template.Parse("before {{ nope }} after")
	require.NoError(t, err)
	env := template.NewEnv(loader.Map{}, "", value.Null())
	var b strings.Builder
	err = template.Render(tpl, env, &b)
	require.Error(t, err)
	assert.Equal(t, "before ", b.String())
}
