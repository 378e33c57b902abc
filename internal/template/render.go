package template

import (
	"fmt"
	"io"
	"strings"

	"github.com/spawn-build/spawn/internal/spawnerr"
	"github.com/spawn-build/spawn/internal/sqlescape"
	"github.com/spawn-build/spawn/internal/value"
)

// Render evaluates t against env, streaming rendered bytes into sink
// as they are produced. The full output is never materialized; callers
// must treat whatever reached the sink as valid only when Render
// returns nil.
func Render(t *Template, env *Env, sink io.Writer) error {
	st := &renderState{
		env:    env,
		sink:   sink,
		scopes: []map[string]value.Value{{}},
		macros: map[string]*MacroNode{},
	}
	return st.renderNodes(t.Nodes)
}

type renderState struct {
	env    *Env
	sink   io.Writer
	scopes []map[string]value.Value
	macros map[string]*MacroNode

	// includeStack tracks the chain of include/import paths currently
	// being rendered, for cycle detection and the depth bound.
	includeStack []string
}

func (st *renderState) pushScope() { st.scopes = append(st.scopes, map[string]value.Value{}) }
func (st *renderState) popScope() { st.scopes = st.scopes[:len(st.scopes)-1] }

func (st *renderState) set(name string, v value.Value) {
	st.scopes[len(st.scopes)-1][name] = v
}

func (st *renderState) lookup(name string) (value.Value, bool) {
	for i := len(st.scopes) - 1; i >= 0; i-- {
		if v, ok := st.scopes[i][name]; ok {
			return v, true
		}
	}
	v, ok := st.env.Globals[name]
	return v, ok
}

func (st *renderState) write(s string) error {
	_, err := io.WriteString(st.sink, s)
	return err
}

func (st *renderState) renderNodes(nodes []Node) error {
	for _, n := range nodes {
		if err := st.renderNode(n); err != nil {
			return err
		}
	}
	return nil
}

func (st *renderState) renderNode(n Node) error {
	switch t := n.(type) {
	case *TextNode:
		return st.write(t.Text)
	case *ExprNode:
		v, err := st.eval(t.Expr)
		if err != nil {
			return err
		}
		return st.writeValue(v)
	case *IfNode:
		for _, br := range t.Branches {
			cond, err := st.eval(br.Cond)
			if err != nil {
				return err
			}
			if cond.Truthy() {
				return st.renderNodes(br.Body)
			}
		}
		return st.renderNodes(t.Else)
	case *ForNode:
		return st.renderFor(t)
	case *SetNode:
		v, err := st.eval(t.Expr)
		if err != nil {
			return err
		}
		st.set(t.Name, v)
		return nil
	case *MacroNode:
		st.macros[t.Name] = t
		return nil
	case *IncludeNode:
		pathVal, err := st.eval(t.Path)
		if err != nil {
			return err
		}
		path, ok := pathVal.Str()
		if !ok {
			return &spawnerr.TemplateError{Msg: "include path must be a string"}
		}
		return st.renderInclude(path)
	case *FromImportNode:
		return st.renderFromImport(t)
	default:
		return &spawnerr.TemplateError{Msg: fmt.Sprintf("unhandled node %T", n)}
	}
}

// writeValue applies the auto-escape contract: every interpolated value
// passes through the literal escaper unless it is Safe.
func (st *renderState) writeValue(v value.Value) error {
	if v.IsSafe() {
		s, _ := v.Str()
		return st.write(s)
	}
	esc, err := sqlescape.EscapeLiteral(v)
	if err != nil {
		return err
	}
	return st.write(esc.String())
}

func (st *renderState) renderFor(n *ForNode) error {
	iter, err := st.eval(n.Iter)
	if err != nil {
		return err
	}
	items, ok := iter.List()
	if !ok {
		return &spawnerr.TemplateError{Msg: fmt.Sprintf("cannot iterate over %s", iter.Kind())}
	}
	if len(items) == 0 {
		return st.renderNodes(n.Else)
	}
	st.pushScope()
	defer st.popScope()
	for _, item := range items {
		st.set(n.Var, item)
		if err := st.renderNodes(n.Body); err != nil {
			return err
		}
	}
	return nil
}

const maxIncludeDepth = 64

func (st *renderState) enterInclude(path string) error {
	for _, p := range st.includeStack {
		if p == path {
			return &spawnerr.TemplateCycleError{Path: path, Chain: append(append([]string(nil), st.includeStack...), path)}
		}
	}
	if len(st.includeStack) >= maxIncludeDepth {
		return &spawnerr.TemplateError{Msg: fmt.Sprintf("include depth exceeds %d at %q", maxIncludeDepth, path)}
	}
	st.includeStack = append(st.includeStack, path)
	return nil
}

func (st *renderState) leaveInclude() {
	st.includeStack = st.includeStack[:len(st.includeStack)-1]
}

// loadComponent parses the component at path via the loader, which is
// the only file access a template ever gets.
func (st *renderState) loadComponent(path string) (*Template, error) {
	data, err := st.env.open(path)
	if err != nil {
		return nil, err
	}
	tpl, err := Parse(string(data))
	if err != nil {
		return nil, &spawnerr.TemplateError{Msg: err.Error(), Path: path}
	}
	return tpl, nil
}

func (st *renderState) renderInclude(path string) error {
	if err := st.enterInclude(path); err != nil {
		return err
	}
	defer st.leaveInclude()
	tpl, err := st.loadComponent(path)
	if err != nil {
		return err
	}
	return st.renderNodes(tpl.Nodes)
}

// renderFromImport renders the target component with output discarded
// (imports are for macro definitions, not output), then copies the named
// macros into the importing scope.
func (st *renderState) renderFromImport(n *FromImportNode) error {
	pathVal, err := st.eval(n.Path)
	if err != nil {
		return err
	}
	path, ok := pathVal.Str()
	if !ok {
		return &spawnerr.TemplateError{Msg: "import path must be a string"}
	}
	if err := st.enterInclude(path); err != nil {
		return err
	}
	defer st.leaveInclude()
	tpl, err := st.loadComponent(path)
	if err != nil {
		return err
	}
	sub := &renderState{
		env:          st.env,
		sink:         io.Discard,
		scopes:       []map[string]value.Value{{}},
		macros:       map[string]*MacroNode{},
		includeStack: st.includeStack,
	}
	if err := sub.renderNodes(tpl.Nodes); err != nil {
		return err
	}
	for _, name := range n.Names {
		m, ok := sub.macros[name]
		if !ok {
			return &spawnerr.TemplateError{Msg: fmt.Sprintf("component %q does not define macro %q", path, name), Path: path}
		}
		st.macros[name] = m
	}
	return nil
}

// callMacro renders a macro body into a buffer with its parameters bound
// and returns the output as a Safe string: the macro's own interpolations
// were already escaped while it rendered, so re-escaping the whole
// expansion would double-escape.
func (st *renderState) callMacro(m *MacroNode, args []value.Value) (value.Value, error) {
	if len(args) > len(m.Params) {
		return value.Value{}, &spawnerr.TemplateError{Msg: fmt.Sprintf("macro %q takes %d argument(s), got %d", m.Name, len(m.Params), len(args))}
	}
	var buf strings.Builder
	sub := &renderState{
		env:          st.env,
		sink:         &buf,
		scopes:       []map[string]value.Value{{}},
		macros:       st.macros,
		includeStack: st.includeStack,
	}
	for i, p := range m.Params {
		if i < len(args) {
			sub.set(p, args[i])
		} else {
			sub.set(p, value.Null())
		}
	}
	if err := sub.renderNodes(m.Body); err != nil {
		return value.Value{}, err
	}
	return value.SafeString(buf.String()), nil
}
