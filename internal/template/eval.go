package template

import (
	"fmt"

	"github.com/spawn-build/spawn/internal/spawnerr"
	"github.com/spawn-build/spawn/internal/sqlescape"
	"github.com/spawn-build/spawn/internal/value"
)

func (st *renderState) eval(e Expr) (value.Value, error) {
	switch t := e.(type) {
	case *StringLit:
		return value.String(t.Value), nil
	case *IntLit:
		return value.Int(t.Value), nil
	case *FloatLit:
		return value.Float(t.Value), nil
	case *BoolLit:
		return value.Bool(t.Value), nil
	case *NoneLit:
		return value.Null(), nil
	case *ListLit:
		items := make([]value.Value, len(t.Items))
		for i, it := range t.Items {
			v, err := st.eval(it)
			if err != nil {
				return value.Value{}, err
			}
			items[i] = v
		}
		return value.List(items), nil
	case *Ident:
		v, ok := st.lookup(t.Name)
		if !ok {
			return value.Value{}, &spawnerr.TemplateError{Msg: fmt.Sprintf("undefined variable %q", t.Name)}
		}
		return v, nil
	case *Attr:
		target, err := st.eval(t.Target)
		if err != nil {
			return value.Value{}, err
		}
		v, ok := target.Get(t.Name)
		if !ok {
			return value.Value{}, &spawnerr.TemplateError{Msg: fmt.Sprintf("no attribute %q on %s value", t.Name, target.Kind())}
		}
		return v, nil
	case *IndexExpr:
		return st.evalIndex(t)
	case *Call:
		return st.evalCall(t)
	case *FilterExpr:
		return st.evalFilter(t)
	case *BinOp:
		return st.evalBinOp(t)
	case *UnaryOp:
		return st.evalUnaryOp(t)
	default:
		return value.Value{}, &spawnerr.TemplateError{Msg: fmt.Sprintf("unhandled expression %T", e)}
	}
}

func (st *renderState) evalIndex(e *IndexExpr) (value.Value, error) {
	target, err := st.eval(e.Target)
	if err != nil {
		return value.Value{}, err
	}
	idx, err := st.eval(e.Index)
	if err != nil {
		return value.Value{}, err
	}
	if i, ok := idx.Int(); ok {
		v, ok := target.Index(int(i))
		if !ok {
			return value.Value{}, &spawnerr.TemplateError{Msg: fmt.Sprintf("index %d out of range", i)}
		}
		return v, nil
	}
	if key, ok := idx.Str(); ok {
		v, ok := target.Get(key)
		if !ok {
			return value.Value{}, &spawnerr.TemplateError{Msg: fmt.Sprintf("no key %q in map", key)}
		}
		return v, nil
	}
	return value.Value{}, &spawnerr.TemplateError{Msg: fmt.Sprintf("cannot index with %s value", idx.Kind())}
}

// evalCall dispatches name(args) to a macro defined (or imported) in the
// current render, falling back to the registered functions.
func (st *renderState) evalCall(e *Call) (value.Value, error) {
	args := make([]value.Value, len(e.Args))
	for i, a := range e.Args {
		v, err := st.eval(a)
		if err != nil {
			return value.Value{}, err
		}
		args[i] = v
	}
	if m, ok := st.macros[e.Name]; ok {
		return st.callMacro(m, args)
	}
	if fn, ok := st.env.lookupFunction(e.Name); ok {
		return fn(args)
	}
	return value.Value{}, &spawnerr.TemplateError{Msg: fmt.Sprintf("unknown function or macro %q", e.Name)}
}

func (st *renderState) evalFilter(e *FilterExpr) (value.Value, error) {
	target, err := st.eval(e.Target)
	if err != nil {
		return value.Value{}, err
	}
	args := make([]value.Value, len(e.Args))
	for i, a := range e.Args {
		v, err := st.eval(a)
		if err != nil {
			return value.Value{}, err
		}
		args[i] = v
	}
	f, ok := st.env.lookupFilter(e.Name)
	if !ok {
		return value.Value{}, &spawnerr.TemplateError{Msg: fmt.Sprintf("unknown filter %q", e.Name)}
	}
	return f(st.env, target, args)
}

func (st *renderState) evalBinOp(e *BinOp) (value.Value, error) {
	// and/or short-circuit before the right side is evaluated.
	switch e.Op {
	case TokenAnd:
		l, err := st.eval(e.Left)
		if err != nil {
			return value.Value{}, err
		}
		if !l.Truthy() {
			return l, nil
		}
		return st.eval(e.Right)
	case TokenOr:
		l, err := st.eval(e.Left)
		if err != nil {
			return value.Value{}, err
		}
		if l.Truthy() {
			return l, nil
		}
		return st.eval(e.Right)
	}

	l, err := st.eval(e.Left)
	if err != nil {
		return value.Value{}, err
	}
	r, err := st.eval(e.Right)
	if err != nil {
		return value.Value{}, err
	}

	switch e.Op {
	case TokenEq:
		return value.Bool(valuesEqual(l, r)), nil
	case TokenNotEq:
		return value.Bool(!valuesEqual(l, r)), nil
	case TokenLt, TokenLtEq, TokenGt, TokenGtEq:
		return compareValues(e.Op, l, r)
	case TokenPlus:
		return addValues(l, r)
	case TokenMinus, TokenStar, TokenSlash, TokenPercent:
		return arithValues(e.Op, l, r)
	default:
		return value.Value{}, &spawnerr.TemplateError{Msg: fmt.Sprintf("unhandled operator %v", e.Op)}
	}
}

func (st *renderState) evalUnaryOp(e *UnaryOp) (value.Value, error) {
	v, err := st.eval(e.Operand)
	if err != nil {
		return value.Value{}, err
	}
	switch e.Op {
	case TokenNot:
		return value.Bool(!v.Truthy()), nil
	case TokenMinus:
		if i, ok := v.Int(); ok {
			return value.Int(-i), nil
		}
		if f, ok := v.Float(); ok {
			return value.Float(-f), nil
		}
		return value.Value{}, &spawnerr.TemplateError{Msg: fmt.Sprintf("cannot negate %s value", v.Kind())}
	default:
		return value.Value{}, &spawnerr.TemplateError{Msg: fmt.Sprintf("unhandled unary operator %v", e.Op)}
	}
}

func valuesEqual(l, r value.Value) bool {
	if lf, rf, ok := numericPair(l, r); ok {
		return lf == rf
	}
	if ls, ok := l.Str(); ok {
		rs, ok2 := r.Str()
		return ok2 && ls == rs
	}
	if lb, ok := l.Bool(); ok {
		rb, ok2 := r.Bool()
		return ok2 && lb == rb
	}
	if l.IsNull() && r.IsNull() {
		return true
	}
	if ll, ok := l.List(); ok {
		rl, ok2 := r.List()
		if !ok2 || len(ll) != len(rl) {
			return false
		}
		for i := range ll {
			if !valuesEqual(ll[i], rl[i]) {
				return false
			}
		}
		return true
	}
	return false
}

func numericPair(l, r value.Value) (float64, float64, bool) {
	lf, lok := asFloat(l)
	rf, rok := asFloat(r)
	return lf, rf, lok && rok
}

func asFloat(v value.Value) (float64, bool) {
	if i, ok := v.Int(); ok {
		return float64(i), true
	}
	if f, ok := v.Float(); ok {
		return f, true
	}
	return 0, false
}

func compareValues(op TokenType, l, r value.Value) (value.Value, error) {
	if lf, rf, ok := numericPair(l, r); ok {
		switch op {
		case TokenLt:
			return value.Bool(lf < rf), nil
		case TokenLtEq:
			return value.Bool(lf <= rf), nil
		case TokenGt:
			return value.Bool(lf > rf), nil
		case TokenGtEq:
			return value.Bool(lf >= rf), nil
		}
	}
	if ls, ok := l.Str(); ok {
		if rs, ok2 := r.Str(); ok2 {
			switch op {
			case TokenLt:
				return value.Bool(ls < rs), nil
			case TokenLtEq:
				return value.Bool(ls <= rs), nil
			case TokenGt:
				return value.Bool(ls > rs), nil
			case TokenGtEq:
				return value.Bool(ls >= rs), nil
			}
		}
	}
	return value.Value{}, &spawnerr.TemplateError{Msg: fmt.Sprintf("cannot compare %s and %s", l.Kind(), r.Kind())}
}

// addValues implements "+": numeric addition, list concatenation, or
// string concatenation with Safe propagation — Safe+Safe stays Safe;
// Safe+unsafe escapes the unsafe side first and the result stays Safe.
func addValues(l, r value.Value) (value.Value, error) {
	if li, ok := l.Int(); ok {
		if ri, ok2 := r.Int(); ok2 {
			return value.Int(li + ri), nil
		}
	}
	if lf, rf, ok := numericPair(l, r); ok {
		return value.Float(lf + rf), nil
	}
	if ll, ok := l.List(); ok {
		if rl, ok2 := r.List(); ok2 {
			return value.List(append(append([]value.Value(nil), ll...), rl...)), nil
		}
	}
	if l.IsSafe() || r.IsSafe() {
		ls, err := safeSide(l)
		if err != nil {
			return value.Value{}, err
		}
		rs, err := safeSide(r)
		if err != nil {
			return value.Value{}, err
		}
		return value.SafeString(ls + rs), nil
	}
	if ls, ok := l.Str(); ok {
		if rs, ok2 := r.Str(); ok2 {
			return value.String(ls + rs), nil
		}
	}
	return value.Value{}, &spawnerr.TemplateError{Msg: fmt.Sprintf("cannot add %s and %s", l.Kind(), r.Kind())}
}

func safeSide(v value.Value) (string, error) {
	if v.IsSafe() {
		s, _ := v.Str()
		return s, nil
	}
	esc, err := sqlescape.EscapeLiteral(v)
	if err != nil {
		return "", err
	}
	return esc.String(), nil
}

func arithValues(op TokenType, l, r value.Value) (value.Value, error) {
	if li, ok := l.Int(); ok {
		if ri, ok2 := r.Int(); ok2 {
			switch op {
			case TokenMinus:
				return value.Int(li - ri), nil
			case TokenStar:
				return value.Int(li * ri), nil
			case TokenSlash:
				if ri == 0 {
					return value.Value{}, &spawnerr.TemplateError{Msg: "division by zero"}
				}
				return value.Int(li / ri), nil
			case TokenPercent:
				if ri == 0 {
					return value.Value{}, &spawnerr.TemplateError{Msg: "modulo by zero"}
				}
				return value.Int(li % ri), nil
			}
		}
	}
	lf, rf, ok := numericPair(l, r)
	if !ok {
		return value.Value{}, &spawnerr.TemplateError{Msg: fmt.Sprintf("cannot apply arithmetic to %s and %s", l.Kind(), r.Kind())}
	}
	switch op {
	case TokenMinus:
		return value.Float(lf - rf), nil
	case TokenStar:
		return value.Float(lf * rf), nil
	case TokenSlash:
		if rf == 0 {
			return value.Value{}, &spawnerr.TemplateError{Msg: "division by zero"}
		}
		return value.Float(lf / rf), nil
	case TokenPercent:
		return value.Value{}, &spawnerr.TemplateError{Msg: "modulo requires integers"}
	default:
		return value.Value{}, &spawnerr.TemplateError{Msg: fmt.Sprintf("unhandled operator %v", op)}
	}
}
