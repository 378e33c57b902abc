package template

import (
	"github.com/spawn-build/spawn/internal/spawnerr"
	"github.com/spawn-build/spawn/internal/value"
)

func registerBuiltinFunctions(e *Env) {
	e.Functions["range"] = funcRange
	e.Functions["length"] = funcLength
}

// funcRange mirrors Jinja's range: range(stop), range(start, stop), or
// range(start, stop, step).
func funcRange(args []value.Value) (value.Value, error) {
	var start, stop, step int64 = 0, 0, 1
	ints := make([]int64, len(args))
	for i, a := range args {
		n, ok := a.Int()
		if !ok {
			return value.Value{}, &spawnerr.TemplateError{Msg: "range: arguments must be integers"}
		}
		ints[i] = n
	}
	switch len(args) {
	case 1:
		stop = ints[0]
	case 2:
		start, stop = ints[0], ints[1]
	case 3:
		start, stop, step = ints[0], ints[1], ints[2]
		if step == 0 {
			return value.Value{}, &spawnerr.TemplateError{Msg: "range: step must not be zero"}
		}
	default:
		return value.Value{}, &spawnerr.TemplateError{Msg: "range: takes 1 to 3 arguments"}
	}
	var out []value.Value
	if step > 0 {
		for i := start; i < stop; i += step {
			out = append(out, value.Int(i))
		}
	} else {
		for i := start; i > stop; i += step {
			out = append(out, value.Int(i))
		}
	}
	return value.List(out), nil
}

func funcLength(args []value.Value) (value.Value, error) {
	if len(args) != 1 {
		return value.Value{}, &spawnerr.TemplateError{Msg: "length: takes exactly one argument"}
	}
	return lengthOf(args[0])
}
