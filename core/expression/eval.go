package expression

import (
	"fmt"
	"math"

	perrors "printshop/internal/errors"
)

// Context maps variable names to values for one evaluation
type Context map[string]float64

// Clone returns an independent copy of the context
func (c Context) Clone() Context {
	out := make(Context, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Evaluate parses and evaluates a formula against a context.
func Evaluate(formula string, ctx Context) (float64, error) {
	f, err := Parse(formula)
	if err != nil {
		return 0, err
	}
	return f.Eval(ctx)
}

// Eval evaluates the formula against a context. The result is always finite.
func (f *Formula) Eval(ctx Context) (float64, error) {
	v, err := f.root.eval(ctx)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, perrors.InvalidFormula(0, "result is not a finite number")
	}
	return v, nil
}

type node interface {
	eval(ctx Context) (float64, error)
}

type numberNode struct {
	value float64
}

func (n *numberNode) eval(Context) (float64, error) {
	return n.value, nil
}

type variableNode struct {
	name string
	pos  int
}

func (n *variableNode) eval(ctx Context) (float64, error) {
	v, ok := ctx[n.name]
	if !ok {
		return 0, perrors.UnknownVariable(n.name).WithContext("position", n.pos)
	}
	return v, nil
}

type negateNode struct {
	operand node
}

func (n *negateNode) eval(ctx Context) (float64, error) {
	v, err := n.operand.eval(ctx)
	if err != nil {
		return 0, err
	}
	return -v, nil
}

type binaryNode struct {
	op          tokenKind
	left, right node
	pos         int
}

func (n *binaryNode) eval(ctx Context) (float64, error) {
	l, err := n.left.eval(ctx)
	if err != nil {
		return 0, err
	}
	r, err := n.right.eval(ctx)
	if err != nil {
		return 0, err
	}
	switch n.op {
	case tokenPlus:
		return l + r, nil
	case tokenMinus:
		return l - r, nil
	case tokenStar:
		return l * r, nil
	case tokenSlash:
		if r == 0 {
			return 0, perrors.DivisionByZero().WithContext("position", n.pos)
		}
		return l / r, nil
	}
	return 0, perrors.InvalidFormula(n.pos, fmt.Sprintf("unsupported operator %s", n.op))
}

type callNode struct {
	fn   *function
	args []node
	pos  int
}

func (n *callNode) eval(ctx Context) (float64, error) {
	vals := make([]float64, len(n.args))
	for i, arg := range n.args {
		v, err := arg.eval(ctx)
		if err != nil {
			return 0, err
		}
		vals[i] = v
	}
	v, reason := n.fn.apply(vals)
	if reason != "" {
		return 0, perrors.InvalidFormula(n.pos, reason)
	}
	return v, nil
}

type function struct {
	name    string
	minArgs int
	maxArgs int // -1 means variadic
	apply   func(args []float64) (float64, string)
}

func (f *function) arity() string {
	switch {
	case f.maxArgs < 0:
		return fmt.Sprintf("at least %d argument(s)", f.minArgs)
	case f.minArgs == f.maxArgs:
		return fmt.Sprintf("%d argument(s)", f.minArgs)
	default:
		return fmt.Sprintf("%d to %d arguments", f.minArgs, f.maxArgs)
	}
}

const maxRoundDigits = 10

var functions = map[string]*function{
	"ceil": {name: "ceil", minArgs: 1, maxArgs: 1, apply: func(a []float64) (float64, string) {
		return math.Ceil(a[0]), ""
	}},
	"floor": {name: "floor", minArgs: 1, maxArgs: 1, apply: func(a []float64) (float64, string) {
		return math.Floor(a[0]), ""
	}},
	"round": {name: "round", minArgs: 1, maxArgs: 2, apply: roundHalfAway},
	"min": {name: "min", minArgs: 1, maxArgs: -1, apply: func(a []float64) (float64, string) {
		out := a[0]
		for _, v := range a[1:] {
			out = math.Min(out, v)
		}
		return out, ""
	}},
	"max": {name: "max", minArgs: 1, maxArgs: -1, apply: func(a []float64) (float64, string) {
		out := a[0]
		for _, v := range a[1:] {
			out = math.Max(out, v)
		}
		return out, ""
	}},
}

// roundHalfAway rounds half away from zero, optionally to a number of decimal digits.
func roundHalfAway(a []float64) (float64, string) {
	if len(a) == 1 {
		return math.Round(a[0]), ""
	}
	digits := a[1]
	if digits != math.Trunc(digits) || digits < 0 || digits > maxRoundDigits {
		return 0, fmt.Sprintf("round digits must be an integer between 0 and %d", maxRoundDigits)
	}
	scale := math.Pow(10, digits)
	return math.Round(a[0]*scale) / scale, ""
}
