package objective

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// maxSourceLength bounds submitted expressions; expr v1.16 has no node limit
const maxSourceLength = 4096

// Expression is a compiled objective. The language has no statements, I/O or
// reflection, so untrusted source cannot escape the evaluator. Its collection
// builtins (map, filter, reduce over ranges) are bounded only by the VM memory
// budget and the task evaluation timeout.
type Expression struct {
	source  string
	program *vm.Program
}

var mathFuncs = map[string]interface{}{
	"sqrt":  math.Sqrt,
	"exp":   math.Exp,
	"log":   math.Log,
	"log10": math.Log10,
	"sin":   math.Sin,
	"cos":   math.Cos,
	"tan":   math.Tan,
	"tanh":  math.Tanh,
	"pow":   math.Pow,
	"hypot": math.Hypot,
	"pi":    math.Pi,
	"e":     math.E,
}

// Compile checks source against the parameter names and returns an evaluator
func Compile(source string, paramNames []string) (*Expression, error) {
	if strings.TrimSpace(source) == "" {
		return nil, fmt.Errorf("%w: empty source", ErrCompile)
	}
	if len(source) > maxSourceLength {
		return nil, fmt.Errorf("%w: source longer than %d bytes", ErrCompile, maxSourceLength)
	}

	sample := newEnv(nil, paramNames)
	program, err := expr.Compile(source, expr.Env(sample), expr.AsFloat64())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompile, err)
	}
	return &Expression{source: source, program: program}, nil
}

// Source returns the expression text
func (e *Expression) Source() string {
	return e.source
}

// Evaluate runs the program with params bound as variables
func (e *Expression) Evaluate(ctx context.Context, params map[string]float64) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	out, err := expr.Run(e.program, newEnv(params, nil))
	if err != nil {
		return 0, &EvaluationError{Objective: "expression", Err: err}
	}
	v, ok := out.(float64)
	if !ok {
		return 0, &EvaluationError{Objective: "expression", Err: fmt.Errorf("result %T is not a number", out)}
	}
	if math.IsNaN(v) {
		return 0, &EvaluationError{Objective: "expression", Err: errors.New("result is NaN")}
	}
	return v, nil
}

func newEnv(params map[string]float64, names []string) map[string]interface{} {
	env := make(map[string]interface{}, len(mathFuncs)+len(params)+len(names))
	for k, v := range mathFuncs {
		env[k] = v
	}
	for _, name := range names {
		env[name] = 0.0
	}
	for k, v := range params {
		env[k] = v
	}
	return env
}
