// Package objective resolves task objective functions. Submitted source text
// is compiled into a sandboxed expression; native functions must be
// registered by name in-process.
package objective

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"optqueue/internal/model"
)

var (
	// ErrUnknownObjective no registered function has the requested name
	ErrUnknownObjective = errors.New("unknown objective")
	// ErrCompile the expression source is invalid
	ErrCompile = errors.New("objective compile failed")
)

// EvaluationError an objective failed for one candidate
type EvaluationError struct {
	Objective string
	Err       error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("objective %s: %v", e.Objective, e.Err)
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}

// Evaluator scores one parameter vector; lower is better
type Evaluator interface {
	Evaluate(ctx context.Context, params map[string]float64) (float64, error)
}

// Func adapts a native Go function to Evaluator
type Func func(ctx context.Context, params map[string]float64) (float64, error)

// Evaluate calls f
func (f Func) Evaluate(ctx context.Context, params map[string]float64) (float64, error) {
	return f(ctx, params)
}

// Registry holds native objective functions by name
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

// NewRegistry returns a registry preloaded with the built-in test functions
func NewRegistry() *Registry {
	r := &Registry{funcs: make(map[string]Func)}
	for name, fn := range builtins {
		r.funcs[name] = fn
	}
	return r
}

// Register adds or replaces a native function
func (r *Registry) Register(name string, fn Func) error {
	if name == "" || fn == nil {
		return fmt.Errorf("objective name and function are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[name] = fn
	return nil
}

// Lookup returns the function registered under name
func (r *Registry) Lookup(name string) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[name]
	return fn, ok
}

// Names returns the registered names, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve builds the evaluator for cfg. Expressions are compiled against
// paramNames so unknown identifiers are rejected at submission.
func (r *Registry) Resolve(cfg model.ObjectiveConfig, paramNames []string) (Evaluator, error) {
	switch cfg.Type {
	case model.ObjectiveRegistered:
		fn, ok := r.Lookup(cfg.Name)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownObjective, cfg.Name)
		}
		return named{name: cfg.Name, fn: fn}, nil
	case model.ObjectiveExpression, "":
		return Compile(cfg.Source, paramNames)
	default:
		return nil, fmt.Errorf("%w: objective type %q", ErrUnknownObjective, cfg.Type)
	}
}

// named wraps native failures in EvaluationError
type named struct {
	name string
	fn   Func
}

func (n named) Evaluate(ctx context.Context, params map[string]float64) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	v, err := n.fn(ctx, params)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return 0, err
		}
		return 0, &EvaluationError{Objective: n.name, Err: err}
	}
	if math.IsNaN(v) {
		return 0, &EvaluationError{Objective: n.name, Err: errors.New("result is NaN")}
	}
	return v, nil
}

var builtins = map[string]Func{
	"sphere": func(_ context.Context, p map[string]float64) (float64, error) {
		sum := 0.0
		for _, v := range p {
			sum += v * v
		}
		return sum, nil
	},
	"quadratic": func(_ context.Context, p map[string]float64) (float64, error) {
		sum := 0.0
		for _, v := range p {
			sum += (v - 1) * (v - 1)
		}
		return sum, nil
	},
	"rosenbrock": func(_ context.Context, p map[string]float64) (float64, error) {
		xs := ordered(p)
		sum := 0.0
		for i := 0; i+1 < len(xs); i++ {
			a := xs[i+1] - xs[i]*xs[i]
			b := 1 - xs[i]
			sum += 100*a*a + b*b
		}
		return sum, nil
	},
	"rastrigin": func(_ context.Context, p map[string]float64) (float64, error) {
		sum := 10 * float64(len(p))
		for _, v := range p {
			sum += v*v - 10*math.Cos(2*math.Pi*v)
		}
		return sum, nil
	},
}

func ordered(p map[string]float64) []float64 {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)
	xs := make([]float64, len(names))
	for i, name := range names {
		xs[i] = p[name]
	}
	return xs
}
