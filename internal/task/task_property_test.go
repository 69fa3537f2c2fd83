// Property-based tests for the task state machine.
package task

import (
	"context"
	"errors"
	"testing"
	"time"

	"optqueue/internal/event"
	"optqueue/internal/model"
	"optqueue/internal/objective"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

const (
	opStart = iota
	opPause
	opResume
	opStop
)

// TestProperty_StatusGraph tests that any sequence of control calls only
// moves a task along allowed edges and never out of a terminal status.
func TestProperty_StatusGraph(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	parameters.MaxSize = 12

	properties := gopter.NewProperties(parameters)

	properties.Property("status changes follow the transition graph", prop.ForAll(
		func(ops []int) bool {
			cfg := testConfig(30, 2)
			cfg.OptimizerConfig.OptimizerType = "random"
			cfg.OptimizerConfig.Seed = 5
			tk, err := New(cfg, objective.Func(func(ctx context.Context, p map[string]float64) (float64, error) {
				time.Sleep(time.Millisecond)
				return p["x"] * p["y"], nil
			}), Options{PauseCheckInterval: time.Millisecond})
			if err != nil {
				return false
			}
			rec := record(tk)

			for _, op := range ops {
				var err error
				switch op {
				case opStart:
					err = tk.Start()
				case opPause:
					err = tk.Pause()
				case opResume:
					err = tk.Resume()
				case opStop:
					err = tk.Stop()
				}
				if err != nil && !errors.Is(err, ErrInvalidTransition) {
					return false
				}
			}
			if tk.Status().IsActive() {
				_ = tk.Stop()
			}
			if tk.Status() != model.TaskStatusPending {
				select {
				case <-tk.Done():
				case <-time.After(5 * time.Second):
					return false
				}
			}

			terminal := false
			for _, e := range rec.all() {
				if e.Type != event.TaskStatusChanged {
					continue
				}
				if terminal {
					return false
				}
				p := e.Data.(event.TaskPayload)
				if !CanTransition(p.PreviousStatus, p.Status) {
					return false
				}
				terminal = p.Status.IsTerminal()
			}
			return true
		},
		gen.SliceOf(gen.IntRange(opStart, opStop)),
	))

	properties.TestingRun(t)
}

// TestProperty_BestValueMonotonic tests that best_value never increases along the trace.
func TestProperty_BestValueMonotonic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 25

	properties := gopter.NewProperties(parameters)

	properties.Property("best_value is non-increasing and matches the trace minimum", prop.ForAll(
		func(seed int64, workers int, algo string) bool {
			cfg := testConfig(25, workers)
			cfg.OptimizerConfig.OptimizerType = algo
			cfg.OptimizerConfig.Seed = seed
			tk, err := New(cfg, objective.Func(func(ctx context.Context, p map[string]float64) (float64, error) {
				return (p["x"]-1)*(p["x"]-1) + p["y"]*p["y"], nil
			}), Options{})
			if err != nil || tk.Start() != nil {
				return false
			}
			select {
			case <-tk.Done():
			case <-time.After(5 * time.Second):
				return false
			}

			r := tk.Snapshot().Result
			best := model.Inf()
			for _, point := range r.Trace {
				if point.Value < best {
					best = point.Value
				}
				if point.BestValue != best {
					return false
				}
			}
			return r.BestValue == best && r.TotalEvaluations == len(r.Trace)
		},
		gen.Int64Range(1, 1<<30),
		gen.IntRange(1, 4),
		gen.OneConstOf("pattern", "oneplusone", "random"),
	))

	properties.TestingRun(t)
}
