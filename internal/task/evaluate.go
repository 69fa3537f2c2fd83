package task

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"optqueue/internal/event"
	"optqueue/internal/model"
	"optqueue/internal/optimizer"

	"github.com/sourcegraph/conc/pool"
)

// evaluateBatch scores candidates concurrently, at most num_workers at a time.
// Each result is recorded as soon as its evaluation completes.
func (t *Task) evaluateBatch(ctx context.Context, batch []optimizer.Candidate) {
	if len(batch) == 1 {
		t.evaluateOne(ctx, batch[0])
		return
	}

	p := pool.New().WithMaxGoroutines(t.cfg.OptimizerConfig.NumWorkers)
	for _, c := range batch {
		p.Go(func() {
			t.evaluateOne(ctx, c)
		})
	}
	p.Wait()
}

func (t *Task) evaluateOne(ctx context.Context, c optimizer.Candidate) {
	value, err := t.evaluate(ctx, c.Params)
	t.record(c, value, err)
}

type outcome struct {
	value float64
	err   error
}

// evaluate runs the objective in its own goroutine so that cancellation and
// the per-evaluation timeout apply even to evaluators that ignore ctx
func (t *Task) evaluate(ctx context.Context, params map[string]float64) (float64, error) {
	evalCtx := ctx
	timeout := t.cfg.EvaluationTimeout()
	if timeout > 0 {
		var cancel context.CancelFunc
		evalCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: fmt.Errorf("objective panicked: %v\n%s", r, debug.Stack())}
			}
		}()
		v, err := t.evaluator.Evaluate(evalCtx, model.CopyParams(params))
		ch <- outcome{value: v, err: err}
	}()

	var o outcome
	select {
	case o = <-ch:
	case <-evalCtx.Done():
		o.err = evalCtx.Err()
	}

	if o.err != nil && ctx.Err() == nil && errors.Is(o.err, context.DeadlineExceeded) {
		o.err = fmt.Errorf("evaluation timed out after %s", timeout.Round(time.Millisecond))
	}
	return o.value, o.err
}

// record tells the generator, appends to the trace and publishes progress.
// Results arriving after the task became terminal are dropped, which is how
// cancellation stays distinct from failure.
func (t *Task) record(c optimizer.Candidate, value float64, evalErr error) {
	t.mu.Lock()
	if t.status.IsTerminal() || t.gen == nil {
		t.mu.Unlock()
		return
	}

	if evalErr != nil {
		t.finishAndEmit(t.failLocked(evalErr)...)
		return
	}
	if err := t.gen.Tell(c, value); err != nil {
		t.finishAndEmit(t.failLocked(fmt.Errorf("tell optimizer: %w", err))...)
		return
	}

	r := t.result
	r.TotalEvaluations++
	iteration := r.TotalEvaluations
	improved := value < float64(r.BestValue)
	if improved {
		r.BestValue = model.Value(value)
		r.BestParams = model.CopyParams(c.Params)
	}
	r.Trace = append(r.Trace, model.TracePoint{
		Iteration: iteration,
		Value:     model.Value(value),
		BestValue: r.BestValue,
		Params:    model.CopyParams(c.Params),
		Timestamp: time.Now(),
	})

	events := []event.Event{
		event.NewIterationEvent(t.id, event.IterationPayload{
			Iteration: iteration,
			Value:     model.Value(value),
			BestValue: r.BestValue,
			Params:    c.Params,
		}),
	}
	if improved {
		events = append(events, event.NewBestEvent(t.id, event.BestPayload{
			Iteration:  iteration,
			BestValue:  r.BestValue,
			BestParams: r.BestParams,
		}))
	}
	t.unlockAndEmit(events...)
}
