package task

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"optqueue/internal/event"
	"optqueue/internal/model"
	"optqueue/internal/objective"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects events published on a task bus
type recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func record(tk *Task) *recorder {
	r := &recorder{}
	tk.Events().Subscribe(func(e event.Event) error {
		r.mu.Lock()
		r.events = append(r.events, e)
		r.mu.Unlock()
		return nil
	})
	return r
}

func (r *recorder) all() []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event.Event(nil), r.events...)
}

func (r *recorder) count(typ event.Type) int {
	n := 0
	for _, e := range r.all() {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func testConfig(budget, workers int) model.TaskConfig {
	cfg := model.TaskConfig{
		TaskID: uuid.NewString(),
		Name:   "test",
		ParameterConfig: map[string]model.ParameterConfig{
			"x": {LowerBound: -5, UpperBound: 5},
			"y": {LowerBound: -5, UpperBound: 5},
		},
		OptimizerConfig: model.OptimizerConfig{OptimizerType: "pattern", Budget: budget, NumWorkers: workers},
		Objective:       model.ObjectiveConfig{Source: "(x-1)^2 + (y-1)^2"},
	}
	if err := cfg.Normalize(); err != nil {
		panic(err)
	}
	return cfg
}

func newTask(t *testing.T, cfg model.TaskConfig, ev objective.Evaluator) *Task {
	t.Helper()
	if ev == nil {
		var err error
		ev, err = objective.NewRegistry().Resolve(cfg.Objective, cfg.ParameterNames())
		require.NoError(t, err)
	}
	tk, err := New(cfg, ev, Options{PauseCheckInterval: 10 * time.Millisecond})
	require.NoError(t, err)
	return tk
}

func slowObjective(d time.Duration) objective.Func {
	return func(ctx context.Context, p map[string]float64) (float64, error) {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
		return (p["x"]-1)*(p["x"]-1) + (p["y"]-1)*(p["y"]-1), nil
	}
}

func waitDone(t *testing.T, tk *Task) {
	t.Helper()
	select {
	case <-tk.Done():
	case <-time.After(10 * time.Second):
		t.Fatalf("task %s did not finish, status %s", tk.ID(), tk.Status())
	}
}

// TestTask_ConvergesOnQuadratic tests that a completed run finds the minimum.
func TestTask_ConvergesOnQuadratic(t *testing.T) {
	tk := newTask(t, testConfig(100, 1), nil)
	rec := record(tk)

	require.NoError(t, tk.Start())
	waitDone(t, tk)

	state := tk.Snapshot()
	assert.Equal(t, model.TaskStatusCompleted, state.Status)
	assert.Nil(t, state.Error)
	require.NotNil(t, state.Result)
	assert.Less(t, float64(state.Result.BestValue), 0.01)
	assert.InDelta(t, 1.0, state.Result.BestParams["x"], 0.1)
	assert.InDelta(t, 1.0, state.Result.BestParams["y"], 0.1)
	assert.NotNil(t, state.Result.EndTime)
	assert.Len(t, state.Result.Trace, state.Result.TotalEvaluations)

	events := rec.all()
	require.GreaterOrEqual(t, len(events), 3)
	tail := events[len(events)-3:]
	assert.Equal(t, event.OptimizationCompleted, tail[0].Type)
	assert.Equal(t, event.TaskCompleted, tail[1].Type)
	assert.Equal(t, event.TaskStatusChanged, tail[2].Type)
	assert.Equal(t, state.Result.TotalEvaluations, rec.count(event.IterationCompleted))
}

// TestTask_PauseResume tests that pause holds back new candidates and resume continues.
func TestTask_PauseResume(t *testing.T) {
	cfg := testConfig(1000, 1)
	cfg.OptimizerConfig.OptimizerType = "random"
	tk := newTask(t, cfg, slowObjective(20*time.Millisecond))

	third := make(chan struct{})
	var once sync.Once
	iterations := 0
	var mu sync.Mutex
	tk.Events().Subscribe(func(e event.Event) error {
		if e.Type != event.IterationCompleted {
			return nil
		}
		mu.Lock()
		iterations++
		n := iterations
		mu.Unlock()
		if n == 3 {
			once.Do(func() { close(third) })
		}
		return nil
	})
	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return iterations
	}

	require.NoError(t, tk.Start())
	select {
	case <-third:
	case <-time.After(5 * time.Second):
		t.Fatal("no third iteration")
	}

	require.NoError(t, tk.Pause())
	assert.Equal(t, model.TaskStatusPaused, tk.Status())

	// let an in-flight evaluation land
	time.Sleep(50 * time.Millisecond)
	paused := count()
	time.Sleep(500 * time.Millisecond)
	assert.Equal(t, paused, count(), "iterations continued while paused")

	require.NoError(t, tk.Resume())
	assert.Equal(t, model.TaskStatusRunning, tk.Status())
	assert.Eventually(t, func() bool { return count() > paused }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, tk.Stop())
	waitDone(t, tk)
}

// TestTask_EvaluationErrorFails tests that objective errors fail the task.
func TestTask_EvaluationErrorFails(t *testing.T) {
	cfg := testConfig(10, 1)
	boom := objective.Func(func(ctx context.Context, p map[string]float64) (float64, error) {
		return 0, errors.New("boom")
	})
	tk := newTask(t, cfg, boom)
	rec := record(tk)

	require.NoError(t, tk.Start())
	waitDone(t, tk)

	state := tk.Snapshot()
	assert.Equal(t, model.TaskStatusFailed, state.Status)
	require.NotNil(t, state.Error)
	assert.Contains(t, *state.Error, "boom")
	assert.Equal(t, 1, rec.count(event.OptimizationError))
	assert.Equal(t, 1, rec.count(event.TaskFailed))
	assert.Equal(t, 0, rec.count(event.IterationCompleted))
}

// TestTask_PanicFails tests that a panicking objective is an evaluation error.
func TestTask_PanicFails(t *testing.T) {
	tk := newTask(t, testConfig(10, 2), objective.Func(func(ctx context.Context, p map[string]float64) (float64, error) {
		panic("bad objective")
	}))

	require.NoError(t, tk.Start())
	waitDone(t, tk)

	state := tk.Snapshot()
	assert.Equal(t, model.TaskStatusFailed, state.Status)
	require.NotNil(t, state.Error)
	assert.Contains(t, *state.Error, "bad objective")
}

// TestTask_EvaluationTimeout tests the per-evaluation timeout.
func TestTask_EvaluationTimeout(t *testing.T) {
	cfg := testConfig(10, 1)
	cfg.ExecutionConfig.EvaluationTimeout = 0.05
	stuck := objective.Func(func(ctx context.Context, p map[string]float64) (float64, error) {
		time.Sleep(time.Second)
		return 0, nil
	})
	tk := newTask(t, cfg, stuck)

	require.NoError(t, tk.Start())
	waitDone(t, tk)

	state := tk.Snapshot()
	assert.Equal(t, model.TaskStatusFailed, state.Status)
	require.NotNil(t, state.Error)
	assert.Contains(t, *state.Error, "timed out")
}

// TestTask_StopIsIdempotent tests that a second stop is a rejected no-op.
func TestTask_StopIsIdempotent(t *testing.T) {
	tk := newTask(t, testConfig(1000, 2), slowObjective(time.Second))
	rec := record(tk)

	require.NoError(t, tk.Start())
	require.NoError(t, tk.Stop())
	assert.Equal(t, model.TaskStatusStopped, tk.Status())

	err := tk.Stop()
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, model.TaskStatusStopped, tk.Status())

	waitDone(t, tk)
	state := tk.Snapshot()
	assert.Nil(t, state.Error, "cancellation must not set the error")
	require.NotNil(t, state.Result)
	assert.NotNil(t, state.Result.EndTime)
	assert.Equal(t, 1, rec.count(event.TaskStopped))
	assert.Equal(t, 0, rec.count(event.OptimizationError))

	// in-flight evaluations cancelled by stop are never recorded
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, rec.count(event.IterationCompleted))
}

// TestTask_StopWhilePaused tests stopping from the paused status.
func TestTask_StopWhilePaused(t *testing.T) {
	tk := newTask(t, testConfig(1000, 1), slowObjective(5*time.Millisecond))

	require.NoError(t, tk.Start())
	require.NoError(t, tk.Pause())
	require.NoError(t, tk.Stop())
	waitDone(t, tk)
	assert.Equal(t, model.TaskStatusStopped, tk.Status())
}

// TestTask_InvalidTransitions tests that control calls are rejected by status.
func TestTask_InvalidTransitions(t *testing.T) {
	tk := newTask(t, testConfig(5, 1), nil)

	assert.ErrorIs(t, tk.Pause(), ErrInvalidTransition)
	assert.ErrorIs(t, tk.Resume(), ErrInvalidTransition)
	assert.ErrorIs(t, tk.Stop(), ErrInvalidTransition)
	assert.Equal(t, model.TaskStatusPending, tk.Status())
	assert.Nil(t, tk.Snapshot().Result)

	require.NoError(t, tk.Start())
	assert.ErrorIs(t, tk.Start(), ErrInvalidTransition)
	waitDone(t, tk)

	for _, op := range []func() error{tk.Start, tk.Pause, tk.Resume, tk.Stop} {
		assert.ErrorIs(t, op(), ErrInvalidTransition)
	}
	assert.Equal(t, model.TaskStatusCompleted, tk.Status())
}

// TestTask_ConcurrentWorkers tests bounded parallel evaluation.
func TestTask_ConcurrentWorkers(t *testing.T) {
	var mu sync.Mutex
	active, peak := 0, 0
	ev := objective.Func(func(ctx context.Context, p map[string]float64) (float64, error) {
		mu.Lock()
		active++
		if active > peak {
			peak = active
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
		return p["x"] * p["x"], nil
	})

	cfg := testConfig(40, 4)
	cfg.OptimizerConfig.OptimizerType = "random"
	cfg.OptimizerConfig.Seed = 11
	tk := newTask(t, cfg, ev)

	require.NoError(t, tk.Start())
	waitDone(t, tk)

	state := tk.Snapshot()
	assert.Equal(t, model.TaskStatusCompleted, state.Status)
	assert.Equal(t, 40, state.Result.TotalEvaluations)
	assert.Len(t, state.Result.Trace, 40)
	mu.Lock()
	assert.LessOrEqual(t, peak, 4)
	assert.Greater(t, peak, 1)
	mu.Unlock()
}

// TestTask_UnknownAlgorithmFailsOnStart tests that generator creation errors fail the task.
func TestTask_UnknownAlgorithmFailsOnStart(t *testing.T) {
	cfg := testConfig(5, 1)
	cfg.OptimizerConfig.OptimizerType = "nope"
	tk := newTask(t, cfg, nil)

	assert.Error(t, tk.Start())
	waitDone(t, tk)
	assert.Equal(t, model.TaskStatusFailed, tk.Status())
}

// TestTask_SnapshotIsolation tests that snapshots do not alias live state.
func TestTask_SnapshotIsolation(t *testing.T) {
	tk := newTask(t, testConfig(20, 1), nil)
	require.NoError(t, tk.Start())
	waitDone(t, tk)

	s1 := tk.Snapshot()
	s1.Result.Trace[0].Params["x"] = 1234
	s1.Config.ParameterConfig["x"] = model.ParameterConfig{}

	s2 := tk.Snapshot()
	assert.NotEqual(t, 1234.0, s2.Result.Trace[0].Params["x"])
	assert.Equal(t, -5.0, s2.Config.ParameterConfig["x"].LowerBound)
}

// TestNew_Rejects tests construction errors.
func TestNew_Rejects(t *testing.T) {
	cfg := testConfig(5, 1)
	cfg.TaskID = ""
	_, err := New(cfg, nil, Options{})
	assert.ErrorIs(t, err, model.ErrInvalidConfig)
}
