// Package task implements a single optimization job: its status state
// machine and the asynchronous ask/evaluate/tell loop that drives a
// candidate generator.
package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"optqueue/internal/event"
	"optqueue/internal/model"
	"optqueue/internal/objective"
	"optqueue/internal/optimizer"
	"optqueue/pkg/logger"

	"go.uber.org/zap"
)

// ErrInvalidTransition a control call is not allowed from the current status
var ErrInvalidTransition = errors.New("invalid task status transition")

const defaultPauseCheckInterval = 100 * time.Millisecond

// transitions lists every allowed status edge
var transitions = map[model.TaskStatus][]model.TaskStatus{
	model.TaskStatusPending: {model.TaskStatusRunning, model.TaskStatusFailed},
	model.TaskStatusRunning: {model.TaskStatusPaused, model.TaskStatusStopped, model.TaskStatusCompleted, model.TaskStatusFailed},
	model.TaskStatusPaused:  {model.TaskStatusRunning, model.TaskStatusStopped, model.TaskStatusCompleted, model.TaskStatusFailed},
}

// CanTransition reports whether from -> to is an edge of the status graph
func CanTransition(from, to model.TaskStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Options tune the evaluation loop
type Options struct {
	// PauseCheckInterval bounds how long a paused loop sleeps before
	// re-checking its status
	PauseCheckInterval time.Duration
}

// Task is one optimization job.
//
// Status, result and the generator are guarded by mu; the generator is only
// touched while mu is held. Events are published after the state change that
// caused them, in the same order: emitMu is taken before mu is released, so
// two transitions can never publish out of order. Handlers subscribed to
// Events() must not call back into the Task.
type Task struct {
	id         string
	cfg        model.TaskConfig
	createdAt  time.Time
	evaluator  objective.Evaluator
	space      *optimizer.Space
	bus        *event.Bus
	pauseCheck time.Duration

	mu     sync.Mutex
	status model.TaskStatus
	result *model.Result
	err    *string
	gen    optimizer.Generator
	cancel context.CancelFunc

	emitMu   sync.Mutex
	wake     chan struct{}
	done     chan struct{}
	doneOnce sync.Once
}

// New creates a pending task. cfg must be normalized and carry a task id.
func New(cfg model.TaskConfig, evaluator objective.Evaluator, opts Options) (*Task, error) {
	if cfg.TaskID == "" {
		return nil, fmt.Errorf("%w: task id is required", model.ErrInvalidConfig)
	}
	space, err := optimizer.NewSpace(cfg.ParameterConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrInvalidConfig, err)
	}
	if opts.PauseCheckInterval <= 0 {
		opts.PauseCheckInterval = defaultPauseCheckInterval
	}

	return &Task{
		id:         cfg.TaskID,
		cfg:        cfg.Clone(),
		createdAt:  time.Now(),
		evaluator:  evaluator,
		space:      space,
		bus:        event.NewBus("task:" + cfg.TaskID),
		pauseCheck: opts.PauseCheckInterval,
		status:     model.TaskStatusPending,
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}, nil
}

// ID returns the task id
func (t *Task) ID() string { return t.id }

// Events returns the bus the task publishes on
func (t *Task) Events() *event.Bus { return t.bus }

// Done is closed once the task reaches a terminal status and its final
// events have been published
func (t *Task) Done() <-chan struct{} { return t.done }

// Status returns the current status
func (t *Task) Status() model.TaskStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Snapshot returns a deep copy of the task state
func (t *Task) Snapshot() model.TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()

	state := model.TaskState{
		TaskID:    t.id,
		Name:      t.cfg.Name,
		Status:    t.status,
		Config:    t.cfg.Clone(),
		Result:    t.result.Clone(),
		CreatedAt: t.createdAt,
	}
	if t.err != nil {
		msg := *t.err
		state.Error = &msg
	}
	return state
}

// Start creates the generator and launches the evaluation loop. Only a
// pending task can start; it returns without waiting for the loop.
func (t *Task) Start() error {
	t.mu.Lock()
	if t.status != model.TaskStatusPending {
		status := t.status
		t.mu.Unlock()
		return fmt.Errorf("%w: cannot start %s task", ErrInvalidTransition, status)
	}

	now := time.Now()
	t.result = model.NewResult(now)

	gen, err := optimizer.New(t.space, t.cfg.OptimizerConfig)
	if err != nil {
		events := t.failLocked(fmt.Errorf("create optimizer: %w", err))
		t.finishAndEmit(events...)
		return err
	}
	t.gen = gen

	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	prev := t.setStatusLocked(model.TaskStatusRunning)
	events := []event.Event{
		event.NewTaskEvent(event.TaskStarted, t.id, event.TaskPayload{Name: t.cfg.Name, Status: t.status, PreviousStatus: prev}),
		t.statusChanged(prev),
	}

	logger.Info("task started", logger.TaskField(t.id),
		zap.String("optimizer", t.cfg.OptimizerConfig.OptimizerType),
		zap.Int("budget", t.cfg.OptimizerConfig.Budget),
		zap.Int("workers", t.cfg.OptimizerConfig.NumWorkers))

	go t.run(ctx)
	t.unlockAndEmit(events...)
	return nil
}

// Pause asks the loop to stop issuing candidates. In-flight evaluations
// still finish and are recorded.
func (t *Task) Pause() error {
	t.mu.Lock()
	if t.status != model.TaskStatusRunning {
		status := t.status
		t.mu.Unlock()
		return fmt.Errorf("%w: cannot pause %s task", ErrInvalidTransition, status)
	}
	prev := t.setStatusLocked(model.TaskStatusPaused)
	t.unlockAndEmit(
		event.NewTaskEvent(event.TaskPaused, t.id, event.TaskPayload{Name: t.cfg.Name, Status: t.status, PreviousStatus: prev}),
		t.statusChanged(prev),
	)
	return nil
}

// Resume continues a paused task with the same generator state
func (t *Task) Resume() error {
	t.mu.Lock()
	if t.status != model.TaskStatusPaused {
		status := t.status
		t.mu.Unlock()
		return fmt.Errorf("%w: cannot resume %s task", ErrInvalidTransition, status)
	}
	prev := t.setStatusLocked(model.TaskStatusRunning)
	select {
	case t.wake <- struct{}{}:
	default:
	}
	t.unlockAndEmit(
		event.NewTaskEvent(event.TaskResumed, t.id, event.TaskPayload{Name: t.cfg.Name, Status: t.status, PreviousStatus: prev}),
		t.statusChanged(prev),
	)
	return nil
}

// Stop cancels the loop and releases the generator. Stopping a task that is
// not running or paused returns ErrInvalidTransition and changes nothing.
func (t *Task) Stop() error {
	t.mu.Lock()
	if !t.status.IsActive() {
		status := t.status
		t.mu.Unlock()
		return fmt.Errorf("%w: cannot stop %s task", ErrInvalidTransition, status)
	}

	prev := t.setStatusLocked(model.TaskStatusStopped)
	t.releaseLocked()
	t.finishAndEmit(
		event.NewTaskEvent(event.TaskStopped, t.id, event.TaskPayload{
			Name: t.cfg.Name, Status: t.status, PreviousStatus: prev, Result: t.result,
		}),
		t.statusChanged(prev),
	)
	logger.Info("task stopped", logger.TaskField(t.id))
	return nil
}

func (t *Task) run(ctx context.Context) {
	for {
		batch, ok := t.nextBatch(ctx)
		if !ok {
			return
		}
		t.evaluateBatch(ctx, batch)
	}
}

// nextBatch asks up to num_workers candidates. It blocks while the task is
// paused and returns false once the loop should exit.
func (t *Task) nextBatch(ctx context.Context) ([]optimizer.Candidate, bool) {
	for {
		if ctx.Err() != nil {
			return nil, false
		}

		t.mu.Lock()
		switch t.status {
		case model.TaskStatusRunning:
		case model.TaskStatusPaused:
			t.mu.Unlock()
			if !t.waitWhilePaused(ctx) {
				return nil, false
			}
			continue
		default:
			t.mu.Unlock()
			return nil, false
		}

		workers := t.cfg.OptimizerConfig.NumWorkers
		batch := make([]optimizer.Candidate, 0, workers)
		var askErr error
		for len(batch) < workers {
			c, err := t.gen.Ask()
			if err != nil {
				askErr = err
				break
			}
			batch = append(batch, c)
		}
		if len(batch) > 0 {
			t.mu.Unlock()
			return batch, true
		}

		var events []event.Event
		if optimizer.Finished(askErr) {
			events = t.completeLocked()
		} else {
			events = t.failLocked(fmt.Errorf("ask optimizer: %w", askErr))
		}
		t.finishAndEmit(events...)
		return nil, false
	}
}

// waitWhilePaused sleeps until resumed, stopped or the check interval elapses
func (t *Task) waitWhilePaused(ctx context.Context) bool {
	timer := time.NewTimer(t.pauseCheck)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.wake:
	case <-timer.C:
	}
	return true
}

func (t *Task) completeLocked() []event.Event {
	prev := t.setStatusLocked(model.TaskStatusCompleted)
	if params, value, ok := t.gen.Best(); ok && value < float64(t.result.BestValue) {
		t.result.BestValue = model.Value(value)
		t.result.BestParams = params
	}
	t.releaseLocked()

	r := t.result
	logger.Info("task completed", logger.TaskField(t.id),
		zap.Float64("best_value", float64(r.BestValue)),
		zap.Int("evaluations", r.TotalEvaluations))

	return []event.Event{
		event.NewCompletionEvent(t.id, event.CompletionPayload{
			BestValue:        r.BestValue,
			BestParams:       r.BestParams,
			TotalEvaluations: r.TotalEvaluations,
			OptimizationTime: r.OptimizationTime,
		}),
		event.NewTaskEvent(event.TaskCompleted, t.id, event.TaskPayload{
			Name: t.cfg.Name, Status: t.status, PreviousStatus: prev, Result: r,
		}),
		t.statusChanged(prev),
	}
}

func (t *Task) failLocked(cause error) []event.Event {
	msg := cause.Error()
	t.err = &msg
	prev := t.setStatusLocked(model.TaskStatusFailed)
	t.releaseLocked()

	logger.Error("task failed", logger.TaskField(t.id), zap.Error(cause))

	return []event.Event{
		event.NewErrorEvent(event.OptimizationError, t.id, msg),
		event.NewTaskEvent(event.TaskFailed, t.id, event.TaskPayload{
			Name: t.cfg.Name, Status: t.status, PreviousStatus: prev, Result: t.result, Error: msg,
		}),
		t.statusChanged(prev),
	}
}

// releaseLocked cancels in-flight work, closes the generator and stamps the
// end time. Called exactly once, on the transition into a terminal status.
func (t *Task) releaseLocked() {
	if t.cancel != nil {
		t.cancel()
	}
	if t.gen != nil {
		if err := t.gen.Close(); err != nil {
			logger.Warn("close optimizer failed", logger.TaskField(t.id), zap.Error(err))
		}
		t.gen = nil
	}
	if t.result != nil {
		t.result.Finish(time.Now())
	}
}

func (t *Task) setStatusLocked(to model.TaskStatus) model.TaskStatus {
	prev := t.status
	if !CanTransition(prev, to) {
		// Callers check the source status first; reaching this is a bug.
		panic(fmt.Sprintf("task %s: illegal transition %s -> %s", t.id, prev, to))
	}
	t.status = to
	return prev
}

func (t *Task) statusChanged(prev model.TaskStatus) event.Event {
	return event.NewTaskEvent(event.TaskStatusChanged, t.id, event.TaskPayload{
		Name: t.cfg.Name, Status: t.status, PreviousStatus: prev,
	})
}

// unlockAndEmit releases mu and publishes events while holding emitMu
func (t *Task) unlockAndEmit(events ...event.Event) {
	t.emitMu.Lock()
	t.mu.Unlock()
	defer t.emitMu.Unlock()

	for _, e := range events {
		t.bus.Publish(e)
	}
}

// finishAndEmit is unlockAndEmit for a terminal transition; Done is closed
// after the events are out.
func (t *Task) finishAndEmit(events ...event.Event) {
	t.unlockAndEmit(events...)
	t.doneOnce.Do(func() { close(t.done) })
}
