// Package queue implements the task scheduler: it owns every submitted task,
// runs the oldest pending one at a time and republishes all task events on a
// single queue bus.
package queue

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
	"optqueue/internal/task"
	"optqueue/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrDuplicateTaskID a task with the submitted id already exists
	ErrDuplicateTaskID = errors.New("duplicate task id")
	// ErrTaskNotFound no task has the given id
	ErrTaskNotFound = errors.New("task not found")
	// ErrTaskActive the task is running, paused or about to start
	ErrTaskActive = errors.New("task is active")
)

// Options queue settings
type Options struct {
	// PollInterval is the idle wait of the scheduling loop
	PollInterval time.Duration
	// PauseCheckInterval is passed to every task
	PauseCheckInterval time.Duration
	// ForwardBuffer is the capacity of the forwarding stage
	ForwardBuffer int
	// Registry resolves registered objective names; nil means built-ins only
	Registry *objective.Registry
}

type entry struct {
	task  *task.Task
	subID uint64
}

// TaskQueue schedules tasks one at a time.
//
// Task events and queue events are both enqueued into one forwarding stage,
// so subscribers of Events() observe a single total order. Those subscribers
// run on the forwarding goroutine and must not call back into the queue or
// its tasks synchronously.
type TaskQueue struct {
	opts      Options
	registry  *objective.Registry
	bus       *event.Bus
	forwarder *event.Forwarder

	mu         sync.Mutex
	tasks      map[string]*entry
	order      []string
	current    *task.Task
	processing bool
	paused     bool
	stopLoop   context.CancelFunc
	loopDone   chan struct{}
	notify     chan struct{}
	closed     bool
}

// New creates an idle queue; call StartProcessing to begin scheduling
func New(opts Options) *TaskQueue {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 100 * time.Millisecond
	}
	if opts.ForwardBuffer <= 0 {
		opts.ForwardBuffer = 1024
	}
	registry := opts.Registry
	if registry == nil {
		registry = objective.NewRegistry()
	}

	bus := event.NewBus("queue")
	return &TaskQueue{
		opts:      opts,
		registry:  registry,
		bus:       bus,
		forwarder: event.NewForwarder(bus, opts.ForwardBuffer),
		tasks:     make(map[string]*entry),
		notify:    make(chan struct{}, 1),
	}
}

// Events returns the bus carrying every task and queue event
func (q *TaskQueue) Events() *event.Bus {
	return q.bus
}

// Registry returns the objective registry used to resolve submissions
func (q *TaskQueue) Registry() *objective.Registry {
	return q.registry
}

// AddTask validates cfg and registers a pending task. A missing task id is
// generated. Configuration errors wrap model.ErrInvalidConfig.
func (q *TaskQueue) AddTask(cfg model.TaskConfig) (string, error) {
	cfg = cfg.Clone()
	if err := cfg.Normalize(); err != nil {
		return "", err
	}
	if !optimizer.Supported(cfg.OptimizerConfig.OptimizerType) {
		return "", fmt.Errorf("%w: %v %q", model.ErrInvalidConfig, optimizer.ErrUnknownAlgorithm, cfg.OptimizerConfig.OptimizerType)
	}
	evaluator, err := q.registry.Resolve(cfg.Objective, cfg.ParameterNames())
	if err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrInvalidConfig, err)
	}
	if cfg.TaskID == "" {
		cfg.TaskID = uuid.NewString()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return "", errors.New("queue closed")
	}
	if _, ok := q.tasks[cfg.TaskID]; ok {
		return "", fmt.Errorf("%w: %s", ErrDuplicateTaskID, cfg.TaskID)
	}

	t, err := task.New(cfg, evaluator, task.Options{PauseCheckInterval: q.opts.PauseCheckInterval})
	if err != nil {
		return "", err
	}
	subID := t.Events().Subscribe(q.forwarder.Enqueue)
	q.tasks[cfg.TaskID] = &entry{task: t, subID: subID}
	q.order = append(q.order, cfg.TaskID)

	q.emitLocked(event.NewTaskEvent(event.TaskAdded, cfg.TaskID, event.TaskPayload{
		Name:   cfg.Name,
		Status: model.TaskStatusPending,
	}))
	q.wakeLocked()

	logger.Info("task added", logger.TaskField(cfg.TaskID), zap.String("name", cfg.Name))
	return cfg.TaskID, nil
}

// GetTask returns a snapshot of one task
func (q *TaskQueue) GetTask(id string) (model.TaskState, bool) {
	q.mu.Lock()
	e, ok := q.tasks[id]
	q.mu.Unlock()
	if !ok {
		return model.TaskState{}, false
	}
	return e.task.Snapshot(), true
}

// ListTasks returns snapshots of all tasks in submission order
func (q *TaskQueue) ListTasks() []model.TaskState {
	q.mu.Lock()
	tasks := make([]*task.Task, 0, len(q.order))
	for _, id := range q.order {
		tasks = append(tasks, q.tasks[id].task)
	}
	q.mu.Unlock()

	states := make([]model.TaskState, 0, len(tasks))
	for _, t := range tasks {
		states = append(states, t.Snapshot())
	}
	return states
}

// Status returns the queue status payload
func (q *TaskQueue) Status() model.QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.statusLocked()
}

// RemoveTask deletes a pending or terminal task
func (q *TaskQueue) RemoveTask(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	status := e.task.Status()
	if status.IsActive() || q.current == e.task {
		return fmt.Errorf("%w: %s is %s", ErrTaskActive, id, status)
	}

	e.task.Events().Unsubscribe(e.subID)
	delete(q.tasks, id)
	for i, oid := range q.order {
		if oid == id {
			q.order = append(q.order[:i:i], q.order[i+1:]...)
			break
		}
	}

	q.emitLocked(event.NewTaskEvent(event.TaskRemoved, id, event.TaskPayload{Status: status}))
	logger.Info("task removed", logger.TaskField(id))
	return nil
}

// StartTask resumes a paused task, or starts a pending task when no other
// task is active. It reports false for unknown ids and inapplicable calls.
func (q *TaskQueue) StartTask(id string) bool {
	q.mu.Lock()
	e, ok := q.tasks[id]
	if !ok {
		q.mu.Unlock()
		return false
	}
	t := e.task

	switch t.Status() {
	case model.TaskStatusPaused:
		q.mu.Unlock()
		return t.Resume() == nil
	case model.TaskStatusPending:
		if q.current != nil {
			active := q.current.ID()
			q.mu.Unlock()
			logger.Warn("another task is active", logger.TaskField(id), zap.String("active_task_id", active))
			return false
		}
		q.current = t
		q.mu.Unlock()
		return q.launch(t)
	default:
		q.mu.Unlock()
		return false
	}
}

// PauseTask pauses a running task
func (q *TaskQueue) PauseTask(id string) bool {
	t, ok := q.lookup(id)
	return ok && t.Pause() == nil
}

// ResumeTask resumes a paused task
func (q *TaskQueue) ResumeTask(id string) bool {
	t, ok := q.lookup(id)
	return ok && t.Resume() == nil
}

// StopTask stops a running or paused task
func (q *TaskQueue) StopTask(id string) bool {
	t, ok := q.lookup(id)
	return ok && t.Stop() == nil
}

// StartProcessing launches the scheduling loop. It reports false when the
// loop is already running.
func (q *TaskQueue) StartProcessing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	if q.processing {
		logger.Warn("queue processing already started")
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	q.processing = true
	q.paused = false
	q.stopLoop = cancel
	q.loopDone = make(chan struct{})
	go q.loop(ctx, q.loopDone)

	q.emitLocked(event.NewQueueEvent(event.QueueStarted, q.statusLocked(), ""))
	logger.Info("queue processing started")
	return true
}

// StopProcessing halts the scheduling loop and stops the active task
func (q *TaskQueue) StopProcessing() bool {
	q.mu.Lock()
	if !q.processing {
		q.mu.Unlock()
		return false
	}
	q.processing = false
	q.paused = false
	q.stopLoop()
	done := q.loopDone
	q.mu.Unlock()

	<-done

	q.mu.Lock()
	current := q.current
	q.mu.Unlock()
	if current != nil && current.Status().IsActive() {
		if err := current.Stop(); err != nil {
			logger.Warn("stop active task failed", logger.TaskField(current.ID()), zap.Error(err))
		}
	}

	q.mu.Lock()
	q.emitLocked(event.NewQueueEvent(event.QueueStopped, q.statusLocked(), ""))
	q.mu.Unlock()

	logger.Info("queue processing stopped")
	return true
}

// PauseProcessing stops picking up pending tasks; the active task keeps running
func (q *TaskQueue) PauseProcessing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.processing || q.paused {
		return false
	}
	q.paused = true
	q.emitLocked(event.NewQueueEvent(event.QueuePaused, q.statusLocked(), ""))
	logger.Info("queue processing paused")
	return true
}

// ResumeProcessing lets the loop pick up pending tasks again
func (q *TaskQueue) ResumeProcessing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.processing || !q.paused {
		return false
	}
	q.paused = false
	q.wakeLocked()
	q.emitLocked(event.NewQueueEvent(event.QueueResumed, q.statusLocked(), ""))
	logger.Info("queue processing resumed")
	return true
}

// Close stops processing and flushes pending events to subscribers
func (q *TaskQueue) Close() {
	q.StopProcessing()

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	current := q.current
	q.mu.Unlock()

	if current != nil && current.Status().IsActive() {
		_ = current.Stop()
	}
	q.forwarder.Close()
}

func (q *TaskQueue) lookup(id string) (*task.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.tasks[id]
	if !ok {
		return nil, false
	}
	return e.task, true
}

func (q *TaskQueue) statusLocked() model.QueueStatus {
	status := model.QueueStatus{
		TaskCount:    len(q.tasks),
		IsProcessing: q.processing,
		IsPaused:     q.paused,
	}
	if q.current != nil {
		id := q.current.ID()
		status.ActiveTaskID = &id
	}
	return status
}

// emitLocked enqueues a queue-level event while q.mu is held, so it is
// ordered against the state change it describes
func (q *TaskQueue) emitLocked(e event.Event) {
	if err := q.forwarder.Enqueue(e); err != nil {
		logger.Warn("drop queue event", zap.String("event", string(e.Type)), zap.Error(err))
	}
}

func (q *TaskQueue) wakeLocked() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
