package service

import (
	"context"
	"fmt"

	"optqueue/internal/event"
	"optqueue/internal/model"
	"optqueue/pkg/store/mysql"
)

// TaskRunStore persists task runs
type TaskRunStore interface {
	Upsert(ctx context.Context, run *mysql.TaskRun) error
	Get(ctx context.Context, taskID string) (*mysql.TaskRun, error)
	List(ctx context.Context, filter mysql.TaskRunFilter) ([]*mysql.TaskRun, error)
}

// TaskSource looks up live task state
type TaskSource interface {
	GetTask(id string) (model.TaskState, bool)
}

// HistoryService records every task run in MySQL. Rows are written when a
// task is added, started and when it reaches a terminal status.
type HistoryService struct {
	store  TaskRunStore
	source TaskSource
	sink   *sink
}

// NewHistoryService creates a history service; subscribe HandleEvent to the
// queue bus
func NewHistoryService(store TaskRunStore, source TaskSource, buffer int) *HistoryService {
	s := &HistoryService{store: store, source: source}
	s.sink = newSink("history", buffer, s.record)
	return s
}

// HandleEvent queues lifecycle events that change the stored row
func (s *HistoryService) HandleEvent(e event.Event) error {
	switch e.Type {
	case event.TaskAdded, event.TaskStarted, event.TaskCompleted, event.TaskFailed, event.TaskStopped:
		return s.sink.enqueue(e)
	}
	return nil
}

// record runs on the sink goroutine, so reading the queue here cannot block
// event delivery
func (s *HistoryService) record(ctx context.Context, e event.Event) error {
	state, ok := s.source.GetTask(e.TaskID)
	if !ok {
		return nil
	}
	run, err := mysql.FromTaskState(state)
	if err != nil {
		return err
	}
	return s.store.Upsert(ctx, run)
}

// List returns stored runs, newest first
func (s *HistoryService) List(ctx context.Context, filter mysql.TaskRunFilter) ([]model.TaskState, error) {
	runs, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]model.TaskState, 0, len(runs))
	for _, run := range runs {
		state, err := mysql.ToTaskState(run)
		if err != nil {
			return nil, fmt.Errorf("task run %s: %w", run.TaskID, err)
		}
		out = append(out, state)
	}
	return out, nil
}

// Get returns the stored run of taskID
func (s *HistoryService) Get(ctx context.Context, taskID string) (model.TaskState, bool, error) {
	run, err := s.store.Get(ctx, taskID)
	if err != nil || run == nil {
		return model.TaskState{}, false, err
	}
	state, err := mysql.ToTaskState(run)
	if err != nil {
		return model.TaskState{}, false, err
	}
	return state, true, nil
}

// Close flushes pending writes
func (s *HistoryService) Close() {
	s.sink.close()
}
