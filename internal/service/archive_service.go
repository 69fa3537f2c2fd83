package service

import (
	"context"
	"encoding/json"
	"time"

	"optqueue/internal/event"
	"optqueue/internal/model"
	"optqueue/pkg/logger"
)

// EventArchive persists event history and queue snapshots
type EventArchive interface {
	Append(ctx context.Context, e event.Event) error
	List(ctx context.Context, taskID string, limit int64) ([]json.RawMessage, error)
	DeleteTask(ctx context.Context, taskID string) error
	SaveSnapshot(ctx context.Context, tasks []model.TaskState, at time.Time) error
	LoadSnapshot(ctx context.Context) ([]model.TaskState, time.Time, error)
}

// ArchiveService writes every queue event to the archive
type ArchiveService struct {
	archive EventArchive
	sink    *sink
}

// NewArchiveService creates an archive service; subscribe HandleEvent to the
// queue bus
func NewArchiveService(archive EventArchive, buffer int) *ArchiveService {
	s := &ArchiveService{archive: archive}
	s.sink = newSink("archive", buffer, s.store)
	return s
}

// HandleEvent queues e for archiving
func (s *ArchiveService) HandleEvent(e event.Event) error {
	return s.sink.enqueue(e)
}

func (s *ArchiveService) store(ctx context.Context, e event.Event) error {
	if e.Type == event.TaskRemoved {
		return s.archive.DeleteTask(ctx, e.TaskID)
	}
	return s.archive.Append(ctx, e)
}

// Events returns archived events of taskID, oldest first. An empty taskID
// returns queue level events.
func (s *ArchiveService) Events(ctx context.Context, taskID string, limit int64) ([]json.RawMessage, error) {
	return s.archive.List(ctx, taskID, limit)
}

// SaveSnapshot stores the current task list
func (s *ArchiveService) SaveSnapshot(ctx context.Context, tasks []model.TaskState) error {
	if err := s.archive.SaveSnapshot(ctx, tasks, time.Now()); err != nil {
		return err
	}
	logger.DebugCtx(ctx, "saved queue snapshot with %d tasks", len(tasks))
	return nil
}

// LastSnapshot returns the most recently stored task list
func (s *ArchiveService) LastSnapshot(ctx context.Context) ([]model.TaskState, time.Time, error) {
	return s.archive.LoadSnapshot(ctx)
}

// Dropped returns the number of events discarded because the buffer was full
func (s *ArchiveService) Dropped() int64 {
	return s.sink.dropped.Load()
}

// Close flushes pending events
func (s *ArchiveService) Close() {
	s.sink.close()
}
