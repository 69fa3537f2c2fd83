package queue

import (
	"context"
	"fmt"
	"time"

	"optqueue/internal/event"
	"optqueue/internal/model"
	"optqueue/internal/task"
	"optqueue/pkg/logger"

	"go.uber.org/zap"
)

// loop picks the oldest pending task whenever no task is active, then idles
// until the active task frees the slot
func (q *TaskQueue) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		if ctx.Err() != nil {
			return
		}

		q.mu.Lock()
		var next *task.Task
		if q.current == nil && !q.paused {
			next = q.nextPendingLocked()
			if next != nil {
				q.current = next
			}
		}
		q.mu.Unlock()

		if next != nil {
			q.launch(next)
		}

		timer := time.NewTimer(q.opts.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-q.notify:
		case <-timer.C:
		}
		timer.Stop()
	}
}

// launch starts t, which must already be the current task, and frees the
// slot once t is terminal. It reports whether the start succeeded.
func (q *TaskQueue) launch(t *task.Task) bool {
	err := t.Start()
	if err != nil {
		logger.Warn("task start failed", logger.TaskField(t.ID()), zap.Error(err))
		q.mu.Lock()
		q.reportErrorLocked(fmt.Errorf("start task %s: %w", t.ID(), err))
		q.mu.Unlock()
		if t.Status() == model.TaskStatusPending {
			q.release(t)
			return false
		}
	}
	go q.await(t)
	return err == nil
}

// await waits for t to reach a terminal status and frees the slot
func (q *TaskQueue) await(t *task.Task) {
	<-t.Done()
	q.release(t)
}

func (q *TaskQueue) release(t *task.Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.current == t {
		q.current = nil
	}
	q.wakeLocked()
}

func (q *TaskQueue) nextPendingLocked() *task.Task {
	for _, id := range q.order {
		t := q.tasks[id].task
		if t.Status() == model.TaskStatusPending {
			return t
		}
	}
	return nil
}

func (q *TaskQueue) reportErrorLocked(err error) {
	q.emitLocked(event.NewQueueEvent(event.QueueError, q.statusLocked(), err.Error()))
}
