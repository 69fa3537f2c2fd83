package main

import (
	"context"
	"fmt"
	"time"

	"optqueue/internal/jobs"
	"optqueue/internal/model"
	"optqueue/internal/service"
	"optqueue/internal/ws"
	"optqueue/pkg/logger"
	mysqlstore "optqueue/pkg/store/mysql"
	redisstore "optqueue/pkg/store/redis"
)

const (
	snapshotInterval  = time.Minute
	retentionInterval = 24 * time.Hour
	historyRetention  = 30 * 24 * time.Hour
)

func (app *Application) initJobs() error {
	manager := jobs.NewManager(app.ctx)

	manager.Register(newConnectionSweepJob(app.config.WebSocket.PingInterval, app.registry))

	if app.archiveService != nil {
		manager.Register(newSnapshotJob(snapshotInterval, app.archiveService, app.queue))
	}

	if app.mysqlRepo != nil {
		// Replicas sharing one database take turns through a Redis lock; without
		// Redis the lock is always granted
		lock := redisstore.NewLock(app.redisClient, "history-retention", time.Minute)
		manager.Register(newHistoryRetentionJob(retentionInterval, historyRetention, app.mysqlRepo.TaskRun, lock))
	}

	app.jobsManager = manager
	return nil
}

// connectionSweepJob pings every client and drops the ones that do not answer.
type connectionSweepJob struct {
	interval time.Duration
	registry *ws.Registry
}

func newConnectionSweepJob(interval time.Duration, registry *ws.Registry) jobs.Job {
	return &connectionSweepJob{interval: interval, registry: registry}
}

func (j *connectionSweepJob) Name() string {
	return "connection-sweep"
}

func (j *connectionSweepJob) Interval() time.Duration {
	return j.interval
}

// SkipInitialRun no connections exist at startup
func (j *connectionSweepJob) SkipInitialRun() bool {
	return true
}

func (j *connectionSweepJob) Run(ctx context.Context) error {
	if j.registry == nil {
		return fmt.Errorf("connection registry not configured")
	}
	if dropped := j.registry.Sweep(); dropped > 0 {
		logger.InfoCtx(ctx, "connection sweep dropped %d clients, %d remain", dropped, j.registry.ConnectionCount())
	}
	return nil
}

// taskLister lists the current tasks
type taskLister interface {
	ListTasks() []model.TaskState
}

// snapshotJob stores the task list in Redis so an operator can see what a
// crashed process was holding.
type snapshotJob struct {
	interval time.Duration
	archive  *service.ArchiveService
	tasks    taskLister
}

func newSnapshotJob(interval time.Duration, archive *service.ArchiveService, tasks taskLister) jobs.Job {
	return &snapshotJob{interval: interval, archive: archive, tasks: tasks}
}

func (j *snapshotJob) Name() string {
	return "queue-snapshot"
}

func (j *snapshotJob) Interval() time.Duration {
	return j.interval
}

func (j *snapshotJob) Run(ctx context.Context) error {
	if j.archive == nil || j.tasks == nil {
		return fmt.Errorf("snapshot job not configured")
	}
	return j.archive.SaveSnapshot(ctx, j.tasks.ListTasks())
}

// runCleaner deletes old task runs
type runCleaner interface {
	CleanupBefore(ctx context.Context, before time.Time) (int64, error)
}

// distributedLock serializes a job across instances
type distributedLock interface {
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
}

// historyRetentionJob removes task runs older than the retention period.
type historyRetentionJob struct {
	interval  time.Duration
	retention time.Duration
	store     runCleaner
	lock      distributedLock
}

func newHistoryRetentionJob(interval, retention time.Duration, store runCleaner, lock distributedLock) jobs.Job {
	return &historyRetentionJob{interval: interval, retention: retention, store: store, lock: lock}
}

func (j *historyRetentionJob) Name() string {
	return "history-retention"
}

func (j *historyRetentionJob) Interval() time.Duration {
	return j.interval
}

func (j *historyRetentionJob) Run(ctx context.Context) error {
	if j.store == nil {
		return fmt.Errorf("task run store not configured")
	}

	if j.lock != nil {
		acquired, err := j.lock.TryLock(ctx)
		if err != nil || !acquired {
			logger.DebugCtx(ctx, "another instance is running history retention, skipping this cycle")
			return nil
		}
		defer j.lock.Unlock(ctx)
	}

	cutoff := time.Now().Add(-j.retention)
	deleted, err := j.store.CleanupBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	if deleted > 0 {
		logger.InfoCtx(ctx, "history retention removed %d task runs before %s", deleted, cutoff.Format(time.RFC3339))
	}
	return nil
}

var _ runCleaner = (*mysqlstore.TaskRunRepository)(nil)
