package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"optqueue/internal/event"
	"optqueue/internal/model"

	"github.com/go-redis/redis/v8"
)

const (
	taskEventKeyPrefix = "events:task:" // per-task event history (events:task:{id})
	queueEventKey      = "events:queue" // events without a task id
	snapshotKey        = "tasks:snapshot"
	snapshotTimeKey    = "tasks:snapshot:at"
	eventHistoryTTL    = 7 * 24 * time.Hour
)

// EventRepository keeps a capped event history per task and the latest queue
// snapshot in Redis.
type EventRepository struct {
	redis   *redis.Client
	maxKeep int64
}

// NewEventRepository creates an event repository keeping at most maxKeep
// events per list
func NewEventRepository(redisClient *RedisClient, maxKeep int64) *EventRepository {
	if maxKeep <= 0 {
		maxKeep = 1000
	}
	return &EventRepository{
		redis:   redisClient.GetClient(),
		maxKeep: maxKeep,
	}
}

func eventKey(taskID string) string {
	if taskID == "" {
		return queueEventKey
	}
	return taskEventKeyPrefix + taskID
}

// Append stores e at the tail of its list, trimming the oldest entries
func (r *EventRepository) Append(ctx context.Context, e event.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	key := eventKey(e.TaskID)
	pipe := r.redis.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, -r.maxKeep, -1)
	pipe.Expire(ctx, key, eventHistoryTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// List returns up to limit of the most recent events for taskID, oldest
// first. An empty taskID lists queue level events; limit <= 0 lists all.
func (r *EventRepository) List(ctx context.Context, taskID string, limit int64) ([]json.RawMessage, error) {
	start := int64(0)
	if limit > 0 {
		start = -limit
	}
	items, err := r.redis.LRange(ctx, eventKey(taskID), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	out := make([]json.RawMessage, 0, len(items))
	for _, item := range items {
		out = append(out, json.RawMessage(item))
	}
	return out, nil
}

// Count returns the number of stored events for taskID
func (r *EventRepository) Count(ctx context.Context, taskID string) (int64, error) {
	n, err := r.redis.LLen(ctx, eventKey(taskID)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}

// DeleteTask removes the history of a removed task
func (r *EventRepository) DeleteTask(ctx context.Context, taskID string) error {
	if taskID == "" {
		return nil
	}
	if err := r.redis.Del(ctx, eventKey(taskID)).Err(); err != nil {
		return fmt.Errorf("failed to delete events: %w", err)
	}
	return nil
}

// SaveSnapshot replaces the stored queue snapshot with tasks
func (r *EventRepository) SaveSnapshot(ctx context.Context, tasks []model.TaskState, at time.Time) error {
	fields := make(map[string]interface{}, len(tasks))
	for _, t := range tasks {
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("failed to marshal task %s: %w", t.TaskID, err)
		}
		fields[t.TaskID] = data
	}

	pipe := r.redis.TxPipeline()
	pipe.Del(ctx, snapshotKey)
	if len(fields) > 0 {
		pipe.HSet(ctx, snapshotKey, fields)
	}
	pipe.Set(ctx, snapshotTimeKey, at.UTC().Format(time.RFC3339Nano), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot returns the stored snapshot in submission order and the time
// it was taken. A missing snapshot yields no tasks and a zero time.
func (r *EventRepository) LoadSnapshot(ctx context.Context) ([]model.TaskState, time.Time, error) {
	var at time.Time
	raw, err := r.redis.Get(ctx, snapshotTimeKey).Result()
	if err == redis.Nil {
		return []model.TaskState{}, at, nil
	}
	if err != nil {
		return nil, at, fmt.Errorf("failed to load snapshot time: %w", err)
	}
	if at, err = time.Parse(time.RFC3339Nano, raw); err != nil {
		return nil, at, fmt.Errorf("invalid snapshot time: %w", err)
	}

	values, err := r.redis.HGetAll(ctx, snapshotKey).Result()
	if err != nil {
		return nil, at, fmt.Errorf("failed to load snapshot: %w", err)
	}

	tasks := make([]model.TaskState, 0, len(values))
	for id, v := range values {
		var t model.TaskState
		if err := json.Unmarshal([]byte(v), &t); err != nil {
			return nil, at, fmt.Errorf("failed to unmarshal task %s: %w", id, err)
		}
		tasks = append(tasks, t)
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].TaskID < tasks[j].TaskID
		}
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
	return tasks, at, nil
}
