package mysql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TaskRunFilter narrows a history listing
type TaskRunFilter struct {
	Status string
	Limit  int
	Offset int
}

// TaskRunRepository handles finished task history in MySQL
type TaskRunRepository struct {
	ds *Datastore
}

// NewTaskRunRepository creates a new task run repository
func NewTaskRunRepository(ds *Datastore) *TaskRunRepository {
	return &TaskRunRepository{ds: ds}
}

// Upsert inserts run or updates the row with the same task_id
func (r *TaskRunRepository) Upsert(ctx context.Context, run *TaskRun) error {
	now := time.Now()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now

	err := r.ds.DB(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "task_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "status", "optimizer_type", "budget", "num_workers", "config",
			"best_value", "best_params", "total_evaluations", "optimization_time",
			"error", "updated_at", "started_at", "completed_at",
		}),
	}).Create(run).Error
	if err != nil {
		return fmt.Errorf("failed to upsert task run: %w", err)
	}
	return nil
}

// Get retrieves a run by task id, nil when absent
func (r *TaskRunRepository) Get(ctx context.Context, taskID string) (*TaskRun, error) {
	var run TaskRun
	err := r.ds.DB(ctx).Where("task_id = ?", taskID).First(&run).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get task run: %w", err)
	}
	return &run, nil
}

// List returns runs newest first
func (r *TaskRunRepository) List(ctx context.Context, filter TaskRunFilter) ([]*TaskRun, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	query := r.ds.DB(ctx).Model(&TaskRun{})
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	var runs []*TaskRun
	err := query.Order("created_at DESC").Limit(limit).Offset(filter.Offset).Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list task runs: %w", err)
	}
	return runs, nil
}

// Delete removes the run of taskID
func (r *TaskRunRepository) Delete(ctx context.Context, taskID string) error {
	return r.ds.DB(ctx).Where("task_id = ?", taskID).Delete(&TaskRun{}).Error
}

// CleanupBefore deletes completed runs older than before and returns the
// number of rows removed
func (r *TaskRunRepository) CleanupBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.ds.DB(ctx).
		Where("completed_at IS NOT NULL AND completed_at < ?", before).
		Delete(&TaskRun{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to cleanup task runs: %w", result.Error)
	}
	return result.RowsAffected, nil
}
