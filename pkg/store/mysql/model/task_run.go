package model

import "time"

// TaskRun MySQL model for task_runs table, one row per submitted task
type TaskRun struct {
	ID               int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	TaskID           string     `gorm:"column:task_id;type:varchar(255);not null;uniqueIndex:idx_task_id_unique" json:"task_id"`
	Name             string     `gorm:"column:name;type:varchar(255)" json:"name"`
	Status           string     `gorm:"column:status;type:varchar(50);not null;index:idx_status" json:"status"`
	OptimizerType    string     `gorm:"column:optimizer_type;type:varchar(50)" json:"optimizer_type"`
	Budget           int        `gorm:"column:budget" json:"budget"`
	NumWorkers       int        `gorm:"column:num_workers" json:"num_workers"`
	Config           JSONMap    `gorm:"column:config;type:json" json:"config"`
	BestValue        *float64   `gorm:"column:best_value" json:"best_value"`
	BestParams       FloatMap   `gorm:"column:best_params;type:json" json:"best_params"`
	TotalEvaluations int        `gorm:"column:total_evaluations" json:"total_evaluations"`
	OptimizationTime float64    `gorm:"column:optimization_time" json:"optimization_time"`
	Error            string     `gorm:"column:error;type:text" json:"error"`
	CreatedAt        time.Time  `gorm:"column:created_at;type:datetime(3);not null;index:idx_created_at" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"column:updated_at;type:datetime(3);not null" json:"updated_at"`
	StartedAt        *time.Time `gorm:"column:started_at;type:datetime(3)" json:"started_at"`
	CompletedAt      *time.Time `gorm:"column:completed_at;type:datetime(3);index:idx_completed_at" json:"completed_at"`
}

// TableName specifies the table name for TaskRun
func (TaskRun) TableName() string {
	return "task_runs"
}
