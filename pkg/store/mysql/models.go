package mysql

import "optqueue/pkg/store/mysql/model"

// Re-export types from model package

type (
	// Database models
	TaskRun = model.TaskRun

	// Custom JSON types
	JSONMap  = model.JSONMap
	FloatMap = model.FloatMap
)
