package mysql

import (
	"encoding/json"
	"fmt"

	"optqueue/internal/model"
)

// FromTaskState converts a task snapshot to a task_runs row. The trace is
// not persisted.
func FromTaskState(state model.TaskState) (*TaskRun, error) {
	cfg, err := configToJSONMap(state.Config)
	if err != nil {
		return nil, err
	}

	run := &TaskRun{
		TaskID:        state.TaskID,
		Name:          state.Name,
		Status:        string(state.Status),
		OptimizerType: state.Config.OptimizerConfig.OptimizerType,
		Budget:        state.Config.OptimizerConfig.Budget,
		NumWorkers:    state.Config.OptimizerConfig.NumWorkers,
		Config:        cfg,
		CreatedAt:     state.CreatedAt,
	}
	if state.Error != nil {
		run.Error = *state.Error
	}

	if r := state.Result; r != nil {
		if r.BestValue.IsSet() {
			v := float64(r.BestValue)
			run.BestValue = &v
		}
		run.BestParams = FloatMap(model.CopyParams(r.BestParams))
		run.TotalEvaluations = r.TotalEvaluations
		run.OptimizationTime = r.OptimizationTime
		if !r.StartTime.IsZero() {
			start := r.StartTime
			run.StartedAt = &start
		}
		if r.EndTime != nil {
			end := *r.EndTime
			run.CompletedAt = &end
		}
	}
	return run, nil
}

// ToTaskState converts a task_runs row back to a task snapshot without trace
func ToTaskState(run *TaskRun) (model.TaskState, error) {
	if run == nil {
		return model.TaskState{}, fmt.Errorf("nil task run")
	}

	var cfg model.TaskConfig
	if run.Config != nil {
		data, err := json.Marshal(run.Config)
		if err != nil {
			return model.TaskState{}, fmt.Errorf("failed to marshal config: %w", err)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return model.TaskState{}, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	state := model.TaskState{
		TaskID:    run.TaskID,
		Name:      run.Name,
		Status:    model.TaskStatus(run.Status),
		Config:    cfg,
		CreatedAt: run.CreatedAt,
	}
	if run.Error != "" {
		msg := run.Error
		state.Error = &msg
	}

	if run.StartedAt != nil {
		result := model.NewResult(*run.StartedAt)
		if run.BestValue != nil {
			result.BestValue = model.Value(*run.BestValue)
		}
		result.BestParams = model.CopyParams(run.BestParams)
		result.TotalEvaluations = run.TotalEvaluations
		result.OptimizationTime = run.OptimizationTime
		if run.CompletedAt != nil {
			end := *run.CompletedAt
			result.EndTime = &end
		}
		state.Result = result
	}
	return state, nil
}

func configToJSONMap(cfg model.TaskConfig) (JSONMap, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	out := make(JSONMap)
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return out, nil
}
