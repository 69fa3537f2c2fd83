package model

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() TaskConfig {
	return TaskConfig{
		Name: "quadratic",
		ParameterConfig: map[string]ParameterConfig{
			"x": {LowerBound: -5, UpperBound: 5},
			"y": {LowerBound: 1e-3, UpperBound: 10, Scale: ScaleLog},
		},
		OptimizerConfig: OptimizerConfig{Budget: 10},
		Objective:       ObjectiveConfig{Source: "x*x + y"},
	}
}

func TestNormalize_Defaults(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Normalize())

	assert.Equal(t, ScaleLinear, cfg.ParameterConfig["x"].Scale)
	assert.Equal(t, 0.0, *cfg.ParameterConfig["x"].Init)
	assert.InDelta(t, math.Sqrt(1e-3*10), *cfg.ParameterConfig["y"].Init, 1e-12)
	assert.Equal(t, 1, cfg.OptimizerConfig.NumWorkers)
	assert.Equal(t, "pattern", cfg.OptimizerConfig.OptimizerType)
	assert.Equal(t, ObjectiveExpression, cfg.Objective.Type)
}

func TestNormalize_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *TaskConfig)
	}{
		{"empty parameters", func(c *TaskConfig) { c.ParameterConfig = nil }},
		{"inverted bounds", func(c *TaskConfig) {
			c.ParameterConfig["x"] = ParameterConfig{LowerBound: 1, UpperBound: 1}
		}},
		{"log scale non-positive", func(c *TaskConfig) {
			c.ParameterConfig["y"] = ParameterConfig{LowerBound: 0, UpperBound: 1, Scale: ScaleLog}
		}},
		{"unknown scale", func(c *TaskConfig) {
			c.ParameterConfig["x"] = ParameterConfig{LowerBound: 0, UpperBound: 1, Scale: "cubic"}
		}},
		{"init outside bounds", func(c *TaskConfig) {
			init := 7.0
			c.ParameterConfig["x"] = ParameterConfig{LowerBound: 0, UpperBound: 1, Init: &init}
		}},
		{"zero budget", func(c *TaskConfig) { c.OptimizerConfig.Budget = 0 }},
		{"negative workers", func(c *TaskConfig) { c.OptimizerConfig.NumWorkers = -2 }},
		{"empty objective", func(c *TaskConfig) { c.Objective = ObjectiveConfig{} }},
		{"registered without name", func(c *TaskConfig) { c.Objective = ObjectiveConfig{Type: ObjectiveRegistered} }},
		{"negative timeout", func(c *TaskConfig) { c.ExecutionConfig.EvaluationTimeout = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Normalize()
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestObjectiveConfig_UnmarshalString(t *testing.T) {
	var cfg TaskConfig
	require.NoError(t, json.Unmarshal([]byte(`{"name":"a","objective_fn":"(x-1)**2"}`), &cfg))
	assert.Equal(t, ObjectiveExpression, cfg.Objective.Type)
	assert.Equal(t, "(x-1)**2", cfg.Objective.Source)

	require.NoError(t, json.Unmarshal([]byte(`{"objective_fn":{"type":"registered","name":"sphere"}}`), &cfg))
	assert.Equal(t, ObjectiveRegistered, cfg.Objective.Type)
	assert.Equal(t, "sphere", cfg.Objective.Name)
}

func TestValue_JSON(t *testing.T) {
	data, err := json.Marshal(struct {
		A Value `json:"a"`
		B Value `json:"b"`
	}{A: Inf(), B: 1.5})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":null,"b":1.5}`, string(data))

	var v Value
	require.NoError(t, json.Unmarshal([]byte("null"), &v))
	assert.False(t, v.IsSet())
}

func TestResult_CloneIsDeep(t *testing.T) {
	r := NewResult(time.Now())
	r.BestParams = map[string]float64{"x": 1}
	r.Trace = append(r.Trace, TracePoint{Iteration: 1, Params: map[string]float64{"x": 1}})
	r.Finish(time.Now())

	c := r.Clone()
	c.BestParams["x"] = 2
	c.Trace[0].Params["x"] = 3
	*c.EndTime = time.Time{}

	assert.Equal(t, 1.0, r.BestParams["x"])
	assert.Equal(t, 1.0, r.Trace[0].Params["x"])
	assert.False(t, r.EndTime.IsZero())
}

func TestTaskStatus_Classes(t *testing.T) {
	for _, s := range []TaskStatus{TaskStatusStopped, TaskStatusCompleted, TaskStatusFailed} {
		assert.True(t, s.IsTerminal(), s)
		assert.False(t, s.IsActive(), s)
	}
	for _, s := range []TaskStatus{TaskStatusRunning, TaskStatusPaused} {
		assert.True(t, s.IsActive(), s)
		assert.False(t, s.IsTerminal(), s)
	}
	assert.False(t, TaskStatusPending.IsActive())
	assert.False(t, TaskStatusPending.IsTerminal())
}
