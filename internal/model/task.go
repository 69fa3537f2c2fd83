package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// ErrInvalidConfig is returned for submissions rejected before they enter the
// task state machine.
var ErrInvalidConfig = errors.New("invalid task config")

// TaskStatus task status
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusPaused    TaskStatus = "paused"
	TaskStatusStopped   TaskStatus = "stopped"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// IsTerminal reports whether no transition may leave this status
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusStopped || s == TaskStatusCompleted || s == TaskStatusFailed
}

// IsActive reports whether an evaluation loop owns the task
func (s TaskStatus) IsActive() bool {
	return s == TaskStatusRunning || s == TaskStatusPaused
}

// Scale of a parameter axis
type Scale string

const (
	ScaleLinear Scale = "linear"
	ScaleLog    Scale = "log"
)

// ParameterConfig bounds of one parameter
type ParameterConfig struct {
	LowerBound float64  `json:"lower_bound"`
	UpperBound float64  `json:"upper_bound"`
	Init       *float64 `json:"init,omitempty"`
	Scale      Scale    `json:"scale"`
}

// OptimizerConfig candidate generator settings
type OptimizerConfig struct {
	OptimizerType string `json:"optimizer_type"`
	Budget        int    `json:"budget" binding:"gt=0"`
	NumWorkers    int    `json:"num_workers" binding:"gte=0"` // 0 means 1
	Seed          int64  `json:"seed,omitempty"`
}

// ExecutionConfig runtime settings of the evaluation loop
type ExecutionConfig struct {
	EvaluationTimeout float64 `json:"evaluation_timeout,omitempty"` // seconds, 0 disables
}

// ObjectiveKind selects how an objective is resolved
type ObjectiveKind string

const (
	ObjectiveExpression ObjectiveKind = "expression"
	ObjectiveRegistered ObjectiveKind = "registered"
)

// ObjectiveConfig references the function to minimize. It is either the
// source of a sandboxed expression or the name of a registered native function.
type ObjectiveConfig struct {
	Type   ObjectiveKind `json:"type"`
	Source string        `json:"source,omitempty"`
	Name   string        `json:"name,omitempty"`
}

// UnmarshalJSON accepts a bare string as expression source
func (o *ObjectiveConfig) UnmarshalJSON(data []byte) error {
	var src string
	if err := json.Unmarshal(data, &src); err == nil {
		*o = ObjectiveConfig{Type: ObjectiveExpression, Source: src}
		return nil
	}
	type plain ObjectiveConfig
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*o = ObjectiveConfig(p)
	return nil
}

// TaskConfig task submission payload
type TaskConfig struct {
	TaskID          string                     `json:"task_id,omitempty"`
	Name            string                     `json:"name"`
	ParameterConfig map[string]ParameterConfig `json:"parameter_config" binding:"required"`
	OptimizerConfig OptimizerConfig            `json:"optimizer_config"`
	ExecutionConfig ExecutionConfig            `json:"execution_config"`
	Objective       ObjectiveConfig            `json:"objective_fn"`
}

// ParameterNames returns the parameter names in a stable order
func (c *TaskConfig) ParameterNames() []string {
	names := make([]string, 0, len(c.ParameterConfig))
	for name := range c.ParameterConfig {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EvaluationTimeout returns the per-evaluation timeout, zero when disabled
func (c *TaskConfig) EvaluationTimeout() time.Duration {
	return time.Duration(c.ExecutionConfig.EvaluationTimeout * float64(time.Second))
}

// Normalize fills defaults and validates the configuration. Errors wrap
// ErrInvalidConfig.
func (c *TaskConfig) Normalize() error {
	if len(c.ParameterConfig) == 0 {
		return fmt.Errorf("%w: parameter_config must not be empty", ErrInvalidConfig)
	}

	for _, name := range c.ParameterNames() {
		p := c.ParameterConfig[name]
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("%w: parameter name must not be empty", ErrInvalidConfig)
		}
		if math.IsNaN(p.LowerBound) || math.IsNaN(p.UpperBound) || math.IsInf(p.LowerBound, 0) || math.IsInf(p.UpperBound, 0) {
			return fmt.Errorf("%w: parameter %q bounds must be finite", ErrInvalidConfig, name)
		}
		if p.UpperBound <= p.LowerBound {
			return fmt.Errorf("%w: parameter %q upper_bound must be greater than lower_bound", ErrInvalidConfig, name)
		}
		switch p.Scale {
		case "":
			p.Scale = ScaleLinear
		case ScaleLinear, ScaleLog:
		default:
			return fmt.Errorf("%w: parameter %q has unknown scale %q", ErrInvalidConfig, name, p.Scale)
		}
		if p.Scale == ScaleLog && p.LowerBound <= 0 {
			return fmt.Errorf("%w: parameter %q with log scale needs a positive lower_bound", ErrInvalidConfig, name)
		}
		if p.Init == nil {
			init := midpoint(p)
			p.Init = &init
		} else if *p.Init < p.LowerBound || *p.Init > p.UpperBound {
			return fmt.Errorf("%w: parameter %q init %v outside bounds", ErrInvalidConfig, name, *p.Init)
		}
		c.ParameterConfig[name] = p
	}

	if c.OptimizerConfig.Budget <= 0 {
		return fmt.Errorf("%w: budget must be positive", ErrInvalidConfig)
	}
	if c.OptimizerConfig.NumWorkers == 0 {
		c.OptimizerConfig.NumWorkers = 1
	}
	if c.OptimizerConfig.NumWorkers < 1 {
		return fmt.Errorf("%w: num_workers must be at least 1", ErrInvalidConfig)
	}
	if c.OptimizerConfig.OptimizerType == "" {
		c.OptimizerConfig.OptimizerType = "pattern"
	}
	if c.ExecutionConfig.EvaluationTimeout < 0 {
		return fmt.Errorf("%w: evaluation_timeout must not be negative", ErrInvalidConfig)
	}

	switch c.Objective.Type {
	case "":
		if c.Objective.Name != "" {
			c.Objective.Type = ObjectiveRegistered
		} else {
			c.Objective.Type = ObjectiveExpression
		}
	case ObjectiveExpression, ObjectiveRegistered:
	default:
		return fmt.Errorf("%w: unknown objective type %q", ErrInvalidConfig, c.Objective.Type)
	}
	if c.Objective.Type == ObjectiveExpression && strings.TrimSpace(c.Objective.Source) == "" {
		return fmt.Errorf("%w: objective_fn source is required", ErrInvalidConfig)
	}
	if c.Objective.Type == ObjectiveRegistered && c.Objective.Name == "" {
		return fmt.Errorf("%w: objective_fn name is required", ErrInvalidConfig)
	}
	return nil
}

// Clone returns a deep copy so snapshots never alias live configuration
func (c TaskConfig) Clone() TaskConfig {
	params := make(map[string]ParameterConfig, len(c.ParameterConfig))
	for name, p := range c.ParameterConfig {
		if p.Init != nil {
			init := *p.Init
			p.Init = &init
		}
		params[name] = p
	}
	c.ParameterConfig = params
	return c
}

func midpoint(p ParameterConfig) float64 {
	if p.Scale == ScaleLog {
		return math.Sqrt(p.LowerBound * p.UpperBound)
	}
	return (p.LowerBound + p.UpperBound) / 2
}

// Value is an objective value; +Inf (no evaluation yet) is encoded as null.
type Value float64

// Inf returns the sentinel used before the first evaluation
func Inf() Value {
	return Value(math.Inf(1))
}

// IsSet reports whether the value came from an evaluation
func (v Value) IsSet() bool {
	return !math.IsInf(float64(v), 0) && !math.IsNaN(float64(v))
}

func (v Value) MarshalJSON() ([]byte, error) {
	if !v.IsSet() {
		return []byte("null"), nil
	}
	return json.Marshal(float64(v))
}

func (v *Value) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*v = Inf()
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*v = Value(f)
	return nil
}

// TracePoint one evaluation of a task run
type TracePoint struct {
	Iteration int                `json:"iteration"`
	Value     Value              `json:"value"`
	BestValue Value              `json:"best_value"`
	Params    map[string]float64 `json:"params"`
	Timestamp time.Time          `json:"timestamp"`
}

// Result of a task run
type Result struct {
	BestValue        Value              `json:"best_value"`
	BestParams       map[string]float64 `json:"best_params,omitempty"`
	TotalEvaluations int                `json:"total_evaluations"`
	StartTime        time.Time          `json:"start_time"`
	EndTime          *time.Time         `json:"end_time,omitempty"`
	OptimizationTime float64            `json:"optimization_time,omitempty"` // seconds
	Trace            []TracePoint       `json:"trace"`
}

// NewResult returns an empty result for a run started at now
func NewResult(now time.Time) *Result {
	return &Result{
		BestValue: Inf(),
		StartTime: now,
		Trace:     make([]TracePoint, 0),
	}
}

// Finish records the end of the run
func (r *Result) Finish(now time.Time) {
	r.EndTime = &now
	r.OptimizationTime = now.Sub(r.StartTime).Seconds()
}

// Clone returns a deep copy of the result
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	out := *r
	out.BestParams = CopyParams(r.BestParams)
	if r.EndTime != nil {
		end := *r.EndTime
		out.EndTime = &end
	}
	out.Trace = make([]TracePoint, len(r.Trace))
	for i, p := range r.Trace {
		p.Params = CopyParams(p.Params)
		out.Trace[i] = p
	}
	return &out
}

// CopyParams copies a parameter vector, preserving nil
func CopyParams(params map[string]float64) map[string]float64 {
	if params == nil {
		return nil
	}
	out := make(map[string]float64, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}

// TaskState task state payload returned to callers
type TaskState struct {
	TaskID    string     `json:"task_id"`
	Name      string     `json:"name"`
	Status    TaskStatus `json:"status"`
	Config    TaskConfig `json:"config"`
	Result    *Result    `json:"result"`
	Error     *string    `json:"error"`
	CreatedAt time.Time  `json:"created_at"`
}

// QueueStatus queue status payload
type QueueStatus struct {
	ActiveTaskID *string `json:"active_task_id"`
	TaskCount    int     `json:"task_count"`
	IsProcessing bool    `json:"is_processing"`
	IsPaused     bool    `json:"is_paused"`
}
