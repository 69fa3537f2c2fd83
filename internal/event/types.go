package event

import (
	"encoding/json"
	"time"

	"optqueue/internal/model"
)

// Type identifies an event kind. The set is closed.
type Type string

// Queue lifecycle
const (
	QueueStarted Type = "queue_started"
	QueueStopped Type = "queue_stopped"
	QueuePaused  Type = "queue_paused"
	QueueResumed Type = "queue_resumed"
	QueueError   Type = "queue_error"
)

// Task lifecycle
const (
	TaskAdded         Type = "task_added"
	TaskStarted       Type = "task_started"
	TaskCompleted     Type = "task_completed"
	TaskFailed        Type = "task_failed"
	TaskPaused        Type = "task_paused"
	TaskResumed       Type = "task_resumed"
	TaskStopped       Type = "task_stopped"
	TaskRemoved       Type = "task_removed"
	TaskStatusChanged Type = "task_status_changed"
)

// Optimization progress
const (
	IterationCompleted    Type = "iteration_completed"
	NewBestFound          Type = "new_best_found"
	OptimizationCompleted Type = "optimization_completed"
	OptimizationError     Type = "optimization_error"
)

// System
const (
	SystemError   Type = "system_error"
	SystemWarning Type = "system_warning"
	SystemInfo    Type = "system_info"
)

// Category groups event kinds
type Category string

const (
	CategoryQueue        Category = "queue"
	CategoryTask         Category = "task"
	CategoryOptimization Category = "optimization"
	CategorySystem       Category = "system"
)

var categories = map[Type]Category{
	QueueStarted: CategoryQueue, QueueStopped: CategoryQueue, QueuePaused: CategoryQueue,
	QueueResumed: CategoryQueue, QueueError: CategoryQueue,
	TaskAdded: CategoryTask, TaskStarted: CategoryTask, TaskCompleted: CategoryTask,
	TaskFailed: CategoryTask, TaskPaused: CategoryTask, TaskResumed: CategoryTask,
	TaskStopped: CategoryTask, TaskRemoved: CategoryTask, TaskStatusChanged: CategoryTask,
	IterationCompleted: CategoryOptimization, NewBestFound: CategoryOptimization,
	OptimizationCompleted: CategoryOptimization, OptimizationError: CategoryOptimization,
	SystemError: CategorySystem, SystemWarning: CategorySystem, SystemInfo: CategorySystem,
}

// Category returns the group of the event kind, empty for unknown kinds
func (t Type) Category() Category {
	return categories[t]
}

// Valid reports whether t belongs to the closed set
func (t Type) Valid() bool {
	_, ok := categories[t]
	return ok
}

// Payload is the typed data of an event. Only the types in this package
// implement it.
type Payload interface {
	payload()
}

// QueuePayload data of queue lifecycle events
type QueuePayload struct {
	Queue model.QueueStatus `json:"queue"`
	Error string            `json:"error,omitempty"`
}

// TaskPayload data of task lifecycle events
type TaskPayload struct {
	Name           string           `json:"name,omitempty"`
	Status         model.TaskStatus `json:"status"`
	PreviousStatus model.TaskStatus `json:"previous_status,omitempty"`
	Result         *model.Result    `json:"result,omitempty"`
	Error          string           `json:"error,omitempty"`
}

// IterationPayload data of iteration_completed
type IterationPayload struct {
	Iteration int                `json:"iteration"`
	Value     model.Value        `json:"value"`
	BestValue model.Value        `json:"best_value"`
	Params    map[string]float64 `json:"params"`
}

// BestPayload data of new_best_found
type BestPayload struct {
	Iteration  int                `json:"iteration"`
	BestValue  model.Value        `json:"best_value"`
	BestParams map[string]float64 `json:"best_params"`
}

// CompletionPayload data of optimization_completed
type CompletionPayload struct {
	BestValue        model.Value        `json:"best_value"`
	BestParams       map[string]float64 `json:"best_params"`
	TotalEvaluations int                `json:"total_evaluations"`
	OptimizationTime float64            `json:"optimization_time"`
}

// ErrorPayload data of optimization_error and system_error
type ErrorPayload struct {
	Error string `json:"error"`
}

// MessagePayload data of system_info and system_warning
type MessagePayload struct {
	Message string `json:"message"`
}

func (QueuePayload) payload()      {}
func (TaskPayload) payload()       {}
func (IterationPayload) payload()  {}
func (BestPayload) payload()       {}
func (CompletionPayload) payload() {}
func (ErrorPayload) payload()      {}
func (MessagePayload) payload()    {}

// Event is an immutable notification. Construct it with the New* functions,
// which copy mutable payload fields.
type Event struct {
	Type      Type
	TaskID    string
	Timestamp time.Time
	Data      Payload
}

type wireEvent struct {
	Type      Type    `json:"type"`
	TaskID    *string `json:"task_id"`
	Timestamp string  `json:"timestamp"`
	Data      Payload `json:"data"`
}

// MarshalJSON renders the wire format {type, task_id|null, timestamp, data}
func (e Event) MarshalJSON() ([]byte, error) {
	w := wireEvent{
		Type:      e.Type,
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
		Data:      e.Data,
	}
	if e.TaskID != "" {
		id := e.TaskID
		w.TaskID = &id
	}
	if w.Data == nil {
		w.Data = MessagePayload{}
	}
	return json.Marshal(w)
}

func newEvent(t Type, taskID string, data Payload) Event {
	return Event{Type: t, TaskID: taskID, Timestamp: time.Now(), Data: data}
}

// NewQueueEvent creates a queue lifecycle event
func NewQueueEvent(t Type, status model.QueueStatus, errMsg string) Event {
	if status.ActiveTaskID != nil {
		id := *status.ActiveTaskID
		status.ActiveTaskID = &id
	}
	return newEvent(t, "", QueuePayload{Queue: status, Error: errMsg})
}

// NewTaskEvent creates a task lifecycle event
func NewTaskEvent(t Type, taskID string, p TaskPayload) Event {
	p.Result = p.Result.Clone()
	return newEvent(t, taskID, p)
}

// NewIterationEvent creates iteration_completed
func NewIterationEvent(taskID string, p IterationPayload) Event {
	p.Params = model.CopyParams(p.Params)
	return newEvent(IterationCompleted, taskID, p)
}

// NewBestEvent creates new_best_found
func NewBestEvent(taskID string, p BestPayload) Event {
	p.BestParams = model.CopyParams(p.BestParams)
	return newEvent(NewBestFound, taskID, p)
}

// NewCompletionEvent creates optimization_completed
func NewCompletionEvent(taskID string, p CompletionPayload) Event {
	p.BestParams = model.CopyParams(p.BestParams)
	return newEvent(OptimizationCompleted, taskID, p)
}

// NewErrorEvent creates optimization_error, queue_error or system_error
func NewErrorEvent(t Type, taskID string, err string) Event {
	return newEvent(t, taskID, ErrorPayload{Error: err})
}

// NewSystemEvent creates system_info or system_warning
func NewSystemEvent(t Type, message string) Event {
	return newEvent(t, "", MessagePayload{Message: message})
}
