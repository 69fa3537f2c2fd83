package model

// Response status values
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// ErrorBody error details of an envelope
type ErrorBody struct {
	Message string `json:"message"`
}

// Envelope standard response wrapper shared by the REST API and websocket
type Envelope struct {
	Status string      `json:"status"`
	Data   interface{} `json:"data,omitempty"`
	Error  *ErrorBody  `json:"error,omitempty"`
}

// Success wraps data in a success envelope
func Success(data interface{}) Envelope {
	return Envelope{Status: StatusSuccess, Data: data}
}

// Failure wraps a message in an error envelope
func Failure(message string) Envelope {
	return Envelope{Status: StatusError, Error: &ErrorBody{Message: message}}
}

// Control actions shared by task and queue control
const (
	ActionStart  = "start"
	ActionPause  = "pause"
	ActionResume = "resume"
	ActionStop   = "stop"
)

// ValidAction reports whether action is one of start, pause, resume, stop
func ValidAction(action string) bool {
	switch action {
	case ActionStart, ActionPause, ActionResume, ActionStop:
		return true
	}
	return false
}

// ControlRequest body of task and queue control requests
type ControlRequest struct {
	Action string `json:"action" binding:"required"`
}
