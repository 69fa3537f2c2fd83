// Package ws tracks client connections, fans queue events out to them and
// replays recent events to clients that join or reconnect.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"optqueue/internal/event"
	"optqueue/internal/model"
	"optqueue/pkg/logger"

	"go.uber.org/zap"
)

// Conn is one client transport. Send writes a JSON message.
type Conn interface {
	Send(v interface{}) error
	Ping() error
	Close() error
}

// Queue is the part of the task queue the registry needs
type Queue interface {
	ListTasks() []model.TaskState
	Status() model.QueueStatus
	StartTask(id string) bool
	PauseTask(id string) bool
	ResumeTask(id string) bool
	StopTask(id string) bool
}

// Client message types
const (
	MsgRequestState = "REQUEST_STATE"
	MsgControlTask  = "CONTROL_TASK"
	MsgReconnect    = "RECONNECT"
)

// Server message types carried in envelope data
const (
	MsgInitialState = "INITIAL_STATE"
	MsgState        = "STATE"
	MsgControlAck   = "CONTROL_TASK_ACK"
)

// ClientMessage is a message received from a client
type ClientMessage struct {
	Type     string          `json:"type"`
	ClientID string          `json:"client_id,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// ControlData payload of CONTROL_TASK
type ControlData struct {
	TaskID string `json:"task_id"`
	Action string `json:"action"`
}

// StateMessage full snapshot sent on connect and on REQUEST_STATE
type StateMessage struct {
	Type        string            `json:"type"`
	Tasks       []model.TaskState `json:"tasks"`
	QueueStatus model.QueueStatus `json:"queue_status"`
}

// ControlAck reply to CONTROL_TASK
type ControlAck struct {
	Type    string `json:"type"`
	TaskID  string `json:"task_id"`
	Action  string `json:"action"`
	Success bool   `json:"success"`
}

// maxBackoffShift caps the reconnect exponent
const maxBackoffShift = 16

// Options registry settings
type Options struct {
	BufferSize           int
	ReconnectBaseDelay   time.Duration
	MaxReconnectAttempts int
}

// Registry holds at most one connection per client id.
//
// Every send happens with mu held, so a replay to one client can never
// interleave with a broadcast. Queue snapshots are taken before mu is
// acquired because HandleEvent runs on the queue's forwarding goroutine.
type Registry struct {
	queue Queue
	opts  Options

	mu       sync.Mutex
	conns    map[string]Conn
	attempts map[string]int
	buffer   *Ring[model.Envelope]
}

// NewRegistry creates a registry over q
func NewRegistry(q Queue, opts Options) *Registry {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 100
	}
	if opts.ReconnectBaseDelay <= 0 {
		opts.ReconnectBaseDelay = time.Second
	}
	if opts.MaxReconnectAttempts <= 0 {
		opts.MaxReconnectAttempts = 5
	}
	return &Registry{
		queue:    q,
		opts:     opts,
		conns:    make(map[string]Conn),
		attempts: make(map[string]int),
		buffer:   NewRing[model.Envelope](opts.BufferSize),
	}
}

// HandleEvent buffers e and broadcasts it; subscribe it to the queue bus
func (r *Registry) HandleEvent(e event.Event) error {
	msg := model.Success(e)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.buffer.Push(msg)
	r.broadcastLocked(msg)
	return nil
}

// Connect registers conn for clientID, closing any connection it supersedes,
// then sends the current state followed by the buffered events.
func (r *Registry) Connect(clientID string, conn Conn) error {
	state := r.snapshot(MsgInitialState)

	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.conns[clientID]; ok && old != conn {
		logger.Info("superseding connection", logger.ClientField(clientID))
		closeQuietly(clientID, old)
	}
	r.conns[clientID] = conn
	r.attempts[clientID] = 0

	if err := conn.Send(model.Success(state)); err != nil {
		r.dropLocked(clientID, conn, err)
		return err
	}
	if err := r.replayLocked(conn); err != nil {
		r.dropLocked(clientID, conn, err)
		return err
	}

	logger.Info("client connected", logger.ClientField(clientID), zap.Int("replayed", r.buffer.Len()))
	return nil
}

// Disconnect removes conn if it is still the registered connection for
// clientID and closes it. It reports whether the registry entry was removed.
func (r *Registry) Disconnect(clientID string, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := false
	if current, ok := r.conns[clientID]; ok && current == conn {
		delete(r.conns, clientID)
		removed = true

		if _, ok := r.attempts[clientID]; ok {
			r.attempts[clientID]++
			if r.attempts[clientID] >= r.opts.MaxReconnectAttempts {
				delete(r.attempts, clientID)
				logger.Info("client exceeded max reconnection attempts", logger.ClientField(clientID))
			}
		}
	}
	closeQuietly(clientID, conn)

	if removed {
		logger.Info("client disconnected", logger.ClientField(clientID))
	}
	return removed
}

// Broadcast sends msg to every connection, dropping those that fail
func (r *Registry) Broadcast(msg interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcastLocked(msg)
}

// HandleMessage dispatches one raw client message and writes the reply to
// conn. Every message gets a reply or, for RECONNECT, the event replay.
func (r *Registry) HandleMessage(ctx context.Context, clientID string, conn Conn, raw []byte) error {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return r.reply(clientID, conn, model.Failure(fmt.Sprintf("invalid message: %v", err)))
	}

	switch msg.Type {
	case MsgRequestState:
		return r.reply(clientID, conn, model.Success(r.snapshot(MsgState)))

	case MsgControlTask:
		var data ControlData
		if len(msg.Data) == 0 || json.Unmarshal(msg.Data, &data) != nil || data.TaskID == "" {
			return r.reply(clientID, conn, model.Failure("CONTROL_TASK requires data.task_id and data.action"))
		}
		if !model.ValidAction(data.Action) {
			return r.reply(clientID, conn, model.Failure(fmt.Sprintf("unknown action: %s", data.Action)))
		}
		ok := r.control(data)
		return r.reply(clientID, conn, model.Success(ControlAck{
			Type:    MsgControlAck,
			TaskID:  data.TaskID,
			Action:  data.Action,
			Success: ok,
		}))

	case MsgReconnect:
		id := msg.ClientID
		if id == "" {
			id = clientID
		}
		return r.reconnect(ctx, id, conn)

	case "":
		return r.reply(clientID, conn, model.Failure("message missing type field"))

	default:
		return r.reply(clientID, conn, model.Failure(fmt.Sprintf("unknown message type: %s", msg.Type)))
	}
}

// Sweep probes every connection and disconnects those that fail. It returns
// the number of connections removed.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	conns := make(map[string]Conn, len(r.conns))
	for id, c := range r.conns {
		conns[id] = c
	}
	r.mu.Unlock()

	removed := 0
	for id, c := range conns {
		if err := c.Ping(); err != nil {
			logger.Warn("stale connection", logger.ClientField(id), zap.Error(err))
			if r.Disconnect(id, c) {
				removed++
			}
		}
	}
	return removed
}

// ConnectionCount returns the number of registered connections
func (r *Registry) ConnectionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// ReconnectAttempts returns the disconnect counter used for backoff
func (r *Registry) ReconnectAttempts(clientID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts[clientID]
}

// Buffered returns the replay buffer, oldest first
func (r *Registry) Buffered() []model.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buffer.Items()
}

// Close disconnects every client
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, c := range r.conns {
		closeQuietly(id, c)
		delete(r.conns, id)
	}
}

func (r *Registry) reconnect(ctx context.Context, clientID string, conn Conn) error {
	r.mu.Lock()
	attempts, known := r.attempts[clientID]
	r.mu.Unlock()

	if known {
		timer := time.NewTimer(r.backoff(attempts))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.replayLocked(conn); err != nil {
		r.dropLocked(clientID, conn, err)
		return err
	}
	return nil
}

// backoff returns base * 2^attempts, with the exponent capped so large
// attempt limits cannot overflow
func (r *Registry) backoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > maxBackoffShift {
		attempts = maxBackoffShift
	}
	return r.opts.ReconnectBaseDelay << uint(attempts)
}

func (r *Registry) control(data ControlData) bool {
	switch data.Action {
	case model.ActionStart:
		return r.queue.StartTask(data.TaskID)
	case model.ActionPause:
		return r.queue.PauseTask(data.TaskID)
	case model.ActionResume:
		return r.queue.ResumeTask(data.TaskID)
	case model.ActionStop:
		return r.queue.StopTask(data.TaskID)
	}
	return false
}

func (r *Registry) snapshot(typ string) StateMessage {
	return StateMessage{
		Type:        typ,
		Tasks:       r.queue.ListTasks(),
		QueueStatus: r.queue.Status(),
	}
}

func (r *Registry) reply(clientID string, conn Conn, msg model.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := conn.Send(msg); err != nil {
		r.dropLocked(clientID, conn, err)
		return err
	}
	return nil
}

func (r *Registry) replayLocked(conn Conn) error {
	for _, msg := range r.buffer.Items() {
		if err := conn.Send(msg); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) broadcastLocked(msg interface{}) {
	for id, c := range r.conns {
		if err := c.Send(msg); err != nil {
			r.dropLocked(id, c, err)
		}
	}
}

// dropLocked removes a connection whose send failed. The next connect for
// the same client id re-adds it.
func (r *Registry) dropLocked(clientID string, conn Conn, cause error) {
	logger.Warn("dropping connection", logger.ClientField(clientID), zap.Error(cause))
	if current, ok := r.conns[clientID]; ok && current == conn {
		delete(r.conns, clientID)
	}
	closeQuietly(clientID, conn)
}

func closeQuietly(clientID string, conn Conn) {
	if err := conn.Close(); err != nil && !errors.Is(err, ErrClosed) {
		logger.Debug("close connection", logger.ClientField(clientID), zap.Error(err))
	}
}
