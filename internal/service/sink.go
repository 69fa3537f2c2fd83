package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"optqueue/internal/event"
	"optqueue/pkg/logger"

	"go.uber.org/zap"
)

// sink moves event handling off the publishing goroutine. Events are dropped
// with a warning when the buffer is full so persistence can never stall
// delivery to websocket clients.
type sink struct {
	name    string
	ch      chan event.Event
	handle  func(context.Context, event.Event) error
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	dropped atomic.Int64

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

func newSink(name string, capacity int, handle func(context.Context, event.Event) error) *sink {
	if capacity <= 0 {
		capacity = 256
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &sink{
		name:   name,
		ch:     make(chan event.Event, capacity),
		handle: handle,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *sink) enqueue(e event.Event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("%s: %w", s.name, event.ErrForwarderClosed)
	}
	select {
	case s.ch <- e:
	default:
		s.dropped.Add(1)
		logger.Warn("event sink full, dropping event", zap.String("sink", s.name), zap.String("type", string(e.Type)))
	}
	return nil
}

func (s *sink) run() {
	defer close(s.done)
	for e := range s.ch {
		if err := s.handle(s.ctx, e); err != nil {
			logger.Warn("event sink failed", zap.String("sink", s.name),
				zap.String("type", string(e.Type)), logger.TaskField(e.TaskID), zap.Error(err))
		}
	}
}

// close stops accepting events and waits until the buffered ones are handled
func (s *sink) close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
		<-s.done
		s.cancel()
	})
}
