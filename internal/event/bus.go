package event

import (
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"optqueue/pkg/logger"

	"go.uber.org/zap"
)

// Handler receives one event. A returned error is logged by the bus and does
// not affect other handlers.
type Handler func(Event) error

type subscription struct {
	id      uint64
	handler Handler
}

// Bus is a synchronous publish/subscribe channel.
//
// Publish invokes every handler registered at call time sequentially, in
// registration order, so each subscriber observes events in publish order.
// Errors and panics are isolated per handler.
type Bus struct {
	name   string
	mu     sync.RWMutex
	subs   []subscription
	nextID atomic.Uint64
}

// NewBus creates a bus; name only appears in log lines
func NewBus(name string) *Bus {
	return &Bus{name: name}
}

// Subscribe registers handler and returns an id for Unsubscribe
func (b *Bus) Subscribe(handler Handler) uint64 {
	id := b.nextID.Add(1)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, subscription{id: id, handler: handler})
	return id
}

// Unsubscribe removes a subscription, reporting whether it existed
func (b *Bus) Unsubscribe(id uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subs {
		if sub.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return true
		}
	}
	return false
}

// Publish delivers e to all current subscribers and returns the number of
// handlers that failed.
func (b *Bus) Publish(e Event) int {
	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	failed := 0
	for _, sub := range subs {
		if err := b.safeCall(sub.handler, e); err != nil {
			failed++
			logger.Warn("event handler failed",
				zap.String("bus", b.name),
				zap.String("event", string(e.Type)),
				logger.TaskField(e.TaskID),
				zap.Error(err))
		}
	}
	return failed
}

// SubscriberCount returns the number of registered handlers
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Bus) safeCall(handler Handler, e Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v\n%s", r, debug.Stack())
		}
	}()
	return handler(e)
}
