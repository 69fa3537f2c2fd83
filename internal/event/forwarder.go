package event

import (
	"errors"
	"sync"
)

// ErrForwarderClosed is returned by Enqueue after Close
var ErrForwarderClosed = errors.New("event forwarder closed")

// Forwarder is a pipeline stage between buses: publishers enqueue into a
// bounded channel and a single goroutine republishes onto the output bus.
// Subscribers of the output bus therefore see one total order, and a slow
// subscriber applies backpressure instead of dropping events.
//
// Handlers on the output bus run on the drain goroutine and must not block
// waiting for a publisher that is itself blocked in Enqueue.
type Forwarder struct {
	out  *Bus
	ch   chan Event
	done chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewForwarder starts a forwarder draining into out
func NewForwarder(out *Bus, capacity int) *Forwarder {
	if capacity <= 0 {
		capacity = 1
	}
	f := &Forwarder{
		out:  out,
		ch:   make(chan Event, capacity),
		done: make(chan struct{}),
	}
	go f.drain()
	return f
}

// Enqueue hands e to the drain goroutine, blocking while the buffer is full.
// It has the Handler signature so it can subscribe to an upstream bus.
func (f *Forwarder) Enqueue(e Event) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return ErrForwarderClosed
	}
	f.ch <- e
	return nil
}

// Pending returns the number of events waiting to be republished
func (f *Forwarder) Pending() int {
	return len(f.ch)
}

// Close stops accepting events and waits until the buffered ones are delivered
func (f *Forwarder) Close() {
	f.mu.Lock()
	if !f.closed {
		f.closed = true
		close(f.ch)
	}
	f.mu.Unlock()
	<-f.done
}

func (f *Forwarder) drain() {
	defer close(f.done)
	for e := range f.ch {
		f.out.Publish(e)
	}
}
