package event

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"optqueue/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestBus_PublishOrder tests that handlers run in registration order.
func TestBus_PublishOrder(t *testing.T) {
	bus := NewBus("test")

	var calls []int
	for i := 0; i < 3; i++ {
		i := i
		bus.Subscribe(func(e Event) error {
			calls = append(calls, i)
			return nil
		})
	}

	failed := bus.Publish(NewSystemEvent(SystemInfo, "hello"))
	assert.Equal(t, 0, failed)
	assert.Equal(t, []int{0, 1, 2}, calls)
}

// TestBus_HandlerIsolation tests that an error or panic does not stop other handlers.
func TestBus_HandlerIsolation(t *testing.T) {
	bus := NewBus("test")

	reached := 0
	bus.Subscribe(func(e Event) error { return errors.New("broken") })
	bus.Subscribe(func(e Event) error { panic("kaboom") })
	bus.Subscribe(func(e Event) error {
		reached++
		return nil
	})

	var failed int
	assert.NotPanics(t, func() {
		failed = bus.Publish(NewSystemEvent(SystemWarning, "x"))
	})
	assert.Equal(t, 2, failed)
	assert.Equal(t, 1, reached)
}

// TestBus_Unsubscribe tests removal of a handler.
func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus("test")

	count := 0
	id := bus.Subscribe(func(e Event) error {
		count++
		return nil
	})
	assert.Equal(t, 1, bus.SubscriberCount())

	assert.True(t, bus.Unsubscribe(id))
	assert.False(t, bus.Unsubscribe(id))
	assert.Equal(t, 0, bus.SubscriberCount())

	bus.Publish(NewSystemEvent(SystemInfo, "ignored"))
	assert.Equal(t, 0, count)
}

// TestBus_ConcurrentPublish tests that concurrent publishers and subscribers are safe.
func TestBus_ConcurrentPublish(t *testing.T) {
	bus := NewBus("test")

	var mu sync.Mutex
	received := 0
	bus.Subscribe(func(e Event) error {
		mu.Lock()
		received++
		mu.Unlock()
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				bus.Publish(NewSystemEvent(SystemInfo, "tick"))
			}
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := bus.Subscribe(func(Event) error { return nil })
			bus.Unsubscribe(id)
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 500, received)
}

// TestForwarder_PreservesOrder tests that republished events keep enqueue order.
func TestForwarder_PreservesOrder(t *testing.T) {
	out := NewBus("out")

	var mu sync.Mutex
	var got []string
	out.Subscribe(func(e Event) error {
		mu.Lock()
		got = append(got, e.TaskID)
		mu.Unlock()
		return nil
	})

	fwd := NewForwarder(out, 4)
	in := NewBus("in")
	in.Subscribe(fwd.Enqueue)

	want := make([]string, 0, 100)
	for i := 0; i < 100; i++ {
		id := string(rune('a' + i%26))
		want = append(want, id)
		in.Publish(NewErrorEvent(OptimizationError, id, "x"))
	}
	fwd.Close()

	assert.Equal(t, want, got)
	assert.ErrorIs(t, fwd.Enqueue(NewSystemEvent(SystemInfo, "late")), ErrForwarderClosed)
	assert.NotPanics(t, fwd.Close)
}

// TestForwarder_CloseDrains tests that Close delivers buffered events.
func TestForwarder_CloseDrains(t *testing.T) {
	out := NewBus("out")
	release := make(chan struct{})
	delivered := 0
	out.Subscribe(func(e Event) error {
		<-release
		delivered++
		return nil
	})

	fwd := NewForwarder(out, 10)
	for i := 0; i < 5; i++ {
		require.NoError(t, fwd.Enqueue(NewSystemEvent(SystemInfo, "queued")))
	}
	close(release)
	fwd.Close()
	assert.Equal(t, 5, delivered)
	assert.Equal(t, 0, fwd.Pending())
}

// TestEvent_MarshalJSON tests the wire format.
func TestEvent_MarshalJSON(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	e := NewIterationEvent("task-1", IterationPayload{
		Iteration: 3,
		Value:     1.5,
		BestValue: 0.5,
		Params:    map[string]float64{"x": 1},
	})
	e.Timestamp = ts

	data, err := json.Marshal(e)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "iteration_completed", decoded["type"])
	assert.Equal(t, "task-1", decoded["task_id"])
	assert.Equal(t, "2024-05-01T12:00:00Z", decoded["timestamp"])

	payload := decoded["data"].(map[string]interface{})
	assert.Equal(t, float64(3), payload["iteration"])
	assert.Equal(t, 0.5, payload["best_value"])

	queueEvent := NewQueueEvent(QueueStarted, model.QueueStatus{IsProcessing: true}, "")
	data, err = json.Marshal(queueEvent)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Nil(t, decoded["task_id"])
}

// TestEvent_InfiniteBestIsNull tests that the +Inf sentinel serializes as null.
func TestEvent_InfiniteBestIsNull(t *testing.T) {
	e := NewCompletionEvent("t", CompletionPayload{BestValue: model.Inf()})
	data, err := json.Marshal(e)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"best_value":null`)
}

// TestEvent_PayloadIsCopied tests that events do not alias caller maps.
func TestEvent_PayloadIsCopied(t *testing.T) {
	params := map[string]float64{"x": 1}
	e := NewBestEvent("t", BestPayload{Iteration: 1, BestValue: 1, BestParams: params})
	params["x"] = 99

	p := e.Data.(BestPayload)
	assert.Equal(t, 1.0, p.BestParams["x"])
}

// TestType_Category tests the closed set of kinds.
func TestType_Category(t *testing.T) {
	assert.Equal(t, CategoryQueue, QueuePaused.Category())
	assert.Equal(t, CategoryTask, TaskRemoved.Category())
	assert.Equal(t, CategoryOptimization, NewBestFound.Category())
	assert.Equal(t, CategorySystem, SystemError.Category())
	assert.False(t, Type("something_else").Valid())
	assert.True(t, TaskStatusChanged.Valid())
}
