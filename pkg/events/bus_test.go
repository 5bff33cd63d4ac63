package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_DeliversInOrder(t *testing.T) {
	bus := NewBus(16)

	var mu sync.Mutex
	var got []string
	bus.Register(func(ev Event) {
		mu.Lock()
		got = append(got, ev.Type)
		mu.Unlock()
	})

	bus.Start()
	bus.Publish(New(TypeHuntStarted, "s1", nil))
	bus.Publish(New(TypeHuntStepStarted, "s1", nil))
	bus.Publish(New(TypeHuntCompleted, "s1", nil))
	bus.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{TypeHuntStarted, TypeHuntStepStarted, TypeHuntCompleted}, got)
}

func TestBus_QueueNeverExceedsMax(t *testing.T) {
	bus := NewBus(4)
	// No dispatcher running: the queue fills and stays bounded.
	for i := 0; i < 20; i++ {
		bus.Publish(New(TypeSSHCommandOutput, "s1", nil))
	}
	assert.LessOrEqual(t, bus.Depth(), 4)
}

func TestBus_DropsWhenFull(t *testing.T) {
	bus := NewBus(2)

	require.True(t, bus.Publish(New(TypeSSHCommandOutput, "s1", nil)))
	require.True(t, bus.Publish(New(TypeSSHCommandOutput, "s1", nil)))

	start := time.Now()
	ok := bus.Publish(New(TypeSSHCommandOutput, "s1", nil))
	elapsed := time.Since(start)

	assert.False(t, ok)
	assert.Equal(t, uint64(1), bus.Dropped())
	// Bounded wait: roughly publishWait, never unbounded.
	assert.GreaterOrEqual(t, elapsed, publishWait)
	assert.Less(t, elapsed, 10*publishWait)
}

func TestBus_BackpressureSignal(t *testing.T) {
	bus := NewBus(10)

	// Fill to the 90% threshold without a dispatcher.
	for i := 0; i < 9; i++ {
		bus.Publish(New(TypeSSHCommandOutput, "s1", nil))
	}

	var mu sync.Mutex
	var types []string
	bus.Register(func(ev Event) {
		mu.Lock()
		types = append(types, ev.Type)
		mu.Unlock()
	})

	// At threshold: the backpressure signal is enqueued ahead of the event.
	bus.Publish(New(TypeSSHCommandOutput, "s1", nil))

	bus.Start()
	bus.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, types, TypeSystemBackpressure)
}

func TestBus_BackpressurePayload(t *testing.T) {
	bus := NewBus(10)
	for i := 0; i < 9; i++ {
		bus.Publish(New(TypeSSHCommandOutput, "s1", nil))
	}

	var captured *SystemBackpressurePayload
	bus.Register(func(ev Event) {
		if ev.Type == TypeSystemBackpressure {
			p := ev.Payload.(SystemBackpressurePayload)
			captured = &p
		}
	})

	bus.Publish(New(TypeSSHCommandOutput, "s1", nil))
	bus.Start()
	bus.Stop()

	require.NotNil(t, captured)
	assert.Equal(t, "event_bus", captured.Component)
	assert.Equal(t, 10, captured.Limit)
	assert.GreaterOrEqual(t, captured.QueueDepth, 9)
}

func TestBus_StopDrainsQueue(t *testing.T) {
	bus := NewBus(16)

	var mu sync.Mutex
	count := 0
	bus.Register(func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	for i := 0; i < 8; i++ {
		bus.Publish(New(TypeHuntObservation, "s1", nil))
	}
	bus.Start()
	bus.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 8, count)
}

func TestEmitter_ScopesToSession(t *testing.T) {
	bus := NewBus(16)

	var mu sync.Mutex
	var got []Event
	bus.Register(func(ev Event) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	})

	em := NewEmitter(bus)
	em.Emit(TypeSessionCreated, "sess-1", SessionCreatedPayload{AssetID: "a1", AnalystID: "u1"})
	em.EmitGlobal(TypeSystemError, SystemErrorPayload{Component: "reaper", Error: "boom", Severity: "warning"})

	bus.Start()
	bus.Stop()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	assert.Equal(t, "sess-1", got[0].SessionID)
	assert.False(t, got[0].Timestamp.IsZero())
	assert.Empty(t, got[1].SessionID)
}
