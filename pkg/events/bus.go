package events

import (
	"log/slog"
	"sync"
	"time"
)

// publishWait bounds how long Publish blocks when the queue is full. Slow
// subscribers must never stall SSH execution or the AI stream, so after
// this wait the event is dropped and counted.
const publishWait = 100 * time.Millisecond

// backpressureRatio is the queue-fill fraction at which the bus starts
// signalling system.backpressure to live clients.
const backpressureRatio = 0.9

// Handler consumes events drained from the bus. Handlers run on the single
// dispatch goroutine; a slow handler delays later events but never blocks
// publishers beyond publishWait.
type Handler func(Event)

// Bus is a bounded in-process event queue with a single dispatch goroutine.
// Publishers enqueue with a short bounded wait; the dispatcher fans each
// event out to the registered handlers in order.
type Bus struct {
	queue chan Event

	handlersMu sync.RWMutex
	handlers   []Handler

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	droppedMu sync.Mutex
	dropped   uint64
}

// NewBus creates a Bus with the given maximum queue depth.
func NewBus(maxDepth int) *Bus {
	if maxDepth <= 0 {
		maxDepth = 1000
	}
	return &Bus{
		queue:  make(chan Event, maxDepth),
		stopCh: make(chan struct{}),
	}
}

// Register adds a handler. Must be called before Start; handlers registered
// later still receive subsequent events but may miss in-flight ones.
func (b *Bus) Register(h Handler) {
	b.handlersMu.Lock()
	defer b.handlersMu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Start launches the dispatch goroutine.
func (b *Bus) Start() {
	b.wg.Add(1)
	go b.dispatchLoop()
}

// Stop terminates dispatch after draining events already queued.
func (b *Bus) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
	})
	b.wg.Wait()
}

// Publish enqueues an event, waiting up to publishWait for space. On a full
// queue the event is dropped with a warning; the database row (if any)
// remains authoritative, so a drop only affects live UI freshness. When the
// queue is at or above the backpressure threshold, a best-effort
// system.backpressure event is enqueued ahead of the original.
func (b *Bus) Publish(ev Event) bool {
	if depth := len(b.queue); depth >= b.backpressureThreshold() {
		// Best effort only: if even the signal won't fit, clients find
		// out when their events stop arriving.
		select {
		case b.queue <- New(TypeSystemBackpressure, ev.SessionID, SystemBackpressurePayload{
			Component:  "event_bus",
			QueueDepth: depth,
			Limit:      cap(b.queue),
		}):
		default:
		}
	}

	select {
	case b.queue <- ev:
		return true
	default:
	}

	timer := time.NewTimer(publishWait)
	defer timer.Stop()
	select {
	case b.queue <- ev:
		return true
	case <-timer.C:
		b.droppedMu.Lock()
		b.dropped++
		total := b.dropped
		b.droppedMu.Unlock()
		slog.Warn("Event bus full, dropping event",
			"event_type", ev.Type,
			"session_id", ev.SessionID,
			"queue_depth", len(b.queue),
			"dropped_total", total)
		return false
	}
}

// Depth returns the current number of queued events.
func (b *Bus) Depth() int {
	return len(b.queue)
}

// Dropped returns the number of events discarded because the queue was full.
func (b *Bus) Dropped() uint64 {
	b.droppedMu.Lock()
	defer b.droppedMu.Unlock()
	return b.dropped
}

func (b *Bus) backpressureThreshold() int {
	return int(float64(cap(b.queue)) * backpressureRatio)
}

func (b *Bus) dispatchLoop() {
	defer b.wg.Done()
	for {
		select {
		case ev := <-b.queue:
			b.dispatch(ev)
		case <-b.stopCh:
			// Drain what is already queued, then exit.
			for {
				select {
				case ev := <-b.queue:
					b.dispatch(ev)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) dispatch(ev Event) {
	b.handlersMu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.handlersMu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}
