package events

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultBusSize is the channel capacity used when NewBus is given size <= 0.
const DefaultBusSize = 256

// Bus delivers events to a single consumer over one buffered channel.
// Emit never blocks: when the consumer falls behind, the event is dropped
// and counted.
type Bus struct {
	ch      chan Event
	dropped atomic.Uint64

	mu     sync.RWMutex
	closed bool
}

// NewBus creates a bus with the given channel capacity.
func NewBus(size int) *Bus {
	if size <= 0 {
		size = DefaultBusSize
	}
	return &Bus{ch: make(chan Event, size)}
}

// Emit queues ev for delivery. It reports false if the event was dropped
// because the bus is full or closed.
func (b *Bus) Emit(ev Event) bool {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return false
	}

	select {
	case b.ch <- ev:
		return true
	default:
		if b.dropped.Add(1)%100 == 1 {
			slog.Warn("[EVENTS] consumer too slow, dropping events", "type", ev.Type.String(), "dropped", b.dropped.Load())
		}
		return false
	}
}

// Events returns the receive side of the bus. It is closed by Close.
func (b *Bus) Events() <-chan Event {
	return b.ch
}

// Dropped returns the number of events discarded because the channel was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close closes the event channel. Further Emit calls are no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.ch)
}
