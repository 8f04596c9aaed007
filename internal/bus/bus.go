package bus

import (
	"log/slog"
	"sync"

	"sentra/internal/domain"
)

// InMemoryBus is a Go-channel based event bus for in-process fan-out.
// Publishing never blocks the security core; a slow subscriber loses events
// and the loss is logged.
type InMemoryBus struct {
	mu     sync.RWMutex
	subs   map[string]chan domain.Event
	buffer int
	closed bool
	logger *slog.Logger
}

// New creates a bus; each subscriber gets its own buffered channel.
func New(bufferSize int, logger *slog.Logger) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &InMemoryBus{
		subs:   make(map[string]chan domain.Event),
		buffer: bufferSize,
		logger: logger,
	}
}

func (b *InMemoryBus) Publish(ev domain.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Warn("attempted to publish to closed bus", "type", ev.Type)
		return
	}

	for name, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.logger.Warn("subscriber channel full, dropping event",
				"subscriber", name,
				"type", ev.Type,
			)
		}
	}
}

// Subscribe registers a named subscriber. Re-subscribing under the same name
// replaces the previous channel.
func (b *InMemoryBus) Subscribe(name string) <-chan domain.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if old, ok := b.subs[name]; ok {
		close(old)
	}
	ch := make(chan domain.Event, b.buffer)
	b.subs[name] = ch
	return ch
}

func (b *InMemoryBus) Unsubscribe(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subs[name]; ok {
		close(ch)
		delete(b.subs, name)
	}
}

func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for name, ch := range b.subs {
		close(ch)
		delete(b.subs, name)
	}
}
