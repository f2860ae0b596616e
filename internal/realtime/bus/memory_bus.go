package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/subgate-microservice/subgate-sub000/internal/domain"
	"github.com/subgate-microservice/subgate-sub000/internal/pkg/logger"
)

// memoryBus delivers events to forwarders of the same process. It is used
// when no Redis is configured.
type memoryBus struct {
	log *logger.Logger

	mu       sync.RWMutex
	handlers map[int]func(domain.Event)
	next     int
	closed   bool
}

func NewMemoryBus(log *logger.Logger) Bus {
	return &memoryBus{log: log.With("service", "MemoryEventBus"), handlers: map[int]func(domain.Event){}}
}

func (b *memoryBus) Publish(_ context.Context, events []domain.Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("memory event bus closed")
	}
	for _, e := range events {
		for _, h := range b.handlers {
			h(e)
		}
	}
	b.log.Debug("Published events", "events", len(events), "forwarders", len(b.handlers))
	return nil
}

func (b *memoryBus) StartForwarder(ctx context.Context, onEvent func(e domain.Event)) error {
	if onEvent == nil {
		return fmt.Errorf("onEvent callback required")
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("memory event bus closed")
	}
	id := b.next
	b.next++
	b.handlers[id] = onEvent
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}()
	return nil
}

func (b *memoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.handlers = map[int]func(domain.Event){}
	return nil
}
