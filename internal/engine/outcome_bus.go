// File: internal/engine/outcome_bus.go
package engine

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pagepilot/internal/observability"
)

// outcomeBus fans outcomes out to subscribers. Sends never block: the engine
// actor must not stall on a slow reader, so a full subscriber misses the
// outcome and the drop is logged and counted.
type outcomeBus struct {
	logger  *zap.Logger
	metrics *observability.Metrics

	mu          sync.Mutex
	subscribers map[string]chan Outcome
	isShutdown  bool
}

func newOutcomeBus(logger *zap.Logger, metrics *observability.Metrics) *outcomeBus {
	return &outcomeBus{
		logger:      logger.Named("outcome_bus"),
		metrics:     metrics,
		subscribers: make(map[string]chan Outcome),
	}
}

// subscribe registers a channel with the given buffer. The returned function
// unsubscribes and closes the channel; it is safe to call more than once.
func (b *outcomeBus) subscribe(buffer int) (<-chan Outcome, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan Outcome, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.isShutdown {
		close(ch)
		return ch, func() {}
	}
	id := uuid.NewString()
	b.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if existing, ok := b.subscribers[id]; ok {
				delete(b.subscribers, id)
				close(existing)
			}
		})
	}
}

func (b *outcomeBus) publish(o Outcome) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subscribers {
		select {
		case ch <- o:
		default:
			b.metrics.IncDeliveryDropped()
			b.logger.Warn("Subscriber buffer full, outcome not delivered.",
				zap.String("subscriber", id), zap.Uint64("seq", o.Seq))
		}
	}
}

// shutdown closes every subscriber channel. Later subscriptions receive an
// already closed channel.
func (b *outcomeBus) shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.isShutdown {
		return
	}
	b.isShutdown = true
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
}
