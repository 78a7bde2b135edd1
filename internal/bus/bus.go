package bus

import (
	"log/slog"
	"sync"
	"time"

	"opsdesk/internal/domain"
)

const publishTimeout = 10 * time.Second

// InMemoryBus is a Go-channel based message bus carrying canonical messages
// from the webhook handlers to the pipeline workers. Webhook handlers ack
// the provider immediately and publish here fire-and-forget.
type InMemoryBus struct {
	inbound chan domain.CanonicalMessage
	mu      sync.RWMutex
	closed  bool
	logger  *slog.Logger
}

// New creates a new InMemoryBus with the given buffer size.
func New(bufferSize int, logger *slog.Logger) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &InMemoryBus{
		inbound: make(chan domain.CanonicalMessage, bufferSize),
		logger:  logger,
	}
}

// Blocks up to 10 seconds if the bus is full instead of dropping.
func (b *InMemoryBus) Publish(msg domain.CanonicalMessage) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Warn("attempted to publish to closed bus")
		return
	}

	select {
	case b.inbound <- msg:
	default:
		// Bus full — wait with timeout instead of dropping
		b.logger.Warn("inbound bus full, waiting...", "gateway", msg.Gateway, "sender", msg.Sender)
		timer := time.NewTimer(publishTimeout)
		defer timer.Stop()
		select {
		case b.inbound <- msg:
			b.logger.Info("message delivered after wait", "gateway", msg.Gateway)
		case <-timer.C:
			b.logger.Error("message dropped: bus full for 10s",
				"gateway", msg.Gateway,
				"sender", msg.Sender,
			)
		}
	}
}

func (b *InMemoryBus) Subscribe() <-chan domain.CanonicalMessage {
	return b.inbound
}

func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.inbound)
	}
}
