// Package bus carries conversation traffic between the surfaces and the
// engine: inbound user turns flow through one buffered channel, outbound
// replies are dispatched to the handler registered by the owning surface.
package bus

import (
	"log/slog"
	"sync"
	"time"

	"relaybot/internal/domain"
)

// publishTimeout bounds how long a surface may block on a full turn queue
// before its message is dropped.
const publishTimeout = 10 * time.Second

// InMemoryBus implements domain.MessageBus over Go channels.
type InMemoryBus struct {
	turns    chan domain.InboundMessage
	mu       sync.RWMutex
	surfaces map[string]func(domain.OutboundMessage)
	closed   bool
	logger   *slog.Logger
}

// New creates a bus whose turn queue holds bufferSize pending messages.
func New(bufferSize int, logger *slog.Logger) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &InMemoryBus{
		turns:    make(chan domain.InboundMessage, bufferSize),
		surfaces: make(map[string]func(domain.OutboundMessage)),
		logger:   logger,
	}
}

// Publish enqueues one inbound turn. A full queue means the engine is busy
// on a slow turn; the caller blocks up to publishTimeout rather than
// dropping immediately. Publishing to a closed bus is a logged no-op.
//
// The read lock is held across the blocking send so Close cannot close the
// channel underneath it.
func (b *InMemoryBus) Publish(msg domain.InboundMessage) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Warn("turn published to closed bus", "channel", msg.Channel)
		return
	}

	select {
	case b.turns <- msg:
		return
	default:
	}

	b.logger.Warn("turn queue full, waiting for the engine", "channel", msg.Channel, "sender", msg.SenderID)
	timer := time.NewTimer(publishTimeout)
	defer timer.Stop()
	select {
	case b.turns <- msg:
		b.logger.Info("turn enqueued after wait", "channel", msg.Channel)
	case <-timer.C:
		b.logger.Error("turn dropped, queue full past deadline",
			"channel", msg.Channel,
			"sender", msg.SenderID,
		)
	}
}

// Subscribe returns the inbound turn queue. The engine is the only consumer.
func (b *InMemoryBus) Subscribe() <-chan domain.InboundMessage {
	return b.turns
}

// SendOutbound routes a reply to the surface that owns msg.Channel.
// Replies for surfaces that never registered are dropped with a warning.
func (b *InMemoryBus) SendOutbound(msg domain.OutboundMessage) {
	b.mu.RLock()
	deliver, ok := b.surfaces[msg.Channel]
	b.mu.RUnlock()

	if !ok {
		b.logger.Warn("no surface registered for channel", "channel", msg.Channel)
		return
	}
	deliver(msg)
}

// OnOutbound registers the reply handler for a surface. A second
// registration under the same name replaces the first.
func (b *InMemoryBus) OnOutbound(channelName string, handler func(domain.OutboundMessage)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.surfaces[channelName] = handler
}

// Close shuts the turn queue. The engine's Subscribe loop sees the closed
// channel and exits after draining what is already queued.
func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.turns)
	}
}
