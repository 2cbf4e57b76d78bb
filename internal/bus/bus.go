package bus

import (
	"context"
	"sync"
	"time"

	"github.com/bowerhall/pawd/internal/logger"
)

// Subscriber is a named tap on the system-event stream. Multiple
// subscribers can independently observe the same events (fan-out).
type Subscriber struct {
	Name string
	ch   chan SystemEvent
}

// MessageBus decouples channel adapters from the agent loop. Inbound
// messages queue in a buffered channel; outbound messages route to the
// handler registered for their channel; system events fan out to taps.
type MessageBus struct {
	inbound chan InboundMessage

	mu         sync.RWMutex
	handlers   map[string]OutboundHandler
	systemSubs []*Subscriber
	closed     bool
}

func New() *MessageBus {
	return &MessageBus{
		inbound:  make(chan InboundMessage, 100),
		handlers: make(map[string]OutboundHandler),
	}
}

// PublishInbound enqueues a message for the agent loop. Drops with a log
// line if the queue is full rather than blocking the adapter.
func (b *MessageBus) PublishInbound(msg InboundMessage) {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return
	}

	select {
	case b.inbound <- msg:
	default:
		logger.Warn("inbound queue full, dropping message", "channel", msg.Channel, "chat", msg.ChatID)
	}
}

// ConsumeInbound waits up to timeout for the next inbound message.
// Returns nil on timeout or context cancellation so callers can poll
// without blocking indefinitely.
func (b *MessageBus) ConsumeInbound(ctx context.Context, timeout time.Duration) *InboundMessage {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-b.inbound:
		return &msg
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return nil
	}
}

// RegisterOutbound sets the handler for one channel's outbound messages.
// The last registration for a channel wins.
func (b *MessageBus) RegisterOutbound(channel string, fn OutboundHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[channel] = fn
}

// PublishOutbound routes a message to the channel's registered handler.
// Transient transport errors are the handler's problem; the bus never
// fails the caller.
func (b *MessageBus) PublishOutbound(msg OutboundMessage) {
	b.mu.RLock()
	fn, ok := b.handlers[msg.Channel]
	closed := b.closed
	b.mu.RUnlock()

	if closed {
		return
	}
	if !ok {
		logger.Debug("no outbound handler", "channel", msg.Channel)
		return
	}

	fn(msg)
}

// SubscribeSystem creates a named tap receiving copies of all system
// events. The returned channel is buffered; slow consumers drop.
func (b *MessageBus) SubscribeSystem(name string) <-chan SystemEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &Subscriber{Name: name, ch: make(chan SystemEvent, 64)}
	b.systemSubs = append(b.systemSubs, sub)
	return sub.ch
}

// PublishSystem fans a system event out to all subscribers.
func (b *MessageBus) PublishSystem(event SystemEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.systemSubs {
		select {
		case sub.ch <- event:
		default: // drop if slow
		}
	}
}

// Close marks the bus closed. In-flight publishes become no-ops.
func (b *MessageBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}
