// Package event provides a lightweight in-process publish/subscribe bus used
// to announce interface and peer state changes.
package event

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event is a single notification published on the bus.
type Event struct {
	Topic     string
	Source    string
	Timestamp time.Time
	Payload   any
}

// Handler processes one event. Handlers must not block for long; use
// PublishAsync for slow consumers.
type Handler func(ctx context.Context, e Event)

// Publisher is the subset of Bus needed by event producers.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	PublishAsync(ctx context.Context, e Event)
}

// Well-known topics published by the reconciliation engine.
const (
	TopicInterfaceStarted = "interface.started"
	TopicInterfaceStopped = "interface.stopped"
	TopicInterfaceError   = "interface.error"
	TopicPeerConnected    = "peer.connected"
	TopicPeerDisconnected = "peer.disconnected"
	TopicPeerCreated      = "peer.created"
	TopicProbeCompleted   = "probe.completed"
)

type subscription struct {
	id      int
	handler Handler
}

// Bus is a thread-safe topic-based event bus. Handler panics are recovered
// and logged so one bad subscriber cannot take down a publisher.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string][]subscription
	all    []subscription
	logger *zap.Logger
}

// NewBus creates an event bus.
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		subs:   make(map[string][]subscription),
		logger: logger,
	}
}

// Subscribe registers a handler for a topic and returns an unsubscribe func.
func (b *Bus) Subscribe(topic string, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs[topic] = append(b.subs[topic], subscription{id: id, handler: h})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.subs[topic] = removeSub(b.subs[topic], id)
	}
}

// SubscribeAll registers a handler for every topic.
func (b *Bus) SubscribeAll(h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.all = append(b.all, subscription{id: id, handler: h})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.all = removeSub(b.all, id)
	}
}

// Publish delivers the event synchronously to all matching handlers.
// Publishing with no subscribers is not an error.
func (b *Bus) Publish(ctx context.Context, e Event) error {
	for _, s := range b.snapshot(e.Topic) {
		b.deliver(ctx, s, e)
	}
	return nil
}

// PublishAsync delivers the event on a separate goroutine.
func (b *Bus) PublishAsync(ctx context.Context, e Event) {
	subs := b.snapshot(e.Topic)
	go func() {
		for _, s := range subs {
			b.deliver(ctx, s, e)
		}
	}()
}

func (b *Bus) snapshot(topic string) []subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]subscription, 0, len(b.subs[topic])+len(b.all))
	out = append(out, b.subs[topic]...)
	out = append(out, b.all...)
	return out
}

func (b *Bus) deliver(ctx context.Context, s subscription, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panic",
				zap.String("topic", e.Topic),
				zap.Any("panic", r),
			)
		}
	}()
	s.handler(ctx, e)
}

func removeSub(subs []subscription, id int) []subscription {
	for i, s := range subs {
		if s.id == id {
			return append(subs[:i:i], subs[i+1:]...)
		}
	}
	return subs
}
