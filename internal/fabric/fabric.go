// Package fabric is the saga's publish/subscribe layer: one durable topic
// exchange, durable queues bound by routing pattern, manual acknowledgment and
// at-least-once delivery.
//
// Brokers (rabbit, memory) only move bytes. Decoding, tracing, retry and the
// ack/reject decision live in Dispatcher so every broker behaves the same.
package fabric

import (
	"context"

	"github.com/ahinestrog/ordersaga/internal/events"
)

// DefaultExchange is the topic exchange every service publishes to.
const DefaultExchange = "order_events"

// Handler processes one decoded event. A nil return acks the delivery; an
// error is treated as an infrastructure failure and rejects it without
// requeue once the retry policy is exhausted. Domain failures must be
// reported as events, never as errors.
type Handler func(ctx context.Context, ev events.Event) error

// Binding names a durable queue and the routing patterns bound to it.
// Patterns follow topic-exchange rules: "*" is one word, "#" zero or more.
type Binding struct {
	Queue string
	Keys  []string
}

type Publisher interface {
	Publish(ctx context.Context, ev events.Event) error
}

type Subscriber interface {
	// Subscribe declares the queue, binds it and starts consuming in the
	// background until ctx is cancelled or the broker is closed.
	Subscribe(ctx context.Context, b Binding, h Handler) error
}

// Bus is what a service needs from the broker session.
type Bus interface {
	Publisher
	Subscriber
}

// Message is a transport-neutral delivery.
type Message struct {
	RoutingKey  string
	Body        []byte
	Headers     map[string]string
	Redelivered bool
}
