// Package memory is an in-process fabric.Bus with topic routing, per-queue FIFO
// delivery, competing consumers and a dead-letter list. It backs the service
// tests and the end-to-end saga tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ahinestrog/ordersaga/internal/events"
	"github.com/ahinestrog/ordersaga/internal/fabric"
)

const system = "memory"

type Options struct {
	// Concurrency is the number of workers per Subscribe call. Defaults to 1.
	Concurrency int
	Retry       fabric.RetryPolicy
	Logger      zerolog.Logger
}

type binding struct {
	pattern string
	queue   *queue
}

type Broker struct {
	opts Options

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	queues    map[string]*queue
	bindings  []binding
	published []fabric.Message
	dead      []fabric.Message
	pending   int
}

var _ fabric.Bus = (*Broker)(nil)

func New(opts Options) *Broker {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
		queues: map[string]*queue{},
	}
}

// Publish routes ev to every bound queue. Unroutable events are dropped,
// as a topic exchange would.
func (b *Broker) Publish(ctx context.Context, ev events.Event) error {
	ctx, span := fabric.StartPublishSpan(ctx, system, fabric.DefaultExchange, ev.RoutingKey())
	defer span.End()

	msg, err := fabric.NewMessage(ctx, ev)
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.published = append(b.published, msg)
	var targets []*queue
	seen := map[*queue]bool{}
	for _, bd := range b.bindings {
		if !seen[bd.queue] && fabric.Match(bd.pattern, msg.RoutingKey) {
			seen[bd.queue] = true
			targets = append(targets, bd.queue)
		}
	}
	b.pending += len(targets)
	for _, q := range targets {
		q.push(msg)
	}
	b.mu.Unlock()
	return nil
}

// Subscribe declares the queue if needed, binds its keys and starts workers.
// Subscribing twice to one queue adds competing consumers. Once every
// subscription of a queue has stopped, the queue is deleted together with
// its backlog.
func (b *Broker) Subscribe(ctx context.Context, bd fabric.Binding, h fabric.Handler) error {
	b.mu.Lock()
	q, ok := b.queues[bd.Queue]
	if !ok {
		q = newQueue(bd.Queue)
		b.queues[bd.Queue] = q
	}
	q.consumers++
	for _, key := range bd.Keys {
		b.bindings = append(b.bindings, binding{pattern: key, queue: q})
	}
	b.mu.Unlock()

	d := fabric.NewDispatcher(system, bd.Queue, h, b.opts.Retry, b.opts.Logger)

	wctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(b.ctx, cancel)
	var workers sync.WaitGroup
	for i := 0; i < b.opts.Concurrency; i++ {
		workers.Add(1)
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			defer workers.Done()
			b.consume(wctx, q, d)
		}()
	}
	go func() {
		workers.Wait()
		stop()
		cancel()
		b.unsubscribe(q)
	}()
	return nil
}

func (b *Broker) unsubscribe(q *queue) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q.consumers--; q.consumers > 0 {
		return
	}
	b.pending -= q.purge()
	delete(b.queues, q.name)
	kept := b.bindings[:0]
	for _, bd := range b.bindings {
		if bd.queue != q {
			kept = append(kept, bd)
		}
	}
	b.bindings = kept
}

// Done never yields: an in-process broker cannot lose its connection.
func (b *Broker) Done() <-chan error { return nil }

func (b *Broker) consume(ctx context.Context, q *queue, d *fabric.Dispatcher) {
	for ctx.Err() == nil {
		msg, ok := q.pop(ctx)
		if !ok {
			return
		}
		outcome := d.Dispatch(ctx, msg)

		b.mu.Lock()
		if outcome == fabric.Reject {
			b.dead = append(b.dead, msg)
		}
		b.pending--
		b.mu.Unlock()
	}
}

// Drain blocks until every routed message has been settled, including the
// ones published by handlers while draining.
func (b *Broker) Drain(ctx context.Context) error {
	t := time.NewTicker(2 * time.Millisecond)
	defer t.Stop()
	for {
		b.mu.Lock()
		n := b.pending
		b.mu.Unlock()
		if n == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Published returns every event published so far, in publish order.
func (b *Broker) Published() []fabric.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]fabric.Message(nil), b.published...)
}

// DeadLetters returns the rejected deliveries.
func (b *Broker) DeadLetters() []fabric.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]fabric.Message(nil), b.dead...)
}

// Close stops all consumers. Undelivered messages are discarded.
func (b *Broker) Close() error {
	b.cancel()
	b.wg.Wait()
	return nil
}

type queue struct {
	name      string
	consumers int // guarded by Broker.mu

	mu    sync.Mutex
	items []fabric.Message
	ready chan struct{}
}

func newQueue(name string) *queue {
	return &queue{name: name, ready: make(chan struct{}, 1)}
}

func (q *queue) push(m fabric.Message) {
	q.mu.Lock()
	q.items = append(q.items, m)
	q.mu.Unlock()
	q.signal()
}

// purge drops the backlog and returns how many messages it held.
func (q *queue) purge() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = nil
	return n
}

func (q *queue) pop(ctx context.Context) (fabric.Message, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			m := q.items[0]
			q.items = q.items[1:]
			more := len(q.items) > 0
			q.mu.Unlock()
			if more {
				q.signal()
			}
			return m, true
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return fabric.Message{}, false
		case <-q.ready:
		}
	}
}

func (q *queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
