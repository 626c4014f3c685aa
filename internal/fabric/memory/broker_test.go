package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahinestrog/ordersaga/internal/events"
	"github.com/ahinestrog/ordersaga/internal/fabric"
)

func drain(t *testing.T, b *Broker) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, b.Drain(ctx))
}

type collector struct {
	mu  sync.Mutex
	got []events.Event
}

func (c *collector) handle(_ context.Context, ev events.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, ev)
	return nil
}

func (c *collector) events() []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]events.Event(nil), c.got...)
}

func TestTopicRoutingFansOutToEveryBoundQueue(t *testing.T) {
	b := New(Options{Logger: zerolog.Nop()})
	defer b.Close()
	ctx := context.Background()

	var inv, pay, replies collector
	require.NoError(t, b.Subscribe(ctx, fabric.Binding{Queue: "inventory", Keys: []string{events.RKOrderCreated}}, inv.handle))
	require.NoError(t, b.Subscribe(ctx, fabric.Binding{Queue: "payment", Keys: []string{events.RKOrderCreated}}, pay.handle))
	require.NoError(t, b.Subscribe(ctx, fabric.Binding{Queue: "replies", Keys: []string{"payment.*"}}, replies.handle))

	require.NoError(t, b.Publish(ctx, events.OrderCreated{OrderID: "o1", CustomerID: "c1", TotalAmount: 1}))
	require.NoError(t, b.Publish(ctx, events.PaymentFailed{OrderID: "o1", Status: events.ResultFailed, Reason: "no"}))
	drain(t, b)

	assert.Len(t, inv.events(), 1)
	assert.Len(t, pay.events(), 1)
	require.Len(t, replies.events(), 1)
	assert.Equal(t, events.RKPaymentFailed, replies.events()[0].RoutingKey())
	assert.Len(t, b.Published(), 2)
}

func TestQueuePreservesOrderWithSingleWorker(t *testing.T) {
	b := New(Options{Logger: zerolog.Nop()})
	defer b.Close()
	ctx := context.Background()

	var c collector
	require.NoError(t, b.Subscribe(ctx, fabric.Binding{Queue: "q", Keys: []string{"#"}}, c.handle))
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, b.Publish(ctx, events.StockReserved{OrderID: id, Status: events.ResultSuccess}))
	}
	drain(t, b)

	var ids []string
	for _, ev := range c.events() {
		ids = append(ids, ev.CorrelationID())
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestFailedHandlerIsDeadLettered(t *testing.T) {
	b := New(Options{Logger: zerolog.Nop(), Retry: fabric.RetryPolicy{MaxRetries: 1, InitialInterval: time.Millisecond}})
	defer b.Close()
	ctx := context.Background()

	calls := 0
	require.NoError(t, b.Subscribe(ctx, fabric.Binding{Queue: "q", Keys: []string{events.RKStockRelease}},
		func(context.Context, events.Event) error {
			calls++
			return errors.New("store unavailable")
		}))

	require.NoError(t, b.Publish(ctx, events.StockRelease{OrderID: "o1"}))
	drain(t, b)

	assert.Equal(t, 2, calls)
	dead := b.DeadLetters()
	require.Len(t, dead, 1)
	assert.Equal(t, events.RKStockRelease, dead[0].RoutingKey)
}

func TestHandlerPublishesAreDrained(t *testing.T) {
	b := New(Options{Logger: zerolog.Nop(), Concurrency: 4})
	defer b.Close()
	ctx := context.Background()

	require.NoError(t, b.Subscribe(ctx, fabric.Binding{Queue: "in", Keys: []string{events.RKOrderCreated}},
		func(ctx context.Context, ev events.Event) error {
			return b.Publish(ctx, events.StockReserved{OrderID: ev.CorrelationID(), Status: events.ResultSuccess})
		}))
	var out collector
	require.NoError(t, b.Subscribe(ctx, fabric.Binding{Queue: "out", Keys: []string{events.RKStockReserved}}, out.handle))

	for i := 0; i < 20; i++ {
		require.NoError(t, b.Publish(ctx, events.OrderCreated{OrderID: string(rune('a' + i))}))
	}
	drain(t, b)

	assert.Len(t, out.events(), 20)
	assert.Empty(t, b.DeadLetters())
}

func TestStoppedSubscriptionDropsItsBacklog(t *testing.T) {
	b := New(Options{Logger: zerolog.Nop()})
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	var handled collector
	require.NoError(t, b.Subscribe(ctx, fabric.Binding{Queue: "slow", Keys: []string{"order.*"}}, func(ctx context.Context, ev events.Event) error {
		_ = handled.handle(ctx, ev)
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	}))

	for _, id := range []string{"o1", "o2", "o3"} {
		require.NoError(t, b.Publish(context.Background(), events.OrderConfirmed{OrderID: id}))
	}
	<-started
	cancel()
	close(release)
	drain(t, b)
	assert.Len(t, handled.events(), 1, "a stopped consumer takes nothing more")

	// the queue is gone, so nothing is routed any more
	require.NoError(t, b.Publish(context.Background(), events.OrderConfirmed{OrderID: "o4"}))
	drain(t, b)
	assert.Len(t, b.Published(), 4)
}
