// Package sagatest runs all four services against one in-memory broker so the
// whole saga can be exercised from a test.
package sagatest

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/ahinestrog/ordersaga/internal/events"
	"github.com/ahinestrog/ordersaga/internal/fabric"
	"github.com/ahinestrog/ordersaga/internal/fabric/memory"
	"github.com/ahinestrog/ordersaga/internal/inventory"
	"github.com/ahinestrog/ordersaga/internal/notification"
	"github.com/ahinestrog/ordersaga/internal/order"
	"github.com/ahinestrog/ordersaga/internal/payment"
	"github.com/ahinestrog/ordersaga/internal/storage"
)

type Config struct {
	Stock map[string]int
	// Declined customers have every charge declined.
	Declined []string
	// Concurrency is the number of workers per queue.
	Concurrency int
}

type System struct {
	Bus          *memory.Broker
	Orders       *order.Coordinator
	Stock        *inventory.Repository
	Payments     *payment.Repository
	Notification *Outbox

	t testing.TB
}

// New wires the services and subscribes every queue. Everything is torn down
// with t.Cleanup.
func New(t testing.TB, cfg Config) *System {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	dir := t.TempDir()
	log := zerolog.Nop()

	bus := memory.New(memory.Options{
		Concurrency: cfg.Concurrency,
		Retry:       fabric.RetryPolicy{MaxRetries: 2, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond},
		Logger:      log,
	})

	orders, err := order.NewRepository(ctx, storage.DriverModernc, filepath.Join(dir, "order.db"))
	require.NoError(t, err)
	stock, err := inventory.NewRepository(ctx, storage.DriverModernc, filepath.Join(dir, "inventory.db"))
	require.NoError(t, err)
	require.NoError(t, stock.Seed(ctx, cfg.Stock))
	payments, err := payment.NewRepository(ctx, storage.DriverModernc, filepath.Join(dir, "payment.db"))
	require.NoError(t, err)

	t.Cleanup(func() {
		cancel()
		_ = bus.Close()
		_ = orders.Close()
		_ = stock.Close()
		_ = payments.Close()
	})

	coord := order.NewCoordinator(orders, bus, nil, log)
	stockH := inventory.NewHandler(stock, bus, log)
	payH := payment.NewHandler(payments, newProcessor(cfg.Declined), bus, log)
	outbox := &Outbox{}
	noteH, err := notification.NewHandler(outbox, 0, log)
	require.NoError(t, err)

	subs := []struct {
		b fabric.Binding
		h fabric.Handler
	}{
		{order.StockReplies, coord.Handle},
		{order.PaymentReplies, coord.Handle},
		{inventory.OrderCreatedQueue, stockH.Handle},
		{inventory.StockReleaseQueue, stockH.Handle},
		{payment.OrderCreatedQueue, payH.Handle},
		{notification.FinalOutcomeQueue, noteH.Handle},
	}
	for _, s := range subs {
		require.NoError(t, bus.Subscribe(ctx, s.b, s.h))
	}

	return &System{Bus: bus, Orders: coord, Stock: stock, Payments: payments, Notification: outbox, t: t}
}

// Settle waits until no message is left in flight.
func (s *System) Settle() {
	s.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(s.t, s.Bus.Drain(ctx))
}

func (s *System) Place(customerID string, items ...order.Item) *order.Order {
	s.t.Helper()
	var total float64
	for _, it := range items {
		total += it.Price * float64(it.Quantity)
	}
	o, err := s.Orders.PlaceOrder(context.Background(), order.PlaceOrderRequest{
		CustomerID:  customerID,
		Items:       items,
		TotalAmount: total,
	})
	require.NoError(s.t, err)
	return o
}

func (s *System) Order(id string) *order.Order {
	s.t.Helper()
	o, err := s.Orders.Order(context.Background(), id)
	require.NoError(s.t, err)
	require.NotNil(s.t, o, id)
	return o
}

func (s *System) Quantity(productID string) int {
	s.t.Helper()
	st, err := s.Stock.Get(context.Background(), productID)
	require.NoError(s.t, err)
	require.NotNil(s.t, st, productID)
	return st.Quantity
}

// Count returns how many times routingKey was published.
func (s *System) Count(routingKey string) int {
	n := 0
	for _, m := range s.Bus.Published() {
		if m.RoutingKey == routingKey {
			n++
		}
	}
	return n
}

// Outbox is a notification.Notifier that keeps what it was asked to send.
type Outbox struct {
	mu   sync.Mutex
	sent []notification.Message
}

func (o *Outbox) Notify(_ context.Context, m notification.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, m)
	return nil
}

func (o *Outbox) Sent() []notification.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]notification.Message(nil), o.sent...)
}

type processor struct {
	declined map[string]bool
	fake     *payment.FakeProcessor
}

func newProcessor(declined []string) *processor {
	p := &processor{declined: map[string]bool{}, fake: payment.NewFakeProcessor(0, 0)}
	for _, c := range declined {
		p.declined[c] = true
	}
	return p
}

func (p *processor) Charge(ctx context.Context, c payment.Charge) (string, error) {
	if p.declined[c.CustomerID] {
		return "", &payment.DeclinedError{Reason: payment.DeclineReason}
	}
	return p.fake.Charge(ctx, c)
}

// Redeliver publishes ev again, as a broker does after a lost ack.
func (s *System) Redeliver(ev events.Event) {
	s.t.Helper()
	require.NoError(s.t, s.Bus.Publish(context.Background(), ev))
}
