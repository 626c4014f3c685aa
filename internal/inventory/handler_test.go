package inventory

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahinestrog/ordersaga/internal/events"
	"github.com/ahinestrog/ordersaga/internal/fabric/fabrictest"
)

func newTestHandler(t *testing.T, seed map[string]int) (*Handler, *Repository, *fabrictest.Recorder) {
	t.Helper()
	repo := newTestRepo(t, seed)
	rec := &fabrictest.Recorder{}
	return NewHandler(repo, rec, zerolog.Nop()), repo, rec
}

func orderCreated(id string, items ...events.Item) events.OrderCreated {
	return events.OrderCreated{OrderID: id, CustomerID: "c1", Items: items, TotalAmount: 1}
}

func TestOnOrderCreatedReserves(t *testing.T) {
	h, repo, rec := newTestHandler(t, map[string]int{"P1": 10})

	require.NoError(t, h.Handle(context.Background(), orderCreated("o1", events.Item{ProductID: "P1", Quantity: 4})))

	assert.Equal(t, []events.Event{events.StockReserved{OrderID: "o1", Status: events.ResultSuccess}}, rec.Events())
	assert.Equal(t, 6, quantity(t, repo, "P1"))
}

func TestOnOrderCreatedInsufficientStock(t *testing.T) {
	h, repo, rec := newTestHandler(t, map[string]int{"P1": 10, "P2": 1})

	err := h.Handle(context.Background(), orderCreated("o1",
		events.Item{ProductID: "P1", Quantity: 2},
		events.Item{ProductID: "P2", Quantity: 2}))
	require.NoError(t, err)

	assert.Equal(t, []events.Event{events.StockReservationFailed{
		OrderID: "o1",
		Status:  events.ResultFailed,
		Reason:  "insufficient stock for P2",
	}}, rec.Events())
	assert.Equal(t, 10, quantity(t, repo, "P1"))
}

func TestOnOrderCreatedRedeliveryRepublishesOutcome(t *testing.T) {
	h, repo, rec := newTestHandler(t, map[string]int{"P1": 10})
	ev := orderCreated("o1", events.Item{ProductID: "P1", Quantity: 4})

	require.NoError(t, h.Handle(context.Background(), ev))
	require.NoError(t, h.Handle(context.Background(), ev))

	assert.Equal(t, []string{events.RKStockReserved, events.RKStockReserved}, rec.Keys())
	assert.Equal(t, 6, quantity(t, repo, "P1"), "reserved once")
}

func TestOnOrderCreatedAfterReleasePublishesNothing(t *testing.T) {
	h, repo, rec := newTestHandler(t, map[string]int{"P1": 10})
	ctx := context.Background()
	ev := orderCreated("o1", events.Item{ProductID: "P1", Quantity: 4})

	require.NoError(t, h.Handle(ctx, ev))
	require.NoError(t, h.Handle(ctx, events.StockRelease{OrderID: "o1", Items: ev.Items}))
	rec.Reset()

	require.NoError(t, h.Handle(ctx, ev))
	assert.Empty(t, rec.Events())
	assert.Equal(t, 10, quantity(t, repo, "P1"))
}

func TestOnStockReleaseRestoresOnce(t *testing.T) {
	h, repo, rec := newTestHandler(t, map[string]int{"P1": 10, "P2": 5})
	ctx := context.Background()
	items := []events.Item{{ProductID: "P1", Quantity: 3}, {ProductID: "P2", Quantity: 5}}

	require.NoError(t, h.Handle(ctx, orderCreated("o1", items...)))
	assert.Equal(t, 0, quantity(t, repo, "P2"))

	release := events.StockRelease{OrderID: "o1", Items: items}
	require.NoError(t, h.Handle(ctx, release))
	require.NoError(t, h.Handle(ctx, release))

	assert.Equal(t, 10, quantity(t, repo, "P1"))
	assert.Equal(t, 5, quantity(t, repo, "P2"))
	assert.Equal(t, []string{events.RKStockReserved}, rec.Keys(), "release publishes nothing")
}

func TestOnStockReleaseUsesLedgerItems(t *testing.T) {
	h, repo, _ := newTestHandler(t, map[string]int{"P1": 10})
	ctx := context.Background()

	require.NoError(t, h.Handle(ctx, orderCreated("o1", events.Item{ProductID: "P1", Quantity: 3})))
	require.NoError(t, h.Handle(ctx, events.StockRelease{
		OrderID: "o1",
		Items:   []events.Item{{ProductID: "P1", Quantity: 9}, {ProductID: "P9", Quantity: 1}},
	}))

	assert.Equal(t, 10, quantity(t, repo, "P1"))
}

func TestOnStockReleaseWithoutReservationIsSkipped(t *testing.T) {
	h, repo, _ := newTestHandler(t, map[string]int{"P1": 10})

	require.NoError(t, h.Handle(context.Background(), events.StockRelease{
		OrderID: "ghost",
		Items:   []events.Item{{ProductID: "P1", Quantity: 3}},
	}))
	assert.Equal(t, 10, quantity(t, repo, "P1"))
}

func TestHandlePublishErrorIsReturned(t *testing.T) {
	h, _, rec := newTestHandler(t, map[string]int{"P1": 10})
	rec.Err = errors.New("broker down")

	err := h.Handle(context.Background(), orderCreated("o1", events.Item{ProductID: "P1", Quantity: 1}))
	require.Error(t, err)

	// the reservation committed, so a retry republishes without reserving again
	rec.Err = nil
	require.NoError(t, h.Handle(context.Background(), orderCreated("o1", events.Item{ProductID: "P1", Quantity: 1})))
	assert.Equal(t, []string{events.RKStockReserved}, rec.Keys())
}

func TestHandleIgnoresForeignEvents(t *testing.T) {
	h, _, rec := newTestHandler(t, nil)

	require.NoError(t, h.Handle(context.Background(), events.PaymentProcessed{OrderID: "o1"}))
	assert.Empty(t, rec.Events())
}
