package inventory

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/ahinestrog/ordersaga/internal/events"
	"github.com/ahinestrog/ordersaga/internal/fabric"
)

var (
	OrderCreatedQueue = fabric.Binding{Queue: "inventory_order_created_queue", Keys: []string{events.RKOrderCreated}}
	StockReleaseQueue = fabric.Binding{Queue: "inventory_stock_release_queue", Keys: []string{events.RKStockRelease}}
)

type Handler struct {
	repo *Repository
	bus  fabric.Publisher
	log  zerolog.Logger
}

func NewHandler(repo *Repository, bus fabric.Publisher, log zerolog.Logger) *Handler {
	return &Handler{repo: repo, bus: bus, log: log}
}

func (h *Handler) Handle(ctx context.Context, ev events.Event) error {
	switch e := ev.(type) {
	case events.OrderCreated:
		return h.OnOrderCreated(ctx, e)
	case events.StockRelease:
		return h.OnStockRelease(ctx, e)
	default:
		h.log.Warn().Str("routing_key", ev.RoutingKey()).Str("order_id", ev.CorrelationID()).
			Msg("unexpected event; dropped")
		return nil
	}
}

// OnOrderCreated reserves every item of the order or none of them, and
// replies with the outcome. A redelivered order gets the recorded outcome
// again.
func (h *Handler) OnOrderCreated(ctx context.Context, e events.OrderCreated) error {
	log := h.log.With().Str("order_id", e.OrderID).Logger()

	items := make([]Item, len(e.Items))
	for i, it := range e.Items {
		items[i] = Item{ProductID: it.ProductID, Quantity: it.Quantity}
	}

	res, created, err := h.repo.Reserve(ctx, e.OrderID, items)
	if err != nil {
		return err
	}
	if !created {
		log.Info().Str("status", string(res.Status)).Msg("order already processed; republishing outcome")
	}

	switch res.Status {
	case ReservationReserved:
		if created {
			log.Info().Int("items", len(items)).Msg("stock reserved")
		}
		return h.bus.Publish(ctx, events.StockReserved{OrderID: e.OrderID, Status: events.ResultSuccess})
	case ReservationFailed:
		if created {
			log.Info().Str("reason", res.FailureReason).Msg("stock reservation failed")
		}
		return h.bus.Publish(ctx, events.StockReservationFailed{
			OrderID: e.OrderID,
			Status:  events.ResultFailed,
			Reason:  res.FailureReason,
		})
	default:
		// released: the order was already compensated
		log.Debug().Msg("reservation already released; nothing to republish")
		return nil
	}
}

// OnStockRelease returns a reservation's items to stock once. The ledger's
// items are authoritative.
func (h *Handler) OnStockRelease(ctx context.Context, e events.StockRelease) error {
	log := h.log.With().Str("order_id", e.OrderID).Logger()

	res, released, err := h.repo.Release(ctx, e.OrderID)
	if err != nil {
		return err
	}
	if !released {
		log.Info().Msg("nothing reserved to release; skipped")
		return nil
	}
	if len(res.Items) != len(e.Items) {
		log.Warn().Int("ledger_items", len(res.Items)).Int("event_items", len(e.Items)).
			Msg("release items differ from ledger; ledger used")
	}
	log.Info().Int("items", len(res.Items)).Msg("stock released")
	return nil
}
