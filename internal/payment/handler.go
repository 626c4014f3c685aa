package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ahinestrog/ordersaga/internal/events"
	"github.com/ahinestrog/ordersaga/internal/fabric"
)

var OrderCreatedQueue = fabric.Binding{Queue: "payment_order_created_queue", Keys: []string{events.RKOrderCreated}}

type Handler struct {
	repo      *Repository
	processor Processor
	bus       fabric.Publisher
	log       zerolog.Logger
}

func NewHandler(repo *Repository, processor Processor, bus fabric.Publisher, log zerolog.Logger) *Handler {
	return &Handler{repo: repo, processor: processor, bus: bus, log: log}
}

func (h *Handler) Handle(ctx context.Context, ev events.Event) error {
	if e, ok := ev.(events.OrderCreated); ok {
		return h.OnOrderCreated(ctx, e)
	}
	h.log.Warn().Str("routing_key", ev.RoutingKey()).Str("order_id", ev.CorrelationID()).
		Msg("unexpected event; dropped")
	return nil
}

// OnOrderCreated charges the order once. A settled payment has its recorded
// outcome published again instead of being charged a second time.
func (h *Handler) OnOrderCreated(ctx context.Context, e events.OrderCreated) error {
	log := h.log.With().Str("order_id", e.OrderID).Logger()

	p, err := h.repo.CreatePending(ctx, e.OrderID, e.CustomerID, e.TotalAmount)
	if err != nil {
		return err
	}
	if p.Settled() {
		log.Info().Str("status", string(p.Status)).Msg("payment already settled; republishing outcome")
		return h.announce(ctx, p)
	}

	status, reason := StatusProcessed, ""
	txn, err := h.processor.Charge(ctx, Charge{OrderID: e.OrderID, CustomerID: e.CustomerID, Amount: e.TotalAmount})
	var declined *DeclinedError
	switch {
	case errors.As(err, &declined):
		status, reason = StatusFailed, declined.Reason
	case err != nil:
		// outcome unknown: leave the record PENDING so a retry charges again
		return fmt.Errorf("charge order %s: %w", e.OrderID, err)
	}

	won, err := h.repo.Settle(ctx, e.OrderID, status, txn, reason)
	if err != nil {
		return err
	}
	p, err = h.repo.Get(ctx, e.OrderID)
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("payment %s missing after settle", e.OrderID)
	}
	if won {
		log.Info().Str("status", string(p.Status)).Str("transaction_id", p.TransactionID).
			Str("reason", p.FailureReason).Msg("payment settled")
	} else {
		log.Warn().Str("status", string(p.Status)).Msg("concurrent delivery settled first; republishing its outcome")
	}
	return h.announce(ctx, p)
}

func (h *Handler) announce(ctx context.Context, p *Payment) error {
	switch p.Status {
	case StatusProcessed:
		return h.bus.Publish(ctx, events.PaymentProcessed{
			OrderID:       p.OrderID,
			Status:        events.ResultSuccess,
			TransactionID: p.TransactionID,
		})
	case StatusFailed:
		return h.bus.Publish(ctx, events.PaymentFailed{
			OrderID: p.OrderID,
			Status:  events.ResultFailed,
			Reason:  p.FailureReason,
		})
	default:
		return fmt.Errorf("payment %s: cannot announce status %s", p.OrderID, p.Status)
	}
}
