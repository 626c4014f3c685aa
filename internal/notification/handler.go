package notification

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/ahinestrog/ordersaga/internal/events"
	"github.com/ahinestrog/ordersaga/internal/fabric"
)

var FinalOutcomeQueue = fabric.Binding{
	Queue: "notification_queue",
	Keys:  []string{events.RKOrderConfirmed, events.RKOrderCancelled},
}

const DefaultDedupSize = 1024

type sentKey struct {
	orderID string
	kind    Kind
}

type Handler struct {
	notifier Notifier
	sent     *lru.Cache[sentKey, struct{}]
	log      zerolog.Logger
}

// NewHandler remembers the last dedupSize notifications so a redelivered
// outcome does not e-mail the customer twice.
func NewHandler(notifier Notifier, dedupSize int, log zerolog.Logger) (*Handler, error) {
	if dedupSize <= 0 {
		dedupSize = DefaultDedupSize
	}
	sent, err := lru.New[sentKey, struct{}](dedupSize)
	if err != nil {
		return nil, fmt.Errorf("notification: dedup cache: %w", err)
	}
	return &Handler{notifier: notifier, sent: sent, log: log}, nil
}

func (h *Handler) Handle(ctx context.Context, ev events.Event) error {
	switch ev.(type) {
	case events.OrderConfirmed, events.OrderCancelled:
		h.OnFinalOutcome(ctx, ev)
	default:
		h.log.Warn().Str("routing_key", ev.RoutingKey()).Str("order_id", ev.CorrelationID()).
			Msg("unexpected event; dropped")
	}
	return nil
}

// OnFinalOutcome sends one notification for a confirmed or cancelled order.
// A failed send is logged and not retried.
func (h *Handler) OnFinalOutcome(ctx context.Context, ev events.Event) {
	m, ok := compose(ev)
	if !ok {
		return
	}
	log := h.log.With().Str("order_id", m.OrderID).Str("kind", string(m.Kind)).Logger()

	key := sentKey{orderID: m.OrderID, kind: m.Kind}
	if seen, _ := h.sent.ContainsOrAdd(key, struct{}{}); seen {
		log.Debug().Msg("already notified; skipped")
		return
	}
	if err := h.notifier.Notify(ctx, m); err != nil {
		h.sent.Remove(key)
		log.Error().Err(err).Msg("notification failed")
		return
	}
	log.Info().Msg("customer notified")
}

func compose(ev events.Event) (Message, bool) {
	switch e := ev.(type) {
	case events.OrderConfirmed:
		return Message{
			Kind:       KindConfirmed,
			OrderID:    e.OrderID,
			CustomerID: e.CustomerID,
			Subject:    fmt.Sprintf("Order %s confirmed", e.OrderID),
			Body: fmt.Sprintf("Your order %s was confirmed. Total charged: $%s.",
				e.OrderID, humanize.CommafWithDigits(e.TotalAmount, 2)),
		}, true
	case events.OrderCancelled:
		return Message{
			Kind:       KindCancelled,
			OrderID:    e.OrderID,
			CustomerID: e.CustomerID,
			Subject:    fmt.Sprintf("Order %s cancelled", e.OrderID),
			Body:       fmt.Sprintf("Your order %s was cancelled: %s.", e.OrderID, e.Reason),
		}, true
	default:
		return Message{}, false
	}
}
