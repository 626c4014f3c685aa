package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ahinestrog/ordersaga/internal/events"
	"github.com/ahinestrog/ordersaga/internal/fabric"
	"github.com/ahinestrog/ordersaga/internal/lookup"
)

var (
	ErrValidation      = errors.New("invalid order")
	ErrUnknownCustomer = errors.New("unknown customer")
	ErrUnknownProduct  = errors.New("unknown product")
)

// Queues the coordinator consumes. Stock replies are bound by exact key so
// the coordinator's own stock.release never lands here.
var (
	StockReplies = fabric.Binding{
		Queue: "stock_reply_queue",
		Keys:  []string{events.RKStockReserved, events.RKStockReservationFailed},
	}
	PaymentReplies = fabric.Binding{
		Queue: "payment_reply_queue",
		Keys:  []string{"payment.*"},
	}
)

// Catalog validates the ids an order refers to.
type Catalog interface {
	ValidateProduct(ctx context.Context, productID string) (lookup.Product, error)
	ValidateUser(ctx context.Context, userID string) (bool, error)
}

type PlaceOrderRequest struct {
	CustomerID  string
	Items       []Item
	TotalAmount float64
}

type Coordinator struct {
	repo    *Repository
	bus     fabric.Publisher
	catalog Catalog
	log     zerolog.Logger
	now     func() time.Time
}

// NewCoordinator builds a coordinator. catalog may be nil.
func NewCoordinator(repo *Repository, bus fabric.Publisher, catalog Catalog, log zerolog.Logger) *Coordinator {
	return &Coordinator{repo: repo, bus: bus, catalog: catalog, log: log, now: time.Now}
}

func (c *Coordinator) Orders(ctx context.Context) ([]*Order, error) { return c.repo.List(ctx) }

func (c *Coordinator) CustomerOrders(ctx context.Context, customerID string) ([]*Order, error) {
	return c.repo.ListByCustomer(ctx, customerID)
}

func (c *Coordinator) Order(ctx context.Context, id string) (*Order, error) { return c.repo.Get(ctx, id) }

// PlaceOrder persists a PENDING order and announces it. The saga continues
// asynchronously. A failed announcement leaves the order PENDING until the
// reaper times it out, which only happens with a saga timeout configured.
func (c *Coordinator) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*Order, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	if err := c.checkCatalog(ctx, req); err != nil {
		return nil, err
	}

	now := c.now()
	o := &Order{
		ID:            uuid.NewString(),
		CustomerID:    req.CustomerID,
		Items:         req.Items,
		TotalAmount:   req.TotalAmount,
		Status:        StatusPending,
		StockStatus:   StockPending,
		PaymentStatus: PaymentPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := c.repo.Create(ctx, o); err != nil {
		return nil, err
	}

	log := c.log.With().Str("order_id", o.ID).Logger()
	err := c.bus.Publish(ctx, events.OrderCreated{
		OrderID:     o.ID,
		CustomerID:  o.CustomerID,
		Items:       o.eventItems(),
		TotalAmount: o.TotalAmount,
	})
	if err != nil {
		log.Error().Err(err).Msg("publish order.created failed; order stays pending until the saga timeout cancels it")
	} else {
		log.Info().Str("customer_id", o.CustomerID).Float64("total", o.TotalAmount).Msg("order placed")
	}
	return o, nil
}

func validate(req PlaceOrderRequest) error {
	var problems []string
	if strings.TrimSpace(req.CustomerID) == "" {
		problems = append(problems, "customerId is required")
	}
	if len(req.Items) == 0 {
		problems = append(problems, "items must not be empty")
	}
	for i, it := range req.Items {
		if strings.TrimSpace(it.ProductID) == "" {
			problems = append(problems, fmt.Sprintf("items[%d].productId is required", i))
		}
		if it.Quantity <= 0 {
			problems = append(problems, fmt.Sprintf("items[%d].quantity must be positive", i))
		}
		if it.Price < 0 {
			problems = append(problems, fmt.Sprintf("items[%d].price must not be negative", i))
		}
	}
	if req.TotalAmount <= 0 {
		problems = append(problems, "totalAmount must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrValidation, strings.Join(problems, "; "))
	}
	return nil
}

func (c *Coordinator) checkCatalog(ctx context.Context, req PlaceOrderRequest) error {
	if c.catalog == nil {
		return nil
	}
	ok, err := c.catalog.ValidateUser(ctx, req.CustomerID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCustomer, req.CustomerID)
	}
	for _, it := range req.Items {
		p, err := c.catalog.ValidateProduct(ctx, it.ProductID)
		if err != nil {
			return err
		}
		if !p.Exists {
			return fmt.Errorf("%w: %s", ErrUnknownProduct, it.ProductID)
		}
	}
	return nil
}

// Handle consumes leg replies from both reply queues.
func (c *Coordinator) Handle(ctx context.Context, ev events.Event) error {
	switch e := ev.(type) {
	case events.StockReserved:
		return c.OnLegEvent(ctx, ev, LegStock, string(StockReserved), "")
	case events.StockReservationFailed:
		return c.OnLegEvent(ctx, ev, LegStock, string(StockFailed), e.Reason)
	case events.PaymentProcessed:
		return c.OnLegEvent(ctx, ev, LegPayment, string(PaymentProcessed), "")
	case events.PaymentFailed:
		return c.OnLegEvent(ctx, ev, LegPayment, string(PaymentFailed), e.Reason)
	default:
		c.log.Warn().Str("routing_key", ev.RoutingKey()).Str("order_id", ev.CorrelationID()).
			Msg("unexpected event on reply queue; dropped")
		return nil
	}
}

// OnLegEvent applies one leg outcome and evaluates the order.
func (c *Coordinator) OnLegEvent(ctx context.Context, ev events.Event, leg Leg, value, reason string) error {
	id := ev.CorrelationID()
	log := c.log.With().Str("order_id", id).Str("routing_key", ev.RoutingKey()).Logger()

	o, err := c.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if o == nil {
		log.Warn().Msg("order not found; dropped")
		return nil
	}
	if o.Status.Terminal() {
		return c.onLateEvent(ctx, o, ev, log)
	}

	ok, err := c.repo.UpdateLeg(ctx, id, leg, value, reason)
	if err != nil {
		return err
	}
	if !ok {
		// finalized (or the leg decided) since the read above
		if o, err = c.repo.Get(ctx, id); err != nil || o == nil {
			return err
		}
		return c.onLateEvent(ctx, o, ev, log)
	}

	if o, err = c.repo.Get(ctx, id); err != nil || o == nil {
		return err
	}
	out := EvaluateCompletion(o.StockStatus, o.PaymentStatus)
	if out.Next == StatusPending {
		log.Debug().Str("stock", string(o.StockStatus)).Str("payment", string(o.PaymentStatus)).Msg("leg recorded")
		return nil
	}
	return c.finalize(ctx, id, out.Next)
}

// finalize performs the terminal transition and, only for the caller whose
// update won, publishes compensation and the outcome.
func (c *Coordinator) finalize(ctx context.Context, id string, next Status) error {
	o, won, err := c.repo.Finalize(ctx, id, next, "")
	if err != nil {
		return err
	}
	log := c.log.With().Str("order_id", id).Logger()
	if !won {
		log.Debug().Str("wanted", string(next)).Msg("order already finalized")
		return nil
	}

	if o.Status == StatusConfirmed {
		log.Info().Msg("order confirmed")
	} else {
		log.Info().Str("reason", o.FailureReason).Msg("order cancelled")
	}
	return c.announce(ctx, o)
}

// announce sends whatever a terminal order still owes: the release of a
// reservation a cancelled order holds, then the outcome. Each event is
// claimed on the order before it is sent and unclaimed if sending fails, so
// a redelivery or the reaper sends it again and concurrent callers send it
// once. o must be the row as of the cancellation or later, so a reservation
// recorded concurrently with the cancel is still seen.
func (c *Coordinator) announce(ctx context.Context, o *Order) error {
	if o.Status == StatusCancelled && o.StockStatus == StockReserved {
		err := c.sendOnce(ctx, o.ID, MarkReleaseSent, events.StockRelease{OrderID: o.ID, Items: o.eventItems()})
		if err != nil {
			return err
		}
	}

	var outcome events.Event
	switch o.Status {
	case StatusConfirmed:
		outcome = events.OrderConfirmed{OrderID: o.ID, CustomerID: o.CustomerID, TotalAmount: o.TotalAmount}
	case StatusCancelled:
		outcome = events.OrderCancelled{OrderID: o.ID, CustomerID: o.CustomerID, Reason: o.FailureReason}
	default:
		return nil
	}
	return c.sendOnce(ctx, o.ID, MarkAnnounced, outcome)
}

func (c *Coordinator) sendOnce(ctx context.Context, id string, m Mark, ev events.Event) error {
	claimed, err := c.repo.ClaimMark(ctx, id, m)
	if err != nil || !claimed {
		return err
	}
	if ev.RoutingKey() == events.RKStockRelease {
		c.log.Info().Str("order_id", id).Msg("releasing reserved stock")
	}
	if err := c.publish(ctx, ev); err != nil {
		if cerr := c.repo.ClearMark(context.WithoutCancel(ctx), id, m); cerr != nil {
			c.log.Error().Err(cerr).Str("order_id", id).Msg("unclaim failed; reaper cannot resend")
		}
		return err
	}
	return nil
}

// onLateEvent handles replies for an order that is no longer PENDING. A
// reservation landing after a cancellation that left the stock leg open is
// recorded so it gets released. Any final event still owed is sent again;
// otherwise the reply is dropped.
func (c *Coordinator) onLateEvent(ctx context.Context, o *Order, ev events.Event, log zerolog.Logger) error {
	log = log.With().Str("status", string(o.Status)).Logger()

	switch ev.(type) {
	case events.StockReserved:
		if o.Status == StatusCancelled && o.StockStatus == StockPending {
			won, err := c.repo.MarkLateReservation(ctx, o.ID)
			if err != nil {
				return err
			}
			if won {
				log.Info().Msg("late reservation on cancelled order; releasing stock")
			}
			if o, err = c.repo.Get(ctx, o.ID); err != nil || o == nil {
				return err
			}
		}
	case events.PaymentProcessed:
		if o.Status == StatusCancelled {
			log.Warn().Msg("payment processed for cancelled order; refund required")
		}
	}

	if o.Owing() {
		return c.announce(ctx, o)
	}
	log.Debug().Msg("order already finalized; dropped")
	return nil
}

func (c *Coordinator) publish(ctx context.Context, ev events.Event) error {
	if err := c.bus.Publish(ctx, ev); err != nil {
		c.log.Error().Err(err).Str("order_id", ev.CorrelationID()).Str("routing_key", ev.RoutingKey()).
			Msg("publish failed")
		return fmt.Errorf("publish %s: %w", ev.RoutingKey(), err)
	}
	return nil
}
