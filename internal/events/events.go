// Package events defines the saga's event vocabulary: one Go type per routing key.
//
// Event is a closed union. Only the types in this file implement it, so a type
// switch over Event in a handler covers every message that can travel through
// the exchange.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Routing keys published on the order events exchange.
const (
	RKOrderCreated           = "order.created"
	RKStockReserved          = "stock.reserved"
	RKStockReservationFailed = "stock.reservation_failed"
	RKStockRelease           = "stock.release"
	RKPaymentProcessed       = "payment.processed"
	RKPaymentFailed          = "payment.failed"
	RKOrderConfirmed         = "order.confirmed"
	RKOrderCancelled         = "order.cancelled"
)

// Result statuses carried by leg replies.
const (
	ResultSuccess = "SUCCESS"
	ResultFailed  = "FAILED"
)

var (
	ErrUnknownRoutingKey = errors.New("events: unknown routing key")
	ErrMissingOrderID    = errors.New("events: missing orderId")
)

// Event is implemented by every message exchanged by the saga.
type Event interface {
	RoutingKey() string
	// CorrelationID is the order id every saga event is keyed by.
	CorrelationID() string
	sealed()
}

// Item is an order line as carried on the wire.
type Item struct {
	ProductID string  `json:"productId"`
	Price     float64 `json:"price,omitempty"`
	Quantity  int     `json:"quantity"`
}

type OrderCreated struct {
	OrderID     string  `json:"orderId"`
	CustomerID  string  `json:"customerId"`
	Items       []Item  `json:"items"`
	TotalAmount float64 `json:"totalAmount"`
}

type StockReserved struct {
	OrderID string `json:"orderId"`
	Status  string `json:"status"`
}

type StockReservationFailed struct {
	OrderID string `json:"orderId"`
	Status  string `json:"status"`
	Reason  string `json:"reason"`
}

// StockRelease is the compensation command for a previous reservation.
type StockRelease struct {
	OrderID string `json:"orderId"`
	Items   []Item `json:"items"`
}

type PaymentProcessed struct {
	OrderID       string `json:"orderId"`
	Status        string `json:"status"`
	TransactionID string `json:"transactionId"`
}

type PaymentFailed struct {
	OrderID string `json:"orderId"`
	Status  string `json:"status"`
	Reason  string `json:"reason"`
}

type OrderConfirmed struct {
	OrderID     string  `json:"orderId"`
	CustomerID  string  `json:"customerId"`
	TotalAmount float64 `json:"totalAmount"`
}

type OrderCancelled struct {
	OrderID    string `json:"orderId"`
	CustomerID string `json:"customerId"`
	Reason     string `json:"reason"`
}

func (OrderCreated) RoutingKey() string           { return RKOrderCreated }
func (StockReserved) RoutingKey() string          { return RKStockReserved }
func (StockReservationFailed) RoutingKey() string { return RKStockReservationFailed }
func (StockRelease) RoutingKey() string           { return RKStockRelease }
func (PaymentProcessed) RoutingKey() string       { return RKPaymentProcessed }
func (PaymentFailed) RoutingKey() string          { return RKPaymentFailed }
func (OrderConfirmed) RoutingKey() string         { return RKOrderConfirmed }
func (OrderCancelled) RoutingKey() string         { return RKOrderCancelled }

func (e OrderCreated) CorrelationID() string           { return e.OrderID }
func (e StockReserved) CorrelationID() string          { return e.OrderID }
func (e StockReservationFailed) CorrelationID() string { return e.OrderID }
func (e StockRelease) CorrelationID() string           { return e.OrderID }
func (e PaymentProcessed) CorrelationID() string       { return e.OrderID }
func (e PaymentFailed) CorrelationID() string          { return e.OrderID }
func (e OrderConfirmed) CorrelationID() string         { return e.OrderID }
func (e OrderCancelled) CorrelationID() string         { return e.OrderID }

func (OrderCreated) sealed()           {}
func (StockReserved) sealed()          {}
func (StockReservationFailed) sealed() {}
func (StockRelease) sealed()           {}
func (PaymentProcessed) sealed()       {}
func (PaymentFailed) sealed()          {}
func (OrderConfirmed) sealed()         {}
func (OrderCancelled) sealed()         {}

// Encode serializes ev as the JSON body published under ev.RoutingKey().
func Encode(ev Event) ([]byte, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("events: encode %s: %w", ev.RoutingKey(), err)
	}
	return body, nil
}

// Decode turns a delivery back into its typed event. Bodies without an order id
// are rejected because nothing downstream can correlate them.
func Decode(routingKey string, body []byte) (Event, error) {
	var (
		ev  Event
		err error
	)
	switch routingKey {
	case RKOrderCreated:
		ev, err = decodeAs[OrderCreated](body)
	case RKStockReserved:
		ev, err = decodeAs[StockReserved](body)
	case RKStockReservationFailed:
		ev, err = decodeAs[StockReservationFailed](body)
	case RKStockRelease:
		ev, err = decodeAs[StockRelease](body)
	case RKPaymentProcessed:
		ev, err = decodeAs[PaymentProcessed](body)
	case RKPaymentFailed:
		ev, err = decodeAs[PaymentFailed](body)
	case RKOrderConfirmed:
		ev, err = decodeAs[OrderConfirmed](body)
	case RKOrderCancelled:
		ev, err = decodeAs[OrderCancelled](body)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownRoutingKey, routingKey)
	}
	if err != nil {
		return nil, fmt.Errorf("events: decode %s: %w", routingKey, err)
	}
	if ev.CorrelationID() == "" {
		return nil, fmt.Errorf("%w (%s)", ErrMissingOrderID, routingKey)
	}
	return ev, nil
}

func decodeAs[T Event](body []byte) (Event, error) {
	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, err
	}
	return v, nil
}
