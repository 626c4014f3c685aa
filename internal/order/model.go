// Package order is the saga coordinator: it accepts orders, tracks the stock
// and payment legs, and decides each order's terminal state.
package order

import (
	"time"

	"github.com/ahinestrog/ordersaga/internal/events"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusCancelled Status = "CANCELLED"
	// Shipped and Delivered belong to fulfilment; the saga never sets them.
	StatusShipped   Status = "SHIPPED"
	StatusDelivered Status = "DELIVERED"
)

func (s Status) Terminal() bool { return s != StatusPending }

type StockStatus string

const (
	StockPending  StockStatus = "PENDING"
	StockReserved StockStatus = "RESERVED"
	StockFailed   StockStatus = "FAILED"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentProcessed PaymentStatus = "PROCESSED"
	PaymentFailed    PaymentStatus = "FAILED"
)

// ReasonTimedOut is recorded when the reaper cancels a stalled saga.
const ReasonTimedOut = "saga timed out"

type Item struct {
	ProductID string  `json:"productId"`
	Price     float64 `json:"price"`
	Quantity  int     `json:"quantity"`
}

type Order struct {
	ID            string        `json:"id"`
	CustomerID    string        `json:"customerId"`
	Items         []Item        `json:"items"`
	TotalAmount   float64       `json:"totalAmount"`
	Status        Status        `json:"status"`
	StockStatus   StockStatus   `json:"stockStatus"`
	PaymentStatus PaymentStatus `json:"paymentStatus"`
	FailureReason string        `json:"failureReason,omitempty"`
	// Announced and ReleaseSent record which final events have gone out.
	Announced     bool          `json:"-"`
	ReleaseSent   bool          `json:"-"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// owesRelease reports whether a cancelled order holds a reservation that has
// not been released yet.
func (o *Order) owesRelease() bool {
	return o.Status == StatusCancelled && o.StockStatus == StockReserved && !o.ReleaseSent
}

// Owing reports whether a terminal order still has final events to send.
func (o *Order) Owing() bool {
	return o.Status.Terminal() && (!o.Announced || o.owesRelease())
}

func (o *Order) eventItems() []events.Item {
	out := make([]events.Item, len(o.Items))
	for i, it := range o.Items {
		out[i] = events.Item{ProductID: it.ProductID, Price: it.Price, Quantity: it.Quantity}
	}
	return out
}
