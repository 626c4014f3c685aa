// Package payment charges orders through a processor and keeps one payment
// record per order so redelivered requests never charge twice.
package payment

import "time"

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusProcessed Status = "PROCESSED"
	StatusFailed    Status = "FAILED"
)

type Payment struct {
	OrderID       string    `json:"orderId"`
	CustomerID    string    `json:"customerId"`
	Amount        float64   `json:"amount"`
	Status        Status    `json:"status"`
	TransactionID string    `json:"transactionId,omitempty"`
	FailureReason string    `json:"failureReason,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Settled reports whether the charge has an outcome.
func (p *Payment) Settled() bool { return p.Status != StatusPending }
