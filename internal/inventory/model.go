// Package inventory owns stock levels and the reservation ledger that makes
// stock handling idempotent per order.
package inventory

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type ReservationStatus string

const (
	ReservationReserved ReservationStatus = "RESERVED"
	ReservationFailed   ReservationStatus = "FAILED"
	ReservationReleased ReservationStatus = "RELEASED"
)

type Stock struct {
	ProductID string    `json:"productId"`
	Quantity  int       `json:"quantity"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Item struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// Reservation is the ledger entry for one order.
type Reservation struct {
	OrderID       string            `json:"orderId"`
	Status        ReservationStatus `json:"status"`
	Items         []Item            `json:"items"`
	FailureReason string            `json:"failureReason,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
	UpdatedAt     time.Time         `json:"updatedAt"`
}

type InsufficientStockError struct{ ProductID string }

func (e InsufficientStockError) Error() string {
	return "insufficient stock for " + e.ProductID
}

type InvalidQuantityError struct{ ProductID string }

func (e InvalidQuantityError) Error() string {
	return "invalid quantity for " + e.ProductID
}

// ParseSeed reads "P1=10,P2=5" into product quantities.
func ParseSeed(s string) (map[string]int, error) {
	out := map[string]int{}
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		id, qty, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(id) == "" {
			return nil, fmt.Errorf("inventory seed: malformed entry %q", pair)
		}
		n, err := strconv.Atoi(strings.TrimSpace(qty))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("inventory seed: bad quantity in %q", pair)
		}
		out[strings.TrimSpace(id)] = n
	}
	return out, nil
}
