package payment

import (
	"context"
	"encoding/hex"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
)

// DeclineReason is what the fake processor reports for a declined charge.
const DeclineReason = "Insufficient funds (mock)"

type Charge struct {
	OrderID    string
	CustomerID string
	Amount     float64
}

// Processor charges a customer. A declined charge is reported as a
// *DeclinedError; any other error means the outcome is unknown.
type Processor interface {
	Charge(ctx context.Context, c Charge) (transactionID string, err error)
}

type DeclinedError struct{ Reason string }

func (e *DeclinedError) Error() string { return "payment declined: " + e.Reason }

// FakeProcessor approves charges after a fixed latency and declines a
// FailureRate share of them.
type FakeProcessor struct {
	FailureRate float64
	Latency     time.Duration

	rand func() float64
}

func NewFakeProcessor(failureRate float64, latency time.Duration) *FakeProcessor {
	return &FakeProcessor{FailureRate: failureRate, Latency: latency, rand: rand.Float64}
}

func (p *FakeProcessor) Charge(ctx context.Context, _ Charge) (string, error) {
	if p.Latency > 0 {
		t := time.NewTimer(p.Latency)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-t.C:
		}
	}
	if p.rand() < p.FailureRate {
		return "", &DeclinedError{Reason: DeclineReason}
	}
	id := uuid.New()
	return "txn_" + hex.EncodeToString(id[:8]), nil
}
