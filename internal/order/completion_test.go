package order

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluateCompletion(t *testing.T) {
	tests := []struct {
		stock   StockStatus
		payment PaymentStatus
		want    Outcome
	}{
		{StockPending, PaymentPending, Outcome{Next: StatusPending}},
		{StockReserved, PaymentPending, Outcome{Next: StatusPending}},
		{StockPending, PaymentProcessed, Outcome{Next: StatusPending}},
		{StockReserved, PaymentProcessed, Outcome{Next: StatusConfirmed}},
		{StockFailed, PaymentPending, Outcome{Next: StatusCancelled}},
		{StockFailed, PaymentProcessed, Outcome{Next: StatusCancelled}},
		{StockFailed, PaymentFailed, Outcome{Next: StatusCancelled}},
		{StockPending, PaymentFailed, Outcome{Next: StatusCancelled}},
		{StockReserved, PaymentFailed, Outcome{Next: StatusCancelled, ReleaseStock: true}},
	}
	for _, tt := range tests {
		t.Run(string(tt.stock)+"/"+string(tt.payment), func(t *testing.T) {
			assert.Equal(t, tt.want, EvaluateCompletion(tt.stock, tt.payment))
		})
	}
}

func TestTerminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.True(t, StatusConfirmed.Terminal())
	assert.True(t, StatusCancelled.Terminal())
}
