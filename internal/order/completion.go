package order

// Outcome is what EvaluateCompletion decides for a pending order.
type Outcome struct {
	// Next is StatusPending when no transition is due.
	Next Status
	// ReleaseStock is set when a cancellation must compensate a reservation.
	ReleaseStock bool
}

// EvaluateCompletion maps the two leg states to the saga's next step. Any
// failed leg cancels; both legs succeeding confirms; anything else waits.
func EvaluateCompletion(stock StockStatus, payment PaymentStatus) Outcome {
	switch {
	case stock == StockFailed || payment == PaymentFailed:
		return Outcome{Next: StatusCancelled, ReleaseStock: stock == StockReserved}
	case stock == StockReserved && payment == PaymentProcessed:
		return Outcome{Next: StatusConfirmed}
	default:
		return Outcome{Next: StatusPending}
	}
}
