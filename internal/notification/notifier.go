// Package notification tells customers how their order ended.
package notification

import (
	"context"

	"github.com/rs/zerolog"
)

type Kind string

const (
	KindConfirmed Kind = "confirmed"
	KindCancelled Kind = "cancelled"
)

type Message struct {
	Kind       Kind
	OrderID    string
	CustomerID string
	Subject    string
	Body       string
}

type Notifier interface {
	Notify(ctx context.Context, m Message) error
}

// LogNotifier writes each message to the log as if it were an e-mail.
type LogNotifier struct {
	log zerolog.Logger
}

func NewLogNotifier(log zerolog.Logger) *LogNotifier { return &LogNotifier{log: log} }

func (n *LogNotifier) Notify(_ context.Context, m Message) error {
	n.log.Info().
		Str("to", m.CustomerID).
		Str("order_id", m.OrderID).
		Str("kind", string(m.Kind)).
		Str("subject", m.Subject).
		Str("body", m.Body).
		Msg("email sent")
	return nil
}
