package fabric

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahinestrog/ordersaga/internal/events"
)

const tracerName = "github.com/ahinestrog/ordersaga/internal/fabric"

// Outcome is the settlement a broker applies to a delivery.
type Outcome int

const (
	Ack Outcome = iota
	// Reject drops the delivery without requeue (dead-lettered if configured).
	Reject
)

func (o Outcome) String() string {
	if o == Ack {
		return "ack"
	}
	return "reject"
}

// Dispatcher decodes deliveries and runs a Handler under the retry policy.
// Both brokers settle deliveries with whatever Dispatch returns.
type Dispatcher struct {
	queue   string
	system  string
	handler Handler
	retry   RetryPolicy
	log     zerolog.Logger
}

func NewDispatcher(system, queue string, h Handler, retry RetryPolicy, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		system:  system,
		handler: h,
		retry:   retry,
		log:     log.With().Str("queue", queue).Logger(),
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) Outcome {
	ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(msg.Headers))
	ctx, span := otel.Tracer(tracerName).Start(ctx, "process "+msg.RoutingKey,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			semconv.MessagingSystemKey.String(d.system),
			semconv.MessagingDestinationNameKey.String(d.queue),
			semconv.MessagingRabbitmqDestinationRoutingKey(msg.RoutingKey),
		),
	)
	defer span.End()

	ev, err := events.Decode(msg.RoutingKey, msg.Body)
	if err != nil {
		d.log.Error().Err(err).Str("routing_key", msg.RoutingKey).Bytes("body", msg.Body).
			Msg("poison message rejected")
		span.RecordError(err)
		span.SetStatus(codes.Error, "decode")
		return Reject
	}

	logger := d.log.With().Str("routing_key", msg.RoutingKey).Str("order_id", ev.CorrelationID()).Logger()
	if msg.Redelivered {
		logger.Debug().Msg("redelivered")
	}
	ctx = logger.WithContext(ctx)

	err = d.retry.Do(ctx, func() error { return d.handler(ctx, ev) }, func(err error, wait time.Duration) {
		logger.Warn().Err(err).Dur("retry_in", wait).Msg("handler failed, retrying")
	})
	if err != nil {
		logger.Error().Err(err).Msg("handler failed, rejecting message")
		span.RecordError(err)
		span.SetStatus(codes.Error, "handler")
		return Reject
	}
	return Ack
}

// NewMessage encodes ev and injects the caller's trace context into headers.
func NewMessage(ctx context.Context, ev events.Event) (Message, error) {
	body, err := events.Encode(ev)
	if err != nil {
		return Message{}, err
	}
	headers := map[string]string{}
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(headers))
	return Message{RoutingKey: ev.RoutingKey(), Body: body, Headers: headers}, nil
}

// StartPublishSpan opens the producer span a broker wraps around a publish.
func StartPublishSpan(ctx context.Context, system, exchange, routingKey string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "publish "+routingKey,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			semconv.MessagingSystemKey.String(system),
			semconv.MessagingDestinationNameKey.String(exchange),
			semconv.MessagingRabbitmqDestinationRoutingKey(routingKey),
		),
	)
}
