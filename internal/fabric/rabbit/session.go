// Package rabbit is the RabbitMQ implementation of fabric.Bus.
package rabbit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/ahinestrog/ordersaga/internal/events"
	"github.com/ahinestrog/ordersaga/internal/fabric"
)

const system = "rabbitmq"

type Config struct {
	URL      string
	Exchange string
	// DeadLetterExchange, when set, receives rejected deliveries. A durable
	// queue "<Exchange>.dead-letter" is bound to it.
	DeadLetterExchange string
	Prefetch           int
	Concurrency        int
	Retry              fabric.RetryPolicy
}

type Session struct {
	cfg  Config
	log  zerolog.Logger
	conn *amqp.Connection

	pubMu    sync.Mutex
	pub      *amqp.Channel
	confirms bool

	done chan error
	wg   sync.WaitGroup
}

var _ fabric.Bus = (*Session)(nil)

// Dial connects, declares the exchange topology and opens the publish channel.
func Dial(cfg Config, log zerolog.Logger) (*Session, error) {
	if cfg.Exchange == "" {
		cfg.Exchange = fabric.DefaultExchange
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = cfg.Concurrency
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("rabbit: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbit: channel: %w", err)
	}

	s := &Session{
		cfg:  cfg,
		log:  log.With().Str("exchange", cfg.Exchange).Logger(),
		conn: conn,
		pub:  ch,
		done: make(chan error, 1),
	}
	if err := s.declareTopology(ch); err != nil {
		_ = s.Close()
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		s.log.Warn().Err(err).Msg("publisher confirms unavailable")
	} else {
		s.confirms = true
	}

	go s.watch(conn.NotifyClose(make(chan *amqp.Error, 1)))
	return s, nil
}

// watch forwards an unexpected connection close to Done. Consumers do not
// survive it, so the owner is expected to stop.
func (s *Session) watch(closed <-chan *amqp.Error) {
	if cerr, ok := <-closed; ok {
		s.log.Error().Str("reason", cerr.Reason).Int("code", cerr.Code).Msg("broker connection closed")
		s.done <- cerr
	}
	close(s.done)
}

// Done yields the error that closed the connection. It is closed without a
// value after Close.
func (s *Session) Done() <-chan error { return s.done }

func (s *Session) declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(s.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("rabbit: declare exchange %s: %w", s.cfg.Exchange, err)
	}
	if s.cfg.DeadLetterExchange == "" {
		return nil
	}
	if err := ch.ExchangeDeclare(s.cfg.DeadLetterExchange, "fanout", true, false, false, false, nil); err != nil {
		return fmt.Errorf("rabbit: declare dead-letter exchange: %w", err)
	}
	q, err := ch.QueueDeclare(s.cfg.Exchange+".dead-letter", true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("rabbit: declare dead-letter queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, "", s.cfg.DeadLetterExchange, false, nil); err != nil {
		return fmt.Errorf("rabbit: bind dead-letter queue: %w", err)
	}
	return nil
}

// Publish sends ev as a persistent message and, when the broker supports
// publisher confirms, waits for it to be accepted.
func (s *Session) Publish(ctx context.Context, ev events.Event) error {
	ctx, span := fabric.StartPublishSpan(ctx, system, s.cfg.Exchange, ev.RoutingKey())
	defer span.End()

	msg, err := fabric.NewMessage(ctx, ev)
	if err != nil {
		return err
	}
	headers := amqp.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	pub := amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     uuid.NewString(),
		CorrelationId: ev.CorrelationID(),
		Timestamp:     time.Now(),
		Type:          ev.RoutingKey(),
		Headers:       headers,
		Body:          msg.Body,
	}

	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	if !s.confirms {
		if err := s.pub.PublishWithContext(ctx, s.cfg.Exchange, msg.RoutingKey, false, false, pub); err != nil {
			return fmt.Errorf("rabbit: publish %s: %w", msg.RoutingKey, err)
		}
		return nil
	}
	dc, err := s.pub.PublishWithDeferredConfirmWithContext(ctx, s.cfg.Exchange, msg.RoutingKey, false, false, pub)
	if err != nil {
		return fmt.Errorf("rabbit: publish %s: %w", msg.RoutingKey, err)
	}
	ok, err := dc.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("rabbit: confirm %s: %w", msg.RoutingKey, err)
	}
	if !ok {
		return fmt.Errorf("rabbit: publish %s: nacked by broker", msg.RoutingKey)
	}
	return nil
}

// Subscribe declares a durable queue, binds its keys and consumes it with
// manual acknowledgment on a dedicated channel.
func (s *Session) Subscribe(ctx context.Context, b fabric.Binding, h fabric.Handler) error {
	ch, err := s.conn.Channel()
	if err != nil {
		return fmt.Errorf("rabbit: channel for %s: %w", b.Queue, err)
	}
	if err := ch.Qos(s.cfg.Prefetch, 0, false); err != nil {
		_ = ch.Close()
		return fmt.Errorf("rabbit: qos %s: %w", b.Queue, err)
	}

	var args amqp.Table
	if s.cfg.DeadLetterExchange != "" {
		args = amqp.Table{"x-dead-letter-exchange": s.cfg.DeadLetterExchange}
	}
	q, err := ch.QueueDeclare(b.Queue, true, false, false, false, args)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("rabbit: declare queue %s: %w", b.Queue, err)
	}
	for _, key := range b.Keys {
		if err := ch.QueueBind(q.Name, key, s.cfg.Exchange, false, nil); err != nil {
			_ = ch.Close()
			return fmt.Errorf("rabbit: bind %s to %s: %w", b.Queue, key, err)
		}
	}

	tag := b.Queue + "-" + uuid.NewString()[:8]
	deliveries, err := ch.Consume(q.Name, tag, false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("rabbit: consume %s: %w", b.Queue, err)
	}

	d := fabric.NewDispatcher(system, b.Queue, h, s.cfg.Retry, s.log)
	log := s.log.With().Str("queue", b.Queue).Logger()

	var workers sync.WaitGroup
	for i := 0; i < s.cfg.Concurrency; i++ {
		workers.Add(1)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer workers.Done()
			for dl := range deliveries {
				s.settle(ctx, d, dl, log)
			}
		}()
	}

	go func() {
		<-ctx.Done()
		_ = ch.Cancel(tag, false)
	}()
	go func() {
		workers.Wait()
		_ = ch.Close()
		log.Info().Msg("consumer stopped")
	}()

	log.Info().Strs("keys", b.Keys).Int("workers", s.cfg.Concurrency).Msg("consuming")
	return nil
}

func (s *Session) settle(ctx context.Context, d *fabric.Dispatcher, dl amqp.Delivery, log zerolog.Logger) {
	headers := make(map[string]string, len(dl.Headers))
	for k, v := range dl.Headers {
		if sv, ok := v.(string); ok {
			headers[k] = sv
		}
	}
	msg := fabric.Message{RoutingKey: dl.RoutingKey, Body: dl.Body, Headers: headers, Redelivered: dl.Redelivered}

	var err error
	// settle even when ctx is cancelled mid-handler
	switch d.Dispatch(context.WithoutCancel(ctx), msg) {
	case fabric.Ack:
		err = dl.Ack(false)
	default:
		err = dl.Nack(false, false)
	}
	if err != nil && !errors.Is(err, amqp.ErrClosed) {
		log.Warn().Err(err).Uint64("delivery_tag", dl.DeliveryTag).Msg("settle failed")
	}
}

// Close waits for in-flight deliveries and closes the connection. Consumers
// stop when their Subscribe context is cancelled.
func (s *Session) Close() error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		s.log.Warn().Msg("timed out waiting for consumers")
	}

	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	var errs []error
	for _, c := range []interface{ Close() error }{s.pub, s.conn} {
		if err := c.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
