// Package service holds the startup and shutdown steps every saga process
// shares: opening the broker and serving HTTP next to the gRPC health check.
package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ahinestrog/ordersaga/internal/config"
	"github.com/ahinestrog/ordersaga/internal/fabric"
	"github.com/ahinestrog/ordersaga/internal/fabric/memory"
	"github.com/ahinestrog/ordersaga/internal/fabric/rabbit"
	"github.com/ahinestrog/ordersaga/internal/platform/health"
	"github.com/ahinestrog/ordersaga/internal/platform/httpx"
)

// Bus is a broker session the process owns. Done yields when the broker
// connection is lost.
type Bus interface {
	fabric.Bus
	Done() <-chan error
	Close() error
}

var ErrBrokerLost = errors.New("broker connection lost")

// OpenBus dials RabbitMQ, or starts an in-process broker when the URL is
// config.MemoryBrokerURL.
func OpenBus(cfg config.Broker, log zerolog.Logger) (Bus, error) {
	retry := RetryPolicy(cfg)
	if cfg.URL == config.MemoryBrokerURL {
		log.Warn().Msg("using in-process broker; events do not leave this process")
		return memory.New(memory.Options{Concurrency: cfg.Concurrency, Retry: retry, Logger: log}), nil
	}
	s, err := rabbit.Dial(rabbit.Config{
		URL:                cfg.URL,
		Exchange:           cfg.Exchange,
		DeadLetterExchange: cfg.DeadLetterExchange,
		Prefetch:           cfg.Prefetch,
		Concurrency:        cfg.Concurrency,
		Retry:              retry,
	}, log)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func RetryPolicy(cfg config.Broker) fabric.RetryPolicy {
	return fabric.RetryPolicy{
		MaxRetries:      cfg.MaxRetries,
		InitialInterval: cfg.RetryInterval,
		MaxInterval:     10 * cfg.RetryInterval,
	}
}

// Subscribe binds every queue to h.
func Subscribe(ctx context.Context, bus fabric.Subscriber, h fabric.Handler, bindings ...fabric.Binding) error {
	for _, b := range bindings {
		if err := bus.Subscribe(ctx, b, h); err != nil {
			return fmt.Errorf("subscribe %s: %w", b.Queue, err)
		}
	}
	return nil
}

// Run serves h on the HTTP address and the gRPC health service on the gRPC
// address until ctx is done, either server fails or lost yields. Losing the
// broker reports NOT_SERVING and returns an error wrapping ErrBrokerLost.
func Run(ctx context.Context, c config.Common, h http.Handler, lost <-chan error, log zerolog.Logger) error {
	lis, err := net.Listen("tcp", c.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", c.GRPCAddr, err)
	}
	hs := health.New(c.ServiceName, log)
	srv := httpx.NewServer(c.HTTPAddr, h)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hs.Serve(lis) })
	g.Go(func() error {
		log.Info().Str("addr", c.HTTPAddr).Msg("HTTP listening")
		return httpx.Serve(gctx, srv, c.ShutdownGrace)
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case err := <-lost:
			hs.SetServing(false)
			if err == nil {
				return ErrBrokerLost
			}
			return fmt.Errorf("%w: %w", ErrBrokerLost, err)
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		hs.SetServing(false)
		hs.Stop()
		return nil
	})
	hs.SetServing(true)
	return g.Wait()
}
