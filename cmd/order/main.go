// Command order runs the saga coordinator and the order REST API.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/ahinestrog/ordersaga/internal/config"
	"github.com/ahinestrog/ordersaga/internal/lookup"
	"github.com/ahinestrog/ordersaga/internal/order"
	"github.com/ahinestrog/ordersaga/internal/platform/logging"
	"github.com/ahinestrog/ordersaga/internal/platform/observability"
	"github.com/ahinestrog/ordersaga/internal/platform/service"
)

func main() {
	cfg := config.LoadOrder()
	logger := logging.Setup(cfg.ServiceName, cfg.LogLevel, cfg.LogPretty)
	must(cfg.Validate())
	logger.Info().
		Str("http", cfg.HTTPAddr).
		Str("grpc", cfg.GRPCAddr).
		Str("db", cfg.DBPath).
		Dur("saga_timeout", cfg.SagaTimeout).
		Msg("starting order service")

	// runs after every other deferred cleanup
	failed := false
	defer func() {
		if failed {
			os.Exit(1)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	must(err)
	defer func() { _ = shutdownTracing(context.Background()) }()

	repo, err := order.NewRepository(ctx, cfg.DBDriver, cfg.DBPath)
	must(err)
	defer repo.Close()

	bus, err := service.OpenBus(cfg.Broker, logger)
	must(err)
	defer bus.Close()

	var catalog order.Catalog
	if lc := lookup.New(lookup.Config{
		ProductURL: cfg.ProductServiceURL,
		UserURL:    cfg.UserServiceURL,
		Timeout:    cfg.LookupTimeout,
		CacheTTL:   cfg.LookupCacheTTL,
	}); lc.Enabled() {
		catalog = lc
		logger.Info().Msg("catalog lookups enabled")
	}

	coord := order.NewCoordinator(repo, bus, catalog, logger)
	must(service.Subscribe(ctx, bus, coord.Handle, order.StockReplies, order.PaymentReplies))
	logger.Info().Msg("reply consumers started")

	if cfg.SagaTimeout <= 0 {
		logger.Warn().Msg("ORDER_SAGA_TIMEOUT unset; orders whose replies never arrive stay pending")
	}
	go order.NewReaper(coord, cfg.SagaTimeout, cfg.ReapInterval, logger).Run(ctx)

	if err := service.Run(ctx, cfg.Common, order.NewHandler(coord, cfg.AllowedOrigins, logger), bus.Done(), logger); err != nil {
		logger.Error().Err(err).Msg("server stopped")
		failed = true
	}
	logger.Warn().Msg("shutting down")
}

func must(err error) {
	if err != nil {
		log.Fatal().Err(err).Msg("fatal")
	}
}
