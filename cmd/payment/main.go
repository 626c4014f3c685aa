// Command payment charges orders through the configured processor.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/ahinestrog/ordersaga/internal/config"
	"github.com/ahinestrog/ordersaga/internal/payment"
	"github.com/ahinestrog/ordersaga/internal/platform/logging"
	"github.com/ahinestrog/ordersaga/internal/platform/observability"
	"github.com/ahinestrog/ordersaga/internal/platform/service"
)

func main() {
	cfg := config.LoadPayment()
	logger := logging.Setup(cfg.ServiceName, cfg.LogLevel, cfg.LogPretty)
	must(cfg.Validate())
	logger.Info().
		Str("http", cfg.HTTPAddr).
		Str("grpc", cfg.GRPCAddr).
		Str("db", cfg.DBPath).
		Float64("failure_rate", cfg.FailureRate).
		Dur("latency", cfg.ProcessorLatency).
		Msg("starting payment service")

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

	repo, err := payment.NewRepository(ctx, cfg.DBDriver, cfg.DBPath)
	must(err)
	defer repo.Close()

	bus, err := service.OpenBus(cfg.Broker, logger)
	must(err)
	defer bus.Close()

	processor := payment.NewFakeProcessor(cfg.FailureRate, cfg.ProcessorLatency)
	h := payment.NewHandler(repo, processor, bus, logger)
	must(service.Subscribe(ctx, bus, h.Handle, payment.OrderCreatedQueue))
	logger.Info().Msg("payment consumer started")

	if err := service.Run(ctx, cfg.Common, payment.NewHTTPHandler(repo, logger), bus.Done(), logger); err != nil {
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
