// Command inventory reserves and releases stock for orders.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/ahinestrog/ordersaga/internal/config"
	"github.com/ahinestrog/ordersaga/internal/inventory"
	"github.com/ahinestrog/ordersaga/internal/platform/logging"
	"github.com/ahinestrog/ordersaga/internal/platform/observability"
	"github.com/ahinestrog/ordersaga/internal/platform/service"
)

func main() {
	cfg := config.LoadInventory()
	logger := logging.Setup(cfg.ServiceName, cfg.LogLevel, cfg.LogPretty)
	must(cfg.Validate())
	logger.Info().
		Str("http", cfg.HTTPAddr).
		Str("grpc", cfg.GRPCAddr).
		Str("db", cfg.DBPath).
		Msg("starting inventory service")

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

	repo, err := inventory.NewRepository(ctx, cfg.DBDriver, cfg.DBPath)
	must(err)
	defer repo.Close()

	if cfg.Seed != "" {
		seed, err := inventory.ParseSeed(cfg.Seed)
		must(err)
		must(repo.Seed(ctx, seed))
		logger.Info().Int("products", len(seed)).Msg("seeded initial stock")
	}

	bus, err := service.OpenBus(cfg.Broker, logger)
	must(err)
	defer bus.Close()

	h := inventory.NewHandler(repo, bus, logger)
	must(service.Subscribe(ctx, bus, h.Handle, inventory.OrderCreatedQueue, inventory.StockReleaseQueue))
	logger.Info().Msg("stock consumers started")

	if err := service.Run(ctx, cfg.Common, inventory.NewHTTPHandler(repo, logger), bus.Done(), logger); err != nil {
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
