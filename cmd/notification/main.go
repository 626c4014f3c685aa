// Command notification tells customers how their orders ended.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ahinestrog/ordersaga/internal/config"
	"github.com/ahinestrog/ordersaga/internal/notification"
	"github.com/ahinestrog/ordersaga/internal/platform/httpx"
	"github.com/ahinestrog/ordersaga/internal/platform/logging"
	"github.com/ahinestrog/ordersaga/internal/platform/observability"
	"github.com/ahinestrog/ordersaga/internal/platform/service"
)

func main() {
	cfg := config.LoadNotification()
	logger := logging.Setup(cfg.ServiceName, cfg.LogLevel, cfg.LogPretty)
	must(cfg.Validate())
	logger.Info().
		Str("http", cfg.HTTPAddr).
		Str("grpc", cfg.GRPCAddr).
		Int("dedup_size", cfg.DedupSize).
		Msg("starting notification service")

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

	bus, err := service.OpenBus(cfg.Broker, logger)
	must(err)
	defer bus.Close()

	h, err := notification.NewHandler(notification.NewLogNotifier(logger), cfg.DedupSize, logger)
	must(err)
	must(service.Subscribe(ctx, bus, h.Handle, notification.FinalOutcomeQueue))
	logger.Info().Msg("notification consumer started")

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", httpx.Health(cfg.ServiceName))
	api := httpx.AccessLog(logger, otelhttp.NewHandler(mux, "notification-api"))

	if err := service.Run(ctx, cfg.Common, api, bus.Done(), logger); err != nil {
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
