package payment

import (
	"net/http"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ahinestrog/ordersaga/internal/platform/httpx"
)

// NewHTTPHandler serves payment lookups by order.
func NewHTTPHandler(repo *Repository, log zerolog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /payments/{orderId}", func(w http.ResponseWriter, r *http.Request) {
		p, err := repo.Get(r.Context(), r.PathValue("orderId"))
		switch {
		case err != nil:
			hlog.FromRequest(r).Error().Err(err).Msg("get payment")
			httpx.WriteError(w, http.StatusInternalServerError, "Error reading payment")
		case p == nil:
			httpx.WriteError(w, http.StatusNotFound, "Payment not found")
		default:
			httpx.WriteJSON(w, http.StatusOK, p)
		}
	})
	mux.HandleFunc("GET /health", httpx.Health("payment"))
	return httpx.AccessLog(log, otelhttp.NewHandler(mux, "payment-api"))
}
