package inventory

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ahinestrog/ordersaga/internal/platform/httpx"
)

type upsertBody struct {
	ProductID string `json:"productId"`
	Quantity  *int   `json:"quantity"`
}

type api struct {
	repo *Repository
}

// NewHTTPHandler serves the inventory admin API.
func NewHTTPHandler(repo *Repository, log zerolog.Logger) http.Handler {
	a := &api{repo: repo}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /inventory", a.upsert)
	mux.HandleFunc("GET /inventory", a.list)
	mux.HandleFunc("GET /inventory/{productId}", a.get)
	mux.HandleFunc("GET /inventory/reservations/{orderId}", a.reservation)
	mux.HandleFunc("GET /health", httpx.Health("inventory"))
	return httpx.AccessLog(log, otelhttp.NewHandler(mux, "inventory-api"))
}

func (a *api) upsert(w http.ResponseWriter, r *http.Request) {
	var body upsertBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil ||
		strings.TrimSpace(body.ProductID) == "" || body.Quantity == nil {
		httpx.WriteError(w, http.StatusBadRequest, "ProductId and quantity required")
		return
	}
	if *body.Quantity < 0 {
		httpx.WriteError(w, http.StatusBadRequest, "quantity must not be negative")
		return
	}
	s, err := a.repo.Upsert(r.Context(), body.ProductID, *body.Quantity)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("upsert stock")
		httpx.WriteError(w, http.StatusInternalServerError, "Error saving stock")
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, s)
}

func (a *api) get(w http.ResponseWriter, r *http.Request) {
	s, err := a.repo.Get(r.Context(), r.PathValue("productId"))
	switch {
	case err != nil:
		hlog.FromRequest(r).Error().Err(err).Msg("get stock")
		httpx.WriteError(w, http.StatusInternalServerError, "Error reading stock")
	case s == nil:
		httpx.WriteError(w, http.StatusNotFound, "Stock for product not found")
	default:
		httpx.WriteJSON(w, http.StatusOK, s)
	}
}

func (a *api) list(w http.ResponseWriter, r *http.Request) {
	items, err := a.repo.List(r.Context())
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("list stock")
		httpx.WriteError(w, http.StatusInternalServerError, "Error reading stock")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, items)
}

func (a *api) reservation(w http.ResponseWriter, r *http.Request) {
	res, err := a.repo.Reservation(r.Context(), r.PathValue("orderId"))
	switch {
	case err != nil:
		hlog.FromRequest(r).Error().Err(err).Msg("get reservation")
		httpx.WriteError(w, http.StatusInternalServerError, "Error reading reservation")
	case res == nil:
		httpx.WriteError(w, http.StatusNotFound, "Reservation not found")
	default:
		httpx.WriteJSON(w, http.StatusOK, res)
	}
}
