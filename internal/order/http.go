package order

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ahinestrog/ordersaga/internal/lookup"
	"github.com/ahinestrog/ordersaga/internal/platform/httpx"
)

type placeOrderBody struct {
	CustomerID string `json:"customerId"`
	// UserID is accepted for clients of the earlier API.
	UserID      string  `json:"userId"`
	Items       []Item  `json:"items"`
	TotalAmount float64 `json:"totalAmount"`
}

type api struct {
	c *Coordinator
}

// NewHandler serves the order REST API with CORS restricted to origins.
func NewHandler(c *Coordinator, origins []string, log zerolog.Logger) http.Handler {
	a := &api{c: c}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /orders", a.placeOrder)
	mux.HandleFunc("GET /orders", a.listOrders)
	mux.HandleFunc("GET /orders/{customerId}", a.customerOrders)
	mux.HandleFunc("GET /health", httpx.Health("order"))

	h := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(mux)
	h = otelhttp.NewHandler(h, "order-api")
	return httpx.AccessLog(log, h)
}

func (a *api) placeOrder(w http.ResponseWriter, r *http.Request) {
	var body placeOrderBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "Malformed order body")
		return
	}
	if body.CustomerID == "" {
		body.CustomerID = body.UserID
	}

	o, err := a.c.PlaceOrder(r.Context(), PlaceOrderRequest{
		CustomerID:  body.CustomerID,
		Items:       body.Items,
		TotalAmount: body.TotalAmount,
	})
	switch {
	case err == nil:
		httpx.WriteJSON(w, http.StatusAccepted, map[string]any{
			"message": "Order received and is processing.",
			"order":   o,
		})
	case errors.Is(err, ErrValidation):
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrUnknownCustomer), errors.Is(err, ErrUnknownProduct):
		httpx.WriteError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, lookup.ErrUnavailable):
		hlog.FromRequest(r).Error().Err(err).Msg("lookup failed")
		httpx.WriteError(w, http.StatusBadGateway, "Catalog lookup unavailable")
	default:
		hlog.FromRequest(r).Error().Err(err).Msg("place order")
		httpx.WriteError(w, http.StatusInternalServerError, "Error placing order")
	}
}

func (a *api) listOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := a.c.Orders(r.Context())
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("list orders")
		httpx.WriteError(w, http.StatusInternalServerError, "Error listing orders")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, nonNil(orders))
}

func (a *api) customerOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := a.c.CustomerOrders(r.Context(), r.PathValue("customerId"))
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("customer orders")
		httpx.WriteError(w, http.StatusInternalServerError, "Error listing orders")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, nonNil(orders))
}

func nonNil(orders []*Order) []*Order {
	if orders == nil {
		return []*Order{}
	}
	return orders
}
