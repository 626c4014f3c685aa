package order

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPPlaceOrder(t *testing.T) {
	c, rec := newTestCoordinator(t)
	h := NewHandler(c, []string{"*"}, zerolog.Nop())

	body := `{"customerId":"c1","items":[{"productId":"P1","price":10,"quantity":5}],"totalAmount":50}`
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body)))

	require.Equal(t, http.StatusAccepted, w.Code)
	var resp struct {
		Message string `json:"message"`
		Order   Order  `json:"order"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Order received and is processing.", resp.Message)
	assert.Equal(t, StatusPending, resp.Order.Status)
	assert.Equal(t, "c1", resp.Order.CustomerID)
	assert.Len(t, rec.Keys(), 1)
}

func TestHTTPPlaceOrderAcceptsUserID(t *testing.T) {
	c, _ := newTestCoordinator(t)
	h := NewHandler(c, []string{"*"}, zerolog.Nop())

	body := `{"userId":"u7","items":[{"productId":"P1","price":1,"quantity":1}],"totalAmount":1}`
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body)))

	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Contains(t, w.Body.String(), `"customerId":"u7"`)
}

func TestHTTPPlaceOrderRejectsBadInput(t *testing.T) {
	c, rec := newTestCoordinator(t)
	h := NewHandler(c, []string{"*"}, zerolog.Nop())

	for _, body := range []string{
		`{`,
		`{"customerId":"c1","items":[],"totalAmount":10}`,
		`{"customerId":"c1","items":[{"productId":"P1","quantity":0}],"totalAmount":10}`,
	} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body)))
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		assert.Contains(t, w.Body.String(), `"message"`)
	}
	assert.Empty(t, rec.Keys())
}

func TestHTTPListOrders(t *testing.T) {
	c, _ := newTestCoordinator(t)
	h := NewHandler(c, []string{"*"}, zerolog.Nop())

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/orders/c1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	placeTestOrder(t, c)

	for _, path := range []string{"/orders", "/orders/c1"} {
		w = httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, w.Code)
		var orders []Order
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &orders))
		assert.Len(t, orders, 1, path)
	}
}

func TestHTTPCORS(t *testing.T) {
	c, _ := newTestCoordinator(t)
	h := NewHandler(c, []string{"http://shop.test"}, zerolog.Nop())

	req := httptest.NewRequest(http.MethodOptions, "/orders", nil)
	req.Header.Set("Origin", "http://shop.test")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, "http://shop.test", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestHTTPHealth(t *testing.T) {
	c, _ := newTestCoordinator(t)
	w := httptest.NewRecorder()
	NewHandler(c, nil, zerolog.Nop()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
