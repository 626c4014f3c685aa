package inventory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(method, target, strings.NewReader(body)))
	return w
}

func TestHTTPUpsertAndGet(t *testing.T) {
	repo := newTestRepo(t, nil)
	h := NewHTTPHandler(repo, zerolog.Nop())

	w := serve(h, http.MethodPost, "/inventory", `{"productId":"P1","quantity":12}`)
	require.Equal(t, http.StatusCreated, w.Code)

	w = serve(h, http.MethodGet, "/inventory/P1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var s Stock
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &s))
	assert.Equal(t, "P1", s.ProductID)
	assert.Equal(t, 12, s.Quantity)

	w = serve(h, http.MethodGet, "/inventory", "")
	require.Equal(t, http.StatusOK, w.Code)
	var all []Stock
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &all))
	assert.Len(t, all, 1)
}

func TestHTTPUpsertRejectsBadInput(t *testing.T) {
	h := NewHTTPHandler(newTestRepo(t, nil), zerolog.Nop())

	for _, body := range []string{`{`, `{"quantity":3}`, `{"productId":"P1"}`} {
		w := serve(h, http.MethodPost, "/inventory", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		assert.Contains(t, w.Body.String(), "ProductId and quantity required")
	}

	w := serve(h, http.MethodPost, "/inventory", `{"productId":"P1","quantity":-1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHTTPZeroQuantityIsAllowed(t *testing.T) {
	h := NewHTTPHandler(newTestRepo(t, nil), zerolog.Nop())

	w := serve(h, http.MethodPost, "/inventory", `{"productId":"P1","quantity":0}`)
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestHTTPNotFound(t *testing.T) {
	h := NewHTTPHandler(newTestRepo(t, nil), zerolog.Nop())

	w := serve(h, http.MethodGet, "/inventory/NOPE", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "Stock for product not found")

	w = serve(h, http.MethodGet, "/inventory/reservations/o1", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "Reservation not found")
}

func TestHTTPReservation(t *testing.T) {
	repo := newTestRepo(t, map[string]int{"P1": 5})
	_, _, err := repo.Reserve(context.Background(), "o1", []Item{{"P1", 2}})
	require.NoError(t, err)
	h := NewHTTPHandler(repo, zerolog.Nop())

	w := serve(h, http.MethodGet, "/inventory/reservations/o1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var res Reservation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, ReservationReserved, res.Status)
	assert.Equal(t, []Item{{"P1", 2}}, res.Items)
}

func TestHTTPHealth(t *testing.T) {
	h := NewHTTPHandler(newTestRepo(t, nil), zerolog.Nop())

	w := serve(h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
}
