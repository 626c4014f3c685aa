package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPGetPayment(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	_, err := repo.CreatePending(ctx, "o1", "c1", 25)
	require.NoError(t, err)
	_, err = repo.Settle(ctx, "o1", StatusFailed, "", DeclineReason)
	require.NoError(t, err)
	h := NewHTTPHandler(repo, zerolog.Nop())

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/payments/o1", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var p Payment
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	assert.Equal(t, StatusFailed, p.Status)
	assert.Equal(t, DeclineReason, p.FailureReason)
}

func TestHTTPPaymentNotFound(t *testing.T) {
	h := NewHTTPHandler(newTestRepo(t), zerolog.Nop())

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/payments/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "Payment not found")

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
