package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOrderDefaults(t *testing.T) {
	cfg := LoadOrder()

	assert.Equal(t, "order", cfg.ServiceName)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "order_events", cfg.Broker.Exchange)
	assert.Equal(t, 4, cfg.Broker.Concurrency)
	assert.Equal(t, 0, cfg.Broker.MaxRetries)
	assert.Zero(t, cfg.SagaTimeout)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	require.NoError(t, cfg.Validate())
}

func TestLoadOrderFromEnv(t *testing.T) {
	t.Setenv("ORDER_HTTP_ADDR", ":9999")
	t.Setenv("ORDER_SAGA_TIMEOUT", "2m")
	t.Setenv("ORDER_ALLOWED_ORIGINS", "http://a.test, http://b.test")
	t.Setenv("BROKER_MAX_RETRIES", "3")
	t.Setenv("BROKER_DEAD_LETTER_EXCHANGE", "order_events.dlx")

	cfg := LoadOrder()

	assert.Equal(t, ":9999", cfg.HTTPAddr)
	assert.Equal(t, 2*time.Minute, cfg.SagaTimeout)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.AllowedOrigins)
	assert.Equal(t, 3, cfg.Broker.MaxRetries)
	assert.Equal(t, "order_events.dlx", cfg.Broker.DeadLetterExchange)
}

func TestMalformedValuesFallBackToDefaults(t *testing.T) {
	t.Setenv("PAYMENT_FAILURE_RATE", "lots")
	t.Setenv("BROKER_CONCURRENCY", "many")

	cfg := LoadPayment()

	assert.InDelta(t, 0.1, cfg.FailureRate, 1e-9)
	assert.Equal(t, 4, cfg.Broker.Concurrency)
}

func TestValidate(t *testing.T) {
	t.Run("payment failure rate out of range", func(t *testing.T) {
		t.Setenv("PAYMENT_FAILURE_RATE", "1.5")
		assert.ErrorIs(t, LoadPayment().Validate(), ErrInvalid)
	})
	t.Run("unknown driver", func(t *testing.T) {
		t.Setenv("DB_DRIVER", "postgres")
		assert.ErrorIs(t, LoadInventory().Validate(), ErrInvalid)
	})
	t.Run("reaper without interval", func(t *testing.T) {
		t.Setenv("ORDER_SAGA_TIMEOUT", "1m")
		t.Setenv("ORDER_REAP_INTERVAL", "0s")
		assert.ErrorIs(t, LoadOrder().Validate(), ErrInvalid)
	})
	t.Run("zero interval without timeout", func(t *testing.T) {
		t.Setenv("ORDER_REAP_INTERVAL", "0s")
		assert.ErrorIs(t, LoadOrder().Validate(), ErrInvalid)
	})
	t.Run("dedup size", func(t *testing.T) {
		t.Setenv("NOTIFICATION_DEDUP_SIZE", "0")
		assert.ErrorIs(t, LoadNotification().Validate(), ErrInvalid)
	})
}
