package service

import (
	"context"
	"errors"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahinestrog/ordersaga/internal/config"
	"github.com/ahinestrog/ordersaga/internal/events"
	"github.com/ahinestrog/ordersaga/internal/fabric"
	"github.com/ahinestrog/ordersaga/internal/fabric/memory"
	"github.com/ahinestrog/ordersaga/internal/platform/httpx"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	require.NoError(t, lis.Close())
	return addr
}

func TestOpenBusMemory(t *testing.T) {
	bus, err := OpenBus(config.Broker{URL: config.MemoryBrokerURL, Concurrency: 2}, zerolog.Nop())
	require.NoError(t, err)
	defer bus.Close()
	assert.IsType(t, &memory.Broker{}, bus)
	assert.Nil(t, bus.Done())

	got := make(chan events.Event, 1)
	require.NoError(t, Subscribe(context.Background(), bus, func(_ context.Context, ev events.Event) error {
		got <- ev
		return nil
	}, fabric.Binding{Queue: "q", Keys: []string{"order.*"}}))
	require.NoError(t, bus.Publish(context.Background(), events.OrderConfirmed{OrderID: "o1"}))

	select {
	case ev := <-got:
		assert.Equal(t, "o1", ev.CorrelationID())
	case <-time.After(5 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestOpenBusRabbitUnreachable(t *testing.T) {
	_, err := OpenBus(config.Broker{URL: "amqp://guest:guest@" + freeAddr(t) + "/", Exchange: "x", Concurrency: 1}, zerolog.Nop())
	assert.Error(t, err)
}

func TestRetryPolicy(t *testing.T) {
	p := RetryPolicy(config.Broker{MaxRetries: 3, RetryInterval: 100 * time.Millisecond})
	assert.Equal(t, fabric.RetryPolicy{MaxRetries: 3, InitialInterval: 100 * time.Millisecond, MaxInterval: time.Second}, p)
}

func testCommon(t *testing.T) config.Common {
	t.Helper()
	return config.Common{
		ServiceName:   "test",
		HTTPAddr:      freeAddr(t),
		GRPCAddr:      freeAddr(t),
		ShutdownGrace: time.Second,
	}
}

func serving(addr string) func() bool {
	return func() bool {
		resp, err := http.Get("http://" + addr + "/")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}
}

func TestRunServesUntilCancelled(t *testing.T) {
	c := testCommon(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, c, httpx.Health("test"), nil, zerolog.Nop()) }()

	require.Eventually(t, serving(c.HTTPAddr), 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunFailsWhenBrokerIsLost(t *testing.T) {
	c := testCommon(t)
	lost := make(chan error, 1)
	done := make(chan error, 1)
	go func() { done <- Run(context.Background(), c, httpx.Health("test"), lost, zerolog.Nop()) }()
	require.Eventually(t, serving(c.HTTPAddr), 5*time.Second, 20*time.Millisecond)

	lost <- errors.New("CONNECTION_FORCED")
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrBrokerLost)
		assert.ErrorContains(t, err, "CONNECTION_FORCED")
	case <-time.After(5 * time.Second):
		t.Fatal("Run kept serving without a broker")
	}
	assert.False(t, serving(c.HTTPAddr)(), "HTTP server stopped")
}
