package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestSetupTracingWithoutEndpointInstallsPropagator(t *testing.T) {
	shutdown, err := SetupTracing(context.Background(), "order", "")
	require.NoError(t, err)
	defer shutdown(context.Background())

	tp := sdktrace.NewTracerProvider()
	defer tp.Shutdown(context.Background())
	ctx, span := tp.Tracer("test").Start(context.Background(), "publish")
	defer span.End()

	headers := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, headers)
	require.Contains(t, headers, "traceparent")

	got := trace.SpanContextFromContext(otel.GetTextMapPropagator().Extract(context.Background(), headers))
	assert.Equal(t, span.SpanContext().TraceID(), got.TraceID())
}
