package otelpipe

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func TestNewAdoptsExistingProvider(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	plugin, err := New(Config{TracerProvider: tp})
	require.NoError(t, err)

	// Spans land in the adopted provider, not a freshly bootstrapped one.
	_, span := plugin.Tracer().Start(context.Background(), "probe")
	span.End()
	assert.Len(t, recorder.Ended(), 1)

	// Shutdown leaves an adopted provider to its creator.
	require.NoError(t, plugin.Shutdown(context.Background()))
	_, span = plugin.Tracer().Start(context.Background(), "after-shutdown")
	span.End()
	assert.Len(t, recorder.Ended(), 2)
}

func TestNewBootstrapsOwnedProvider(t *testing.T) {
	plugin, err := New(Config{ServiceName: "bootstrapped"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = plugin.Shutdown(context.Background()) })

	assert.NotNil(t, plugin.owned)
	assert.Same(t, trace.TracerProvider(plugin.owned), otel.GetTracerProvider(),
		"an owned bootstrap registers itself globally")
}

func TestInstrumentationFailureIsNonFatal(t *testing.T) {
	ran := false
	plugin, err := New(Config{
		Instrumentations: []Instrumentation{
			func(tp trace.TracerProvider) error { return errors.New("module broken") },
			func(tp trace.TracerProvider) error { ran = true; return nil },
			nil,
		},
	})
	require.NoError(t, err, "a failing instrumentation module must not fail setup")
	t.Cleanup(func() { _ = plugin.Shutdown(context.Background()) })
	assert.True(t, ran, "later modules still run after one fails")
}

func TestCustomPropagatorInstalled(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	custom := propagation.TraceContext{}
	plugin, err := New(Config{TracerProvider: tp, Propagator: custom})
	require.NoError(t, err)

	assert.Equal(t, propagation.TextMapPropagator(custom), plugin.propagator)
	assert.Equal(t, propagation.TextMapPropagator(custom), otel.GetTextMapPropagator())
}

func TestConfigDefaults(t *testing.T) {
	cfg := (&Config{}).withDefaults()

	assert.Equal(t, defaultServiceName, cfg.ServiceName)
	assert.NotNil(t, cfg.Logger)
	assert.NotNil(t, cfg.Clock)
	assert.NotNil(t, cfg.BodySerializer)
	assert.NotNil(t, cfg.Sampler)
	assert.NotNil(t, cfg.Propagator)
}

func TestTracerAccessorIdempotent(t *testing.T) {
	plugin, _ := newTestPlugin(t)

	assert.Equal(t, plugin.Tracer(), plugin.Tracer())
	assert.Equal(t, GetTracer(), GetTracer())
}

func TestShutdownNilSafe(t *testing.T) {
	var plugin *Plugin
	assert.NoError(t, plugin.Shutdown(context.Background()))
}
