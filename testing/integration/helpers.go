// Package integration exercises otelpipe end to end: real HTTP servers,
// many concurrent requests, and inbound trace propagation.
package integration

import (
	"testing"

	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/otelpipe/otelpipe"
)

// newRecordedPlugin wires a plugin to an in-memory span recorder so
// assertions can read back whole span trees.
func newRecordedPlugin(t *testing.T) (*otelpipe.Plugin, *tracetest.SpanRecorder) {
	t.Helper()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(t.Context()) })

	plugin, err := otelpipe.New(otelpipe.Config{TracerProvider: tp})
	require.NoError(t, err)
	return plugin, recorder
}

// rootsOf filters the finished spans down to root (server) spans.
func rootsOf(recorder *tracetest.SpanRecorder) []sdktrace.ReadOnlySpan {
	var roots []sdktrace.ReadOnlySpan
	for _, span := range recorder.Ended() {
		if !span.Parent().IsValid() {
			roots = append(roots, span)
		}
	}
	return roots
}
