package otelpipe

import (
	"context"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/zoobzio/clockz"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Plugin is the process-wide tracing service object: one explicitly
// constructed bundle of tracer, provider, and propagator handles. The
// module-level helpers below are thin forwarders over the OpenTelemetry
// globals for callers that never see a Plugin.
//
// Safe for concurrent use by multiple goroutines.
type Plugin struct {
	tracer     trace.Tracer
	provider   trace.TracerProvider
	owned      *sdktrace.TracerProvider
	propagator propagation.TextMapPropagator
	clock      clockz.Clock
	log        hclog.Logger
	serializer BodySerializer
	requestIDs *IDPool
}

// Tracer returns the plugin's tracer handle. Idempotent: every call
// returns an equivalent handle bound to the same scope name.
func (p *Plugin) Tracer() trace.Tracer {
	if p == nil {
		return otel.Tracer(instrumentationName)
	}
	return p.tracer
}

// now stamps span boundaries from the injected clock.
func (p *Plugin) now() time.Time {
	if p == nil {
		return clockz.RealClock.Now()
	}
	return p.clock.Now()
}

// StartSpan starts a detached span under whatever span is active in ctx.
// The caller owns ending it.
func (p *Plugin) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	opts = append(opts, trace.WithTimestamp(p.now()))
	return p.Tracer().Start(ctx, name, opts...)
}

// GetTracer returns the globally registered tracer for this package's
// scope. Safe to call many times, from anywhere, request scope or not.
func GetTracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// GetCurrentSpan returns whatever span the tracing API reports as active
// in ctx, independent of any request's builder state.
func GetCurrentSpan(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// SetAttributes writes attributes onto the globally active span. A no-op
// when no span is active or the active span has ended.
func SetAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).SetAttributes(attrs...)
}

// StartActiveSpan runs work inside a new span parented to the active
// span of ctx. The span is ended on every exit path by the active-span
// wrapper: normal return, error return, and panic. The work's result and
// error pass through unchanged.
func StartActiveSpan[T any](ctx context.Context, name string, work func(context.Context, trace.Span) (T, error)) (T, error) {
	ctx, span := GetTracer().Start(ctx, name)
	return runEnding(span, func(span trace.Span) (T, error) {
		return work(ctx, span)
	})
}

// Record is an alias for StartActiveSpan kept for ergonomic parity with
// the request-scoped API.
func Record[T any](ctx context.Context, name string, work func(context.Context, trace.Span) (T, error)) (T, error) {
	return StartActiveSpan(ctx, name, work)
}
