package otelpipe

import (
	"github.com/hashicorp/go-hclog"
	"github.com/zoobzio/clockz"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// defaultServiceName labels the tracer when the caller does not supply
// a service name of their own.
const defaultServiceName = "otelpipe"

// BodySerializer turns a structured request or response body into the
// string form recorded on the root span. The default uses goccy/go-json.
// Replacing it is the supported way to give exotic value shapes (streams,
// array buffers) deliberate handling.
type BodySerializer func(v any) ([]byte, error)

// Instrumentation is an auto-instrumentation module applied against the
// tracer provider at bootstrap. Modules run only when otelpipe owns the
// bootstrap; a provider initialized elsewhere is assumed to have its own.
type Instrumentation func(tp trace.TracerProvider) error

// Config carries the recognized setup options. The zero value is usable:
// it bootstraps a provider with no exporter, the default propagator, and
// the default service name.
type Config struct {
	// ServiceName labels the tracer resource. Defaults to "otelpipe".
	ServiceName string

	// TracerProvider, when set, signals that tracing was already
	// initialized elsewhere. The plugin adopts it as-is and skips the
	// SDK bootstrap entirely, including global registration.
	TracerProvider trace.TracerProvider

	// Propagator is installed globally when set. Installation is
	// best-effort: on failure the plugin keeps whatever propagator was
	// already active. Defaults to W3C trace context + baggage.
	Propagator propagation.TextMapPropagator

	// Instrumentations run against the bootstrapped provider. Failures
	// are logged and skipped.
	Instrumentations []Instrumentation

	// Pass-through SDK configuration, forwarded verbatim to the
	// bootstrap. Ignored when TracerProvider is set.
	Exporter           sdktrace.SpanExporter
	SpanProcessors     []sdktrace.SpanProcessor
	Sampler            sdktrace.Sampler
	ResourceAttributes []attribute.KeyValue

	// BodySerializer overrides the serialization policy used by the
	// attribute harvester for structured bodies and multi-value headers.
	BodySerializer BodySerializer

	// Logger receives best-effort warnings about tracing setup problems.
	// Defaults to a null logger: tracing is a side channel and stays
	// quiet unless asked.
	Logger hclog.Logger

	// Clock supplies span timestamps. Defaults to the real clock;
	// inject a fake for deterministic duration tests.
	Clock clockz.Clock
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.ServiceName == "" {
		out.ServiceName = defaultServiceName
	}
	if out.Logger == nil {
		out.Logger = hclog.NewNullLogger()
	}
	if out.Clock == nil {
		out.Clock = clockz.RealClock
	}
	if out.BodySerializer == nil {
		out.BodySerializer = defaultBodySerializer
	}
	if out.Sampler == nil {
		out.Sampler = sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	if out.Propagator == nil {
		out.Propagator = propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		)
	}
	return out
}
