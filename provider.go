package otelpipe

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// instrumentationName is the scope name under which every span created
// by this package is recorded.
const instrumentationName = "github.com/otelpipe/otelpipe"

// New constructs the plugin service object. When cfg.TracerProvider is
// set the plugin adopts it and performs no bootstrap; otherwise it builds
// an SDK provider from the pass-through configuration and registers it
// globally. Propagator installation is best-effort in both modes.
func New(cfg Config) (*Plugin, error) {
	cfg = cfg.withDefaults()

	p := &Plugin{
		log:        cfg.Logger,
		clock:      cfg.Clock,
		serializer: cfg.BodySerializer,
		requestIDs: NewIDPool(requestIDPoolSize),
	}

	if cfg.TracerProvider != nil {
		// Tracing was initialized elsewhere. Reuse the handle and leave
		// the global registration alone.
		p.provider = cfg.TracerProvider
	} else {
		tp, err := bootstrapProvider(cfg)
		if err != nil {
			return nil, fmt.Errorf("otelpipe: bootstrap tracer provider: %w", err)
		}
		p.provider = tp
		p.owned = tp
		otel.SetTracerProvider(tp)

		for i, inst := range cfg.Instrumentations {
			if inst == nil {
				continue
			}
			if err := inst(tp); err != nil {
				cfg.Logger.Warn("instrumentation module failed, skipping",
					"index", i, "error", err)
			}
		}
	}

	p.tracer = p.provider.Tracer(instrumentationName)
	p.installPropagator(cfg.Propagator)

	return p, nil
}

func bootstrapProvider(cfg Config) (*sdktrace.TracerProvider, error) {
	attrs := append([]attribute.KeyValue{
		attribute.String("service.name", cfg.ServiceName),
	}, cfg.ResourceAttributes...)

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(resource.NewSchemaless(attrs...)),
		sdktrace.WithSampler(cfg.Sampler),
	}

	exporter := cfg.Exporter
	if exporter == nil && os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" {
		exp, err := otlptracehttp.New(context.Background())
		if err != nil {
			// Export is a side channel. A broken endpoint must not keep
			// the application from serving requests.
			cfg.Logger.Warn("otlp exporter setup failed, spans will not be exported",
				"error", err)
		} else {
			exporter = exp
		}
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}
	for _, sp := range cfg.SpanProcessors {
		if sp != nil {
			opts = append(opts, sdktrace.WithSpanProcessor(sp))
		}
	}

	return sdktrace.NewTracerProvider(opts...), nil
}

// installPropagator registers prop globally, falling back to whatever
// propagator was already active if registration panics. The active
// propagator, whichever that ends up being, is the one used for inbound
// context extraction.
func (p *Plugin) installPropagator(prop propagation.TextMapPropagator) {
	func() {
		defer func() {
			if r := recover(); r != nil {
				p.log.Warn("propagator installation failed, keeping active propagator",
					"panic", r)
			}
		}()
		otel.SetTextMapPropagator(prop)
	}()
	p.propagator = otel.GetTextMapPropagator()
}

// Shutdown flushes and stops a provider that the plugin bootstrapped
// itself. An adopted provider belongs to its creator and is left running.
func (p *Plugin) Shutdown(ctx context.Context) error {
	if p == nil || p.owned == nil {
		return nil
	}
	p.requestIDs.Close()
	if err := p.owned.Shutdown(ctx); err != nil {
		return fmt.Errorf("otelpipe: shutdown tracer provider: %w", err)
	}
	return nil
}
