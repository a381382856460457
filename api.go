// Package otelpipe bridges the lifecycle hooks of a request pipeline to
// OpenTelemetry, producing one span tree per inbound HTTP request.
//
// otelpipe focuses on span construction and parent propagation without
// owning export, sampling, or batching - those stay with the OpenTelemetry
// SDK. It decides when a span starts, which span is its parent, what
// attributes it collects, and when it ends, across a pipeline of
// asynchronous, possibly-erroring lifecycle phases.
//
// Core Components:
//   - Plugin: process-wide service object holding the tracer and provider.
//   - Trace: per-request span tree builder driven by lifecycle callbacks.
//   - PhaseSpan / EventSpan: handles for phase and sub-event spans.
//   - Pipeline: a reference net/http host that drives a Trace end to end.
//
// Basic Usage:
//
//	plugin, err := otelpipe.New(otelpipe.Config{ServiceName: "checkout"})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer plugin.Shutdown(context.Background())
//
//	pipe := otelpipe.NewPipeline(plugin, "/users/{id}", getUser)
//	pipe.On(otelpipe.PhaseBeforeHandle, "auth", checkAuth)
//	http.Handle("/users/", pipe)
//
// Inside a handler, the request-scoped API hangs off the context:
//
//	tr := otelpipe.FromContext(ctx)
//	err := tr.StartActiveSpan("db.query", func(ctx context.Context, span trace.Span) error {
//		return queryUser(ctx, id)
//	})
//
// Thread Safety:
//
// Plugin is safe for concurrent use by multiple goroutines. Each Trace
// belongs to exactly one in-flight request; its attribute map and parent
// cursor are never shared across requests, so N concurrent requests yield
// N independent span trees with distinct trace IDs.
//
// All Trace, PhaseSpan, and EventSpan methods are nil-safe no-ops. A
// request the tracing layer never intercepted is a valid early exit, not
// an error.
package otelpipe

// Phase names one stage of request processing exposed by the host
// pipeline. The handle phase is special-cased by the builder: it always
// produces exactly one span, while every other phase is skipped entirely
// when it has no registered hooks.
type Phase string

const (
	PhaseRequest       Phase = "request"
	PhaseParse         Phase = "parse"
	PhaseTransform     Phase = "transform"
	PhaseBeforeHandle  Phase = "beforeHandle"
	PhaseHandle        Phase = "handle"
	PhaseAfterHandle   Phase = "afterHandle"
	PhaseError         Phase = "error"
	PhaseMapResponse   Phase = "mapResponse"
	PhaseAfterResponse Phase = "afterResponse"
)

// genericPhases are the pre-handle phases driven through the inspect
// path, in lifecycle order. Handle, the post-handle phases, and
// afterResponse are wired separately by the host.
var genericPhases = []Phase{
	PhaseRequest,
	PhaseParse,
	PhaseTransform,
	PhaseBeforeHandle,
}

// Attribute keys written by the builder and the harvester. Dotted names
// follow OpenTelemetry semantic conventions where one exists.
const (
	AttrRequestID         = "http.request.id"
	AttrRequestMethod     = "http.request.method"
	AttrURLPath           = "url.path"
	AttrURLScheme         = "url.scheme"
	AttrURLQuery          = "url.query"
	AttrHTTPRoute         = "http.route"
	AttrStatusCode        = "http.response.status_code"
	AttrRequestBody       = "http.request.body"
	AttrRequestBodySize   = "http.request.body.size"
	AttrResponseBody      = "http.response.body"
	AttrResponseBodySize  = "http.response.body.size"
	AttrRequestCookies    = "http.request.cookies"
	AttrContentLength     = "http.request.content_length"
	AttrClientAddress     = "client.address"
	AttrUserAgent         = "user_agent.original"
	AttrExceptionType     = "exception.type"
	AttrExceptionStack    = "exception.stacktrace"
	attrRequestHeaderPfx  = "http.request.header."
	attrResponseHeaderPfx = "http.response.header."
)
