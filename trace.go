package otelpipe

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// abortMessage is the status description stamped on spans force-closed
// when the underlying request is torn down mid-phase.
const abortMessage = "request aborted"

// Trace builds one request's span tree. It owns the root span, the
// current-parent cursor, and the request-scoped attribute map; none of
// these are shared across requests. The host drives it phase by phase:
//
//	tr := plugin.StartRequest(info)
//	if ph := tr.EnterPhase(otelpipe.PhaseParse, hookNames); ph != nil {
//		ev := ph.StartEvent("json")
//		ev.End(runHook())
//		ph.End()
//	}
//	h := tr.StartHandle("getUser")
//	h.End(handlerErr)
//	tr.Finish(res)
type Trace struct {
	plugin  *Plugin
	info    *RequestInfo
	root    trace.Span
	cursor  parentCursor
	attrs   *attrSet
	errored atomic.Bool
}

// PhaseSpan is the span covering one lifecycle phase that performed
// nonzero work.
type PhaseSpan struct {
	t    *Trace
	span trace.Span
}

// EventSpan is the span for one named unit of work: a hook registered on
// a phase, or the handler itself.
type EventSpan struct {
	t    *Trace
	span trace.Span
}

// StartRequest opens the root span for one inbound request. Remote trace
// context is extracted from the request headers through the installed
// propagator; with a valid traceparent the root joins that trace,
// without one it starts a fresh trace of its own. The current-parent
// cursor starts at the root and the attribute map is seeded with request
// id, method, and path.
func (p *Plugin) StartRequest(info *RequestInfo) *Trace {
	if p == nil || info == nil {
		return nil
	}

	parent := context.Background()
	if info.Header != nil {
		parent = p.propagator.Extract(parent, propagation.HeaderCarrier(info.Header))
	}

	// The root opens under the method name alone; Finish renames it once
	// the route is settled.
	_, root := p.tracer.Start(parent, info.Method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithTimestamp(p.now()),
	)

	if info.ID == "" {
		info.ID = p.requestIDs.Get()
	}

	t := &Trace{plugin: p, info: info, root: root, attrs: newAttrSet()}
	t.cursor.set(root)
	t.attrs.Set(
		attribute.String(AttrRequestID, info.ID),
		attribute.String(AttrRequestMethod, info.Method),
		attribute.String(AttrURLPath, info.path()),
	)
	t.attrs.Flush(root)

	return t
}

// Root exposes the root span for callers that need to attach to the
// whole-request operation directly.
func (t *Trace) Root() trace.Span {
	if t == nil {
		return noopSpan()
	}
	return t.root
}

// EnterPhase opens the span for one lifecycle phase. A phase reporting
// zero registered hooks produces no span at all and returns nil: untraced
// no-op phases make no telemetry noise. The phase span is parented to the
// root span, never to an earlier phase's sub-events.
func (t *Trace) EnterPhase(phase Phase, events []string) *PhaseSpan {
	if t == nil || len(events) == 0 {
		return nil
	}

	t.attrs.Flush(t.root)

	_, span := t.plugin.tracer.Start(t.rootContext(), string(phase),
		trace.WithTimestamp(t.plugin.now()))
	return &PhaseSpan{t: t, span: span}
}

// StartHandle opens the span for the main handler. Unlike the generic
// phases it is never skipped: the handler always represents real work.
// The cursor moves to the handle span so in-handler spans nest under it.
func (t *Trace) StartHandle(name string) *EventSpan {
	if t == nil {
		return nil
	}
	if name == "" {
		name = string(PhaseHandle)
	}

	t.attrs.Flush(t.root)

	_, span := t.plugin.tracer.Start(t.rootContext(), name,
		trace.WithTimestamp(t.plugin.now()))
	t.cursor.set(span)
	return &EventSpan{t: t, span: span}
}

// Finish harvests the finalized response into the attribute map, flushes
// it in one bulk call, renames the root span to "<method> <route-or-path>",
// and ends the root. Finish is the only way the root span ends on the
// normal path; calling it on an already-finished trace is a no-op.
func (t *Trace) Finish(res *ResponseInfo) {
	if t == nil || !t.root.IsRecording() {
		return
	}

	t.harvest(res)
	t.attrs.Flush(t.root)
	t.root.SetName(t.info.Method + " " + t.info.routeOrPath())
	t.root.End(trace.WithTimestamp(t.plugin.now()))
}

// Abort force-closes whatever the trace still holds open after the
// underlying request is torn down mid-flight: first the cursor's span,
// then the root, both with error status. Leaving them open would leak
// unterminated spans; closing them here keeps abandoned requests fully
// accounted for without any later request inheriting their context.
func (t *Trace) Abort() {
	if t == nil {
		return
	}

	if cur := t.cursor.span(); cur != nil && cur != t.root && cur.IsRecording() {
		cur.SetStatus(codes.Error, abortMessage)
		cur.End(trace.WithTimestamp(t.plugin.now()))
	}
	if t.root.IsRecording() {
		t.root.SetStatus(codes.Error, abortMessage)
		t.attrs.Flush(t.root)
		t.root.End(trace.WithTimestamp(t.plugin.now()))
	}
}

// rootContext is the fixed-parent carrier for spans that must attach to
// the root regardless of what the cursor points at.
func (t *Trace) rootContext() context.Context {
	return trace.ContextWithSpan(context.Background(), t.root)
}

// StartEvent opens a span for one named hook inside the phase, parented
// to the phase span. The request's cursor moves to the new span.
func (ph *PhaseSpan) StartEvent(name string) *EventSpan {
	if ph == nil {
		return nil
	}

	parent := trace.ContextWithSpan(context.Background(), ph.span)
	_, span := ph.t.plugin.tracer.Start(parent, name,
		trace.WithTimestamp(ph.t.plugin.now()))
	ph.t.cursor.set(span)
	return &EventSpan{t: ph.t, span: span}
}

// End closes the phase span when the phase's stop signal fires. Guarded
// against double-end: a phase already closed stays untouched.
func (ph *PhaseSpan) End() {
	if ph == nil || !ph.span.IsRecording() {
		return
	}
	ph.span.End(trace.WithTimestamp(ph.t.plugin.now()))
}

// End closes the event span on its stop signal. An error marks both this
// span and the root with error status and attaches exception type and
// stack to this span; success marks both OK, except that a root already
// marked failed keeps its error status for the rest of the request.
// Ended spans are never mutated.
func (e *EventSpan) End(err error) {
	if e == nil || !e.span.IsRecording() {
		return
	}

	if err != nil {
		e.t.errored.Store(true)
		e.span.RecordError(err)
		e.span.SetAttributes(
			attribute.String(AttrExceptionType, fmt.Sprintf("%T", err)),
			attribute.String(AttrExceptionStack, string(debug.Stack())),
		)
		e.span.SetStatus(codes.Error, err.Error())
		e.t.root.SetStatus(codes.Error, err.Error())
	} else {
		e.span.SetStatus(codes.Ok, "")
		if !e.t.errored.Load() {
			e.t.root.SetStatus(codes.Ok, "")
		}
	}
	e.span.End(trace.WithTimestamp(e.t.plugin.now()))
}

// Span exposes the underlying OpenTelemetry span of the event.
func (e *EventSpan) Span() trace.Span {
	if e == nil {
		return noopSpan()
	}
	return e.span
}

// StartSpan opens a span under the request's current parent. The caller
// owns ending it.
func (t *Trace) StartSpan(name string) trace.Span {
	if t == nil {
		return noopSpan()
	}
	_, span := t.plugin.tracer.Start(t.cursor.context(), name,
		trace.WithTimestamp(t.plugin.now()))
	return span
}

// StartActiveSpan runs work inside a span under the request's current
// parent, ending it on every exit path through the active-span wrapper.
// The work's error passes through unchanged.
func (t *Trace) StartActiveSpan(name string, work func(context.Context, trace.Span) error) error {
	if t == nil {
		return work(context.Background(), noopSpan())
	}
	ctx, span := t.plugin.tracer.Start(t.cursor.context(), name,
		trace.WithTimestamp(t.plugin.now()))
	_, err := runEnding(span, func(span trace.Span) (struct{}, error) {
		return struct{}{}, work(ctx, span)
	})
	return err
}

// SetAttributes accumulates attributes into the request's attribute map.
// They reach the root span on the next phase flush, with last write
// winning per key.
func (t *Trace) SetAttributes(attrs ...attribute.KeyValue) {
	if t == nil {
		return
	}
	t.attrs.Set(attrs...)
}

// noopSpan returns a non-recording span for nil-safe fallbacks.
func noopSpan() trace.Span {
	return trace.SpanFromContext(context.Background())
}

// traceKeyType is a private type for context keys to avoid collisions.
type traceKeyType string

const traceKey traceKeyType = "otelpipe"

// ContextWithTrace stashes the request's trace in a context so handlers
// can reach the request-scoped API.
func ContextWithTrace(ctx context.Context, t *Trace) context.Context {
	return context.WithValue(ctx, traceKey, t)
}

// FromContext recovers the request's trace. Returns nil when the request
// was never intercepted; every method on a nil Trace is a safe no-op.
func FromContext(ctx context.Context) *Trace {
	if ctx == nil {
		return nil
	}
	if t, ok := ctx.Value(traceKey).(*Trace); ok {
		return t
	}
	return nil
}
