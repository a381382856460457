package otelpipe

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// maxBodyBytes caps how much of an inbound body the reference host reads
// for tracing purposes.
const maxBodyBytes = 1 << 20

// HookFunc is one named unit of work registered on a lifecycle phase.
// res is nil for phases that run before the handler produced a response.
type HookFunc func(ctx context.Context, req *RequestInfo, res *ResponseInfo) error

// Handler is the main request handler of a pipeline.
type Handler func(ctx context.Context, req *RequestInfo) (*ResponseInfo, error)

type namedHook struct {
	name string
	fn   HookFunc
}

// Pipeline is a reference host: a hook-ordered request pipeline over
// net/http that drives the span tree builder through every lifecycle
// phase. Routing stays with the caller; the route template is only used
// to name the root span. Register hooks before serving; the hook table
// is not safe for mutation once requests are in flight.
type Pipeline struct {
	plugin      *Plugin
	route       string
	handler     Handler
	handlerName string
	hooks       map[Phase][]namedHook
}

// NewPipeline builds a pipeline for one route. A nil plugin is valid and
// leaves the pipeline completely untraced.
func NewPipeline(plugin *Plugin, route string, handler Handler) *Pipeline {
	return &Pipeline{
		plugin:  plugin,
		route:   route,
		handler: handler,
		hooks:   make(map[Phase][]namedHook),
	}
}

// On registers a named hook for a phase. Hooks run in registration order;
// the first error short-circuits the phase and routes to the error phase.
func (pl *Pipeline) On(phase Phase, name string, fn HookFunc) *Pipeline {
	pl.hooks[phase] = append(pl.hooks[phase], namedHook{name: name, fn: fn})
	return pl
}

// HandlerName sets the display name of the handle span. Defaults to
// "handle".
func (pl *Pipeline) HandlerName(name string) *Pipeline {
	pl.handlerName = name
	return pl
}

// ServeHTTP drives one request through the lifecycle: the pre-handle
// phases, the handler, the post-handle phases, response write, and
// finally afterResponse, which closes the root span. Tracing is a side
// channel throughout; no tracing state changes the response the caller
// receives.
func (pl *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	info := RequestInfoFromHTTP(r)
	info.Route = pl.route

	if r.Body != nil {
		if b, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes)); err == nil && len(b) > 0 {
			info.Body = b
		}
	}

	tr := pl.plugin.StartRequest(info)
	ctx := ContextWithTrace(r.Context(), tr)

	var res *ResponseInfo
	var failed error

	for _, phase := range genericPhases {
		if failed = pl.runPhase(ctx, tr, phase, info, nil); failed != nil {
			break
		}
	}

	if failed == nil {
		h := tr.StartHandle(pl.handlerName)
		res, failed = pl.invokeHandler(ctx, info)
		h.End(failed)
	}

	if failed == nil {
		for _, phase := range []Phase{PhaseAfterHandle, PhaseMapResponse} {
			if failed = pl.runPhase(ctx, tr, phase, info, res); failed != nil {
				break
			}
		}
	}

	if failed != nil {
		// The error phase still sees the failed state; its own errors
		// cannot displace the original failure.
		_ = pl.runPhase(ctx, tr, PhaseError, info, res)
		if res == nil {
			res = &ResponseInfo{
				Status: http.StatusInternalServerError,
				Body:   failed.Error(),
			}
		}
	}
	if res == nil {
		res = &ResponseInfo{Status: http.StatusNoContent}
	}

	// A client gone mid-flight gets no response write; force-close the
	// trace instead of leaving its spans open.
	if r.Context().Err() != nil {
		tr.Abort()
		return
	}

	pl.writeResponse(w, res)

	_ = pl.runPhase(ctx, tr, PhaseAfterResponse, info, res)
	tr.Finish(res)
}

// runPhase drives one generic phase through the inspect path: no hooks,
// no span; otherwise one phase span with one sub-event span per hook.
func (pl *Pipeline) runPhase(ctx context.Context, tr *Trace, phase Phase, info *RequestInfo, res *ResponseInfo) error {
	hooks := pl.hooks[phase]
	names := make([]string, len(hooks))
	for i, h := range hooks {
		names[i] = h.name
	}

	ph := tr.EnterPhase(phase, names)
	var firstErr error
	for _, h := range hooks {
		ev := ph.StartEvent(h.name)
		err := pl.invokeHook(ctx, h.fn, info, res)
		ev.End(err)
		if err != nil {
			firstErr = err
			break
		}
	}
	ph.End()
	return firstErr
}

func (pl *Pipeline) invokeHook(ctx context.Context, fn HookFunc, info *RequestInfo, res *ResponseInfo) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError(r)
		}
	}()
	return fn(ctx, info, res)
}

func (pl *Pipeline) invokeHandler(ctx context.Context, info *RequestInfo) (res *ResponseInfo, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError(r)
		}
	}()
	if pl.handler == nil {
		return nil, fmt.Errorf("pipeline for %q has no handler", pl.route)
	}
	return pl.handler(ctx, info)
}

func (pl *Pipeline) writeResponse(w http.ResponseWriter, res *ResponseInfo) {
	for name, values := range res.Header {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}

	body, contentType := renderBody(pl.plugin.bodySerializer(), res.Body)
	if contentType != "" && w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", contentType)
	}
	w.WriteHeader(resolveStatus(res.Status))
	if len(body) > 0 {
		_, _ = w.Write(body)
	}
}

// renderBody produces the wire form of a response body alongside the
// content type implied by its shape.
func renderBody(serialize BodySerializer, body any) ([]byte, string) {
	switch v := body.(type) {
	case nil:
		return nil, ""
	case []byte:
		return v, "application/octet-stream"
	case string:
		return []byte(v), "text/plain; charset=utf-8"
	default:
		b, err := serialize(v)
		if err != nil {
			return nil, ""
		}
		return b, "application/json"
	}
}

// bodySerializer resolves the serialization policy with a nil-plugin
// fallback so untraced pipelines still render structured bodies.
func (p *Plugin) bodySerializer() BodySerializer {
	if p == nil || p.serializer == nil {
		return defaultBodySerializer
	}
	return p.serializer
}
