package otelpipe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/trace"
)

// parentCursor tracks which span new children of one request should
// attach to. It starts at the root span and is reassigned to the most
// recently created sub-event or handle span as the request advances, so
// later work nests under the most specific in-flight operation.
//
// Exclusively owned by a single request's Trace; never shared across
// requests. The mutex only covers handler code that spawns goroutines
// of its own.
type parentCursor struct {
	mu  sync.Mutex
	cur trace.Span
}

func (c *parentCursor) set(span trace.Span) {
	c.mu.Lock()
	c.cur = span
	c.mu.Unlock()
}

func (c *parentCursor) span() trace.Span {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur
}

// context returns a context whose active span is the cursor's current
// value, detached from any request deadline or cancellation. This is the
// carrier handed to span creation when an explicit parent is wanted: it
// satisfies the single "what do I parent under" call site without
// pushing onto any real context stack.
func (c *parentCursor) context() context.Context {
	return trace.ContextWithSpan(context.Background(), c.span())
}
