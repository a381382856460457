package otelpipe

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func TestCursorContextCarriesFixedParent(t *testing.T) {
	plugin, _ := newTestPlugin(t)

	_, parent := plugin.Tracer().Start(context.Background(), "parent")
	defer parent.End()

	var c parentCursor
	c.set(parent)

	got := trace.SpanFromContext(c.context())
	assert.Equal(t, parent.SpanContext().SpanID(), got.SpanContext().SpanID(),
		"the carrier always answers with the fixed parent")
}

func TestCursorContextDetachedFromCancellation(t *testing.T) {
	plugin, _ := newTestPlugin(t)

	_, parent := plugin.Tracer().Start(context.Background(), "parent")
	defer parent.End()

	var c parentCursor
	c.set(parent)

	ctx := c.context()
	require.NoError(t, ctx.Err(), "the carrier has no deadline or cancellation of its own")
	select {
	case <-ctx.Done():
		t.Fatal("carrier context must never be done")
	default:
	}
}

func TestCursorReassignment(t *testing.T) {
	plugin, _ := newTestPlugin(t)

	_, a := plugin.Tracer().Start(context.Background(), "a")
	_, b := plugin.Tracer().Start(context.Background(), "b")
	defer a.End()
	defer b.End()

	var c parentCursor
	c.set(a)
	assert.Equal(t, a, c.span())
	c.set(b)
	assert.Equal(t, b, c.span())
}
