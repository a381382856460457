package otelpipe

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

// Tracing is a best-effort side channel: with no plugin at all, every
// pipeline and request-scoped call must behave identically from the
// caller's point of view.

func TestUntracedPipelineServesIdentically(t *testing.T) {
	plugin, _ := newTestPlugin(t)

	handler := okHandler(map[string]int{"a": 1})
	hook := func(ctx context.Context, req *RequestInfo, res *ResponseInfo) error {
		return nil
	}

	traced := NewPipeline(plugin, "/users/{id}", handler)
	traced.On(PhaseBeforeHandle, "auth", hook)
	untraced := NewPipeline(nil, "/users/{id}", handler)
	untraced.On(PhaseBeforeHandle, "auth", hook)

	run := func(pipe *Pipeline) (int, string, string) {
		w := httptest.NewRecorder()
		pipe.ServeHTTP(w, httptest.NewRequest("GET", "http://localhost/users/42", nil))
		resp := w.Result()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, string(body), resp.Header.Get("Content-Type")
	}

	tStatus, tBody, tType := run(traced)
	uStatus, uBody, uType := run(untraced)

	assert.Equal(t, tStatus, uStatus)
	assert.Equal(t, tBody, uBody)
	assert.Equal(t, tType, uType)
}

func TestUntracedPipelineErrorsIdentically(t *testing.T) {
	pipe := NewPipeline(nil, "/broken", func(ctx context.Context, req *RequestInfo) (*ResponseInfo, error) {
		return nil, errors.New("boom")
	})

	w := httptest.NewRecorder()
	require.NotPanics(t, func() {
		pipe.ServeHTTP(w, httptest.NewRequest("GET", "http://localhost/broken", nil))
	})
	assert.Equal(t, 500, w.Result().StatusCode)
}

func TestUntracedHooksStillRun(t *testing.T) {
	ran := false
	pipe := NewPipeline(nil, "/side", okHandler("ok"))
	pipe.On(PhaseParse, "observe", func(ctx context.Context, req *RequestInfo, res *ResponseInfo) error {
		ran = true
		return nil
	})

	pipe.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "http://localhost/side", nil))
	assert.True(t, ran)
}

func TestProcessWideAPIWithoutActiveSpan(t *testing.T) {
	ctx := context.Background()

	assert.NotPanics(t, func() {
		SetAttributes(ctx)
		_ = GetCurrentSpan(ctx)
	})

	result, err := StartActiveSpan(ctx, "standalone", func(ctx context.Context, span trace.Span) (string, error) {
		return "done", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "done", result)

	result, err = Record(ctx, "aliased", func(ctx context.Context, span trace.Span) (string, error) {
		return "done", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "done", result)
}
