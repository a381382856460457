package integration

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otelpipe/otelpipe"
)

// newServer starts a test HTTP server around a pipeline and tears it
// down with the test.
func newServer(t *testing.T, pipe *otelpipe.Pipeline) string {
	t.Helper()
	server := httptest.NewServer(pipe)
	t.Cleanup(server.Close)
	return server.URL
}

// TestInboundTraceparentLinksDistributedTrace verifies a request carrying
// W3C trace context joins the caller's trace, while a bare request gets
// an independent one.
func TestInboundTraceparentLinksDistributedTrace(t *testing.T) {
	plugin, recorder := newRecordedPlugin(t)

	pipe := otelpipe.NewPipeline(plugin, "/downstream", func(ctx context.Context, req *otelpipe.RequestInfo) (*otelpipe.ResponseInfo, error) {
		return &otelpipe.ResponseInfo{Status: 200}, nil
	})
	server := newServer(t, pipe)

	const upstreamTrace = "af7651916cd43dd8448eb211c80319c3"
	req, err := http.NewRequest("GET", server+"/downstream", nil)
	require.NoError(t, err)
	req.Header.Set("traceparent", "00-"+upstreamTrace+"-b7ad6b7169203331-01")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Get(server + "/downstream")
	require.NoError(t, err)
	resp.Body.Close()

	var linked, fresh int
	for _, span := range recorder.Ended() {
		if span.Name() != "GET /downstream" {
			continue
		}
		if span.SpanContext().TraceID().String() == upstreamTrace {
			linked++
		} else {
			fresh++
		}
	}
	assert.Equal(t, 1, linked, "the traceparent request joins the upstream trace")
	assert.Equal(t, 1, fresh, "the bare request starts its own trace")
}

// TestRootSpanParentIsRemote verifies the linked root records the
// upstream span as a remote parent rather than re-rooting the trace.
func TestRootSpanParentIsRemote(t *testing.T) {
	plugin, recorder := newRecordedPlugin(t)

	pipe := otelpipe.NewPipeline(plugin, "/remote", func(ctx context.Context, req *otelpipe.RequestInfo) (*otelpipe.ResponseInfo, error) {
		return &otelpipe.ResponseInfo{Status: 200}, nil
	})
	server := newServer(t, pipe)

	req, err := http.NewRequest("GET", server+"/remote", nil)
	require.NoError(t, err)
	req.Header.Set("traceparent", "00-af7651916cd43dd8448eb211c80319c3-b7ad6b7169203331-01")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	require.NotEmpty(t, recorder.Ended())
	root := recorder.Ended()[len(recorder.Ended())-1]
	assert.True(t, root.Parent().IsRemote(), "the extracted parent is remote")
	assert.Equal(t, "b7ad6b7169203331", root.Parent().SpanID().String())
}
