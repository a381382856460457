package otelpipe

import (
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// attrSet accumulates the request-scoped attribute map across lifecycle
// phases. Later phases may overwrite earlier keys with the same name;
// last write wins. The map is flushed to the root span in one bulk
// SetAttributes call per mutating phase plus a final call at response
// time.
//
// Safe for concurrent use: handler goroutines may write while a phase
// flushes.
type attrSet struct {
	mu sync.Mutex
	kv map[attribute.Key]attribute.Value
}

func newAttrSet() *attrSet {
	return &attrSet{kv: make(map[attribute.Key]attribute.Value, 16)}
}

// Set records attributes, overwriting any previous value per key.
func (s *attrSet) Set(attrs ...attribute.KeyValue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, kv := range attrs {
		if kv.Key == "" {
			continue
		}
		s.kv[kv.Key] = kv.Value
	}
}

// Flush writes the accumulated map onto span in one bulk call. Ended
// spans are left untouched.
func (s *attrSet) Flush(span trace.Span) {
	if span == nil || !span.IsRecording() {
		return
	}
	span.SetAttributes(s.Snapshot()...)
}

// Snapshot returns a copy of the current map. The returned slice is safe
// to hold without affecting the set.
func (s *attrSet) Snapshot() []attribute.KeyValue {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.kv) == 0 {
		return nil
	}
	out := make([]attribute.KeyValue, 0, len(s.kv))
	for k, v := range s.kv {
		out = append(out, attribute.KeyValue{Key: k, Value: v})
	}
	return out
}

// Len returns the number of accumulated attributes.
func (s *attrSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.kv)
}
