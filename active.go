package otelpipe

import (
	"fmt"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Awaitable marks a result whose work keeps running after the producing
// call returns. When work handed to the active-span wrapper returns an
// Awaitable, the span stays open for the full asynchronous duration and
// is ended once Await returns nil.
//
// Await must tolerate concurrent callers: the wrapper awaits completion
// on its own goroutine while the original value travels back to the
// caller. A done-channel implementation satisfies this naturally.
//
// An Await error is not handled at this layer; it propagates to whoever
// else is awaiting, and the span is ended on the success path only.
type Awaitable interface {
	Await() error
}

// runEnding executes work against an already-started span and guarantees
// the span is ended on every exit path:
//
//   - normal synchronous return: end, then pass the result through.
//   - Awaitable result: keep the span open until the work resolves.
//   - error return or panic: record the exception, set error status, end,
//     then propagate the original error or panic value unchanged.
//
// If the span has already stopped recording when a failure arrives, the
// failure propagates without touching the ended span.
func runEnding[T any](span trace.Span, work func(trace.Span) (T, error)) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			failSpan(span, panicError(r))
			panic(r)
		}
	}()

	result, err = work(span)
	if err != nil {
		failSpan(span, err)
		return result, err
	}

	if waiter, ok := any(result).(Awaitable); ok && waiter != nil {
		go func() {
			// A misbehaving Await must not take the process down; the
			// worst outcome is a span left open.
			defer func() { _ = recover() }()
			if waitErr := waiter.Await(); waitErr == nil {
				endIfRecording(span)
			}
		}()
		return result, nil
	}

	endIfRecording(span)
	return result, nil
}

// failSpan records err on span and closes it, unless the span already
// ended. The recording check is the double-end guard: an ended span is
// never mutated.
func failSpan(span trace.Span, err error) {
	if span == nil || !span.IsRecording() {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.End()
}

func endIfRecording(span trace.Span) {
	if span != nil && span.IsRecording() {
		span.End()
	}
}

// panicError shapes an arbitrary panic value into an error for exception
// recording. An error panic value is kept as-is.
func panicError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return fmt.Errorf("panic: %v", r)
}
