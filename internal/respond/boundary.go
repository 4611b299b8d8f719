package respond

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
)

// Handler is a streaming request handler executed under the error boundary.
type Handler func(*State) error

// WithStreamingErrorBoundary runs handler against state and guarantees the
// transport is left in a terminal state whatever happens. On handler failure
// (returned error or panic) it logs the fault, drives coordinated
// termination, attempts a best-effort structured 500 payload if headers are
// somehow still writable, invokes onError if supplied, destroys the state,
// and returns the original error to the caller. The original fault is never
// silently absorbed; guard-internal failures along the way are logged only.
func WithStreamingErrorBoundary(ctx context.Context, state *State, handler Handler, onError func(error)) error {
	err := runHandler(state, handler)
	if err == nil {
		return nil
	}

	state.log.LogAttrs(ctx, slog.LevelError, "streaming handler failed",
		slog.String("request_id", state.requestID),
		slog.String("error", err.Error()),
	)

	state.CoordinatedTermination(ctx, ReasonErrorBoundary)

	// Termination normally ends the response; the 500 payload goes out only
	// when it could not (headers never committed and the end was skipped).
	if state.CanWriteHeaders() {
		sendErrorPayload(state, err)
	}

	if onError != nil {
		invokeOnError(state, onError, err)
	}

	state.Destroy()
	return err
}

func runHandler(state *State, handler Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			state.log.LogAttrs(context.Background(), slog.LevelError, "streaming handler panic",
				slog.String("request_id", state.requestID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(state)
}

// sendErrorPayload best-effort writes a structured 500. Failures here are
// already logged by the safe accessors and must not mask the original error.
func sendErrorPayload(state *State, cause error) {
	var payload struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    string `json:"code"`
		} `json:"error"`
	}
	payload.Error.Message = cause.Error()
	payload.Error.Type = "api_error"
	payload.Error.Code = "internal_error"

	body, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if !state.SafeWriteHeaders(500, map[string]string{"Content-Type": "application/json"}) {
		return
	}
	state.SafeEnd(body)
}

func invokeOnError(state *State, onError func(error), cause error) {
	defer func() {
		if r := recover(); r != nil {
			state.log.LogAttrs(context.Background(), slog.LevelWarn, "onError hook panic",
				slog.String("request_id", state.requestID),
				slog.Any("panic", r),
			)
		}
	}()
	onError(cause)
}
