package respond

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
)

// Pre-allocated byte slices for SSE framing. These avoid heap allocations
// on every write in the streaming hot path.
var (
	sseEventPrefix = []byte("event: ")
	sseDataPrefix  = []byte("data: ")
	sseLF          = []byte("\n")
	sseFrameEnd    = []byte("\n\n")
	sseDone        = []byte("data: [DONE]\n\n")
	sseKeepAlive   = []byte(": keep-alive\n\n")
)

// SSEWriter formats Server-Sent-Event frames and emits them through a State.
// It holds no state of its own beyond the State reference: once the stream
// has ended every method returns false instead of failing.
type SSEWriter struct {
	state *State
}

// NewSSEWriter returns a writer emitting through s.
func NewSSEWriter(s *State) *SSEWriter {
	return &SSEWriter{state: s}
}

// WriteEvent serializes payload to JSON and writes one SSE frame, prefixed
// with an "event:" line when eventType is non-empty. Returns false when the
// stream is closed or serialization fails; it never propagates an error.
func (w *SSEWriter) WriteEvent(payload any, eventType string) bool {
	if !w.state.CanWrite() {
		return false
	}
	data, err := json.Marshal(payload)
	if err != nil {
		w.state.log.LogAttrs(context.Background(), slog.LevelError, "sse payload marshal failed",
			slog.String("request_id", w.state.requestID),
			slog.String("error", err.Error()),
		)
		return false
	}
	return w.WriteData(data, eventType)
}

// WriteData writes one SSE frame around an already-serialized payload. The
// frame is assembled into a single buffer so it reaches the transport as one
// guarded write and cannot interleave with a concurrent termination.
func (w *SSEWriter) WriteData(data []byte, eventType string) bool {
	size := len(sseDataPrefix) + len(data) + len(sseFrameEnd)
	if eventType != "" {
		size += len(sseEventPrefix) + len(eventType) + len(sseLF)
	}
	buf := bytes.NewBuffer(make([]byte, 0, size))
	if eventType != "" {
		buf.Write(sseEventPrefix)
		buf.WriteString(eventType)
		buf.Write(sseLF)
	}
	buf.Write(sseDataPrefix)
	buf.Write(data)
	buf.Write(sseFrameEnd)
	return w.state.SafeWrite(buf.Bytes())
}

// WriteDone writes the stream termination sentinel "data: [DONE]\n\n".
func (w *SSEWriter) WriteDone() bool {
	return w.state.SafeWrite(sseDone)
}

// WriteKeepAlive writes an SSE comment frame to keep the connection alive.
func (w *SSEWriter) WriteKeepAlive() bool {
	return w.state.SafeWrite(sseKeepAlive)
}
