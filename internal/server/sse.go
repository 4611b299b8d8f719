package server

// sseStreamHeaders is the header block committed at the start of an SSE
// stream. Shared and read-only; the transport adapter only iterates it.
var sseStreamHeaders = map[string]string{
	"Content-Type":      "text/event-stream",
	"Cache-Control":     "no-cache",
	"Connection":        "keep-alive",
	"X-Accel-Buffering": "no",
}
