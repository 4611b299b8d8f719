// Package respond implements the per-request response-lifecycle guard.
//
// All header, body, and terminal writes on an outbound response are funneled
// through safe accessors that enforce monotonic state transitions, so that
// duplicate or late writes are rejected locally instead of crashing the
// request. Coordinated termination is single-flight: any number of
// concurrent triggers (completion, error, disconnect, timeout) share one
// termination episode and exactly one terminal write reaches the transport.
package respond

import (
	"errors"
	"net/http"
	"time"
)

// Transport is the minimal response-sink capability set the guard wraps.
// Implementations are not required to be safe for concurrent use; the guard
// serializes all access.
type Transport interface {
	// WriteHeaders commits the status code and headers.
	WriteHeaders(status int, headers map[string]string) error
	// Write forwards a body chunk and flushes it to the peer.
	Write(p []byte) error
	// End performs the terminal write. p may be nil for an empty terminal write.
	End(p []byte) error
	// HeadersSent reports whether headers have been committed.
	HeadersSent() bool
	// WritableEnded reports whether the terminal write has occurred.
	WritableEnded() bool
}

// ConnCloser is an optional Transport extension for force-closing the
// underlying connection. Used by State.Destroy as a last resort.
type ConnCloser interface {
	CloseConnection() error
}

// HTTPTransport adapts an http.ResponseWriter to the Transport contract.
// It tracks header/end state itself since net/http does not expose it.
type HTTPTransport struct {
	w           http.ResponseWriter
	rc          *http.ResponseController
	headersSent bool
	ended       bool
}

var (
	_ Transport  = (*HTTPTransport)(nil)
	_ ConnCloser = (*HTTPTransport)(nil)
)

// NewHTTPTransport wraps w. Handler code receives the guard built on this
// adapter instead of the raw ResponseWriter.
func NewHTTPTransport(w http.ResponseWriter) *HTTPTransport {
	return &HTTPTransport{w: w, rc: http.NewResponseController(w)}
}

// WriteHeaders commits status and headers and flushes so the peer observes
// them immediately (SSE clients need the committed header block to start
// reading events).
func (t *HTTPTransport) WriteHeaders(status int, headers map[string]string) error {
	h := t.w.Header()
	for k, v := range headers {
		h.Set(k, v)
	}
	t.w.WriteHeader(status)
	t.headersSent = true
	return t.flush()
}

// Write forwards a chunk and flushes it.
func (t *HTTPTransport) Write(p []byte) error {
	t.headersSent = true // net/http commits headers on first body write
	if _, err := t.w.Write(p); err != nil {
		return err
	}
	return t.flush()
}

// End performs the terminal write. The response itself completes when the
// handler returns; End records that no further writes may follow.
func (t *HTTPTransport) End(p []byte) error {
	t.ended = true
	if len(p) > 0 {
		t.headersSent = true
		if _, err := t.w.Write(p); err != nil {
			return err
		}
	}
	return t.flush()
}

// HeadersSent reports whether headers have been committed.
func (t *HTTPTransport) HeadersSent() bool { return t.headersSent }

// WritableEnded reports whether End has been called.
func (t *HTTPTransport) WritableEnded() bool { return t.ended }

// CloseConnection force-closes the underlying connection. HTTP/1 connections
// are hijacked and closed; where hijacking is unsupported (HTTP/2, test
// recorders) the write deadline is moved into the past so any further write
// fails immediately.
func (t *HTTPTransport) CloseConnection() error {
	t.ended = true
	conn, _, err := t.rc.Hijack()
	if err == nil {
		return conn.Close()
	}
	if !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return t.rc.SetWriteDeadline(time.Now())
}

func (t *HTTPTransport) flush() error {
	if err := t.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}
