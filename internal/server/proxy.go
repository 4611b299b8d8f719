package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	warden "github.com/eugener/warden/internal"
	"github.com/eugener/warden/internal/provider"
	"github.com/eugener/warden/internal/respond"
)

const defaultCacheTTL = 5 * time.Minute

func (s *server) handleChatCompletion(w http.ResponseWriter, r *http.Request) {
	var req warden.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body: "+err.Error()))
		return
	}

	prov, err := s.deps.Providers.First()
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse("no upstream providers configured"))
		return
	}

	if req.Stream {
		s.handleChatCompletionStream(w, r, &req, prov)
		return
	}

	var key string
	if s.deps.Cache != nil && isCacheable(&req) {
		key = cacheKey(&req)
		if data, ok := s.deps.Cache.Get(r.Context(), key); ok {
			if m := s.deps.Metrics; m != nil {
				m.CacheHits.Inc()
			}
			w.Header()["Content-Type"] = jsonCT
			w.WriteHeader(http.StatusOK)
			w.Write(data)
			return
		}
		if m := s.deps.Metrics; m != nil {
			m.CacheMisses.Inc()
		}
	}

	start := time.Now()
	resp, err := prov.ChatCompletion(r.Context(), &req)
	if m := s.deps.Metrics; m != nil {
		m.UpstreamDuration.WithLabelValues(prov.Name(), req.Model).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		status := errorStatus(err)
		if m := s.deps.Metrics; m != nil {
			m.UpstreamErrors.WithLabelValues(prov.Name(), statusText[status]).Inc()
		}
		writeJSON(w, status, errorResponse(err.Error()))
		return
	}

	if key != "" {
		if data, err := json.Marshal(resp); err == nil {
			s.deps.Cache.Set(r.Context(), key, data, defaultCacheTTL)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// streamAudit accumulates the observable outcome of one guarded stream. Its
// fields are atomics because the end-callback that snapshots them can fire
// from a termination trigger goroutine, not just the handler goroutine.
type streamAudit struct {
	start     time.Time
	requestID string
	model     string
	provider  string

	events      atomic.Int64
	bytes       atomic.Int64
	headersSent atomic.Bool
	completed   atomic.Bool
	reason      atomic.Pointer[string]
}

// setReason records the first announced termination reason. Returns true when
// this call won the race and its caller should drive the termination.
func (a *streamAudit) setReason(reason string) bool {
	return a.reason.CompareAndSwap(nil, &reason)
}

func (a *streamAudit) snapshot() warden.StreamRecord {
	reason := ""
	if p := a.reason.Load(); p != nil {
		reason = *p
	} else if !a.completed.Load() {
		// Disconnect and timeout triggers announce themselves before
		// terminating; an unannounced abnormal end is the error boundary.
		reason = respond.ReasonErrorBoundary
	}
	return warden.StreamRecord{
		RequestID:         a.requestID,
		Model:             a.model,
		Provider:          a.provider,
		EventsSent:        int(a.events.Load()),
		BytesSent:         a.bytes.Load(),
		HeadersSent:       a.headersSent.Load(),
		Completed:         a.completed.Load(),
		TerminationReason: reason,
		DurationMs:        time.Since(a.start).Milliseconds(),
		CreatedAt:         time.Now().UTC(),
	}
}

// handleChatCompletionStream handles SSE streaming chat completion requests.
// All response writes go through a lifecycle guard so that the normal
// completion path, the error boundary, the client-disconnect listener, and
// the stream-duration cap can race without a duplicate header or end write
// ever reaching the wire.
func (s *server) handleChatCompletionStream(w http.ResponseWriter, r *http.Request, req *warden.ChatRequest, prov warden.Provider) {
	// streamCtx governs both the upstream read and the pump loop; canceling
	// it is how a trigger unblocks the handler goroutine.
	streamCtx, cancelStream := context.WithCancel(r.Context())
	defer cancelStream()

	ch, err := prov.ChatCompletionStream(streamCtx, req)
	if err != nil {
		writeJSON(w, errorStatus(err), errorResponse(err.Error()))
		return
	}

	requestID := warden.RequestIDFromContext(r.Context())
	mgr := respond.NewManager(respond.NewHTTPTransport(w), s.log)
	state := respond.NewState(mgr, s.log, requestID)
	if s.observer != nil {
		state.SetObserver(s.observer)
	}

	audit := &streamAudit{
		start:     time.Now(),
		requestID: requestID,
		model:     req.Model,
		provider:  prov.Name(),
	}
	if s.deps.Recorder != nil {
		// Runs exactly once when the terminal write is intercepted, on
		// whichever goroutine drives the end. Reads only audit atomics.
		mgr.OnEnd(func() error {
			s.deps.Recorder.Record(audit.snapshot())
			return nil
		})
	}

	if m := s.deps.Metrics; m != nil {
		m.ActiveStreams.Inc()
		defer m.ActiveStreams.Dec()
	}

	// Termination triggers run on a detached context: the request context is
	// already canceled when the disconnect trigger fires.
	termCtx := context.WithoutCancel(r.Context())

	if d := s.deps.MaxStreamDuration; d > 0 {
		timer := time.AfterFunc(d, func() {
			if audit.setReason(respond.ReasonTimeout) {
				state.CoordinatedTermination(termCtx, respond.ReasonTimeout)
			}
			cancelStream()
		})
		defer timer.Stop()
	}

	state.MarkStreamingStarted()
	respond.WithStreamingErrorBoundary(streamCtx, state, func(st *respond.State) error {
		return s.pumpStream(streamCtx, st, ch, audit)
	}, func(error) {
		audit.setReason(respond.ReasonErrorBoundary)
	})
}

// pumpStream commits the SSE header block and forwards upstream chunks until
// the stream completes, fails, or a trigger claims the response.
func (s *server) pumpStream(ctx context.Context, st *respond.State, ch <-chan warden.StreamChunk, audit *streamAudit) error {
	if !st.SafeWriteHeaders(http.StatusOK, sseStreamHeaders) {
		// A trigger already claimed the response before the first byte.
		return nil
	}
	audit.headersSent.Store(true)

	sse := respond.NewSSEWriter(st)

	var keepAliveC <-chan time.Time
	if s.deps.KeepAliveInterval > 0 {
		keepAlive := time.NewTicker(s.deps.KeepAliveInterval)
		defer keepAlive.Stop()
		keepAliveC = keepAlive.C
	}

	for {
		select {
		case chunk, ok := <-ch:
			if !ok {
				return finishStream(st, sse, audit)
			}
			if chunk.Err != nil {
				audit.setReason(respond.ReasonErrorBoundary)
				return chunk.Err
			}
			if chunk.Done {
				return finishStream(st, sse, audit)
			}
			if sse.WriteData(chunk.Data, "") {
				audit.events.Add(1)
				audit.bytes.Add(int64(len(chunk.Data)))
				if m := s.deps.Metrics; m != nil {
					m.StreamEvents.Inc()
				}
			}

		case <-keepAliveC:
			sse.WriteKeepAlive()

		case <-ctx.Done():
			// Either the client went away, the process is shutting down, or a
			// trigger canceled the stream context after terminating. Only the
			// first two still need driving.
			reason := respond.ReasonClientDisconnect
			if errors.Is(context.Cause(ctx), ErrShuttingDown) {
				reason = respond.ReasonShutdown
			}
			if audit.setReason(reason) {
				st.CoordinatedTermination(context.WithoutCancel(ctx), reason)
			}
			return nil
		}
	}
}

// finishStream performs the normal-completion terminal sequence: sentinel,
// completion flag, then the guarded end. The completed flag flips before the
// end so the audit callback observes it.
func finishStream(st *respond.State, sse *respond.SSEWriter, audit *streamAudit) error {
	sse.WriteDone()
	st.MarkStreamingCompleted()
	audit.completed.Store(true)
	st.SafeEnd(nil)
	return nil
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func errorResponse(msg string) apiError {
	var e apiError
	e.Error.Message = msg
	e.Error.Type = "invalid_request_error"
	return e
}

func errorStatus(err error) int {
	var apiErr *provider.APIError
	switch {
	case errors.As(err, &apiErr):
		return apiErr.StatusCode
	case errors.Is(err, provider.ErrCircuitOpen):
		return http.StatusServiceUnavailable
	case errors.Is(err, warden.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, warden.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// jsonCT is a pre-allocated header value slice. Direct map assignment
// (w.Header()["Content-Type"] = jsonCT) avoids the []string{v} alloc
// that Header.Set creates on every call. Saves 1 alloc/req.
var jsonCT = []string{"application/json"}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
