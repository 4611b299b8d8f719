package respond

import (
	"context"
	"log/slog"
	"sync"
)

// Termination reasons used by the built-in trigger sources. Callers may pass
// any reason string; only the first reason of an episode is recorded.
const (
	ReasonErrorBoundary    = "error_boundary"
	ReasonClientDisconnect = "client_disconnect"
	ReasonTimeout          = "timeout"
	ReasonShutdown         = "shutdown"
)

// State is the per-request lifecycle guard. It owns the monotonic response
// flags and the single-flight termination lock, and funnels every transport
// mutation through its safe accessors. One State exists per request; it is
// safe for concurrent use by the handler, the timeout trigger, the
// disconnect listener, and the error boundary.
type State struct {
	mu  sync.Mutex
	t   Transport
	log *slog.Logger
	obs Observer

	requestID string

	// All flags are monotonic false->true and never reset.
	headersSent        bool
	ended              bool
	destroyed          bool
	streaming          bool
	streamingCompleted bool

	terminating bool
	termReason  string
	termDone    chan struct{} // one-shot completion signal shared by waiters
}

// NewState creates a guard over t. logger is the injected sink for guard
// diagnostics (nil falls back to slog.Default). requestID tags every log line.
func NewState(t Transport, logger *slog.Logger, requestID string) *State {
	if logger == nil {
		logger = slog.Default()
	}
	return &State{t: t, log: logger, obs: nopObserver{}, requestID: requestID}
}

// SetObserver installs a metrics observer. Must be called before the State
// is shared across goroutines.
func (s *State) SetObserver(o Observer) {
	if o != nil {
		s.obs = o
	}
}

// RequestID returns the request identifier this guard is tagged with.
func (s *State) RequestID() string { return s.requestID }

// CanWriteHeaders reports whether a header write would be forwarded.
func (s *State) CanWriteHeaders() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.headersSent && !s.ended && !s.destroyed
}

// CanWrite reports whether a body or terminal write would be forwarded.
func (s *State) CanWrite() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.ended && !s.destroyed
}

// SafeWriteHeaders commits status and headers if they have not been sent and
// the response is still open. Returns false (never an error) when the write
// is rejected or the transport fails; transport failures are logged.
func (s *State) SafeWriteHeaders(status int, headers map[string]string) bool {
	s.mu.Lock()
	if s.headersSent || s.ended || s.destroyed {
		s.mu.Unlock()
		s.log.LogAttrs(context.Background(), slog.LevelWarn, "header write rejected",
			slog.String("request_id", s.requestID),
			slog.Int("status", status),
		)
		s.obs.GuardReject(RejectDuplicateHeaders)
		return false
	}
	// The flag flips before the transport call: even a failed attempt has
	// consumed the one header-write slot.
	s.headersSent = true
	err := s.t.WriteHeaders(status, headers)
	s.mu.Unlock()
	if err != nil {
		s.log.LogAttrs(context.Background(), slog.LevelError, "header write failed",
			slog.String("request_id", s.requestID),
			slog.Int("status", status),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}

// SafeWrite forwards a body chunk if the response is still open. A rejected
// write is expected during shutdown races and is logged at debug only.
func (s *State) SafeWrite(p []byte) bool {
	s.mu.Lock()
	if s.ended || s.destroyed {
		s.mu.Unlock()
		s.log.LogAttrs(context.Background(), slog.LevelDebug, "write after close dropped",
			slog.String("request_id", s.requestID),
			slog.Int("size", len(p)),
		)
		s.obs.GuardReject(RejectWriteAfterEnd)
		return false
	}
	err := s.t.Write(p)
	s.mu.Unlock()
	if err != nil {
		s.log.LogAttrs(context.Background(), slog.LevelWarn, "chunk write failed",
			slog.String("request_id", s.requestID),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}

// SafeEnd performs the terminal write if the response is still open. The
// ended flag flips exactly once; later calls return false without touching
// the transport.
func (s *State) SafeEnd(p []byte) bool {
	s.mu.Lock()
	if s.ended || s.destroyed {
		s.mu.Unlock()
		s.log.LogAttrs(context.Background(), slog.LevelDebug, "duplicate end dropped",
			slog.String("request_id", s.requestID),
		)
		s.obs.GuardReject(RejectDuplicateEnd)
		return false
	}
	s.ended = true
	if s.streaming {
		s.streamingCompleted = true
	}
	err := s.t.End(p)
	s.mu.Unlock()
	if err != nil {
		s.log.LogAttrs(context.Background(), slog.LevelWarn, "terminal write failed",
			slog.String("request_id", s.requestID),
			slog.String("error", err.Error()),
		)
	}
	return true
}

// MarkStreamingStarted flags that an SSE session is active. Idempotent.
func (s *State) MarkStreamingStarted() {
	s.mu.Lock()
	s.streaming = true
	s.mu.Unlock()
}

// MarkStreamingCompleted flags that the SSE session finished. Idempotent.
func (s *State) MarkStreamingCompleted() {
	s.mu.Lock()
	s.streamingCompleted = true
	s.mu.Unlock()
}

// CanTerminate reports whether a termination attempt would start a new
// episode. Advisory only; CoordinatedTermination is always safe to call.
func (s *State) CanTerminate() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.terminating && !s.destroyed
}

// CoordinatedTermination ends the response on behalf of any trigger source.
// It is single-flight: if an episode is already in progress the call joins
// it and returns when that episode completes, regardless of the reason
// passed. Otherwise it starts an episode, records the reason (first writer
// wins), performs the terminal write if the response has not already ended,
// and releases all waiters. Internal failures are logged, never returned;
// the episode always completes so waiters cannot deadlock.
func (s *State) CoordinatedTermination(ctx context.Context, reason string) {
	s.mu.Lock()
	if s.terminating {
		done := s.termDone
		existing := s.termReason
		s.mu.Unlock()
		s.log.LogAttrs(ctx, slog.LevelDebug, "joining in-flight termination",
			slog.String("request_id", s.requestID),
			slog.String("reason", reason),
			slog.String("in_flight_reason", existing),
		)
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	s.terminating = true
	s.termReason = reason
	done := make(chan struct{})
	s.termDone = done
	s.mu.Unlock()

	s.obs.Termination(reason)
	s.log.LogAttrs(ctx, slog.LevelInfo, "terminating response",
		slog.String("request_id", s.requestID),
		slog.String("reason", reason),
	)

	s.performTermination(ctx, reason)

	s.mu.Lock()
	s.terminating = false
	s.mu.Unlock()
	close(done)
}

// performTermination does the actual close. Racing a normal completion is
// not an error: when the response already ended the terminal write is
// skipped and only logged.
func (s *State) performTermination(ctx context.Context, reason string) {
	s.mu.Lock()
	if s.ended || s.destroyed {
		s.mu.Unlock()
		s.log.LogAttrs(ctx, slog.LevelDebug, "response already ended, skipping terminal write",
			slog.String("request_id", s.requestID),
			slog.String("reason", reason),
		)
		return
	}
	s.ended = true
	if s.streaming {
		s.streamingCompleted = true
	}
	err := s.t.End(nil)
	s.mu.Unlock()
	if err != nil {
		s.log.LogAttrs(ctx, slog.LevelWarn, "termination terminal write failed",
			slog.String("request_id", s.requestID),
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)
	}
}

// Destroy marks the response dead and best-effort closes the underlying
// connection. Idempotent, never fails; the second call does not attempt a
// second connection close.
func (s *State) Destroy() {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		s.log.LogAttrs(context.Background(), slog.LevelDebug, "already destroyed",
			slog.String("request_id", s.requestID),
		)
		return
	}
	s.destroyed = true
	s.ended = true
	if s.streaming {
		s.streamingCompleted = true
	}
	t := s.t
	s.mu.Unlock()

	if c, ok := t.(ConnCloser); ok {
		if err := c.CloseConnection(); err != nil {
			s.log.LogAttrs(context.Background(), slog.LevelDebug, "connection close failed",
				slog.String("request_id", s.requestID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Snapshot is a read-only view of the lifecycle flags.
type Snapshot struct {
	HeadersSent        bool
	Ended              bool
	Destroyed          bool
	Streaming          bool
	StreamingCompleted bool
}

// Snapshot returns the current lifecycle flags for logging and auditing.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		HeadersSent:        s.headersSent,
		Ended:              s.ended,
		Destroyed:          s.destroyed,
		Streaming:          s.streaming,
		StreamingCompleted: s.streamingCompleted,
	}
}

// TerminationSnapshot is a read-only view of the termination lock.
type TerminationSnapshot struct {
	InProgress bool
	Reason     string // reason of the current or most recent episode
}

// TerminationState returns the current termination lock state.
func (s *State) TerminationState() TerminationSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return TerminationSnapshot{InProgress: s.terminating, Reason: s.termReason}
}
