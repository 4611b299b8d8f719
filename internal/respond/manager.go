package respond

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrEnded is returned by Manager.OnEnd when the terminal write has already
// fired; late registration is a programming error, not a runtime condition.
var ErrEnded = errors.New("respond: response already ended")

// Manager decorates a Transport so that the terminal write executes at most
// once per instance and registered end-callbacks run exactly once, in
// registration order, strictly after the ended flag is set and strictly
// before the real terminal write is forwarded.
//
// Manager itself satisfies Transport, so it composes with State: the usual
// wiring is State -> Manager -> HTTPTransport. Its ended flag is independent
// of State's; each layer individually prevents double-invocation of the end
// it intercepts.
type Manager struct {
	mu          sync.Mutex
	t           Transport
	log         *slog.Logger
	ended       bool
	headersSent bool
	callbacks   []func() error
}

var _ Transport = (*Manager)(nil)

// NewManager decorates t. logger is the injected diagnostics sink (nil
// falls back to slog.Default).
func NewManager(t Transport, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{t: t, log: logger}
}

// OnEnd registers a callback to run once when the terminal write is
// intercepted. Registration after the terminal write returns ErrEnded.
// Callbacks must not call End on this Manager (re-entrant ends are no-ops)
// and must not call into a State layered above it.
func (m *Manager) OnEnd(fn func() error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ended {
		return ErrEnded
	}
	m.callbacks = append(m.callbacks, fn)
	return nil
}

// WriteHeaders records the header-sent observation and forwards. The
// Manager does not gate header writes; that is State's job.
func (m *Manager) WriteHeaders(status int, headers map[string]string) error {
	m.mu.Lock()
	m.headersSent = true
	m.mu.Unlock()
	return m.t.WriteHeaders(status, headers)
}

// Write forwards a body chunk unchanged.
func (m *Manager) Write(p []byte) error {
	return m.t.Write(p)
}

// End intercepts the terminal write. The first call flips the ended flag
// before any callback runs (a callback that itself ends the response
// re-enters as a no-op), then runs callbacks in order, then forwards to the
// real terminal write. Later calls are logged no-ops.
//
// Callback failure policy: if a callback fails before headers were sent the
// error is returned to the caller and the terminal write is withheld, so an
// upstream error handler can still produce a proper error status (remaining
// callbacks are skipped). After headers are sent a failure is only logged,
// since no clean error response can be produced anymore.
func (m *Manager) End(p []byte) error {
	m.mu.Lock()
	if m.ended {
		m.mu.Unlock()
		m.log.LogAttrs(context.Background(), slog.LevelDebug, "duplicate end intercepted")
		return nil
	}
	m.ended = true
	cbs := m.callbacks
	headersSent := m.headersSent || m.t.HeadersSent()
	m.mu.Unlock()

	for i, cb := range cbs {
		if err := cb(); err != nil {
			if !headersSent {
				return fmt.Errorf("end callback %d: %w", i, err)
			}
			m.log.LogAttrs(context.Background(), slog.LevelWarn, "end callback failed after headers sent",
				slog.Int("callback", i),
				slog.String("error", err.Error()),
			)
		}
	}
	return m.t.End(p)
}

// HeadersSent ORs the Manager's own observation with the transport's
// authoritative flag; other writers may have touched the transport directly.
func (m *Manager) HeadersSent() bool {
	m.mu.Lock()
	own := m.headersSent
	m.mu.Unlock()
	return own || m.t.HeadersSent()
}

// WritableEnded reports whether this Manager or the transport has ended.
func (m *Manager) WritableEnded() bool {
	m.mu.Lock()
	own := m.ended
	m.mu.Unlock()
	return own || m.t.WritableEnded()
}

// HasEnded reports whether the intercepted end has fired on this Manager.
func (m *Manager) HasEnded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ended
}

// CloseConnection forwards to the wrapped transport when it supports it.
func (m *Manager) CloseConnection() error {
	if c, ok := m.t.(ConnCloser); ok {
		return c.CloseConnection()
	}
	return nil
}
