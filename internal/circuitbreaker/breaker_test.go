package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"
)

func testConfig(openTimeout time.Duration) Config {
	return Config{
		ErrorThreshold: 0.5,
		MinSamples:     4,
		WindowSeconds:  60,
		OpenTimeout:    openTimeout,
	}
}

func TestBreakerStaysClosedBelowMinSamples(t *testing.T) {
	t.Parallel()
	b := New(testConfig(time.Minute))

	// Three hard failures, but min samples is four.
	for range 3 {
		b.RecordError(1.0)
	}
	if got := b.State(); got != StateClosed {
		t.Errorf("state = %v, want closed below min samples", got)
	}
	if !b.Allow() {
		t.Error("Allow = false while closed")
	}
}

func TestBreakerOpensOnErrorRate(t *testing.T) {
	t.Parallel()
	b := New(testConfig(time.Minute))

	b.RecordSuccess()
	b.RecordSuccess()
	b.RecordError(1.0)
	if got := b.State(); got != StateClosed {
		t.Fatalf("state = %v, want closed at 1/3 errors", got)
	}
	b.RecordError(1.0)
	if got := b.State(); got != StateOpen {
		t.Errorf("state = %v, want open at 2/4 errors", got)
	}
	if b.Allow() {
		t.Error("Allow = true while open")
	}
}

func TestBreakerHalfOpenSingleProbe(t *testing.T) {
	t.Parallel()
	b := New(testConfig(20 * time.Millisecond))
	for range 4 {
		b.RecordError(1.0)
	}
	if got := b.State(); got != StateOpen {
		t.Fatalf("state = %v, want open", got)
	}

	time.Sleep(25 * time.Millisecond)
	if !b.Allow() {
		t.Fatal("Allow = false after open timeout, want probe admitted")
	}
	if got := b.State(); got != StateHalfOpen {
		t.Errorf("state = %v, want half_open", got)
	}
	if b.Allow() {
		t.Error("second Allow = true with a probe already in flight")
	}

	b.RecordSuccess()
	if got := b.State(); got != StateClosed {
		t.Errorf("state after probe success = %v, want closed", got)
	}
	if !b.Allow() {
		t.Error("Allow = false after breaker closed")
	}
}

func TestBreakerProbeFailureReopens(t *testing.T) {
	t.Parallel()
	b := New(testConfig(20 * time.Millisecond))
	for range 4 {
		b.RecordError(1.0)
	}
	time.Sleep(25 * time.Millisecond)
	if !b.Allow() {
		t.Fatal("probe not admitted")
	}

	b.RecordError(1.0)
	if got := b.State(); got != StateOpen {
		t.Errorf("state after probe failure = %v, want open", got)
	}
	if b.Allow() {
		t.Error("Allow = true immediately after probe failure")
	}
}

func TestBreakerClosesClearWindow(t *testing.T) {
	t.Parallel()
	b := New(testConfig(20 * time.Millisecond))
	for range 4 {
		b.RecordError(1.0)
	}
	time.Sleep(25 * time.Millisecond)
	b.Allow()
	b.RecordSuccess()

	// The window was reset on close: old errors must not re-trip it.
	b.RecordError(1.0)
	if got := b.State(); got != StateClosed {
		t.Errorf("state = %v, want closed after window reset", got)
	}
}

func TestWindowExpiry(t *testing.T) {
	t.Parallel()
	w := newWindow(5)
	base := time.Unix(1_000_000, 0)

	w.record(1.0, base)
	w.record(1.0, base)
	if rate, samples := w.errorRate(base); rate != 1.0 || samples != 2 {
		t.Fatalf("errorRate = (%v, %d), want (1.0, 2)", rate, samples)
	}

	// Six seconds later everything has rotated out.
	later := base.Add(6 * time.Second)
	if rate, samples := w.errorRate(later); rate != 0 || samples != 0 {
		t.Errorf("errorRate after expiry = (%v, %d), want (0, 0)", rate, samples)
	}
}

type statusErr struct{ code int }

func (e *statusErr) Error() string   { return fmt.Sprintf("HTTP %d", e.code) }
func (e *statusErr) HTTPStatus() int { return e.code }

func TestWeight(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want float64
	}{
		{"nil", nil, 0},
		{"bad request", &statusErr{400}, 0},
		{"not found", &statusErr{404}, 0},
		{"rate limited", &statusErr{429}, 0.5},
		{"internal", &statusErr{500}, 1.0},
		{"bad gateway", &statusErr{502}, 1.0},
		{"deadline", context.DeadlineExceeded, 1.5},
		{"wrapped deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), 1.5},
		{"net error", &net.OpError{Op: "dial", Err: errors.New("refused")}, 1.0},
		{"generic", errors.New("boom"), 1.0},
	}
	for _, tt := range tests {
		if got := Weight(tt.err); got != tt.want {
			t.Errorf("Weight(%s) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestStateString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half_open"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
