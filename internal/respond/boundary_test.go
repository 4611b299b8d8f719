package respond

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestBoundaryPassesThroughSuccess(t *testing.T) {
	t.Parallel()
	ft := &fakeTransport{}
	s := NewState(ft, testLogger(), "req-1")

	err := WithStreamingErrorBoundary(context.Background(), s, func(st *State) error {
		st.SafeWriteHeaders(200, nil)
		st.SafeEnd([]byte("ok"))
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("boundary = %v, want nil", err)
	}
	if snap := s.Snapshot(); snap.Destroyed {
		t.Error("state destroyed on success path, want intact")
	}
	headers, _, ends, _ := ft.counts()
	if headers != 1 || ends != 1 {
		t.Errorf("transport saw headers=%d ends=%d, want 1/1", headers, ends)
	}
}

func TestBoundaryFailureMidStream(t *testing.T) {
	t.Parallel()
	ft := &fakeTransport{}
	s := NewState(ft, testLogger(), "req-1")

	boom := errors.New("upstream gone")
	err := WithStreamingErrorBoundary(context.Background(), s, func(st *State) error {
		st.SafeWriteHeaders(200, map[string]string{"Content-Type": "text/event-stream"})
		st.MarkStreamingStarted()
		st.SafeWrite([]byte("data: {}\n\n"))
		return boom
	}, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("boundary = %v, want original %v", err, boom)
	}

	// Headers were already sent: no 500 payload may be attempted.
	if got := ft.body(); strings.Contains(got, "api_error") {
		t.Errorf("body %q contains an error payload after headers were sent", got)
	}
	if ts := s.TerminationState(); ts.Reason != ReasonErrorBoundary {
		t.Errorf("termination reason = %q, want %q", ts.Reason, ReasonErrorBoundary)
	}
	snap := s.Snapshot()
	if !snap.Destroyed || !snap.Ended || !snap.StreamingCompleted {
		t.Errorf("snapshot = %+v, want destroyed, ended, streaming completed", snap)
	}
	_, _, ends, closes := ft.counts()
	if ends != 1 {
		t.Errorf("transport terminal writes = %d, want 1", ends)
	}
	if closes != 1 {
		t.Errorf("connection closes = %d, want 1", closes)
	}
}

func TestBoundaryFailureBeforeHeaders(t *testing.T) {
	t.Parallel()
	ft := &fakeTransport{}
	s := NewState(ft, testLogger(), "req-1")

	boom := errors.New("bad upstream config")
	err := WithStreamingErrorBoundary(context.Background(), s, func(*State) error {
		return boom
	}, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("boundary = %v, want original %v", err, boom)
	}
	// Termination already ended the response, so the transport must have
	// received exactly one terminal write and nothing conflicting after it.
	_, _, ends, _ := ft.counts()
	if ends != 1 {
		t.Errorf("transport terminal writes = %d, want 1", ends)
	}
	if s.CanWriteHeaders() {
		t.Error("CanWriteHeaders = true after boundary, want false")
	}
}

func TestBoundaryRecoversPanic(t *testing.T) {
	t.Parallel()
	ft := &fakeTransport{}
	s := NewState(ft, testLogger(), "req-1")

	err := WithStreamingErrorBoundary(context.Background(), s, func(*State) error {
		panic("nil deref somewhere")
	}, nil)
	if err == nil || !strings.Contains(err.Error(), "handler panic") {
		t.Fatalf("boundary = %v, want handler panic error", err)
	}
	if snap := s.Snapshot(); !snap.Destroyed {
		t.Error("state not destroyed after panic")
	}
}

func TestBoundaryOnErrorHook(t *testing.T) {
	t.Parallel()
	ft := &fakeTransport{}
	s := NewState(ft, testLogger(), "req-1")

	boom := errors.New("boom")
	var got error
	err := WithStreamingErrorBoundary(context.Background(), s, func(*State) error {
		return boom
	}, func(e error) { got = e })
	if !errors.Is(err, boom) {
		t.Fatalf("boundary = %v, want %v", err, boom)
	}
	if !errors.Is(got, boom) {
		t.Errorf("onError received %v, want %v", got, boom)
	}
}

func TestBoundaryOnErrorPanicSwallowed(t *testing.T) {
	t.Parallel()
	ft := &fakeTransport{}
	s := NewState(ft, testLogger(), "req-1")

	boom := errors.New("boom")
	err := WithStreamingErrorBoundary(context.Background(), s, func(*State) error {
		return boom
	}, func(error) { panic("hook broke") })
	if !errors.Is(err, boom) {
		t.Fatalf("boundary = %v, want original error despite hook panic", err)
	}
	if snap := s.Snapshot(); !snap.Destroyed {
		t.Error("state not destroyed after hook panic")
	}
}
