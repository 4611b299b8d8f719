package respond

import (
	"errors"
	"sync"
	"testing"
)

func TestEndCallbacksRunOnceInOrder(t *testing.T) {
	t.Parallel()
	ft := &fakeTransport{}
	m := NewManager(ft, testLogger())

	var mu sync.Mutex
	var order []string
	record := func(name string) func() error {
		return func() error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}
	for _, name := range []string{"c1", "c2", "c3"} {
		if err := m.OnEnd(record(name)); err != nil {
			t.Fatalf("OnEnd(%s) = %v, want nil", name, err)
		}
	}

	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.End(nil); err != nil {
				t.Errorf("End() = %v, want nil", err)
			}
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	want := []string{"c1", "c2", "c3"}
	if len(order) != len(want) {
		t.Fatalf("callbacks ran %d times total, want %d: %v", len(order), len(want), order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("callback[%d] = %q, want %q", i, order[i], want[i])
		}
	}
	_, _, ends, _ := ft.counts()
	if ends != 1 {
		t.Errorf("transport terminal writes = %d, want 1", ends)
	}
}

func TestEndReentrantFromCallback(t *testing.T) {
	t.Parallel()
	ft := &fakeTransport{}
	m := NewManager(ft, testLogger())

	calls := 0
	if err := m.OnEnd(func() error {
		calls++
		return m.End(nil) // must observe the already-set ended flag
	}); err != nil {
		t.Fatalf("OnEnd = %v, want nil", err)
	}

	if err := m.End(nil); err != nil {
		t.Fatalf("End = %v, want nil", err)
	}
	if calls != 1 {
		t.Errorf("callback ran %d times, want 1", calls)
	}
	_, _, ends, _ := ft.counts()
	if ends != 1 {
		t.Errorf("transport terminal writes = %d, want 1", ends)
	}
}

func TestOnEndAfterEndRejected(t *testing.T) {
	t.Parallel()
	m := NewManager(&fakeTransport{}, testLogger())

	if err := m.End(nil); err != nil {
		t.Fatalf("End = %v, want nil", err)
	}
	if err := m.OnEnd(func() error { return nil }); !errors.Is(err, ErrEnded) {
		t.Errorf("OnEnd after end = %v, want ErrEnded", err)
	}
}

func TestCallbackFailureBeforeHeaders(t *testing.T) {
	t.Parallel()
	ft := &fakeTransport{}
	m := NewManager(ft, testLogger())

	boom := errors.New("flush failed")
	m.OnEnd(func() error { return boom })

	err := m.End(nil)
	if !errors.Is(err, boom) {
		t.Errorf("End = %v, want wrapped %v", err, boom)
	}
	// Terminal write withheld so the caller can still produce an error status.
	_, _, ends, _ := ft.counts()
	if ends != 0 {
		t.Errorf("transport terminal writes = %d, want 0", ends)
	}
}

func TestCallbackFailureAfterHeadersOnlyLogged(t *testing.T) {
	t.Parallel()
	ft := &fakeTransport{}
	m := NewManager(ft, testLogger())

	ran := false
	m.OnEnd(func() error { return errors.New("too late") })
	m.OnEnd(func() error { ran = true; return nil })

	if err := m.WriteHeaders(200, nil); err != nil {
		t.Fatalf("WriteHeaders = %v, want nil", err)
	}
	if err := m.End(nil); err != nil {
		t.Errorf("End = %v, want nil (failure after headers is swallowed)", err)
	}
	if !ran {
		t.Error("subsequent callback did not run after a logged failure")
	}
	_, _, ends, _ := ft.counts()
	if ends != 1 {
		t.Errorf("transport terminal writes = %d, want 1", ends)
	}
}

func TestHeadersSentConsultsTransport(t *testing.T) {
	t.Parallel()
	ft := &fakeTransport{}
	m := NewManager(ft, testLogger())

	if m.HeadersSent() {
		t.Error("HeadersSent = true on fresh manager, want false")
	}
	// Another writer touches the transport directly.
	ft.WriteHeaders(200, nil)
	if !m.HeadersSent() {
		t.Error("HeadersSent = false, want true (transport flag is authoritative)")
	}
}

func TestManagerComposesWithState(t *testing.T) {
	t.Parallel()
	ft := &fakeTransport{}
	m := NewManager(ft, testLogger())
	s := NewState(m, testLogger(), "req-1")

	fired := 0
	m.OnEnd(func() error { fired++; return nil })

	if !s.SafeWriteHeaders(200, nil) {
		t.Fatal("SafeWriteHeaders = false, want true")
	}
	if !s.SafeEnd(nil) {
		t.Fatal("SafeEnd = false, want true")
	}
	if s.SafeEnd(nil) {
		t.Error("second SafeEnd = true, want false")
	}
	if fired != 1 {
		t.Errorf("end callback fired %d times, want 1", fired)
	}
	headers, _, ends, _ := ft.counts()
	if headers != 1 || ends != 1 {
		t.Errorf("transport saw headers=%d ends=%d, want 1/1", headers, ends)
	}
	if !m.HasEnded() {
		t.Error("HasEnded = false, want true")
	}
}
