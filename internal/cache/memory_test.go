package cache

import (
	"context"
	"testing"
	"time"
)

// Cached values in production are marshaled chat completions keyed by a
// request digest; the fixtures mirror that shape.
const (
	keyGPT4o = "chat:3f1a9c27d"
	keyMini  = "chat:b04e77f12"
)

var respGPT4o = []byte(`{"id":"chatcmpl-1","model":"gpt-4o","choices":[{"message":{"role":"assistant","content":"4"}}]}`)

func TestMemoryRoundTrip(t *testing.T) {
	t.Parallel()
	m, err := NewMemory(100, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if _, ok := m.Get(ctx, keyGPT4o); ok {
		t.Error("hit on empty cache")
	}

	m.Set(ctx, keyGPT4o, respGPT4o, time.Minute)
	// otter applies writes asynchronously; give it a beat.
	time.Sleep(50 * time.Millisecond)

	got, ok := m.Get(ctx, keyGPT4o)
	if !ok {
		t.Fatal("cached response not found")
	}
	if string(got) != string(respGPT4o) {
		t.Errorf("cached body = %q, want %q", got, respGPT4o)
	}

	m.Delete(ctx, keyGPT4o)
	if _, ok := m.Get(ctx, keyGPT4o); ok {
		t.Error("hit after delete")
	}
}

func TestMemoryOverwrite(t *testing.T) {
	t.Parallel()
	m, err := NewMemory(100, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	m.Set(ctx, keyMini, []byte(`{"id":"chatcmpl-old"}`), time.Minute)
	time.Sleep(50 * time.Millisecond)
	m.Set(ctx, keyMini, []byte(`{"id":"chatcmpl-new"}`), time.Minute)
	time.Sleep(50 * time.Millisecond)

	got, ok := m.Get(ctx, keyMini)
	if !ok {
		t.Fatal("cached response not found")
	}
	if string(got) != `{"id":"chatcmpl-new"}` {
		t.Errorf("cached body = %q, want the rewritten response", got)
	}
}

func TestMemoryEntryTTL(t *testing.T) {
	t.Parallel()
	// Long default TTL so only the per-entry TTL can expire the response.
	m, err := NewMemory(100, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	m.Set(ctx, keyGPT4o, respGPT4o, 50*time.Millisecond)
	time.Sleep(120 * time.Millisecond)

	if _, ok := m.Get(ctx, keyGPT4o); ok {
		t.Error("response served past its per-entry TTL")
	}
}

func TestMemoryPurge(t *testing.T) {
	t.Parallel()
	m, err := NewMemory(100, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	m.Set(ctx, keyGPT4o, respGPT4o, time.Minute)
	m.Set(ctx, keyMini, []byte(`{"id":"chatcmpl-2"}`), time.Minute)
	time.Sleep(50 * time.Millisecond)

	m.Purge(ctx)

	if _, ok := m.Get(ctx, keyGPT4o); ok {
		t.Error("hit after purge")
	}
	if _, ok := m.Get(ctx, keyMini); ok {
		t.Error("hit after purge")
	}
}
