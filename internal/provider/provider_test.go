package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	warden "github.com/eugener/warden/internal"
)

// fakeProvider is a minimal warden.Provider for registry tests.
type fakeProvider struct {
	name string
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) ChatCompletion(_ context.Context, _ *warden.ChatRequest) (*warden.ChatResponse, error) {
	return nil, nil
}
func (f *fakeProvider) ChatCompletionStream(_ context.Context, _ *warden.ChatRequest) (<-chan warden.StreamChunk, error) {
	return nil, nil
}
func (f *fakeProvider) ListModels(_ context.Context) ([]string, error) { return nil, nil }
func (f *fakeProvider) HealthCheck(_ context.Context) error            { return nil }

func TestRegistryRegisterAndGet(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	p := &fakeProvider{name: "openai-us"}
	reg.Register("openai-us", p)

	got, err := reg.Get("openai-us")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name() != "openai-us" {
		t.Errorf("Name() = %q, want openai-us", got.Name())
	}

	if _, err := reg.Get("nonexistent"); err == nil {
		t.Fatal("expected error for nonexistent provider")
	}
}

func TestRegistryList(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Register("beta", &fakeProvider{name: "beta"})
	reg.Register("alpha", &fakeProvider{name: "alpha"})
	reg.Register("gamma", &fakeProvider{name: "gamma"})

	names := reg.List()
	if len(names) != 3 {
		t.Fatalf("got %d names, want 3", len(names))
	}
	if names[0] != "alpha" || names[1] != "beta" || names[2] != "gamma" {
		t.Errorf("names = %v, want [alpha beta gamma]", names)
	}
}

func TestRegistryFirst(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	if _, err := reg.First(); err == nil {
		t.Fatal("First on empty registry = nil error, want error")
	}

	reg.Register("zeta", &fakeProvider{name: "zeta"})
	reg.Register("alpha", &fakeProvider{name: "alpha"})
	p, err := reg.First()
	if err != nil {
		t.Fatalf("First: %v", err)
	}
	if p.Name() != "alpha" {
		t.Errorf("First = %q, want alpha (name order)", p.Name())
	}
}

func TestAPIKeyClientInjectsBearer(t *testing.T) {
	t.Parallel()

	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
	}))
	defer srv.Close()

	client := NewAPIKeyClient("sk-test", nil, 5*time.Second)
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	resp.Body.Close()

	if gotAuth != "Bearer sk-test" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer sk-test")
	}
}

func TestOAuthClientFetchesToken(t *testing.T) {
	t.Parallel()

	var tokenCalls int
	var gotAuth string
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		tokenCalls++
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"tok-123","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/api", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewOAuthClient(context.Background(), OAuthConfig{
		TokenURL:     srv.URL + "/token",
		ClientID:     "warden",
		ClientSecret: "shhh",
	}, nil, 5*time.Second)

	resp, err := client.Get(srv.URL + "/api")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	resp.Body.Close()

	if tokenCalls != 1 {
		t.Errorf("token endpoint called %d times, want 1", tokenCalls)
	}
	if gotAuth != "Bearer tok-123" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer tok-123")
	}
}

func TestNewTransportDefaults(t *testing.T) {
	t.Parallel()

	tr := NewTransport(nil, true)
	if tr.MaxIdleConnsPerHost != 100 {
		t.Errorf("MaxIdleConnsPerHost = %d, want 100", tr.MaxIdleConnsPerHost)
	}
	if !tr.ForceAttemptHTTP2 {
		t.Error("ForceAttemptHTTP2 = false, want true")
	}
	if tr.DialContext != nil {
		t.Error("DialContext set without resolver, want nil")
	}
}
