package provider_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	warden "github.com/eugener/warden/internal"
	"github.com/eugener/warden/internal/circuitbreaker"
	"github.com/eugener/warden/internal/provider"
	"github.com/eugener/warden/internal/testutil"
)

func breakerUnderTest(openTimeout time.Duration) *circuitbreaker.Breaker {
	return circuitbreaker.New(circuitbreaker.Config{
		ErrorThreshold: 0.5,
		MinSamples:     3,
		WindowSeconds:  60,
		OpenTimeout:    openTimeout,
	})
}

func TestWithBreakerPassesThrough(t *testing.T) {
	t.Parallel()

	inner := &testutil.FakeProvider{
		ProviderName: "fake",
		ChatFn: func(context.Context, *warden.ChatRequest) (*warden.ChatResponse, error) {
			return &warden.ChatResponse{ID: "c-1"}, nil
		},
	}
	p := provider.WithBreaker(inner, breakerUnderTest(time.Minute))

	resp, err := p.ChatCompletion(context.Background(), &warden.ChatRequest{Model: "m"})
	if err != nil {
		t.Fatalf("ChatCompletion = %v, want nil", err)
	}
	if resp.ID != "c-1" {
		t.Errorf("resp.ID = %q, want c-1", resp.ID)
	}
	if got := p.Name(); got != "fake" {
		t.Errorf("Name = %q, want fake", got)
	}
}

func TestWithBreakerOpensOnUpstreamFailures(t *testing.T) {
	t.Parallel()

	upstreamErr := &provider.APIError{Provider: "fake", StatusCode: http.StatusBadGateway, Body: "down"}
	inner := &testutil.FakeProvider{
		ProviderName: "fake",
		ChatFn: func(context.Context, *warden.ChatRequest) (*warden.ChatResponse, error) {
			return nil, upstreamErr
		},
	}
	// Open timeout far beyond the test: the breaker must stay open.
	p := provider.WithBreaker(inner, breakerUnderTest(time.Minute))

	for range 3 {
		if _, err := p.ChatCompletion(context.Background(), &warden.ChatRequest{}); !errors.Is(err, upstreamErr) {
			t.Fatalf("err = %v, want upstream error while closed", err)
		}
	}

	_, err := p.ChatCompletion(context.Background(), &warden.ChatRequest{})
	if !errors.Is(err, provider.ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen after trip", err)
	}
	if _, err := p.ChatCompletionStream(context.Background(), &warden.ChatRequest{}); !errors.Is(err, provider.ErrCircuitOpen) {
		t.Errorf("stream err = %v, want ErrCircuitOpen after trip", err)
	}
}

func TestWithBreakerRecoversAfterProbe(t *testing.T) {
	t.Parallel()

	failing := true
	inner := &testutil.FakeProvider{
		ProviderName: "fake",
		ChatFn: func(context.Context, *warden.ChatRequest) (*warden.ChatResponse, error) {
			if failing {
				return nil, &provider.APIError{Provider: "fake", StatusCode: http.StatusInternalServerError, Body: "boom"}
			}
			return &warden.ChatResponse{ID: "ok"}, nil
		},
	}
	p := provider.WithBreaker(inner, breakerUnderTest(20*time.Millisecond))

	for range 3 {
		p.ChatCompletion(context.Background(), &warden.ChatRequest{})
	}

	failing = false
	time.Sleep(25 * time.Millisecond)

	resp, err := p.ChatCompletion(context.Background(), &warden.ChatRequest{})
	if err != nil {
		t.Fatalf("probe = %v, want success", err)
	}
	if resp.ID != "ok" {
		t.Errorf("probe resp.ID = %q, want ok", resp.ID)
	}

	// Breaker closed again: traffic flows.
	if _, err := p.ChatCompletion(context.Background(), &warden.ChatRequest{}); err != nil {
		t.Errorf("post-recovery call = %v, want nil", err)
	}
}

func TestWithBreakerHealthCheckUnguarded(t *testing.T) {
	t.Parallel()

	healthCalls := 0
	inner := &testutil.FakeProvider{
		ProviderName: "fake",
		ChatFn: func(context.Context, *warden.ChatRequest) (*warden.ChatResponse, error) {
			return nil, &provider.APIError{Provider: "fake", StatusCode: http.StatusServiceUnavailable, Body: "down"}
		},
		HealthFn: func(context.Context) error {
			healthCalls++
			return nil
		},
	}
	p := provider.WithBreaker(inner, breakerUnderTest(time.Minute))

	for range 4 {
		p.ChatCompletion(context.Background(), &warden.ChatRequest{})
	}
	if err := p.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck = %v, want nil through open breaker", err)
	}
	if healthCalls != 1 {
		t.Errorf("health calls = %d, want 1", healthCalls)
	}
}
