package provider

import (
	"context"
	"errors"

	warden "github.com/eugener/warden/internal"
	"github.com/eugener/warden/internal/circuitbreaker"
)

// ErrCircuitOpen is returned when the upstream's breaker is rejecting
// requests. Handlers map it to 503.
var ErrCircuitOpen = errors.New("upstream circuit open")

// guarded decorates a Provider with a circuit breaker over its chat
// operations. ListModels and HealthCheck pass through unguarded so health
// probes always observe the real upstream.
type guarded struct {
	warden.Provider
	br *circuitbreaker.Breaker
}

// WithBreaker wraps p so chat calls are gated and scored by br.
func WithBreaker(p warden.Provider, br *circuitbreaker.Breaker) warden.Provider {
	return &guarded{Provider: p, br: br}
}

func (g *guarded) ChatCompletion(ctx context.Context, req *warden.ChatRequest) (*warden.ChatResponse, error) {
	if !g.br.Allow() {
		return nil, ErrCircuitOpen
	}
	resp, err := g.Provider.ChatCompletion(ctx, req)
	g.record(err)
	return resp, err
}

func (g *guarded) ChatCompletionStream(ctx context.Context, req *warden.ChatRequest) (<-chan warden.StreamChunk, error) {
	if !g.br.Allow() {
		return nil, ErrCircuitOpen
	}
	// Only the call itself is scored; mid-stream faults surface through the
	// chunk channel and are the stream lifecycle's concern.
	ch, err := g.Provider.ChatCompletionStream(ctx, req)
	g.record(err)
	return ch, err
}

func (g *guarded) record(err error) {
	if err == nil {
		g.br.RecordSuccess()
		return
	}
	g.br.RecordError(circuitbreaker.Weight(err))
}
