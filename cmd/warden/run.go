package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/dnscache"

	"github.com/eugener/warden/internal/cache"
	"github.com/eugener/warden/internal/circuitbreaker"
	"github.com/eugener/warden/internal/config"
	"github.com/eugener/warden/internal/provider"
	"github.com/eugener/warden/internal/provider/openai"
	"github.com/eugener/warden/internal/server"
	"github.com/eugener/warden/internal/storage/sqlite"
	"github.com/eugener/warden/internal/telemetry"
	"github.com/eugener/warden/internal/worker"
)

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	slog.Info("starting warden", "version", version, "addr", cfg.Server.Addr)

	ctx := context.Background()

	// Stream audit store
	store, err := sqlite.New(cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	// Telemetry
	var metrics *telemetry.Metrics
	var metricsHandler http.Handler
	if cfg.Telemetry.Metrics.Enabled {
		promReg := prometheus.NewRegistry()
		metrics = telemetry.NewMetrics(promReg)
		metricsHandler = promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})
	}
	if cfg.Telemetry.Tracing.Enabled {
		shutdown, err := telemetry.SetupTracing(ctx, cfg.Telemetry.Tracing.Endpoint, cfg.Telemetry.Tracing.SampleRate)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				slog.Warn("tracing shutdown failed", "error", err)
			}
		}()
	}

	// Shared upstream transport with cached DNS.
	resolver := &dnscache.Resolver{}
	go refreshDNS(ctx, resolver)
	baseTransport := provider.NewTransport(resolver, true)

	// Register providers from config.
	reg := provider.NewRegistry()
	for _, p := range cfg.Providers {
		if !p.IsEnabled() {
			continue
		}
		// Client timeout stays 0 unless configured: http.Client.Timeout
		// covers the whole response read and would cut long SSE streams.
		timeout := time.Duration(p.TimeoutMs) * time.Millisecond

		var client *http.Client
		switch p.ResolvedAuthType() {
		case "oauth":
			client = provider.NewOAuthClient(ctx, provider.OAuthConfig{
				TokenURL:     p.Auth.TokenURL,
				ClientID:     p.Auth.ClientID,
				ClientSecret: p.Auth.ClientSecret,
				Scopes:       p.Auth.Scopes,
			}, baseTransport, timeout)
		default:
			client = provider.NewAPIKeyClient(p.ResolvedAPIKey(), baseTransport, timeout)
		}

		switch p.ResolvedType() {
		case "openai":
			br := circuitbreaker.New(circuitbreaker.DefaultConfig())
			reg.Register(p.Name, provider.WithBreaker(openai.New(p.Name, p.BaseURL, client), br))
		default:
			slog.Warn("unknown provider type, skipping", "name", p.Name, "type", p.ResolvedType())
		}
	}

	// Response cache
	var respCache cache.Cache
	if cfg.Cache.Enabled {
		mem, err := cache.NewMemory(cfg.Cache.MaxSize, cfg.Cache.DefaultTTL)
		if err != nil {
			return err
		}
		respCache = mem
	}

	// Background stream-audit recorder
	recorder := worker.NewStreamRecorder(store)
	if metrics != nil {
		recorder.SetQueueGauge(metrics.AuditQueueLength)
	}
	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	workersDone := make(chan error, 1)
	go func() {
		workersDone <- worker.NewRunner(recorder).Run(workerCtx)
	}()

	handler := server.New(server.Deps{
		Providers:         reg,
		Store:             store,
		ReadyCheck:        store.Ping,
		Recorder:          recorder,
		Metrics:           metrics,
		MetricsHandler:    metricsHandler,
		Cache:             respCache,
		KeepAliveInterval: cfg.Stream.KeepAliveInterval,
		MaxStreamDuration: cfg.Stream.MaxDuration,
	})

	// Streaming handlers watch the base context: canceling it with
	// server.ErrShuttingDown lets each active stream terminate through its
	// guard instead of holding Shutdown open for the full duration cap.
	baseCtx, stopStreams := context.WithCancelCause(ctx)
	defer stopStreams(nil)

	// No WriteTimeout: SSE streams outlive any fixed value. The per-stream
	// duration cap is enforced by the lifecycle guard instead.
	srv := &http.Server{
		Addr:        cfg.Server.Addr,
		Handler:     handler,
		ReadTimeout: cfg.Server.ReadTimeout,
		BaseContext: func(net.Listener) context.Context { return baseCtx },
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("warden ready", "addr", cfg.Server.Addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig)
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	stopStreams(server.ErrShuttingDown)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	// Stop the recorder after the server so in-flight end-callbacks can still
	// enqueue; Run drains the queue before returning.
	stopWorkers()
	if err := <-workersDone; err != nil {
		return err
	}

	slog.Info("warden stopped")
	return nil
}

// refreshDNS periodically refreshes the cached DNS entries.
func refreshDNS(ctx context.Context, r *dnscache.Resolver) {
	t := time.NewTicker(5 * time.Minute)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			r.Refresh(true)
		case <-ctx.Done():
			return
		}
	}
}
