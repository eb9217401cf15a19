package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lexiqai/caption-relay/internal/config"
	"github.com/lexiqai/caption-relay/internal/hub"
	"github.com/lexiqai/caption-relay/internal/observability"
	"github.com/lexiqai/caption-relay/internal/relay"
	"github.com/lexiqai/caption-relay/internal/resilience"
	"github.com/lexiqai/caption-relay/internal/stt"
	"github.com/lexiqai/caption-relay/internal/translate"
)

func run(cfg *config.Config) error {
	logger := observability.GetLogger()
	logger.Info().
		Str("port", cfg.Port).
		Str("upstream", cfg.UpstreamProvider).
		Str("translator", cfg.TranslatorProvider).
		Int("pool_size", cfg.PoolSize).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Caption relay starting")

	dialer := newDialer(cfg)

	ctx := context.Background()
	provider, closeProvider, err := newProvider(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeProvider()

	fanOut := translate.NewFanOut(provider, translate.FanOutConfig{
		Timeout: config.Seconds(cfg.TranslateTimeout),
		Retry: &resilience.RetryConfig{
			MaxAttempts:       cfg.RetryMaxAttempts,
			InitialBackoff:    config.Millis(cfg.RetryInitialBackoff),
			MaxBackoff:        5 * time.Second,
			BackoffMultiplier: 2.0,
			Jitter:            true,
		},
		MaxFailures:  cfg.CircuitBreakerMaxFailures,
		ResetTimeout: config.Seconds(cfg.CircuitBreakerResetTimeout),
		Logger:       observability.ForComponent("translate"),
	})

	sessions := hub.New(observability.ForComponent("hub"))
	relayServer := relay.New(sessions, dialer, fanOut, relay.OptionsFromConfig(cfg), observability.ForComponent("relay"))

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", observability.HealthCheckHandler())
	r.Get("/ready", observability.ReadinessHandler(readinessChecks(cfg, fanOut)))
	if cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}
	r.Get("/ws/host", relayServer.HandleHost())
	r.Get("/ws/listen", relayServer.HandleListen())

	// No write timeout: the WebSocket routes are long-lived.
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	grpcHealth := observability.NewGRPCHealth(observability.ForComponent("grpc_health"))
	lis, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.GRPCHealthPort))
	if err != nil {
		return fmt.Errorf("failed to listen for gRPC health: %w", err)
	}
	go func() {
		if err := grpcHealth.Serve(lis); err != nil {
			logger.Error().Err(err).Msg("gRPC health server stopped")
		}
	}()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("host_endpoint", fmt.Sprintf("ws://localhost:%s/ws/host", cfg.Port)).
			Str("listen_endpoint", fmt.Sprintf("ws://localhost:%s/ws/listen", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()
	grpcHealth.SetServing(true)

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info().Str("signal", sig.String()).Int("sessions", relayServer.Sessions()).Msg("Shutting down server...")
	case err := <-serveErr:
		logger.Error().Err(err).Msg("Server failed")
		grpcHealth.Stop()
		return err
	}

	grpcHealth.SetServing(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Hijacked WebSocket connections are not tracked by Shutdown, so close
	// sessions explicitly.
	relayServer.Shutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	grpcHealth.Stop()

	logger.Info().Msg("Server exited gracefully")
	return nil
}

func newDialer(cfg *config.Config) stt.Dialer {
	logger := observability.ForComponent("stt")
	switch cfg.UpstreamProvider {
	case config.UpstreamDeepgram:
		return stt.NewDeepgramClient(stt.DeepgramConfig{
			APIKey:     cfg.UpstreamAPIKey,
			Model:      cfg.DeepgramModel,
			SampleRate: cfg.AudioSampleRate,
			Logger:     logger,
		})
	default:
		return stt.NewWebSocketClient(stt.WebSocketConfig{
			URL:        cfg.UpstreamURL,
			APIKey:     cfg.UpstreamAPIKey,
			SampleRate: cfg.AudioSampleRate,
			Logger:     logger,
		})
	}
}

func newProvider(ctx context.Context, cfg *config.Config) (translate.Provider, func(), error) {
	noop := func() {}
	switch cfg.TranslatorProvider {
	case config.TranslatorOpenAI:
		return translate.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAIModel), noop, nil
	case config.TranslatorGemini:
		p, err := translate.NewGeminiProvider(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to create Gemini client: %w", err)
		}
		return p, func() { p.Close() }, nil
	default:
		return translate.Passthrough{}, noop, nil
	}
}

func readinessChecks(cfg *config.Config, fanOut *translate.FanOut) map[string]observability.HealthCheckFunc {
	return map[string]observability.HealthCheckFunc{
		"upstream": func(ctx context.Context) error {
			// Dialing costs upstream quota, so only the configuration is checked.
			if cfg.UpstreamProvider == config.UpstreamWebSocket && cfg.UpstreamURL == "" {
				return errors.New("UPSTREAM_URL is not set")
			}
			return nil
		},
		"translator": func(ctx context.Context) error {
			breaker := fanOut.Breaker()
			state, requests, failures, rate := breaker.GetStats()
			if state == resilience.StateOpen {
				return fmt.Errorf("%s circuit open: %d of %d requests failed (%.0f%%)", breaker.Name(), failures, requests, rate)
			}
			return nil
		},
	}
}
