// Command professor is the main entry point for the voice tutoring session
// orchestrator.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/HassanFazal97/professor/internal/board"
	"github.com/HassanFazal97/professor/internal/config"
	"github.com/HassanFazal97/professor/internal/gateway"
	"github.com/HassanFazal97/professor/internal/health"
	"github.com/HassanFazal97/professor/internal/observe"
	"github.com/HassanFazal97/professor/pkg/provider/llm/anyllm"
	"github.com/HassanFazal97/professor/pkg/provider/stt/deepgram"
	"github.com/HassanFazal97/professor/pkg/provider/tts/elevenlabs"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "professor: %v\n", err)
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("professor starting",
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	shutdownTelemetry, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		ServiceName: "professor",
	})
	if err != nil {
		slog.Error("failed to init telemetry", "err", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	providers, err := buildProviders(*cfg, metrics)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	handler := gateway.New(*cfg, providers, logger)

	healthHandler := health.New(
		health.Checker{Name: "llm_credentials", Check: presenceCheck(cfg.LLM.APIKey)},
		health.Checker{Name: "stt_credentials", Check: presenceCheck(cfg.STT.APIKey)},
		health.Checker{Name: "tts_credentials", Check: presenceCheck(cfg.TTS.APIKey)},
	)

	mux := http.NewServeMux()
	mux.Handle("/ws/", handler)
	healthHandler.Register(mux)
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: observe.Middleware(metrics)(mux),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("server ready — press Ctrl+C to shut down", "addr", cfg.Server.ListenAddr)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received, stopping…")
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("listen error", "err", err)
			return 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// buildProviders constructs the concrete LLM, STT, TTS, and LaTeX backends
// named in cfg. metrics is wired into each provider so request/error counts
// surface on /metrics without the providers themselves being test-coupled to
// observe.
func buildProviders(cfg config.Config, metrics *observe.Metrics) (gateway.Providers, error) {
	llmProvider, err := anyllm.New(cfg.LLM.Provider, cfg.LLM.Model, anyllmlib.WithAPIKey(cfg.LLM.APIKey))
	if err != nil {
		return gateway.Providers{}, fmt.Errorf("create llm provider %q: %w", cfg.LLM.Provider, err)
	}
	llmProvider.SetMetrics(metrics)
	slog.Info("provider created", "kind", "llm", "name", cfg.LLM.Provider, "model", cfg.LLM.Model)

	sttProvider, err := deepgram.New(cfg.STT.APIKey, deepgram.WithMetrics(metrics))
	if err != nil {
		return gateway.Providers{}, fmt.Errorf("create stt provider: %w", err)
	}
	slog.Info("provider created", "kind", "stt", "name", "deepgram")

	ttsProvider, err := elevenlabs.New(cfg.TTS.APIKey, elevenlabs.WithMetrics(metrics))
	if err != nil {
		return gateway.Providers{}, fmt.Errorf("create tts provider: %w", err)
	}
	slog.Info("provider created", "kind", "tts", "name", "elevenlabs")

	var latexClient *board.LatexClient
	if cfg.Board.LatexRenderURL != "" {
		latexClient = board.NewLatexClient(cfg.Board.LatexRenderURL)
	}

	return gateway.Providers{
		LLM:   llmProvider,
		STT:   sttProvider,
		TTS:   ttsProvider,
		Latex: latexClient,
	}, nil
}

// presenceCheck returns a health.Checker probe that fails when the given
// credential is empty, catching a misconfigured deployment before it starts
// rejecting every session.
func presenceCheck(value string) func(context.Context) error {
	return func(context.Context) error {
		if value == "" {
			return fmt.Errorf("credential not configured")
		}
		return nil
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
