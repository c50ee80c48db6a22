package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/codeinonenight/podcast-insight/internal/analyze"
	"github.com/codeinonenight/podcast-insight/internal/config"
	"github.com/codeinonenight/podcast-insight/internal/diagnostics"
	"github.com/codeinonenight/podcast-insight/internal/domain"
	"github.com/codeinonenight/podcast-insight/internal/extract"
	"github.com/codeinonenight/podcast-insight/internal/jobs"
	"github.com/codeinonenight/podcast-insight/internal/pipeline"
	"github.com/codeinonenight/podcast-insight/internal/server"
	"github.com/codeinonenight/podcast-insight/internal/session"
	"github.com/codeinonenight/podcast-insight/internal/transcribe"
)

// App wires configuration, the session store, the job registry, stage
// adapters, the orchestrator, and the HTTP surface into one runnable
// service.
type App struct {
	Config       *config.Config
	Store        session.Store
	Registry     *jobs.Registry
	Events       *jobs.EventBus
	Orchestrator *pipeline.Orchestrator
	Checker      *diagnostics.Checker
	Logger       *slog.Logger

	httpServer *http.Server
	closeStore func()
}

// New builds the application from configuration. A configured
// database_url selects the Postgres session store; otherwise sessions
// live in memory and disappear on restart.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := newLogger(cfg.LogLevel)

	var store session.Store
	var closeStore func()
	if cfg.DatabaseURL != "" {
		pg, err := session.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect session store: %w", err)
		}
		store = pg
		closeStore = pg.Close
		logger.Info("using postgres session store")
	} else {
		store = session.NewMemoryStore()
		logger.Info("using in-memory session store")
	}

	registry := jobs.NewRegistry()
	events := jobs.NewEventBus(cfg.EventHistory)
	checker := diagnostics.NewChecker()

	orch := pipeline.New(
		store,
		registry,
		events,
		newExtractor(cfg, registry),
		newTranscriber(cfg, registry),
		newAnalyzer(cfg, registry),
		logger,
		cfg.JobTimeout,
	)

	srv := server.New(store, registry, events, orch, func() domain.DiagnosticReport {
		return checker.Run(cfg)
	}, logger)

	return &App{
		Config:       cfg,
		Store:        store,
		Registry:     registry,
		Events:       events,
		Orchestrator: orch,
		Checker:      checker,
		Logger:       logger,
		httpServer: &http.Server{
			Addr:    cfg.ListenAddr,
			Handler: srv.Router(),
		},
		closeStore: closeStore,
	}, nil
}

// Run serves HTTP until the process receives SIGINT or SIGTERM, then
// shuts down gracefully.
func (a *App) Run() error {
	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("server started", "addr", a.Config.ListenAddr, "mock_mode", a.Config.MockMode)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("listen on %s: %w", a.Config.ListenAddr, err)
	case sig := <-quit:
		a.Logger.Info("shutdown signal received", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	a.Close()
	a.Logger.Info("server exited")
	return nil
}

// Close releases resources held by the application.
func (a *App) Close() {
	if a.closeStore != nil {
		a.closeStore()
	}
}

// newLogger builds the process-wide structured logger.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func newExtractor(cfg *config.Config, registry *jobs.Registry) extract.Extractor {
	if cfg.MockMode {
		return extract.NewMockExtractor(registry)
	}
	enricher := extract.NewPageEnricher(nil)
	ytdlp := extract.NewYtdlpExtractor(cfg.YtdlpPath, cfg.AudioDir, cfg.MaxAudioBytes(), registry, enricher)
	feed := extract.NewFeedExtractor(nil, cfg.AudioDir, cfg.MaxAudioBytes(), registry)
	return extract.NewService(ytdlp, feed)
}

func newTranscriber(cfg *config.Config, registry *jobs.Registry) transcribe.Transcriber {
	if cfg.MockMode {
		return transcribe.NewMockTranscriber(registry)
	}
	return transcribe.NewHTTPTranscriber(
		nil,
		cfg.Transcription.BaseURL,
		cfg.Transcription.APIKey,
		cfg.Transcription.Model,
		cfg.MaxAudioBytes(),
		registry,
	)
}

func newAnalyzer(cfg *config.Config, registry *jobs.Registry) analyze.Analyzer {
	if cfg.MockMode {
		return analyze.NewMockAnalyzer(registry)
	}
	return analyze.NewLLMAnalyzer(
		nil,
		cfg.Analysis.BaseURL,
		cfg.Analysis.APIKey,
		cfg.Analysis.Model,
		cfg.MaxTranscriptChars,
		registry,
	)
}
