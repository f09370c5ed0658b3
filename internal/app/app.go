package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"ContentIngestor/internal/authenticity"
	"ContentIngestor/internal/config"
	"ContentIngestor/internal/domain"
	"ContentIngestor/internal/infrastructure/indexing"
	"ContentIngestor/internal/infrastructure/ml"
	"ContentIngestor/internal/infrastructure/parser"
	"ContentIngestor/internal/infrastructure/scheduler"
	"ContentIngestor/internal/infrastructure/storage"
	"ContentIngestor/internal/infrastructure/telegram"
	"ContentIngestor/internal/logging"
	"ContentIngestor/internal/metrics"
	"ContentIngestor/internal/ports"
	"ContentIngestor/internal/ratelimit"
	"ContentIngestor/internal/retry"
	"ContentIngestor/internal/source"
	"ContentIngestor/internal/tracker"
	"ContentIngestor/internal/usecase"
)

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg          config.Config
	logger       *slog.Logger
	repository   *storage.SQLiteRepository
	states       *storage.BadgerStateStore
	recorder     *metrics.Recorder
	orchestrator *usecase.Orchestrator
	pipeline     *usecase.Pipeline
	notifier     ports.Notifier
}

// New opens the stores and builds every component. Close releases the stores.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}
	a := &Application{cfg: cfg, logger: baseLogger, recorder: metrics.NewRecorder()}

	subjects, err := cfg.DomainSubjects()
	if err != nil {
		return nil, err
	}

	if err := ensureParentDir(cfg.Database.Path); err != nil {
		return nil, err
	}
	a.repository, err = storage.OpenSQLite(ctx, cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	a.states, err = storage.OpenBadgerState(cfg.State.Path, baseLogger)
	if err != nil {
		a.Close()
		return nil, err
	}

	limiter, err := newLimiter(cfg.RateLimits)
	if err != nil {
		a.Close()
		return nil, err
	}

	validatorOpts := []authenticity.Option{authenticity.WithLogger(baseLogger.With("component", "authenticity"))}
	for id, w := range cfg.SubjectWeights() {
		validatorOpts = append(validatorOpts, authenticity.WithSubjectWeights(id, w))
	}
	validator, err := authenticity.NewValidator(cfg.Validator.Weights, validatorOpts...)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.orchestrator, err = usecase.NewOrchestrator(usecase.OrchestratorDeps{
		Subjects: subjects,
		Registry: newRegistry(cfg, baseLogger),
		Limiter:  limiter,
		Retry: retry.Policy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay,
			MaxDelay:    cfg.Retry.MaxDelay,
			Logger:      baseLogger.With("component", "retry"),
		},
		Validator: validator,
		Tracker: tracker.New(a.states,
			tracker.WithDedupWindow(cfg.State.DedupWindow),
			tracker.WithLogger(baseLogger)),
		Sink:     a.repository,
		Recorder: a.recorder,
		Workers:  cfg.Ingestion.Workers,
		Logger:   baseLogger.With("component", "orchestrator"),
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	chunker, err := indexing.NewChunker(cfg.Indexing.ChunkSize, cfg.Indexing.ChunkOverlap)
	if err != nil {
		a.Close()
		return nil, err
	}
	var embedder ports.Embedder
	if cfg.Indexing.EmbeddingURL != "" {
		embedder = ml.NewClient(cfg.Indexing.EmbeddingURL, cfg.Indexing.APIKey, cfg.Indexing.EmbeddingModel, cfg.Indexing.BatchSize)
	}
	a.pipeline = usecase.NewPipeline(usecase.PipelineDeps{
		Repository: a.repository,
		Chunks:     a.repository,
		Splitter:   chunker,
		Embedder:   embedder,
		Logger:     baseLogger.With("component", "pipeline"),
	})

	if tg := cfg.Notifications.Telegram; tg.Enabled() {
		a.notifier = telegram.NewNotifier(tg.BotToken, tg.ChatID)
	}

	return a, nil
}

func newLimiter(cfg config.RateLimitConfig) (*ratelimit.Limiter, error) {
	opts := make([]ratelimit.Option, 0, len(cfg.Platforms))
	for platform, bucket := range cfg.Platforms {
		opts = append(opts, ratelimit.WithBucket(platform, bucket))
	}
	return ratelimit.New(cfg.Default, opts...)
}

func newRegistry(cfg config.Config, logger *slog.Logger) *source.Registry {
	client := &http.Client{Timeout: cfg.HTTP.Timeout}
	registry := source.NewRegistry()

	for _, p := range []domain.Platform{domain.PlatformBlog, domain.PlatformBook} {
		registry.Register(parser.NewPageFetcher(parser.PageFetcherConfig{
			Platform:   p,
			Client:     client,
			UserAgent:  cfg.HTTP.UserAgent,
			Delay:      cfg.HTTP.RequestDelay,
			ObeyRobots: cfg.HTTP.ObeyRobots,
			MaxPages:   cfg.Ingestion.MaxPages,
			Logger:     logger,
		}))
	}
	for _, p := range []domain.Platform{domain.PlatformRSS, domain.PlatformTwitter, domain.PlatformYouTube, domain.PlatformPodcast} {
		registry.Register(parser.NewFeedFetcher(parser.FeedFetcherConfig{
			Platform:      p,
			Client:        client,
			UserAgent:     cfg.HTTP.UserAgent,
			Delay:         cfg.HTTP.RequestDelay,
			CursorOverlap: cfg.Ingestion.CursorOverlap,
			Logger:        logger,
		}))
	}
	return registry
}

func ensureParentDir(path string) error {
	if path == "" || path == ":memory:" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	return nil
}

// DefaultOptions returns the run options configured in the ingestion section.
func (a *Application) DefaultOptions() usecase.Options {
	return usecase.Options{
		MaxItems:      a.cfg.Ingestion.MaxItems,
		AuthenticOnly: a.cfg.Ingestion.AuthenticOnly,
		MinScore:      a.cfg.Ingestion.MinScore,
		RejectEmpty:   a.cfg.Ingestion.RejectEmpty,
	}
}

// Orchestrator exposes the ingestion use case.
func (a *Application) Orchestrator() *usecase.Orchestrator {
	return a.orchestrator
}

// Pipeline exposes the post-ingestion processing use case.
func (a *Application) Pipeline() *usecase.Pipeline {
	return a.pipeline
}

// Repository exposes the content repository for stats and export.
func (a *Application) Repository() *storage.SQLiteRepository {
	return a.repository
}

// States lists the persisted ingestion cursors.
func (a *Application) States(ctx context.Context) ([]domain.SourceState, error) {
	return a.states.States(ctx)
}

// Notify publishes a report when a notifier is configured.
func (a *Application) Notify(ctx context.Context, report usecase.Report) error {
	if a.notifier == nil {
		return nil
	}
	return a.notifier.PublishReport(ctx, report.String())
}

// Watch runs scheduled ingestion until ctx ends. A non-empty metricsAddr serves /metrics.
func (a *Application) Watch(ctx context.Context, interval time.Duration, metricsAddr string) error {
	if interval <= 0 {
		interval = a.cfg.Scheduler.Interval
	}

	var server *http.Server
	serverErr := make(chan error, 1)
	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", a.recorder.Handler())
		server = &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			a.logger.Info("metrics server listening", "addr", metricsAddr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
			}
		}()
	}

	sched := usecase.NewScheduler(usecase.SchedulerDeps{
		Driver:       scheduler.NewIntervalScheduler(interval),
		Orchestrator: a.orchestrator,
		Options:      a.DefaultOptions(),
		Pipeline:     a.pipeline,
		Notifier:     a.notifier,
		Logger:       a.logger.With("component", "scheduler"),
	})
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	a.logger.Info("watching", "interval", interval)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serverErr:
		runErr = fmt.Errorf("metrics server: %w", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := sched.Stop(shutdownCtx); err != nil {
		a.logger.Warn("scheduler stop", "error", err)
	}
	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("metrics server shutdown", "error", err)
		}
	}
	return runErr
}

// Close releases the stores.
func (a *Application) Close() error {
	var errs []error
	if a.states != nil {
		errs = append(errs, a.states.Close())
	}
	if a.repository != nil {
		errs = append(errs, a.repository.Close())
	}
	return errors.Join(errs...)
}
