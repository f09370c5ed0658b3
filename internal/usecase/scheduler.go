package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ContentIngestor/internal/domain"
	"ContentIngestor/internal/ports"
)

// SchedulerDeps wires the recurring ingestion job.
type SchedulerDeps struct {
	Driver       ports.Scheduler
	Orchestrator *Orchestrator
	Options      Options
	// Pipeline and Notifier are optional.
	Pipeline *Pipeline
	Notifier ports.Notifier
	Logger   *slog.Logger
}

// Scheduler wires the interval driver with the ingestion use cases.
type Scheduler struct {
	driver       ports.Scheduler
	orchestrator *Orchestrator
	opts         Options
	pipeline     *Pipeline
	notifier     ports.Notifier
	logger       *slog.Logger
}

// NewScheduler returns a helper to start/stop recurring ingestion.
func NewScheduler(deps SchedulerDeps) *Scheduler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		driver:       deps.Driver,
		orchestrator: deps.Orchestrator,
		opts:         deps.Options,
		pipeline:     deps.Pipeline,
		notifier:     deps.Notifier,
		logger:       logger,
	}
}

// RunOnce ingests every subject, processes the new items and publishes the report.
// Run failures are part of the report; the error covers processing and notification only.
func (s *Scheduler) RunOnce(ctx context.Context, trigger time.Time) (Report, error) {
	if s.orchestrator == nil {
		return Report{}, nil
	}

	s.logger.Info("scheduled ingestion started", "trigger", trigger)
	report := s.orchestrator.IngestAll(ctx, s.opts)

	if s.pipeline != nil && report.Accepted() > 0 {
		if _, err := s.pipeline.ProcessPending(ctx, domain.ItemFilter{}); err != nil {
			return report, fmt.Errorf("process pending: %w", err)
		}
	}

	if s.notifier != nil {
		if err := s.notifier.PublishReport(ctx, report.String()); err != nil {
			return report, fmt.Errorf("publish report: %w", err)
		}
	}
	return report, nil
}

// Start registers the job with the provided driver.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.orchestrator == nil {
		return nil
	}

	job := func(trigger time.Time) {
		if _, err := s.RunOnce(ctx, trigger); err != nil {
			s.logger.Error("scheduled ingestion failed", "error", err)
		}
	}

	return s.driver.Start(ctx, job)
}

// Stop gracefully tears down the underlying driver.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}

	return s.driver.Stop(ctx)
}
