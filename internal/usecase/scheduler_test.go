package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ContentIngestor/internal/domain"
	"ContentIngestor/internal/source"
)

type fakeNotifier struct {
	reports []string
	err     error
}

func (n *fakeNotifier) PublishReport(_ context.Context, report string) error {
	n.reports = append(n.reports, report)
	return n.err
}

type manualDriver struct {
	job     func(time.Time)
	stopped bool
}

func (d *manualDriver) Start(_ context.Context, job func(time.Time)) error {
	d.job = job
	return nil
}

func (d *manualDriver) Stop(context.Context) error {
	d.stopped = true
	return nil
}

func TestSchedulerRunsIngestionAndNotifies(t *testing.T) {
	t.Parallel()

	subject := timFerriss()
	subject.Sources = subject.Sources[:1]
	fetcher := &fakeFetcher{
		platform: domain.PlatformBlog,
		pages:    map[string]source.Page{"": {Items: []domain.ContentItem{blogItem("tim.blog", 1), blogItem("tim.blog", 2)}}},
	}
	h := newHarness(t, []domain.Subject{subject}, fetcher)

	notifier := &fakeNotifier{}
	driver := &manualDriver{}
	s := NewScheduler(SchedulerDeps{Driver: driver, Orchestrator: h.orch, Notifier: notifier})

	require.NoError(t, s.Start(context.Background()))
	require.NotNil(t, driver.job)
	driver.job(time.Now())

	require.Len(t, notifier.reports, 1)
	assert.Contains(t, notifier.reports[0], "tim_ferriss/blog: 2 accepted of 2 fetched")
	assert.Len(t, h.sink.stored, 2)

	// Second tick: everything is a duplicate now.
	driver.job(time.Now())
	require.Len(t, notifier.reports, 2)
	assert.Contains(t, notifier.reports[1], "no new items (2 duplicates)")

	require.NoError(t, s.Stop(context.Background()))
	assert.True(t, driver.stopped)
}

func TestSchedulerRunOnceReportsNotifierError(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []domain.Subject{timFerriss()})
	s := NewScheduler(SchedulerDeps{Orchestrator: h.orch, Notifier: &fakeNotifier{err: errors.New("bot blocked")}})

	report, err := s.RunOnce(context.Background(), time.Now())
	require.Error(t, err)
	// No fetchers are registered, so both configured platforms fail.
	assert.Len(t, report.Failures(), 2)
}
