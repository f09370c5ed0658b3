package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"ContentIngestor/internal/authenticity"
	"ContentIngestor/internal/domain"
	"ContentIngestor/internal/ports"
	"ContentIngestor/internal/retry"
	"ContentIngestor/internal/source"
	"ContentIngestor/internal/tracker"
)

const defaultWorkers = 4

// RunState is the lifecycle of a single (subject, platform) run.
type RunState string

const (
	StatePending    RunState = "pending"
	StateFetching   RunState = "fetching"
	StateValidating RunState = "validating"
	StateFiltering  RunState = "filtering"
	StateCompleted  RunState = "completed"
	StateFailed     RunState = "failed"
)

// Item outcomes reported to the Recorder.
const (
	OutcomeAccepted   = "accepted"
	OutcomeDuplicate  = "duplicate"
	OutcomeOutOfRange = "out_of_range"
	OutcomeRejected   = "rejected"
	OutcomeLowScore   = "low_score"
)

// Options tune a run. Zero values disable the corresponding limit or filter.
type Options struct {
	MaxItems      int
	DateFrom      *time.Time
	DateTo        *time.Time
	AuthenticOnly bool
	MinScore      int
	RejectEmpty   bool
}

// Stats counts what happened to the fetched items. On a completed run every fetched item
// lands in exactly one outcome bucket; a failed run keeps the counts reached so far.
type Stats struct {
	Fetched    int
	Duplicates int
	OutOfRange int
	Rejected   int
	LowScore   int
	Accepted   int
	Pages      int
	// Marked counts items whose MarkIngested returned.
	Marked int
}

// Result is the outcome of one run. Items holds the accepted items of a completed run.
// A failed run keeps the output of its last completed step: the fetched items, the
// validated items, or the accepted items once they reached the sink.
type Result struct {
	RunID      string
	SubjectID  string
	Platform   domain.Platform
	State      RunState
	Items      []domain.ContentItem
	Stats      Stats
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// Limiter hands out request tokens per key.
type Limiter interface {
	Acquire(ctx context.Context, key string) error
}

// OrchestratorDeps wires the collaborators of a run.
type OrchestratorDeps struct {
	Subjects  []domain.Subject
	Registry  *source.Registry
	Limiter   Limiter
	Retry     retry.Policy
	Validator *authenticity.Validator
	Tracker   *tracker.Tracker
	Sink      ports.ItemSink
	Recorder  ports.Recorder
	Workers   int
	Logger    *slog.Logger
}

// Orchestrator drives fetch, validation, dedup and hand-off for subjects and platforms.
type Orchestrator struct {
	subjects  map[string]domain.Subject
	order     []string
	registry  *source.Registry
	limiter   Limiter
	policy    retry.Policy
	validator *authenticity.Validator
	tracker   *tracker.Tracker
	sink      ports.ItemSink
	recorder  ports.Recorder
	workers   int
	logger    *slog.Logger
	now       func() time.Time
}

// NewOrchestrator validates the dependencies and builds the orchestrator.
func NewOrchestrator(deps OrchestratorDeps) (*Orchestrator, error) {
	switch {
	case deps.Registry == nil:
		return nil, errors.New("orchestrator: registry is required")
	case deps.Limiter == nil:
		return nil, errors.New("orchestrator: limiter is required")
	case deps.Validator == nil:
		return nil, errors.New("orchestrator: validator is required")
	case deps.Tracker == nil:
		return nil, errors.New("orchestrator: tracker is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	workers := deps.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	policy := deps.Retry
	if policy.Logger == nil {
		policy.Logger = logger
	}

	o := &Orchestrator{
		subjects:  make(map[string]domain.Subject, len(deps.Subjects)),
		registry:  deps.Registry,
		limiter:   deps.Limiter,
		policy:    policy,
		validator: deps.Validator,
		tracker:   deps.Tracker,
		sink:      deps.Sink,
		recorder:  deps.Recorder,
		workers:   workers,
		logger:    logger,
		now:       time.Now,
	}
	for _, s := range deps.Subjects {
		if _, dup := o.subjects[s.ID]; dup {
			return nil, fmt.Errorf("orchestrator: duplicate subject %q", s.ID)
		}
		o.subjects[s.ID] = s
		o.order = append(o.order, s.ID)
	}
	return o, nil
}

// Subject returns the configured subject with the given id.
func (o *Orchestrator) Subject(id string) (domain.Subject, error) {
	s, ok := o.subjects[id]
	if !ok {
		return domain.Subject{}, fmt.Errorf("subject %q: %w", id, domain.ErrSubjectNotFound)
	}
	return s, nil
}

// Ingest runs one (subject, platform) pair end to end. The returned error equals Result.Err.
func (o *Orchestrator) Ingest(ctx context.Context, subjectID string, platform domain.Platform, opts Options) (Result, error) {
	res := Result{
		RunID:     uuid.NewString(),
		SubjectID: subjectID,
		Platform:  platform,
		State:     StatePending,
		StartedAt: o.now(),
	}
	logger := o.logger.With("run_id", res.RunID, "subject", subjectID, "platform", platform)

	o.run(ctx, &res, opts, logger)

	res.FinishedAt = o.now()
	o.record(res)
	if res.Err != nil {
		logger.Warn("ingestion run failed",
			"error", res.Err,
			"pages", res.Stats.Pages,
			"fetched", res.Stats.Fetched,
			"marked", res.Stats.Marked)
	} else {
		logger.Info("ingestion run finished",
			"fetched", res.Stats.Fetched,
			"accepted", res.Stats.Accepted,
			"duplicates", res.Stats.Duplicates,
			"out_of_range", res.Stats.OutOfRange,
			"rejected", res.Stats.Rejected,
			"low_score", res.Stats.LowScore,
			"pages", res.Stats.Pages)
	}
	return res, res.Err
}

func (o *Orchestrator) run(ctx context.Context, res *Result, opts Options, logger *slog.Logger) {
	fail := func(err error) {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, domain.ErrCancelled) {
			err = domain.Cancelled(ctxErr)
		}
		res.State = StateFailed
		res.Err = err
	}

	subject, err := o.Subject(res.SubjectID)
	if err != nil {
		fail(err)
		return
	}
	fetcher, err := o.registry.Resolve(res.Platform)
	if err != nil {
		fail(err)
		return
	}
	if err := o.validator.CheckSubject(subject, res.Platform); err != nil {
		fail(err)
		return
	}
	endpoints := subject.EndpointsFor(res.Platform)
	if len(endpoints) == 0 {
		fail(fmt.Errorf("subject %s has no %s endpoints: %w", subject.ID, res.Platform, domain.ErrValidationConfig))
		return
	}

	cursor, ok, err := o.tracker.CursorFor(ctx, subject.ID, res.Platform)
	if err != nil {
		fail(fmt.Errorf("load cursor: %w", err))
		return
	}
	var since *domain.SourceState
	if ok {
		since = &cursor
	}

	res.State = StateFetching
	raw, pages, err := o.fetchAll(ctx, fetcher, source.Request{
		Subject:   subject,
		Endpoints: endpoints,
		Since:     since,
		MaxItems:  opts.MaxItems,
		DateFrom:  opts.DateFrom,
		DateTo:    opts.DateTo,
	}, logger)
	res.Stats.Pages = pages
	res.Stats.Fetched = len(raw)
	res.Items = raw
	if err != nil {
		fail(err)
		return
	}

	res.State = StateValidating
	validated, err := o.validator.ValidateBatch(ctx, subject, raw)
	if err != nil {
		fail(err)
		return
	}
	res.Items = validated

	res.State = StateFiltering
	accepted, toMark, err := o.filter(ctx, subject.ID, res.Platform, validated, opts, &res.Stats)
	if err != nil {
		fail(err)
		return
	}

	if o.sink != nil && len(accepted) > 0 {
		if err := o.sink.Store(ctx, accepted); err != nil {
			fail(fmt.Errorf("store accepted items: %w", err))
			return
		}
	}
	res.Items = accepted

	for _, item := range toMark {
		fetchedAt := item.FetchedAt
		if fetchedAt.IsZero() {
			fetchedAt = o.now()
		}
		if err := o.tracker.MarkIngested(ctx, subject.ID, res.Platform, item.ID, fetchedAt); err != nil {
			fail(fmt.Errorf("mark item %s: %w", item.ID, err))
			return
		}
		res.Stats.Marked++
	}

	res.State = StateCompleted
}

// fetchAll pages through the fetcher until the source is exhausted or MaxItems is reached.
// Each page call takes a limiter token inside the retried operation. On error the items of
// the pages completed so far are returned with it.
func (o *Orchestrator) fetchAll(ctx context.Context, fetcher source.Fetcher, req source.Request, logger *slog.Logger) ([]domain.ContentItem, int, error) {
	var (
		items []domain.ContentItem
		pages int
	)
	key := string(fetcher.Platform())
	maxItems := req.MaxItems

	for {
		if err := ctx.Err(); err != nil {
			return items, pages, domain.Cancelled(err)
		}
		if maxItems > 0 {
			req.MaxItems = maxItems - len(items)
		}

		page, err := retry.Do(ctx, o.policy, func(ctx context.Context) (source.Page, error) {
			if err := o.limiter.Acquire(ctx, key); err != nil {
				return source.Page{}, err
			}
			return fetcher.FetchPage(ctx, req)
		})
		if err != nil {
			return items, pages, fmt.Errorf("fetch page %q: %w", req.PageToken, err)
		}
		pages++
		items = append(items, page.Items...)
		logger.Debug("page fetched", "token", req.PageToken, "items", len(page.Items), "next", page.NextToken)

		if maxItems > 0 && len(items) >= maxItems {
			return items[:maxItems], pages, nil
		}
		if page.NextToken == "" || page.NextToken == req.PageToken {
			return items, pages, nil
		}
		req.PageToken = page.NextToken
	}
}

// filter sorts validated items into outcome buckets in fetch order. It returns the accepted items
// and every item that must be marked ingested (accepted, out of range, empty).
func (o *Orchestrator) filter(ctx context.Context, subjectID string, platform domain.Platform, items []domain.ContentItem, opts Options, stats *Stats) ([]domain.ContentItem, []domain.ContentItem, error) {
	var accepted, toMark []domain.ContentItem
	inBatch := make(map[string]struct{}, len(items))

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, nil, domain.Cancelled(err)
		}

		if _, dup := inBatch[item.ID]; dup {
			stats.Duplicates++
			continue
		}
		inBatch[item.ID] = struct{}{}

		isNew, err := o.tracker.IsNew(ctx, subjectID, platform, item.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("check item %s: %w", item.ID, err)
		}
		switch {
		case !isNew:
			stats.Duplicates++
		case outOfRange(item, opts):
			stats.OutOfRange++
			toMark = append(toMark, item)
		case opts.RejectEmpty && strings.TrimSpace(item.Body) == "":
			stats.Rejected++
			toMark = append(toMark, item)
		case opts.AuthenticOnly && item.Score() < opts.MinScore:
			// Not marked: the item is re-evaluated on the next run.
			stats.LowScore++
		default:
			stats.Accepted++
			accepted = append(accepted, item)
			toMark = append(toMark, item)
		}
	}
	return accepted, toMark, nil
}

// outOfRange reports whether a dated item falls outside the window. Undated items always pass.
func outOfRange(item domain.ContentItem, opts Options) bool {
	if item.PublishedAt == nil {
		return false
	}
	if opts.DateFrom != nil && item.PublishedAt.Before(*opts.DateFrom) {
		return true
	}
	if opts.DateTo != nil && item.PublishedAt.After(*opts.DateTo) {
		return true
	}
	return false
}

func (o *Orchestrator) record(res Result) {
	if o.recorder == nil {
		return
	}
	o.recorder.ObserveRun(res.Platform, string(res.State), res.FinishedAt.Sub(res.StartedAt))
	if res.State != StateCompleted {
		return
	}
	o.recorder.AddItems(res.Platform, OutcomeAccepted, res.Stats.Accepted)
	o.recorder.AddItems(res.Platform, OutcomeDuplicate, res.Stats.Duplicates)
	o.recorder.AddItems(res.Platform, OutcomeOutOfRange, res.Stats.OutOfRange)
	o.recorder.AddItems(res.Platform, OutcomeRejected, res.Stats.Rejected)
	o.recorder.AddItems(res.Platform, OutcomeLowScore, res.Stats.LowScore)
}

type pair struct {
	subjectID string
	platform  domain.Platform
}

// IngestMany runs several platforms of one subject concurrently. A nil platforms slice means
// every platform the subject has endpoints for. Failures are isolated per platform.
func (o *Orchestrator) IngestMany(ctx context.Context, subjectID string, platforms []domain.Platform, opts Options) Report {
	if platforms == nil {
		subject, err := o.Subject(subjectID)
		if err != nil {
			return Report{Results: []Result{failedResult(pair{subjectID: subjectID}, err, o.now())}}
		}
		platforms = subject.Platforms()
	}
	pairs := make([]pair, 0, len(platforms))
	for _, p := range platforms {
		pairs = append(pairs, pair{subjectID: subjectID, platform: p})
	}
	return o.runPairs(ctx, pairs, opts)
}

// IngestAll runs every configured subject over every platform it has endpoints for.
func (o *Orchestrator) IngestAll(ctx context.Context, opts Options) Report {
	var pairs []pair
	for _, id := range o.order {
		for _, p := range o.subjects[id].Platforms() {
			pairs = append(pairs, pair{subjectID: id, platform: p})
		}
	}
	return o.runPairs(ctx, pairs, opts)
}

func (o *Orchestrator) runPairs(ctx context.Context, pairs []pair, opts Options) Report {
	results := make([]Result, len(pairs))
	if len(pairs) == 0 {
		return Report{}
	}

	pool, err := ants.NewPool(min(o.workers, len(pairs)))
	if err != nil {
		for i, p := range pairs {
			results[i] = failedResult(p, fmt.Errorf("create worker pool: %w", err), o.now())
		}
		return Report{Results: results}
	}
	defer pool.Release()

	var wg sync.WaitGroup
	for i, p := range pairs {
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			results[i], _ = o.Ingest(ctx, p.subjectID, p.platform, opts)
		})
		if submitErr != nil {
			wg.Done()
			results[i] = failedResult(p, fmt.Errorf("submit run: %w", submitErr), o.now())
		}
	}
	wg.Wait()

	return Report{Results: results}
}

func failedResult(p pair, err error, at time.Time) Result {
	return Result{
		RunID:      uuid.NewString(),
		SubjectID:  p.subjectID,
		Platform:   p.platform,
		State:      StateFailed,
		Err:        err,
		StartedAt:  at,
		FinishedAt: at,
	}
}
