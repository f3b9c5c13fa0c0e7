package triage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/sift/internal/fetch"
)

// Defaults for Options fields left at zero.
const (
	DefaultFetchWorkers      = 6
	DefaultCategoryBatchSize = 24
	DefaultSummaryBatchSize  = 16
	DefaultLLMTimeout        = 90 * time.Second

	// UncategorizedLimit caps the uncategorized list in a run summary.
	UncategorizedLimit = 100
)

// Options configures a Service.
type Options struct {
	Versions          ModelVersions
	FetchWorkers      int
	ExcerptChars      int
	CategoryBatchSize int
	SummaryBatchSize  int
	LLMTimeout        time.Duration
	Hooks             Hooks
	Notifier          Notifier
}

func (o Options) withDefaults() Options {
	if o.FetchWorkers <= 0 {
		o.FetchWorkers = DefaultFetchWorkers
	}
	if o.ExcerptChars <= 0 {
		o.ExcerptChars = fetch.DefaultExcerptChars
	}
	if o.CategoryBatchSize <= 0 {
		o.CategoryBatchSize = DefaultCategoryBatchSize
	}
	if o.SummaryBatchSize <= 0 {
		o.SummaryBatchSize = DefaultSummaryBatchSize
	}
	if o.LLMTimeout <= 0 {
		o.LLMTimeout = DefaultLLMTimeout
	}
	return o
}

// StartResult is the outcome of requesting a run.
type StartResult struct {
	RunID          string `json:"run_id"`
	AlreadyRunning bool   `json:"already_running"`
}

// Service is the business boundary for triage runs. At most one run executes per
// process; it runs asynchronously after StartRun returns.
type Service struct {
	store    Store
	provider Provider
	fetcher  PageFetcher
	logger   log.Logger
	opts     Options
	hooks    Hooks

	startMu sync.Mutex
	runs    registry
	wg      sync.WaitGroup
}

// NewService creates a new triage service. A nil provider makes every run that
// needs the language model fail with ErrProviderNotConfigured.
func NewService(store Store, provider Provider, fetcher PageFetcher, logger log.Logger, opts Options) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	opts = opts.withDefaults()
	return &Service{
		store:    store,
		provider: provider,
		fetcher:  fetcher,
		logger:   logger,
		opts:     opts,
		hooks:    opts.Hooks,
	}
}

// StartRun starts a run over the current bookmark collection and returns without
// waiting for it. If a run is already active its id is returned with
// AlreadyRunning set and nothing else happens.
func (s *Service) StartRun(ctx context.Context, ignoreCache bool) (*StartResult, error) {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	if active := s.runs.current(); active != nil {
		s.hooks.start("already_running")
		return &StartResult{RunID: active.ID, AlreadyRunning: true}, nil
	}

	bookmarks, err := s.store.ListBookmarks(ctx)
	if err != nil {
		s.hooks.start("error")
		return nil, fmt.Errorf("list bookmarks: %w", err)
	}

	now := time.Now().UTC()
	run := &Run{
		ID:          ulid.Make().String(),
		Status:      StatusRunning,
		Stage:       StageIdle,
		IgnoreCache: ignoreCache,
		Total:       len(bookmarks),
		StartedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		s.hooks.start("error")
		return nil, fmt.Errorf("create run: %w", err)
	}
	s.runs.begin(run)
	s.hooks.start("started")

	s.logger.Info(ctx, "triage run started", "run_id", run.ID, "bookmarks", len(bookmarks), "ignore_cache", ignoreCache)

	// detach from the caller - the run outlives the request that started it.
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.execute(context.WithoutCancel(ctx), run.ID, bookmarks, ignoreCache)
	}()

	return &StartResult{RunID: run.ID}, nil
}

// Status returns the active run, or a view of the last persisted run when idle.
func (s *Service) Status(ctx context.Context) (*Run, error) {
	if r := s.runs.current(); r != nil {
		return r, nil
	}
	last, ok, err := s.store.LatestRun(ctx)
	if err != nil {
		return nil, fmt.Errorf("latest run: %w", err)
	}
	if !ok {
		return &Run{Stage: StageIdle}, nil
	}
	last.Stage = stageForStatus(last.Status)
	return last, nil
}

// stageForStatus maps a persisted status to the stage shown when no run is active.
func stageForStatus(st Status) Stage {
	switch st {
	case StatusCompleted:
		return StageCompleted
	case StatusFailed:
		return StageFailed
	default:
		return StageIdle
	}
}

// LatestSummary returns per-category counts and the most recently updated
// uncategorized bookmarks of the last run.
func (s *Service) LatestSummary(ctx context.Context) (*RunSummary, error) {
	summary := &RunSummary{
		Categories:    []CategoryCount{},
		Uncategorized: []UncategorizedBookmark{},
	}

	last, ok, err := s.store.LatestRun(ctx)
	if err != nil {
		return nil, fmt.Errorf("latest run: %w", err)
	}
	if !ok {
		return summary, nil
	}
	if active := s.runs.current(); active != nil && active.ID == last.ID {
		last = active
	}
	summary.Run = last

	counts, err := s.store.ListCategoryCounts(ctx, last.ID)
	if err != nil {
		return nil, fmt.Errorf("category counts: %w", err)
	}
	SortCategoryCounts(counts)
	summary.Categories = append(summary.Categories, counts...)

	unc, err := s.store.ListUncategorized(ctx, last.ID, UncategorizedLimit)
	if err != nil {
		return nil, fmt.Errorf("uncategorized: %w", err)
	}
	if len(unc) > UncategorizedLimit {
		unc = unc[:UncategorizedLimit]
	}
	summary.Uncategorized = append(summary.Uncategorized, unc...)

	return summary, nil
}

// SortCategoryCounts orders by count descending, then category name ascending.
func SortCategoryCounts(counts []CategoryCount) {
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].Category < counts[j].Category
	})
}

// Recover fails a persisted run left running by a previous process.
func (s *Service) Recover(ctx context.Context) error {
	if s.runs.current() != nil {
		return nil
	}
	last, ok, err := s.store.LatestRun(ctx)
	if err != nil {
		return fmt.Errorf("latest run: %w", err)
	}
	if !ok || last.Status != StatusRunning {
		return nil
	}

	now := time.Now().UTC()
	last.Status = StatusFailed
	last.Stage = StageFailed
	last.LastError = "interrupted: process restarted while the run was active"
	last.Counters.Failed++
	last.UpdatedAt = now
	last.CompletedAt = now
	if err := s.store.FailRun(ctx, last); err != nil {
		return fmt.Errorf("fail stale run: %w", err)
	}
	s.logger.Warn(ctx, "marked stale run as failed", "run_id", last.ID)
	return nil
}

// Shutdown waits for an active run to finish or for ctx to expire.
func (s *Service) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("triage run still active: %w", ctx.Err())
	}
}
