// internal/triage/run.go
package triage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
)

var tracer = otel.Tracer("github.com/linnemanlabs/sift/internal/triage")

var errEmptyContent = errors.New("model returned no content")

type ctxKey string

const ctxKeyRunID ctxKey = "triage.run_id"

func runIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRunID).(string)
	return id
}

// execute is the error boundary of a run. Whatever happens inside the pipeline,
// the run ends completed or failed, exactly once.
func (s *Service) execute(ctx context.Context, runID string, bookmarks []Bookmark, ignoreCache bool) {
	start := time.Now()
	L := s.logger.With("run_id", runID)
	ctx = log.WithContext(ctx, L)
	ctx = context.WithValue(ctx, ctxKeyRunID, runID)

	ctx, span := tracer.Start(ctx, "triage.run", trace.WithAttributes(
		attribute.String("sift.run.id", runID),
		attribute.Int("sift.run.bookmarks", len(bookmarks)),
		attribute.Bool("sift.run.ignore_cache", ignoreCache),
	))
	defer span.End()

	err := s.safePipeline(ctx, L, runID, bookmarks, ignoreCache)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	s.finish(ctx, L, runID, err, time.Since(start))
}

func (s *Service) safePipeline(ctx context.Context, L log.Logger, runID string, bookmarks []Bookmark, ignoreCache bool) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic in triage pipeline: %v", p)
		}
	}()
	return s.pipeline(ctx, L, runID, bookmarks, ignoreCache)
}

func (s *Service) pipeline(ctx context.Context, L log.Logger, runID string, bookmarks []Bookmark, ignoreCache bool) error {
	if s.provider == nil {
		return ErrProviderNotConfigured
	}

	// preparing: acquire excerpts, fingerprint, split cached from fresh
	stageCtx, endStage := s.enterStage(ctx, L, runID, StagePreparing)
	var cached map[int64]Record
	if !ignoreCache {
		var err error
		if cached, err = s.store.CachedTriages(stageCtx); err != nil {
			endStage(err)
			return fmt.Errorf("load cached triages: %w", err)
		}
	}

	prepared := s.prepare(stageCtx, bookmarks)

	var (
		fresh         []*PreparedBookmark
		reused        []Record
		emptyExcerpts int
	)
	for _, pb := range prepared {
		if pb.SourceType.Fetchable() && pb.Excerpt == "" {
			emptyExcerpts++
		}
		if rec, ok := cached[pb.ID]; ok && reusable(&rec, pb, s.opts.Versions) {
			rec.RunID = runID
			reused = append(reused, rec)
			continue
		}
		fresh = append(fresh, pb)
	}
	if emptyExcerpts > 0 {
		L.Warn(stageCtx, "pages without usable content", "count", emptyExcerpts)
	}

	if len(reused) > 0 {
		if err := s.store.UpsertTriages(stageCtx, reused); err != nil {
			endStage(err)
			return fmt.Errorf("store cached triages: %w", err)
		}
	}
	s.progress(stageCtx, L, runID, func(r *Run) {
		r.Counters.Cached += len(reused)
		r.Counters.Processed += len(reused)
	})
	endStage(nil)
	L.Info(ctx, "bookmarks prepared", "total", len(prepared), "cached", len(reused), "fresh", len(fresh))

	if len(fresh) == 0 {
		_, endStage = s.enterStage(ctx, L, runID, StageFinalizing)
		endStage(nil)
		return nil
	}

	// discovering_categories
	stageCtx, endStage = s.enterStage(ctx, L, runID, StageDiscoveringCategories)
	categories, err := s.discoverCategories(stageCtx, L, BuildDigest(bookmarks))
	endStage(err)
	if err != nil {
		return err
	}
	s.progress(ctx, L, runID, func(r *Run) { r.Categories = append([]string(nil), categories...) })
	L.Info(ctx, "categories discovered", "count", len(categories))

	// categorizing
	stageCtx, endStage = s.enterStage(ctx, L, runID, StageCategorizing)
	assignments, err := s.categorizeAll(stageCtx, L, runID, categories, fresh)
	endStage(err)
	if err != nil {
		return err
	}

	// summarizing
	stageCtx, endStage = s.enterStage(ctx, L, runID, StageSummarizing)
	err = s.summarizeAll(stageCtx, L, runID, fresh, assignments)
	endStage(err)
	if err != nil {
		return err
	}

	_, endStage = s.enterStage(ctx, L, runID, StageFinalizing)
	endStage(nil)
	return nil
}

// categorizeAll runs the categorization batches in order. Each batch is persisted
// with a provisional local summary as soon as it is categorized. Provisional rows
// carry no source hash, so a run that dies before summarizing leaves nothing a later
// run would reuse.
func (s *Service) categorizeAll(ctx context.Context, L log.Logger, runID string, categories []string, fresh []*PreparedBookmark) (map[int64]Assignment, error) {
	assignments := make(map[int64]Assignment, len(fresh))

	for i, batch := range chunk(fresh, s.opts.CategoryBatchSize) {
		results, err := s.categorizeBatch(ctx, categories, batch)
		failed := 0
		if err != nil {
			if errors.Is(err, ErrProviderNotConfigured) {
				return nil, err
			}
			L.Warn(ctx, "categorization batch failed", "batch", i, "size", len(batch), "error", err)
			results = failedAssignments(batch)
			failed = len(batch)
			s.hooks.batchFailed(StageCategorizing, len(batch))
		}

		records := make([]Record, 0, len(batch))
		categorized := 0
		for j, pb := range batch {
			a := results[j]
			assignments[pb.ID] = a
			if a.Category != "" {
				categorized++
			}
			rec := s.record(runID, pb, a, FallbackSummary(pb))
			if needsModelSummary(pb) {
				// provisional until its summary batch lands; never reused as cache
				rec.SourceHash = ""
			}
			records = append(records, rec)
		}
		if err := s.store.UpsertTriages(ctx, records); err != nil {
			return nil, fmt.Errorf("store categorization batch %d: %w", i, err)
		}

		s.progress(ctx, L, runID, func(r *Run) {
			r.Counters.Processed += len(batch)
			r.Counters.Categorized += categorized
			r.Counters.Uncategorized += len(batch) - categorized
			r.Counters.Failed += failed
		})
	}
	return assignments, nil
}

// summarizeAll replaces the provisional summaries. Dead and unsupported bookmarks
// keep their local summary and are never sent to the model.
func (s *Service) summarizeAll(ctx context.Context, L log.Logger, runID string, fresh []*PreparedBookmark, assignments map[int64]Assignment) error {
	var remote []*PreparedBookmark
	for _, pb := range fresh {
		if needsModelSummary(pb) {
			remote = append(remote, pb)
		}
	}

	for i, batch := range chunk(remote, s.opts.SummaryBatchSize) {
		summaries, err := s.summarizeBatch(ctx, batch, assignments)
		failed := 0
		if err != nil {
			if errors.Is(err, ErrProviderNotConfigured) {
				return err
			}
			L.Warn(ctx, "summarization batch failed", "batch", i, "size", len(batch), "error", err)
			summaries = make(map[int64]string, len(batch))
			for _, pb := range batch {
				summaries[pb.ID] = FallbackSummary(pb)
			}
			failed = len(batch)
			s.hooks.batchFailed(StageSummarizing, len(batch))
		}

		records := make([]Record, 0, len(batch))
		for _, pb := range batch {
			records = append(records, s.record(runID, pb, assignments[pb.ID], summaries[pb.ID]))
		}
		if err := s.store.UpsertTriages(ctx, records); err != nil {
			return fmt.Errorf("store summarization batch %d: %w", i, err)
		}

		s.progress(ctx, L, runID, func(r *Run) { r.Counters.Failed += failed })
	}
	return nil
}

func (s *Service) record(runID string, pb *PreparedBookmark, a Assignment, summary string) Record {
	tags := a.Tags
	if tags == nil {
		tags = []string{}
	}
	return Record{
		BookmarkID:    pb.ID,
		RunID:         runID,
		Category:      a.Category,
		Tags:          tags,
		Summary:       summary,
		ReasonCode:    a.ReasonCode,
		Confidence:    a.Confidence,
		SourceHash:    pb.SourceHash,
		CategoryModel: s.opts.Versions.CategoryModel,
		SummaryModel:  s.opts.Versions.SummaryModel,
		PromptVersion: s.opts.Versions.PromptVersion,
		UpdatedAt:     time.Now().UTC(),
	}
}

// complete performs one bounded language model call and accounts its usage on the
// active run, whether or not the call succeeds.
func (s *Service) complete(ctx context.Context, stage Stage, req *LLMRequest) (*LLMResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.LLMTimeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "triage.llm", trace.WithAttributes(
		attribute.String("sift.llm.stage", string(stage)),
		attribute.String("sift.llm.model", req.Model),
	))
	defer span.End()

	start := time.Now()
	resp, err := s.provider.Complete(ctx, req)
	dur := time.Since(start).Seconds()

	model := req.Model
	var usage TokenUsage
	if resp != nil {
		usage = resp.Usage
		if resp.Model != "" {
			model = resp.Model
		}
	}
	s.runs.update(runIDFromContext(ctx), func(r *Run) {
		r.Usage.Record(model, usage)
		r.UpdatedAt = time.Now().UTC()
	})
	if err == nil && strings.TrimSpace(resp.Content) == "" {
		err = errEmptyContent
	}
	s.hooks.llmCall(stage, model, usage, dur, err)

	span.SetAttributes(
		attribute.Int("sift.llm.input_tokens", usage.InputTokens),
		attribute.Int("sift.llm.output_tokens", usage.OutputTokens),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%s call: %w", stage, err)
	}
	return resp, nil
}

// enterStage moves the run to stage, persists the transition and opens a span for
// it. The returned func ends the span.
func (s *Service) enterStage(ctx context.Context, L log.Logger, runID string, stage Stage) (context.Context, func(error)) {
	s.progress(ctx, L, runID, func(r *Run) { r.Stage = stage })
	L.Info(ctx, "triage stage", "stage", stage)

	ctx, span := tracer.Start(ctx, "triage.stage."+string(stage))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// progress mutates the active run and flushes it to the store. A failed flush is
// logged; the next flush carries the same counters.
func (s *Service) progress(ctx context.Context, L log.Logger, runID string, fn func(*Run)) {
	snap := s.runs.update(runID, func(r *Run) {
		fn(r)
		r.UpdatedAt = time.Now().UTC()
	})
	if snap == nil {
		return
	}
	if err := s.store.UpdateRunProgress(ctx, snap); err != nil {
		L.Error(ctx, err, "failed to persist run progress", "stage", snap.Stage)
	}
}

// finish moves the run to its terminal state, persists it and releases the
// single-flight slot before hooks and notifications run.
func (s *Service) finish(ctx context.Context, L log.Logger, runID string, runErr error, dur time.Duration) {
	now := time.Now().UTC()
	final := s.runs.update(runID, func(r *Run) {
		r.UpdatedAt = now
		r.CompletedAt = now
		if runErr != nil {
			r.Status = StatusFailed
			r.Stage = StageFailed
			r.LastError = runErr.Error()
			r.Counters.Failed++
			return
		}
		r.Status = StatusCompleted
		r.Stage = StageCompleted
	})
	if final == nil {
		L.Error(ctx, runErr, "triage run vanished from registry")
		return
	}

	var err error
	if runErr != nil {
		err = s.store.FailRun(ctx, final)
		L.Error(ctx, runErr, "triage run failed",
			"processed", final.Counters.Processed,
			"failed", final.Counters.Failed,
		)
	} else {
		err = s.store.CompleteRun(ctx, final)
		L.Info(ctx, "triage run complete",
			"duration", dur.Seconds(),
			"processed", final.Counters.Processed,
			"cached", final.Counters.Cached,
			"categorized", final.Counters.Categorized,
			"uncategorized", final.Counters.Uncategorized,
			"failed", final.Counters.Failed,
			"llm_calls", final.Usage.Calls,
			"prompt_tokens", final.Usage.PromptTokens,
			"completion_tokens", final.Usage.CompletionTokens,
			"estimated_cost_usd", final.Usage.EstimatedCostUSD,
		)
	}
	if err != nil {
		L.Error(ctx, err, "failed to persist terminal run state", "status", final.Status)
	}
	s.runs.end(runID)

	s.hooks.complete(final, dur.Seconds())

	if s.opts.Notifier != nil {
		if err := s.opts.Notifier.Send(ctx, final); err != nil {
			L.Warn(ctx, "run notification failed", "error", err)
		}
	}
}

func chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = len(items)
	}
	var out [][]T
	for start := 0; start < len(items); start += size {
		out = append(out, items[start:min(start+size, len(items))])
	}
	return out
}
