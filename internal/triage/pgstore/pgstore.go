// Package pgstore provides a PostgreSQL implementation of triage.Store.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/sift/internal/triage"
)

var tracer = otel.Tracer("github.com/linnemanlabs/sift/internal/triage/pgstore")

//go:embed schema.sql
var schema string

// Store persists bookmarks, triage records and runs in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on pool and returns a ready Store. The caller owns the pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// ListBookmarks returns every bookmark ordered by ID.
func (s *Store) ListBookmarks(ctx context.Context) ([]triage.Bookmark, error) {
	ctx, span := startSpan(ctx, "pgstore.ListBookmarks", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT id, url, title, folder_path, link_status, final_url, http_status
		 FROM bookmarks ORDER BY id`)
	if err != nil {
		return nil, fail(span, fmt.Errorf("query bookmarks: %w", err))
	}
	defer rows.Close()

	var out []triage.Bookmark
	for rows.Next() {
		var (
			b      triage.Bookmark
			status string
		)
		if err := rows.Scan(&b.ID, &b.URL, &b.Title, &b.FolderPath, &status, &b.FinalURL, &b.HTTPStatus); err != nil {
			return nil, fail(span, fmt.Errorf("scan bookmark: %w", err))
		}
		b.LinkStatus = triage.LinkStatus(status)
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, fmt.Errorf("iterate bookmarks: %w", err))
	}
	span.SetAttributes(attribute.Int("sift.bookmarks", len(out)))
	return out, nil
}

// CachedTriages returns every stored triage record keyed by bookmark ID.
func (s *Store) CachedTriages(ctx context.Context) (map[int64]triage.Record, error) {
	ctx, span := startSpan(ctx, "pgstore.CachedTriages", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT bookmark_id, run_id, category, tags, summary, reason_code, confidence,
		        source_hash, category_model, summary_model, prompt_version, updated_at
		 FROM bookmark_triage`)
	if err != nil {
		return nil, fail(span, fmt.Errorf("query triages: %w", err))
	}
	defer rows.Close()

	out := make(map[int64]triage.Record)
	for rows.Next() {
		var r triage.Record
		if err := rows.Scan(&r.BookmarkID, &r.RunID, &r.Category, &r.Tags, &r.Summary, &r.ReasonCode,
			&r.Confidence, &r.SourceHash, &r.CategoryModel, &r.SummaryModel, &r.PromptVersion, &r.UpdatedAt); err != nil {
			return nil, fail(span, fmt.Errorf("scan triage: %w", err))
		}
		if r.Tags == nil {
			r.Tags = []string{}
		}
		out[r.BookmarkID] = r
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, fmt.Errorf("iterate triages: %w", err))
	}
	return out, nil
}

const upsertTriageSQL = `INSERT INTO bookmark_triage (
	bookmark_id, run_id, category, tags, summary, reason_code, confidence,
	source_hash, category_model, summary_model, prompt_version, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
ON CONFLICT (bookmark_id) DO UPDATE SET
	run_id         = EXCLUDED.run_id,
	category       = EXCLUDED.category,
	tags           = EXCLUDED.tags,
	summary        = EXCLUDED.summary,
	reason_code    = EXCLUDED.reason_code,
	confidence     = EXCLUDED.confidence,
	source_hash    = EXCLUDED.source_hash,
	category_model = EXCLUDED.category_model,
	summary_model  = EXCLUDED.summary_model,
	prompt_version = EXCLUDED.prompt_version,
	updated_at     = EXCLUDED.updated_at`

// UpsertTriages writes the records in a single transaction, replacing any
// existing record for the same bookmark.
func (s *Store) UpsertTriages(ctx context.Context, records []triage.Record) error {
	if len(records) == 0 {
		return nil
	}
	ctx, span := startSpan(ctx, "pgstore.UpsertTriages", "UPSERT")
	defer span.End()
	span.SetAttributes(attribute.Int("sift.records", len(records)))

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fail(span, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	batch := &pgx.Batch{}
	for i := range records {
		r := &records[i]
		tags := r.Tags
		if tags == nil {
			tags = []string{}
		}
		batch.Queue(upsertTriageSQL,
			r.BookmarkID, r.RunID, r.Category, tags, r.Summary, r.ReasonCode, r.Confidence,
			r.SourceHash, r.CategoryModel, r.SummaryModel, r.PromptVersion, r.UpdatedAt,
		)
	}
	br := tx.SendBatch(ctx, batch)
	for i := range records {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fail(span, fmt.Errorf("upsert triage %d: %w", records[i].BookmarkID, err))
		}
	}
	if err := br.Close(); err != nil {
		return fail(span, fmt.Errorf("close batch: %w", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return fail(span, fmt.Errorf("commit: %w", err))
	}
	return nil
}

const runColumns = `id, status, stage, ignore_cache, total, processed, cached, categorized,
	uncategorized, failed, llm_calls, prompt_tokens, completion_tokens, estimated_cost_usd,
	categories, last_error, started_at, updated_at, completed_at`

const upsertRunSQL = `INSERT INTO triage_runs (` + runColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
ON CONFLICT (id) DO UPDATE SET
	status             = EXCLUDED.status,
	stage              = EXCLUDED.stage,
	total              = EXCLUDED.total,
	processed          = EXCLUDED.processed,
	cached             = EXCLUDED.cached,
	categorized        = EXCLUDED.categorized,
	uncategorized      = EXCLUDED.uncategorized,
	failed             = EXCLUDED.failed,
	llm_calls          = EXCLUDED.llm_calls,
	prompt_tokens      = EXCLUDED.prompt_tokens,
	completion_tokens  = EXCLUDED.completion_tokens,
	estimated_cost_usd = EXCLUDED.estimated_cost_usd,
	categories         = EXCLUDED.categories,
	last_error         = EXCLUDED.last_error,
	updated_at         = EXCLUDED.updated_at,
	completed_at       = EXCLUDED.completed_at`

func (s *Store) putRun(ctx context.Context, name string, run *triage.Run) error {
	ctx, span := startSpan(ctx, name, "UPSERT")
	defer span.End()
	span.SetAttributes(
		attribute.String("sift.run.id", run.ID),
		attribute.String("sift.run.stage", string(run.Stage)),
	)

	var completedAt *time.Time
	if !run.CompletedAt.IsZero() {
		completedAt = &run.CompletedAt
	}
	categories := run.Categories
	if categories == nil {
		categories = []string{}
	}

	_, err := s.pool.Exec(ctx, upsertRunSQL,
		run.ID, string(run.Status), string(run.Stage), run.IgnoreCache, run.Total,
		run.Counters.Processed, run.Counters.Cached, run.Counters.Categorized,
		run.Counters.Uncategorized, run.Counters.Failed,
		run.Usage.Calls, run.Usage.PromptTokens, run.Usage.CompletionTokens, run.Usage.EstimatedCostUSD,
		categories, run.LastError, run.StartedAt, run.UpdatedAt, completedAt,
	)
	if err != nil {
		return fail(span, fmt.Errorf("upsert run %s: %w", run.ID, err))
	}
	return nil
}

// CreateRun inserts a new run row.
func (s *Store) CreateRun(ctx context.Context, run *triage.Run) error {
	return s.putRun(ctx, "pgstore.CreateRun", run)
}

// UpdateRunProgress writes the run's current stage, counters and usage.
func (s *Store) UpdateRunProgress(ctx context.Context, run *triage.Run) error {
	return s.putRun(ctx, "pgstore.UpdateRunProgress", run)
}

// CompleteRun writes the terminal state of a completed run.
func (s *Store) CompleteRun(ctx context.Context, run *triage.Run) error {
	return s.putRun(ctx, "pgstore.CompleteRun", run)
}

// FailRun writes the terminal state of a failed run.
func (s *Store) FailRun(ctx context.Context, run *triage.Run) error {
	return s.putRun(ctx, "pgstore.FailRun", run)
}

// LatestRun returns the most recently started run.
func (s *Store) LatestRun(ctx context.Context) (*triage.Run, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.LatestRun", "SELECT")
	defer span.End()

	row := s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM triage_runs ORDER BY started_at DESC, id DESC LIMIT 1`)
	run, err := scanRun(row)
	if err != nil {
		return nil, false, fail(span, err)
	}
	if run == nil {
		return nil, false, nil
	}
	return run, true, nil
}

// scanRun returns (nil, nil) when no row is found.
func scanRun(row pgx.Row) (*triage.Run, error) {
	var (
		r           triage.Run
		status      string
		stage       string
		completedAt *time.Time
	)
	err := row.Scan(
		&r.ID, &status, &stage, &r.IgnoreCache, &r.Total,
		&r.Counters.Processed, &r.Counters.Cached, &r.Counters.Categorized,
		&r.Counters.Uncategorized, &r.Counters.Failed,
		&r.Usage.Calls, &r.Usage.PromptTokens, &r.Usage.CompletionTokens, &r.Usage.EstimatedCostUSD,
		&r.Categories, &r.LastError, &r.StartedAt, &r.UpdatedAt, &completedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	r.Status = triage.Status(status)
	r.Stage = triage.Stage(stage)
	if completedAt != nil {
		r.CompletedAt = *completedAt
	}
	return &r, nil
}

// ListCategoryCounts counts the categorized records stamped with runID.
func (s *Store) ListCategoryCounts(ctx context.Context, runID string) ([]triage.CategoryCount, error) {
	ctx, span := startSpan(ctx, "pgstore.ListCategoryCounts", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT category, count(*) FROM bookmark_triage
		 WHERE run_id = $1 AND category <> ''
		 GROUP BY category
		 ORDER BY count(*) DESC, category ASC`, runID)
	if err != nil {
		return nil, fail(span, fmt.Errorf("query category counts: %w", err))
	}
	defer rows.Close()

	out := []triage.CategoryCount{}
	for rows.Next() {
		var c triage.CategoryCount
		if err := rows.Scan(&c.Category, &c.Count); err != nil {
			return nil, fail(span, fmt.Errorf("scan category count: %w", err))
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, fmt.Errorf("iterate category counts: %w", err))
	}
	return out, nil
}

// ListUncategorized returns up to limit uncategorized bookmarks of runID, most
// recently updated first.
func (s *Store) ListUncategorized(ctx context.Context, runID string, limit int) ([]triage.UncategorizedBookmark, error) {
	ctx, span := startSpan(ctx, "pgstore.ListUncategorized", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT t.bookmark_id, b.url, b.title, t.reason_code, t.updated_at
		 FROM bookmark_triage t JOIN bookmarks b ON b.id = t.bookmark_id
		 WHERE t.run_id = $1 AND t.category = ''
		 ORDER BY t.updated_at DESC, t.bookmark_id ASC
		 LIMIT $2`, runID, limit)
	if err != nil {
		return nil, fail(span, fmt.Errorf("query uncategorized: %w", err))
	}
	defer rows.Close()

	out := []triage.UncategorizedBookmark{}
	for rows.Next() {
		var u triage.UncategorizedBookmark
		if err := rows.Scan(&u.BookmarkID, &u.URL, &u.Title, &u.ReasonCode, &u.UpdatedAt); err != nil {
			return nil, fail(span, fmt.Errorf("scan uncategorized: %w", err))
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, fmt.Errorf("iterate uncategorized: %w", err))
	}
	return out, nil
}
