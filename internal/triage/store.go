package triage

import "context"

// Store is the persistence interface for bookmarks, triage records and runs.
// Writes are idempotent upserts keyed by bookmark id or run id, so repeated
// progress flushes are safe.
type Store interface {
	// ListBookmarks returns the current bookmark collection.
	ListBookmarks(ctx context.Context) ([]Bookmark, error)

	// CachedTriages returns the last stored record per bookmark id.
	CachedTriages(ctx context.Context) (map[int64]Record, error)

	// UpsertTriages writes records, replacing any existing record for the same bookmark.
	UpsertTriages(ctx context.Context, records []Record) error

	CreateRun(ctx context.Context, run *Run) error
	UpdateRunProgress(ctx context.Context, run *Run) error
	CompleteRun(ctx context.Context, run *Run) error
	FailRun(ctx context.Context, run *Run) error

	// LatestRun returns the most recently started run.
	LatestRun(ctx context.Context) (*Run, bool, error)

	// ListCategoryCounts returns per-category counts for a run, largest first,
	// ties broken by category name.
	ListCategoryCounts(ctx context.Context, runID string) ([]CategoryCount, error)

	// ListUncategorized returns up to limit uncategorized bookmarks of a run,
	// most recently updated first.
	ListUncategorized(ctx context.Context, runID string, limit int) ([]UncategorizedBookmark, error)
}

// Notifier is notified once a run reaches a terminal state.
type Notifier interface {
	Send(ctx context.Context, run *Run) error
}
