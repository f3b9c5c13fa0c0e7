// Package memstore provides an in-memory implementation of triage.Store.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/linnemanlabs/sift/internal/triage"
)

// Store holds bookmarks, triage records and runs in memory. Suitable for dev/testing.
type Store struct {
	mu        sync.RWMutex
	bookmarks []triage.Bookmark
	records   map[int64]triage.Record // bookmark ID -> latest record
	runs      map[string]*triage.Run  // run ID -> run
	runOrder  []string                // run IDs in creation order
}

// New initializes a new in-memory Store seeded with bookmarks.
func New(bookmarks ...triage.Bookmark) *Store {
	return &Store{
		bookmarks: append([]triage.Bookmark(nil), bookmarks...),
		records:   make(map[int64]triage.Record),
		runs:      make(map[string]*triage.Run),
	}
}

// SetBookmarks replaces the bookmark collection.
func (s *Store) SetBookmarks(bookmarks []triage.Bookmark) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookmarks = append([]triage.Bookmark(nil), bookmarks...)
}

// ListBookmarks returns a copy of the bookmark collection.
func (s *Store) ListBookmarks(_ context.Context) ([]triage.Bookmark, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]triage.Bookmark(nil), s.bookmarks...), nil
}

// CachedTriages returns a copy of every stored record keyed by bookmark ID.
func (s *Store) CachedTriages(_ context.Context) (map[int64]triage.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int64]triage.Record, len(s.records))
	for id, r := range s.records {
		out[id] = copyRecord(r)
	}
	return out, nil
}

// UpsertTriages stores copies of the records, replacing existing ones.
func (s *Store) UpsertTriages(_ context.Context, records []triage.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		s.records[r.BookmarkID] = copyRecord(r)
	}
	return nil
}

// Record returns the stored record for a bookmark.
func (s *Store) Record(id int64) (triage.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return triage.Record{}, false
	}
	return copyRecord(r), true
}

// CreateRun stores a new run.
func (s *Store) CreateRun(_ context.Context, run *triage.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; !ok {
		s.runOrder = append(s.runOrder, run.ID)
	}
	s.runs[run.ID] = run.Clone()
	return nil
}

// UpdateRunProgress stores a copy of the run.
func (s *Store) UpdateRunProgress(ctx context.Context, run *triage.Run) error {
	return s.CreateRun(ctx, run)
}

// CompleteRun stores the terminal state of a completed run.
func (s *Store) CompleteRun(ctx context.Context, run *triage.Run) error {
	return s.CreateRun(ctx, run)
}

// FailRun stores the terminal state of a failed run.
func (s *Store) FailRun(ctx context.Context, run *triage.Run) error {
	return s.CreateRun(ctx, run)
}

// GetRun returns a copy of a run by ID.
func (s *Store) GetRun(id string) (*triage.Run, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}

// RunCount returns the number of runs ever created.
func (s *Store) RunCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runOrder)
}

// LatestRun returns a copy of the most recently created run.
func (s *Store) LatestRun(_ context.Context) (*triage.Run, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.runOrder) == 0 {
		return nil, false, nil
	}
	return s.runs[s.runOrder[len(s.runOrder)-1]].Clone(), true, nil
}

// ListCategoryCounts counts the categorized records stamped with runID.
func (s *Store) ListCategoryCounts(_ context.Context, runID string) ([]triage.CategoryCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[string]int)
	for _, r := range s.records {
		if r.RunID == runID && r.Category != "" {
			counts[r.Category]++
		}
	}
	out := make([]triage.CategoryCount, 0, len(counts))
	for c, n := range counts {
		out = append(out, triage.CategoryCount{Category: c, Count: n})
	}
	triage.SortCategoryCounts(out)
	return out, nil
}

// ListUncategorized returns up to limit uncategorized bookmarks of runID, most
// recently updated first.
func (s *Store) ListUncategorized(_ context.Context, runID string, limit int) ([]triage.UncategorizedBookmark, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byID := make(map[int64]*triage.Bookmark, len(s.bookmarks))
	for i := range s.bookmarks {
		byID[s.bookmarks[i].ID] = &s.bookmarks[i]
	}

	var out []triage.UncategorizedBookmark
	for _, r := range s.records {
		if r.RunID != runID || r.Category != "" {
			continue
		}
		u := triage.UncategorizedBookmark{
			BookmarkID: r.BookmarkID,
			ReasonCode: r.ReasonCode,
			UpdatedAt:  r.UpdatedAt,
		}
		if b, ok := byID[r.BookmarkID]; ok {
			u.URL = b.URL
			u.Title = b.Title
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].BookmarkID < out[j].BookmarkID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func copyRecord(r triage.Record) triage.Record {
	r.Tags = append([]string{}, r.Tags...)
	if r.Confidence != nil {
		c := *r.Confidence
		r.Confidence = &c
	}
	return r
}
