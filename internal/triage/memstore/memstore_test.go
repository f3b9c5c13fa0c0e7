package memstore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/sift/internal/triage"
)

func TestStore_ListBookmarksReturnsCopy(t *testing.T) {
	t.Parallel()

	s := New(triage.Bookmark{ID: 1, URL: "https://a.example", Title: "A"})
	ctx := context.Background()

	got, err := s.ListBookmarks(ctx)
	if err != nil {
		t.Fatalf("ListBookmarks: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	got[0].Title = "mutated"

	again, _ := s.ListBookmarks(ctx)
	if again[0].Title != "A" {
		t.Errorf("Title = %q, stored bookmark was mutated through returned slice", again[0].Title)
	}
}

func TestStore_UpsertAndCachedTriages(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	conf := 0.8
	rec := triage.Record{BookmarkID: 7, RunID: "r1", Category: "Development", Tags: []string{"go"}, Confidence: &conf}
	if err := s.UpsertTriages(ctx, []triage.Record{rec}); err != nil {
		t.Fatalf("UpsertTriages: %v", err)
	}

	cached, err := s.CachedTriages(ctx)
	if err != nil {
		t.Fatalf("CachedTriages: %v", err)
	}
	got, ok := cached[7]
	if !ok {
		t.Fatal("expected record for bookmark 7")
	}
	got.Tags[0] = "mutated"
	*got.Confidence = 0.1

	stored, _ := s.Record(7)
	if stored.Tags[0] != "go" {
		t.Errorf("Tags[0] = %q, want %q", stored.Tags[0], "go")
	}
	if *stored.Confidence != 0.8 {
		t.Errorf("Confidence = %v, want 0.8", *stored.Confidence)
	}

	rec.RunID = "r2"
	rec.Category = "Reference"
	if err := s.UpsertTriages(ctx, []triage.Record{rec}); err != nil {
		t.Fatalf("UpsertTriages: %v", err)
	}
	stored, _ = s.Record(7)
	if stored.RunID != "r2" || stored.Category != "Reference" {
		t.Errorf("record = %+v, want replaced by r2/Reference", stored)
	}
}

func TestStore_LatestRun(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	_, ok, err := s.LatestRun(ctx)
	if err != nil {
		t.Fatalf("LatestRun: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false with no runs")
	}

	for _, id := range []string{"r1", "r2"} {
		if err := s.CreateRun(ctx, &triage.Run{ID: id, Status: triage.StatusRunning}); err != nil {
			t.Fatalf("CreateRun: %v", err)
		}
	}
	// updating an older run must not change which run is latest
	if err := s.CompleteRun(ctx, &triage.Run{ID: "r1", Status: triage.StatusCompleted}); err != nil {
		t.Fatalf("CompleteRun: %v", err)
	}

	got, ok, err := s.LatestRun(ctx)
	if err != nil || !ok {
		t.Fatalf("LatestRun: ok=%v err=%v", ok, err)
	}
	if got.ID != "r2" {
		t.Errorf("ID = %q, want r2", got.ID)
	}
	if s.RunCount() != 2 {
		t.Errorf("RunCount = %d, want 2", s.RunCount())
	}
	r1, _ := s.GetRun("r1")
	if r1.Status != triage.StatusCompleted {
		t.Errorf("r1 status = %q, want completed", r1.Status)
	}
}

func TestStore_ListCategoryCounts(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	_ = s.UpsertTriages(ctx, []triage.Record{
		{BookmarkID: 1, RunID: "r1", Category: "News"},
		{BookmarkID: 2, RunID: "r1", Category: "Development"},
		{BookmarkID: 3, RunID: "r1", Category: "Development"},
		{BookmarkID: 4, RunID: "r1", Category: ""},
		{BookmarkID: 5, RunID: "r0", Category: "News"},
	})

	got, err := s.ListCategoryCounts(ctx, "r1")
	if err != nil {
		t.Fatalf("ListCategoryCounts: %v", err)
	}
	want := []triage.CategoryCount{{Category: "Development", Count: 2}, {Category: "News", Count: 1}}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestStore_ListUncategorized(t *testing.T) {
	t.Parallel()

	s := New(
		triage.Bookmark{ID: 1, URL: "https://one.example", Title: "One"},
		triage.Bookmark{ID: 2, URL: "https://two.example", Title: "Two"},
		triage.Bookmark{ID: 3, URL: "https://three.example", Title: "Three"},
	)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	_ = s.UpsertTriages(ctx, []triage.Record{
		{BookmarkID: 1, RunID: "r1", ReasonCode: triage.ReasonNotEnoughSignal, UpdatedAt: base},
		{BookmarkID: 2, RunID: "r1", ReasonCode: triage.ReasonCategorizationFailed, UpdatedAt: base.Add(time.Minute)},
		{BookmarkID: 3, RunID: "r1", Category: "Design", UpdatedAt: base},
	})

	got, err := s.ListUncategorized(ctx, "r1", 10)
	if err != nil {
		t.Fatalf("ListUncategorized: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].BookmarkID != 2 || got[0].Title != "Two" || got[0].ReasonCode != triage.ReasonCategorizationFailed {
		t.Errorf("[0] = %+v, want bookmark 2 first", got[0])
	}

	limited, _ := s.ListUncategorized(ctx, "r1", 1)
	if len(limited) != 1 {
		t.Errorf("limited len = %d, want 1", len(limited))
	}
}

func TestStore_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	var wg sync.WaitGroup

	for i := range 50 {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = s.UpsertTriages(ctx, []triage.Record{{BookmarkID: int64(n), RunID: "r1", Category: "Work"}})
			_ = s.UpdateRunProgress(ctx, &triage.Run{ID: fmt.Sprintf("run-%d", n)})
			_, _ = s.CachedTriages(ctx)
			_, _, _ = s.LatestRun(ctx)
		}(i)
	}
	wg.Wait()

	cached, _ := s.CachedTriages(ctx)
	if len(cached) != 50 {
		t.Errorf("records = %d, want 50", len(cached))
	}
	if s.RunCount() != 50 {
		t.Errorf("RunCount = %d, want 50", s.RunCount())
	}
}
