package triage

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/linnemanlabs/sift/internal/fetch"
)

// PageFetcher retrieves a page for excerpt acquisition.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (*fetch.Page, error)
}

// Fetch outcomes reported to hooks.
const (
	FetchOK      = "ok"
	FetchError   = "error"
	FetchStatus  = "bad_status"
	FetchNonHTML = "non_html"
	FetchEmpty   = "empty"
)

// prepare classifies every bookmark, acquires excerpts for the fetchable ones with
// at most workers concurrent fetches, and fingerprints the result. The returned
// slice has the same order as the input.
func (s *Service) prepare(ctx context.Context, bookmarks []Bookmark) []*PreparedBookmark {
	types := make([]SourceType, len(bookmarks))
	targets := make([]string, len(bookmarks))
	for i := range bookmarks {
		types[i], targets[i] = classify(&bookmarks[i])
	}

	excerpts := make([]string, len(bookmarks))
	if s.fetcher != nil {
		var g errgroup.Group
		g.SetLimit(s.opts.FetchWorkers)
		for i := range bookmarks {
			if !types[i].Fetchable() {
				continue
			}
			g.Go(func() error {
				excerpts[i] = s.acquireExcerpt(ctx, targets[i])
				return nil
			})
		}
		_ = g.Wait()
	}

	out := make([]*PreparedBookmark, len(bookmarks))
	for i := range bookmarks {
		out[i] = &PreparedBookmark{
			Bookmark:   bookmarks[i],
			SourceType: types[i],
			TargetURL:  targets[i],
			Excerpt:    excerpts[i],
			SourceHash: Fingerprint(&bookmarks[i], excerpts[i]),
		}
	}
	return out
}

// acquireExcerpt never fails: any problem degrades to an empty excerpt.
func (s *Service) acquireExcerpt(ctx context.Context, target string) string {
	page, err := s.fetcher.Fetch(ctx, target)
	outcome, excerpt := FetchOK, ""
	switch {
	case err != nil:
		outcome = FetchError
	case !page.OK():
		outcome = FetchStatus
	case !fetch.IsHTML(page.ContentType):
		outcome = FetchNonHTML
	default:
		excerpt = fetch.Sanitize(page.Body, s.opts.ExcerptChars)
		if excerpt == "" {
			outcome = FetchEmpty
		}
	}
	if s.hooks.OnFetch != nil {
		s.hooks.OnFetch(outcome)
	}
	return excerpt
}
