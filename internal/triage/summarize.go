package triage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"unicode/utf8"
)

const (
	summaryExcerptChars = 2200
	minSummaryChars     = 12
	maxSummaryChars     = 420
)

const summarizeSystemPrompt = `You write short bookmark summaries.
For every bookmark in the batch write one or two plain sentences (at most 400
characters) describing what the page is about and why someone would have saved it.
Use the title, URL, category, tags and excerpt. Do not invent details.

Respond with a single JSON object and nothing else:
{"summaries": [{"id": 1, "summary": "..."}]}`

type summarizeInput struct {
	ID       int64    `json:"id"`
	Title    string   `json:"title"`
	URL      string   `json:"url"`
	Category string   `json:"category,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Excerpt  string   `json:"excerpt,omitempty"`
}

type summaryItem struct {
	ID      itemID `json:"id"`
	Summary any    `json:"summary"`
}

// needsModelSummary reports whether a bookmark is sent to the model at all.
func needsModelSummary(pb *PreparedBookmark) bool {
	return pb.SourceType != SourceDead && pb.SourceType != SourceUnsupported
}

// summarizeBatch returns a summary per bookmark id. An error means the whole call
// failed; missing or too short summaries fall back to local text.
func (s *Service) summarizeBatch(ctx context.Context, batch []*PreparedBookmark, assignments map[int64]Assignment) (map[int64]string, error) {
	inputs := make([]summarizeInput, 0, len(batch))
	for _, pb := range batch {
		a := assignments[pb.ID]
		inputs = append(inputs, summarizeInput{
			ID:       pb.ID,
			Title:    normalizeSpace(pb.Title),
			URL:      pb.TargetURL,
			Category: a.Category,
			Tags:     a.Tags,
			Excerpt:  truncateRunes(pb.Excerpt, summaryExcerptChars),
		})
	}

	payload, err := json.Marshal(map[string]any{"bookmarks": inputs})
	if err != nil {
		return nil, fmt.Errorf("marshal batch: %w", err)
	}

	resp, err := s.complete(ctx, StageSummarizing, &LLMRequest{
		Model:       s.opts.Versions.SummaryModel,
		System:      summarizeSystemPrompt,
		Payload:     string(payload),
		Temperature: 0.3,
		MaxTokens:   4096,
		JSON:        true,
	})
	if err != nil {
		return nil, err
	}

	var out struct {
		Summaries []json.RawMessage `json:"summaries"`
	}
	if err := decodeObject(resp.Content, &out); err != nil {
		return nil, err
	}

	byID := make(map[string]string, len(out.Summaries))
	for _, item := range decodeItems[summaryItem](out.Summaries) {
		if text, ok := item.Summary.(string); ok {
			if _, dup := byID[string(item.ID)]; !dup {
				byID[string(item.ID)] = text
			}
		}
	}

	summaries := make(map[int64]string, len(batch))
	for _, pb := range batch {
		summaries[pb.ID] = NormalizeSummary(byID[strconv.FormatInt(pb.ID, 10)], pb)
	}
	return summaries, nil
}

// NormalizeSummary collapses whitespace and bounds the length of a model summary,
// substituting the local fallback when it is missing or too short.
func NormalizeSummary(raw string, pb *PreparedBookmark) string {
	text := normalizeSpace(raw)
	if utf8.RuneCountInString(text) < minSummaryChars {
		return FallbackSummary(pb)
	}
	return truncateRunes(text, maxSummaryChars)
}
