package triage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

const (
	maxTags              = 5
	categoryExcerptChars = 1200
)

const categorizeSystemPrompt = `You categorize bookmarks.
You receive the allowed categories and a batch of bookmarks with their title, URL,
folder, link type and a short excerpt of the page. For every bookmark choose exactly one
category from the allowed list, or null when none fits or there is not enough signal.
Add up to 5 short lowercase tags and a confidence between 0 and 1.
When category is null, set reason_code to a short snake_case reason.

Respond with a single JSON object and nothing else:
{"assignments": [{"id": 1, "category": "Name or null", "tags": ["tag"], "confidence": 0.8, "reason_code": null}]}`

type categorizeInput struct {
	ID       int64  `json:"id"`
	Title    string `json:"title"`
	URL      string `json:"url"`
	FinalURL string `json:"final_url,omitempty"`
	Folder   string `json:"folder,omitempty"`
	Type     string `json:"type"`
	Excerpt  string `json:"excerpt,omitempty"`
}

type categorizeItem struct {
	ID         itemID  `json:"id"`
	Category   *string `json:"category"`
	Tags       []any   `json:"tags"`
	Confidence any     `json:"confidence"`
	ReasonCode *string `json:"reason_code"`
}

// taxonomy resolves model-supplied names to the discovered category names.
type taxonomy map[string]string

func newTaxonomy(categories []string) taxonomy {
	t := make(taxonomy, len(categories))
	for _, c := range categories {
		t[strings.ToLower(normalizeSpace(c))] = c
	}
	return t
}

// resolve returns the canonical category, or "" when the name is not in the taxonomy.
func (t taxonomy) resolve(name string) string {
	return t[strings.ToLower(normalizeSpace(name))]
}

// categorizeBatch returns one assignment per bookmark in the batch. An error means
// the whole call failed; item-level problems are folded into reason codes.
func (s *Service) categorizeBatch(ctx context.Context, categories []string, batch []*PreparedBookmark) ([]Assignment, error) {
	inputs := make([]categorizeInput, 0, len(batch))
	for _, pb := range batch {
		in := categorizeInput{
			ID:      pb.ID,
			Title:   normalizeSpace(pb.Title),
			URL:     pb.URL,
			Folder:  pb.FolderPath,
			Type:    string(pb.SourceType),
			Excerpt: truncateRunes(pb.Excerpt, categoryExcerptChars),
		}
		if pb.TargetURL != pb.URL {
			in.FinalURL = pb.TargetURL
		}
		inputs = append(inputs, in)
	}

	payload, err := json.Marshal(map[string]any{
		"categories": categories,
		"bookmarks":  inputs,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal batch: %w", err)
	}

	resp, err := s.complete(ctx, StageCategorizing, &LLMRequest{
		Model:       s.opts.Versions.CategoryModel,
		System:      categorizeSystemPrompt,
		Payload:     string(payload),
		Temperature: 0.1,
		MaxTokens:   4096,
		JSON:        true,
	})
	if err != nil {
		return nil, err
	}

	var out struct {
		Assignments []json.RawMessage `json:"assignments"`
	}
	if err := decodeObject(resp.Content, &out); err != nil {
		return nil, err
	}

	byID := make(map[string]categorizeItem, len(out.Assignments))
	for _, item := range decodeItems[categorizeItem](out.Assignments) {
		if _, dup := byID[string(item.ID)]; !dup {
			byID[string(item.ID)] = item
		}
	}

	tax := newTaxonomy(categories)
	assignments := make([]Assignment, 0, len(batch))
	for _, pb := range batch {
		item, ok := byID[strconv.FormatInt(pb.ID, 10)]
		if !ok {
			assignments = append(assignments, Assignment{
				BookmarkID: pb.ID,
				Tags:       []string{},
				ReasonCode: ReasonMissingModelOutput,
			})
			continue
		}
		assignments = append(assignments, normalizeAssignment(pb.ID, &item, tax))
	}
	return assignments, nil
}

func normalizeAssignment(id int64, item *categorizeItem, tax taxonomy) Assignment {
	a := Assignment{
		BookmarkID: id,
		Tags:       NormalizeTags(stringsOnly(item.Tags)),
		Confidence: NormalizeConfidence(item.Confidence),
	}
	if item.Category != nil {
		a.Category = tax.resolve(*item.Category)
	}
	if a.Category == "" {
		a.ReasonCode = ReasonNotEnoughSignal
		if item.ReasonCode != nil {
			if rc := normalizeSpace(*item.ReasonCode); rc != "" {
				a.ReasonCode = rc
			}
		}
	}
	return a
}

// failedAssignments marks every bookmark of a failed batch as uncategorized.
func failedAssignments(batch []*PreparedBookmark) []Assignment {
	out := make([]Assignment, 0, len(batch))
	for _, pb := range batch {
		out = append(out, Assignment{
			BookmarkID: pb.ID,
			Tags:       []string{},
			ReasonCode: ReasonCategorizationFailed,
		})
	}
	return out
}

// NormalizeTags trims and collapses whitespace, drops empty and duplicate tags and
// keeps at most 5.
func NormalizeTags(raw []string) []string {
	out := make([]string, 0, min(len(raw), maxTags))
	seen := make(map[string]struct{}, len(raw))
	for _, t := range raw {
		tag := normalizeSpace(t)
		if tag == "" {
			continue
		}
		key := strings.ToLower(tag)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, tag)
		if len(out) == maxTags {
			break
		}
	}
	return out
}
