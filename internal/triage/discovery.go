package triage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/linnemanlabs/go-core/log"
)

const maxCategories = 16

// DefaultCategories is the taxonomy used when discovery yields nothing usable.
var DefaultCategories = []string{
	"Development",
	"Reference",
	"Learning",
	"News & Articles",
	"Tools & Services",
	"Design",
	"Work",
	"Shopping",
	"Entertainment",
	"Personal",
}

const discoverySystemPrompt = `You organize a personal bookmark collection.
You receive an aggregate digest of the collection: the most frequent domains, the most
frequent folders and a sample of titles. Propose a flat taxonomy of at most 16 short,
mutually exclusive category names that would cover most bookmarks.

Respond with a single JSON object and nothing else:
{"categories": ["Category A", "Category B"]}`

// discoverCategories asks the model for a taxonomy. Any failure other than a
// missing provider configuration falls back to DefaultCategories.
func (s *Service) discoverCategories(ctx context.Context, L log.Logger, digest *Digest) ([]string, error) {
	payload, err := json.Marshal(map[string]any{
		"max_categories": maxCategories,
		"collection":     digest,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal digest: %w", err)
	}

	resp, err := s.complete(ctx, StageDiscoveringCategories, &LLMRequest{
		Model:       s.opts.Versions.CategoryModel,
		System:      discoverySystemPrompt,
		Payload:     string(payload),
		Temperature: 0.2,
		MaxTokens:   1024,
		JSON:        true,
	})
	if err != nil {
		if errors.Is(err, ErrProviderNotConfigured) {
			return nil, err
		}
		L.Warn(ctx, "category discovery failed, using default taxonomy", "error", err)
		return defaultTaxonomy(), nil
	}

	var out struct {
		Categories []any `json:"categories"`
	}
	if err := decodeObject(resp.Content, &out); err != nil {
		L.Warn(ctx, "category discovery returned malformed output, using default taxonomy", "error", err)
		return defaultTaxonomy(), nil
	}

	cats := NormalizeCategories(stringsOnly(out.Categories))
	if len(cats) == 0 {
		L.Warn(ctx, "category discovery returned no categories, using default taxonomy")
		return defaultTaxonomy(), nil
	}
	return cats, nil
}

// NormalizeCategories trims and collapses whitespace, drops empty and duplicate
// names (case-insensitive) and keeps at most 16 categories.
func NormalizeCategories(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, min(len(raw), maxCategories))
	for _, c := range raw {
		name := normalizeSpace(c)
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, name)
		if len(out) == maxCategories {
			break
		}
	}
	return out
}

func defaultTaxonomy() []string {
	return append([]string(nil), DefaultCategories...)
}
