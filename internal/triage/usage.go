package triage

import "regexp"

// Price is the USD price per million tokens for a model.
type Price struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// prices is keyed by model name without a release date suffix.
var prices = map[string]Price{
	"claude-opus-4":     {InputPerMillion: 15, OutputPerMillion: 75},
	"claude-opus-4-1":   {InputPerMillion: 15, OutputPerMillion: 75},
	"claude-sonnet-4":   {InputPerMillion: 3, OutputPerMillion: 15},
	"claude-sonnet-4-5": {InputPerMillion: 3, OutputPerMillion: 15},
	"claude-haiku-4-5":  {InputPerMillion: 1, OutputPerMillion: 5},
	"claude-3-5-haiku":  {InputPerMillion: 0.8, OutputPerMillion: 4},
	"gpt-4o":            {InputPerMillion: 2.5, OutputPerMillion: 10},
	"gpt-4o-mini":       {InputPerMillion: 0.15, OutputPerMillion: 0.6},
	"gpt-4.1":           {InputPerMillion: 2, OutputPerMillion: 8},
	"gpt-4.1-mini":      {InputPerMillion: 0.4, OutputPerMillion: 1.6},
	"gpt-4.1-nano":      {InputPerMillion: 0.1, OutputPerMillion: 0.4},
}

// dateSuffixRe matches -YYYYMMDD and -YYYY-MM-DD release suffixes.
var dateSuffixRe = regexp.MustCompile(`-(\d{8}|\d{4}-\d{2}-\d{2})$`)

// LookupPrice returns the price for a model, ignoring any release date suffix.
func LookupPrice(model string) (Price, bool) {
	if p, ok := prices[model]; ok {
		return p, true
	}
	p, ok := prices[dateSuffixRe.ReplaceAllString(model, "")]
	return p, ok
}

// Cost estimates the USD cost of a call. Unknown models cost nothing.
func Cost(model string, t TokenUsage) float64 {
	p, ok := LookupPrice(model)
	if !ok {
		return 0
	}
	return float64(t.InputTokens)/1e6*p.InputPerMillion + float64(t.OutputTokens)/1e6*p.OutputPerMillion
}

// Record accounts one external call. Usage is never decremented.
func (u *Usage) Record(model string, t TokenUsage) {
	u.Calls++
	u.PromptTokens += max(t.InputTokens, 0)
	u.CompletionTokens += max(t.OutputTokens, 0)
	u.EstimatedCostUSD += Cost(model, TokenUsage{InputTokens: max(t.InputTokens, 0), OutputTokens: max(t.OutputTokens, 0)})
}
