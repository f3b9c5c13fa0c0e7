// internal/triage/llm.go
package triage

import (
	"context"
	"errors"
)

// ErrProviderNotConfigured is returned by providers that have no credentials.
// A run that hits it fails instead of degrading.
var ErrProviderNotConfigured = errors.New("language model provider is not configured")

// Provider is the interface for any LLM backend.
type Provider interface {
	Complete(ctx context.Context, req *LLMRequest) (*LLMResponse, error)
}

// LLMRequest is one structured-output call: a system instruction plus a JSON payload.
type LLMRequest struct {
	Model       string
	System      string
	Payload     string
	Temperature float64
	MaxTokens   int

	// JSON asks the provider to return a single JSON object and nothing else.
	JSON bool
}

// LLMResponse carries the raw text returned by the provider and its token usage.
// Content is validated by the caller.
type LLMResponse struct {
	Content string
	Model   string
	Usage   TokenUsage
}

// TokenUsage is the token count reported for a single call.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}
