// Package claude implements triage.Provider on the Anthropic Messages API.
package claude

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/linnemanlabs/sift/internal/triage"
)

const (
	defaultTimeout   = 120 * time.Second
	defaultMaxTokens = 4096

	jsonInstruction = "Respond with a single JSON object and nothing else."
)

// Client implements triage.Provider for the Claude API.
type Client struct {
	sdk anthropic.Client
}

// New creates a Claude client. Extra request options (base URL, retries) are
// passed through to the SDK.
func New(apiKey string, opts ...option.RequestOption) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, triage.ErrProviderNotConfigured
	}
	all := append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithRequestTimeout(defaultTimeout),
	}, opts...)
	return &Client{sdk: anthropic.NewClient(all...)}, nil
}

// Complete sends a single-turn request and returns the concatenated text output.
func (c *Client) Complete(ctx context.Context, req *triage.LLMRequest) (*triage.LLMResponse, error) {
	msg, err := c.sdk.Messages.New(ctx, buildParams(req))
	if err != nil {
		return nil, fmt.Errorf("claude messages: %w", err)
	}
	return fromSDKResponse(msg), nil
}

func buildParams(req *triage.LLMRequest) anthropic.MessageNewParams {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	system := req.System
	if req.JSON {
		system = strings.TrimSpace(system + "\n\n" + jsonInstruction)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Payload)),
		},
		Temperature: anthropic.Float(req.Temperature),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	return params
}

func fromSDKResponse(msg *anthropic.Message) *triage.LLMResponse {
	var b strings.Builder
	for i := range msg.Content {
		if msg.Content[i].Type == "text" {
			b.WriteString(msg.Content[i].Text)
		}
	}
	return &triage.LLMResponse{
		Content: b.String(),
		Model:   string(msg.Model),
		Usage: triage.TokenUsage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}
}
