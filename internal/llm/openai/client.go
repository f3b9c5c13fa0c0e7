// Package openai implements triage.Provider on OpenAI-compatible chat completion APIs.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/linnemanlabs/sift/internal/triage"
)

const defaultTimeout = 120 * time.Second

// Client implements triage.Provider for OpenAI and compatible endpoints.
type Client struct {
	api *openai.Client
}

// New creates a client. An empty baseURL uses the OpenAI default.
func New(apiKey, baseURL string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, triage.ErrProviderNotConfigured
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	cfg.HTTPClient = &http.Client{Timeout: defaultTimeout}
	return &Client{api: openai.NewClientWithConfig(cfg)}, nil
}

// Complete sends a system+user chat completion and returns the first choice.
func (c *Client) Complete(ctx context.Context, req *triage.LLMRequest) (*triage.LLMResponse, error) {
	resp, err := c.api.CreateChatCompletion(ctx, buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	return fromResponse(&resp), nil
}

func buildRequest(req *triage.LLMRequest) openai.ChatCompletionRequest {
	var msgs []openai.ChatCompletionMessage
	if req.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Payload})

	out := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    msgs,
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
	}
	if req.JSON {
		out.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}
	return out
}

func fromResponse(resp *openai.ChatCompletionResponse) *triage.LLMResponse {
	out := &triage.LLMResponse{
		Model: resp.Model,
		Usage: triage.TokenUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
	if len(resp.Choices) > 0 {
		out.Content = resp.Choices[0].Message.Content
	}
	return out
}
