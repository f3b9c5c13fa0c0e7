// Package slack sends run notifications to Slack via incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/linnemanlabs/sift/internal/triage"
)

const (
	maxErrorLen = 1500
	httpTimeout = 10 * time.Second
)

// Notifier posts terminal run state to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
}

// New creates a new Slack notifier. If webhookURL is empty, Send is a no-op.
func New(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
	}
}

// Send posts a run summary to the configured webhook.
func (n *Notifier) Send(ctx context.Context, run *triage.Run) error {
	if n.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(buildMessage(run))
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func buildMessage(r *triage.Run) map[string]any {
	blocks := []map[string]any{
		headerBlock(r),
		{"type": "divider"},
		countersBlock(r),
	}
	if len(r.Categories) > 0 {
		blocks = append(blocks, mrkdwnSection("*Categories*\n"+strings.Join(r.Categories, " · ")))
	}
	if r.LastError != "" {
		blocks = append(blocks, mrkdwnSection("*Error*\n```"+truncate(r.LastError, maxErrorLen)+"```"))
	}
	blocks = append(blocks, contextBlock(r))
	return map[string]any{"blocks": blocks}
}

func headerBlock(r *triage.Run) map[string]any {
	emoji, title := "\U0001f7e2", "Bookmark triage complete" // green circle
	if r.Status == triage.StatusFailed {
		emoji, title = "\U0001f534", "Bookmark triage failed" // red circle
	} else if r.Counters.Failed > 0 {
		emoji = "\U0001f7e1" // yellow circle
	}
	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": fmt.Sprintf("%s %s", emoji, title),
		},
	}
}

func countersBlock(r *triage.Run) map[string]any {
	c := r.Counters
	fields := []map[string]any{
		mrkdwn(fmt.Sprintf("*Processed:* %d / %d", c.Processed, r.Total)),
		mrkdwn(fmt.Sprintf("*Cached:* %d", c.Cached)),
		mrkdwn(fmt.Sprintf("*Categorized:* %d", c.Categorized)),
		mrkdwn(fmt.Sprintf("*Uncategorized:* %d", c.Uncategorized)),
		mrkdwn(fmt.Sprintf("*Failed:* %d", c.Failed)),
		mrkdwn(fmt.Sprintf("*LLM:* %d calls, $%.4f", r.Usage.Calls, r.Usage.EstimatedCostUSD)),
	}
	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func contextBlock(r *triage.Run) map[string]any {
	ts := r.CompletedAt
	if ts.IsZero() {
		ts = r.UpdatedAt
	}
	text := fmt.Sprintf("sift • run %s • %s", r.ID, ts.UTC().Format("2006-01-02 15:04 UTC"))
	if !r.StartedAt.IsZero() && !r.CompletedAt.IsZero() {
		text += fmt.Sprintf(" • %s", r.CompletedAt.Sub(r.StartedAt).Round(time.Second))
	}
	return map[string]any{
		"type":     "context",
		"elements": []map[string]any{mrkdwn(text)},
	}
}

func mrkdwn(text string) map[string]any {
	return map[string]any{"type": "mrkdwn", "text": text}
}

func mrkdwnSection(text string) map[string]any {
	return map[string]any{"type": "section", "text": mrkdwn(text)}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
