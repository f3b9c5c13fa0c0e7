package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// LLM provider names accepted by LLMProvider.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// Config holds the application settings that are not owned by a go-core package.
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	APITokens             string
	DatabaseURL           string
	SlackWebhookURL       string

	LLMProvider     string
	AnthropicAPIKey string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	CategoryModel   string
	SummaryModel    string
	PromptVersion   string

	LLMTimeoutSeconds int
	CategoryBatchSize int
	SummaryBatchSize  int

	FetchWorkers        int
	FetchTimeoutSeconds int
	UserAgent           string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.APITokens, "api-tokens", "", "comma-separated bearer tokens accepted by the run API")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for run notifications")

	fs.StringVar(&c.LLMProvider, "llm-provider", ProviderAnthropic, "language model provider (anthropic|openai)")
	fs.StringVar(&c.AnthropicAPIKey, "anthropic-api-key", "", "API key for the Anthropic provider (empty = runs fail as not configured)")
	fs.StringVar(&c.OpenAIAPIKey, "openai-api-key", "", "API key for the OpenAI provider (empty = runs fail as not configured)")
	fs.StringVar(&c.OpenAIBaseURL, "openai-base-url", "", "base URL for OpenAI-compatible endpoints (empty = api.openai.com)")
	fs.StringVar(&c.CategoryModel, "category-model", "claude-haiku-4-5", "model used for category discovery and assignment")
	fs.StringVar(&c.SummaryModel, "summary-model", "claude-haiku-4-5", "model used for summaries")
	fs.StringVar(&c.PromptVersion, "prompt-version", "v1", "prompt version stamped on records; changing it invalidates the cache")

	fs.IntVar(&c.LLMTimeoutSeconds, "llm-timeout-seconds", 90, "per-call language model timeout (1..600)")
	fs.IntVar(&c.CategoryBatchSize, "category-batch-size", 24, "bookmarks per categorization call (1..200)")
	fs.IntVar(&c.SummaryBatchSize, "summary-batch-size", 16, "bookmarks per summary call (1..200)")

	fs.IntVar(&c.FetchWorkers, "fetch-workers", 6, "concurrent page fetches (1..64)")
	fs.IntVar(&c.FetchTimeoutSeconds, "fetch-timeout-seconds", 10, "per-page fetch timeout (1..120)")
	fs.StringVar(&c.UserAgent, "user-agent", "", "User-Agent for page fetches (empty = built-in)")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}
	if strings.TrimSpace(c.APITokens) == "" {
		errs = append(errs, errors.New("API_TOKENS is required"))
	}

	switch c.LLMProvider {
	case ProviderAnthropic, ProviderOpenAI:
	default:
		errs = append(errs, fmt.Errorf("invalid LLM_PROVIDER %q (must be anthropic or openai)", c.LLMProvider))
	}
	if c.OpenAIBaseURL != "" {
		if u, err := url.Parse(c.OpenAIBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("invalid OPENAI_BASE_URL %q", c.OpenAIBaseURL))
		}
	}
	if c.CategoryModel == "" {
		errs = append(errs, errors.New("CATEGORY_MODEL is required"))
	}
	if c.SummaryModel == "" {
		errs = append(errs, errors.New("SUMMARY_MODEL is required"))
	}
	if c.PromptVersion == "" {
		errs = append(errs, errors.New("PROMPT_VERSION is required"))
	}

	errs = appendRange(errs, "LLM_TIMEOUT_SECONDS", c.LLMTimeoutSeconds, 1, 600)
	errs = appendRange(errs, "CATEGORY_BATCH_SIZE", c.CategoryBatchSize, 1, 200)
	errs = appendRange(errs, "SUMMARY_BATCH_SIZE", c.SummaryBatchSize, 1, 200)
	errs = appendRange(errs, "FETCH_WORKERS", c.FetchWorkers, 1, 64)
	errs = appendRange(errs, "FETCH_TIMEOUT_SECONDS", c.FetchTimeoutSeconds, 1, 120)

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func appendRange(errs []error, name string, v, lo, hi int) []error {
	if v < lo || v > hi {
		return append(errs, fmt.Errorf("invalid %s %d (must be %d..%d)", name, v, lo, hi))
	}
	return errs
}

// ProviderAPIKey returns the API key of the selected provider.
func (c *Config) ProviderAPIKey() string {
	if c.LLMProvider == ProviderOpenAI {
		return c.OpenAIAPIKey
	}
	return c.AnthropicAPIKey
}

// LLMTimeout returns the per-call language model timeout.
func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLMTimeoutSeconds) * time.Second
}

// FetchTimeout returns the per-page fetch timeout.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSeconds) * time.Second
}
