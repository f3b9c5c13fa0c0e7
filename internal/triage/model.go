package triage

import "time"

// LinkStatus is the link-health classification produced by the reachability checker.
type LinkStatus string

const (
	LinkLive       LinkStatus = "live"
	LinkRedirected LinkStatus = "redirected"
	LinkDead       LinkStatus = "dead"
	LinkUnknown    LinkStatus = "unknown"
)

// SourceType is how a bookmark is treated by the pipeline.
type SourceType string

const (
	SourceLive        SourceType = "live"
	SourceRedirected  SourceType = "redirected"
	SourceDead        SourceType = "dead"
	SourceUnsupported SourceType = "unsupported"
)

// Fetchable reports whether page content should be acquired for this source type.
func (t SourceType) Fetchable() bool {
	return t == SourceLive || t == SourceRedirected
}

// Bookmark is an imported bookmark as owned by the repository.
type Bookmark struct {
	ID         int64      `json:"id"`
	URL        string     `json:"url"`
	Title      string     `json:"title"`
	FolderPath string     `json:"folder_path,omitempty"`
	LinkStatus LinkStatus `json:"link_status,omitempty"`
	FinalURL   string     `json:"final_url,omitempty"`
	HTTPStatus int        `json:"http_status,omitempty"`
}

// PreparedBookmark is a bookmark with everything the run derived for it.
// It is built once per run and never mutated afterwards.
type PreparedBookmark struct {
	Bookmark
	SourceType SourceType
	TargetURL  string
	Excerpt    string
	SourceHash string
}

// Record is the stored triage result for one bookmark. Writing a new Record for a
// bookmark replaces the previous one.
type Record struct {
	BookmarkID    int64     `json:"bookmark_id"`
	RunID         string    `json:"run_id"`
	Category      string    `json:"category,omitempty"`
	Tags          []string  `json:"tags"`
	Summary       string    `json:"summary"`
	ReasonCode    string    `json:"reason_code,omitempty"`
	Confidence    *float64  `json:"confidence"`
	SourceHash    string    `json:"source_hash"`
	CategoryModel string    `json:"category_model"`
	SummaryModel  string    `json:"summary_model"`
	PromptVersion string    `json:"prompt_version"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Assignment is the categorization outcome for one bookmark in one run.
type Assignment struct {
	BookmarkID int64
	Category   string
	Tags       []string
	Confidence *float64
	ReasonCode string
}

// Reason codes recorded when a bookmark ends up without a category.
const (
	ReasonNotEnoughSignal      = "not_enough_signal"
	ReasonMissingModelOutput   = "missing_model_output"
	ReasonCategorizationFailed = "categorization_failed"
)

// Status tracks where a run is in its lifecycle.
type Status string

const (
	// StatusRunning means the pipeline is executing
	StatusRunning Status = "running"

	// StatusCompleted means the pipeline finished
	StatusCompleted Status = "completed"

	// StatusFailed means the pipeline aborted with an error
	StatusFailed Status = "failed"
)

// Stage is the pipeline step a run is currently in.
type Stage string

const (
	StageIdle                  Stage = "idle"
	StagePreparing             Stage = "preparing"
	StageDiscoveringCategories Stage = "discovering_categories"
	StageCategorizing          Stage = "categorizing"
	StageSummarizing           Stage = "summarizing"
	StageFinalizing            Stage = "finalizing"
	StageCompleted             Stage = "completed"
	StageFailed                Stage = "failed"
)

// Counters are the per-run progress counters. They only ever increase.
type Counters struct {
	Processed     int `json:"processed"`
	Cached        int `json:"cached"`
	Categorized   int `json:"categorized"`
	Uncategorized int `json:"uncategorized"`
	Failed        int `json:"failed"`
}

// Usage is the cumulative language model usage of a run.
type Usage struct {
	Calls            int     `json:"calls"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
}

// Run is the state of one triage run.
type Run struct {
	ID          string    `json:"id"`
	Status      Status    `json:"status"`
	Stage       Stage     `json:"stage"`
	IgnoreCache bool      `json:"ignore_cache"`
	Total       int       `json:"total"`
	Counters    Counters  `json:"counters"`
	Usage       Usage     `json:"usage"`
	Categories  []string  `json:"categories,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// Clone returns a deep copy of the run.
func (r *Run) Clone() *Run {
	cp := *r
	if r.Categories != nil {
		cp.Categories = append([]string(nil), r.Categories...)
	}
	return &cp
}

// CategoryCount is the number of bookmarks assigned to a category in a run.
type CategoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// UncategorizedBookmark is a bookmark that ended a run without a category.
type UncategorizedBookmark struct {
	BookmarkID int64     `json:"bookmark_id"`
	URL        string    `json:"url"`
	Title      string    `json:"title"`
	ReasonCode string    `json:"reason_code"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// RunSummary is the aggregate view of the latest run.
type RunSummary struct {
	Run           *Run                    `json:"run"`
	Categories    []CategoryCount         `json:"categories"`
	Uncategorized []UncategorizedBookmark `json:"uncategorized"`
}
