package triage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/sift/internal/fetch"
)

// mockStore implements Store for testing.
type mockStore struct {
	mu        sync.Mutex
	bookmarks []Bookmark
	records   map[int64]Record
	runs      map[string]*Run
	order     []string
	stages    []Stage

	listErr   error
	cacheErr  error
	upsertErr error
}

func newMockStore(bookmarks ...Bookmark) *mockStore {
	return &mockStore{
		bookmarks: bookmarks,
		records:   make(map[int64]Record),
		runs:      make(map[string]*Run),
	}
}

func (m *mockStore) ListBookmarks(_ context.Context) ([]Bookmark, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	return append([]Bookmark(nil), m.bookmarks...), nil
}

func (m *mockStore) setTitle(id int64, title string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.bookmarks {
		if m.bookmarks[i].ID == id {
			m.bookmarks[i].Title = title
		}
	}
}

func (m *mockStore) CachedTriages(_ context.Context) (map[int64]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cacheErr != nil {
		return nil, m.cacheErr
	}
	out := make(map[int64]Record, len(m.records))
	for id, r := range m.records {
		out[id] = r
	}
	return out, nil
}

func (m *mockStore) UpsertTriages(_ context.Context, records []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return m.upsertErr
	}
	for _, r := range records {
		m.records[r.BookmarkID] = r
	}
	return nil
}

func (m *mockStore) failUpserts(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertErr = err
}

func (m *mockStore) record(id int64) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	return r, ok
}

func (m *mockStore) putRun(run *Run) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.ID]; !ok {
		m.order = append(m.order, run.ID)
	}
	if prev, ok := m.runs[run.ID]; !ok || prev.Stage != run.Stage {
		m.stages = append(m.stages, run.Stage)
	}
	m.runs[run.ID] = run.Clone()
}

func (m *mockStore) CreateRun(_ context.Context, run *Run) error {
	m.putRun(run)
	return nil
}

func (m *mockStore) UpdateRunProgress(_ context.Context, run *Run) error {
	m.putRun(run)
	return nil
}

func (m *mockStore) CompleteRun(_ context.Context, run *Run) error {
	m.putRun(run)
	return nil
}

func (m *mockStore) FailRun(_ context.Context, run *Run) error {
	m.putRun(run)
	return nil
}

func (m *mockStore) LatestRun(_ context.Context) (*Run, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.order) == 0 {
		return nil, false, nil
	}
	return m.runs[m.order[len(m.order)-1]].Clone(), true, nil
}

func (m *mockStore) run(id string) *Run {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.runs[id]; ok {
		return r.Clone()
	}
	return nil
}

func (m *mockStore) runCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.order)
}

func (m *mockStore) ListCategoryCounts(_ context.Context, runID string) ([]CategoryCount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[string]int)
	for _, r := range m.records {
		if r.RunID == runID && r.Category != "" {
			counts[r.Category]++
		}
	}
	out := make([]CategoryCount, 0, len(counts))
	for c, n := range counts {
		out = append(out, CategoryCount{Category: c, Count: n})
	}
	return out, nil
}

func (m *mockStore) ListUncategorized(_ context.Context, runID string, limit int) ([]UncategorizedBookmark, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []UncategorizedBookmark
	for _, r := range m.records {
		if r.RunID == runID && r.Category == "" {
			out = append(out, UncategorizedBookmark{BookmarkID: r.BookmarkID, ReasonCode: r.ReasonCode, UpdatedAt: r.UpdatedAt})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BookmarkID < out[j].BookmarkID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// scriptedProvider answers each pipeline stage, recognised by its system prompt.
type scriptedProvider struct {
	mu         sync.Mutex
	calls      map[Stage]int
	summarized []int64
	usage      TokenUsage

	// block, when set, holds every call until closed.
	block chan struct{}

	discover   func() (string, error)
	categorize func(ids []int64) (string, error)
	summarize  func(ids []int64) (string, error)
}

func newScriptedProvider() *scriptedProvider {
	return &scriptedProvider{
		calls: make(map[Stage]int),
		usage: TokenUsage{InputTokens: 100, OutputTokens: 20},
	}
}

func (p *scriptedProvider) Complete(ctx context.Context, req *LLMRequest) (*LLMResponse, error) {
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	var payload struct {
		Bookmarks []struct {
			ID int64 `json:"id"`
		} `json:"bookmarks"`
	}
	_ = json.Unmarshal([]byte(req.Payload), &payload)
	ids := make([]int64, 0, len(payload.Bookmarks))
	for _, b := range payload.Bookmarks {
		ids = append(ids, b.ID)
	}

	var (
		stage   Stage
		content string
		err     error
	)
	switch req.System {
	case discoverySystemPrompt:
		stage = StageDiscoveringCategories
		content, err = `{"categories":["Development","News"]}`, nil
		if p.discover != nil {
			content, err = p.discover()
		}
	case categorizeSystemPrompt:
		stage = StageCategorizing
		content, err = assignAll(ids, "Development"), nil
		if p.categorize != nil {
			content, err = p.categorize(ids)
		}
	case summarizeSystemPrompt:
		stage = StageSummarizing
		content, err = summarizeAllIDs(ids), nil
		if p.summarize != nil {
			content, err = p.summarize(ids)
		}
	default:
		return nil, fmt.Errorf("unexpected system prompt %q", req.System)
	}

	p.mu.Lock()
	p.calls[stage]++
	if stage == StageSummarizing {
		p.summarized = append(p.summarized, ids...)
	}
	usage := p.usage
	p.mu.Unlock()

	if err != nil {
		return &LLMResponse{Model: req.Model, Usage: usage}, err
	}
	return &LLMResponse{Content: content, Model: req.Model, Usage: usage}, nil
}

func (p *scriptedProvider) callCount(stage Stage) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[stage]
}

func (p *scriptedProvider) totalCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		n += c
	}
	return n
}

func (p *scriptedProvider) summarizedIDs() []int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int64(nil), p.summarized...)
}

func assignAll(ids []int64, category string) string {
	items := make([]string, 0, len(ids))
	for _, id := range ids {
		items = append(items, fmt.Sprintf(`{"id":%d,"category":%q,"tags":["go","docs"],"confidence":0.9}`, id, category))
	}
	return `{"assignments":[` + strings.Join(items, ",") + `]}`
}

func summarizeAllIDs(ids []int64) string {
	items := make([]string, 0, len(ids))
	for _, id := range ids {
		items = append(items, fmt.Sprintf(`{"id":"%d","summary":"Model summary for bookmark %d."}`, id, id))
	}
	return `{"summaries":[` + strings.Join(items, ",") + `]}`
}

// mockFetcher serves a small HTML page for every URL.
type mockFetcher struct {
	mu       sync.Mutex
	fetched  []string
	inFlight int
	peak     int
	delay    time.Duration
}

func (f *mockFetcher) Fetch(_ context.Context, url string) (*fetch.Page, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, url)
	f.inFlight++
	f.peak = max(f.peak, f.inFlight)
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()

	if strings.Contains(url, "broken") {
		return nil, errors.New("connection refused")
	}
	return &fetch.Page{
		StatusCode:  200,
		FinalURL:    url,
		ContentType: "text/html; charset=utf-8",
		Body:        "<html><head><title>x</title><script>var a;</script></head><body><p>Readable content of " + url + "</p></body></html>",
	}, nil
}

func (f *mockFetcher) urls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.fetched...)
}

// mockNotifier records terminal runs. When release is set, Send signals sending
// and then holds until release is closed.
type mockNotifier struct {
	mu   sync.Mutex
	runs []*Run
	err  error

	sending chan struct{}
	release chan struct{}
}

func (n *mockNotifier) Send(_ context.Context, run *Run) error {
	n.mu.Lock()
	n.runs = append(n.runs, run.Clone())
	n.mu.Unlock()

	if n.release != nil {
		select {
		case n.sending <- struct{}{}:
		default:
		}
		<-n.release
	}
	return n.err
}

func fixtureBookmarks() []Bookmark {
	return []Bookmark{
		{ID: 1, URL: "https://go.dev/doc", Title: "Go docs", FolderPath: "Dev", LinkStatus: LinkLive, HTTPStatus: 200},
		{ID: 2, URL: "https://news.example.com/a", Title: "Some news", FolderPath: "Reading", LinkStatus: LinkLive},
		{ID: 3, URL: "https://gone.example.com", Title: "Gone page", LinkStatus: LinkDead, HTTPStatus: 404},
		{ID: 4, URL: "javascript:void(0)", Title: "Bookmarklet", LinkStatus: LinkUnknown},
		{ID: 5, URL: "https://old.example.com", Title: "Moved", LinkStatus: LinkRedirected, FinalURL: "https://new.example.com"},
	}
}

var testVersions = ModelVersions{CategoryModel: "claude-haiku-4-5", SummaryModel: "claude-haiku-4-5", PromptVersion: "v1"}

func newTestService(store Store, provider Provider, opts Options) (*Service, *mockFetcher) {
	if opts.Versions == (ModelVersions{}) {
		opts.Versions = testVersions
	}
	f := &mockFetcher{}
	return NewService(store, provider, f, log.Nop(), opts), f
}

// runToEnd starts a run and waits for it to finish.
func runToEnd(t *testing.T, svc *Service, ignoreCache bool) string {
	t.Helper()
	res, err := svc.StartRun(context.Background(), ignoreCache)
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if res.AlreadyRunning {
		t.Fatalf("StartRun: unexpected already_running for %s", res.RunID)
	}
	waitIdle(t, svc)
	return res.RunID
}

func waitIdle(t *testing.T, svc *Service) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := svc.Shutdown(ctx); err != nil {
		t.Fatalf("run did not finish: %v", err)
	}
}
