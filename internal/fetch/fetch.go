// Package fetch retrieves bookmarked pages and reduces their HTML to plain text.
package fetch

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultTimeout      = 10 * time.Second
	DefaultUserAgent    = "sift-bookmark-triage/1.0 (+https://github.com/linnemanlabs/sift)"
	DefaultMaxBodyBytes = 2 << 20
	maxRedirects        = 10
)

// Page is the outcome of a single GET.
type Page struct {
	StatusCode  int
	FinalURL    string
	ContentType string
	Body        string
}

// OK reports whether the response status is 2xx.
func (p *Page) OK() bool {
	return p.StatusCode >= 200 && p.StatusCode < 300
}

// Options configures a Client. Zero values fall back to the defaults.
type Options struct {
	Timeout      time.Duration
	UserAgent    string
	MaxBodyBytes int64
	Transport    http.RoundTripper
}

// Client fetches pages over HTTP(S), following redirects, with a bounded total timeout.
type Client struct {
	httpClient   *http.Client
	timeout      time.Duration
	userAgent    string
	maxBodyBytes int64
}

// New creates a page fetching client.
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return &Client{
		httpClient: &http.Client{
			Timeout:   opts.Timeout,
			Transport: opts.Transport,
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
		timeout:      opts.Timeout,
		userAgent:    opts.UserAgent,
		maxBodyBytes: opts.MaxBodyBytes,
	}
}

// Fetch performs a GET on rawURL. Non-2xx responses are returned as a Page, not an
// error; the body is only read for HTML-like responses.
func (c *Client) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.5")

	resp, err := c.httpClient.Do(req) //nolint:gosec // G107: URL comes from the bookmark collection
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", rawURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	page := &Page{
		StatusCode:  resp.StatusCode,
		FinalURL:    resp.Request.URL.String(),
		ContentType: resp.Header.Get("Content-Type"),
	}
	if !page.OK() || !IsHTML(page.ContentType) {
		return page, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	page.Body = string(body)
	return page, nil
}

// IsHTML reports whether a Content-Type header denotes an HTML document.
func IsHTML(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	}
	switch mt {
	case "text/html", "application/xhtml+xml":
		return true
	}
	return false
}
