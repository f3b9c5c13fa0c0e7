package triage

import (
	"net/url"
	"strings"
)

// classify derives the source type and the URL that should be fetched.
func classify(b *Bookmark) (SourceType, string) {
	target := b.URL
	if b.FinalURL != "" && b.LinkStatus == LinkRedirected {
		target = b.FinalURL
	}

	if !httpScheme(b.URL) {
		return SourceUnsupported, b.URL
	}

	switch b.LinkStatus {
	case LinkDead:
		return SourceDead, target
	case LinkRedirected:
		if !httpScheme(target) {
			return SourceUnsupported, target
		}
		return SourceRedirected, target
	default:
		return SourceLive, target
	}
}

func httpScheme(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	s := strings.ToLower(u.Scheme)
	return s == "http" || s == "https"
}

func urlScheme(raw string) string {
	if u, err := url.Parse(strings.TrimSpace(raw)); err == nil && u.Scheme != "" {
		return strings.ToLower(u.Scheme)
	}
	if i := strings.Index(raw, ":"); i > 0 {
		return strings.ToLower(raw[:i])
	}
	return "unknown"
}

func urlHost(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Hostname() == "" {
		return "", false
	}
	return strings.ToLower(u.Hostname()), true
}

// normalizeSpace collapses runs of whitespace into single spaces and trims the ends.
func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
