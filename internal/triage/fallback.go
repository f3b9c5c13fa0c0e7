package triage

import "fmt"

const untitled = "Untitled bookmark"

// FallbackSummary is the local summary used when no model summary is available.
// It never fails and never calls out.
func FallbackSummary(pb *PreparedBookmark) string {
	title := normalizeSpace(pb.Title)
	if title == "" {
		title = untitled
	}

	switch {
	case pb.SourceType == SourceDead:
		return fmt.Sprintf("%s is no longer available; the saved link did not respond during the last check.", title)
	case pb.SourceType == SourceUnsupported:
		return fmt.Sprintf("%s uses an unsupported %s: link, so its content could not be summarized.", title, urlScheme(pb.TargetURL))
	case pb.Excerpt != "":
		host, ok := urlHost(pb.TargetURL)
		if !ok {
			host = "an unknown site"
		}
		return fmt.Sprintf("%s: page on %s; topic inferred from the site and title.", title, host)
	default:
		return fmt.Sprintf("%s: not enough readable content was found to summarize this page.", title)
	}
}
