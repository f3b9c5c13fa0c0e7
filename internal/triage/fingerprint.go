package triage

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	fingerprintExcerptChars = 1000
	fingerprintSep          = "\x1f"
)

// Fingerprint hashes the mutable attributes of a bookmark together with the
// leading part of its excerpt. Equal fingerprints mean a stored record can be reused.
func Fingerprint(b *Bookmark, excerpt string) string {
	h := sha256.New()
	h.Write([]byte(strings.Join([]string{
		b.URL,
		b.Title,
		b.FolderPath,
		string(b.LinkStatus),
		b.FinalURL,
		truncateRunes(excerpt, fingerprintExcerptChars),
	}, fingerprintSep)))
	return hex.EncodeToString(h.Sum(nil))
}

// ModelVersions identifies the models and prompts that produce records.
// A record produced under different versions is never reused.
type ModelVersions struct {
	CategoryModel string
	SummaryModel  string
	PromptVersion string
}

// reusable reports whether a stored record is still valid for a prepared bookmark.
func reusable(rec *Record, pb *PreparedBookmark, v ModelVersions) bool {
	return rec.SourceHash == pb.SourceHash &&
		rec.CategoryModel == v.CategoryModel &&
		rec.SummaryModel == v.SummaryModel &&
		rec.PromptVersion == v.PromptVersion
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}
