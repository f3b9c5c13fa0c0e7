package triage

import (
	"sort"
)

const (
	digestTopN         = 30
	digestSampleTitles = 150
	digestTitleChars   = 140
	invalidURLHost     = "invalid-url"
)

// NameCount is a frequency entry in a collection digest.
type NameCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Digest is the aggregate shape of the whole collection, used to seed category
// discovery. It carries no excerpts and no per-bookmark detail.
type Digest struct {
	TotalBookmarks int         `json:"total_bookmarks"`
	TopDomains     []NameCount `json:"top_domains"`
	TopFolders     []NameCount `json:"top_folders"`
	SampleTitles   []string    `json:"sample_titles"`
}

// BuildDigest summarizes a bookmark collection. Frequency ties keep first-seen order.
func BuildDigest(bookmarks []Bookmark) *Digest {
	domains := newCounter()
	folders := newCounter()
	titles := make([]string, 0, min(len(bookmarks), digestSampleTitles))

	for i := range bookmarks {
		b := &bookmarks[i]

		raw := b.FinalURL
		if raw == "" {
			raw = b.URL
		}
		host, ok := urlHost(raw)
		if !ok {
			host = invalidURLHost
		}
		domains.add(host)

		if folder := normalizeSpace(b.FolderPath); folder != "" {
			folders.add(folder)
		}

		if len(titles) < digestSampleTitles {
			if title := truncateRunes(normalizeSpace(b.Title), digestTitleChars); title != "" {
				titles = append(titles, title)
			}
		}
	}

	return &Digest{
		TotalBookmarks: len(bookmarks),
		TopDomains:     domains.top(digestTopN),
		TopFolders:     folders.top(digestTopN),
		SampleTitles:   titles,
	}
}

type counter struct {
	order  []string
	counts map[string]int
}

func newCounter() *counter {
	return &counter{counts: make(map[string]int)}
}

func (c *counter) add(name string) {
	if _, ok := c.counts[name]; !ok {
		c.order = append(c.order, name)
	}
	c.counts[name]++
}

func (c *counter) top(n int) []NameCount {
	out := make([]NameCount, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, NameCount{Name: name, Count: c.counts[name]})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	if len(out) > n {
		out = out[:n]
	}
	return out
}
