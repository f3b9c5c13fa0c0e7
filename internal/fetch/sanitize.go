package fetch

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// DefaultExcerptChars bounds the plain text kept per page.
const DefaultExcerptChars = 3000

// Sanitize reduces an HTML document to plain text: script and style blocks are
// dropped, tags stripped, entities decoded and whitespace collapsed. The result is
// cut to at most maxChars characters.
func Sanitize(doc string, maxChars int) string {
	if strings.TrimSpace(doc) == "" || maxChars <= 0 {
		return ""
	}

	d, err := goquery.NewDocumentFromReader(strings.NewReader(doc))
	if err != nil {
		return ""
	}
	d.Find("script, style, noscript, template, svg").Remove()

	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
			b.WriteByte(' ')
			return
		case html.CommentNode, html.DoctypeNode:
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range d.Nodes {
		walk(n)
	}

	text := strings.Join(strings.Fields(b.String()), " ")
	return cutRunes(text, maxChars)
}

func cutRunes(s string, limit int) string {
	n := 0
	for i := range s {
		if n == limit {
			return strings.TrimSpace(s[:i])
		}
		n++
	}
	return s
}
