package parse

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// CleanText collapses all whitespace runs (including NBSP) into single spaces
func CleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// CleanAnchorText returns the text of an anchor without <small> counters and <i> icons.
func CleanAnchorText(a *goquery.Selection) string {
	parts := make([]string, 0, 4)
	a.Contents().Each(func(_ int, node *goquery.Selection) {
		n := node.Get(0)
		switch n.Type {
		case html.TextNode:
			if txt := CleanText(n.Data); txt != "" {
				parts = append(parts, txt)
			}
		case html.ElementNode:
			if n.Data == "small" || n.Data == "i" {
				return
			}
			if txt := CleanText(node.Text()); txt != "" {
				parts = append(parts, txt)
			}
		}
	})
	return strings.Join(parts, " ")
}
