package process

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// ExtractHeadings parses markdown and returns heading texts in document order.
// Inline markup inside a heading (emphasis, code, links) contributes its text.
func ExtractHeadings(markdown string) []string {
	source := []byte(markdown)
	doc := goldmark.DefaultParser().Parse(text.NewReader(source))

	var headings []string
	ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		heading, ok := n.(*ast.Heading)
		if !ok {
			return ast.WalkContinue, nil
		}

		var buf bytes.Buffer
		collectText(heading, source, &buf)
		if s := strings.Join(strings.Fields(buf.String()), " "); s != "" {
			headings = append(headings, s)
		}
		return ast.WalkSkipChildren, nil
	})

	return headings
}

func collectText(n ast.Node, source []byte, buf *bytes.Buffer) {
	for child := n.FirstChild(); child != nil; child = child.NextSibling() {
		switch node := child.(type) {
		case *ast.Text:
			buf.Write(node.Segment.Value(source))
			if node.SoftLineBreak() || node.HardLineBreak() {
				buf.WriteByte(' ')
			}
		case *ast.String:
			buf.Write(node.Value)
		default:
			collectText(child, source, buf)
		}
	}
}
