package process

import (
	"fmt"
	"net/url"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"site-ingest/pkg/utils"
)

// Derived holds the fields computed from an article body before it is stored
type Derived struct {
	Markdown   string
	Headings   []string
	TokenCount int
}

// Deriver converts extracted article HTML into markdown, headings and a token count
type Deriver struct {
	converter *md.Converter
	counter   *TokenCounter
	log       *logrus.Entry
}

// NewDeriver creates a Deriver. baseURL's host resolves any relative link left in
// the HTML; counter may be nil.
func NewDeriver(baseURL string, counter *TokenCounter, log *logrus.Entry) *Deriver {
	domain := ""
	if u, err := url.Parse(baseURL); err == nil {
		domain = u.Host
	}
	return &Deriver{
		converter: md.NewConverter(domain, true, nil),
		counter:   counter,
		log:       log,
	}
}

// ToMarkdown converts an HTML fragment to markdown after stripping heading
// permalinks and similar anchor noise.
func (d *Deriver) ToMarkdown(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("%w: parsing content HTML: %w", utils.ErrMarkdownConversion, err)
	}
	body := doc.Find("body")
	cleanupHTML(body)

	cleaned, err := body.Html()
	if err != nil {
		return "", fmt.Errorf("%w: rendering cleaned HTML: %w", utils.ErrMarkdownConversion, err)
	}
	out, err := d.converter.ConvertString(cleaned)
	if err != nil {
		return "", fmt.Errorf("%w: %w", utils.ErrMarkdownConversion, err)
	}
	return strings.TrimSpace(out), nil
}

// Derive computes the stored derivations for one body. A failed conversion falls
// back to the plain text so the content is still stored.
func (d *Deriver) Derive(html, text string) Derived {
	markdown := text
	if strings.TrimSpace(html) != "" {
		converted, err := d.ToMarkdown(html)
		if err != nil {
			d.log.Warnf("Falling back to plain text: %v", err)
		} else if converted != "" {
			markdown = converted
		}
	}
	if strings.TrimSpace(markdown) == "" {
		return Derived{}
	}
	return Derived{
		Markdown:   markdown,
		Headings:   ExtractHeadings(markdown),
		TokenCount: d.counter.Count(markdown),
	}
}

// cleanupHTML removes anchors that only carry heading permalinks
func cleanupHTML(content *goquery.Selection) {
	content.Find("a.headerlink, a.permalink, a.anchor, a.edit-on-github").Remove()
	content.Find("a[title='Permalink to this heading'], a[title='Link to this heading']").Remove()

	content.Find("a").Each(func(i int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		href, _ := s.Attr("href")
		if text == "¶" || text == "#" || (text == "" && strings.HasPrefix(href, "#")) {
			s.Remove()
		}
	})
}
