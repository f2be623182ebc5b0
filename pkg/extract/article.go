package extract

import (
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
	"github.com/sirupsen/logrus"

	"site-ingest/pkg/models"
	"site-ingest/pkg/parse"
	"site-ingest/pkg/utils"
)

const publishedDateLayout = "02.01.2006"

// junkSelectors are removed from the article body before rendering
var junkSelectors = []string{
	".podpost-rtb",                  // ad blocks
	".post-box-share",               // share widget
	".underpost-title",              // "more" heading
	".underpost-feed-list",          // "more" list
	".underpost-feed-list-cat-link", // category link
	"script",
	"style",
	"figcaption",
	"span.clear",
}

// textBlockSelector lists the block elements that make up the plain-text rendition
const textBlockSelector = "p, h2, h3, h4, h5, h6, li, blockquote"

// ArticleExtractor turns a single article page into an ArticleBody.
type ArticleExtractor struct {
	// Readability enables the readability fallback for pages without the post-box layout
	Readability bool
	log         *logrus.Entry
}

// NewArticleExtractor creates an extractor. When readability is true, pages lacking
// article.post-box are run through go-readability instead of yielding no content.
func NewArticleExtractor(readability bool, log *logrus.Entry) *ArticleExtractor {
	return &ArticleExtractor{Readability: readability, log: log}
}

// Extract reads title, date, breadcrumbs, lead image and cleaned content.
// A page without a recognised body yields an ArticleBody with empty content, not an error.
// Fails only when pageURL is not a valid absolute URL.
func (e *ArticleExtractor) Extract(page *goquery.Selection, pageURL string) (models.ArticleBody, error) {
	canonical, err := parse.Canonicalize(pageURL)
	if err != nil {
		return models.ArticleBody{}, err
	}

	body := models.ArticleBody{
		URL:         canonical,
		Title:       extractTitle(page),
		PublishedAt: extractDate(page),
		Breadcrumbs: extractBreadcrumbs(page, pageURL),
		LeadImage:   extractLeadImage(page, pageURL),
	}

	container := page.Find("article.post-box section.post-box-text").First()
	if container.Length() == 0 {
		container = page.Find("article.post-box").First()
	}
	if container.Length() == 0 {
		if !e.Readability {
			return body, nil
		}
		container, err = e.readabilityContainer(page, pageURL)
		if err != nil {
			e.log.WithField("url", pageURL).Debugf("Readability fallback found nothing: %v", err)
			return body, nil
		}
	}

	content := cleanContent(container.Clone(), pageURL)
	if html, err := goquery.OuterHtml(content); err == nil {
		body.ContentHTML = strings.TrimSpace(html)
	}
	body.ContentText = blockText(content)

	return body, nil
}

func extractTitle(page *goquery.Selection) string {
	return parse.CleanText(page.Find("h1").First().Text())
}

// extractDate parses <small class="date">dd.mm.yyyy</small>. Missing or malformed dates yield nil.
func extractDate(page *goquery.Selection) *time.Time {
	raw := parse.CleanText(page.Find("article.post-box small.date").First().Text())
	if raw == "" {
		return nil
	}
	t, err := time.Parse(publishedDateLayout, raw)
	if err != nil {
		return nil
	}
	return &t
}

func extractBreadcrumbs(page *goquery.Selection, pageURL string) []models.Breadcrumb {
	var out []models.Breadcrumb
	page.Find("article.post-box small#breadcrumbs a[href]").Each(func(_ int, a *goquery.Selection) {
		u, err := parse.Resolve(pageURL, a.AttrOr("href", ""))
		if err != nil {
			return
		}
		out = append(out, models.Breadcrumb{Name: parse.CleanAnchorText(a), URL: u})
	})
	return out
}

func extractLeadImage(page *goquery.Selection, pageURL string) string {
	for _, sel := range []string{
		"article.post-box section.post-box-text img[src]",
		".feed-picture-fact-single img[src]",
	} {
		if src := page.Find(sel).First().AttrOr("src", ""); src != "" {
			return parse.AbsURL(pageURL, src)
		}
	}
	return ""
}

// readabilityContainer extracts the main content with go-readability and returns it as a selection
func (e *ArticleExtractor) readabilityContainer(page *goquery.Selection, pageURL string) (*goquery.Selection, error) {
	html, err := goquery.OuterHtml(page)
	if err != nil {
		return nil, fmt.Errorf("%w: HTML render: %w", utils.ErrParsing, err)
	}
	u, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", utils.ErrInvalidURL, err)
	}

	article, err := readability.FromReader(strings.NewReader(html), u)
	if err != nil {
		return nil, fmt.Errorf("%w: readability: %w", utils.ErrParsing, err)
	}
	if strings.TrimSpace(article.Content) == "" {
		return nil, fmt.Errorf("%w: readability extracted empty content", utils.ErrParsing)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(article.Content))
	if err != nil {
		return nil, fmt.Errorf("%w: readability HTML: %w", utils.ErrParsing, err)
	}
	content := doc.Find("body").Children().First()
	if content.Length() == 0 {
		content = doc.Find("body")
	}
	return content, nil
}

// cleanContent strips junk blocks and absolutizes links in place
func cleanContent(content *goquery.Selection, pageURL string) *goquery.Selection {
	for _, sel := range junkSelectors {
		content.Find(sel).Remove()
	}

	content.Find("p, div, section").Each(func(_ int, node *goquery.Selection) {
		if isReadAlsoNode(node) {
			node.Remove()
		}
	})

	content.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		if abs := parse.AbsURL(pageURL, a.AttrOr("href", "")); abs != "" {
			a.SetAttr("href", abs)
		}
	})
	content.Find("img[src]").Each(func(_ int, img *goquery.Selection) {
		if abs := parse.AbsURL(pageURL, img.AttrOr("src", "")); abs != "" {
			img.SetAttr("src", abs)
		}
		if srcset, ok := img.Attr("srcset"); ok {
			img.SetAttr("srcset", normalizeSrcset(pageURL, srcset))
		}
	})
	content.Find("source[srcset]").Each(func(_ int, source *goquery.Selection) {
		source.SetAttr("srcset", normalizeSrcset(pageURL, source.AttrOr("srcset", "")))
	})

	return content
}

// isReadAlsoNode detects inline "Читайте также" blocks: the phrase must open the
// node and the node must carry a <big> or a link.
func isReadAlsoNode(node *goquery.Selection) bool {
	text := strings.ToLower(parse.CleanText(node.Text()))

	var rest string
	switch {
	case strings.HasPrefix(text, "читайте"):
		rest = strings.TrimPrefix(text, "читайте")
	case strings.HasPrefix(text, "читать"):
		rest = strings.TrimPrefix(text, "читать")
	default:
		return false
	}
	if !strings.HasPrefix(rest, " ") {
		return false
	}
	rest = strings.TrimPrefix(rest, " ")
	if !strings.HasPrefix(rest, "также") {
		return false
	}
	if next, _ := utf8.DecodeRuneInString(strings.TrimPrefix(rest, "также")); unicode.IsLetter(next) || unicode.IsDigit(next) {
		return false
	}

	return node.Find("big").Length() > 0 || node.Find("a[href]").Length() > 0
}

// normalizeSrcset makes every candidate URL in a srcset absolute, keeping descriptors
func normalizeSrcset(pageURL, srcset string) string {
	var parts []string
	for _, chunk := range strings.Split(srcset, ",") {
		fields := strings.Fields(chunk)
		if len(fields) == 0 {
			continue
		}
		if abs := parse.AbsURL(pageURL, fields[0]); abs != "" {
			fields[0] = abs
		}
		parts = append(parts, strings.Join(fields, " "))
	}
	return strings.Join(parts, ", ")
}

func blockText(content *goquery.Selection) string {
	var parts []string
	content.Find(textBlockSelector).Each(func(_ int, blk *goquery.Selection) {
		if t := parse.CleanText(blk.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	return strings.Join(parts, "\n\n")
}
