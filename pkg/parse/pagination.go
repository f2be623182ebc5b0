package parse

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"site-ingest/pkg/models"
)

var hrefPageNumRe = regexp.MustCompile(`/page/(\d+)/?$`)

// pageNumFromHref extracts N from hrefs ending in /page/N or /page/N/
func pageNumFromHref(href string) (int, bool) {
	m := hrefPageNumRe.FindStringSubmatch(href)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// digits returns the integer value of s when s is made only of ASCII digits
func digits(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	return n, err == nil
}

// ParsePagination reads the feed navigation block (div.navigation).
// A page without one is a single-page feed: {1, 1, ""}.
func ParsePagination(page *goquery.Selection) models.PaginationState {
	nav := page.Find("div.navigation").First()
	if nav.Length() == 0 {
		return models.PaginationState{CurrentPage: 1, TotalPages: 1}
	}

	current := 1
	if n, ok := digits(nav.Find(".page-numbers.current").First().Text()); ok {
		current = n
	}

	total := current
	numbered := nav.Find("a.page-numbers")
	numbered.Each(func(_ int, a *goquery.Selection) {
		if n, ok := digits(a.Text()); ok && n > total {
			total = n
		}
		if n, ok := pageNumFromHref(a.AttrOr("href", "")); ok && n > total {
			total = n
		}
	})

	state := models.PaginationState{CurrentPage: current, TotalPages: total}

	if next := nav.Find("a.next.page-numbers").First(); next.Length() > 0 {
		state.NextPageURL = strings.TrimSpace(next.AttrOr("href", ""))
		return state
	}

	if current < total {
		want := strconv.Itoa(current + 1)
		numbered.EachWithBreak(func(_ int, a *goquery.Selection) bool {
			if strings.TrimSpace(a.Text()) == want {
				state.NextPageURL = strings.TrimSpace(a.AttrOr("href", ""))
				return false
			}
			return true
		})
	}
	return state
}
