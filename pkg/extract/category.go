package extract

import (
	"github.com/PuerkitoBio/goquery"

	"site-ingest/pkg/models"
	"site-ingest/pkg/parse"
)

// ParseMenu reads the seed category menu (aside.left-sidebar). Top-level entries
// carry no parent, their nested children point at them. Child-only entries outside a
// top-level block get a parent inferred from their URL, never the site root.
// The result is deduplicated by canonical URL (last occurrence wins, first-seen order).
func ParseMenu(page *goquery.Selection, baseURL string) []models.CategoryRecord {
	aside := page.Find("aside.left-sidebar").First()
	if aside.Length() == 0 {
		return nil
	}

	var out []models.CategoryRecord

	aside.Find("ul.facts-navigation > li.bigcat-nav").Each(func(_ int, li *goquery.Selection) {
		top := li.Find("a.bigcat-nav-link").First()
		if top.Length() == 0 {
			return
		}
		topURL, err := parse.Resolve(baseURL, top.AttrOr("href", "/"))
		if err != nil {
			return
		}
		out = append(out, models.CategoryRecord{Name: parse.CleanAnchorText(top), URL: topURL})

		li.Find("div.bigcat-nav-childs a.bigcat-nav-child").Each(func(_ int, a *goquery.Selection) {
			childURL, err := parse.Resolve(baseURL, a.AttrOr("href", "/"))
			if err != nil {
				return
			}
			out = append(out, models.CategoryRecord{Name: parse.CleanAnchorText(a), URL: childURL, ParentURL: topURL})
		})
	})

	aside.Find("li > div.bigcat-nav-childs a.bigcat-nav-child").Each(func(_ int, a *goquery.Selection) {
		// Already emitted with its explicit parent above.
		if a.Closest("li.bigcat-nav").Find("a.bigcat-nav-link").Length() > 0 {
			return
		}
		childURL, err := parse.Resolve(baseURL, a.AttrOr("href", "/"))
		if err != nil {
			return
		}
		rec := models.CategoryRecord{Name: parse.CleanAnchorText(a), URL: childURL}
		if parent, ok := parse.ParentFromURL(childURL); ok && !parse.IsSiteRoot(parent, baseURL) {
			rec.ParentURL = parent
		}
		out = append(out, rec)
	})

	return dedupeLastWins(out)
}

// ParseSubcategories reads nav.subcategory-list on a category page. Every link is a
// child of currentURL, unless currentURL is the site root.
func ParseSubcategories(page *goquery.Selection, baseURL, currentURL string) []models.CategoryRecord {
	nav := page.Find("nav.subcategory-list").First()
	if nav.Length() == 0 {
		return nil
	}

	parent := currentURL
	if parse.IsSiteRoot(currentURL, baseURL) {
		parent = ""
	}

	var out []models.CategoryRecord
	nav.Find("a.subcategory-link").Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		if !ok || href == "" {
			return
		}
		u, err := parse.Resolve(baseURL, href)
		if err != nil {
			return
		}
		name := parse.CleanAnchorText(a)
		if name == "" {
			name = parse.CleanText(a.Text())
		}
		out = append(out, models.CategoryRecord{Name: name, URL: u, ParentURL: parent})
	})
	return out
}

func dedupeLastWins(records []models.CategoryRecord) []models.CategoryRecord {
	index := make(map[string]int, len(records))
	out := make([]models.CategoryRecord, 0, len(records))
	for _, r := range records {
		if i, ok := index[r.URL]; ok {
			out[i] = r
			continue
		}
		index[r.URL] = len(out)
		out = append(out, r)
	}
	return out
}
