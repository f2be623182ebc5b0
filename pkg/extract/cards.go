package extract

import (
	"github.com/PuerkitoBio/goquery"

	"site-ingest/pkg/models"
	"site-ingest/pkg/parse"
)

// CardExtractor recognises one listing-card template.
// Extract never fails: a page without the template yields no cards.
type CardExtractor interface {
	Name() string
	Extract(scope *goquery.Selection, baseURL string) []models.ListingCard
}

// feedScopeSelector narrows card extraction to the feed containers when the page has them
const feedScopeSelector = "section.new-text-posts, div.feed-picture-fact-outer"

// DefaultExtractors returns the built-in strategies in merge priority order
func DefaultExtractors() []CardExtractor {
	return []CardExtractor{NewTextPostExtractor{}, PictureFactExtractor{}}
}

// NewTextPostExtractor handles text teaser cards:
//
//	<div class="new-text-post-outer">
//	  <a class="new-text-post" href="...">
//	    <span class="new-text-post-image"><img src="..."></span>
//	    <span class="new-text-post-title">Title</span>
//	  </a>
//	</div>
type NewTextPostExtractor struct{}

func (NewTextPostExtractor) Name() string { return "new-text-post" }

func (NewTextPostExtractor) Extract(scope *goquery.Selection, baseURL string) []models.ListingCard {
	var out []models.ListingCard
	scope.Find("div.new-text-post-outer a.new-text-post[href]").Each(func(_ int, a *goquery.Selection) {
		u, err := parse.Resolve(baseURL, a.AttrOr("href", ""))
		if err != nil {
			return
		}

		var title string
		if el := a.Find(".new-text-post-title").First(); el.Length() > 0 {
			title = parse.CleanText(el.Text())
		} else {
			title = parse.CleanAnchorText(a)
		}

		out = append(out, models.ListingCard{
			URL:          u,
			Title:        title,
			ImagePreview: imageSource(a.Find(".new-text-post-image img").First(), baseURL),
		})
	})
	return out
}

// PictureFactExtractor handles picture cards whose title lives in the share widget:
//
//	<div class="feed-picture-fact-outer">
//	  <div class="feed-picture-fact"><a href="..."><img src="..."></a></div>
//	  <div class="ya-share2" data-title="..."></div>
//	</div>
type PictureFactExtractor struct{}

func (PictureFactExtractor) Name() string { return "picture-fact" }

func (PictureFactExtractor) Extract(scope *goquery.Selection, baseURL string) []models.ListingCard {
	var out []models.ListingCard
	// The scope itself may be one of the boxes.
	boxes := scope.Find("div.feed-picture-fact-outer").AddSelection(scope.Filter("div.feed-picture-fact-outer"))
	boxes.Each(func(_ int, box *goquery.Selection) {
		a := box.Find("div.feed-picture-fact a[href]").First()
		if a.Length() == 0 {
			return
		}
		u, err := parse.Resolve(baseURL, a.AttrOr("href", ""))
		if err != nil {
			return
		}

		var title string
		if share := box.Find("div.ya-share2").First(); share.Length() > 0 {
			title = parse.CleanText(share.AttrOr("data-title", ""))
			if title == "" {
				title = parse.CleanText(share.Find("a[title]").First().AttrOr("title", ""))
			}
		}

		out = append(out, models.ListingCard{
			URL:          u,
			Title:        title,
			ImagePreview: imageSource(a.Find("img").First(), baseURL),
		})
	})
	return out
}

// imageSource reads src (or lazy-load data-src) and resolves it against baseURL
func imageSource(img *goquery.Selection, baseURL string) string {
	if img.Length() == 0 {
		return ""
	}
	src := img.AttrOr("src", "")
	if src == "" {
		src = img.AttrOr("data-src", "")
	}
	return parse.AbsURL(baseURL, src)
}

// MergeCard combines two sightings of the same URL. Fields already set on
// existing win; incoming only fills the empty ones.
func MergeCard(existing, incoming models.ListingCard) models.ListingCard {
	merged := existing
	if merged.Title == "" {
		merged.Title = incoming.Title
	}
	if merged.ImagePreview == "" {
		merged.ImagePreview = incoming.ImagePreview
	}
	return merged
}

// CardSet accumulates cards keyed by canonical URL in first-seen order, merging
// rediscoveries with MergeCard.
type CardSet struct {
	order []string
	byURL map[string]models.ListingCard
}

// NewCardSet creates an empty accumulator
func NewCardSet() *CardSet {
	return &CardSet{byURL: make(map[string]models.ListingCard)}
}

// Add merges card into the set. Reports whether the URL was new.
func (s *CardSet) Add(card models.ListingCard) bool {
	existing, ok := s.byURL[card.URL]
	if ok {
		s.byURL[card.URL] = MergeCard(existing, card)
		return false
	}
	s.byURL[card.URL] = card
	s.order = append(s.order, card.URL)
	return true
}

// Contains reports whether url has been added
func (s *CardSet) Contains(url string) bool {
	_, ok := s.byURL[url]
	return ok
}

// Len returns the number of distinct URLs
func (s *CardSet) Len() int { return len(s.order) }

// Cards returns the merged cards in first-seen order
func (s *CardSet) Cards() []models.ListingCard {
	out := make([]models.ListingCard, 0, len(s.order))
	for _, u := range s.order {
		out = append(out, s.byURL[u])
	}
	return out
}

// ExtractCards runs every extractor, in order, over the feed scope of page and
// merges the results first-wins-with-fill. Cards pointing at the site root are dropped.
func ExtractCards(page *goquery.Selection, baseURL string, extractors []CardExtractor) []models.ListingCard {
	scope := page.Find(feedScopeSelector)
	if scope.Length() == 0 {
		scope = page
	}

	set := NewCardSet()
	for _, ex := range extractors {
		for _, card := range ex.Extract(scope, baseURL) {
			if card.URL == "" || parse.IsSiteRoot(card.URL, baseURL) {
				continue
			}
			set.Add(card)
		}
	}
	return set.Cards()
}
