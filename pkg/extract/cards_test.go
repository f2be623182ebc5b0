package extract

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"site-ingest/pkg/models"
)

const testBase = "https://example.com/"

func mustDoc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

// staticExtractor returns fixed cards, for merge-order tests
type staticExtractor struct {
	name  string
	cards []models.ListingCard
}

func (s staticExtractor) Name() string { return s.name }
func (s staticExtractor) Extract(*goquery.Selection, string) []models.ListingCard {
	return s.cards
}

const feedPage = `<html><body>
<header><a href="/">Home</a></header>
<section class="new-text-posts">
  <div class="new-text-post-outer">
    <a class="new-text-post" href="/cats/lions?ref=feed">
      <span class="new-text-post-image"><img src="/img/lion.jpg"></span>
      <span class="new-text-post-title">  Lions   sleep </span>
    </a>
  </div>
  <div class="new-text-post-outer">
    <a class="new-text-post" href="https://example.com/cats/tigers/">
      <span class="new-text-post-image"><img data-src="/img/tiger.jpg"></span>
      Tigers <small>12</small>
    </a>
  </div>
  <div class="new-text-post-outer">
    <a class="new-text-post" href="/">Back to index</a>
  </div>
</section>
<div class="feed-picture-fact-outer">
  <div class="feed-picture-fact"><a href="/cats/lions/"><img src="/img/lion-big.jpg"></a></div>
  <div class="ya-share2" data-title="Lion picture"></div>
</div>
<div class="feed-picture-fact-outer">
  <div class="feed-picture-fact"><a href="/pics/owl/"><img src="/img/owl.jpg"></a></div>
  <div class="ya-share2"><a title=" Owl at night " href="#">share</a></div>
</div>
</body></html>`

func TestNewTextPostExtractor(t *testing.T) {
	doc := mustDoc(t, feedPage)
	cards := NewTextPostExtractor{}.Extract(doc.Selection, testBase)

	require.Len(t, cards, 3)
	assert.Equal(t, models.ListingCard{
		URL:          "https://example.com/cats/lions/",
		Title:        "Lions sleep",
		ImagePreview: "https://example.com/img/lion.jpg",
	}, cards[0])
	assert.Equal(t, models.ListingCard{
		URL:          "https://example.com/cats/tigers/",
		Title:        "Tigers",
		ImagePreview: "https://example.com/img/tiger.jpg",
	}, cards[1])
	assert.Equal(t, "https://example.com/", cards[2].URL, "site-root filtering happens in ExtractCards")
}

func TestPictureFactExtractor(t *testing.T) {
	doc := mustDoc(t, feedPage)
	cards := PictureFactExtractor{}.Extract(doc.Selection, testBase)

	require.Len(t, cards, 2)
	assert.Equal(t, "https://example.com/cats/lions/", cards[0].URL)
	assert.Equal(t, "Lion picture", cards[0].Title)
	assert.Equal(t, "https://example.com/img/lion-big.jpg", cards[0].ImagePreview)
	assert.Equal(t, "Owl at night", cards[1].Title)
}

func TestExtractors_AbsentTemplate(t *testing.T) {
	doc := mustDoc(t, `<html><body><p>nothing here</p></body></html>`)
	for _, ex := range DefaultExtractors() {
		assert.Empty(t, ex.Extract(doc.Selection, testBase), ex.Name())
	}
	assert.Empty(t, ExtractCards(doc.Selection, testBase, DefaultExtractors()))
}

func TestExtractCards_MergesAndDropsRoot(t *testing.T) {
	doc := mustDoc(t, feedPage)
	cards := ExtractCards(doc.Selection, testBase, DefaultExtractors())

	require.Len(t, cards, 3)
	// NewTextPost is registered first, so its title and image survive for lions.
	assert.Equal(t, models.ListingCard{
		URL:          "https://example.com/cats/lions/",
		Title:        "Lions sleep",
		ImagePreview: "https://example.com/img/lion.jpg",
	}, cards[0])
	assert.Equal(t, "https://example.com/cats/tigers/", cards[1].URL)
	assert.Equal(t, "https://example.com/pics/owl/", cards[2].URL)
}

func TestExtractCards_FirstWinsWithFill(t *testing.T) {
	first := staticExtractor{name: "first", cards: []models.ListingCard{
		{URL: "https://example.com/a/", Title: "First title"},
		{URL: "https://example.com/b/"},
	}}
	second := staticExtractor{name: "second", cards: []models.ListingCard{
		{URL: "https://example.com/a/", Title: "Second title", ImagePreview: "https://example.com/a.jpg"},
		{URL: "https://example.com/b/", Title: "B from second"},
		{URL: "https://example.com/", Title: "root"},
	}}

	doc := mustDoc(t, `<html></html>`)
	cards := ExtractCards(doc.Selection, testBase, []CardExtractor{first, second})

	require.Len(t, cards, 2)
	assert.Equal(t, models.ListingCard{
		URL:          "https://example.com/a/",
		Title:        "First title",
		ImagePreview: "https://example.com/a.jpg",
	}, cards[0])
	assert.Equal(t, "B from second", cards[1].Title)

	// Registration order is significant.
	swapped := ExtractCards(doc.Selection, testBase, []CardExtractor{second, first})
	assert.Equal(t, "Second title", swapped[0].Title)
}

func TestExtractCards_ScopeFallsBackToDocument(t *testing.T) {
	doc := mustDoc(t, `<html><body><main>
		<div class="new-text-post-outer"><a class="new-text-post" href="/x/"><span class="new-text-post-title">X</span></a></div>
	</main></body></html>`)

	cards := ExtractCards(doc.Selection, testBase, DefaultExtractors())
	require.Len(t, cards, 1)
	assert.Equal(t, "https://example.com/x/", cards[0].URL)
}

func TestMergeCard(t *testing.T) {
	existing := models.ListingCard{URL: "u", Title: "kept"}
	incoming := models.ListingCard{URL: "u", Title: "ignored", ImagePreview: "filled"}

	merged := MergeCard(existing, incoming)
	assert.Equal(t, models.ListingCard{URL: "u", Title: "kept", ImagePreview: "filled"}, merged)
	assert.Equal(t, "", existing.ImagePreview, "inputs are not modified")
}

func TestCardSet(t *testing.T) {
	set := NewCardSet()
	assert.True(t, set.Add(models.ListingCard{URL: "a"}))
	assert.True(t, set.Add(models.ListingCard{URL: "b", Title: "B"}))
	assert.False(t, set.Add(models.ListingCard{URL: "a", Title: "A"}))

	assert.Equal(t, 2, set.Len())
	assert.True(t, set.Contains("b"))
	assert.False(t, set.Contains("c"))
	assert.Equal(t, []models.ListingCard{{URL: "a", Title: "A"}, {URL: "b", Title: "B"}}, set.Cards())
}
