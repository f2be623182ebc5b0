package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"site-ingest/pkg/models"
)

const menuPage = `<html><body>
<aside class="left-sidebar">
  <ul class="facts-navigation">
    <li class="bigcat-nav">
      <a class="bigcat-nav-link" href="/animals"><i class="icon"></i>Animals <small>(120)</small></a>
      <div class="bigcat-nav-childs">
        <a class="bigcat-nav-child" href="/animals/cats/">Cats</a>
        <a class="bigcat-nav-child" href="/animals/birds/?sort=new">Birds <small>4</small></a>
      </div>
    </li>
    <li class="bigcat-nav">
      <a class="bigcat-nav-link" href="https://example.com/space/">Space</a>
    </li>
  </ul>
  <ul class="extra">
    <li>
      <div class="bigcat-nav-childs">
        <a class="bigcat-nav-child" href="/history/wars/">Wars</a>
        <a class="bigcat-nav-child" href="/misc/">Misc</a>
      </div>
    </li>
  </ul>
</aside>
</body></html>`

func TestParseMenu(t *testing.T) {
	doc := mustDoc(t, menuPage)
	got := ParseMenu(doc.Selection, testBase)

	want := []models.CategoryRecord{
		{Name: "Animals", URL: "https://example.com/animals/"},
		{Name: "Cats", URL: "https://example.com/animals/cats/", ParentURL: "https://example.com/animals/"},
		{Name: "Birds", URL: "https://example.com/animals/birds/", ParentURL: "https://example.com/animals/"},
		{Name: "Space", URL: "https://example.com/space/"},
		{Name: "Wars", URL: "https://example.com/history/wars/", ParentURL: "https://example.com/history/"},
		{Name: "Misc", URL: "https://example.com/misc/"},
	}
	assert.Equal(t, want, got)
}

func TestParseMenu_NoSidebar(t *testing.T) {
	doc := mustDoc(t, `<html><body><ul class="facts-navigation"></ul></body></html>`)
	assert.Empty(t, ParseMenu(doc.Selection, testBase))
}

func TestParseMenu_DuplicateLastWins(t *testing.T) {
	doc := mustDoc(t, `<aside class="left-sidebar"><ul class="facts-navigation">
		<li class="bigcat-nav"><a class="bigcat-nav-link" href="/a/">A</a>
			<div class="bigcat-nav-childs"><a class="bigcat-nav-child" href="/shared/">First</a></div></li>
		<li class="bigcat-nav"><a class="bigcat-nav-link" href="/b/">B</a>
			<div class="bigcat-nav-childs"><a class="bigcat-nav-child" href="/shared">Second</a></div></li>
	</ul></aside>`)

	got := ParseMenu(doc.Selection, testBase)
	require.Len(t, got, 3)
	assert.Equal(t, models.CategoryRecord{Name: "Second", URL: "https://example.com/shared/", ParentURL: "https://example.com/b/"}, got[1])
}

func TestParseSubcategories(t *testing.T) {
	doc := mustDoc(t, `<html><body><nav class="subcategory-list">
		<a class="subcategory-link" href="/animals/cats/lions/">Lions <small>3</small></a>
		<a class="subcategory-link" href="tigers">Tigers</a>
		<a class="subcategory-link">No href</a>
	</nav></body></html>`)

	got := ParseSubcategories(doc.Selection, testBase, "https://example.com/animals/cats/")
	assert.Equal(t, []models.CategoryRecord{
		{Name: "Lions", URL: "https://example.com/animals/cats/lions/", ParentURL: "https://example.com/animals/cats/"},
		{Name: "Tigers", URL: "https://example.com/tigers/", ParentURL: "https://example.com/animals/cats/"},
	}, got)
}

func TestParseSubcategories_RootPageHasNoParent(t *testing.T) {
	doc := mustDoc(t, `<nav class="subcategory-list"><a class="subcategory-link" href="/x/">X</a></nav>`)

	got := ParseSubcategories(doc.Selection, testBase, "https://example.com")
	require.Len(t, got, 1)
	assert.Empty(t, got[0].ParentURL)
}

func TestParseSubcategories_NoNav(t *testing.T) {
	doc := mustDoc(t, `<html><body><a class="subcategory-link" href="/x/">X</a></body></html>`)
	assert.Nil(t, ParseSubcategories(doc.Selection, testBase, "https://example.com/a/"))
}
