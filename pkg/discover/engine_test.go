package discover

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"site-ingest/pkg/config"
	"site-ingest/pkg/fetch"
	"site-ingest/pkg/models"
	"site-ingest/pkg/utils"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func menuHTML(top ...string) string {
	var sb strings.Builder
	sb.WriteString(`<html><body><aside class="left-sidebar"><ul class="facts-navigation">`)
	for _, p := range top {
		fmt.Fprintf(&sb, `<li class="bigcat-nav"><a class="bigcat-nav-link" href="%s">%s</a></li>`, p, strings.Trim(p, "/"))
	}
	sb.WriteString(`</ul></aside></body></html>`)
	return sb.String()
}

func subHTML(links ...string) string {
	var sb strings.Builder
	sb.WriteString(`<html><body><nav class="subcategory-list">`)
	for _, l := range links {
		fmt.Fprintf(&sb, `<a class="subcategory-link" href="%s">%s</a>`, l, l)
	}
	sb.WriteString(`</nav></body></html>`)
	return sb.String()
}

type site struct {
	*httptest.Server
	mu   sync.Mutex
	hits map[string]int
}

func (s *site) hitsFor(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

func (s *site) u(path string) string { return s.URL + path }

func newSite(t *testing.T, pages map[string]string) *site {
	t.Helper()
	s := &site{hits: make(map[string]int)}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[r.URL.Path]++
		s.mu.Unlock()
		body, ok := pages[r.URL.Path]
		if !ok {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		io.WriteString(w, body)
	}))
	t.Cleanup(s.Close)
	return s
}

func newTestEngine(s *site, workers int) *Engine {
	cfg := &config.AppConfig{
		MaxRetries:        0,
		InitialRetryDelay: 5 * time.Millisecond,
		MaxRetryDelay:     10 * time.Millisecond,
		FetchTimeout:      5 * time.Second,
	}
	return NewEngine(fetch.NewFetcher(s.Client(), cfg, testLogger()), s.URL+"/", workers, 2*time.Second, testLogger())
}

func TestDiscover_WalksSubcategories(t *testing.T) {
	s := newSite(t, map[string]string{
		"/":                menuHTML("/cats/"),
		"/cats/":           subHTML("/cats/big/", "/cats/small/"),
		"/cats/big/":       subHTML("/cats/", "/cats/big/lions/", "/"),
		"/cats/small/":     subHTML(),
		"/cats/big/lions/": subHTML("/cats/big/lions/"),
	})

	got, err := newTestEngine(s, 4).Discover(context.Background(), s.u("/"))
	require.NoError(t, err)

	assert.Equal(t, []models.CategoryRecord{
		{Name: "cats", URL: s.u("/cats/")},
		{Name: "/cats/big/", URL: s.u("/cats/big/"), ParentURL: s.u("/cats/")},
		{Name: "/cats/small/", URL: s.u("/cats/small/"), ParentURL: s.u("/cats/")},
		{Name: "/cats/big/lions/", URL: s.u("/cats/big/lions/"), ParentURL: s.u("/cats/big/")},
	}, got)

	for _, p := range []string{"/", "/cats/", "/cats/big/", "/cats/small/", "/cats/big/lions/"} {
		assert.Equal(t, 1, s.hitsFor(p), "page %s fetched once", p)
	}
}

func TestDiscover_ParentReconciliation(t *testing.T) {
	s := newSite(t, map[string]string{
		"/":   menuHTML("/a/", "/b/"),
		"/a/": subHTML("/b/", "/c/"),
		"/b/": subHTML("/a/", "/c/"),
		"/c/": subHTML(),
	})

	got, err := newTestEngine(s, 2).Discover(context.Background(), s.u("/"))
	require.NoError(t, err)

	byURL := map[string]string{}
	for _, r := range got {
		byURL[r.URL] = r.ParentURL
	}
	require.Len(t, byURL, 3)
	assert.Equal(t, s.u("/a/"), byURL[s.u("/b/")], "a parentless record takes the first parent seen")
	assert.Empty(t, byURL[s.u("/a/")], "a parent that would close a cycle is ignored")
	assert.Equal(t, s.u("/a/"), byURL[s.u("/c/")], "first known parent wins within a wave")
}

func TestDiscover_FailedCategoryPageHasNoChildren(t *testing.T) {
	s := newSite(t, map[string]string{
		"/":          menuHTML("/ok/", "/down/"),
		"/ok/":       subHTML("/ok/child/"),
		"/ok/child/": subHTML(),
	})

	got, err := newTestEngine(s, 0).Discover(context.Background(), s.u("/"))
	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.Equal(t, 1, s.hitsFor("/down/"))
}

func TestDiscover_SeedFailure(t *testing.T) {
	s := newSite(t, map[string]string{})

	_, err := newTestEngine(s, 1).Discover(context.Background(), s.u("/"))
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrFetchFailure)
}

func TestDiscover_CancelledContext(t *testing.T) {
	s := newSite(t, map[string]string{"/": menuHTML("/a/")})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestEngine(s, 1).Discover(ctx, s.u("/"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewEngine_DefaultWorkers(t *testing.T) {
	e := NewEngine(nil, "https://example.com/", 0, 0, testLogger())
	assert.Equal(t, DefaultWorkers, e.workers)
}

func TestTreeMerge(t *testing.T) {
	log := testLogger()
	tr := &tree{byURL: map[string]models.CategoryRecord{}, visited: map[string]bool{}}
	tr.insert(models.CategoryRecord{URL: "https://x/a/"})
	tr.insert(models.CategoryRecord{URL: "https://x/b/", ParentURL: "https://x/a/"})

	assert.True(t, tr.merge(models.CategoryRecord{URL: "https://x/c/", ParentURL: "https://x/b/"}, log))
	assert.False(t, tr.merge(models.CategoryRecord{URL: "https://x/c/", ParentURL: "https://x/a/"}, log))
	assert.Equal(t, "https://x/b/", tr.byURL["https://x/c/"].ParentURL)

	assert.False(t, tr.merge(models.CategoryRecord{URL: "https://x/a/", ParentURL: "https://x/c/"}, log))
	assert.Empty(t, tr.byURL["https://x/a/"].ParentURL)

	assert.False(t, tr.merge(models.CategoryRecord{URL: "https://x/d/", ParentURL: "https://x/d/"}, log))
	assert.NotContains(t, tr.byURL, "https://x/d/")
	assert.Equal(t, []string{"https://x/a/", "https://x/b/", "https://x/c/"}, tr.order)
}
