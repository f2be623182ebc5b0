// Package discover builds a site's category tree: the seed menu first, then a
// breadth-first walk over every category page's sub-category links.
package discover

import (
	"context"
	"fmt"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"site-ingest/pkg/extract"
	"site-ingest/pkg/fetch"
	"site-ingest/pkg/models"
	"site-ingest/pkg/parse"
	"site-ingest/pkg/utils"
)

// DefaultWorkers bounds concurrent category page fetches when none is configured
const DefaultWorkers = 10

// Engine discovers categories for one site
type Engine struct {
	fetcher fetch.PageFetcher
	baseURL string
	workers int
	timeout time.Duration // per category page, 0 leaves it to the fetcher
	log     *logrus.Entry
}

// NewEngine creates an Engine. workers <= 0 uses DefaultWorkers.
func NewEngine(fetcher fetch.PageFetcher, baseURL string, workers int, timeout time.Duration, log *logrus.Entry) *Engine {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Engine{fetcher: fetcher, baseURL: baseURL, workers: workers, timeout: timeout, log: log}
}

// tree is the coordinator-owned discovery state
type tree struct {
	order   []string
	byURL   map[string]models.CategoryRecord
	visited map[string]bool
}

// Discover parses the menu on seedURL and walks sub-category pages in waves
// until a wave finds nothing new. Records come back in insertion order.
func (e *Engine) Discover(ctx context.Context, seedURL string) ([]models.CategoryRecord, error) {
	doc, _, err := e.fetchPage(ctx, seedURL)
	if err != nil {
		return nil, fmt.Errorf("%w: seed page '%s': %w", utils.ErrFetchFailure, seedURL, err)
	}

	t := &tree{byURL: make(map[string]models.CategoryRecord), visited: make(map[string]bool)}
	var frontier []string
	for _, rec := range extract.ParseMenu(doc.Selection, e.baseURL) {
		if t.insert(rec) {
			frontier = append(frontier, rec.URL)
		}
	}
	e.log.WithField("seed_categories", len(frontier)).Info("Parsed category menu")

	for wave := 1; len(frontier) > 0; wave++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		batch := make([]models.CategoryRecord, 0, len(frontier))
		for _, u := range frontier {
			if t.visited[u] {
				continue
			}
			t.visited[u] = true
			batch = append(batch, t.byURL[u])
		}
		if len(batch) == 0 {
			break
		}

		results := make([][]models.CategoryRecord, len(batch))
		var g errgroup.Group
		g.SetLimit(e.workers)
		for i, rec := range batch {
			g.Go(func() error {
				results[i] = e.children(ctx, rec)
				return nil
			})
		}
		g.Wait()

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		frontier = frontier[:0]
		for _, children := range results {
			for _, child := range children {
				if t.merge(child, e.log) && !t.visited[child.URL] {
					frontier = append(frontier, child.URL)
				}
			}
		}
		e.log.WithFields(logrus.Fields{
			"wave":    wave,
			"fetched": len(batch),
			"new":     len(frontier),
			"total":   len(t.order),
		}).Debug("Discovery wave complete")
	}

	out := make([]models.CategoryRecord, 0, len(t.order))
	for _, u := range t.order {
		out = append(out, t.byURL[u])
	}
	e.log.WithField("categories", len(out)).Info("Category discovery finished")
	return out, nil
}

// children fetches one category page and returns its sub-category links. A
// failed fetch yields none.
func (e *Engine) children(ctx context.Context, rec models.CategoryRecord) []models.CategoryRecord {
	doc, _, err := e.fetchPage(ctx, rec.URL)
	if err != nil {
		e.log.WithField("category", rec.URL).Warnf("Category page fetch failed, no sub-categories: %v", err)
		return nil
	}
	var out []models.CategoryRecord
	for _, child := range extract.ParseSubcategories(doc.Selection, e.baseURL, rec.URL) {
		if parse.IsSiteRoot(child.URL, e.baseURL) {
			continue
		}
		out = append(out, child)
	}
	return out
}

func (e *Engine) fetchPage(ctx context.Context, u string) (*goquery.Document, string, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	return e.fetcher.Fetch(ctx, u)
}

// insert adds rec if its URL is new, reporting whether it did
func (t *tree) insert(rec models.CategoryRecord) bool {
	if _, ok := t.byURL[rec.URL]; ok {
		return false
	}
	t.byURL[rec.URL] = rec
	t.order = append(t.order, rec.URL)
	return true
}

// merge folds one sighting of child into the tree. It reports true only when the
// URL was unseen. A known record without a parent takes the sighting's parent
// unless that would close a cycle; a known parent is never replaced.
func (t *tree) merge(child models.CategoryRecord, log *logrus.Entry) bool {
	if child.URL == "" || child.URL == child.ParentURL {
		return false
	}
	existing, ok := t.byURL[child.URL]
	if !ok {
		return t.insert(child)
	}

	switch {
	case child.ParentURL == "" || existing.ParentURL == child.ParentURL:
	case existing.ParentURL == "":
		if t.isAncestor(child.URL, child.ParentURL) {
			log.Debugf("Ignoring parent %s for %s: would create a cycle", child.ParentURL, child.URL)
			break
		}
		existing.ParentURL = child.ParentURL
		if existing.Name == "" {
			existing.Name = child.Name
		}
		t.byURL[child.URL] = existing
	default:
		log.Debugf("Category %s keeps parent %s, ignoring %s", child.URL, existing.ParentURL, child.ParentURL)
	}
	return false
}

// isAncestor reports whether candidate appears on the parent chain starting at from
func (t *tree) isAncestor(candidate, from string) bool {
	seen := make(map[string]bool)
	for u := from; u != "" && !seen[u]; u = t.byURL[u].ParentURL {
		if u == candidate {
			return true
		}
		seen[u] = true
	}
	return false
}
