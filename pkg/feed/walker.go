// Package feed walks paginated listing feeds and collects their cards.
package feed

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"site-ingest/pkg/extract"
	"site-ingest/pkg/fetch"
	"site-ingest/pkg/models"
	"site-ingest/pkg/parse"
	"site-ingest/pkg/utils"
)

// StopReason names why a walk ended
type StopReason string

const (
	StopMaxPages   StopReason = "max-pages"
	StopDuplicates StopReason = "duplicates"
	StopNoNext     StopReason = "no-next"
	StopRepeated   StopReason = "repeated-page" // next link points at a page already walked
)

// Options control one walk
type Options struct {
	MaxPages  int // 0 means unlimited
	Predicate DuplicatePredicate
}

// PageResult is what one feed page produced
type PageResult struct {
	URL        string
	Cards      []models.ListingCard
	Pagination models.PaginationState
}

// Result holds every walked page plus the merged cards
type Result struct {
	Pages      []PageResult
	Merged     []models.ListingCard // first-wins-with-fill across pages, first-seen order
	StopReason StopReason
}

// Cards returns the raw per-page cards concatenated in page order, duplicates included
func (r *Result) Cards() []models.ListingCard {
	var out []models.ListingCard
	for _, p := range r.Pages {
		out = append(out, p.Cards...)
	}
	return out
}

// Walker follows a feed's pagination from a seed page
type Walker struct {
	fetcher    fetch.PageFetcher
	baseURL    string
	extractors []extract.CardExtractor
	log        *logrus.Entry
}

// NewWalker creates a Walker. Nil extractors use extract.DefaultExtractors.
func NewWalker(fetcher fetch.PageFetcher, baseURL string, extractors []extract.CardExtractor, log *logrus.Entry) *Walker {
	if extractors == nil {
		extractors = extract.DefaultExtractors()
	}
	return &Walker{fetcher: fetcher, baseURL: baseURL, extractors: extractors, log: log}
}

// Walk fetches seedURL and follows next links until a stop condition holds.
// The cards of the page that triggers a stop are kept.
func (w *Walker) Walk(ctx context.Context, seedURL string, opts Options) (*Result, error) {
	res := &Result{}
	merged := extract.NewCardSet()
	visited := make(map[string]bool)
	walkLog := w.log.WithField("seed", seedURL)

	pageURL := seedURL
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		visited[pageURL] = true

		doc, finalURL, err := w.fetcher.Fetch(ctx, pageURL)
		if err != nil {
			return nil, fmt.Errorf("%w: feed page %d '%s': %w", utils.ErrFetchFailure, len(res.Pages)+1, pageURL, err)
		}
		if finalURL == "" {
			finalURL = pageURL
		}
		visited[finalURL] = true

		cards := extract.ExtractCards(doc.Selection, w.baseURL, w.extractors)
		for _, c := range cards {
			merged.Add(c)
		}
		pagination := parse.ParsePagination(doc.Selection)
		res.Pages = append(res.Pages, PageResult{URL: finalURL, Cards: cards, Pagination: pagination})

		walkLog.WithFields(logrus.Fields{
			"page":  pagination.CurrentPage,
			"total": pagination.TotalPages,
			"cards": len(cards),
		}).Debugf("Walked feed page %s", finalURL)

		if opts.MaxPages > 0 && len(res.Pages) >= opts.MaxPages {
			res.StopReason = StopMaxPages
			break
		}
		if opts.Predicate != nil {
			unique, err := opts.Predicate(ctx, cards)
			if err != nil {
				return nil, fmt.Errorf("duplicate check on '%s': %w", finalURL, err)
			}
			if !unique {
				res.StopReason = StopDuplicates
				break
			}
		}
		if pagination.NextPageURL == "" {
			res.StopReason = StopNoNext
			break
		}
		next := parse.AbsURL(finalURL, pagination.NextPageURL)
		if next == "" {
			res.StopReason = StopNoNext
			break
		}
		if visited[next] {
			res.StopReason = StopRepeated
			break
		}
		pageURL = next
	}

	res.Merged = merged.Cards()
	walkLog.WithFields(logrus.Fields{
		"pages":  len(res.Pages),
		"cards":  len(res.Merged),
		"reason": res.StopReason,
	}).Info("Feed walk finished")
	return res, nil
}
