package orchestrate

import (
	"context"
	"fmt"

	"github.com/PuerkitoBio/goquery"

	"site-ingest/pkg/fetch"
	"site-ingest/pkg/metrics"
)

// Phase names a pipeline stage in logs and errors
type Phase string

const (
	PhaseDiscovery   Phase = "discovery"
	PhaseFeedWalk    Phase = "feed-walk"
	PhasePersistence Phase = "persistence"
	PhaseArticles    Phase = "articles"
)

// PhaseError reports the stage a crawl failed in. LastBatch names the last unit
// of work that completed before the failure, empty if none did.
type PhaseError struct {
	Phase     Phase
	LastBatch string
	Err       error
}

func (e *PhaseError) Error() string {
	if e.LastBatch == "" {
		return fmt.Sprintf("%s failed: %v", e.Phase, e.Err)
	}
	return fmt.Sprintf("%s failed after '%s': %v", e.Phase, e.LastBatch, e.Err)
}

func (e *PhaseError) Unwrap() error { return e.Err }

// countingFetcher records fetch outcomes under one metrics kind
type countingFetcher struct {
	inner   fetch.PageFetcher
	kind    string
	metrics *metrics.Recorder
}

func (c countingFetcher) Fetch(ctx context.Context, rawURL string) (*goquery.Document, string, error) {
	doc, finalURL, err := c.inner.Fetch(ctx, rawURL)
	if err != nil {
		if ctx.Err() == nil {
			c.metrics.FetchFailed(c.kind, err)
		}
		return nil, "", err
	}
	c.metrics.PageFetched(c.kind)
	return doc, finalURL, nil
}
