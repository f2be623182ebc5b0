package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"site-ingest/pkg/config"
	"site-ingest/pkg/discover"
	"site-ingest/pkg/extract"
	"site-ingest/pkg/feed"
	"site-ingest/pkg/fetch"
	"site-ingest/pkg/metrics"
	"site-ingest/pkg/models"
	"site-ingest/pkg/persist"
	"site-ingest/pkg/process"
	"site-ingest/pkg/publish"
	"site-ingest/pkg/storage"
	"site-ingest/pkg/utils"
)

const defaultBatchSize = 10

// Deps are the collaborators shared by every site of one process
type Deps struct {
	Store     storage.RecordStore
	Fetcher   fetch.PageFetcher
	Publisher publish.Publisher     // nil drops events
	Metrics   *metrics.Recorder     // nil records nothing
	Counter   *process.TokenCounter // nil estimates token counts
}

// RunSummary reports one end-to-end run of a site
type RunSummary struct {
	RunID      string               `json:"run_id"`
	Site       string               `json:"site"`
	Categories models.CategoryStats `json:"categories"`
	Feed       models.PersistStats  `json:"feed"`
	Pending    int                  `json:"pending"`
	Articles   models.PersistStats  `json:"articles"`
	Duration   time.Duration        `json:"duration"`
}

// Orchestrator sequences discovery, feed walks and article crawls for one site.
// Each Orchestrator carries its own run id; build a new one per run.
type Orchestrator struct {
	siteKey string
	site    config.SiteConfig
	app     *config.AppConfig
	runID   string

	engine     *discover.Engine
	fetcher    fetch.PageFetcher
	extractor  *extract.ArticleExtractor
	categories *persist.CategoryService
	listings   *persist.ListingService
	articles   *persist.ArticleService
	publisher  publish.Publisher
	metrics    *metrics.Recorder
	log        *logrus.Entry
}

// New builds an Orchestrator for siteKey. The site config must already be validated.
func New(siteKey string, app *config.AppConfig, deps Deps, log *logrus.Entry) (*Orchestrator, error) {
	site, ok := app.Sites[siteKey]
	if !ok {
		return nil, fmt.Errorf("%w: site '%s' not found in configuration", utils.ErrConfigValidation, siteKey)
	}
	if deps.Store == nil || deps.Fetcher == nil {
		return nil, errors.New("orchestrator needs a store and a fetcher")
	}
	if deps.Publisher == nil {
		deps.Publisher = publish.NopPublisher{}
	}

	runID := uuid.NewString()
	log = log.WithFields(logrus.Fields{"site": siteKey, "run_id": runID})
	status, _ := models.ParseArticleStatus(site.DefaultStatus)
	workers := config.GetEffectiveWorkers(site, *app)

	return &Orchestrator{
		siteKey: siteKey,
		site:    site,
		app:     app,
		runID:   runID,
		engine: discover.NewEngine(
			countingFetcher{inner: deps.Fetcher, kind: metrics.KindCategory, metrics: deps.Metrics},
			site.BaseURL, workers, app.FetchTimeout, log.WithField("component", "discover"),
		),
		fetcher:    deps.Fetcher,
		extractor:  extract.NewArticleExtractor(site.ReadabilityFallback, log.WithField("component", "extract")),
		categories: persist.NewCategoryService(deps.Store, siteKey, site.BaseURL, config.GetEffectiveEnableNewCategories(site), log.WithField("component", "persist")),
		listings:   persist.NewListingService(deps.Store, siteKey, status, log.WithField("component", "persist")),
		articles: persist.NewArticleService(deps.Store, siteKey, status,
			process.NewDeriver(site.BaseURL, deps.Counter, log.WithField("component", "process")),
			log.WithField("component", "persist")),
		publisher: deps.Publisher,
		metrics:   deps.Metrics,
		log:       log,
	}, nil
}

// RunID returns the id attached to every log line of this orchestrator
func (o *Orchestrator) RunID() string { return o.runID }

// Articles exposes the article service for read paths (export, MCP)
func (o *Orchestrator) Articles() *persist.ArticleService { return o.articles }

// Categories exposes the category service for read paths
func (o *Orchestrator) Categories() *persist.CategoryService { return o.categories }

// DiscoverCategories runs category discovery from seedURL (the configured seed
// page when empty) and persists the result.
func (o *Orchestrator) DiscoverCategories(ctx context.Context, seedURL string) ([]models.CategoryRecord, models.CategoryStats, error) {
	if seedURL == "" {
		seedURL = o.site.SeedPage()
	}
	log := o.log.WithField("phase", PhaseDiscovery)

	records, err := o.engine.Discover(ctx, seedURL)
	if err != nil {
		return nil, models.CategoryStats{}, &PhaseError{Phase: PhaseDiscovery, Err: err}
	}

	stats, err := o.categories.Save(ctx, records)
	if err != nil {
		return records, models.CategoryStats{}, &PhaseError{Phase: PhasePersistence, Err: err}
	}
	o.metrics.CategoriesPersisted(stats)

	log.WithFields(logrus.Fields{
		"categories": len(records),
		"created":    stats.Created,
		"linked":     stats.Linked,
	}).Info("Category discovery persisted")
	return records, stats, nil
}

// CrawlFeed walks the feed at seedPageURL (the configured feed page when empty)
// and persists every card it saw. A nil predicate stops on cards already in the
// store, following the site's duplicate policy.
func (o *Orchestrator) CrawlFeed(ctx context.Context, seedPageURL string, maxPages int, predicate feed.DuplicatePredicate) (models.PersistStats, error) {
	if seedPageURL == "" {
		seedPageURL = o.site.FeedPage()
	}
	if predicate == nil {
		predicate = feed.NewSeenChecker(o.listings, feed.ParsePolicy(o.site.DuplicatePolicy)).Predicate()
	}
	log := o.log.WithFields(logrus.Fields{"phase": PhaseFeedWalk, "feed": seedPageURL})

	walker := feed.NewWalker(
		countingFetcher{inner: o.fetcher, kind: metrics.KindFeed, metrics: o.metrics},
		o.site.BaseURL, nil, log,
	)
	res, err := walker.Walk(ctx, seedPageURL, feed.Options{MaxPages: maxPages, Predicate: predicate})
	if err != nil {
		return models.PersistStats{}, &PhaseError{Phase: PhaseFeedWalk, Err: err}
	}

	stats, err := o.listings.SaveMany(ctx, res.Cards())
	if err != nil {
		return models.PersistStats{}, &PhaseError{Phase: PhasePersistence, Err: err}
	}
	o.metrics.Persisted(stats)

	log.WithFields(logrus.Fields{
		"pages":        len(res.Pages),
		"stop":         res.StopReason,
		"total_input":  stats.TotalInput,
		"total_unique": stats.TotalUnique,
		"created":      stats.Created,
	}).Info("Feed crawl persisted")
	return stats, nil
}

// CrawlCategories runs an independent feed crawl per category URL, each with its
// own duplicate predicate and page limit, and sums the stats. The first failure
// stops the loop; LastBatch names the last category that completed.
func (o *Orchestrator) CrawlCategories(ctx context.Context, categoryURLs []string, maxPages int) (models.PersistStats, error) {
	var total models.PersistStats
	lastBatch := ""
	for _, u := range categoryURLs {
		if err := ctx.Err(); err != nil {
			return total, &PhaseError{Phase: PhaseFeedWalk, LastBatch: lastBatch, Err: err}
		}
		stats, err := o.CrawlFeed(ctx, u, maxPages, nil)
		if err != nil {
			var pe *PhaseError
			if errors.As(err, &pe) {
				pe.LastBatch = lastBatch
			}
			return total, err
		}
		total.Add(stats)
		lastBatch = u
	}
	return total, nil
}

// PendingArticles lists up to limit articles still waiting for their body
func (o *Orchestrator) PendingArticles(ctx context.Context, limit int) ([]string, error) {
	return o.articles.Pending(ctx, limit)
}

// CrawlArticles fetches and extracts each URL and persists the bodies in atomic
// batches of batchSize. Articles answering 4xx are marked ERROR; other fetch
// failures are skipped and retried on a later run. Every newly stored content
// record is published.
func (o *Orchestrator) CrawlArticles(ctx context.Context, urls []string, batchSize int) (models.PersistStats, error) {
	if batchSize <= 0 {
		batchSize = o.site.BatchSize
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	log := o.log.WithField("phase", PhaseArticles)

	var total models.PersistStats
	lastBatch := ""
	batches := (len(urls) + batchSize - 1) / batchSize

	for start, n := 0, 1; start < len(urls); start, n = start+batchSize, n+1 {
		if err := ctx.Err(); err != nil {
			return total, &PhaseError{Phase: PhaseArticles, LastBatch: lastBatch, Err: err}
		}
		chunk := urls[start:min(start+batchSize, len(urls))]

		bodies := make([]models.ArticleBody, 0, len(chunk))
		for _, u := range chunk {
			body, ok, err := o.fetchArticle(ctx, u, log)
			if err != nil {
				return total, &PhaseError{Phase: PhaseArticles, LastBatch: lastBatch, Err: err}
			}
			if ok {
				bodies = append(bodies, body)
			}
		}

		stats, fresh, err := o.articles.SaveMany(ctx, bodies)
		if err != nil {
			return total, &PhaseError{Phase: PhasePersistence, LastBatch: lastBatch, Err: err}
		}
		total.Add(stats)
		o.metrics.Persisted(stats)
		lastBatch = fmt.Sprintf("%d/%d", n, batches)

		for _, b := range fresh {
			ev := publish.Event{Type: publish.EventArticleStored, Site: o.siteKey, URL: b.URL, Title: b.Title}
			if err := o.publisher.Publish(ctx, ev); err != nil {
				log.WithField("url", b.URL).Warnf("Failed to publish article event: %v", err)
			}
		}
		log.WithFields(logrus.Fields{
			"batch":           lastBatch,
			"bodies":          len(bodies),
			"content_created": stats.ContentCreated,
		}).Info("Article batch persisted")
	}
	return total, nil
}

// fetchArticle fetches and extracts one article. ok is false when the article
// was skipped; err is set only when the crawl must stop.
func (o *Orchestrator) fetchArticle(ctx context.Context, u string, log *logrus.Entry) (models.ArticleBody, bool, error) {
	artLog := log.WithField("url", u)

	doc, finalURL, err := o.fetcher.Fetch(ctx, u)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return models.ArticleBody{}, false, ctxErr
		}
		o.metrics.FetchFailed(metrics.KindArticle, err)
		if errors.Is(err, utils.ErrClientHTTPError) && !errors.Is(err, utils.ErrRetryFailed) {
			artLog.Warnf("Article fetch failed permanently, marking ERROR: %v", err)
			if _, markErr := o.articles.MarkError(ctx, u, utils.CategorizeError(err)); markErr != nil {
				return models.ArticleBody{}, false, markErr
			}
			return models.ArticleBody{}, false, nil
		}
		artLog.Warnf("Article fetch failed, skipping: %v", err)
		return models.ArticleBody{}, false, nil
	}
	o.metrics.PageFetched(metrics.KindArticle)

	body, err := o.extractor.Extract(doc.Selection, finalURL)
	if err != nil {
		artLog.Warnf("Article extraction failed, skipping: %v", err)
		return models.ArticleBody{}, false, nil
	}
	body.URL = u
	if !body.HasContent() {
		artLog.Debug("No article body found on page")
	}
	return body, true, nil
}

// Run executes the whole pipeline: discovery, feed crawls (per enabled category
// when crawl_by_category is set, otherwise the site feed), then pending articles.
func (o *Orchestrator) Run(ctx context.Context) (RunSummary, error) {
	start := time.Now()
	summary := RunSummary{RunID: o.runID, Site: o.siteKey}
	o.log.Info("Run started")

	_, catStats, err := o.DiscoverCategories(ctx, "")
	if err != nil {
		return summary, err
	}
	summary.Categories = catStats

	if o.site.CrawlByCategory {
		enabled, err := o.categories.Enabled(ctx)
		if err != nil {
			return summary, &PhaseError{Phase: PhaseFeedWalk, Err: err}
		}
		urls := make([]string, 0, len(enabled))
		for _, c := range enabled {
			urls = append(urls, c.URL)
		}
		summary.Feed, err = o.CrawlCategories(ctx, urls, o.site.MaxPages)
		if err != nil {
			return summary, err
		}
	} else {
		summary.Feed, err = o.CrawlFeed(ctx, "", o.site.MaxPages, nil)
		if err != nil {
			return summary, err
		}
	}

	pending, err := o.articles.Pending(ctx, 0)
	if err != nil {
		return summary, &PhaseError{Phase: PhaseArticles, Err: err}
	}
	summary.Pending = len(pending)
	summary.Articles, err = o.CrawlArticles(ctx, pending, o.site.BatchSize)
	summary.Duration = time.Since(start)
	if err != nil {
		return summary, err
	}

	o.log.WithFields(logrus.Fields{
		"categories":      summary.Categories.TotalUnique,
		"cards":           summary.Feed.TotalUnique,
		"pending":         summary.Pending,
		"content_created": summary.Articles.ContentCreated,
		"duration":        summary.Duration,
	}).Info("Run finished")
	return summary, nil
}
