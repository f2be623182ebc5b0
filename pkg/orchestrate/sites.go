package orchestrate

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"site-ingest/pkg/config"
	"site-ingest/pkg/fetch"
	"site-ingest/pkg/utils"
)

// SiteResult contains the result of running the pipeline for a single site
type SiteResult struct {
	SiteKey  string
	Success  bool
	Error    error
	Summary  RunSummary
	Duration time.Duration
}

// BuildFetcher creates the page fetcher for one site: the shared client settings,
// the site's User-Agent and its per-host request delay.
func BuildFetcher(app *config.AppConfig, site config.SiteConfig, log *logrus.Entry) *fetch.Fetcher {
	client := fetch.NewClient(app.HTTPClientSettings, log)
	opts := []fetch.Option{fetch.WithUserAgent(config.GetEffectiveUserAgent(site, *app))}
	if site.RequestDelay > 0 {
		opts = append(opts, fetch.WithRateLimit(fetch.NewRateLimiter(site.RequestDelay, log), site.RequestDelay))
	}
	return fetch.NewFetcher(client, app, log, opts...)
}

// RunSites runs the full pipeline for every site key, at most parallel at a time
// (all at once when parallel <= 0). Each site gets its own fetcher; deps.Fetcher
// is ignored. Results are returned in siteKeys order.
func RunSites(ctx context.Context, app *config.AppConfig, siteKeys []string, parallel int, deps Deps, log *logrus.Entry) []SiteResult {
	startTime := time.Now()
	log.Infof("Starting run of %d sites: %v", len(siteKeys), siteKeys)

	if parallel <= 0 {
		parallel = len(siteKeys)
	}
	sem := semaphore.NewWeighted(int64(max(parallel, 1)))
	results := make([]SiteResult, len(siteKeys))

	var wg sync.WaitGroup
	for i, key := range siteKeys {
		wg.Add(1)
		go func(i int, key string) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				results[i] = SiteResult{SiteKey: key, Error: err}
				return
			}
			defer sem.Release(1)
			results[i] = runSite(ctx, app, key, deps, log)
		}(i, key)
	}
	wg.Wait()

	logSummary(log, results, time.Since(startTime))
	return results
}

func runSite(ctx context.Context, app *config.AppConfig, siteKey string, deps Deps, log *logrus.Entry) SiteResult {
	startTime := time.Now()
	result := SiteResult{SiteKey: siteKey}

	site, ok := app.Sites[siteKey]
	if !ok {
		result.Error = fmt.Errorf("%w: site '%s' not found in configuration", utils.ErrConfigValidation, siteKey)
		log.Errorf("Site '%s' not found in configuration", siteKey)
		return result
	}
	siteLog := log.WithField("site", siteKey)
	deps.Fetcher = BuildFetcher(app, site, siteLog.WithField("component", "fetch"))

	o, err := New(siteKey, app, deps, log)
	if err != nil {
		result.Error = err
		return result
	}

	result.Summary, result.Error = o.Run(ctx)
	result.Success = result.Error == nil
	result.Duration = time.Since(startTime)
	if result.Error != nil {
		siteLog.Errorf("Run failed: %v", result.Error)
	}
	return result
}

func logSummary(log *logrus.Entry, results []SiteResult, totalDuration time.Duration) {
	log.Info("============================================")
	log.Infof("Run completed in %v", totalDuration)
	log.Info("Site Results:")

	successCount, failCount, totalArticles := 0, 0, 0
	for _, r := range results {
		status := "SUCCESS"
		if !r.Success {
			status = "FAILED"
			failCount++
		} else {
			successCount++
		}
		totalArticles += r.Summary.Articles.ContentCreated

		log.Infof("  %s: %s - %d cards, %d new articles in %v",
			r.SiteKey, status, r.Summary.Feed.TotalUnique, r.Summary.Articles.ContentCreated, r.Duration)
		if r.Error != nil {
			log.Infof("    Error: %v", r.Error)
		}
	}

	log.Info("--------------------------------------------")
	log.Infof("Total: %d sites (%d success, %d failed), %d new articles",
		len(results), successCount, failCount, totalArticles)
	log.Info("============================================")
}

// ValidateSiteKeys checks that all provided site keys exist in the config
func ValidateSiteKeys(appCfg *config.AppConfig, siteKeys []string) error {
	for _, key := range siteKeys {
		if _, exists := appCfg.Sites[key]; !exists {
			return fmt.Errorf("%w: site '%s' not found. Available sites: %v", utils.ErrConfigValidation, key, GetAllSiteKeys(appCfg))
		}
	}
	return nil
}

// GetAllSiteKeys returns all site keys from the config, sorted
func GetAllSiteKeys(appCfg *config.AppConfig) []string {
	keys := make([]string, 0, len(appCfg.Sites))
	for k := range appCfg.Sites {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
