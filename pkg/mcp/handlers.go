package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sirupsen/logrus"

	"site-ingest/pkg/models"
	"site-ingest/pkg/orchestrate"
	"site-ingest/pkg/utils"
)

const (
	defaultMaxResults = 10
	maxMaxResults     = 100
	snippetLen        = 150
)

var errEnoughResults = errors.New("enough results")

// siteOrchestrator resolves the site_key argument; a non-nil result is the tool error to return
func (s *Server) siteOrchestrator(request mcp.CallToolRequest) (*orchestrate.Orchestrator, *mcp.CallToolResult) {
	siteKey := request.GetString("site_key", "")
	if siteKey == "" {
		return nil, mcp.NewToolResultError("site_key parameter is required")
	}
	o, err := s.orchestrator(siteKey)
	if err != nil {
		return nil, mcp.NewToolResultError(err.Error())
	}
	return o, nil
}

func (s *Server) handleListSites(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	app := s.cfg.AppConfig
	keys := orchestrate.GetAllSiteKeys(app)

	sites := make([]map[string]any, 0, len(keys))
	for _, key := range keys {
		site := app.Sites[key]
		info := map[string]any{
			"key":               key,
			"base_url":          site.BaseURL,
			"seed_url":          site.SeedPage(),
			"feed_url":          site.FeedPage(),
			"crawl_by_category": site.CrawlByCategory,
			"max_pages":         site.MaxPages,
		}
		if job, ok := s.jobs.ActiveJob(key); ok {
			info["status"] = "running"
			info["job_id"] = job.ID
		}
		sites = append(sites, info)
	}

	return mcp.NewToolResultText(formatJSON(map[string]any{
		"sites":       sites,
		"config_path": s.cfg.ConfigPath,
		"total_sites": len(sites),
	})), nil
}

func (s *Server) handleDiscoverCategories(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	o, errResult := s.siteOrchestrator(request)
	if errResult != nil {
		return errResult, nil
	}

	records, stats, err := o.DiscoverCategories(ctx, request.GetString("seed_url", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("discovery failed: %v", err)), nil
	}
	return mcp.NewToolResultText(formatJSON(map[string]any{
		"run_id":     o.RunID(),
		"categories": len(records),
		"stats":      stats,
	})), nil
}

func (s *Server) handleCrawlFeed(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	o, errResult := s.siteOrchestrator(request)
	if errResult != nil {
		return errResult, nil
	}
	site := s.cfg.AppConfig.Sites[request.GetString("site_key", "")]
	maxPages := request.GetInt("max_pages", site.MaxPages)

	stats, err := o.CrawlFeed(ctx, request.GetString("url", ""), maxPages, nil)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("feed crawl failed: %v", err)), nil
	}
	return mcp.NewToolResultText(formatJSON(map[string]any{
		"run_id": o.RunID(),
		"stats":  stats,
	})), nil
}

func (s *Server) handleCrawlArticles(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	o, errResult := s.siteOrchestrator(request)
	if errResult != nil {
		return errResult, nil
	}
	limit := request.GetInt("limit", 0)

	return s.startJob(request.GetString("site_key", ""), JobKindArticles, o, func(ctx context.Context) (any, error) {
		pending, err := o.PendingArticles(ctx, limit)
		if err != nil {
			return nil, err
		}
		stats, err := o.CrawlArticles(ctx, pending, 0)
		return map[string]any{"pending": len(pending), "stats": stats}, err
	}), nil
}

func (s *Server) handleRunSite(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	o, errResult := s.siteOrchestrator(request)
	if errResult != nil {
		return errResult, nil
	}
	return s.startJob(request.GetString("site_key", ""), JobKindRun, o, func(ctx context.Context) (any, error) {
		return o.Run(ctx)
	}), nil
}

// startJob runs work in the background under a job slot
func (s *Server) startJob(siteKey string, kind JobKind, o *orchestrate.Orchestrator, work func(context.Context) (any, error)) *mcp.CallToolResult {
	job, created := s.jobs.CreateJob(siteKey, kind)
	if !created {
		return mcp.NewToolResultText(formatJSON(map[string]any{
			"status":   "already_running",
			"message":  "A job is already in progress for this site",
			"job_id":   job.ID,
			"kind":     job.Kind,
			"site_key": siteKey,
		}))
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx := s.jobs.Start(job.ID, o.RunID())
		log := s.log.WithFields(logrus.Fields{"job_id": job.ID, "site": siteKey, "kind": kind})

		if err := s.jobSlots.Acquire(ctx, 1); err != nil {
			s.jobs.Finish(job.ID, JobStatusCancelled, nil, "")
			return
		}
		defer s.jobSlots.Release(1)

		result, err := work(ctx)
		switch {
		case err == nil:
			s.jobs.Finish(job.ID, JobStatusCompleted, result, "")
			log.Info("Job completed")
		case errors.Is(err, context.Canceled):
			s.jobs.Finish(job.ID, JobStatusCancelled, result, "")
			log.Info("Job cancelled")
		default:
			s.jobs.Finish(job.ID, JobStatusFailed, result, err.Error())
			log.Errorf("Job failed: %v", err)
		}
	}()

	return mcp.NewToolResultText(formatJSON(map[string]any{
		"status":   "started",
		"job_id":   job.ID,
		"run_id":   o.RunID(),
		"kind":     kind,
		"site_key": siteKey,
	}))
}

func (s *Server) handleGetJobStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID := request.GetString("job_id", "")
	if jobID == "" {
		return mcp.NewToolResultError("job_id parameter is required"), nil
	}
	job, ok := s.jobs.GetJob(jobID)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("job '%s' not found", jobID)), nil
	}

	result := map[string]any{
		"job_id":     job.ID,
		"site_key":   job.SiteKey,
		"kind":       job.Kind,
		"status":     job.Status,
		"run_id":     job.RunID,
		"started_at": job.StartedAt.Format(time.RFC3339),
	}
	if !job.CompletedAt.IsZero() {
		result["completed_at"] = job.CompletedAt.Format(time.RFC3339)
		result["duration_seconds"] = job.CompletedAt.Sub(job.StartedAt).Seconds()
	}
	if job.Result != nil {
		result["result"] = job.Result
	}
	if job.ErrorMessage != "" {
		result["error_message"] = job.ErrorMessage
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

func (s *Server) handleGetArticle(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	o, errResult := s.siteOrchestrator(request)
	if errResult != nil {
		return errResult, nil
	}
	u := request.GetString("url", "")
	if u == "" {
		return mcp.NewToolResultError("url parameter is required"), nil
	}

	rec, content, err := o.Articles().Get(ctx, u)
	if errors.Is(err, utils.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("article '%s' not found", u)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load article: %v", err)), nil
	}

	result := map[string]any{
		"url":    rec.URL,
		"title":  rec.Title,
		"status": rec.Status,
	}
	if rec.PublishedAt != nil {
		result["published_at"] = rec.PublishedAt.Format(time.RFC3339)
	}
	if rec.ErrorNote != "" {
		result["error_note"] = rec.ErrorNote
	}
	if content != nil {
		result["content"] = content.ContentMarkdown
		result["headings"] = content.Headings
		result["token_count"] = content.TokenCount
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

func (s *Server) handleListCategories(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	o, errResult := s.siteOrchestrator(request)
	if errResult != nil {
		return errResult, nil
	}

	var (
		entries []models.CategoryEntry
		err     error
	)
	if request.GetBool("enabled_only", false) {
		entries, err = o.Categories().Enabled(ctx)
	} else {
		entries, err = o.Categories().List(ctx)
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list categories: %v", err)), nil
	}

	categories := make([]map[string]any, 0, len(entries))
	for _, c := range entries {
		categories = append(categories, map[string]any{
			"url":        c.URL,
			"name":       c.Name,
			"parent_url": c.ParentURL,
			"enabled":    c.IsEnabled,
		})
	}
	return mcp.NewToolResultText(formatJSON(map[string]any{
		"categories": categories,
		"total":      len(categories),
	})), nil
}

func (s *Server) handleSearchArticles(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := request.GetString("query", "")
	if query == "" {
		return mcp.NewToolResultError("query parameter is required"), nil
	}
	maxResults := request.GetInt("max_results", defaultMaxResults)
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	maxResults = min(maxResults, maxMaxResults)

	siteKeys := orchestrate.GetAllSiteKeys(s.cfg.AppConfig)
	if siteKey := request.GetString("site_key", ""); siteKey != "" {
		if _, ok := s.cfg.AppConfig.Sites[siteKey]; !ok {
			return mcp.NewToolResultError(fmt.Sprintf("site '%s' not found", siteKey)), nil
		}
		siteKeys = []string{siteKey}
	}

	queryLower := strings.ToLower(query)
	results := make([]map[string]any, 0)
	for _, key := range siteKeys {
		o, err := s.orchestrator(key)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		err = o.Articles().EachWithContent(ctx, func(rec models.ArticleRecord, content models.ArticleContent) error {
			location := matchLocation(queryLower, rec.Title, content)
			if location == "" {
				return nil
			}
			results = append(results, map[string]any{
				"url":            rec.URL,
				"title":          rec.Title,
				"snippet":        extractSnippet(content.ContentText, query, snippetLen),
				"site_key":       key,
				"match_location": location,
			})
			if len(results) >= maxResults {
				return errEnoughResults
			}
			return nil
		})
		if err != nil && !errors.Is(err, errEnoughResults) {
			return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if len(results) >= maxResults {
			break
		}
	}

	return mcp.NewToolResultText(formatJSON(map[string]any{
		"query":         query,
		"results":       results,
		"total_matches": len(results),
	})), nil
}

// matchLocation reports where queryLower occurs: title, content or headings
func matchLocation(queryLower, title string, content models.ArticleContent) string {
	switch {
	case strings.Contains(strings.ToLower(title), queryLower):
		return "title"
	case strings.Contains(strings.ToLower(content.ContentText), queryLower):
		return "content"
	}
	for _, h := range content.Headings {
		if strings.Contains(strings.ToLower(h), queryLower) {
			return "headings"
		}
	}
	return ""
}

// extractSnippet returns up to maxLen runes of content centred on the first
// case-insensitive match of query, with ellipses where text was cut.
func extractSnippet(content, query string, maxLen int) string {
	runes := []rune(content)
	lower := []rune(strings.ToLower(content))
	q := []rune(strings.ToLower(query))

	idx := -1
	for i := 0; i+len(q) <= len(lower); i++ {
		if string(lower[i:i+len(q)]) == string(q) {
			idx = i
			break
		}
	}
	// ToLower can change rune counts; fall back to the head of the text
	if idx == -1 || len(lower) != len(runes) {
		if len(runes) > maxLen {
			return string(runes[:maxLen]) + "..."
		}
		return content
	}

	start := max(idx-maxLen/2, 0)
	end := min(idx+len(q)+maxLen/2, len(runes))
	snippet := string(runes[start:end])
	if start > 0 {
		snippet = "..." + snippet
	}
	if end < len(runes) {
		snippet += "..."
	}
	return snippet
}

// formatJSON formats data as an indented JSON string
func formatJSON(data map[string]any) string {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("{\"error\": %q}", err.Error())
	}
	return string(b)
}
