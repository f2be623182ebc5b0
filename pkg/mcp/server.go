// Package mcp exposes the ingestion pipeline as Model Context Protocol tools.
package mcp

import (
	"context"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"site-ingest/pkg/config"
	"site-ingest/pkg/orchestrate"
)

const (
	serverName     = "site-ingest"
	defaultMaxJobs = 2
)

// Version is reported to MCP clients; the CLI overrides it at startup
var Version = "dev"

// ServerConfig holds configuration for the MCP server
type ServerConfig struct {
	AppConfig  *config.AppConfig
	ConfigPath string
	Transport  string // "stdio" or "sse"
	Port       int
	Logger     *logrus.Logger

	// Deps are shared by every tool call. With a nil Fetcher each site gets
	// its own, built from the site config.
	Deps    orchestrate.Deps
	MaxJobs int // concurrent background jobs, default 2
}

// Server wraps the MCP server with the ingestion tools
type Server struct {
	mcpServer *server.MCPServer
	cfg       *ServerConfig
	log       *logrus.Entry
	jobs      *JobManager
	jobSlots  *semaphore.Weighted
	wg        sync.WaitGroup
}

// NewServer creates a new MCP server instance
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg.AppConfig == nil {
		return nil, fmt.Errorf("AppConfig is required")
	}
	if cfg.Deps.Store == nil {
		return nil, fmt.Errorf("a record store is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.MaxJobs <= 0 {
		cfg.MaxJobs = defaultMaxJobs
	}

	s := &Server{
		mcpServer: server.NewMCPServer(serverName, Version, server.WithLogging()),
		cfg:       cfg,
		log:       cfg.Logger.WithField("component", "mcp"),
		jobs:      NewJobManager(),
		jobSlots:  semaphore.NewWeighted(int64(cfg.MaxJobs)),
	}
	s.registerTools()
	return s, nil
}

func siteKeyArg() mcp.ToolOption {
	return mcp.WithString("site_key",
		mcp.Required(),
		mcp.Description("Site key from the config file"),
	)
}

func (s *Server) registerTools() {
	tools := []struct {
		tool    mcp.Tool
		handler server.ToolHandlerFunc
	}{
		{mcp.NewTool("list_sites",
			mcp.WithDescription("List all configured sites"),
		), s.handleListSites},
		{mcp.NewTool("discover_categories",
			mcp.WithDescription("Discover the category tree of a site and store it"),
			siteKeyArg(),
			mcp.WithString("seed_url", mcp.Description("Page holding the category menu (defaults to the configured seed)")),
		), s.handleDiscoverCategories},
		{mcp.NewTool("crawl_feed",
			mcp.WithDescription("Walk a paginated feed, stopping at already known cards, and store the listing cards"),
			siteKeyArg(),
			mcp.WithString("url", mcp.Description("First feed page (defaults to the configured feed)")),
			mcp.WithNumber("max_pages", mcp.Description("Page limit (defaults to the site's max_pages, 0 = unlimited)")),
		), s.handleCrawlFeed},
		{mcp.NewTool("crawl_articles",
			mcp.WithDescription("Start a background job fetching pending articles. Returns a job ID."),
			siteKeyArg(),
			mcp.WithNumber("limit", mcp.Description("Maximum number of pending articles (default: all)")),
		), s.handleCrawlArticles},
		{mcp.NewTool("run_site",
			mcp.WithDescription("Start a background job running discovery, feed crawl and article crawl. Returns a job ID."),
			siteKeyArg(),
		), s.handleRunSite},
		{mcp.NewTool("get_job_status",
			mcp.WithDescription("Get the status of a background job"),
			mcp.WithString("job_id", mcp.Required(), mcp.Description("The job ID returned by crawl_articles or run_site")),
		), s.handleGetJobStatus},
		{mcp.NewTool("get_article",
			mcp.WithDescription("Return a stored article with its markdown content"),
			siteKeyArg(),
			mcp.WithString("url", mcp.Required(), mcp.Description("Article URL")),
		), s.handleGetArticle},
		{mcp.NewTool("list_categories",
			mcp.WithDescription("List the stored categories of a site"),
			siteKeyArg(),
			mcp.WithBoolean("enabled_only", mcp.Description("Only categories enabled for crawling")),
		), s.handleListCategories},
		{mcp.NewTool("search_articles",
			mcp.WithDescription("Search stored article content using text matching"),
			mcp.WithString("query", mcp.Required(), mcp.Description("Search query (case-insensitive substring match)")),
			mcp.WithString("site_key", mcp.Description("Limit search to one site (optional)")),
			mcp.WithNumber("max_results", mcp.Description("Maximum number of results (default: 10, max: 100)")),
		), s.handleSearchArticles},
	}

	for _, t := range tools {
		s.mcpServer.AddTool(t.tool, t.handler)
	}
	s.log.Infof("Registered %d MCP tools", len(tools))
}

// orchestrator builds a fresh orchestrator (and run id) for one tool call
func (s *Server) orchestrator(siteKey string) (*orchestrate.Orchestrator, error) {
	app := s.cfg.AppConfig
	site, ok := app.Sites[siteKey]
	if !ok {
		return nil, fmt.Errorf("site '%s' not found. Available sites: %v", siteKey, orchestrate.GetAllSiteKeys(app))
	}
	deps := s.cfg.Deps
	if deps.Fetcher == nil {
		deps.Fetcher = orchestrate.BuildFetcher(app, site, s.log.WithField("site", siteKey))
	}
	return orchestrate.New(siteKey, app, deps, s.log)
}

// Run starts the MCP server with the configured transport
func (s *Server) Run() error {
	switch s.cfg.Transport {
	case "stdio":
		s.log.Info("Starting MCP server with stdio transport")
		return server.ServeStdio(s.mcpServer)
	case "sse":
		addr := fmt.Sprintf(":%d", s.cfg.Port)
		s.log.Infof("Starting MCP server with SSE transport on %s", addr)
		return server.NewSSEServer(s.mcpServer).Start(addr)
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio, sse)", s.cfg.Transport)
	}
}

// Shutdown cancels running jobs and waits for them to stop or ctx to expire
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down MCP server...")
	s.jobs.CancelAll()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
