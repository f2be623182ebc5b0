package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"site-ingest/pkg/config"
	"site-ingest/pkg/models"
	"site-ingest/pkg/orchestrate"
	"site-ingest/pkg/process"
	"site-ingest/pkg/utils"
	"site-ingest/pkg/watch"
)

// siteFlags are the site selection and common flags shared by the pipeline commands
type siteFlags struct {
	configFile *string
	site       *string
	sites      *string
	allSites   *bool
	logLevel   *string
}

func addSiteFlags(fs *flag.FlagSet, multi bool) siteFlags {
	f := siteFlags{
		configFile: fs.String("config", "config.yaml", "Path to config file"),
		site:       fs.String("site", "", "Site key from config (single site)"),
		logLevel:   fs.String("loglevel", "", "Log level (debug, info, warn, error); defaults to $"+config.EnvLogLevel+" or info"),
	}
	if multi {
		f.sites = fs.String("sites", "", "Comma-separated site keys")
		f.allSites = fs.Bool("all-sites", false, "Use all configured sites")
	} else {
		empty, no := "", false
		f.sites, f.allSites = &empty, &no
	}
	return f
}

func newFlagSet(name, summary string, examples ...string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: site-ingest %s [options]\n\n%s\n\nOptions:\n", name, summary)
		fs.PrintDefaults()
		if len(examples) > 0 {
			fmt.Fprintf(os.Stderr, "\nExamples:\n")
			for _, e := range examples {
				fmt.Fprintf(os.Stderr, "  %s\n", e)
			}
		}
	}
	return fs
}

// withRuntime loads and validates the config for the selected sites, opens the
// shared runtime and calls fn under a signal-cancelled context.
func withRuntime(f siteFlags, reset bool, fn func(ctx context.Context, rt *runtimeEnv, siteKeys []string) error) int {
	log := setupLogger(*f.logLevel, os.Stderr)

	log.Infof("Loading configuration from %s", *f.configFile)
	app, err := loadConfig(*f.configFile)
	if err != nil {
		log.Errorf("Configuration error: %v", err)
		return 1
	}
	siteKeys, err := resolveSiteKeys(app, *f.site, *f.sites, *f.allSites)
	if err != nil {
		log.Error(err)
		return 1
	}
	if err := validateConfig(app, siteKeys, log); err != nil {
		log.Errorf("Configuration error: %v", err)
		return 1
	}
	logAppConfig(app, log)

	ctx, stop := signalContext(log)
	defer stop()

	rt, err := openRuntime(ctx, app, log, reset)
	if err != nil {
		log.Errorf("Failed to initialize: %v", err)
		return 1
	}
	defer rt.close()

	return exitCode(fn(ctx, rt, siteKeys), log)
}

// withSite is withRuntime for commands working on exactly one site
func withSite(f siteFlags, fn func(ctx context.Context, rt *runtimeEnv, orch *orchestrate.Orchestrator) error) int {
	if *f.site == "" {
		fmt.Fprintln(os.Stderr, "Error: -site is required")
		return 1
	}
	return withRuntime(f, false, func(ctx context.Context, rt *runtimeEnv, siteKeys []string) error {
		orch, err := orchestrate.New(siteKeys[0], rt.app, rt.siteDeps(siteKeys[0]), logrus.NewEntry(rt.log))
		if err != nil {
			return err
		}
		return fn(ctx, rt, orch)
	})
}

func runDiscover(args []string) {
	fs := newFlagSet("discover", "Discover a site's category tree and store it.",
		"site-ingest discover -site facts",
		"site-ingest discover -site facts -seed https://example.com/menu/")
	f := addSiteFlags(fs, false)
	seed := fs.String("seed", "", "Page holding the category menu (defaults to the site's seed_url)")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(withSite(f, func(ctx context.Context, rt *runtimeEnv, orch *orchestrate.Orchestrator) error {
		records, stats, err := orch.DiscoverCategories(ctx, *seed)
		if err != nil {
			return err
		}
		if err := writeCategoryTree(os.Stdout, *f.site, records); err != nil {
			return err
		}
		return writeJSON(os.Stdout, stats)
	}))
}

func runCrawlFeed(args []string) {
	fs := newFlagSet("crawl-feed", "Walk a feed until already known cards show up and store the listing cards.",
		"site-ingest crawl-feed -site facts",
		"site-ingest crawl-feed -site facts -url https://example.com/science/ -max-pages 3",
		"site-ingest crawl-feed -site facts -by-category")
	f := addSiteFlags(fs, false)
	feedURL := fs.String("url", "", "First feed page (defaults to the site's feed_url)")
	maxPages := fs.Int("max-pages", -1, "Page limit, 0 = unlimited (defaults to the site's max_pages)")
	byCategory := fs.Bool("by-category", false, "Crawl the feed of every enabled category instead")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(withSite(f, func(ctx context.Context, rt *runtimeEnv, orch *orchestrate.Orchestrator) error {
		pages := *maxPages
		if pages < 0 {
			pages = rt.app.Sites[*f.site].MaxPages
		}

		var stats models.PersistStats
		var err error
		if *byCategory {
			var enabled []models.CategoryEntry
			if enabled, err = orch.Categories().Enabled(ctx); err != nil {
				return err
			}
			urls := make([]string, 0, len(enabled))
			for _, c := range enabled {
				urls = append(urls, c.URL)
			}
			stats, err = orch.CrawlCategories(ctx, urls, pages)
		} else {
			stats, err = orch.CrawlFeed(ctx, *feedURL, pages, nil)
		}
		if err != nil {
			return err
		}
		return writeJSON(os.Stdout, stats)
	}))
}

func runCrawlArticles(args []string) {
	fs := newFlagSet("crawl-articles", "Fetch and store the bodies of pending articles.",
		"site-ingest crawl-articles -site facts -limit 100")
	f := addSiteFlags(fs, false)
	limit := fs.Int("limit", 0, "Maximum number of pending articles, 0 = all")
	batchSize := fs.Int("batch-size", 0, "Articles per atomic batch (defaults to the site's batch_size)")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(withSite(f, func(ctx context.Context, rt *runtimeEnv, orch *orchestrate.Orchestrator) error {
		pending, err := orch.PendingArticles(ctx, *limit)
		if err != nil {
			return err
		}
		stats, err := orch.CrawlArticles(ctx, pending, *batchSize)
		if err != nil {
			return err
		}
		return writeJSON(os.Stdout, stats)
	}))
}

func runRun(args []string) {
	fs := newFlagSet("run", "Run discovery, feed crawl and article crawl for one or more sites.",
		"site-ingest run -site facts",
		"site-ingest run -sites facts,news -parallel 2",
		"site-ingest run -all-sites")
	f := addSiteFlags(fs, true)
	parallel := fs.Int("parallel", 0, "Sites run at once, 0 = all")
	reset := fs.Bool("reset", false, "Remove the record database before running")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(withRuntime(f, *reset, func(ctx context.Context, rt *runtimeEnv, siteKeys []string) error {
		results := runSites(ctx, rt, siteKeys, *parallel)
		summaries := make([]orchestrate.RunSummary, 0, len(results))
		failed := 0
		for _, r := range results {
			if !r.Success {
				failed++
				continue
			}
			summaries = append(summaries, r.Summary)
		}
		if err := writeJSON(os.Stdout, summaries); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d sites failed", failed, len(results))
		}
		return nil
	}))
}

// runSites runs the full pipeline of every site with the runtime's shared deps
func runSites(ctx context.Context, rt *runtimeEnv, siteKeys []string, parallel int) []orchestrate.SiteResult {
	return orchestrate.RunSites(ctx, rt.app, siteKeys, parallel, rt.deps, logrus.NewEntry(rt.log))
}

func runWatch(args []string) {
	fs := newFlagSet("watch", "Re-run sites whenever their interval has elapsed.",
		"site-ingest watch -site facts -interval 6h",
		"site-ingest watch -sites facts,news -interval 12h",
		"site-ingest watch -all-sites -interval 1d")
	f := addSiteFlags(fs, true)
	intervalStr := fs.String("interval", "24h", "Run interval (e.g., 30m, 1h, 24h, 7d)")
	parallel := fs.Int("parallel", 0, "Sites run at once, 0 = all")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	interval, err := watch.ParseInterval(*intervalStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	os.Exit(withRuntime(f, false, func(ctx context.Context, rt *runtimeEnv, siteKeys []string) error {
		scheduler := watch.NewScheduler(rt.app.StateDir, siteKeys, interval,
			func(ctx context.Context, keys []string) []orchestrate.SiteResult {
				return runSites(ctx, rt, keys, *parallel)
			},
			logrus.NewEntry(rt.log).WithField("component", "watch"))
		return scheduler.Run(ctx)
	}))
}

func runExportChunks(args []string) {
	fs := newFlagSet("export-chunks", "Write the stored articles of a site as token-sized markdown chunks, one JSON object per line.",
		"site-ingest export-chunks -site facts -out facts.jsonl",
		"site-ingest export-chunks -site facts -max-tokens 256 -overlap 32")
	f := addSiteFlags(fs, false)
	out := fs.String("out", "", "Output file, or a directory to write <site>.jsonl into (defaults to stdout)")
	maxTokens := fs.Int("max-tokens", 0, "Maximum chunk size in tokens (default 512)")
	overlap := fs.Int("overlap", -1, "Token overlap between split chunks (default 50)")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(withSite(f, func(ctx context.Context, rt *runtimeEnv, orch *orchestrate.Orchestrator) error {
		cfg := process.DefaultChunkerConfig(rt.deps.Counter)
		if *maxTokens > 0 {
			cfg.MaxChunkSize = *maxTokens
		}
		if *overlap >= 0 {
			cfg.ChunkOverlap = *overlap
		}

		w := io.Writer(os.Stdout)
		if *out != "" {
			path := chunkOutputPath(*out, *f.site)
			if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
				return fmt.Errorf("create output directory for '%s': %w", path, err)
			}
			file, err := os.Create(path)
			if err != nil {
				return fmt.Errorf("create output file '%s': %w", path, err)
			}
			defer file.Close()
			w = file
		}

		n, err := writeChunks(ctx, orch.Articles(), *f.site, cfg, w)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Exported %d chunks\n", n)
		return nil
	}))
}

// chunkOutputPath resolves -out: a directory (existing, or named with a
// trailing separator) gets one file per site.
func chunkOutputPath(out, siteKey string) string {
	if strings.HasSuffix(out, string(os.PathSeparator)) {
		return filepath.Join(out, utils.SanitizeFilename(siteKey)+".jsonl")
	}
	if info, err := os.Stat(out); err == nil && info.IsDir() {
		return filepath.Join(out, utils.SanitizeFilename(siteKey)+".jsonl")
	}
	return out
}

// exportedChunk is one line of the export-chunks output
type exportedChunk struct {
	Site       string   `json:"site"`
	URL        string   `json:"url"`
	Title      string   `json:"title"`
	ChunkIndex int      `json:"chunk_index"`
	Content    string   `json:"content"`
	Headings   []string `json:"headings,omitempty"`
	TokenCount int      `json:"token_count"`
}

// contentSource iterates stored articles that have a body
type contentSource interface {
	EachWithContent(ctx context.Context, fn func(models.ArticleRecord, models.ArticleContent) error) error
}

// writeChunks chunks every stored article and writes the chunks as JSON lines
func writeChunks(ctx context.Context, src contentSource, site string, cfg process.ChunkerConfig, w io.Writer) (int, error) {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	count := 0

	err := src.EachWithContent(ctx, func(rec models.ArticleRecord, content models.ArticleContent) error {
		chunks, err := process.ChunkArticle(rec.Title, content, cfg)
		if err != nil {
			return fmt.Errorf("chunking '%s': %w", rec.URL, err)
		}
		for _, c := range chunks {
			line := exportedChunk{
				Site:       site,
				URL:        rec.URL,
				Title:      rec.Title,
				ChunkIndex: c.Index,
				Content:    c.Content,
				Headings:   c.HeadingHierarchy,
				TokenCount: c.TokenCount,
			}
			if err := enc.Encode(line); err != nil {
				return fmt.Errorf("write chunk: %w", err)
			}
			count++
		}
		return nil
	})
	if err != nil {
		return count, err
	}
	return count, bw.Flush()
}

// writeCategoryTree prints discovered categories as an indented tree
func writeCategoryTree(w io.Writer, siteKey string, records []models.CategoryRecord) error {
	nodes := make([]utils.TreeNode, 0, len(records))
	for _, r := range records {
		nodes = append(nodes, utils.TreeNode{Key: r.URL, Name: r.Name, Parent: r.ParentURL})
	}
	return utils.WriteTree(w, fmt.Sprintf("Categories of %s (%d)", siteKey, len(records)), nodes)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// runValidate handles the validate subcommand
func runValidate(args []string) {
	fs := newFlagSet("validate", "Validate the configuration file.")
	configFile := fs.String("config", "config.yaml", "Path to config file")
	siteKey := fs.String("site", "", "Site key to validate (optional, validates all if empty)")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	os.Exit(doValidate(*configFile, *siteKey, os.Stdout, os.Stderr))
}

// doValidate is the testable implementation of validate
func doValidate(configPath, siteKey string, stdout, stderr io.Writer) int {
	appCfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	warnings, err := appCfg.Validate()
	for _, w := range warnings {
		fmt.Fprintf(stdout, "WARN: %s\n", w)
	}
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}

	keys := []string{siteKey}
	if siteKey == "" {
		keys = orchestrate.GetAllSiteKeys(appCfg)
	} else if _, ok := appCfg.Sites[siteKey]; !ok {
		fmt.Fprintf(stderr, "Error: site '%s' not found in config\n", siteKey)
		return 1
	}

	hasError := false
	for _, key := range keys {
		siteCfg := appCfg.Sites[key]
		siteWarnings, err := siteCfg.Validate()
		if err != nil {
			fmt.Fprintf(stderr, "ERROR: [%s] %v\n", key, err)
			hasError = true
			continue
		}
		for _, w := range siteWarnings {
			fmt.Fprintf(stdout, "WARN: [%s] %s\n", key, w)
		}
		fmt.Fprintf(stdout, "OK: [%s]\n", key)
	}
	if hasError {
		return 1
	}

	fmt.Fprintln(stdout, "\nConfiguration valid.")
	return 0
}

// runListSites handles the list-sites subcommand
func runListSites(args []string) {
	fs := newFlagSet("list-sites", "List the sites in the configuration file.")
	configFile := fs.String("config", "config.yaml", "Path to config file")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	os.Exit(doListSites(*configFile, os.Stdout, os.Stderr))
}

// doListSites is the testable implementation of list-sites
func doListSites(configPath string, stdout, stderr io.Writer) int {
	appCfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	keys := make([]string, 0, len(appCfg.Sites))
	for k := range appCfg.Sites {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Fprintf(stdout, "Sites in %s:\n\n", configPath)
	for _, key := range keys {
		site := appCfg.Sites[key]
		fmt.Fprintf(stdout, "  %s\n", key)
		fmt.Fprintf(stdout, "    Base URL: %s\n", site.BaseURL)
		if seed := site.SeedPage(); seed != site.BaseURL {
			fmt.Fprintf(stdout, "    Seed URL: %s\n", seed)
		}
		if feedPage := site.FeedPage(); feedPage != site.BaseURL {
			fmt.Fprintf(stdout, "    Feed URL: %s\n", feedPage)
		}
		mode := "site feed"
		if site.CrawlByCategory {
			mode = "by category"
		}
		fmt.Fprintf(stdout, "    Mode: %s, stop on %s known\n", mode, policyOrDefault(site.DuplicatePolicy))
		fmt.Fprintln(stdout)
	}
	return 0
}

func policyOrDefault(policy string) string {
	if policy == "" {
		return config.PolicyAny
	}
	return policy
}
