package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"site-ingest/pkg/config"
	pkglog "site-ingest/pkg/log"
	"site-ingest/pkg/metrics"
	"site-ingest/pkg/orchestrate"
	"site-ingest/pkg/process"
	"site-ingest/pkg/publish"
	"site-ingest/pkg/storage"
)

const version = "0.4.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	switch os.Args[1] {
	case "discover":
		runDiscover(os.Args[2:])
	case "crawl-feed":
		runCrawlFeed(os.Args[2:])
	case "crawl-articles":
		runCrawlArticles(os.Args[2:])
	case "run":
		runRun(os.Args[2:])
	case "watch":
		runWatch(os.Args[2:])
	case "export-chunks":
		runExportChunks(os.Args[2:])
	case "validate":
		runValidate(os.Args[2:])
	case "list-sites":
		runListSites(os.Args[2:])
	case "mcp-server":
		runMcpServer(os.Args[2:])
	case "version":
		fmt.Printf("site-ingest %s\n", version)
	case "-h", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	printUsageTo(os.Stdout)
}

// printUsageTo writes usage information to the provided writer.
func printUsageTo(w io.Writer) {
	fmt.Fprintln(w, `site-ingest - Incremental content site ingester

Usage:
  site-ingest <command> [options]

Commands:
  discover        Discover and store a site's category tree
  crawl-feed      Walk a feed until known cards and store the listings
  crawl-articles  Fetch and store pending article bodies
  run             Run discovery, feed and article crawls for one or more sites
  watch           Re-run sites on a schedule
  export-chunks   Write stored articles as token-sized markdown chunks (JSONL)
  validate        Validate configuration file
  list-sites      List available site keys
  mcp-server      Start MCP server for AI tool integration
  version         Show version info

Run 'site-ingest <command> -h' for command-specific help.`)
}

// loadConfig loads the config file and applies environment overrides
func loadConfig(path string) (*config.AppConfig, error) {
	return config.Load(path)
}

// setupLogger creates the process logger. An empty level falls back to
// SITE_INGEST_LOG_LEVEL, then info.
func setupLogger(levelStr string, out io.Writer) *logrus.Logger {
	if levelStr == "" {
		levelStr = os.Getenv(config.EnvLogLevel)
	}
	if levelStr == "" {
		levelStr = "info"
	}
	log, err := pkglog.New(levelStr, out)
	if err != nil {
		log.Warnf("Invalid log level '%s', using default 'info'. Error: %v", levelStr, err)
	}
	return log
}

// validateConfig validates the global settings and every named site, writing
// the defaulted site configs back into app.
func validateConfig(app *config.AppConfig, siteKeys []string, log *logrus.Logger) error {
	warnings, err := app.Validate()
	for _, w := range warnings {
		log.Warn(w)
	}
	if err != nil {
		return err
	}
	if err := orchestrate.ValidateSiteKeys(app, siteKeys); err != nil {
		return err
	}
	for _, key := range siteKeys {
		site := app.Sites[key]
		siteWarnings, err := site.Validate()
		if err != nil {
			return fmt.Errorf("site '%s': %w", key, err)
		}
		for _, w := range siteWarnings {
			log.Warnf("[%s] %s", key, w)
		}
		app.Sites[key] = site
	}
	return nil
}

// resolveSiteKeys picks the sites named by -site, -sites or -all-sites
func resolveSiteKeys(app *config.AppConfig, site, sites string, all bool) ([]string, error) {
	switch {
	case all:
		return orchestrate.GetAllSiteKeys(app), nil
	case sites != "":
		var keys []string
		for _, k := range strings.Split(sites, ",") {
			if k = strings.TrimSpace(k); k != "" {
				keys = append(keys, k)
			}
		}
		return keys, nil
	case site != "":
		return []string{site}, nil
	}
	return nil, errors.New("one of -site, -sites or -all-sites is required")
}

// runtimeEnv holds the shared resources of one process
type runtimeEnv struct {
	app     *config.AppConfig
	log     *logrus.Logger
	store   *storage.BadgerStore
	deps    orchestrate.Deps
	cleanup []func()
}

// openRuntime opens the record store, the event publisher, the token counter
// and, when metrics_addr is set, the metrics endpoint.
func openRuntime(ctx context.Context, app *config.AppConfig, log *logrus.Logger, reset bool) (*runtimeEnv, error) {
	entry := logrus.NewEntry(log)
	store, err := storage.NewBadgerStore(app.StateDir, reset, entry.WithField("component", "storage"))
	if err != nil {
		return nil, err
	}
	rt := &runtimeEnv{app: app, log: log, store: store}
	rt.cleanup = append(rt.cleanup, func() { store.Close() })
	go store.RunGC(ctx, 10*time.Minute)

	publisher, err := publish.New(ctx, app.Redis, entry.WithField("component", "publish"))
	if err != nil {
		rt.close()
		return nil, err
	}
	rt.cleanup = append(rt.cleanup, func() { publisher.Close() })

	counter, err := process.NewTokenCounter("")
	if err != nil {
		log.Warnf("Token counter unavailable, estimating token counts: %v", err)
		counter = nil
	}

	recorder := metrics.NewRecorder()
	if app.MetricsAddr != "" {
		startMetricsServer(app.MetricsAddr, recorder, log)
	}

	rt.deps = orchestrate.Deps{
		Store:     store,
		Publisher: publisher,
		Metrics:   recorder,
		Counter:   counter,
	}
	return rt, nil
}

// siteDeps returns the shared deps with a fetcher built for siteKey
func (rt *runtimeEnv) siteDeps(siteKey string) orchestrate.Deps {
	deps := rt.deps
	deps.Fetcher = orchestrate.BuildFetcher(rt.app, rt.app.Sites[siteKey], logrus.NewEntry(rt.log).WithFields(logrus.Fields{
		"component": "fetch",
		"site":      siteKey,
	}))
	return deps
}

func (rt *runtimeEnv) close() {
	for i := len(rt.cleanup) - 1; i >= 0; i-- {
		rt.cleanup[i]()
	}
}

func startMetricsServer(addr string, recorder *metrics.Recorder, log *logrus.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", recorder.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Infof("Serving metrics at http://%s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("Metrics server failed on %s: %v", addr, err)
		}
	}()
}

// signalContext is cancelled on SIGINT or SIGTERM; a second signal forces exit
func signalContext(log *logrus.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			log.Warnf("Received signal: %v. Initiating graceful shutdown...", sig)
			cancel()
		case <-ctx.Done():
			return
		}
		select {
		case sig := <-sigChan:
			log.Warnf("Received second signal: %v. Forcing exit.", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			log.Warn("Graceful shutdown period exceeded after signal. Forcing exit.")
			os.Exit(1)
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}

// exitCode maps a command error onto the process exit code
func exitCode(err error, log *logrus.Logger) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, context.Canceled):
		log.Warn("Cancelled gracefully.")
		return 0
	default:
		log.Errorf("Finished with error: %v", err)
		return 1
	}
}

// logAppConfig logs the effective global configuration
func logAppConfig(app *config.AppConfig, log *logrus.Logger) {
	log.Infof("Global Config: Workers:%d, StateDir:%s, FetchTimeout:%v, MaxBody:%d bytes",
		app.Workers, app.StateDir, app.FetchTimeout, app.MaxBodyBytes)
	log.Infof("Global Config Retries: Max:%d, InitialDelay:%v, MaxDelay:%v",
		app.MaxRetries, app.InitialRetryDelay, app.MaxRetryDelay)
	log.Infof("Global Config HTTP Client: Timeout:%v, MaxIdle:%d, MaxIdlePerHost:%d, IdleTimeout:%v",
		app.HTTPClientSettings.Timeout, app.HTTPClientSettings.MaxIdleConns,
		app.HTTPClientSettings.MaxIdleConnsPerHost, app.HTTPClientSettings.IdleConnTimeout)
	if app.Redis.Addr != "" {
		log.Infof("Global Config Events: Redis:%s, Stream prefix:%s", app.Redis.Addr, app.Redis.StreamPrefix)
	}
}
