package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"site-ingest/pkg/mcp"
	"site-ingest/pkg/orchestrate"
)

// runMcpServer handles the mcp-server subcommand
func runMcpServer(args []string) {
	fs := flag.NewFlagSet("mcp-server", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	transport := fs.String("transport", "stdio", "Transport type (stdio, sse)")
	port := fs.Int("port", 8080, "HTTP port (for sse transport)")
	maxJobs := fs.Int("max-jobs", 2, "Background jobs run at once")
	logLevel := fs.String("loglevel", "", "Log level (debug, info, warn, error)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: site-ingest mcp-server [options]

Start an MCP (Model Context Protocol) server for AI tool integration.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  # Start with stdio transport
  site-ingest mcp-server -config config.yaml

  # Start with SSE transport on port 8080
  site-ingest mcp-server -config config.yaml -transport sse -port 8080

Available MCP Tools:
  list_sites           List all configured sites
  discover_categories  Discover and store a site's category tree
  crawl_feed           Walk a feed until known cards and store them
  crawl_articles       Start a background job fetching pending articles
  run_site             Start a background job running the whole pipeline
  get_job_status       Get the status of a background job
  get_article          Return a stored article as markdown
  list_categories      List the stored categories of a site
  search_articles      Search stored article content
`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	exitCode := doMcpServer(*configFile, *transport, *port, *maxJobs, *logLevel, os.Stderr)
	os.Exit(exitCode)
}

// doMcpServer is the testable implementation of the MCP server. Logs go to
// stderr because the stdio transport owns stdout.
func doMcpServer(configPath, transport string, port, maxJobs int, logLevel string, stderr io.Writer) int {
	if transport != "stdio" && transport != "sse" {
		fmt.Fprintf(stderr, "Error: unknown transport: %s (supported: stdio, sse)\n", transport)
		return 1
	}

	log := setupLogger(logLevel, stderr)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05",
	})

	appCfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading config: %v\n", err)
		return 1
	}
	if err := validateConfig(appCfg, orchestrate.GetAllSiteKeys(appCfg), log); err != nil {
		fmt.Fprintf(stderr, "Error validating config: %v\n", err)
		return 1
	}

	ctx, stop := signalContext(log)
	defer stop()

	rt, err := openRuntime(ctx, appCfg, log, false)
	if err != nil {
		fmt.Fprintf(stderr, "Error initializing: %v\n", err)
		return 1
	}
	defer rt.close()

	mcp.Version = version
	server, err := mcp.NewServer(&mcp.ServerConfig{
		AppConfig:  appCfg,
		ConfigPath: configPath,
		Transport:  transport,
		Port:       port,
		Logger:     log,
		Deps:       rt.deps,
		MaxJobs:    maxJobs,
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error creating MCP server: %v\n", err)
		return 1
	}

	log.Infof("Starting MCP server (transport: %s)", transport)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Run() }()

	select {
	case err = <-errCh:
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if serr := server.Shutdown(shutdownCtx); serr != nil {
		log.Warnf("Background jobs did not stop in time: %v", serr)
	}

	if err != nil {
		fmt.Fprintf(stderr, "MCP server error: %v\n", err)
		return 1
	}
	return 0
}
