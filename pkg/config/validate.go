package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"site-ingest/pkg/models"
	"site-ingest/pkg/utils"
)

const defaultUserAgent = "site-ingest/1.0 (+https://github.com/site-ingest)"

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	// Workers
	if c.Workers <= 0 {
		warnings = append(warnings, "workers should be > 0, defaulting to 10")
		c.Workers = 10
	}

	// StateDir
	if c.StateDir == "" {
		warnings = append(warnings, "state_dir is empty, defaulting to './ingest_state'")
		c.StateDir = "./ingest_state"
	}

	// FetchTimeout
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 15 * time.Second
	}

	// MaxRetries
	if c.MaxRetries < 0 {
		warnings = append(warnings, "max_retries cannot be negative, setting to 0")
		c.MaxRetries = 0
	}
	if c.MaxRetries == 0 && c.InitialRetryDelay == 0 {
		c.MaxRetries = 3
	}

	// Retry delays (only if retries enabled)
	if c.MaxRetries > 0 {
		if c.InitialRetryDelay <= 0 {
			c.InitialRetryDelay = 1 * time.Second
		}
		if c.MaxRetryDelay <= 0 {
			c.MaxRetryDelay = 30 * time.Second
		}
	}

	if c.InitialRetryDelay > c.MaxRetryDelay && c.MaxRetryDelay > 0 {
		warnings = append(warnings, fmt.Sprintf(
			"initial_retry_delay (%v) > max_retry_delay (%v), using max_retry_delay for initial",
			c.InitialRetryDelay, c.MaxRetryDelay))
		c.InitialRetryDelay = c.MaxRetryDelay
	}

	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}

	// MaxBodyBytes (0 = 10MB)
	if c.MaxBodyBytes < 0 {
		warnings = append(warnings, "max_body_bytes cannot be negative, using default 10MB")
		c.MaxBodyBytes = 0
	}
	if c.MaxBodyBytes == 0 {
		c.MaxBodyBytes = 10 << 20
	}

	if c.Redis.Addr != "" && c.Redis.StreamPrefix == "" {
		c.Redis.StreamPrefix = "site-ingest"
	}

	c.validateHTTPClientSettings()

	return warnings, nil // AppConfig validation never fails fatally
}

// validateHTTPClientSettings applies defaults to HTTP client settings.
func (c *AppConfig) validateHTTPClientSettings() {
	h := &c.HTTPClientSettings
	if h.Timeout <= 0 {
		h.Timeout = 45 * time.Second
	}
	if h.MaxIdleConns <= 0 {
		h.MaxIdleConns = 100
	}
	if h.MaxIdleConnsPerHost <= 0 {
		h.MaxIdleConnsPerHost = 2
	}
	if h.IdleConnTimeout <= 0 {
		h.IdleConnTimeout = 90 * time.Second
	}
	if h.TLSHandshakeTimeout <= 0 {
		h.TLSHandshakeTimeout = 10 * time.Second
	}
	if h.ExpectContinueTimeout <= 0 {
		h.ExpectContinueTimeout = 1 * time.Second
	}
	if h.DialerTimeout <= 0 {
		h.DialerTimeout = 15 * time.Second
	}
	if h.DialerKeepAlive <= 0 {
		h.DialerKeepAlive = 30 * time.Second
	}
}

// Validate checks SiteConfig fields and applies defaults.
// Returns collected warnings and any fatal error.
func (c *SiteConfig) Validate() (warnings []string, err error) {
	if c.BaseURL == "" {
		return nil, fmt.Errorf("%w: site needs base_url", utils.ErrConfigValidation)
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("%w: base_url %q is not an absolute URL", utils.ErrConfigValidation, c.BaseURL)
	}

	for field, v := range map[string]string{"seed_url": c.SeedURL, "feed_url": c.FeedURL} {
		if v == "" {
			continue
		}
		if pu, err := url.Parse(v); err != nil || !pu.IsAbs() {
			return nil, fmt.Errorf("%w: %s %q is not an absolute URL", utils.ErrConfigValidation, field, v)
		}
	}

	// DuplicatePolicy
	c.DuplicatePolicy = strings.ToLower(strings.TrimSpace(c.DuplicatePolicy))
	switch c.DuplicatePolicy {
	case "":
		c.DuplicatePolicy = PolicyAny
	case PolicyAny, PolicyAll:
	default:
		return nil, fmt.Errorf("%w: unknown duplicate_policy %q (want %q or %q)",
			utils.ErrConfigValidation, c.DuplicatePolicy, PolicyAny, PolicyAll)
	}

	// DefaultStatus
	if c.DefaultStatus == "" {
		c.DefaultStatus = string(models.ArticleStatusNew)
	}
	status, ok := models.ParseArticleStatus(strings.ToUpper(strings.TrimSpace(c.DefaultStatus)))
	if !ok {
		return nil, fmt.Errorf("%w: unknown default_status %q", utils.ErrConfigValidation, c.DefaultStatus)
	}
	c.DefaultStatus = string(status)

	// BatchSize
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}

	if c.MaxPages < 0 {
		warnings = append(warnings, "max_pages cannot be negative, setting to 0 (unlimited)")
		c.MaxPages = 0
	}
	if c.Workers < 0 {
		warnings = append(warnings, "site workers cannot be negative, using global workers")
		c.Workers = 0
	}
	if c.RequestDelay < 0 {
		warnings = append(warnings, "request_delay cannot be negative, disabling delay")
		c.RequestDelay = 0
	}

	return warnings, nil
}
