package config

import "time"

// Duplicate policies accepted in site configs
const (
	PolicyAny = "any" // stop when any card on a page is already known
	PolicyAll = "all" // stop only when every card on a page is known
)

// SiteConfig holds configuration specific to a single ingested site
type SiteConfig struct {
	BaseURL             string        `yaml:"base_url"`
	SeedURL             string        `yaml:"seed_url,omitempty"` // Category menu page, defaults to base_url
	FeedURL             string        `yaml:"feed_url,omitempty"` // First feed page, defaults to base_url
	MaxPages            int           `yaml:"max_pages,omitempty"`
	BatchSize           int           `yaml:"batch_size,omitempty"`
	DuplicatePolicy     string        `yaml:"duplicate_policy,omitempty"`
	DefaultStatus       string        `yaml:"default_status,omitempty"`
	EnableNewCategories *bool         `yaml:"enable_new_categories,omitempty"`
	CrawlByCategory     bool          `yaml:"crawl_by_category,omitempty"`
	Workers             int           `yaml:"workers,omitempty"`
	RequestDelay        time.Duration `yaml:"request_delay,omitempty"`
	ReadabilityFallback bool          `yaml:"readability_fallback,omitempty"`
	UserAgent           string        `yaml:"user_agent,omitempty"`
}

// RedisConfig configures the article event stream. An empty Addr disables publishing.
type RedisConfig struct {
	Addr         string `yaml:"addr,omitempty"`
	Password     string `yaml:"password,omitempty"`
	DB           int    `yaml:"db,omitempty"`
	StreamPrefix string `yaml:"stream_prefix,omitempty"`
}

// AppConfig holds the global application configuration
type AppConfig struct {
	StateDir           string                `yaml:"state_dir"`
	Workers            int                   `yaml:"workers"`
	FetchTimeout       time.Duration         `yaml:"fetch_timeout,omitempty"`
	MaxRetries         int                   `yaml:"max_retries,omitempty"`
	InitialRetryDelay  time.Duration         `yaml:"initial_retry_delay,omitempty"`
	MaxRetryDelay      time.Duration         `yaml:"max_retry_delay,omitempty"`
	UserAgent          string                `yaml:"user_agent,omitempty"`
	MaxBodyBytes       int64                 `yaml:"max_body_bytes,omitempty"`
	Redis              RedisConfig           `yaml:"redis,omitempty"`
	MetricsAddr        string                `yaml:"metrics_addr,omitempty"`
	HTTPClientSettings HTTPClientConfig      `yaml:"http_client_settings,omitempty"`
	Sites              map[string]SiteConfig `yaml:"sites"`
}

// HTTPClientConfig holds settings for the shared HTTP client
type HTTPClientConfig struct {
	Timeout               time.Duration `yaml:"timeout,omitempty"`                 // Overall request timeout
	MaxIdleConns          int           `yaml:"max_idle_conns,omitempty"`          // Max total idle connections
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"` // Max idle connections per host
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`       // Timeout for idle connections
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout,omitempty"`   // Timeout for TLS handshake
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout,omitempty"` // Timeout for 100-continue
	ForceAttemptHTTP2     *bool         `yaml:"force_attempt_http2,omitempty"`     // nil=default, true=force, false=disable
	DialerTimeout         time.Duration `yaml:"dialer_timeout,omitempty"`          // Connection dial timeout
	DialerKeepAlive       time.Duration `yaml:"dialer_keep_alive,omitempty"`       // TCP keep-alive interval
}

// GetEffectiveWorkers returns the site's discovery worker count, falling back to the global one
func GetEffectiveWorkers(siteCfg SiteConfig, appCfg AppConfig) int {
	if siteCfg.Workers > 0 {
		return siteCfg.Workers
	}
	return appCfg.Workers
}

// GetEffectiveUserAgent determines the User-Agent sent for a site
func GetEffectiveUserAgent(siteCfg SiteConfig, appCfg AppConfig) string {
	if siteCfg.UserAgent != "" {
		return siteCfg.UserAgent
	}
	return appCfg.UserAgent
}

// GetEffectiveEnableNewCategories reports whether newly discovered categories start enabled.
// Unset means enabled.
func GetEffectiveEnableNewCategories(siteCfg SiteConfig) bool {
	if siteCfg.EnableNewCategories != nil {
		return *siteCfg.EnableNewCategories
	}
	return true
}

// SeedPage returns the page holding the category menu
func (c SiteConfig) SeedPage() string {
	if c.SeedURL != "" {
		return c.SeedURL
	}
	return c.BaseURL
}

// FeedPage returns the first page of the site-wide feed
func (c SiteConfig) FeedPage() string {
	if c.FeedURL != "" {
		return c.FeedURL
	}
	return c.BaseURL
}
