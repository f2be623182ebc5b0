package models

import "time"

// CategoryRecord is one node of a site's category tree as seen during discovery.
// An empty ParentURL means the node is top-level.
type CategoryRecord struct {
	Name      string `json:"name"`
	URL       string `json:"url"`
	ParentURL string `json:"parent_url,omitempty"`
}

// ListingCard is a teaser entry found on a feed page. Empty fields are unknown.
type ListingCard struct {
	URL          string `json:"url"`
	Title        string `json:"title,omitempty"`
	ImagePreview string `json:"image_preview,omitempty"`
}

// PaginationState is derived from a feed page's navigation block
type PaginationState struct {
	CurrentPage int
	TotalPages  int
	NextPageURL string // Empty when there is no continuation
}

// Breadcrumb is one link of an article's breadcrumb trail
type Breadcrumb struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// ArticleBody is the result of extracting a single article page
type ArticleBody struct {
	URL         string
	Title       string
	PublishedAt *time.Time
	LeadImage   string
	ContentHTML string
	ContentText string
	Breadcrumbs []Breadcrumb
}

// HasContent reports whether the extractor produced any body content
func (a ArticleBody) HasContent() bool {
	return a.ContentHTML != "" || a.ContentText != ""
}

// PersistStats summarises one listing or article batch.
type PersistStats struct {
	TotalInput     int `json:"total_input"`
	TotalUnique    int `json:"total_unique"`
	Created        int `json:"created"`
	Updated        int `json:"updated"`
	ContentCreated int `json:"content_created"`
	ContentUpdated int `json:"content_updated"`
}

// Add accumulates other into s
func (s *PersistStats) Add(other PersistStats) {
	s.TotalInput += other.TotalInput
	s.TotalUnique += other.TotalUnique
	s.Created += other.Created
	s.Updated += other.Updated
	s.ContentCreated += other.ContentCreated
	s.ContentUpdated += other.ContentUpdated
}

// CategoryStats summarises one category persist batch
type CategoryStats struct {
	TotalInput  int `json:"total_input"`
	TotalUnique int `json:"total_unique"`
	Created     int `json:"created"`
	Updated     int `json:"updated"`
	Linked      int `json:"linked"`
}

// ArticleRecord is the stored form of an article, keyed by (Site, URL).
type ArticleRecord struct {
	Site          string        `json:"site"`
	URL           string        `json:"url"`
	Title         string        `json:"title"`
	ImagePreview  string        `json:"image_preview,omitempty"`
	PublishedAt   *time.Time    `json:"published_at,omitempty"`
	Status        ArticleStatus `json:"status"`
	ErrorNote     string        `json:"error_note,omitempty"`
	DiscoveredAt  time.Time     `json:"discovered_at"`
	LastSeenAt    time.Time     `json:"last_seen_at"`
	LastCrawledAt *time.Time    `json:"last_crawled_at,omitempty"`
}

// ArticleContent is the stored body of an article, linked 1:1 to an ArticleRecord
type ArticleContent struct {
	Site            string   `json:"site"`
	URL             string   `json:"url"`
	ContentHTML     string   `json:"content_html,omitempty"`
	ContentText     string   `json:"content_text,omitempty"`
	ContentMarkdown string   `json:"content_markdown,omitempty"`
	Headings        []string `json:"headings,omitempty"`
	TokenCount      int      `json:"token_count,omitempty"`
}

// CategoryEntry is the stored form of a category
type CategoryEntry struct {
	Site      string    `json:"site"`
	URL       string    `json:"url"`
	Name      string    `json:"name"`
	ParentURL string    `json:"parent_url,omitempty"`
	IsEnabled bool      `json:"is_enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
