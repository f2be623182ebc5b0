package storage

import (
	"context"
	"strings"
	"time"
)

// Kind is the record family encoded as the first key segment
type Kind string

const (
	KindArticle  Kind = "article"  // ArticleRecord
	KindContent  Kind = "content"  // ArticleContent
	KindCategory Kind = "category" // CategoryEntry
)

// Key builds the store key for a record: <kind>:<site>:<canonical_url>
func Key(kind Kind, site, canonicalURL string) string {
	return string(kind) + ":" + site + ":" + canonicalURL
}

// URLFromKey returns the canonical URL part of a key built by Key
func URLFromKey(key string) string {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) < 3 {
		return ""
	}
	return parts[2]
}

// Criteria selects records by key prefix. An empty Site matches every site of Kind.
type Criteria struct {
	Kind Kind
	Site string
}

// Prefix returns the key prefix matched by c
func (c Criteria) Prefix() string {
	if c.Site == "" {
		return string(c.Kind) + ":"
	}
	return string(c.Kind) + ":" + c.Site + ":"
}

// Tx is a read or read-write view over JSON records inside one transaction
type Tx interface {
	// Get decodes the record at key into out, which is zeroed first.
	// Reports false if the key does not exist.
	Get(key string, out any) (bool, error)

	// GetOrCreate decodes the record at key into out, first storing defaults if the
	// key does not exist. Reports whether the record was created.
	GetOrCreate(key string, defaults any, out any) (created bool, err error)

	// Save writes record at key. With a non-empty changed list only those JSON
	// fields are merged into the stored document; other stored fields are kept.
	Save(key string, record any, changed []string) error
}

// RecordStore is the keyed document store behind persistence
type RecordStore interface {
	// Update runs fn in one atomic read-write transaction. Any error rolls back everything.
	Update(ctx context.Context, fn func(Tx) error) error

	// View runs fn in a read-only transaction
	View(ctx context.Context, fn func(Tx) error) error

	// Filter calls fn for every record matching c, in key order. An error from fn stops the scan.
	Filter(ctx context.Context, c Criteria, fn func(key string, raw []byte) error) error
}

// StoreAdmin handles lifecycle and administrative operations
type StoreAdmin interface {
	// Count returns the number of keys matching c
	Count(ctx context.Context, c Criteria) (int, error)

	// RunGC runs periodic garbage collection. Should be run in a goroutine
	RunGC(ctx context.Context, interval time.Duration)

	// Close cleanly closes the database connection
	Close() error
}

// Store combines RecordStore and StoreAdmin for components that own the database
type Store interface {
	RecordStore
	StoreAdmin
}
