package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/sirupsen/logrus"

	"site-ingest/pkg/models"
	"site-ingest/pkg/parse"
	"site-ingest/pkg/storage"
	"site-ingest/pkg/utils"
)

// CategoryService stores the discovered category tree of one site
type CategoryService struct {
	store     storage.RecordStore
	site      string
	baseURL   string
	enableNew bool
	now       func() time.Time
	log       *logrus.Entry
}

// NewCategoryService creates a CategoryService. New entries are created with
// is_enabled set to enableNew.
func NewCategoryService(store storage.RecordStore, site, baseURL string, enableNew bool, log *logrus.Entry) *CategoryService {
	return &CategoryService{
		store:     store,
		site:      site,
		baseURL:   baseURL,
		enableNew: enableNew,
		now:       utcNow,
		log:       log,
	}
}

// Save upserts records in one atomic batch, last occurrence winning. Nodes are
// upserted first, then parents are linked; missing parents are created with a
// name guessed from their slug.
func (s *CategoryService) Save(ctx context.Context, records []models.CategoryRecord) (models.CategoryStats, error) {
	stats := models.CategoryStats{TotalInput: len(records)}

	byURL := make(map[string]models.CategoryRecord, len(records))
	order := make([]string, 0, len(records))
	for _, r := range records {
		canonical, err := parse.Canonicalize(r.URL)
		if err != nil {
			return models.CategoryStats{}, batchError("category batch", err)
		}
		r.URL = canonical
		if _, seen := byURL[canonical]; !seen {
			order = append(order, canonical)
		}
		byURL[canonical] = r
	}
	stats.TotalUnique = len(byURL)

	err := s.store.Update(ctx, func(tx storage.Tx) error {
		batch := models.CategoryStats{TotalInput: stats.TotalInput, TotalUnique: stats.TotalUnique}
		now := s.now()

		for _, u := range order {
			created, updated, err := s.upsertNode(tx, byURL[u], now)
			if err != nil {
				return err
			}
			if created {
				batch.Created++
			}
			if updated {
				batch.Updated++
			}
		}

		for _, u := range order {
			created, linked, err := s.linkParent(tx, byURL[u], now)
			if err != nil {
				return err
			}
			if created {
				batch.Created++
			}
			if linked {
				batch.Linked++
			}
		}

		stats = batch
		return nil
	})
	if err != nil {
		return models.CategoryStats{}, batchError("category batch", err)
	}

	s.log.WithFields(logrus.Fields{
		"total_input":  stats.TotalInput,
		"total_unique": stats.TotalUnique,
		"created":      stats.Created,
		"updated":      stats.Updated,
		"linked":       stats.Linked,
	}).Info("Categories persisted")
	return stats, nil
}

func (s *CategoryService) upsertNode(tx storage.Tx, rec models.CategoryRecord, now time.Time) (created, updated bool, err error) {
	key := storage.Key(storage.KindCategory, s.site, rec.URL)
	var entry models.CategoryEntry
	found, err := tx.Get(key, &entry)
	if err != nil {
		return false, false, err
	}
	if !found {
		return true, false, s.create(tx, rec.URL, rec.Name, now)
	}
	if rec.Name == "" || rec.Name == entry.Name {
		return false, false, nil
	}
	entry.Name = rec.Name
	entry.UpdatedAt = now
	return false, true, tx.Save(key, entry, []string{"name", "updated_at"})
}

func (s *CategoryService) linkParent(tx storage.Tx, rec models.CategoryRecord, now time.Time) (created, linked bool, err error) {
	key := storage.Key(storage.KindCategory, s.site, rec.URL)
	var child models.CategoryEntry
	if _, err := tx.Get(key, &child); err != nil {
		return false, false, err
	}

	parentURL := ""
	if rec.ParentURL != "" && !parse.IsSiteRoot(rec.ParentURL, s.baseURL) {
		parentURL, err = parse.Canonicalize(rec.ParentURL)
		if err != nil {
			return false, false, err
		}
	}
	if parentURL == child.URL {
		parentURL = ""
	}

	if parentURL != "" {
		var parent models.CategoryEntry
		found, err := tx.Get(storage.Key(storage.KindCategory, s.site, parentURL), &parent)
		if err != nil {
			return false, false, err
		}
		if !found {
			if err := s.create(tx, parentURL, "", now); err != nil {
				return false, false, err
			}
			created = true
		}
	}

	if child.ParentURL == parentURL {
		return created, false, nil
	}
	child.ParentURL = parentURL
	child.UpdatedAt = now
	return created, true, tx.Save(key, child, []string{"parent_url", "updated_at"})
}

func (s *CategoryService) create(tx storage.Tx, canonical, name string, now time.Time) error {
	if name == "" {
		name = guessName(canonical)
	}
	entry := models.CategoryEntry{
		Site:      s.site,
		URL:       canonical,
		Name:      name,
		IsEnabled: s.enableNew,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return tx.Save(storage.Key(storage.KindCategory, s.site, canonical), entry, nil)
}

// List returns every stored category of the site in key order
func (s *CategoryService) List(ctx context.Context) ([]models.CategoryEntry, error) {
	var entries []models.CategoryEntry
	err := s.store.Filter(ctx, storage.Criteria{Kind: storage.KindCategory, Site: s.site}, func(key string, raw []byte) error {
		var e models.CategoryEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			return fmt.Errorf("%w: decoding '%s': %w", utils.ErrParsing, key, err)
		}
		entries = append(entries, e)
		return nil
	})
	return entries, err
}

// Enabled returns the stored categories with is_enabled set
func (s *CategoryService) Enabled(ctx context.Context) ([]models.CategoryEntry, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	enabled := all[:0]
	for _, e := range all {
		if e.IsEnabled {
			enabled = append(enabled, e)
		}
	}
	return enabled, nil
}

// guessName derives a display name from the last path segment of u:
// "https://x/cat/wild-animals/" becomes "Wild animals". Falls back to u.
func guessName(u string) string {
	parsed, err := url.Parse(u)
	if err != nil {
		return u
	}
	path := strings.TrimRight(parsed.Path, "/")
	slug := path[strings.LastIndex(path, "/")+1:]
	runes := []rune(strings.ReplaceAll(slug, "-", " "))
	if len(runes) == 0 {
		return u
	}
	for i, r := range runes {
		if i == 0 {
			runes[i] = unicode.ToUpper(r)
		} else {
			runes[i] = unicode.ToLower(r)
		}
	}
	return string(runes)
}
