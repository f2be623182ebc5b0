package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"site-ingest/pkg/models"
	"site-ingest/pkg/parse"
	"site-ingest/pkg/process"
	"site-ingest/pkg/storage"
	"site-ingest/pkg/utils"
)

// SaveResult reports what SaveOne changed for one article body
type SaveResult struct {
	Created        bool
	ContentCreated bool
	ContentUpdated bool
}

// ArticleService upserts extracted article bodies into article and content records
type ArticleService struct {
	store         storage.RecordStore
	site          string
	defaultStatus models.ArticleStatus
	deriver       *process.Deriver
	now           func() time.Time
	log           *logrus.Entry
}

// NewArticleService creates an ArticleService for one site. A nil deriver stores
// content without markdown, headings or token counts.
func NewArticleService(store storage.RecordStore, site string, defaultStatus models.ArticleStatus, deriver *process.Deriver, log *logrus.Entry) *ArticleService {
	if !defaultStatus.IsValid() {
		defaultStatus = models.ArticleStatusNew
	}
	return &ArticleService{
		store:         store,
		site:          site,
		defaultStatus: defaultStatus,
		deriver:       deriver,
		now:           utcNow,
		log:           log,
	}
}

// SaveOne upserts body inside tx. When the body carries content the article is
// marked PARSED and its crawl time recorded.
func (s *ArticleService) SaveOne(tx storage.Tx, body models.ArticleBody) (SaveResult, error) {
	var res SaveResult
	if body.URL == "" {
		return res, fmt.Errorf("article URL is required")
	}
	key, canonical, err := recordKey(storage.KindArticle, s.site, body.URL)
	if err != nil {
		return res, err
	}

	now := s.now()
	defaults := models.ArticleRecord{
		Site:         s.site,
		URL:          canonical,
		Title:        body.Title,
		ImagePreview: body.LeadImage,
		PublishedAt:  body.PublishedAt,
		Status:       s.defaultStatus,
		DiscoveredAt: now,
		LastSeenAt:   now,
	}

	var rec models.ArticleRecord
	res.Created, err = tx.GetOrCreate(key, defaults, &rec)
	if err != nil {
		return res, err
	}

	var changed []string
	if !res.Created {
		if body.Title != "" && body.Title != rec.Title {
			rec.Title = body.Title
			changed = append(changed, "title")
		}
		if body.LeadImage != "" && body.LeadImage != rec.ImagePreview {
			rec.ImagePreview = body.LeadImage
			changed = append(changed, "image_preview")
		}
		if body.PublishedAt != nil && (rec.PublishedAt == nil || !body.PublishedAt.Equal(*rec.PublishedAt)) {
			rec.PublishedAt = body.PublishedAt
			changed = append(changed, "published_at")
		}
		rec.LastSeenAt = now
		changed = append(changed, "last_seen_at")
	}

	if body.HasContent() {
		res.ContentCreated, res.ContentUpdated, err = s.saveContent(tx, canonical, body)
		if err != nil {
			return res, err
		}
		if rec.Status != models.ArticleStatusParsed {
			rec.Status = models.ArticleStatusParsed
			changed = append(changed, "status")
		}
		if rec.ErrorNote != "" {
			rec.ErrorNote = ""
			changed = append(changed, "error_note")
		}
		rec.LastCrawledAt = &now
		changed = append(changed, "last_crawled_at")
	}

	if len(changed) == 0 {
		return res, nil
	}
	if res.Created {
		return res, tx.Save(key, rec, nil)
	}
	return res, tx.Save(key, rec, changed)
}

// saveContent creates or updates the content record linked to canonical
func (s *ArticleService) saveContent(tx storage.Tx, canonical string, body models.ArticleBody) (created, updated bool, err error) {
	key := storage.Key(storage.KindContent, s.site, canonical)
	defaults := models.ArticleContent{
		Site:        s.site,
		URL:         canonical,
		ContentHTML: body.ContentHTML,
		ContentText: body.ContentText,
	}
	s.applyDerived(&defaults)

	var content models.ArticleContent
	created, err = tx.GetOrCreate(key, defaults, &content)
	if err != nil || created {
		return created, false, err
	}

	var changed []string
	if body.ContentHTML != "" && body.ContentHTML != content.ContentHTML {
		content.ContentHTML = body.ContentHTML
		changed = append(changed, "content_html")
	}
	if body.ContentText != "" && body.ContentText != content.ContentText {
		content.ContentText = body.ContentText
		changed = append(changed, "content_text")
	}
	if len(changed) == 0 {
		return false, false, nil
	}

	s.applyDerived(&content)
	changed = append(changed, "content_markdown", "headings", "token_count")
	return false, true, tx.Save(key, content, changed)
}

func (s *ArticleService) applyDerived(content *models.ArticleContent) {
	if s.deriver == nil {
		return
	}
	d := s.deriver.Derive(content.ContentHTML, content.ContentText)
	content.ContentMarkdown = d.Markdown
	content.Headings = d.Headings
	content.TokenCount = d.TokenCount
}

// SaveMany upserts bodies in one atomic batch, last occurrence winning. It also
// returns the bodies whose content record was created, with canonical URLs.
func (s *ArticleService) SaveMany(ctx context.Context, bodies []models.ArticleBody) (models.PersistStats, []models.ArticleBody, error) {
	stats := models.PersistStats{TotalInput: len(bodies)}

	byURL := make(map[string]models.ArticleBody, len(bodies))
	order := make([]string, 0, len(bodies))
	for _, b := range bodies {
		if b.URL == "" {
			continue
		}
		canonical, err := parse.Canonicalize(b.URL)
		if err != nil {
			return models.PersistStats{}, nil, batchError("article batch", err)
		}
		b.URL = canonical
		if _, seen := byURL[canonical]; !seen {
			order = append(order, canonical)
		}
		byURL[canonical] = b
	}
	stats.TotalUnique = len(byURL)

	var fresh []models.ArticleBody
	err := s.store.Update(ctx, func(tx storage.Tx) error {
		batch := models.PersistStats{TotalInput: stats.TotalInput, TotalUnique: stats.TotalUnique}
		fresh = fresh[:0]
		for _, u := range order {
			res, err := s.SaveOne(tx, byURL[u])
			if err != nil {
				return fmt.Errorf("saving article '%s': %w", u, err)
			}
			if res.Created {
				batch.Created++
			} else {
				batch.Updated++
			}
			if res.ContentCreated {
				batch.ContentCreated++
				fresh = append(fresh, byURL[u])
			}
			if res.ContentUpdated {
				batch.ContentUpdated++
			}
		}
		stats = batch
		return nil
	})
	if err != nil {
		return models.PersistStats{}, nil, batchError("article batch", err)
	}

	s.log.WithFields(logrus.Fields{
		"total_input":     stats.TotalInput,
		"total_unique":    stats.TotalUnique,
		"created":         stats.Created,
		"updated":         stats.Updated,
		"content_created": stats.ContentCreated,
		"content_updated": stats.ContentUpdated,
	}).Debug("Articles persisted")
	return stats, fresh, nil
}

// MarkError flags an existing article as ERROR with note. Reports false, without
// creating anything, when the article is unknown.
func (s *ArticleService) MarkError(ctx context.Context, url, note string) (bool, error) {
	key, _, err := recordKey(storage.KindArticle, s.site, url)
	if err != nil {
		return false, err
	}

	found := false
	err = s.store.Update(ctx, func(tx storage.Tx) error {
		var rec models.ArticleRecord
		var err error
		found, err = tx.Get(key, &rec)
		if err != nil || !found {
			return err
		}
		now := s.now()
		rec.Status = models.ArticleStatusError
		rec.ErrorNote = note
		rec.LastCrawledAt = &now
		return tx.Save(key, rec, []string{"status", "error_note", "last_crawled_at"})
	})
	if err != nil {
		return false, batchError("mark error", err)
	}
	return found, nil
}

// Pending returns up to limit article URLs, in key order, that are still NEW and
// have no stored content. limit <= 0 returns all of them.
func (s *ArticleService) Pending(ctx context.Context, limit int) ([]string, error) {
	withContent := make(map[string]bool)
	err := s.store.Filter(ctx, storage.Criteria{Kind: storage.KindContent, Site: s.site}, func(key string, _ []byte) error {
		withContent[storage.URLFromKey(key)] = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: listing content: %w", utils.ErrDatabase, err)
	}

	var pending []string
	err = s.store.Filter(ctx, storage.Criteria{Kind: storage.KindArticle, Site: s.site}, func(key string, raw []byte) error {
		var rec models.ArticleRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("%w: decoding '%s': %w", utils.ErrParsing, key, err)
		}
		u := storage.URLFromKey(key)
		if rec.Status != models.ArticleStatusNew || withContent[u] {
			return nil
		}
		pending = append(pending, u)
		if limit > 0 && len(pending) >= limit {
			return errStopScan
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStopScan) {
		return nil, err
	}
	return pending, nil
}

// Get loads an article and its content. content is nil when none is stored;
// an unknown article returns utils.ErrNotFound.
func (s *ArticleService) Get(ctx context.Context, url string) (*models.ArticleRecord, *models.ArticleContent, error) {
	key, canonical, err := recordKey(storage.KindArticle, s.site, url)
	if err != nil {
		return nil, nil, err
	}

	var rec models.ArticleRecord
	var content *models.ArticleContent
	err = s.store.View(ctx, func(tx storage.Tx) error {
		found, err := tx.Get(key, &rec)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: article '%s'", utils.ErrNotFound, canonical)
		}
		var c models.ArticleContent
		found, err = tx.Get(storage.Key(storage.KindContent, s.site, canonical), &c)
		if found {
			content = &c
		}
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return &rec, content, nil
}

// EachWithContent calls fn for every stored content record of the site together
// with its article, in key order. An error from fn stops the scan.
func (s *ArticleService) EachWithContent(ctx context.Context, fn func(models.ArticleRecord, models.ArticleContent) error) error {
	return s.store.Filter(ctx, storage.Criteria{Kind: storage.KindContent, Site: s.site}, func(key string, raw []byte) error {
		var content models.ArticleContent
		if err := json.Unmarshal(raw, &content); err != nil {
			return fmt.Errorf("%w: decoding '%s': %w", utils.ErrParsing, key, err)
		}
		var rec models.ArticleRecord
		err := s.store.View(ctx, func(tx storage.Tx) error {
			_, err := tx.Get(storage.Key(storage.KindArticle, s.site, storage.URLFromKey(key)), &rec)
			return err
		})
		if err != nil {
			return err
		}
		return fn(rec, content)
	})
}

// Known reports which of urls already have an article record
func (s *ArticleService) Known(ctx context.Context, urls []string) (map[string]bool, error) {
	return knownURLs(ctx, s.store, storage.KindArticle, s.site, urls)
}
