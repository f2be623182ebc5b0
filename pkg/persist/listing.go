package persist

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"site-ingest/pkg/models"
	"site-ingest/pkg/parse"
	"site-ingest/pkg/storage"
)

// ListingService upserts listing cards into article records
type ListingService struct {
	store         storage.RecordStore
	site          string
	defaultStatus models.ArticleStatus
	now           func() time.Time
	log           *logrus.Entry
}

// NewListingService creates a ListingService for one site. New records get defaultStatus,
// or NEW when it is unset.
func NewListingService(store storage.RecordStore, site string, defaultStatus models.ArticleStatus, log *logrus.Entry) *ListingService {
	if !defaultStatus.IsValid() {
		defaultStatus = models.ArticleStatusNew
	}
	return &ListingService{
		store:         store,
		site:          site,
		defaultStatus: defaultStatus,
		now:           utcNow,
		log:           log,
	}
}

// SaveOne upserts a single card inside tx and reports whether the record was created.
// Existing records only take provided, different values; last_seen_at is always touched.
func (s *ListingService) SaveOne(tx storage.Tx, card models.ListingCard) (bool, error) {
	if card.URL == "" {
		return false, fmt.Errorf("listing card URL is required")
	}
	key, canonical, err := recordKey(storage.KindArticle, s.site, card.URL)
	if err != nil {
		return false, err
	}

	now := s.now()
	defaults := models.ArticleRecord{
		Site:         s.site,
		URL:          canonical,
		Title:        card.Title,
		ImagePreview: card.ImagePreview,
		Status:       s.defaultStatus,
		DiscoveredAt: now,
		LastSeenAt:   now,
	}

	var rec models.ArticleRecord
	created, err := tx.GetOrCreate(key, defaults, &rec)
	if err != nil || created {
		return created, err
	}

	changed := make([]string, 0, 3)
	if card.Title != "" && card.Title != rec.Title {
		rec.Title = card.Title
		changed = append(changed, "title")
	}
	if card.ImagePreview != "" && card.ImagePreview != rec.ImagePreview {
		rec.ImagePreview = card.ImagePreview
		changed = append(changed, "image_preview")
	}
	rec.LastSeenAt = now
	changed = append(changed, "last_seen_at")

	return false, tx.Save(key, rec, changed)
}

// SaveMany upserts cards in one atomic batch. Duplicates collapse with the last
// occurrence winning; cards without a URL count towards the input but are skipped.
func (s *ListingService) SaveMany(ctx context.Context, cards []models.ListingCard) (models.PersistStats, error) {
	stats := models.PersistStats{TotalInput: len(cards)}

	byURL := make(map[string]models.ListingCard, len(cards))
	order := make([]string, 0, len(cards))
	for _, c := range cards {
		if c.URL == "" {
			continue
		}
		canonical, err := parse.Canonicalize(c.URL)
		if err != nil {
			return models.PersistStats{}, batchError("listing batch", err)
		}
		c.URL = canonical
		if _, seen := byURL[canonical]; !seen {
			order = append(order, canonical)
		}
		byURL[canonical] = c
	}
	stats.TotalUnique = len(byURL)

	err := s.store.Update(ctx, func(tx storage.Tx) error {
		batch := models.PersistStats{}
		for _, u := range order {
			created, err := s.SaveOne(tx, byURL[u])
			if err != nil {
				return fmt.Errorf("saving card '%s': %w", u, err)
			}
			if created {
				batch.Created++
			} else {
				batch.Updated++
			}
		}
		// Conflict retries re-run this closure, so counts are only kept from the committed run
		stats.Created, stats.Updated = batch.Created, batch.Updated
		return nil
	})
	if err != nil {
		return models.PersistStats{}, batchError("listing batch", err)
	}

	s.log.WithFields(logrus.Fields{
		"total_input":  stats.TotalInput,
		"total_unique": stats.TotalUnique,
		"created":      stats.Created,
		"updated":      stats.Updated,
	}).Debug("Listing cards persisted")
	return stats, nil
}

// Known reports which of urls already have an article record. It serves as the
// feed walker's lookup for duplicate detection.
func (s *ListingService) Known(ctx context.Context, urls []string) (map[string]bool, error) {
	return knownURLs(ctx, s.store, storage.KindArticle, s.site, urls)
}
