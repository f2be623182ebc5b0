package persist

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"site-ingest/pkg/models"
	"site-ingest/pkg/storage"
	"site-ingest/pkg/utils"
)

const (
	urlA = "https://facts.example.com/a/"
	urlB = "https://facts.example.com/b/"
	urlC = "https://facts.example.com/c/"
)

func newListing(store storage.RecordStore, now *time.Time) *ListingService {
	svc := NewListingService(store, testSite, models.ArticleStatusNew, testLogger())
	svc.now = fixedClock(now)
	return svc
}

func TestListingSaveMany_CreateThenUpdate(t *testing.T) {
	store := newStore(t)
	now := t0
	svc := newListing(store, &now)
	ctx := context.Background()

	stats, err := svc.SaveMany(ctx, []models.ListingCard{
		{URL: urlA, Title: "First title"},
		{URL: urlB, Title: "B"},
		{URL: "https://facts.example.com/a?utm=feed#top", Title: "A title", ImagePreview: "https://facts.example.com/a.jpg"},
		{URL: "", Title: "no url"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.PersistStats{TotalInput: 4, TotalUnique: 2, Created: 2}, stats)

	a, found := getArticle(t, store, urlA)
	require.True(t, found)
	assert.Equal(t, "A title", a.Title, "last occurrence wins")
	assert.Equal(t, "https://facts.example.com/a.jpg", a.ImagePreview)
	assert.Equal(t, models.ArticleStatusNew, a.Status)
	assert.Equal(t, testSite, a.Site)
	assert.True(t, a.DiscoveredAt.Equal(t0))
	assert.True(t, a.LastSeenAt.Equal(t0))

	now = t1
	stats, err = svc.SaveMany(ctx, []models.ListingCard{
		{URL: urlA, ImagePreview: "https://facts.example.com/a2.jpg"},
		{URL: urlB, Title: "B"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.PersistStats{TotalInput: 2, TotalUnique: 2, Updated: 2}, stats)

	a, _ = getArticle(t, store, urlA)
	assert.Equal(t, "A title", a.Title, "empty title does not overwrite")
	assert.Equal(t, "https://facts.example.com/a2.jpg", a.ImagePreview)
	assert.True(t, a.DiscoveredAt.Equal(t0))
	assert.True(t, a.LastSeenAt.Equal(t1), "last_seen_at is always touched")
}

func TestListingSaveMany_RollsBackOnError(t *testing.T) {
	base := newStore(t)
	store := &failingStore{BadgerStore: base, failKey: storage.Key(storage.KindArticle, testSite, urlB)}
	now := t0
	svc := newListing(store, &now)

	_, err := svc.SaveMany(context.Background(), []models.ListingCard{{URL: urlA}, {URL: urlB}, {URL: urlC}})
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrPersistenceFailure)
	assert.ErrorIs(t, err, errBoom)

	count, err := base.Count(context.Background(), storage.Criteria{Kind: storage.KindArticle})
	require.NoError(t, err)
	assert.Zero(t, count, "no card of a failed batch is stored")
}

func TestListingSaveMany_InvalidURL(t *testing.T) {
	now := t0
	svc := newListing(newStore(t), &now)

	_, err := svc.SaveMany(context.Background(), []models.ListingCard{{URL: "/relative/"}})
	assert.ErrorIs(t, err, utils.ErrPersistenceFailure)
	assert.ErrorIs(t, err, utils.ErrInvalidURL)
}

func TestListingDefaultStatus(t *testing.T) {
	store := newStore(t)
	svc := NewListingService(store, testSite, models.ArticleStatusFetched, testLogger())
	_, err := svc.SaveMany(context.Background(), []models.ListingCard{{URL: urlA}})
	require.NoError(t, err)

	a, _ := getArticle(t, store, urlA)
	assert.Equal(t, models.ArticleStatusFetched, a.Status)

	assert.Equal(t, models.ArticleStatusNew, NewListingService(store, testSite, "", testLogger()).defaultStatus)
}

func TestListingKnown(t *testing.T) {
	now := t0
	svc := newListing(newStore(t), &now)
	ctx := context.Background()

	_, err := svc.SaveMany(ctx, []models.ListingCard{{URL: urlA}})
	require.NoError(t, err)

	known, err := svc.Known(ctx, []string{"https://facts.example.com/a", urlB, "not a url"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{urlA: true}, known)
}
