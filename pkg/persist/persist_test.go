package persist

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"site-ingest/pkg/models"
	"site-ingest/pkg/storage"
)

const (
	testSite = "facts"
	testBase = "https://facts.example.com/"
)

var (
	errBoom = errors.New("boom")
	t0      = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	t1      = t0.Add(24 * time.Hour)
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func newStore(t *testing.T) *storage.BadgerStore {
	t.Helper()
	store, err := storage.NewBadgerStore(t.TempDir(), false, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func fixedClock(ts *time.Time) func() time.Time {
	return func() time.Time { return *ts }
}

// failingStore fails any read or write of failKey inside Update
type failingStore struct {
	*storage.BadgerStore
	failKey string
}

func (f *failingStore) Update(ctx context.Context, fn func(storage.Tx) error) error {
	return f.BadgerStore.Update(ctx, func(tx storage.Tx) error {
		return fn(&failingTx{Tx: tx, failKey: f.failKey})
	})
}

type failingTx struct {
	storage.Tx
	failKey string
}

func (t *failingTx) GetOrCreate(key string, defaults, out any) (bool, error) {
	if key == t.failKey {
		return false, errBoom
	}
	return t.Tx.GetOrCreate(key, defaults, out)
}

func (t *failingTx) Get(key string, out any) (bool, error) {
	if key == t.failKey {
		return false, errBoom
	}
	return t.Tx.Get(key, out)
}

func getArticle(t *testing.T, store storage.RecordStore, url string) (models.ArticleRecord, bool) {
	t.Helper()
	var rec models.ArticleRecord
	var found bool
	require.NoError(t, store.View(context.Background(), func(tx storage.Tx) error {
		var err error
		found, err = tx.Get(storage.Key(storage.KindArticle, testSite, url), &rec)
		return err
	}))
	return rec, found
}

func getContent(t *testing.T, store storage.RecordStore, url string) (models.ArticleContent, bool) {
	t.Helper()
	var c models.ArticleContent
	var found bool
	require.NoError(t, store.View(context.Background(), func(tx storage.Tx) error {
		var err error
		found, err = tx.Get(storage.Key(storage.KindContent, testSite, url), &c)
		return err
	}))
	return c, found
}

func getCategory(t *testing.T, store storage.RecordStore, url string) (models.CategoryEntry, bool) {
	t.Helper()
	var e models.CategoryEntry
	var found bool
	require.NoError(t, store.View(context.Background(), func(tx storage.Tx) error {
		var err error
		found, err = tx.Get(storage.Key(storage.KindCategory, testSite, url), &e)
		return err
	}))
	return e, found
}
