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
	catAnimals = "https://facts.example.com/category/animals/"
	catCats    = "https://facts.example.com/category/animals/cats/"
	catDogs    = "https://facts.example.com/category/animals/dogs/"
	catSpace   = "https://facts.example.com/category/space/"
	catMissing = "https://facts.example.com/category/wild-nature/"
)

func newCategories(store storage.RecordStore, enableNew bool, now *time.Time) *CategoryService {
	svc := NewCategoryService(store, testSite, testBase, enableNew, testLogger())
	svc.now = fixedClock(now)
	return svc
}

func TestGuessName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://facts.example.com/category/wild-animals/", "Wild animals"},
		{"https://facts.example.com/category/SPACE", "Space"},
		{"https://facts.example.com/category/%D0%BA%D0%BE%D1%88%D0%BA%D0%B8/", "Кошки"},
		{"https://facts.example.com/", "https://facts.example.com/"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, guessName(tt.in))
		})
	}
}

func TestCategorySave_CreatesAndLinks(t *testing.T) {
	store := newStore(t)
	now := t0
	svc := newCategories(store, true, &now)

	stats, err := svc.Save(context.Background(), []models.CategoryRecord{
		{Name: "Animals", URL: catAnimals, ParentURL: testBase},
		{Name: "Cats", URL: catCats, ParentURL: catAnimals},
		{Name: "", URL: catDogs, ParentURL: catMissing},
		{Name: "Space", URL: catSpace},
	})
	require.NoError(t, err)
	assert.Equal(t, models.CategoryStats{TotalInput: 4, TotalUnique: 4, Created: 5, Linked: 2}, stats)

	animals, _ := getCategory(t, store, catAnimals)
	assert.Empty(t, animals.ParentURL, "site root parent means none")
	assert.True(t, animals.IsEnabled)
	assert.True(t, animals.CreatedAt.Equal(t0))

	cats, _ := getCategory(t, store, catCats)
	assert.Equal(t, catAnimals, cats.ParentURL)

	dogs, _ := getCategory(t, store, catDogs)
	assert.Equal(t, "Dogs", dogs.Name, "empty names are guessed from the slug")
	assert.Equal(t, catMissing, dogs.ParentURL)

	missing, found := getCategory(t, store, catMissing)
	require.True(t, found, "missing parents are created")
	assert.Equal(t, "Wild nature", missing.Name)
	assert.Empty(t, missing.ParentURL)
}

func TestCategorySave_Rerun(t *testing.T) {
	store := newStore(t)
	now := t0
	svc := newCategories(store, false, &now)
	ctx := context.Background()

	_, err := svc.Save(ctx, []models.CategoryRecord{
		{Name: "Animals", URL: catAnimals},
		{Name: "Cats", URL: catCats, ParentURL: catAnimals},
		{Name: "Dogs", URL: catDogs, ParentURL: catAnimals},
	})
	require.NoError(t, err)

	now = t1
	stats, err := svc.Save(ctx, []models.CategoryRecord{
		{Name: "Animals", URL: catAnimals},
		{Name: "Kittens", URL: catCats, ParentURL: catAnimals},
		{Name: "", URL: catDogs},
	})
	require.NoError(t, err)
	assert.Equal(t, models.CategoryStats{TotalInput: 3, TotalUnique: 3, Updated: 1, Linked: 1}, stats)

	cats, _ := getCategory(t, store, catCats)
	assert.Equal(t, "Kittens", cats.Name)
	assert.True(t, cats.UpdatedAt.Equal(t1))
	assert.True(t, cats.CreatedAt.Equal(t0))

	dogs, _ := getCategory(t, store, catDogs)
	assert.Equal(t, "Dogs", dogs.Name, "empty name keeps the stored one")
	assert.Empty(t, dogs.ParentURL, "a fresh run without parent clears it")
}

func TestCategorySave_DedupeAndSelfParent(t *testing.T) {
	store := newStore(t)
	now := t0
	svc := newCategories(store, true, &now)

	stats, err := svc.Save(context.Background(), []models.CategoryRecord{
		{Name: "First", URL: "https://facts.example.com/category/space?page=2"},
		{Name: "Second", URL: catSpace, ParentURL: catSpace},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalInput)
	assert.Equal(t, 1, stats.TotalUnique)
	assert.Equal(t, 1, stats.Created)

	space, _ := getCategory(t, store, catSpace)
	assert.Equal(t, "Second", space.Name)
	assert.Empty(t, space.ParentURL)
}

func TestCategorySave_RollsBack(t *testing.T) {
	base := newStore(t)
	store := &failingStore{BadgerStore: base, failKey: storage.Key(storage.KindCategory, testSite, catMissing)}
	now := t0
	svc := newCategories(store, true, &now)

	_, err := svc.Save(context.Background(), []models.CategoryRecord{
		{Name: "Animals", URL: catAnimals},
		{Name: "Dogs", URL: catDogs, ParentURL: catMissing},
	})
	assert.ErrorIs(t, err, utils.ErrPersistenceFailure)

	count, err := base.Count(context.Background(), storage.Criteria{Kind: storage.KindCategory})
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestCategoryListAndEnabled(t *testing.T) {
	store := newStore(t)
	now := t0
	ctx := context.Background()

	_, err := newCategories(store, false, &now).Save(ctx, []models.CategoryRecord{{Name: "Animals", URL: catAnimals}})
	require.NoError(t, err)
	svc := newCategories(store, true, &now)
	_, err = svc.Save(ctx, []models.CategoryRecord{{Name: "Space", URL: catSpace}})
	require.NoError(t, err)

	all, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, catAnimals, all[0].URL)

	enabled, err := svc.Enabled(ctx)
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	assert.Equal(t, catSpace, enabled[0].URL)
}
