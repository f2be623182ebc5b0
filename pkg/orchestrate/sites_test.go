package orchestrate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"site-ingest/pkg/config"
	"site-ingest/pkg/storage"
)

func testAppConfig(siteKeys ...string) *config.AppConfig {
	sites := make(map[string]config.SiteConfig, len(siteKeys))
	for _, key := range siteKeys {
		sites[key] = config.SiteConfig{BaseURL: "https://" + key + ".example.com/"}
	}
	return &config.AppConfig{Sites: sites}
}

func TestValidateSiteKeys(t *testing.T) {
	t.Run("all valid", func(t *testing.T) {
		cfg := testAppConfig("docs", "blog")
		assert.NoError(t, ValidateSiteKeys(cfg, []string{"docs", "blog"}))
	})

	t.Run("one invalid", func(t *testing.T) {
		cfg := testAppConfig("docs", "blog")
		err := ValidateSiteKeys(cfg, []string{"docs", "missing"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing")
		assert.Contains(t, err.Error(), "[blog docs]")
	})

	t.Run("empty keys no error", func(t *testing.T) {
		assert.NoError(t, ValidateSiteKeys(testAppConfig("docs"), []string{}))
	})

	t.Run("empty config", func(t *testing.T) {
		err := ValidateSiteKeys(testAppConfig(), []string{"anything"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "anything")
	})
}

func TestGetAllSiteKeys(t *testing.T) {
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, GetAllSiteKeys(testAppConfig("gamma", "alpha", "beta")))
	assert.Empty(t, GetAllSiteKeys(testAppConfig()))
}

func TestRunSites(t *testing.T) {
	f := newFixture(t)
	store, err := storage.NewBadgerStore(t.TempDir(), false, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	results := RunSites(context.Background(), f.app, []string{"facts", "ghost"}, 1, Deps{Store: store}, testLogger())
	require.Len(t, results, 2)

	assert.Equal(t, "facts", results[0].SiteKey)
	assert.True(t, results[0].Success)
	assert.Equal(t, 4, results[0].Summary.Feed.TotalUnique)

	assert.Equal(t, "ghost", results[1].SiteKey)
	assert.False(t, results[1].Success)
	assert.Error(t, results[1].Error)
}
