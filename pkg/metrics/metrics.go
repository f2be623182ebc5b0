// Package metrics holds the Prometheus counters for crawl runs.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"site-ingest/pkg/models"
	"site-ingest/pkg/utils"
)

// Fetch kinds
const (
	KindSeed     = "seed"
	KindCategory = "category"
	KindFeed     = "feed"
	KindArticle  = "article"
)

// Recorder owns a private registry so several recorders can coexist in tests.
// A nil *Recorder records nothing.
type Recorder struct {
	registry             *prometheus.Registry
	pagesFetched         *prometheus.CounterVec
	fetchFailures        *prometheus.CounterVec
	records              *prometheus.CounterVec
	categoriesDiscovered prometheus.Gauge
}

// NewRecorder creates and registers the crawl metrics
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		pagesFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "site_ingest_pages_fetched_total",
			Help: "Pages fetched successfully, by kind.",
		}, []string{"kind"}),
		fetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "site_ingest_fetch_failures_total",
			Help: "Failed page fetches, by kind and error category.",
		}, []string{"kind", "category"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "site_ingest_records_total",
			Help: "Persisted records, by entity and outcome.",
		}, []string{"entity", "outcome"}),
		categoriesDiscovered: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "site_ingest_categories_discovered",
			Help: "Categories found by the last discovery run.",
		}),
	}
	r.registry.MustRegister(r.pagesFetched, r.fetchFailures, r.records, r.categoriesDiscovered)
	return r
}

// PageFetched counts a successful fetch
func (r *Recorder) PageFetched(kind string) {
	if r == nil {
		return
	}
	r.pagesFetched.WithLabelValues(kind).Inc()
}

// FetchFailed counts a failed fetch, labelled with utils.CategorizeError
func (r *Recorder) FetchFailed(kind string, err error) {
	if r == nil {
		return
	}
	r.fetchFailures.WithLabelValues(kind, utils.CategorizeError(err)).Inc()
}

// Persisted adds one batch's article and content outcomes
func (r *Recorder) Persisted(stats models.PersistStats) {
	if r == nil {
		return
	}
	r.records.WithLabelValues("article", "created").Add(float64(stats.Created))
	r.records.WithLabelValues("article", "updated").Add(float64(stats.Updated))
	r.records.WithLabelValues("content", "created").Add(float64(stats.ContentCreated))
	r.records.WithLabelValues("content", "updated").Add(float64(stats.ContentUpdated))
}

// CategoriesPersisted adds a category batch's stats and sets the discovered gauge
func (r *Recorder) CategoriesPersisted(stats models.CategoryStats) {
	if r == nil {
		return
	}
	r.categoriesDiscovered.Set(float64(stats.TotalUnique))
	r.records.WithLabelValues("category", "created").Add(float64(stats.Created))
	r.records.WithLabelValues("category", "updated").Add(float64(stats.Updated))
	r.records.WithLabelValues("category", "linked").Add(float64(stats.Linked))
}

// Registry exposes the registry for tests and custom handlers
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry in the Prometheus text format
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
