// Package metrics exposes Prometheus collectors for the crawler.
package metrics

import (
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JakeFAU/jobs-crawler/internal/crawler"
)

// Collector records crawl milestones and ops HTTP traffic. It satisfies
// crawler.Observer.
type Collector struct {
	registry *prometheus.Registry

	pagesTotal          *prometheus.CounterVec
	cardsTotal          *prometheus.CounterVec
	flushesTotal        *prometheus.CounterVec
	flushSize           prometheus.Histogram
	recordsPersisted    prometheus.Counter
	recordsDropped      prometheus.Counter
	categoriesTotal     *prometheus.CounterVec
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

var _ crawler.Observer = (*Collector)(nil)

// New registers the crawler collectors on a fresh registry, together with the
// Go runtime and process collectors.
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		pagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobcrawler_pages_loaded_total",
				Help: "Total number of listing pages loaded, labeled by category.",
			},
			[]string{"category"},
		),
		cardsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobcrawler_cards_total",
				Help: "Total number of listing cards processed, labeled by outcome.",
			},
			[]string{"outcome"},
		),
		flushesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobcrawler_flushes_total",
				Help: "Total number of batch flush attempts, labeled by status.",
			},
			[]string{"status"},
		),
		flushSize: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "jobcrawler_flush_records",
				Help:    "Histogram of records submitted per flush attempt.",
				Buckets: []float64{1, 2, 5, 10, 20, 50, 100},
			},
		),
		recordsPersisted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "jobcrawler_records_persisted_total",
				Help: "Total number of job records committed to the store.",
			},
		),
		recordsDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "jobcrawler_records_dropped_total",
				Help: "Total number of buffered records discarded after failed flushes.",
			},
		),
		categoriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobcrawler_categories_total",
				Help: "Total number of categories traversed, labeled by terminal state.",
			},
			[]string{"state"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		),
	}
}

// Handler exposes the collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// PageLoaded implements crawler.Observer.
func (c *Collector) PageLoaded(category string) {
	c.pagesTotal.WithLabelValues(CategoryLabel(category)).Inc()
}

// CardExtracted implements crawler.Observer.
func (c *Collector) CardExtracted() {
	c.cardsTotal.WithLabelValues("extracted").Inc()
}

// CardSkipped implements crawler.Observer.
func (c *Collector) CardSkipped() {
	c.cardsTotal.WithLabelValues("skipped").Inc()
}

// Flushed implements crawler.Observer.
func (c *Collector) Flushed(records int, err error) {
	c.flushSize.Observe(float64(records))
	if err != nil {
		c.flushesTotal.WithLabelValues("error").Inc()
		return
	}
	c.flushesTotal.WithLabelValues("ok").Inc()
	c.recordsPersisted.Add(float64(records))
}

// RecordsDropped implements crawler.Observer.
func (c *Collector) RecordsDropped(records int) {
	c.recordsDropped.Add(float64(records))
}

// CategoryFinished implements crawler.Observer.
func (c *Collector) CategoryFinished(_ string, state crawler.PageState) {
	c.categoriesTotal.WithLabelValues(string(state)).Inc()
}

// ObserveHTTPRequest records one ops server request.
func (c *Collector) ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	c.httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// CategoryLabel reduces a category URL to its last path segment plus the
// normalized query, lowercased. It returns "unknown" if the URL is invalid
// or carries neither.
func CategoryLabel(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "unknown"
	}
	base := path.Base(strings.TrimRight(u.Path, "/"))
	if base == "." || base == "/" {
		base = ""
	}
	if query := u.Query().Encode(); query != "" {
		if base != "" {
			base += "?"
		}
		base += query
	}
	if base == "" {
		return "unknown"
	}
	return strings.ToLower(base)
}
