// Package metrics provides Prometheus metrics collection.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/SandiRizqi/terestria-sub000/internal/ports/output"
)

// Collector implements the MetricsCollector port using Prometheus.
type Collector struct {
	registry *prometheus.Registry

	tileRequests        *prometheus.CounterVec
	tileDownloads       *prometheus.CounterVec
	downloadRetries     prometheus.Counter
	downloadQueued      prometheus.Gauge
	downloadsInFlight   prometheus.Gauge
	tilesGenerated      *prometheus.CounterVec
	imports             *prometheus.CounterVec
	basemapsTotal       prometheus.Gauge
	basemapsReady       prometheus.Gauge
	openStores          prometheus.Gauge
	storeEvictions      prometheus.Counter
	storeOperations     *prometheus.CounterVec
	storeDuration       *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

var _ output.MetricsCollector = (*Collector)(nil)

// NewCollector creates a collector backed by its own registry.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "terestria"
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,

		tileRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tile_requests_total",
				Help:      "Tile requests by serving source",
			},
			[]string{"source"},
		),

		tileDownloads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tile_downloads_total",
				Help:      "Finished tile downloads by outcome",
			},
			[]string{"outcome"},
		),

		downloadRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tile_download_retries_total",
			Help:      "Scheduled tile download retries",
		}),

		downloadQueued: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tile_downloads_queued",
			Help:      "Tile downloads waiting for a slot",
		}),

		downloadsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tile_downloads_in_flight",
			Help:      "Tile downloads currently running",
		}),

		tilesGenerated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tiles_generated_total",
				Help:      "Tiles written by PDF imports",
			},
			[]string{"basemap_id"},
		),

		imports: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pdf_imports_total",
				Help:      "Finished PDF imports by status",
			},
			[]string{"status"},
		),

		basemapsTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "basemaps_registered",
			Help:      "Number of registered basemaps",
		}),

		basemapsReady: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "basemaps_ready",
			Help:      "Number of ready basemaps",
		}),

		openStores: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tile_stores_open",
			Help:      "Open tile store handles",
		}),

		storeEvictions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tile_store_evictions_total",
			Help:      "Tile store handles closed to make room in the pool",
		}),

		storeOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tile_store_operations_total",
				Help:      "Total number of tile store operations",
			},
			[]string{"operation", "status"},
		),

		storeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tile_store_duration_seconds",
				Help:      "Tile store operation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// IncTileRequests implements output.MetricsCollector.
func (c *Collector) IncTileRequests(source string) {
	c.tileRequests.WithLabelValues(source).Inc()
}

// IncTileDownloads implements output.MetricsCollector.
func (c *Collector) IncTileDownloads(outcome string) {
	c.tileDownloads.WithLabelValues(outcome).Inc()
}

// IncDownloadRetries implements output.MetricsCollector.
func (c *Collector) IncDownloadRetries() {
	c.downloadRetries.Inc()
}

// SetDownloadQueue implements output.MetricsCollector.
func (c *Collector) SetDownloadQueue(queued, inFlight int) {
	c.downloadQueued.Set(float64(queued))
	c.downloadsInFlight.Set(float64(inFlight))
}

// AddTilesGenerated implements output.MetricsCollector.
func (c *Collector) AddTilesGenerated(basemapID string, n int) {
	c.tilesGenerated.WithLabelValues(basemapID).Add(float64(n))
}

// IncImports implements output.MetricsCollector.
func (c *Collector) IncImports(status string) {
	c.imports.WithLabelValues(status).Inc()
}

// SetBasemaps implements output.MetricsCollector.
func (c *Collector) SetBasemaps(total, ready int) {
	c.basemapsTotal.Set(float64(total))
	c.basemapsReady.Set(float64(ready))
}

// SetOpenStores implements output.MetricsCollector.
func (c *Collector) SetOpenStores(count int) {
	c.openStores.Set(float64(count))
}

// IncStoreEvictions implements output.MetricsCollector.
func (c *Collector) IncStoreEvictions() {
	c.storeEvictions.Inc()
}

// IncStoreOperations increments the tile store operation counter.
func (c *Collector) IncStoreOperations(operation string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	c.storeOperations.WithLabelValues(operation, status).Inc()
}

// ObserveStoreDuration records tile store operation duration.
func (c *Collector) ObserveStoreDuration(operation string, duration time.Duration) {
	c.storeDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// IncHTTPRequests increments the HTTP request counter.
func (c *Collector) IncHTTPRequests(method, path, status string) {
	c.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
}

// ObserveHTTPDuration records HTTP request duration.
func (c *Collector) ObserveHTTPDuration(method, path string, duration time.Duration) {
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// Handler returns the HTTP handler exposing this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Middleware returns HTTP middleware for metrics collection.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap response writer to capture status code
		wrapped := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		path := routePath(r)
		c.IncHTTPRequests(r.Method, path, statusToString(wrapped.statusCode))
		c.ObserveHTTPDuration(r.Method, path, time.Since(start))
	})
}

type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusResponseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// routePath returns the matched route template so tile coordinates do not
// become label values.
func routePath(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// statusToString converts HTTP status code to string category.
func statusToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return strconv.Itoa(code)
	}
}
