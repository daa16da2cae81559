package output

import "time"

// MetricsCollector defines the secondary port for metrics collection.
type MetricsCollector interface {
	// IncTileRequests counts served tile requests by source (memory, store, network, miss).
	IncTileRequests(source string)

	// IncTileDownloads counts finished download tasks by outcome.
	IncTileDownloads(outcome string)

	// IncDownloadRetries counts scheduled retries.
	IncDownloadRetries()

	// SetDownloadQueue sets queued and in-flight download gauges.
	SetDownloadQueue(queued, inFlight int)

	// AddTilesGenerated counts tiles written by PDF imports.
	AddTilesGenerated(basemapID string, n int)

	// IncImports counts finished PDF imports by status.
	IncImports(status string)

	// SetBasemaps sets the number of registered and ready basemaps.
	SetBasemaps(total, ready int)

	// SetOpenStores sets the number of open tile store handles.
	SetOpenStores(count int)

	// IncStoreEvictions counts handles closed to make room in the pool.
	IncStoreEvictions()

	// IncStoreOperations increments the tile store operation counter.
	IncStoreOperations(operation string, success bool)

	// ObserveStoreDuration records tile store operation duration.
	ObserveStoreDuration(operation string, duration time.Duration)
}

// NoOpMetrics is a no-op implementation of MetricsCollector.
type NoOpMetrics struct{}

// IncTileRequests implements MetricsCollector.
func (n *NoOpMetrics) IncTileRequests(_ string) {}

// IncTileDownloads implements MetricsCollector.
func (n *NoOpMetrics) IncTileDownloads(_ string) {}

// IncDownloadRetries implements MetricsCollector.
func (n *NoOpMetrics) IncDownloadRetries() {}

// SetDownloadQueue implements MetricsCollector.
func (n *NoOpMetrics) SetDownloadQueue(_, _ int) {}

// AddTilesGenerated implements MetricsCollector.
func (n *NoOpMetrics) AddTilesGenerated(_ string, _ int) {}

// IncImports implements MetricsCollector.
func (n *NoOpMetrics) IncImports(_ string) {}

// SetBasemaps implements MetricsCollector.
func (n *NoOpMetrics) SetBasemaps(_, _ int) {}

// SetOpenStores implements MetricsCollector.
func (n *NoOpMetrics) SetOpenStores(_ int) {}

// IncStoreEvictions implements MetricsCollector.
func (n *NoOpMetrics) IncStoreEvictions() {}

// IncStoreOperations implements MetricsCollector.
func (n *NoOpMetrics) IncStoreOperations(_ string, _ bool) {}

// ObserveStoreDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveStoreDuration(_ string, _ time.Duration) {}
