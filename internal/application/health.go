package application

import (
	"context"
	"sync/atomic"

	"github.com/SandiRizqi/terestria-sub000/internal/ports/input"
)

// BasemapCounter reports basemap counts.
type BasemapCounter interface {
	Counts() (total, ready int)
}

// DownloadStatsSource reports download manager counters.
type DownloadStatsSource interface {
	Stats() DownloadStats
}

// OpenStoreCounter reports open tile store handles.
type OpenStoreCounter interface {
	OpenCount() int
}

// HealthService provides health check functionality.
type HealthService struct {
	basemaps  BasemapCounter
	downloads DownloadStatsSource
	stores    OpenStoreCounter
	ready     atomic.Bool
}

var _ input.HealthChecker = (*HealthService)(nil)

// NewHealthService creates a new health service. downloads and stores may be nil.
func NewHealthService(basemaps BasemapCounter, downloads DownloadStatsSource, stores OpenStoreCounter) *HealthService {
	return &HealthService{
		basemaps:  basemaps,
		downloads: downloads,
		stores:    stores,
	}
}

// MarkReady flags the service ready once the catalog is loaded.
func (s *HealthService) MarkReady() {
	s.ready.Store(true)
}

// IsHealthy returns true if the service is healthy.
func (s *HealthService) IsHealthy(_ context.Context) bool {
	return true
}

// IsReady returns true if the service is ready to accept requests.
func (s *HealthService) IsReady(_ context.Context) bool {
	return s.ready.Load()
}

// GetHealthDetails returns detailed health information.
func (s *HealthService) GetHealthDetails(ctx context.Context) input.HealthDetails {
	total, ready := s.basemaps.Counts()

	details := input.HealthDetails{
		Healthy:       s.IsHealthy(ctx),
		Ready:         s.IsReady(ctx),
		BasemapsTotal: total,
		BasemapsReady: ready,
		Components: map[string]string{
			"catalog": "ok",
		},
	}
	if !details.Ready {
		details.Components["catalog"] = "loading"
	}

	if s.downloads != nil {
		stats := s.downloads.Stats()
		details.DownloadsQueued = stats.Queued
		details.DownloadsInFlight = stats.InFlight
		details.Components["downloader"] = "ok"
	}
	if s.stores != nil {
		details.OpenStores = s.stores.OpenCount()
		details.Components["tile_store"] = "ok"
	}

	return details
}
