// Package input defines the primary/driving ports of the application.
package input

import (
	"context"
	"time"

	"github.com/SandiRizqi/terestria-sub000/internal/domain"
)

// TileProvider defines the primary port for serving tiles.
type TileProvider interface {
	// GetTile returns the PNG bytes of a tile. visible marks an on-screen request.
	GetTile(ctx context.Context, basemapID string, z, x, y int, visible bool) ([]byte, error)

	// CacheInfo returns the stored tile statistics of a basemap.
	CacheInfo(ctx context.Context, basemapID string) (domain.CacheInfo, error)

	// ClearCache removes every stored tile of a basemap.
	ClearCache(ctx context.Context, basemapID string) (int64, error)

	// EvictOlderThan removes tiles not accessed within age.
	EvictOlderThan(ctx context.Context, basemapID string, age time.Duration) (int64, error)
}

// BasemapReader defines the primary port for reading basemap definitions.
type BasemapReader interface {
	// List returns all basemaps.
	List(ctx context.Context) ([]domain.Basemap, error)

	// Get returns a specific basemap by ID.
	Get(ctx context.Context, id string) (domain.Basemap, error)
}

// HealthChecker defines the primary port for health checks.
type HealthChecker interface {
	// IsHealthy returns true if the service is healthy.
	IsHealthy(ctx context.Context) bool

	// IsReady returns true if the service is ready to accept requests.
	IsReady(ctx context.Context) bool

	// GetHealthDetails returns detailed health information.
	GetHealthDetails(ctx context.Context) HealthDetails
}

// HealthDetails contains detailed health information.
type HealthDetails struct {
	Healthy           bool              // Overall health status
	Ready             bool              // Ready to accept requests
	BasemapsTotal     int               // Number of registered basemaps
	BasemapsReady     int               // Number of basemaps serving tiles
	DownloadsQueued   int               // Tile downloads waiting for a slot
	DownloadsInFlight int               // Tile downloads on the wire
	OpenStores        int               // Open tile store handles
	Components        map[string]string // Component statuses
}
