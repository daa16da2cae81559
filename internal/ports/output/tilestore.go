package output

import (
	"context"
	"time"

	"github.com/SandiRizqi/terestria-sub000/internal/domain"
)

// TileStore is the persistent tile cache of a single basemap.
type TileStore interface {
	// Put upserts a tile. The last write wins.
	Put(ctx context.Context, z, x, y int, data []byte) error

	// Get returns the tile bytes and whether the tile exists.
	Get(ctx context.Context, z, x, y int) ([]byte, bool, error)

	// Has reports whether the tile exists without reading its bytes.
	Has(ctx context.Context, z, x, y int) (bool, error)

	// Info returns count, size and last write time of the stored tiles.
	Info(ctx context.Context) (domain.CacheInfo, error)

	// Clear deletes all tiles and returns how many were removed.
	Clear(ctx context.Context) (int64, error)

	// EvictOlderThan deletes tiles not accessed within age.
	EvictOlderThan(ctx context.Context, age time.Duration) (int64, error)
}

// TileStoreProvider hands out per-basemap tile stores.
type TileStoreProvider interface {
	// Store returns the store for basemapID. Opening is deferred to first use.
	Store(basemapID string) (TileStore, error)

	// Delete closes and removes all persisted data of basemapID.
	Delete(ctx context.Context, basemapID string) error

	// Close closes all open stores.
	Close() error
}
