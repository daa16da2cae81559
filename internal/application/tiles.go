package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/karlseguin/ccache/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/SandiRizqi/terestria-sub000/internal/domain"
	"github.com/SandiRizqi/terestria-sub000/internal/ports/output"
)

// Memory cache defaults.
const (
	DefaultMemoryTiles   = 2048
	DefaultMemoryTileTTL = 10 * time.Minute
)

// BasemapLookup resolves basemap definitions.
type BasemapLookup interface {
	Get(ctx context.Context, id string) (domain.Basemap, error)
}

// TileQueue is the part of DownloadManager the tile service needs.
type TileQueue interface {
	Download(ctx context.Context, req DownloadRequest) ([]byte, bool)
	Cancel(keys ...domain.TileKey) int
	Promote(key domain.TileKey) bool
}

// TileServiceConfig configures a TileService.
type TileServiceConfig struct {
	MemoryTiles int64
	MemoryTTL   time.Duration
}

// TileService serves tiles from memory, the tile store and, for remote
// basemaps, the network.
type TileService struct {
	basemaps BasemapLookup
	stores   output.TileStoreProvider
	queue    TileQueue
	metrics  output.MetricsCollector
	logger   *zap.Logger

	cache    *ccache.Cache[[]byte]
	ttl      time.Duration
	inflight singleflight.Group

	baseCtx    context.Context
	cancel     context.CancelFunc
	prefetches sync.WaitGroup
}

// NewTileService creates a tile service.
func NewTileService(
	basemaps BasemapLookup,
	stores output.TileStoreProvider,
	queue TileQueue,
	cfg TileServiceConfig,
	metrics output.MetricsCollector,
	logger *zap.Logger,
) *TileService {
	if cfg.MemoryTiles <= 0 {
		cfg.MemoryTiles = DefaultMemoryTiles
	}
	if cfg.MemoryTTL <= 0 {
		cfg.MemoryTTL = DefaultMemoryTileTTL
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &TileService{
		basemaps: basemaps,
		stores:   stores,
		queue:    queue,
		metrics:  metrics,
		logger:   logger.With(zap.String("component", "tiles")),
		cache:    ccache.New(ccache.Configure[[]byte]().MaxSize(cfg.MemoryTiles)),
		ttl:      cfg.MemoryTTL,
		baseCtx:  ctx,
		cancel:   cancel,
	}
}

// GetTile returns the PNG bytes of a tile. PDF basemaps only serve stored
// tiles. Remote basemaps download missing tiles and keep them; visible
// selects on-screen priority for the download.
func (s *TileService) GetTile(ctx context.Context, basemapID string, z, x, y int, visible bool) ([]byte, error) {
	key := domain.NewTileKey(basemapID, z, x, y)
	if err := key.Validate(); err != nil {
		return nil, err
	}

	if item := s.cache.Get(key.String()); item != nil && !item.Expired() {
		s.metrics.IncTileRequests("memory")
		return item.Value(), nil
	}

	b, err := s.basemaps.Get(ctx, basemapID)
	if err != nil {
		return nil, err
	}
	if !b.IsReady() {
		if b.Status == domain.StatusProcessing {
			return nil, fmt.Errorf("%q: %w", basemapID, domain.ErrBasemapBusy)
		}
		return nil, fmt.Errorf("%s: basemap %s: %w", key, b.Status, domain.ErrTileNotFound)
	}

	store, err := s.stores.Store(basemapID)
	if err != nil {
		return nil, err
	}
	data, ok, err := store.Get(ctx, z, x, y)
	if err != nil {
		return nil, err
	}
	if ok {
		s.metrics.IncTileRequests("store")
		s.cache.Set(key.String(), data, s.ttl)
		return data, nil
	}

	if !b.IsRemote() {
		s.metrics.IncTileRequests("miss")
		return nil, fmt.Errorf("%s: %w", key, domain.ErrTileNotFound)
	}
	return s.download(ctx, b, store, key, visible)
}

func (s *TileService) download(ctx context.Context, b domain.Basemap, store output.TileStore, key domain.TileKey, visible bool) ([]byte, error) {
	ch := s.inflight.DoChan(key.String(), func() (interface{}, error) {
		// The flight is shared, so no single caller may cancel it.
		flightCtx := context.WithoutCancel(ctx)
		if data, ok, err := store.Get(flightCtx, key.Z, key.X, key.Y); err == nil && ok {
			return data, nil
		}
		data, ok := s.queue.Download(flightCtx, DownloadRequest{
			Key:     key,
			URL:     domain.ExpandURLTemplate(b.URLTemplate, key.Z, key.X, key.Y),
			Visible: visible,
		})
		if !ok {
			return nil, fmt.Errorf("%s: %w", key, domain.ErrTileUnavailable)
		}
		if err := store.Put(flightCtx, key.Z, key.X, key.Y, data); err != nil {
			s.logger.Warn("failed to store downloaded tile", zap.String("tile", key.String()), zap.Error(err))
		}
		s.cache.Set(key.String(), data, s.ttl)
		return data, nil
	})
	if visible {
		// A visible caller may have joined a background flight.
		s.queue.Promote(key)
	}

	select {
	case res := <-ch:
		if res.Err != nil {
			s.metrics.IncTileRequests("miss")
			return nil, res.Err
		}
		s.metrics.IncTileRequests("network")
		return res.Val.([]byte), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Prefetch schedules background downloads of keys that are not stored yet.
// It returns the number of tiles scheduled.
func (s *TileService) Prefetch(ctx context.Context, keys ...domain.TileKey) (int, error) {
	scheduled := 0
	for _, key := range keys {
		if err := key.Validate(); err != nil {
			return scheduled, err
		}
		b, err := s.basemaps.Get(ctx, key.BasemapID)
		if err != nil {
			return scheduled, err
		}
		if !b.IsRemote() {
			continue
		}
		store, err := s.stores.Store(key.BasemapID)
		if err != nil {
			return scheduled, err
		}
		has, err := store.Has(ctx, key.Z, key.X, key.Y)
		if err != nil {
			return scheduled, err
		}
		if has {
			continue
		}

		scheduled++
		s.prefetches.Add(1)
		go func() {
			defer s.prefetches.Done()
			if _, err := s.download(s.baseCtx, b, store, key, false); err != nil {
				s.logger.Debug("prefetch failed", zap.String("tile", key.String()), zap.Error(err))
			}
		}()
	}
	return scheduled, nil
}

// CancelPrefetch cancels queued downloads of keys. It returns how many were cancelled.
func (s *TileService) CancelPrefetch(keys ...domain.TileKey) int {
	return s.queue.Cancel(keys...)
}

// CacheInfo returns the stored tile statistics of a basemap.
func (s *TileService) CacheInfo(ctx context.Context, basemapID string) (domain.CacheInfo, error) {
	store, err := s.storeFor(ctx, basemapID)
	if err != nil {
		return domain.CacheInfo{}, err
	}
	return store.Info(ctx)
}

// ClearCache removes every stored tile of a basemap and returns how many were removed.
func (s *TileService) ClearCache(ctx context.Context, basemapID string) (int64, error) {
	store, err := s.storeFor(ctx, basemapID)
	if err != nil {
		return 0, err
	}
	n, err := store.Clear(ctx)
	s.Invalidate(basemapID)
	if err != nil {
		return 0, err
	}
	s.logger.Info("tile cache cleared", zap.String("basemap_id", basemapID), zap.Int64("tiles", n))
	return n, nil
}

// EvictOlderThan removes tiles of a basemap not accessed within age.
func (s *TileService) EvictOlderThan(ctx context.Context, basemapID string, age time.Duration) (int64, error) {
	if age <= 0 {
		return 0, &domain.ValidationError{Field: "older_than", Value: age, Constraint: "> 0", Message: "age must be positive"}
	}
	store, err := s.storeFor(ctx, basemapID)
	if err != nil {
		return 0, err
	}
	n, err := store.EvictOlderThan(ctx, age)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.Invalidate(basemapID)
	}
	s.logger.Info("stale tiles evicted", zap.String("basemap_id", basemapID), zap.Duration("older_than", age), zap.Int64("tiles", n))
	return n, nil
}

// Invalidate drops the memory cache entries of a basemap.
func (s *TileService) Invalidate(basemapID string) {
	s.cache.DeletePrefix(basemapID + "/")
}

// Close stops background prefetches and the memory cache.
func (s *TileService) Close() {
	s.cancel()
	s.prefetches.Wait()
	s.cache.Stop()
}

func (s *TileService) storeFor(ctx context.Context, basemapID string) (output.TileStore, error) {
	if _, err := s.basemaps.Get(ctx, basemapID); err != nil {
		return nil, err
	}
	return s.stores.Store(basemapID)
}
