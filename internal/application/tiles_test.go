package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/SandiRizqi/terestria-sub000/internal/domain"
	"github.com/SandiRizqi/terestria-sub000/internal/ports/output"
)

// staticBasemaps implements BasemapLookup.
type staticBasemaps map[string]domain.Basemap

func (s staticBasemaps) Get(_ context.Context, id string) (domain.Basemap, error) {
	b, ok := s[id]
	if !ok {
		return domain.Basemap{}, fmt.Errorf("%q: %w", id, domain.ErrBasemapNotFound)
	}
	return b, nil
}

func testBasemaps() staticBasemaps {
	return staticBasemaps{
		"osm":    {ID: "osm", Kind: domain.BasemapRemote, URLTemplate: "https://tiles.test/{z}/{x}/{y}.png", Status: domain.StatusReady},
		"topo":   {ID: "topo", Kind: domain.BasemapPDF, Status: domain.StatusReady},
		"busy":   {ID: "busy", Kind: domain.BasemapPDF, Status: domain.StatusProcessing},
		"broken": {ID: "broken", Kind: domain.BasemapPDF, Status: domain.StatusFailed},
	}
}

func newTestTileService(t *testing.T, f output.TileFetcher) (*TileService, *memStoreProvider, *DownloadManager) {
	t.Helper()
	stores := newMemStoreProvider()
	manager := NewDownloadManager(f, DownloadManagerConfig{RetryDelay: time.Millisecond}, &output.NoOpMetrics{}, zap.NewNop())
	svc := NewTileService(testBasemaps(), stores, manager, TileServiceConfig{}, &output.NoOpMetrics{}, zap.NewNop())
	t.Cleanup(func() {
		svc.Close()
		manager.Close()
	})
	return svc, stores, manager
}

func TestTileServiceRemoteReadThrough(t *testing.T) {
	f := newFakeFetcher(nil)
	svc, stores, _ := newTestTileService(t, f)
	ctx := context.Background()

	data, err := svc.GetTile(ctx, "osm", 3, 2, 1, true)
	require.NoError(t, err)
	assert.Equal(t, []byte("tile:https://tiles.test/3/2/1.png"), data)

	stored, ok, err := stores.store("osm").Get(ctx, 3, 2, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, data, stored)

	// Served from memory, no second fetch.
	again, err := svc.GetTile(ctx, "osm", 3, 2, 1, true)
	require.NoError(t, err)
	assert.Equal(t, data, again)
	assert.Equal(t, int64(1), f.total.Load())
}

func TestTileServiceStoreHit(t *testing.T) {
	f := newFakeFetcher(nil)
	svc, stores, _ := newTestTileService(t, f)
	ctx := context.Background()
	require.NoError(t, stores.store("osm").Put(ctx, 4, 4, 4, []byte("stored")))

	data, err := svc.GetTile(ctx, "osm", 4, 4, 4, false)
	require.NoError(t, err)
	assert.Equal(t, []byte("stored"), data)
	assert.Zero(t, f.total.Load())
}

func TestTileServicePDFBasemaps(t *testing.T) {
	f := newFakeFetcher(nil)
	svc, stores, _ := newTestTileService(t, f)
	ctx := context.Background()
	require.NoError(t, stores.store("topo").Put(ctx, 10, 1, 1, []byte("pdf tile")))

	data, err := svc.GetTile(ctx, "topo", 10, 1, 1, true)
	require.NoError(t, err)
	assert.Equal(t, []byte("pdf tile"), data)

	_, err = svc.GetTile(ctx, "topo", 10, 2, 2, true)
	assert.ErrorIs(t, err, domain.ErrTileNotFound)

	_, err = svc.GetTile(ctx, "busy", 10, 2, 2, true)
	assert.ErrorIs(t, err, domain.ErrBasemapBusy)

	_, err = svc.GetTile(ctx, "broken", 10, 2, 2, true)
	assert.ErrorIs(t, err, domain.ErrTileNotFound)

	assert.Zero(t, f.total.Load())
}

func TestTileServiceErrors(t *testing.T) {
	f := newFakeFetcher(func(_ string, _ int) output.FetchResult {
		return output.Fatal(404, errors.New("not found"))
	})
	svc, _, _ := newTestTileService(t, f)
	ctx := context.Background()

	_, err := svc.GetTile(ctx, "osm", 2, 1, 1, true)
	assert.ErrorIs(t, err, domain.ErrTileUnavailable)

	_, err = svc.GetTile(ctx, "missing", 2, 1, 1, true)
	assert.ErrorIs(t, err, domain.ErrBasemapNotFound)

	_, err = svc.GetTile(ctx, "osm", 2, 4, 1, true)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = svc.GetTile(ctx, "osm", 23, 0, 0, true)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestTileServiceConcurrentRequestsShareDownload(t *testing.T) {
	f := newFakeFetcher(nil)
	f.delay = 20 * time.Millisecond
	svc, _, _ := newTestTileService(t, f)

	var wg sync.WaitGroup
	results := make([][]byte, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], _ = svc.GetTile(context.Background(), "osm", 12, 100, 200, i%2 == 0)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), f.total.Load())
	for _, r := range results {
		assert.Equal(t, results[0], r)
	}
}

func TestTileServicePrefetchAndCancel(t *testing.T) {
	f := newFakeFetcher(nil)
	f.gate = make(chan struct{})
	f.started = make(chan string, 16)
	svc, stores, manager := newTestTileService(t, f)
	ctx := context.Background()

	require.NoError(t, stores.store("osm").Put(ctx, 5, 0, 0, []byte("have")))
	keys := []domain.TileKey{
		domain.NewTileKey("osm", 5, 0, 0),
		domain.NewTileKey("osm", 5, 1, 0),
		domain.NewTileKey("osm", 5, 2, 0),
		domain.NewTileKey("topo", 5, 2, 0),
	}
	n, err := svc.Prefetch(ctx, keys...)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.Eventually(t, func() bool {
		s := manager.Stats()
		return s.Queued+s.InFlight == 2
	}, time.Second, time.Millisecond)

	cancelled := svc.CancelPrefetch(keys...)
	assert.Equal(t, 2, cancelled)
	close(f.gate)
}

func TestTileServiceCacheMaintenance(t *testing.T) {
	f := newFakeFetcher(nil)
	svc, stores, _ := newTestTileService(t, f)
	ctx := context.Background()

	_, err := svc.GetTile(ctx, "osm", 1, 0, 0, true)
	require.NoError(t, err)
	require.NoError(t, stores.store("osm").Put(ctx, 1, 1, 0, []byte("abc")))

	info, err := svc.CacheInfo(ctx, "osm")
	require.NoError(t, err)
	assert.Equal(t, int64(2), info.TileCount)

	n, err := svc.ClearCache(ctx, "osm")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// The memory entry went with the store, so the tile is fetched again.
	_, err = svc.GetTile(ctx, "osm", 1, 0, 0, true)
	require.NoError(t, err)
	assert.Equal(t, int64(2), f.total.Load())

	_, err = svc.CacheInfo(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrBasemapNotFound)

	_, err = svc.EvictOlderThan(ctx, "osm", 0)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = svc.EvictOlderThan(ctx, "osm", time.Hour)
	assert.NoError(t, err)
}
