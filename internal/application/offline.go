package application

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"

	"go.uber.org/zap"

	"github.com/SandiRizqi/terestria-sub000/internal/domain"
	"github.com/SandiRizqi/terestria-sub000/internal/ports/output"
)

// Offline download defaults.
const (
	DefaultOfflineBatchSize = 10
	DefaultEstimateSamples  = 5
	DefaultAverageTileBytes = 15_000
)

// TileDownloader is the part of DownloadManager the offline downloader needs.
type TileDownloader interface {
	Download(ctx context.Context, req DownloadRequest) ([]byte, bool)
}

// OfflineConfig configures an OfflineDownloader.
type OfflineConfig struct {
	BatchSize        int
	EstimateSamples  int
	AverageTileBytes int64
}

func (c *OfflineConfig) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultOfflineBatchSize
	}
	if c.EstimateSamples <= 0 {
		c.EstimateSamples = DefaultEstimateSamples
	}
	if c.AverageTileBytes <= 0 {
		c.AverageTileBytes = DefaultAverageTileBytes
	}
}

// OfflineAreaRequest describes an area to make available offline.
type OfflineAreaRequest struct {
	BasemapID   string           `json:"basemap_id"`
	URLTemplate string           `json:"url_template"`
	Bounds      domain.GeoBounds `json:"bounds"`
	MinZoom     int              `json:"min_zoom"`
	MaxZoom     int              `json:"max_zoom"`
}

// Validate checks the request.
func (r OfflineAreaRequest) Validate() error {
	if err := domain.ValidateBasemapID(r.BasemapID); err != nil {
		return err
	}
	if err := domain.ValidateURLTemplate(r.URLTemplate); err != nil {
		return err
	}
	if err := r.Bounds.Validate(); err != nil {
		return err
	}
	return domain.ValidateZoomRange(r.MinZoom, r.MaxZoom)
}

// OfflineResult counts what an offline download did.
type OfflineResult struct {
	Total      int64 `json:"total"`
	Cached     int64 `json:"cached"`
	Downloaded int64 `json:"downloaded"`
	Failed     int64 `json:"failed"`
	Cancelled  bool  `json:"cancelled"`
}

// Processed is the number of tiles accounted for so far.
func (r OfflineResult) Processed() int64 {
	return r.Cached + r.Downloaded + r.Failed
}

// SizeEstimate is an advisory download size.
type SizeEstimate struct {
	TileCount        int64 `json:"tile_count"`
	AverageTileBytes int64 `json:"average_tile_bytes"`
	TotalBytes       int64 `json:"total_bytes"`
	Sampled          int   `json:"sampled"`
}

// OfflineDownloader fills a basemap's tile store for an area and zoom range.
type OfflineDownloader struct {
	stores     output.TileStoreProvider
	downloader TileDownloader
	cfg        OfflineConfig
	logger     *zap.Logger
}

// NewOfflineDownloader creates an offline downloader.
func NewOfflineDownloader(
	stores output.TileStoreProvider,
	downloader TileDownloader,
	cfg OfflineConfig,
	logger *zap.Logger,
) *OfflineDownloader {
	cfg.applyDefaults()
	return &OfflineDownloader{
		stores:     stores,
		downloader: downloader,
		cfg:        cfg,
		logger:     logger.With(zap.String("component", "offline")),
	}
}

// Download walks every tile of the request, skipping tiles already stored
// and downloading the rest in batches. Cancelling ctx takes effect between
// batches; tiles written before that stay cached. A tile that cannot be
// downloaded or written counts as failed without stopping the walk.
func (o *OfflineDownloader) Download(ctx context.Context, req OfflineAreaRequest, progress domain.ProgressFunc) (OfflineResult, error) {
	var res OfflineResult
	if err := req.Validate(); err != nil {
		progress.Report(domain.ProgressFailed, err.Error())
		return res, err
	}
	store, err := o.stores.Store(req.BasemapID)
	if err != nil {
		progress.Report(domain.ProgressFailed, err.Error())
		return res, err
	}

	res.Total = domain.TileCount(req.Bounds, req.MinZoom, req.MaxZoom)
	o.logger.Info("starting offline download",
		zap.String("basemap_id", req.BasemapID),
		zap.String("bounds", req.Bounds.String()),
		zap.Int("min_zoom", req.MinZoom),
		zap.Int("max_zoom", req.MaxZoom),
		zap.Int64("tiles", res.Total))
	progress.Report(0, fmt.Sprintf("Downloading %d tiles", res.Total))

	report := func(z int) {
		progress.Report(float64(res.Processed())/float64(max(res.Total, 1)),
			fmt.Sprintf("Zoom %d: %d of %d tiles", z, res.Processed(), res.Total))
	}

	batch := make([]domain.TileKey, 0, o.cfg.BatchSize)
	for z := req.MinZoom; z <= req.MaxZoom; z++ {
		if ctx.Err() != nil {
			return o.cancelled(req, res, progress)
		}

		var walkErr error
		domain.TileRangeForBounds(req.Bounds, z).Each(func(x, y int) bool {
			hit, err := store.Has(ctx, z, x, y)
			if err != nil {
				walkErr = err
				return false
			}
			if hit {
				res.Cached++
				return true
			}
			batch = append(batch, domain.NewTileKey(req.BasemapID, z, x, y))
			if len(batch) < o.cfg.BatchSize {
				return true
			}
			o.downloadBatch(ctx, store, req.URLTemplate, batch, &res)
			batch = batch[:0]
			report(z)
			return ctx.Err() == nil
		})
		if walkErr != nil && ctx.Err() == nil {
			o.logger.Error("offline download aborted",
				zap.String("basemap_id", req.BasemapID), zap.Error(walkErr))
			progress.Report(domain.ProgressFailed, walkErr.Error())
			return res, walkErr
		}
		if ctx.Err() != nil {
			return o.cancelled(req, res, progress)
		}
		if len(batch) > 0 {
			o.downloadBatch(ctx, store, req.URLTemplate, batch, &res)
			batch = batch[:0]
		}
		report(z)
	}

	o.logger.Info("offline download finished",
		zap.String("basemap_id", req.BasemapID),
		zap.Int64("cached", res.Cached),
		zap.Int64("downloaded", res.Downloaded),
		zap.Int64("failed", res.Failed))
	progress.Report(domain.ProgressDone, fmt.Sprintf("Done: %d downloaded, %d already cached, %d failed",
		res.Downloaded, res.Cached, res.Failed))
	return res, nil
}

func (o *OfflineDownloader) cancelled(req OfflineAreaRequest, res OfflineResult, progress domain.ProgressFunc) (OfflineResult, error) {
	res.Cancelled = true
	o.logger.Info("offline download cancelled",
		zap.String("basemap_id", req.BasemapID),
		zap.Int64("processed", res.Processed()),
		zap.Int64("total", res.Total))
	progress.Report(domain.ProgressFailed, fmt.Sprintf("Cancelled after %d of %d tiles", res.Processed(), res.Total))
	return res, fmt.Errorf("offline download: %w", domain.ErrCancelled)
}

// downloadBatch fetches keys concurrently and waits for all of them. The
// batch runs to completion even if ctx is cancelled meanwhile.
func (o *OfflineDownloader) downloadBatch(ctx context.Context, store output.TileStore, template string, keys []domain.TileKey, res *OfflineResult) {
	batchCtx := context.WithoutCancel(ctx)

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		downloaded int64
		failed     int64
	)
	for _, key := range keys {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok := o.downloadOne(batchCtx, store, template, key)
			mu.Lock()
			defer mu.Unlock()
			if ok {
				downloaded++
			} else {
				failed++
			}
		}()
	}
	wg.Wait()

	res.Downloaded += downloaded
	res.Failed += failed
}

func (o *OfflineDownloader) downloadOne(ctx context.Context, store output.TileStore, template string, key domain.TileKey) bool {
	data, ok := o.downloader.Download(ctx, DownloadRequest{
		Key: key,
		URL: domain.ExpandURLTemplate(template, key.Z, key.X, key.Y),
	})
	if !ok {
		return false
	}
	if err := store.Put(ctx, key.Z, key.X, key.Y, data); err != nil {
		o.logger.Warn("failed to store downloaded tile", zap.String("tile", key.String()), zap.Error(err))
		return false
	}
	return true
}

// EstimateSize samples random tiles at the minimum zoom and extrapolates
// their average size to the whole request. When no sample downloads, the
// configured default average is used.
func (o *OfflineDownloader) EstimateSize(ctx context.Context, req OfflineAreaRequest) (SizeEstimate, error) {
	if err := req.Validate(); err != nil {
		return SizeEstimate{}, err
	}

	est := SizeEstimate{TileCount: domain.TileCount(req.Bounds, req.MinZoom, req.MaxZoom)}
	rng := domain.TileRangeForBounds(req.Bounds, req.MinZoom)

	var sum int64
	for i := 0; i < o.cfg.EstimateSamples; i++ {
		if err := ctx.Err(); err != nil {
			return SizeEstimate{}, errors.Join(domain.ErrCancelled, err)
		}
		x := rng.MinX + rand.IntN(rng.Cols())
		y := rng.MinY + rand.IntN(rng.Rows())
		data, ok := o.downloader.Download(ctx, DownloadRequest{
			Key: domain.NewTileKey(req.BasemapID, req.MinZoom, x, y),
			URL: domain.ExpandURLTemplate(req.URLTemplate, req.MinZoom, x, y),
		})
		if !ok {
			continue
		}
		sum += int64(len(data))
		est.Sampled++
	}

	est.AverageTileBytes = o.cfg.AverageTileBytes
	if est.Sampled > 0 {
		est.AverageTileBytes = sum / int64(est.Sampled)
	}
	est.TotalBytes = est.AverageTileBytes * est.TileCount
	return est, nil
}
