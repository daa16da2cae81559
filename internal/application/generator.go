package application

import (
	"context"
	"errors"
	"fmt"
	"image"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/SandiRizqi/terestria-sub000/internal/domain"
	"github.com/SandiRizqi/terestria-sub000/internal/ports/output"
	"github.com/SandiRizqi/terestria-sub000/internal/raster"
)

// Generator defaults.
const (
	DefaultDPI             = 200
	DefaultWriteBatchSize  = 50
	DefaultZoomLevelsBelow = 4
	DefaultZoomLevelsAbove = 1
	DefaultMaxScaledPixels = 256 << 20
	DefaultMaxTiles        = 250_000
	DefaultResampleWorkers = 2
)

// Progress milestones of a PDF import.
const (
	progressGeoreference = 0.05
	progressRasterize    = 0.1
	progressTiles        = 0.3
	progressTilesSpan    = 0.65
)

// GeneratorConfig configures a TileGenerator.
type GeneratorConfig struct {
	DPI             int
	WriteBatchSize  int
	ZoomLevelsBelow int
	ZoomLevelsAbove int
	MaxScaledPixels int64
	MaxTiles        int64
	ResampleWorkers int
}

func (c *GeneratorConfig) applyDefaults() {
	if c.DPI <= 0 {
		c.DPI = DefaultDPI
	}
	if c.WriteBatchSize <= 0 {
		c.WriteBatchSize = DefaultWriteBatchSize
	}
	if c.ZoomLevelsBelow < 0 {
		c.ZoomLevelsBelow = DefaultZoomLevelsBelow
	}
	if c.ZoomLevelsAbove < 0 {
		c.ZoomLevelsAbove = DefaultZoomLevelsAbove
	}
	if c.MaxScaledPixels <= 0 {
		c.MaxScaledPixels = DefaultMaxScaledPixels
	}
	if c.MaxTiles <= 0 {
		c.MaxTiles = DefaultMaxTiles
	}
	if c.ResampleWorkers <= 0 {
		c.ResampleWorkers = DefaultResampleWorkers
	}
}

// GenerateRequest describes one PDF import.
type GenerateRequest struct {
	BasemapID string
	PDF       []byte
	Bounds    *domain.GeoBounds // overrides embedded georeferencing
	MinZoom   *int
	MaxZoom   *int
}

// GenerateResult summarizes a finished import.
type GenerateResult struct {
	Bounds       domain.GeoBounds
	Plan         domain.ZoomPlan
	TilesWritten int64
}

// TileGenerator turns a georeferenced PDF into a tile pyramid in the tile store.
type TileGenerator struct {
	rasterizer output.PDFRasterizer
	georef     output.GeoreferenceExtractor
	stores     output.TileStoreProvider
	cfg        GeneratorConfig
	metrics    output.MetricsCollector
	logger     *zap.Logger

	// workers bounds concurrent resamples across all imports.
	workers chan struct{}
}

// NewTileGenerator creates a tile generator.
func NewTileGenerator(
	rasterizer output.PDFRasterizer,
	georef output.GeoreferenceExtractor,
	stores output.TileStoreProvider,
	cfg GeneratorConfig,
	metrics output.MetricsCollector,
	logger *zap.Logger,
) *TileGenerator {
	cfg.applyDefaults()
	return &TileGenerator{
		rasterizer: rasterizer,
		georef:     georef,
		stores:     stores,
		cfg:        cfg,
		metrics:    metrics,
		logger:     logger.With(zap.String("component", "generator")),
		workers:    make(chan struct{}, cfg.ResampleWorkers),
	}
}

// Generate runs the whole import. Progress ends with 1.0 on success or a
// negative value carrying the error message. A failed import may leave
// tiles behind; the caller decides whether to clear them.
func (g *TileGenerator) Generate(ctx context.Context, req GenerateRequest, progress domain.ProgressFunc) (*GenerateResult, error) {
	res, err := g.generate(ctx, req, progress)
	if err != nil {
		g.logger.Warn("tile generation failed", zap.String("basemap_id", req.BasemapID), zap.Error(err))
		progress.Report(domain.ProgressFailed, err.Error())
		return nil, err
	}

	g.logger.Info("tile generation finished",
		zap.String("basemap_id", req.BasemapID),
		zap.Int64("tiles", res.TilesWritten),
		zap.Int("min_zoom", res.Plan.MinZoom),
		zap.Int("max_zoom", res.Plan.MaxZoom))
	progress.Report(domain.ProgressDone,
		fmt.Sprintf("Generated %d tiles for zoom %d-%d", res.TilesWritten, res.Plan.MinZoom, res.Plan.MaxZoom))
	return res, nil
}

func (g *TileGenerator) generate(ctx context.Context, req GenerateRequest, progress domain.ProgressFunc) (*GenerateResult, error) {
	fail := func(stage string, err error) error {
		return &domain.GenerateError{BasemapID: req.BasemapID, Stage: stage, Err: err}
	}

	store, err := g.stores.Store(req.BasemapID)
	if err != nil {
		return nil, fail("open", err)
	}
	if len(req.PDF) == 0 {
		return nil, fail("read", fmt.Errorf("empty pdf: %w", domain.ErrInvalidInput))
	}

	progress.Report(progressGeoreference, "Reading georeferencing")
	bounds, err := g.resolveBounds(ctx, req)
	if err != nil {
		return nil, fail("georeference", err)
	}

	progress.Report(progressRasterize, fmt.Sprintf("Rasterizing PDF at %d DPI", g.cfg.DPI))
	img, err := g.rasterizer.Rasterize(ctx, req.PDF, g.cfg.DPI)
	if err != nil {
		if !errors.Is(err, domain.ErrRasterize) {
			err = fmt.Errorf("%w: %v", domain.ErrRasterize, err)
		}
		return nil, fail("rasterize", err)
	}
	if img.Bounds().Empty() {
		return nil, fail("rasterize", fmt.Errorf("%w: empty page", domain.ErrRasterize))
	}

	plan, err := g.plan(bounds, img, req)
	if err != nil {
		return nil, fail("plan", err)
	}
	total := domain.TileCount(bounds, plan.MinZoom, plan.MaxZoom)
	if total > g.cfg.MaxTiles {
		return nil, fail("plan", &domain.ValidationError{
			Field:      "zoom",
			Value:      total,
			Constraint: fmt.Sprintf("<= %d tiles", g.cfg.MaxTiles),
			Message:    "zoom range produces too many tiles",
		})
	}

	g.logger.Info("generating tiles",
		zap.String("basemap_id", req.BasemapID),
		zap.String("bounds", bounds.String()),
		zap.Int("raster_width", img.Bounds().Dx()),
		zap.Int("raster_height", img.Bounds().Dy()),
		zap.Int("base_zoom", plan.BaseZoom),
		zap.Int64("tiles", total))
	progress.Report(progressTiles,
		fmt.Sprintf("Generating %d tiles for zoom %d-%d", total, plan.MinZoom, plan.MaxZoom))

	var written int64
	for z := plan.MinZoom; z <= plan.MaxZoom; z++ {
		if err := ctx.Err(); err != nil {
			return nil, fail("resample", err)
		}
		scaled, err := g.resample(ctx, img, plan.ScaleFactor(z))
		if err != nil {
			return nil, fail("resample", err)
		}

		grid := raster.Grid{
			Range:  domain.TileRangeForBounds(bounds, z),
			Width:  scaled.Bounds().Dx(),
			Height: scaled.Bounds().Dy(),
		}
		err = g.writeZoom(ctx, store, scaled, grid, func(n int) {
			written += int64(n)
			g.metrics.AddTilesGenerated(req.BasemapID, n)
			progress.Report(progressTiles+progressTilesSpan*float64(written)/float64(total),
				fmt.Sprintf("Zoom %d: %d of %d tiles", z, written, total))
		})
		if err != nil {
			return nil, fail("write", err)
		}
	}

	return &GenerateResult{Bounds: bounds, Plan: plan, TilesWritten: written}, nil
}

func (g *TileGenerator) resolveBounds(ctx context.Context, req GenerateRequest) (domain.GeoBounds, error) {
	if req.Bounds != nil {
		if err := req.Bounds.Validate(); err != nil {
			return domain.GeoBounds{}, err
		}
		return *req.Bounds, nil
	}

	b, err := g.georef.Extract(ctx, req.PDF)
	if err != nil {
		return domain.GeoBounds{}, err
	}
	if err := b.Validate(); err != nil {
		return domain.GeoBounds{}, fmt.Errorf("%w: %v", domain.ErrNoGeoreference, err)
	}
	return b, nil
}

func (g *TileGenerator) plan(bounds domain.GeoBounds, img image.Image, req GenerateRequest) (domain.ZoomPlan, error) {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	plan := domain.PlanZooms(bounds, w, h, domain.ZoomPlanOptions{
		LevelsBelow:     g.cfg.ZoomLevelsBelow,
		LevelsAbove:     g.cfg.ZoomLevelsAbove,
		MaxScaledPixels: g.cfg.MaxScaledPixels,
	})
	if req.MinZoom != nil {
		plan.MinZoom = *req.MinZoom
	}
	if req.MaxZoom != nil {
		plan.MaxZoom = *req.MaxZoom
	}
	if err := plan.Validate(); err != nil {
		return domain.ZoomPlan{}, err
	}

	if px := domain.ScaledPixels(w, h, plan.ScaleFactor(plan.MaxZoom)); px > g.cfg.MaxScaledPixels {
		return domain.ZoomPlan{}, &domain.ValidationError{
			Field:      "max_zoom",
			Value:      plan.MaxZoom,
			Constraint: fmt.Sprintf("<= %d scaled pixels", g.cfg.MaxScaledPixels),
			Message:    "maximum zoom needs a raster larger than allowed",
		}
	}
	return plan, nil
}

// resample scales img on a worker goroutine so the caller only waits.
func (g *TileGenerator) resample(ctx context.Context, img image.Image, factor float64) (*image.NRGBA, error) {
	select {
	case g.workers <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	out := make(chan *image.NRGBA, 1)
	go func() {
		defer func() { <-g.workers }()
		out <- raster.Resample(img, factor)
	}()

	select {
	case scaled := <-out:
		return scaled, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// writeZoom writes every tile of grid in batches, waiting for each batch.
func (g *TileGenerator) writeZoom(ctx context.Context, store output.TileStore, img *image.NRGBA, grid raster.Grid, onBatch func(n int)) error {
	batch := make([][2]int, 0, g.cfg.WriteBatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		eg, egCtx := errgroup.WithContext(ctx)
		for _, xy := range batch {
			x, y := xy[0], xy[1]
			eg.Go(func() error {
				tile := raster.CropTile(img, grid.Origin(x, y))
				data, err := raster.EncodePNG(tile)
				if err != nil {
					return fmt.Errorf("encoding tile %s: %w", domain.StoreKey(grid.Range.Z, x, y), err)
				}
				return store.Put(egCtx, grid.Range.Z, x, y, data)
			})
		}
		if err := eg.Wait(); err != nil {
			return err
		}
		onBatch(len(batch))
		batch = batch[:0]
		return nil
	}

	var err error
	grid.Range.Each(func(x, y int) bool {
		batch = append(batch, [2]int{x, y})
		if len(batch) == g.cfg.WriteBatchSize {
			err = flush()
		}
		return err == nil
	})
	if err != nil {
		return err
	}
	return flush()
}
