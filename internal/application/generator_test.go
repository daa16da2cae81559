package application

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/SandiRizqi/terestria-sub000/internal/domain"
	"github.com/SandiRizqi/terestria-sub000/internal/ports/output"
)

type progressRecorder struct {
	mu       sync.Mutex
	values   []float64
	messages []string
}

func (r *progressRecorder) Func() domain.ProgressFunc {
	return func(fraction float64, message string) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.values = append(r.values, fraction)
		r.messages = append(r.messages, message)
	}
}

func (r *progressRecorder) Last() (float64, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.values) == 0 {
		return 0, ""
	}
	return r.values[len(r.values)-1], r.messages[len(r.messages)-1]
}

func (r *progressRecorder) Values() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]float64(nil), r.values...)
}

func testRaster(w, h int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	return img
}

func intPtr(v int) *int { return &v }

func newTestGenerator(r output.PDFRasterizer, g output.GeoreferenceExtractor, stores output.TileStoreProvider, cfg GeneratorConfig) *TileGenerator {
	return NewTileGenerator(r, g, stores, cfg, &output.NoOpMetrics{}, zap.NewNop())
}

func TestGeneratorCoversExactTileRange(t *testing.T) {
	bounds := domain.GeoBounds{MinLat: -1, MaxLat: 1, MinLon: -1, MaxLon: 1}
	stores := newMemStoreProvider()
	gen := newTestGenerator(&fakeRasterizer{img: testRaster(512, 512)}, &fakeGeoref{}, stores, GeneratorConfig{})

	rec := &progressRecorder{}
	res, err := gen.Generate(context.Background(), GenerateRequest{
		BasemapID: "plan",
		PDF:       []byte("%PDF-1.7"),
		Bounds:    &bounds,
		MinZoom:   intPtr(2),
		MaxZoom:   intPtr(2),
	}, rec.Func())
	require.NoError(t, err)

	rng := domain.TileRangeForBounds(bounds, 2)
	var want []string
	rng.Each(func(x, y int) bool {
		want = append(want, domain.StoreKey(2, x, y))
		return true
	})
	got := stores.store("plan").Keys()
	sort.Strings(want)
	sort.Strings(got)

	assert.Equal(t, want, got)
	assert.Equal(t, rng.Count(), res.TilesWritten)
	assert.Equal(t, 2, res.Plan.MinZoom)
	assert.Equal(t, 2, res.Plan.MaxZoom)
}

func TestGeneratorTilesAre256PNG(t *testing.T) {
	bounds := domain.GeoBounds{MinLat: 10, MaxLat: 10.5, MinLon: 20, MaxLon: 20.7}
	stores := newMemStoreProvider()
	gen := newTestGenerator(&fakeRasterizer{img: testRaster(900, 700)}, &fakeGeoref{bounds: bounds}, stores,
		GeneratorConfig{ZoomLevelsBelow: 1, ZoomLevelsAbove: 0})

	res, err := gen.Generate(context.Background(), GenerateRequest{BasemapID: "topo", PDF: []byte("%PDF")}, nil)
	require.NoError(t, err)
	require.Positive(t, res.TilesWritten)
	assert.Equal(t, res.Plan.BaseZoom-1, res.Plan.MinZoom)
	assert.Equal(t, res.Plan.BaseZoom, res.Plan.MaxZoom)

	s := stores.store("topo")
	for _, key := range s.Keys() {
		s.mu.Lock()
		data := s.tiles[key]
		s.mu.Unlock()

		img, err := png.Decode(bytes.NewReader(data))
		require.NoError(t, err, key)
		assert.Equal(t, image.Rect(0, 0, 256, 256), img.Bounds(), key)
	}
	assert.Equal(t, domain.TileCount(bounds, res.Plan.MinZoom, res.Plan.MaxZoom), int64(len(s.Keys())))
}

func TestGeneratorProgress(t *testing.T) {
	bounds := domain.GeoBounds{MinLat: -1, MaxLat: 1, MinLon: -1, MaxLon: 1}
	gen := newTestGenerator(&fakeRasterizer{img: testRaster(256, 256)}, &fakeGeoref{bounds: bounds},
		newMemStoreProvider(), GeneratorConfig{WriteBatchSize: 3})

	rec := &progressRecorder{}
	_, err := gen.Generate(context.Background(), GenerateRequest{
		BasemapID: "p",
		PDF:       []byte("%PDF"),
		MinZoom:   intPtr(3),
		MaxZoom:   intPtr(5),
	}, rec.Func())
	require.NoError(t, err)

	values := rec.Values()
	require.NotEmpty(t, values)
	for i := 1; i < len(values); i++ {
		assert.GreaterOrEqual(t, values[i], values[i-1], "progress went backwards at %d: %v", i, values)
	}
	last, _ := rec.Last()
	assert.Equal(t, 1.0, last)
	assert.Contains(t, values, 0.3)
}

func TestGeneratorFailures(t *testing.T) {
	bounds := domain.GeoBounds{MinLat: -1, MaxLat: 1, MinLon: -1, MaxLon: 1}
	diskFull := errors.New("disk full")

	tests := []struct {
		name      string
		raster    *fakeRasterizer
		georef    *fakeGeoref
		putErr    error
		req       GenerateRequest
		wantErr   error
		wantStage string
	}{
		{
			name:      "no georeferencing and no manual bounds",
			raster:    &fakeRasterizer{img: testRaster(64, 64)},
			georef:    &fakeGeoref{err: domain.ErrNoGeoreference},
			req:       GenerateRequest{BasemapID: "a", PDF: []byte("%PDF")},
			wantErr:   domain.ErrNoGeoreference,
			wantStage: "georeference",
		},
		{
			name:      "rasterizer fails",
			raster:    &fakeRasterizer{err: errors.New("corrupt page")},
			georef:    &fakeGeoref{bounds: bounds},
			req:       GenerateRequest{BasemapID: "b", PDF: []byte("%PDF")},
			wantErr:   domain.ErrRasterize,
			wantStage: "rasterize",
		},
		{
			name:      "empty pdf",
			raster:    &fakeRasterizer{img: testRaster(64, 64)},
			georef:    &fakeGeoref{bounds: bounds},
			req:       GenerateRequest{BasemapID: "c"},
			wantErr:   domain.ErrInvalidInput,
			wantStage: "read",
		},
		{
			name:      "write failure aborts",
			raster:    &fakeRasterizer{img: testRaster(64, 64)},
			georef:    &fakeGeoref{bounds: bounds},
			putErr:    diskFull,
			req:       GenerateRequest{BasemapID: "d", PDF: []byte("%PDF"), MinZoom: intPtr(2), MaxZoom: intPtr(2)},
			wantErr:   diskFull,
			wantStage: "write",
		},
		{
			name:   "inverted zoom range",
			raster: &fakeRasterizer{img: testRaster(64, 64)},
			georef: &fakeGeoref{bounds: bounds},
			req: GenerateRequest{BasemapID: "e", PDF: []byte("%PDF"),
				MinZoom: intPtr(6), MaxZoom: intPtr(2)},
			wantErr:   domain.ErrInvalidInput,
			wantStage: "plan",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stores := newMemStoreProvider()
			stores.putErr = tt.putErr
			gen := newTestGenerator(tt.raster, tt.georef, stores, GeneratorConfig{})

			rec := &progressRecorder{}
			res, err := gen.Generate(context.Background(), tt.req, rec.Func())

			require.Error(t, err)
			assert.Nil(t, res)
			assert.ErrorIs(t, err, tt.wantErr)

			var gerr *domain.GenerateError
			require.ErrorAs(t, err, &gerr)
			assert.Equal(t, tt.wantStage, gerr.Stage)

			last, msg := rec.Last()
			assert.Less(t, last, 0.0)
			assert.NotEmpty(t, msg)
		})
	}
}

func TestGeneratorManualBoundsSkipExtraction(t *testing.T) {
	bounds := domain.GeoBounds{MinLat: 0, MaxLat: 0.5, MinLon: 0, MaxLon: 0.5}
	georef := &fakeGeoref{err: domain.ErrNoGeoreference}
	raster := &fakeRasterizer{img: testRaster(128, 128)}
	gen := newTestGenerator(raster, georef, newMemStoreProvider(), GeneratorConfig{DPI: 150})

	res, err := gen.Generate(context.Background(), GenerateRequest{
		BasemapID: "manual", PDF: []byte("%PDF"), Bounds: &bounds,
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, bounds, res.Bounds)
	assert.Zero(t, georef.calls.Load())
	assert.Equal(t, 150, raster.lastDPI)
}

func TestGeneratorCancelled(t *testing.T) {
	bounds := domain.GeoBounds{MinLat: -1, MaxLat: 1, MinLon: -1, MaxLon: 1}
	gen := newTestGenerator(&fakeRasterizer{img: testRaster(64, 64)}, &fakeGeoref{bounds: bounds},
		newMemStoreProvider(), GeneratorConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := gen.Generate(ctx, GenerateRequest{BasemapID: "x", PDF: []byte("%PDF"), MinZoom: intPtr(1), MaxZoom: intPtr(3)}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
