package raster

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SandiRizqi/terestria-sub000/internal/domain"
)

func solid(w, h int, c color.Color) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestResampleSizes(t *testing.T) {
	src := solid(400, 200, color.NRGBA{R: 255, A: 255})

	tests := []struct {
		name   string
		factor float64
		wantW  int
		wantH  int
	}{
		{"identity", 1, 400, 200},
		{"half", 0.5, 200, 100},
		{"quarter", 0.25, 100, 50},
		{"double", 2, 800, 400},
		{"tiny floor", 0.001, 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Resample(src, tt.factor)
			assert.Equal(t, tt.wantW, out.Bounds().Dx())
			assert.Equal(t, tt.wantH, out.Bounds().Dy())
		})
	}
}

func TestResampleDownscaleAverages(t *testing.T) {
	// Alternating black and white columns average to mid grey.
	src := image.NewNRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			v := uint8(0)
			if x%2 == 0 {
				v = 255
			}
			src.Set(x, y, color.NRGBA{R: v, G: v, B: v, A: 255})
		}
	}

	out := Resample(src, 0.25)
	c := out.NRGBAAt(8, 8)
	assert.InDelta(t, 127, int(c.R), 20, "got %v", c)
	assert.Equal(t, uint8(255), c.A)
}

func TestGridOrigin(t *testing.T) {
	g := Grid{
		Range:  domain.TileRange{Z: 5, MinX: 10, MaxX: 12, MinY: 4, MaxY: 5},
		Width:  700,
		Height: 300,
	}

	assert.Equal(t, image.Pt(0, 0), g.Origin(10, 4))
	// 700/3 columns and 300/2 rows per tile.
	assert.Equal(t, image.Pt(233, 0), g.Origin(11, 4))
	assert.Equal(t, image.Pt(466, 150), g.Origin(12, 5))
}

func TestCropTilePadsEdge(t *testing.T) {
	red := color.NRGBA{R: 255, A: 255}
	src := solid(300, 300, red)

	tile := CropTile(src, image.Pt(200, 200))

	require.Equal(t, domain.TileSize, tile.Bounds().Dx())
	require.Equal(t, domain.TileSize, tile.Bounds().Dy())
	assert.Equal(t, red, tile.NRGBAAt(50, 50))
	assert.Equal(t, color.NRGBA{}, tile.NRGBAAt(150, 150))
	assert.Equal(t, color.NRGBA{}, tile.NRGBAAt(255, 0))
}

func TestCropTileOutsideIsBlank(t *testing.T) {
	src := solid(100, 100, color.NRGBA{G: 255, A: 255})

	tile := CropTile(src, image.Pt(500, 500))

	assert.Equal(t, domain.TileSize, tile.Bounds().Dx())
	assert.Equal(t, color.NRGBA{}, tile.NRGBAAt(0, 0))
}

func TestEncodePNG(t *testing.T) {
	data, err := EncodePNG(solid(256, 256, color.NRGBA{B: 255, A: 255}))
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 256, 256), img.Bounds())
}
