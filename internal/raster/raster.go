// Package raster resamples, slices and encodes tile images.
package raster

import (
	"bytes"
	"image"
	"image/png"
	"math"

	"golang.org/x/image/draw"

	"github.com/SandiRizqi/terestria-sub000/internal/domain"
)

// areaAverage is a box filter. x/image/draw widens kernels by the
// downscale ratio, so each output pixel averages its whole footprint.
var areaAverage = &draw.Kernel{
	Support: 0.5,
	At:      func(float64) float64 { return 1 },
}

// Resample returns src scaled by factor as a new image.
func Resample(src image.Image, factor float64) *image.NRGBA {
	sb := src.Bounds()
	w, h := domain.ScaledSize(sb.Dx(), sb.Dy(), factor)
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))

	switch {
	case w == sb.Dx() && h == sb.Dy():
		draw.Draw(dst, dst.Bounds(), src, sb.Min, draw.Src)
	case factor < 1:
		areaAverage.Scale(dst, dst.Bounds(), src, sb, draw.Src, nil)
	default:
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, sb, draw.Src, nil)
	}
	return dst
}

// Grid places the tiles of a range onto an image covering the range's bounds.
type Grid struct {
	Range  domain.TileRange
	Width  int // image width in pixels
	Height int // image height in pixels
}

// Origin returns the top-left pixel of tile (x, y). The step per tile is
// Width/cols and Height/rows, which need not be a whole number of tiles.
func (g Grid) Origin(x, y int) image.Point {
	colStep := float64(g.Width) / float64(g.Range.Cols())
	rowStep := float64(g.Height) / float64(g.Range.Rows())
	return image.Pt(
		int(math.Floor(float64(x-g.Range.MinX)*colStep)),
		int(math.Floor(float64(y-g.Range.MinY)*rowStep)),
	)
}

// CropTile copies the TileSize square at origin out of src. Parts of the
// window beyond src stay transparent, so the result is always full size.
func CropTile(src image.Image, origin image.Point) *image.NRGBA {
	tile := image.NewNRGBA(image.Rect(0, 0, domain.TileSize, domain.TileSize))

	sb := src.Bounds()
	topLeft := sb.Min.Add(origin)
	window := image.Rectangle{Min: topLeft, Max: topLeft.Add(image.Pt(domain.TileSize, domain.TileSize))}
	visible := window.Intersect(sb)
	if visible.Empty() {
		return tile
	}
	draw.Draw(tile, visible.Sub(window.Min), src, visible.Min, draw.Src)
	return tile
}

var encoder = png.Encoder{CompressionLevel: png.BestSpeed}

// EncodePNG encodes img as PNG.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := encoder.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
