package domain

import (
	"fmt"
	"math"

	"github.com/paulmach/orb/maptile"
)

const (
	// TileSize is the edge length of a tile in pixels.
	TileSize = 256
	// MaxZoom caps zoom levels accepted anywhere in the system.
	MaxZoom = 22
	// MaxMercatorLat is the latitude limit of the Web Mercator square.
	MaxMercatorLat = 85.05112877980659
)

// ValidateZoom checks that z is within [0, MaxZoom].
func ValidateZoom(z int) error {
	if z < 0 || z > MaxZoom {
		return &ValidationError{
			Field:      "zoom",
			Value:      z,
			Constraint: fmt.Sprintf("[0, %d]", MaxZoom),
			Message:    "zoom level out of range",
		}
	}
	return nil
}

// ValidateZoomRange checks both ends and their order.
func ValidateZoomRange(minZoom, maxZoom int) error {
	if err := ValidateZoom(minZoom); err != nil {
		return err
	}
	if err := ValidateZoom(maxZoom); err != nil {
		return err
	}
	if minZoom > maxZoom {
		return &ValidationError{
			Field:      "min_zoom",
			Value:      minZoom,
			Constraint: "<= max_zoom",
			Message:    "minimum zoom exceeds maximum zoom",
		}
	}
	return nil
}

// LonToTileX returns the tile column containing lon at zoom z.
func LonToTileX(lon float64, z int) int {
	n := math.Exp2(float64(z))
	return clampIndex(int(math.Floor((lon+180)/360*n)), z)
}

// LatToTileY returns the tile row containing lat at zoom z. Rows grow southward.
func LatToTileY(lat float64, z int) int {
	lat = math.Max(-MaxMercatorLat, math.Min(MaxMercatorLat, lat))
	latRad := lat * math.Pi / 180
	n := math.Exp2(float64(z))
	y := (1 - math.Log(math.Tan(latRad)+1/math.Cos(latRad))/math.Pi) / 2 * n
	return clampIndex(int(math.Floor(y)), z)
}

func clampIndex(v, z int) int {
	if v < 0 {
		return 0
	}
	if last := (1 << z) - 1; v > last {
		return last
	}
	return v
}

// TileRange is an inclusive rectangle of tiles at one zoom level.
type TileRange struct {
	Z    int `json:"z"`
	MinX int `json:"min_x"`
	MaxX int `json:"max_x"`
	MinY int `json:"min_y"`
	MaxY int `json:"max_y"`
}

// Cols returns the number of tile columns.
func (r TileRange) Cols() int {
	return r.MaxX - r.MinX + 1
}

// Rows returns the number of tile rows.
func (r TileRange) Rows() int {
	return r.MaxY - r.MinY + 1
}

// Count returns the number of tiles in the range.
func (r TileRange) Count() int64 {
	return int64(r.Cols()) * int64(r.Rows())
}

// Contains reports whether (x, y) lies in the range.
func (r TileRange) Contains(x, y int) bool {
	return x >= r.MinX && x <= r.MaxX && y >= r.MinY && y <= r.MaxY
}

// Each calls fn for every tile in row-major order until fn returns false.
func (r TileRange) Each(fn func(x, y int) bool) {
	for y := r.MinY; y <= r.MaxY; y++ {
		for x := r.MinX; x <= r.MaxX; x++ {
			if !fn(x, y) {
				return
			}
		}
	}
}

// Bounds returns the geographic area covered by the tiles of the range.
func (r TileRange) Bounds() GeoBounds {
	nw := TileBounds(r.Z, r.MinX, r.MinY)
	se := TileBounds(r.Z, r.MaxX, r.MaxY)
	return nw.Union(se)
}

// TileRangeForBounds returns the tiles covering b at zoom z.
func TileRangeForBounds(b GeoBounds, z int) TileRange {
	xs := [2]int{LonToTileX(b.MinLon, z), LonToTileX(b.MaxLon, z)}
	// North maps to the smaller row.
	ys := [2]int{LatToTileY(b.MaxLat, z), LatToTileY(b.MinLat, z)}
	return TileRange{
		Z:    z,
		MinX: min(xs[0], xs[1]),
		MaxX: max(xs[0], xs[1]),
		MinY: min(ys[0], ys[1]),
		MaxY: max(ys[0], ys[1]),
	}
}

// TileCount sums the tiles covering b over [minZoom, maxZoom].
func TileCount(b GeoBounds, minZoom, maxZoom int) int64 {
	var total int64
	for z := minZoom; z <= maxZoom; z++ {
		total += TileRangeForBounds(b, z).Count()
	}
	return total
}

// TileBounds returns the geographic corners of tile (z, x, y).
func TileBounds(z, x, y int) GeoBounds {
	t := maptile.New(uint32(x), uint32(y), maptile.Zoom(z))
	return BoundsFromOrb(t.Bound())
}
