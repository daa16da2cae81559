package domain

import (
	"math/rand"
	"testing"
)

func TestLonToTileX(t *testing.T) {
	tests := []struct {
		name string
		lon  float64
		z    int
		want int
	}{
		{"antimeridian west z0", -180, 0, 0},
		{"greenwich z1", 0, 1, 1},
		{"west of greenwich z1", -0.0001, 1, 0},
		{"east edge clamps", 180, 3, 7},
		{"new york z15", -74.0, 15, 9648},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := LonToTileX(tt.lon, tt.z); got != tt.want {
				t.Errorf("LonToTileX(%v, %d) = %d, want %d", tt.lon, tt.z, got, tt.want)
			}
		})
	}
}

func TestLatToTileY(t *testing.T) {
	tests := []struct {
		name string
		lat  float64
		z    int
		want int
	}{
		{"equator z1", 0, 1, 1},
		{"north of equator z1", 0.0001, 1, 0},
		{"north pole clamps", 90, 4, 0},
		{"south pole clamps", -90, 4, 15},
		{"new york z15", 40.0, 15, 12405},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := LatToTileY(tt.lat, tt.z); got != tt.want {
				t.Errorf("LatToTileY(%v, %d) = %d, want %d", tt.lat, tt.z, got, tt.want)
			}
		})
	}
}

func TestTileRangeForBounds(t *testing.T) {
	b := GeoBounds{MinLat: -1, MaxLat: 1, MinLon: -1, MaxLon: 1}
	r := TileRangeForBounds(b, 2)

	want := TileRange{Z: 2, MinX: 1, MaxX: 2, MinY: 1, MaxY: 2}
	if r != want {
		t.Errorf("TileRangeForBounds() = %+v, want %+v", r, want)
	}
	if r.Count() != 4 {
		t.Errorf("Count() = %d, want 4", r.Count())
	}
}

func TestTileRangeForBoundsSmallArea(t *testing.T) {
	b := GeoBounds{MinLat: 40.0, MaxLat: 40.01, MinLon: -74.01, MaxLon: -74.0}
	r := TileRangeForBounds(b, 15)

	if c := r.Count(); c < 1 || c > 4 {
		t.Errorf("Count() = %d, want between 1 and 4", c)
	}
	if r.MinY > r.MaxY || r.MinX > r.MaxX {
		t.Errorf("range not ordered: %+v", r)
	}
}

func TestTileCount(t *testing.T) {
	world := GeoBounds{MinLat: -MaxMercatorLat, MaxLat: MaxMercatorLat, MinLon: -180, MaxLon: 180}

	tests := []struct {
		name    string
		minZoom int
		maxZoom int
		want    int64
	}{
		{"single level z0", 0, 0, 1},
		{"z0 to z2", 0, 2, 1 + 4 + 16},
		{"z3 only", 3, 3, 64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TileCount(world, tt.minZoom, tt.maxZoom); got != tt.want {
				t.Errorf("TileCount() = %d, want %d", got, tt.want)
			}
		})
	}
}

// Tiles computed for a bounds must cover it entirely.
func TestTileRangeOverCovers(t *testing.T) {
	const eps = 1e-9
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 500; i++ {
		lat1 := rng.Float64()*160 - 80
		lat2 := rng.Float64()*160 - 80
		lon1 := rng.Float64()*360 - 180
		lon2 := rng.Float64()*360 - 180
		b := GeoBounds{
			MinLat: min(lat1, lat2), MaxLat: max(lat1, lat2),
			MinLon: min(lon1, lon2), MaxLon: max(lon1, lon2),
		}
		z := rng.Intn(MaxZoom + 1)

		covered := TileRangeForBounds(b, z).Bounds()
		if covered.MinLat > b.MinLat+eps || covered.MaxLat < b.MaxLat-eps ||
			covered.MinLon > b.MinLon+eps || covered.MaxLon < b.MaxLon-eps {
			t.Fatalf("z=%d: tiles %v do not cover %v", z, covered, b)
		}
	}
}

func TestTileBounds(t *testing.T) {
	b := TileBounds(1, 0, 0)

	if b.MinLon != -180 || b.MaxLon != 0 {
		t.Errorf("lon span = [%v, %v], want [-180, 0]", b.MinLon, b.MaxLon)
	}
	if b.MinLat > 1e-9 || b.MinLat < -1e-9 {
		t.Errorf("MinLat = %v, want 0", b.MinLat)
	}
	if b.MaxLat < 85.05 || b.MaxLat > 85.06 {
		t.Errorf("MaxLat = %v, want about 85.0511", b.MaxLat)
	}
}

func TestTileRangeEach(t *testing.T) {
	r := TileRange{Z: 3, MinX: 2, MaxX: 4, MinY: 1, MaxY: 2}

	var visited int
	r.Each(func(x, y int) bool {
		if !r.Contains(x, y) {
			t.Errorf("Each yielded (%d,%d) outside range", x, y)
		}
		visited++
		return true
	})
	if int64(visited) != r.Count() {
		t.Errorf("visited %d tiles, want %d", visited, r.Count())
	}

	var stopped int
	r.Each(func(x, y int) bool {
		stopped++
		return stopped < 2
	})
	if stopped != 2 {
		t.Errorf("Each did not stop early, visited %d", stopped)
	}
}

func TestValidateZoomRange(t *testing.T) {
	tests := []struct {
		name    string
		min     int
		max     int
		wantErr bool
	}{
		{"valid", 2, 10, false},
		{"single level", 5, 5, false},
		{"negative", -1, 3, true},
		{"too deep", 0, MaxZoom + 1, true},
		{"inverted", 8, 3, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateZoomRange(tt.min, tt.max)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateZoomRange() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
