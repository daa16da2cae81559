package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TileKey identifies one tile of one basemap.
type TileKey struct {
	BasemapID string `json:"basemap_id"`
	Z         int    `json:"z"`
	X         int    `json:"x"`
	Y         int    `json:"y"`
}

// NewTileKey creates a TileKey.
func NewTileKey(basemapID string, z, x, y int) TileKey {
	return TileKey{BasemapID: basemapID, Z: z, X: x, Y: y}
}

// Validate checks that z is a supported zoom and x, y lie on its grid.
func (k TileKey) Validate() error {
	if err := ValidateZoom(k.Z); err != nil {
		return err
	}
	n := 1 << k.Z
	if k.X < 0 || k.X >= n {
		return &ValidationError{
			Field:      "x",
			Value:      k.X,
			Constraint: fmt.Sprintf("[0, %d]", n-1),
			Message:    "tile column outside zoom grid",
		}
	}
	if k.Y < 0 || k.Y >= n {
		return &ValidationError{
			Field:      "y",
			Value:      k.Y,
			Constraint: fmt.Sprintf("[0, %d]", n-1),
			Message:    "tile row outside zoom grid",
		}
	}
	return nil
}

// StoreKey is the key of the tile within its basemap's store.
func (k TileKey) StoreKey() string {
	return StoreKey(k.Z, k.X, k.Y)
}

// String returns basemap/z/x/y.
func (k TileKey) String() string {
	return k.BasemapID + "/" + k.StoreKey()
}

// StoreKey encodes z, x and y as "z/x/y".
func StoreKey(z, x, y int) string {
	return strconv.Itoa(z) + "/" + strconv.Itoa(x) + "/" + strconv.Itoa(y)
}

// TileRecord is a persisted tile.
type TileRecord struct {
	Key            TileKey
	Data           []byte
	CachedAt       time.Time
	LastAccessedAt time.Time
}

// CacheInfo summarizes the tiles stored for one basemap.
type CacheInfo struct {
	BasemapID    string    `json:"basemap_id"`
	SizeInBytes  int64     `json:"size_in_bytes"`
	TileCount    int64     `json:"tile_count"`
	LastModified time.Time `json:"last_modified,omitempty"`
}

// ExpandURLTemplate substitutes {z}, {x}, {y} and the TMS row {-y}.
func ExpandURLTemplate(template string, z, x, y int) string {
	r := strings.NewReplacer(
		"{z}", strconv.Itoa(z),
		"{x}", strconv.Itoa(x),
		"{y}", strconv.Itoa(y),
		"{-y}", strconv.Itoa((1<<z)-1-y),
	)
	return r.Replace(template)
}

// ValidateURLTemplate checks that a remote tile template carries all placeholders.
func ValidateURLTemplate(template string) error {
	if !strings.HasPrefix(template, "http://") && !strings.HasPrefix(template, "https://") {
		return &ValidationError{
			Field:      "url_template",
			Value:      template,
			Constraint: "http(s) URL",
			Message:    "tile URL template must be an http or https URL",
		}
	}
	hasY := strings.Contains(template, "{y}") || strings.Contains(template, "{-y}")
	if !strings.Contains(template, "{z}") || !strings.Contains(template, "{x}") || !hasY {
		return &ValidationError{
			Field:      "url_template",
			Value:      template,
			Constraint: "contains {z}, {x} and {y}",
			Message:    "tile URL template is missing a placeholder",
		}
	}
	return nil
}
