// Package domain contains the core tile cache entities and value objects.
package domain

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

// GeoBounds is a geographic rectangle in WGS84 degrees.
type GeoBounds struct {
	MinLat float64 `json:"min_lat" yaml:"min_lat"`
	MinLon float64 `json:"min_lon" yaml:"min_lon"`
	MaxLat float64 `json:"max_lat" yaml:"max_lat"`
	MaxLon float64 `json:"max_lon" yaml:"max_lon"`
}

// BoundsFromOrb converts an orb bound into GeoBounds.
func BoundsFromOrb(b orb.Bound) GeoBounds {
	return GeoBounds{
		MinLat: b.Min.Lat(),
		MinLon: b.Min.Lon(),
		MaxLat: b.Max.Lat(),
		MaxLon: b.Max.Lon(),
	}
}

// Validate checks coordinate ranges and corner ordering.
func (b GeoBounds) Validate() error {
	for _, lat := range []struct {
		field string
		v     float64
	}{{"min_lat", b.MinLat}, {"max_lat", b.MaxLat}} {
		if lat.v < -90 || lat.v > 90 {
			return &ValidationError{
				Field:      lat.field,
				Value:      lat.v,
				Constraint: "[-90, 90]",
				Message:    "latitude must be between -90 and 90",
			}
		}
	}
	for _, lon := range []struct {
		field string
		v     float64
	}{{"min_lon", b.MinLon}, {"max_lon", b.MaxLon}} {
		if lon.v < -180 || lon.v > 180 {
			return &ValidationError{
				Field:      lon.field,
				Value:      lon.v,
				Constraint: "[-180, 180]",
				Message:    "longitude must be between -180 and 180",
			}
		}
	}
	if b.MinLat > b.MaxLat {
		return &ValidationError{
			Field:      "min_lat",
			Value:      b.MinLat,
			Constraint: "<= max_lat",
			Message:    "minimum latitude exceeds maximum latitude",
		}
	}
	if b.MinLon > b.MaxLon {
		// Antimeridian-spanning bounds end up here as well.
		return &ValidationError{
			Field:      "min_lon",
			Value:      b.MinLon,
			Constraint: "<= max_lon",
			Message:    "minimum longitude exceeds maximum longitude",
		}
	}
	return nil
}

// Bound returns the bounds as an orb.Bound.
func (b GeoBounds) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{b.MinLon, b.MinLat},
		Max: orb.Point{b.MaxLon, b.MaxLat},
	}
}

// Contains reports whether other lies entirely within b.
func (b GeoBounds) Contains(other GeoBounds) bool {
	return other.MinLat >= b.MinLat && other.MaxLat <= b.MaxLat &&
		other.MinLon >= b.MinLon && other.MaxLon <= b.MaxLon
}

// Union returns the smallest bounds containing both b and other.
func (b GeoBounds) Union(other GeoBounds) GeoBounds {
	return BoundsFromOrb(b.Bound().Union(other.Bound()))
}

// Width returns the longitude span in degrees.
func (b GeoBounds) Width() float64 {
	return b.MaxLon - b.MinLon
}

// Height returns the latitude span in degrees.
func (b GeoBounds) Height() float64 {
	return b.MaxLat - b.MinLat
}

// String returns minLon,minLat,maxLon,maxLat.
func (b GeoBounds) String() string {
	return fmt.Sprintf("%g,%g,%g,%g", b.MinLon, b.MinLat, b.MaxLon, b.MaxLat)
}

// ParseBBox parses "minLon,minLat,maxLon,maxLat" into validated bounds.
func ParseBBox(s string) (GeoBounds, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return GeoBounds{}, bboxError(s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return GeoBounds{}, bboxError(s)
		}
		v[i] = f
	}
	b := GeoBounds{MinLon: v[0], MinLat: v[1], MaxLon: v[2], MaxLat: v[3]}
	if err := b.Validate(); err != nil {
		return GeoBounds{}, err
	}
	return b, nil
}

func bboxError(s string) error {
	return &ValidationError{
		Field:      "bbox",
		Value:      s,
		Constraint: "minLon,minLat,maxLon,maxLat",
		Message:    "bbox must have four comma separated numbers",
	}
}
