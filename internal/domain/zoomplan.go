package domain

import "math"

// ZoomPlan is the zoom range generated for one PDF import.
type ZoomPlan struct {
	MinZoom  int `json:"min_zoom" yaml:"min_zoom"`
	MaxZoom  int `json:"max_zoom" yaml:"max_zoom"`
	BaseZoom int `json:"base_zoom" yaml:"base_zoom"`
}

// ZoomPlanOptions bracket the base zoom.
type ZoomPlanOptions struct {
	LevelsBelow     int
	LevelsAbove     int
	MaxScaledPixels int64 // 0 disables the cap
}

// Validate checks the zoom range.
func (p ZoomPlan) Validate() error {
	if err := ValidateZoomRange(p.MinZoom, p.MaxZoom); err != nil {
		return err
	}
	return ValidateZoom(p.BaseZoom)
}

// ScaleFactor is the resample factor applied to the base raster at zoom z.
func (p ZoomPlan) ScaleFactor(z int) float64 {
	return math.Exp2(float64(z - p.BaseZoom))
}

// Levels returns the number of zoom levels in the plan.
func (p ZoomPlan) Levels() int {
	return p.MaxZoom - p.MinZoom + 1
}

// BaseZoomFor returns the zoom at which rasterWidth pixels span b at one
// raster pixel per tile pixel.
func BaseZoomFor(b GeoBounds, rasterWidth int) int {
	worldFraction := b.Width() / 360
	if worldFraction <= 0 || rasterWidth <= 0 {
		return 0
	}
	z := int(math.Round(math.Log2(float64(rasterWidth) / (TileSize * worldFraction))))
	return max(0, min(MaxZoom, z))
}

// PlanZooms derives a ZoomPlan from bounds and raster size.
func PlanZooms(b GeoBounds, rasterWidth, rasterHeight int, opts ZoomPlanOptions) ZoomPlan {
	base := BaseZoomFor(b, rasterWidth)
	plan := ZoomPlan{
		MinZoom:  max(0, base-opts.LevelsBelow),
		MaxZoom:  min(MaxZoom, base+opts.LevelsAbove),
		BaseZoom: base,
	}
	if opts.MaxScaledPixels > 0 {
		for plan.MaxZoom > base && ScaledPixels(rasterWidth, rasterHeight, plan.ScaleFactor(plan.MaxZoom)) > opts.MaxScaledPixels {
			plan.MaxZoom--
		}
	}
	return plan
}

// ScaledPixels returns the pixel count of a w x h raster resampled by scale.
func ScaledPixels(w, h int, scale float64) int64 {
	sw, sh := ScaledSize(w, h, scale)
	return int64(sw) * int64(sh)
}

// ScaledSize returns the dimensions of a w x h raster resampled by scale, at least 1x1.
func ScaledSize(w, h int, scale float64) (int, int) {
	sw := int(math.Round(float64(w) * scale))
	sh := int(math.Round(float64(h) * scale))
	return max(1, sw), max(1, sh)
}
