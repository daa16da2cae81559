package domain

import "testing"

func TestBaseZoomFor(t *testing.T) {
	tests := []struct {
		name   string
		bounds GeoBounds
		width  int
		want   int
	}{
		{"whole world at 256px", GeoBounds{MinLon: -180, MaxLon: 180}, 256, 0},
		{"whole world at 1024px", GeoBounds{MinLon: -180, MaxLon: 180}, 1024, 2},
		{"two degrees at 1000px", GeoBounds{MinLon: -1, MaxLon: 1}, 1000, 9},
		{"zero width", GeoBounds{MinLon: 5, MaxLon: 5}, 1000, 0},
		{"clamped to max", GeoBounds{MinLon: 0, MaxLon: 0.000001}, 100000, MaxZoom},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BaseZoomFor(tt.bounds, tt.width); got != tt.want {
				t.Errorf("BaseZoomFor() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestPlanZooms(t *testing.T) {
	b := GeoBounds{MinLat: -1, MaxLat: 1, MinLon: -1, MaxLon: 1}

	tests := []struct {
		name string
		opts ZoomPlanOptions
		want ZoomPlan
	}{
		{
			name: "default bracket",
			opts: ZoomPlanOptions{LevelsBelow: 4, LevelsAbove: 1},
			want: ZoomPlan{MinZoom: 5, MaxZoom: 10, BaseZoom: 9},
		},
		{
			name: "pixel cap lowers max zoom",
			opts: ZoomPlanOptions{LevelsBelow: 4, LevelsAbove: 2, MaxScaledPixels: 3_000_000},
			want: ZoomPlan{MinZoom: 5, MaxZoom: 9, BaseZoom: 9},
		},
		{
			name: "min clamped at zero",
			opts: ZoomPlanOptions{LevelsBelow: 20, LevelsAbove: 0},
			want: ZoomPlan{MinZoom: 0, MaxZoom: 9, BaseZoom: 9},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PlanZooms(b, 1000, 1000, tt.opts)
			if got != tt.want {
				t.Errorf("PlanZooms() = %+v, want %+v", got, tt.want)
			}
			if err := got.Validate(); err != nil {
				t.Errorf("Validate() error = %v", err)
			}
		})
	}
}

func TestZoomPlanScaleFactor(t *testing.T) {
	p := ZoomPlan{MinZoom: 3, MaxZoom: 6, BaseZoom: 5}

	if got := p.ScaleFactor(5); got != 1 {
		t.Errorf("ScaleFactor(base) = %v, want 1", got)
	}
	if got := p.ScaleFactor(3); got != 0.25 {
		t.Errorf("ScaleFactor(3) = %v, want 0.25", got)
	}
	if got := p.ScaleFactor(6); got != 2 {
		t.Errorf("ScaleFactor(6) = %v, want 2", got)
	}
	if got := p.Levels(); got != 4 {
		t.Errorf("Levels() = %d, want 4", got)
	}
}

func TestScaledSize(t *testing.T) {
	w, h := ScaledSize(1000, 600, 0.5)
	if w != 500 || h != 300 {
		t.Errorf("ScaledSize() = %dx%d, want 500x300", w, h)
	}

	w, h = ScaledSize(3, 3, 0.01)
	if w != 1 || h != 1 {
		t.Errorf("ScaledSize() = %dx%d, want 1x1 minimum", w, h)
	}
}
