package colormap

import (
	"math"
	"testing"
)

func TestHeatmapControlPoints(t *testing.T) {
	tests := []struct {
		pos  float64
		want [3]uint8
	}{
		{0, [3]uint8{0, 0, 127}},
		{0.11, [3]uint8{0, 0, 255}},
		{0.5, [3]uint8{123, 255, 123}},
		{0.66, [3]uint8{255, 236, 0}},
		{1, [3]uint8{127, 0, 0}},
		{-3, [3]uint8{0, 0, 127}},
		{7, [3]uint8{127, 0, 0}},
		{math.NaN(), [3]uint8{0, 0, 127}},
	}
	for _, tt := range tests {
		if got := Heatmap.Color(tt.pos); got != tt.want {
			t.Errorf("Heatmap.Color(%g): expected %v, got %v", tt.pos, tt.want, got)
		}
	}
}

func TestInterpMonotoneSegments(t *testing.T) {
	// red rises between 0.35 and 0.66 and must never decrease there
	prev := -1.0
	for x := 0.35; x <= 0.66; x += 0.01 {
		v := interp(Heatmap.red, x)
		if v < prev {
			t.Fatalf("red ramp decreased at %g: %g < %g", x, v, prev)
		}
		prev = v
	}
	if got := interp(GrayInverse.red, 0.25); math.Abs(got-0.75) > 1e-12 {
		t.Errorf("expected 0.75, got %g", got)
	}
}
