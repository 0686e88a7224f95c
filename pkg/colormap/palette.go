package colormap

import "math"

// controlPoint is a (position, value) pair on a single channel ramp
type controlPoint struct {
	pos, val float64
}

// Palette maps a normalized scalar in [0, 1] to RGB through three
// piecewise-linear channel ramps.
type Palette struct {
	name  string
	red   []controlPoint
	green []controlPoint
	blue  []controlPoint
}

// Heatmap is the jet-style ramp running from dark blue through cyan,
// yellow and red to dark red.
var Heatmap = Palette{
	name: "heatmap",
	red: []controlPoint{
		{0.00, 0.00}, {0.35, 0.00}, {0.66, 1.00}, {0.89, 1.00}, {1.00, 0.50},
	},
	green: []controlPoint{
		{0.000, 0.00}, {0.125, 0.00}, {0.375, 1.00}, {0.640, 1.00}, {0.910, 0.00}, {1.000, 0.00},
	},
	blue: []controlPoint{
		{0.00, 0.50}, {0.11, 1.00}, {0.34, 1.00}, {0.65, 0.00}, {1.00, 0.00},
	},
}

// GrayInverse runs from white at 0 to black at 1.
var GrayInverse = Palette{
	name:  "gray-inverse",
	red:   []controlPoint{{0, 1}, {1, 0}},
	green: []controlPoint{{0, 1}, {1, 0}},
	blue:  []controlPoint{{0, 1}, {1, 0}},
}

// Name returns the palette identifier
func (p Palette) Name() string { return p.name }

// Color returns the 8-bit RGB value for a normalized position. Positions
// outside [0, 1] are clamped and NaN maps to position 0.
func (p Palette) Color(x float64) [3]uint8 {
	if math.IsNaN(x) {
		x = 0
	}
	x = math.Max(0, math.Min(1, x))
	return [3]uint8{
		channel(p.red, x),
		channel(p.green, x),
		channel(p.blue, x),
	}
}

// channel interpolates a ramp at x and scales to [0, 255], truncating
func channel(ramp []controlPoint, x float64) uint8 {
	return uint8(interp(ramp, x) * 255)
}

// interp evaluates a piecewise-linear ramp, saturating at both ends
func interp(ramp []controlPoint, x float64) float64 {
	if x <= ramp[0].pos {
		return ramp[0].val
	}
	last := ramp[len(ramp)-1]
	if x >= last.pos {
		return last.val
	}
	for i := 1; i < len(ramp); i++ {
		hi := ramp[i]
		if x > hi.pos {
			continue
		}
		lo := ramp[i-1]
		if hi.pos == lo.pos {
			return hi.val
		}
		t := (x - lo.pos) / (hi.pos - lo.pos)
		return lo.val + t*(hi.val-lo.val)
	}
	return last.val
}
