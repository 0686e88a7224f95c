// Package colormap maps raw sample buffers to RGB rasters. Rendering
// clips samples to a fraction of the element type's dynamic range,
// optionally takes magnitudes and log-compresses them, normalizes onto
// [0, 1] and looks the result up in a fixed palette.
//
// All functions are pure. Buffers are only read, so independent calls
// may run concurrently on the same buffer.
package colormap

import (
	"errors"
	"fmt"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"

	"dasannotate/internal/models"
)

// ErrInvalidRange is returned when the display range is empty after
// scaling to the element type.
var ErrInvalidRange = errors.New("colormap: invalid display range")

// transform holds the clip bounds and normalization bounds derived from
// a buffer's element type and the display parameters.
type transform struct {
	clipLo, clipHi float64
	abs, log       bool
	normLo, normHi float64
}

func newTransform(t models.ElementType, params models.DisplayParameters) (transform, error) {
	if err := params.Validate(); err != nil {
		return transform{}, fmt.Errorf("%w: %v", ErrInvalidRange, err)
	}

	typeMax := t.TypeMax()
	tr := transform{
		clipLo: params.MinValue * typeMax,
		clipHi: params.MaxValue * typeMax,
		abs:    params.TakeAbsoluteValue,
		log:    params.ApplyLogCompression,
	}
	if t.IsUnsigned() {
		tr.clipLo = 0
	}

	lo, hi := tr.clipLo, tr.clipHi
	if tr.abs {
		lo = 0
	}
	if tr.log {
		lo, hi = compress(lo), compress(hi)
	}
	if !(hi > lo) {
		return transform{}, fmt.Errorf("%w: bounds [%g, %g] for %s", ErrInvalidRange, lo, hi, t)
	}
	tr.normLo, tr.normHi = lo, hi
	return tr, nil
}

// normalize maps one raw sample onto [0, 1]. NaN maps to 0.
func (tr transform) normalize(x float64) float64 {
	if math.IsNaN(x) {
		return 0
	}
	x = math.Max(tr.clipLo, math.Min(tr.clipHi, x))
	if tr.abs {
		// magnitudes of a wide negative bound can exceed clipHi
		x = math.Min(math.Abs(x), tr.clipHi)
	}
	if tr.log {
		x = compress(x)
	}
	return (x - tr.normLo) / (tr.normHi - tr.normLo)
}

// compress is the sign-preserving log transform sign(x)*log10(|x|+1)
func compress(x float64) float64 {
	return math.Copysign(math.Log10(math.Abs(x)+1), x)
}

// Normalize returns the normalized scalar field of buf in row-major
// order. Every value lies in [0, 1].
func Normalize(buf *models.SampleBuffer, params models.DisplayParameters) ([]float64, error) {
	if buf == nil {
		return nil, nil
	}
	tr, err := newTransform(buf.Type, params)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(buf.Data))
	for i, v := range buf.Data {
		out[i] = tr.normalize(v)
	}
	return out, nil
}

// Render maps buf to an RGB raster using all available processors
func Render(buf *models.SampleBuffer, params models.DisplayParameters) (*models.Raster, error) {
	return RenderParallel(buf, params, runtime.GOMAXPROCS(0))
}

// RenderParallel maps buf to an RGB raster, splitting rows across at
// most workers goroutines. The output is identical for any worker count.
func RenderParallel(buf *models.SampleBuffer, params models.DisplayParameters, workers int) (*models.Raster, error) {
	if buf == nil {
		return models.NewRaster(0, 0), nil
	}
	tr, err := newTransform(buf.Type, params)
	if err != nil {
		return nil, err
	}

	raster := models.NewRaster(buf.Rows, buf.Cols)
	if buf.Empty() {
		return raster, nil
	}

	palette := GrayInverse
	if params.UseHeatmapPalette {
		palette = Heatmap
	}

	if workers < 1 {
		workers = 1
	}
	rowsPerWorker := (buf.Rows + workers - 1) / workers

	var g errgroup.Group
	g.SetLimit(workers)
	for start := 0; start < buf.Rows; start += rowsPerWorker {
		start := start
		end := min(start+rowsPerWorker, buf.Rows)
		g.Go(func() error {
			for i := start * buf.Cols; i < end*buf.Cols; i++ {
				px := palette.Color(tr.normalize(buf.Data[i]))
				copy(raster.Pix[i*3:i*3+3], px[:])
			}
			return nil
		})
	}
	g.Wait() // workers never fail

	return raster, nil
}
