package visualization

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"dasannotate/internal/models"
	"dasannotate/pkg/colormap"
)

// Viewer renders previews of a sample buffer. Long recordings are cut
// into windows along the time axis, each rendered with the same display
// parameters.
type Viewer struct {
	// buffer holds the decoded samples, channels x time
	buffer *models.SampleBuffer

	// params controls the color mapping
	params models.DisplayParameters

	// workers bounds the goroutines used per render
	workers int
}

// NewViewer creates a new preview viewer
func NewViewer(buffer *models.SampleBuffer, params models.DisplayParameters, workers int) *Viewer {
	return &Viewer{
		buffer:  buffer,
		params:  params,
		workers: workers,
	}
}

// SetParams replaces the display parameters used by later renders
func (v *Viewer) SetParams(params models.DisplayParameters) {
	v.params = params
}

// ExtractWindow copies cols time samples of every channel starting at startCol
func (v *Viewer) ExtractWindow(startCol, cols int) (*models.SampleBuffer, error) {
	if startCol < 0 {
		return nil, fmt.Errorf("start column must be non-negative")
	}
	if cols <= 0 {
		return nil, fmt.Errorf("window width must be positive")
	}
	if startCol+cols > v.buffer.Cols {
		return nil, fmt.Errorf("window [%d, %d) extends beyond %d columns", startCol, startCol+cols, v.buffer.Cols)
	}

	data := make([]float64, v.buffer.Rows*cols)
	for r := 0; r < v.buffer.Rows; r++ {
		src := v.buffer.Data[r*v.buffer.Cols+startCol : r*v.buffer.Cols+startCol+cols]
		copy(data[r*cols:(r+1)*cols], src)
	}
	return models.NewSampleBuffer(v.buffer.Type, v.buffer.Rows, cols, data), nil
}

// Render maps the whole buffer to an image
func (v *Viewer) Render() (image.Image, error) {
	return v.render(v.buffer)
}

// RenderWindow maps a time window of the buffer to an image
func (v *Viewer) RenderWindow(startCol, cols int) (image.Image, error) {
	window, err := v.ExtractWindow(startCol, cols)
	if err != nil {
		return nil, err
	}
	return v.render(window)
}

func (v *Viewer) render(buf *models.SampleBuffer) (image.Image, error) {
	raster, err := colormap.RenderParallel(buf, v.params, v.workers)
	if err != nil {
		return nil, err
	}
	return raster.Image(), nil
}

// SaveImage writes img as PNG, or JPEG when filename ends in .jpg or .jpeg
func (v *Viewer) SaveImage(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		err = jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
	default:
		err = png.Encode(file, img)
	}
	if err != nil {
		return err
	}
	return file.Close()
}

// SaveWindowSequence renders consecutive windows of windowCols samples
// and saves them as window_000.png, window_001.png, ... The last window
// may be narrower. It returns the number of files written.
func (v *Viewer) SaveWindowSequence(outputDir string, windowCols int) (int, error) {
	if windowCols <= 0 {
		return 0, fmt.Errorf("window width must be positive")
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return 0, err
	}

	count := 0
	for start := 0; start < v.buffer.Cols; start += windowCols {
		cols := min(windowCols, v.buffer.Cols-start)
		img, err := v.RenderWindow(start, cols)
		if err != nil {
			return count, err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("window_%03d.png", count))
		if err := v.SaveImage(img, filename); err != nil {
			return count, err
		}
		count++
	}

	return count, nil
}
