package models

import (
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"math"
)

// ElementType is the numeric type of a single acquisition sample
type ElementType int

const (
	Int8 ElementType = iota
	Int16
	Int32
	Uint8
	Uint16
	Uint32
	Float32
	Float64
)

var elementTypeNames = map[ElementType]string{
	Int8:    "int8",
	Int16:   "int16",
	Int32:   "int32",
	Uint8:   "uint8",
	Uint16:  "uint16",
	Uint32:  "uint32",
	Float32: "float32",
	Float64: "float64",
}

func (t ElementType) String() string {
	if name, ok := elementTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("ElementType(%d)", int(t))
}

// Size returns the number of bytes a single sample occupies on disk
func (t ElementType) Size() int {
	switch t {
	case Int8, Uint8:
		return 1
	case Int16, Uint16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	case Float64:
		return 8
	}
	return 0
}

// IsInteger reports whether the type is a signed or unsigned integer
func (t ElementType) IsInteger() bool {
	return t != Float32 && t != Float64
}

// IsUnsigned reports whether the type is an unsigned integer
func (t ElementType) IsUnsigned() bool {
	return t == Uint8 || t == Uint16 || t == Uint32
}

// TypeMax returns the symmetric dynamic range magnitude of the type:
// max(positive range, |negative range|) for integers, 1 for floating point.
func (t ElementType) TypeMax() float64 {
	switch t {
	case Int8:
		return 128
	case Int16:
		return 32768
	case Int32:
		return 2147483648
	case Uint8:
		return math.MaxUint8
	case Uint16:
		return math.MaxUint16
	case Uint32:
		return math.MaxUint32
	}
	return 1
}

// SampleFormat pairs an element type with the byte order it is stored in
type SampleFormat struct {
	Type  ElementType
	Order binary.ByteOrder
}

// DefaultSampleFormat is 16-bit little-endian signed integers
var DefaultSampleFormat = SampleFormat{Type: Int16, Order: binary.LittleEndian}

// SampleBuffer is a 2-D array of acquisition samples. Rows are spatial
// channels and columns are time indices.
type SampleBuffer struct {
	// Type is the element type the samples were decoded from
	Type ElementType

	// Rows is the number of channels
	Rows int

	// Cols is the number of time samples per channel
	Cols int

	// Data holds the samples in row-major order
	Data []float64
}

// NewSampleBuffer wraps row-major data. It panics if len(data) != rows*cols.
func NewSampleBuffer(t ElementType, rows, cols int, data []float64) *SampleBuffer {
	if rows < 0 || cols < 0 || len(data) != rows*cols {
		panic(fmt.Sprintf("models: sample data length %d does not match %dx%d", len(data), rows, cols))
	}
	return &SampleBuffer{Type: t, Rows: rows, Cols: cols, Data: data}
}

// At returns the sample at channel r, time index c
func (b *SampleBuffer) At(r, c int) float64 {
	return b.Data[r*b.Cols+c]
}

// Empty reports whether the buffer holds no samples
func (b *SampleBuffer) Empty() bool {
	return b == nil || len(b.Data) == 0
}

// DisplayParameters controls how a SampleBuffer is mapped to colors.
// MinValue and MaxValue are fractions of the element type's dynamic range.
type DisplayParameters struct {
	TakeAbsoluteValue   bool
	ApplyLogCompression bool
	UseHeatmapPalette   bool
	MinValue            float64
	MaxValue            float64
}

// DefaultDisplayParameters returns the parameters used when a file is first opened
func DefaultDisplayParameters() DisplayParameters {
	return DisplayParameters{
		TakeAbsoluteValue:   true,
		ApplyLogCompression: true,
		UseHeatmapPalette:   true,
		MinValue:            -1,
		MaxValue:            1,
	}
}

// Validate checks MinValue and MaxValue are within [-1, 1] and strictly ordered
func (p DisplayParameters) Validate() error {
	if math.IsNaN(p.MinValue) || math.IsNaN(p.MaxValue) {
		return fmt.Errorf("display range contains NaN")
	}
	if p.MinValue < -1 || p.MinValue > 1 || p.MaxValue < -1 || p.MaxValue > 1 {
		return fmt.Errorf("display range [%g, %g] outside [-1, 1]", p.MinValue, p.MaxValue)
	}
	if p.MinValue >= p.MaxValue {
		return fmt.Errorf("display minimum %g must be below maximum %g", p.MinValue, p.MaxValue)
	}
	return nil
}

// Raster is an RGB image with 8 bits per channel, same 2-D shape as the
// SampleBuffer it was rendered from.
type Raster struct {
	Rows int
	Cols int

	// Pix holds RGB triplets in row-major order, len(Pix) == Rows*Cols*3
	Pix []uint8
}

// NewRaster allocates a black raster
func NewRaster(rows, cols int) *Raster {
	return &Raster{Rows: rows, Cols: cols, Pix: make([]uint8, rows*cols*3)}
}

// At returns the RGB triplet at row r, column c
func (r *Raster) At(row, col int) [3]uint8 {
	i := (row*r.Cols + col) * 3
	return [3]uint8{r.Pix[i], r.Pix[i+1], r.Pix[i+2]}
}

// Image converts the raster to an image.RGBA with channels along Y and
// time along X.
func (r *Raster) Image() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, r.Cols, r.Rows))
	for y := 0; y < r.Rows; y++ {
		for x := 0; x < r.Cols; x++ {
			px := r.At(y, x)
			img.SetRGBA(x, y, color.RGBA{R: px[0], G: px[1], B: px[2], A: 0xff})
		}
	}
	return img
}

// Mask is a 2-D boolean array attached to a shape, indexed [row][col]
type Mask [][]bool
