// Package samplefile decodes raw acquisition files. A file holds a flat
// array of interleaved samples, one per channel per time step, and its
// base name carries the acquisition metadata:
//
//	<beginMs>_<endMs>_<channelCount>[_<elementTypeTag>].<ext>
//
// The element type tag uses numpy dtype notation (for example "<i2",
// ">u4", "f8") or a long name such as "int16". It defaults to "<i2".
package samplefile

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gonum.org/v1/gonum/mat"

	"dasannotate/internal/models"
)

// DefaultTag is the element type tag assumed when a name carries none
const DefaultTag = "<i2"

// FormatError reports a malformed file name, element type tag or payload
type FormatError struct {
	Path   string
	Reason string
	Err    error
}

func (e *FormatError) Error() string {
	msg := fmt.Sprintf("samplefile: %s: %s", e.Path, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FormatError) Unwrap() error { return e.Err }

// IOError reports a failure to open or read a sample file
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("samplefile: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// Name is the metadata encoded in a sample file's base name
type Name struct {
	BeginMs  int64
	EndMs    int64
	Channels int
	Tag      string
	Format   models.SampleFormat
}

// ParseName extracts acquisition metadata from the base name of path
func ParseName(path string) (Name, error) {
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	fields := strings.Split(stem, "_")
	if len(fields) < 3 {
		return Name{}, &FormatError{
			Path:   path,
			Reason: fmt.Sprintf("name %q has %d underscore-separated fields, need at least 3", stem, len(fields)),
		}
	}

	var (
		n   Name
		err error
	)
	if n.BeginMs, err = strconv.ParseInt(fields[0], 10, 64); err != nil {
		return Name{}, &FormatError{Path: path, Reason: "invalid begin timestamp", Err: err}
	}
	if n.EndMs, err = strconv.ParseInt(fields[1], 10, 64); err != nil {
		return Name{}, &FormatError{Path: path, Reason: "invalid end timestamp", Err: err}
	}
	if n.Channels, err = strconv.Atoi(fields[2]); err != nil {
		return Name{}, &FormatError{Path: path, Reason: "invalid channel count", Err: err}
	}
	if n.Channels <= 0 {
		return Name{}, &FormatError{Path: path, Reason: fmt.Sprintf("channel count %d must be positive", n.Channels)}
	}

	n.Tag = DefaultTag
	if len(fields) > 3 {
		n.Tag = fields[3]
	}
	if n.Format, err = ParseFormat(n.Tag); err != nil {
		return Name{}, &FormatError{Path: path, Reason: "invalid element type", Err: err}
	}
	return n, nil
}

var longNames = map[string]models.ElementType{
	"int8":    models.Int8,
	"int16":   models.Int16,
	"int32":   models.Int32,
	"uint8":   models.Uint8,
	"uint16":  models.Uint16,
	"uint32":  models.Uint32,
	"float32": models.Float32,
	"float64": models.Float64,
}

// ParseFormat parses an element type tag such as "<i2", ">f4" or "uint8"
func ParseFormat(tag string) (models.SampleFormat, error) {
	if t, ok := longNames[strings.ToLower(tag)]; ok {
		return models.SampleFormat{Type: t, Order: binary.LittleEndian}, nil
	}

	f := models.SampleFormat{Order: binary.LittleEndian}
	rest := tag
	if rest != "" {
		switch rest[0] {
		case '<', '|':
			rest = rest[1:]
		case '>':
			f.Order = binary.BigEndian
			rest = rest[1:]
		case '=':
			f.Order = binary.NativeEndian
			rest = rest[1:]
		}
	}
	if len(rest) != 2 {
		return models.SampleFormat{}, fmt.Errorf("unsupported element type %q", tag)
	}

	switch rest {
	case "i1":
		f.Type = models.Int8
	case "i2":
		f.Type = models.Int16
	case "i4":
		f.Type = models.Int32
	case "u1":
		f.Type = models.Uint8
	case "u2":
		f.Type = models.Uint16
	case "u4":
		f.Type = models.Uint32
	case "f4":
		f.Type = models.Float32
	case "f8":
		f.Type = models.Float64
	default:
		return models.SampleFormat{}, fmt.Errorf("unsupported element type %q", tag)
	}
	return f, nil
}

// File is a decoded sample file
type File struct {
	Path string
	Name Name

	// Buffer has one row per channel and one column per time step
	Buffer *models.SampleBuffer

	// Size is the payload size in bytes
	Size int64
}

// Decode reads and decodes the sample file at path. Name errors are
// reported as *FormatError, read errors as *IOError.
func Decode(path string) (*File, error) {
	name, err := ParseName(path)
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &IOError{Op: "read", Path: path, Err: err}
	}

	buf, err := decodeBuffer(raw, name.Format, name.Channels)
	if err != nil {
		return nil, &FormatError{Path: path, Reason: "invalid payload", Err: err}
	}

	return &File{Path: path, Name: name, Buffer: buf, Size: int64(len(raw))}, nil
}

// decodeBuffer converts interleaved samples of shape (steps, channels)
// into a (channels, steps) buffer.
func decodeBuffer(raw []byte, format models.SampleFormat, channels int) (*models.SampleBuffer, error) {
	size := format.Type.Size()
	if len(raw)%size != 0 {
		return nil, fmt.Errorf("%d bytes is not a multiple of the %d-byte %s element", len(raw), size, format.Type)
	}
	count := len(raw) / size
	if count%channels != 0 {
		return nil, fmt.Errorf("%d samples do not divide into %d channels", count, channels)
	}
	steps := count / channels
	if steps == 0 {
		return models.NewSampleBuffer(format.Type, channels, 0, []float64{}), nil
	}

	values := make([]float64, count)
	for i := range values {
		values[i] = decodeValue(raw[i*size:(i+1)*size], format)
	}

	interleaved := mat.NewDense(steps, channels, values)
	var transposed mat.Dense
	transposed.CloneFrom(interleaved.T())

	data := make([]float64, channels*steps)
	for r := 0; r < channels; r++ {
		copy(data[r*steps:(r+1)*steps], transposed.RawRowView(r))
	}
	return models.NewSampleBuffer(format.Type, channels, steps, data), nil
}

func decodeValue(b []byte, format models.SampleFormat) float64 {
	order := format.Order
	switch format.Type {
	case models.Int8:
		return float64(int8(b[0]))
	case models.Uint8:
		return float64(b[0])
	case models.Int16:
		return float64(int16(order.Uint16(b)))
	case models.Uint16:
		return float64(order.Uint16(b))
	case models.Int32:
		return float64(int32(order.Uint32(b)))
	case models.Uint32:
		return float64(order.Uint32(b))
	case models.Float32:
		return float64(math.Float32frombits(order.Uint32(b)))
	case models.Float64:
		return math.Float64frombits(order.Uint64(b))
	}
	return math.NaN()
}

// BeginTime returns the acquisition start
func (f *File) BeginTime() time.Time { return time.UnixMilli(f.Name.BeginMs) }

// EndTime returns the acquisition end
func (f *File) EndTime() time.Time { return time.UnixMilli(f.Name.EndMs) }

// ColumnTime maps a time index to the start of its sample period:
// begin + col/cols*(end-begin). Column cols maps to the end time.
func (f *File) ColumnTime(col int) time.Time {
	cols := 0
	if f.Buffer != nil {
		cols = f.Buffer.Cols
	}
	if cols == 0 {
		return f.BeginTime()
	}
	span := float64(f.Name.EndMs - f.Name.BeginMs)
	offset := span * float64(col) / float64(cols)
	return f.BeginTime().Add(time.Duration(offset * float64(time.Millisecond)))
}

// Describe returns a short human-readable description of the file
func (f *File) Describe() string {
	return fmt.Sprintf("%s channels x %s samples of %s (%s)",
		humanize.Comma(int64(f.Buffer.Rows)),
		humanize.Comma(int64(f.Buffer.Cols)),
		f.Buffer.Type,
		humanize.Bytes(uint64(f.Size)))
}
