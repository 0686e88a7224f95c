package annotation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"dasannotate/internal/models"
)

// DefaultShapeType is assumed for shapes that do not declare one
const DefaultShapeType = "polygon"

// ReservedDocumentKeys are the top-level keys promoted to typed fields
var ReservedDocumentKeys = []string{"version", "imageDir", "shapes", "flags", "imageHeight", "imageWidth"}

// ReservedShapeKeys are the per-shape keys promoted to typed fields
var ReservedShapeKeys = []string{"label", "points", "group_id", "shape_type", "flags", "description", "mask"}

var (
	documentKeySet = keySet(ReservedDocumentKeys)
	shapeKeySet    = keySet(ReservedShapeKeys)
)

func keySet(keys []string) map[string]bool {
	set := make(map[string]bool, len(keys))
	for _, k := range keys {
		set[k] = true
	}
	return set
}

// Document is a parsed label file. Keys outside ReservedDocumentKeys
// are kept verbatim in OtherData.
type Document struct {
	Version     string
	Flags       map[string]bool
	Shapes      []Shape
	ImageDir    string
	ImageHeight int
	ImageWidth  int
	OtherData   map[string]json.RawMessage
}

// Shape is one annotation. Shapes are ordered; later shapes draw over
// earlier ones.
type Shape struct {
	Label       string
	Points      [][2]float64
	GroupID     *int
	ShapeType   string
	Flags       map[string]bool
	Description *string
	Mask        models.Mask
	OtherData   map[string]json.RawMessage
}

// declaredDims records the image dimensions present in the JSON, if any
type declaredDims struct {
	height, width *int
}

// parseDocument validates and decodes a label file
func parseDocument(data []byte, codec MaskCodec) (*Document, declaredDims, error) {
	var dims declaredDims
	if err := validateDocument(data); err != nil {
		return nil, dims, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, dims, fmt.Errorf("parsing JSON: %w", err)
	}

	doc := &Document{OtherData: make(map[string]json.RawMessage)}
	for key, value := range fields {
		var err error
		switch key {
		case "version":
			err = json.Unmarshal(value, &doc.Version)
		case "flags":
			err = json.Unmarshal(value, &doc.Flags)
		case "imageDir":
			err = json.Unmarshal(value, &doc.ImageDir)
		case "imageHeight":
			dims.height, err = decodeInt(value)
		case "imageWidth":
			dims.width, err = decodeInt(value)
		case "shapes":
			doc.Shapes, err = decodeShapes(value, codec)
		default:
			doc.OtherData[key] = value
		}
		if err != nil {
			return nil, dims, fmt.Errorf("%s: %w", key, err)
		}
	}
	if doc.Flags == nil {
		doc.Flags = map[string]bool{}
	}
	if dims.height != nil {
		doc.ImageHeight = *dims.height
	}
	if dims.width != nil {
		doc.ImageWidth = *dims.width
	}
	return doc, dims, nil
}

func decodeShapes(data json.RawMessage, codec MaskCodec) ([]Shape, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	shapes := make([]Shape, 0, len(raw))
	for i, r := range raw {
		s, err := decodeShape(r, codec)
		if err != nil {
			return nil, fmt.Errorf("shape %d: %w", i, err)
		}
		shapes = append(shapes, s)
	}
	return shapes, nil
}

func decodeShape(data json.RawMessage, codec MaskCodec) (Shape, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return Shape{}, err
	}
	for _, required := range []string{"label", "points"} {
		if _, ok := fields[required]; !ok {
			return Shape{}, fmt.Errorf("missing required key %q", required)
		}
	}

	s := Shape{ShapeType: DefaultShapeType, OtherData: make(map[string]json.RawMessage)}
	for key, value := range fields {
		var err error
		switch key {
		case "label":
			err = json.Unmarshal(value, &s.Label)
		case "points":
			err = json.Unmarshal(value, &s.Points)
		case "group_id":
			s.GroupID, err = decodeInt(value)
		case "shape_type":
			var shapeType string
			if err = json.Unmarshal(value, &shapeType); err == nil && shapeType != "" {
				s.ShapeType = shapeType
			}
		case "flags":
			err = json.Unmarshal(value, &s.Flags)
		case "description":
			err = json.Unmarshal(value, &s.Description)
		case "mask":
			var encoded string
			if err = json.Unmarshal(value, &encoded); err == nil && encoded != "" {
				s.Mask, err = codec.DecodeMask(encoded)
			}
		default:
			s.OtherData[key] = value
		}
		if err != nil {
			return Shape{}, fmt.Errorf("%s: %w", key, err)
		}
	}
	if s.Flags == nil {
		s.Flags = map[string]bool{}
	}
	if s.Points == nil {
		s.Points = [][2]float64{}
	}
	return s, nil
}

// decodeInt accepts integral JSON numbers, including ones written as 12.0
func decodeInt(data json.RawMessage) (*int, error) {
	var f *float64
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	if f == nil {
		return nil, nil
	}
	if *f != math.Trunc(*f) {
		return nil, fmt.Errorf("%g is not an integer", *f)
	}
	v := int(*f)
	return &v, nil
}

// checkReserved fails on the first otherData key that shadows a typed field
func (d *Document) checkReserved() error {
	for key := range d.OtherData {
		if documentKeySet[key] {
			return &ContractError{Scope: "document", Key: key}
		}
	}
	for i, s := range d.Shapes {
		for key := range s.OtherData {
			if shapeKeySet[key] {
				return &ContractError{Scope: fmt.Sprintf("shape %d", i), Key: key}
			}
		}
	}
	return nil
}

type field struct {
	key   string
	value interface{}
}

// encode renders the document as indented UTF-8 JSON. Typed fields come
// first in a fixed order, followed by extra keys sorted by name.
func (d *Document) encode(codec MaskCodec) ([]byte, error) {
	shapes := make([]json.RawMessage, len(d.Shapes))
	for i, s := range d.Shapes {
		raw, err := s.encode(codec)
		if err != nil {
			return nil, fmt.Errorf("shape %d: %w", i, err)
		}
		shapes[i] = raw
	}

	flags := d.Flags
	if flags == nil {
		flags = map[string]bool{}
	}
	fields := []field{
		{"version", d.Version},
		{"flags", flags},
		{"shapes", shapes},
		{"imageDir", d.ImageDir},
		{"imageHeight", d.ImageHeight},
		{"imageWidth", d.ImageWidth},
	}
	compact, err := encodeObject(append(fields, extraFields(d.OtherData)...))
	if err != nil {
		return nil, err
	}

	var out bytes.Buffer
	if err := json.Indent(&out, compact, "", "  "); err != nil {
		return nil, err
	}
	out.WriteByte('\n')
	return out.Bytes(), nil
}

func (s Shape) encode(codec MaskCodec) (json.RawMessage, error) {
	points := s.Points
	if points == nil {
		points = [][2]float64{}
	}
	shapeType := s.ShapeType
	if shapeType == "" {
		shapeType = DefaultShapeType
	}
	flags := s.Flags
	if flags == nil {
		flags = map[string]bool{}
	}

	fields := []field{
		{"label", s.Label},
		{"points", points},
		{"group_id", s.GroupID},
		{"shape_type", shapeType},
		{"flags", flags},
		{"description", s.Description},
		{"mask", nil},
	}
	if s.Mask != nil {
		encoded, err := codec.EncodeMask(s.Mask)
		if err != nil {
			return nil, fmt.Errorf("mask: %w", err)
		}
		fields[len(fields)-1].value = encoded
	}
	return encodeObject(append(fields, extraFields(s.OtherData)...))
}

func extraFields(other map[string]json.RawMessage) []field {
	keys := make([]string, 0, len(other))
	for k := range other {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]field, len(keys))
	for i, k := range keys {
		fields[i] = field{k, other[k]}
	}
	return fields
}

// encodeObject writes fields as a compact JSON object in the given order
func encodeObject(fields []field) (json.RawMessage, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := encodeValue(f.key)
		if err != nil {
			return nil, err
		}
		value, err := encodeValue(f.value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.key, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// encodeValue marshals v without escaping HTML characters, so labels
// containing <, > or & stay readable alongside non-ASCII text.
func encodeValue(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
