package annotation

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"

	"dasannotate/internal/models"
)

// MaskCodec converts between a shape's embedded mask blob and its 2-D form
type MaskCodec interface {
	DecodeMask(encoded string) (models.Mask, error)
	EncodeMask(mask models.Mask) (string, error)
}

// PNGMaskCodec stores masks as base64-encoded grayscale PNG images. Any
// nonzero pixel decodes as set. JPEG blobs are accepted on decode.
type PNGMaskCodec struct{}

// DecodeMask implements MaskCodec
func (PNGMaskCodec) DecodeMask(encoded string) (models.Mask, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decoding mask base64: %w", err)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decoding mask image: %w", err)
	}

	bounds := img.Bounds()
	mask := make(models.Mask, bounds.Dy())
	for y := range mask {
		mask[y] = make([]bool, bounds.Dx())
		for x := range mask[y] {
			gray := color.Gray16Model.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.Gray16)
			mask[y][x] = gray.Y > 0
		}
	}
	return mask, nil
}

// EncodeMask implements MaskCodec
func (PNGMaskCodec) EncodeMask(mask models.Mask) (string, error) {
	height := len(mask)
	width := 0
	if height > 0 {
		width = len(mask[0])
	}

	img := image.NewGray(image.Rect(0, 0, width, height))
	for y, row := range mask {
		if len(row) != width {
			return "", fmt.Errorf("mask row %d has %d columns, expected %d", y, len(row), width)
		}
		for x, set := range row {
			if set {
				img.SetGray(x, y, color.Gray{Y: 0xff})
			}
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encoding mask image: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
