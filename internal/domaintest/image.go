package domaintest

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

// NewGradientImage returns a width x height RGBA image with non-uniform
// content, so scaled copies are distinguishable from blank rasters.
func NewGradientImage(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8(x * 255 / max(width, 1)),
				G: uint8(y * 255 / max(height, 1)),
				B: 128,
				A: 255,
			})
		}
	}
	return img
}

func EncodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()

	buf := &bytes.Buffer{}
	if err := png.Encode(buf, img); err != nil {
		t.Fatalf("failed to encode png fixture: %v", err)
	}
	return buf.Bytes()
}

func EncodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()

	buf := &bytes.Buffer{}
	if err := jpeg.Encode(buf, img, nil); err != nil {
		t.Fatalf("failed to encode jpeg fixture: %v", err)
	}
	return buf.Bytes()
}

// NewPNGAsset is a shorthand for an encoded gradient PNG of the given size.
func NewPNGAsset(t *testing.T, width, height int) []byte {
	t.Helper()
	return EncodePNG(t, NewGradientImage(width, height))
}
