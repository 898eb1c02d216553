package transform

import (
	"bytes"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/draw"

	// Decode support for formats commonly served to browser overlays.
	_ "golang.org/x/image/webp"

	"github.com/tourmap/assetcache/internal/domain"
)

// Quality used when re-encoding lossy sources after a downscale.
const lossyQuality = 85

// FitImage decodes data and, if either side exceeds maxDimension, downscales
// it uniformly so the longest side lands exactly on maxDimension. Images
// already within bounds keep their original bytes untouched; the transform
// never upsamples.
func FitImage(data []byte, maxDimension int) (domain.ImageAsset, error) {
	if maxDimension <= 0 {
		return domain.ImageAsset{}, fmt.Errorf("max dimension must be positive, got %d", maxDimension)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return domain.ImageAsset{}, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	if width <= maxDimension && height <= maxDimension {
		return domain.ImageAsset{
			Data:   data,
			Format: format,
			Width:  width,
			Height: height,
		}, nil
	}

	scaledWidth, scaledHeight := scaledDimensions(width, height, maxDimension)

	scaled := image.NewRGBA(image.Rect(0, 0, scaledWidth, scaledHeight))
	draw.CatmullRom.Scale(scaled, scaled.Bounds(), img, bounds, draw.Over, nil)

	encoded, encodedFormat, err := encode(scaled, format)
	if err != nil {
		return domain.ImageAsset{}, fmt.Errorf("failed to encode scaled image: %w", err)
	}

	return domain.ImageAsset{
		Data:   encoded,
		Format: encodedFormat,
		Width:  scaledWidth,
		Height: scaledHeight,
	}, nil
}

func scaledDimensions(width, height, maxDimension int) (int, int) {
	// The longest side lands exactly on maxDimension; the short side is
	// rounded to the nearest pixel and never drops below 1.
	if width >= height {
		scaled := (height*maxDimension + width/2) / width
		return maxDimension, max(scaled, 1)
	}
	scaled := (width*maxDimension + height/2) / height
	return max(scaled, 1), maxDimension
}

func encode(img image.Image, sourceFormat string) ([]byte, string, error) {
	buf := &bytes.Buffer{}

	switch sourceFormat {
	case "jpeg", "webp":
		// There is no webp encoder; lossy sources come back as JPEG.
		if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: lossyQuality}); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), "jpeg", nil
	case "gif":
		if err := gif.Encode(buf, img, nil); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), "gif", nil
	default:
		if err := png.Encode(buf, img); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), "png", nil
	}
}
