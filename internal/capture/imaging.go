package capture

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"os"

	"golang.org/x/image/draw"
)

// ScaledResolution scales a resolution by a percentage factor, truncating to
// whole pixels.
func ScaledResolution(width, height, percent int) (int, int) {
	factor := float64(percent) / 100
	return int(float64(width) * factor), int(float64(height) * factor)
}

// FitResolution shrinks (never grows) a resolution to fit inside the given
// box while preserving aspect ratio.
func FitResolution(width, height, boxWidth, boxHeight int) (int, int) {
	if width <= 0 || height <= 0 || boxWidth <= 0 || boxHeight <= 0 {
		return width, height
	}

	scale := float64(boxWidth) / float64(width)
	if vertical := float64(boxHeight) / float64(height); vertical < scale {
		scale = vertical
	}
	if scale >= 1 {
		return width, height
	}
	return int(float64(width) * scale), int(float64(height) * scale)
}

// TargetResolution picks the output resolution for a source image: the
// explicit box when both dimensions are set, otherwise the percentage factor.
// A box with a zero dimension is treated as unset.
func TargetResolution(width, height, boxWidth, boxHeight, percent int) (int, int) {
	if boxWidth > 0 && boxHeight > 0 {
		return FitResolution(width, height, boxWidth, boxHeight)
	}
	return ScaledResolution(width, height, percent)
}

// DecodePNG decodes PNG bytes into an image.
func DecodePNG(data []byte) (image.Image, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode png: %w", err)
	}
	return img, nil
}

// Resize scales an image to the exact resolution.
func Resize(img image.Image, width, height int) image.Image {
	if width <= 0 || height <= 0 {
		return img
	}
	bounds := img.Bounds()
	if bounds.Dx() == width && bounds.Dy() == height {
		return img
	}

	resized := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)
	return resized
}

// SavePNG writes an image to disk as PNG.
func SavePNG(path string, img image.Image) error {
	file, err := os.Create(path) // #nosec G304 -- path is built from sanitized local components.
	if err != nil {
		return fmt.Errorf("create image file %q: %w", path, err)
	}
	defer func() {
		_ = file.Close()
	}()

	if err := png.Encode(file, img); err != nil {
		return fmt.Errorf("encode png %q: %w", path, err)
	}
	return nil
}
