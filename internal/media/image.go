package media

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"os"

	// Decoders for the accepted image formats.
	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"golang.org/x/image/draw"
)

// errTooLarge is returned when an image cannot be brought under a byte
// ceiling by any scale or quality step.
var errTooLarge = errors.New("cannot compress under limit")

var jpegQualities = []int{85, 70, 55, 40, 25}

const (
	scaleStep = 0.75
	minSide   = 32
)

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

func decodeConfig(path string) (image.Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return image.Config{}, err
	}
	defer func() { _ = f.Close() }()
	cfg, _, err := image.DecodeConfig(f)
	return cfg, err
}

// resize scales img to the given width keeping its aspect ratio.
func resize(img image.Image, width int) image.Image {
	b := img.Bounds()
	if width <= 0 || width >= b.Dx() {
		return img
	}
	height := b.Dy() * width / b.Dx()
	if height < 1 {
		height = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

// compress encodes img as JPEG no larger than maxBytes, lowering quality
// first and then the resolution. It starts from at most maxWidth pixels wide
// when maxWidth is positive.
func compress(img image.Image, maxWidth int, maxBytes int64) ([]byte, image.Image, error) {
	width := img.Bounds().Dx()
	if maxWidth > 0 && width > maxWidth {
		width = maxWidth
	}
	var buf bytes.Buffer
	for {
		scaled := resize(img, width)
		for _, q := range jpegQualities {
			buf.Reset()
			if err := jpeg.Encode(&buf, scaled, &jpeg.Options{Quality: q}); err != nil {
				return nil, nil, fmt.Errorf("encode jpeg: %w", err)
			}
			if int64(buf.Len()) <= maxBytes {
				return append([]byte(nil), buf.Bytes()...), scaled, nil
			}
		}
		b := scaled.Bounds()
		if b.Dx() <= minSide || b.Dy() <= minSide {
			return nil, nil, errTooLarge
		}
		width = int(float64(b.Dx()) * scaleStep)
	}
}
