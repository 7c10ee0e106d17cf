package outpaint

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	_ "golang.org/x/image/webp"
)

var (
	ErrEmptyImage    = errors.New("outpaint: empty image data")
	ErrImageTooLarge = errors.New("outpaint: image too large")
)

// Decode decodes PNG, JPEG, GIF or WebP data under DefaultLimits.
func Decode(data []byte) (image.Image, string, error) {
	return DefaultLimits.Decode(data)
}

// Decode reads the image header first and refuses images with a side over
// MaxSourceSide before decoding any pixels.
func (l Limits) Decode(data []byte) (image.Image, string, error) {
	l = l.orDefault()
	if len(data) == 0 {
		return nil, "", ErrEmptyImage
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decoding image: %w", err)
	}
	if cfg.Width > l.MaxSourceSide || cfg.Height > l.MaxSourceSide {
		return nil, "", fmt.Errorf("%w: %dx%d exceeds %dpx per side",
			ErrImageTooLarge, cfg.Width, cfg.Height, l.MaxSourceSide)
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decoding image: %w", err)
	}
	return img, format, nil
}

func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
