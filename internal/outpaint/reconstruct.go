package outpaint

import (
	"fmt"
	"image"

	"golang.org/x/image/draw"
)

// Reconstruct stretches the provider output to the canvas size and paints the
// placed source back over its rectangle, so the preserved region is exactly
// the original pixels whatever the provider did with the mask.
func Reconstruct(output image.Image, c *Composite) *image.RGBA {
	bounds := image.Rect(0, 0, c.CanvasWidth, c.CanvasHeight)
	dst := image.NewRGBA(bounds)

	ob := output.Bounds()
	if ob.Dx() == bounds.Dx() && ob.Dy() == bounds.Dy() {
		draw.Draw(dst, bounds, output, ob.Min, draw.Src)
	} else {
		draw.BiLinear.Scale(dst, bounds, output, ob, draw.Src, nil)
	}

	draw.Draw(dst, c.Rect, c.Source, c.Source.Bounds().Min, draw.Src)
	return dst
}

// ReconstructPNG decodes the provider output, reconstructs it and returns PNG
// bytes. Any failure is wrapped in ErrReconstruction; callers keep the
// unreconstructed output in that case.
func ReconstructPNG(output []byte, c *Composite) ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: nil composite", ErrReconstruction)
	}
	img, _, err := Decode(output)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReconstruction, err)
	}
	data, err := EncodePNG(Reconstruct(img, c))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReconstruction, err)
	}
	return data, nil
}
