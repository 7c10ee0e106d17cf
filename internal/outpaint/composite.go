// Package outpaint builds the canvas/mask pair sent to the provider for
// canvas expansion and restores the original pixels in the provider output.
package outpaint

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
)

var (
	ErrInvalidPlacement = errors.New("outpaint: invalid placement")
	ErrReconstruction   = errors.New("outpaint: reconstruction failed")
)

// Limits bounds the images outpainting allocates for. Zero fields fall back
// to DefaultLimits.
type Limits struct {
	// MaxCanvasSide caps both canvas dimensions.
	MaxCanvasSide int
	// MaxSourceSide caps both dimensions of a decoded image.
	MaxSourceSide int
}

var DefaultLimits = Limits{MaxCanvasSide: 4096, MaxSourceSide: 8192}

func (l Limits) orDefault() Limits {
	if l.MaxCanvasSide <= 0 {
		l.MaxCanvasSide = DefaultLimits.MaxCanvasSide
	}
	if l.MaxSourceSide <= 0 {
		l.MaxSourceSide = DefaultLimits.MaxSourceSide
	}
	return l
}

// FillColor is the neutral background the source is placed on.
var FillColor = color.RGBA{R: 128, G: 128, B: 128, A: 255}

// Placement positions a source image on an expanded canvas.
// Offsets are fractions of the canvas size (0–1).
type Placement struct {
	CanvasWidth  int     `json:"canvas_width"`
	CanvasHeight int     `json:"canvas_height"`
	OffsetX      float64 `json:"offset_x"`
	OffsetY      float64 `json:"offset_y"`
	Scale        float64 `json:"scale,omitempty"`
}

// Composite is the derived outpaint input: the canvas shown to the provider,
// the binary mask (black = preserve, white = generate) and the placed source.
type Composite struct {
	Image  *image.RGBA
	Mask   *image.Gray
	Source image.Image
	Rect   image.Rectangle

	OffsetX      float64
	OffsetY      float64
	SourceWidth  int
	SourceHeight int
	CanvasWidth  int
	CanvasHeight int
	Scale        float64
}

// Build renders the composite and mask for src at placement p under
// DefaultLimits.
func Build(src image.Image, p Placement) (*Composite, error) {
	return DefaultLimits.Build(src, p)
}

// Build renders the composite and mask for src at placement p. Offsets are
// clamped so the source rectangle stays inside the canvas. Every size is
// checked before anything is allocated.
func (l Limits) Build(src image.Image, p Placement) (*Composite, error) {
	l = l.orDefault()
	if src == nil {
		return nil, fmt.Errorf("%w: nil source", ErrInvalidPlacement)
	}
	if p.CanvasWidth <= 0 || p.CanvasHeight <= 0 {
		return nil, fmt.Errorf("%w: canvas %dx%d", ErrInvalidPlacement, p.CanvasWidth, p.CanvasHeight)
	}
	if p.CanvasWidth > l.MaxCanvasSide || p.CanvasHeight > l.MaxCanvasSide {
		return nil, fmt.Errorf("%w: canvas %dx%d exceeds %dpx per side",
			ErrInvalidPlacement, p.CanvasWidth, p.CanvasHeight, l.MaxCanvasSide)
	}
	scale := p.Scale
	if scale == 0 {
		scale = 1
	}
	if scale < 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		return nil, fmt.Errorf("%w: scale %v", ErrInvalidPlacement, p.Scale)
	}

	// Compared as floats so a huge scale cannot overflow int.
	b := src.Bounds()
	fw := math.Round(float64(b.Dx()) * scale)
	fh := math.Round(float64(b.Dy()) * scale)
	if fw < 1 || fh < 1 {
		return nil, fmt.Errorf("%w: empty source after scaling", ErrInvalidPlacement)
	}
	if fw > float64(p.CanvasWidth) || fh > float64(p.CanvasHeight) {
		return nil, fmt.Errorf("%w: source %.0fx%.0f exceeds canvas %dx%d",
			ErrInvalidPlacement, fw, fh, p.CanvasWidth, p.CanvasHeight)
	}
	w, h := int(fw), int(fh)
	placed := scaleSource(src, w, h)

	x := clamp(int(math.Round(p.OffsetX*float64(p.CanvasWidth))), 0, p.CanvasWidth-w)
	y := clamp(int(math.Round(p.OffsetY*float64(p.CanvasHeight))), 0, p.CanvasHeight-h)
	rect := image.Rect(x, y, x+w, y+h)
	bounds := image.Rect(0, 0, p.CanvasWidth, p.CanvasHeight)

	canvas := image.NewRGBA(bounds)
	draw.Draw(canvas, bounds, image.NewUniform(FillColor), image.Point{}, draw.Src)
	draw.Draw(canvas, rect, placed, placed.Bounds().Min, draw.Over)

	mask := image.NewGray(bounds)
	draw.Draw(mask, bounds, image.White, image.Point{}, draw.Src)
	draw.Draw(mask, rect, image.Black, image.Point{}, draw.Src)

	return &Composite{
		Image:        canvas,
		Mask:         mask,
		Source:       placed,
		Rect:         rect,
		OffsetX:      float64(x) / float64(p.CanvasWidth),
		OffsetY:      float64(y) / float64(p.CanvasHeight),
		SourceWidth:  w,
		SourceHeight: h,
		CanvasWidth:  p.CanvasWidth,
		CanvasHeight: p.CanvasHeight,
		Scale:        scale,
	}, nil
}

// BuildFromBytes decodes src and calls Build under DefaultLimits.
func BuildFromBytes(src []byte, p Placement) (*Composite, error) {
	return DefaultLimits.BuildFromBytes(src, p)
}

func (l Limits) BuildFromBytes(src []byte, p Placement) (*Composite, error) {
	img, _, err := l.Decode(src)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPlacement, err)
	}
	return l.Build(img, p)
}

// EncodePNG returns the mask and composite canvas as PNG bytes.
func (c *Composite) EncodePNG() (mask, composite []byte, err error) {
	mask, err = EncodePNG(c.Mask)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding mask: %w", err)
	}
	composite, err = EncodePNG(c.Image)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding composite: %w", err)
	}
	return mask, composite, nil
}

func scaleSource(src image.Image, w, h int) image.Image {
	b := src.Bounds()
	if w == b.Dx() && h == b.Dy() {
		return src
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
