package generation

import (
	"fmt"
	"strings"

	"github.com/aiox-platform/genstudio/internal/outpaint"
)

// outpaintInstruction explains the mask convention to the provider. The
// first image is the mask, the second the composite canvas.
const outpaintInstruction = `Extend the image beyond its borders. You receive two images: ` +
	`the first is a mask and the second is the canvas. Black areas of the mask mark the ` +
	`original picture, which must be kept exactly as it is. White areas mark empty canvas ` +
	`(filled with neutral gray) that you must fill with new content continuing the original ` +
	`seamlessly. Instructions: %s`

// Payload is one variant of provider submission.
type Payload interface {
	Mode() Mode
	Build(modelID string) (Submission, error)
}

// TextToImage is a prompt-only generation.
type TextToImage struct {
	Prompt      string
	AspectRatio string
	Resolution  string
}

func (TextToImage) Mode() Mode { return ModeTextToImage }

func (p TextToImage) Build(modelID string) (Submission, error) {
	return Submission{
		ModelID:     modelID,
		Prompt:      p.Prompt,
		Mode:        ModeTextToImage,
		AspectRatio: p.AspectRatio,
		Resolution:  p.Resolution,
	}, nil
}

// ImageToImage is a prompt plus reference images, in upload order.
type ImageToImage struct {
	Prompt      string
	References  []ImageRef
	AspectRatio string
	Resolution  string
}

func (ImageToImage) Mode() Mode { return ModeImageToImage }

func (p ImageToImage) Build(modelID string) (Submission, error) {
	images := make([]ImageRef, len(p.References))
	copy(images, p.References)
	return Submission{
		ModelID:     modelID,
		Prompt:      p.Prompt,
		Mode:        ModeImageToImage,
		Images:      images,
		AspectRatio: p.AspectRatio,
		Resolution:  p.Resolution,
	}, nil
}

// Outpaint expands a single source image onto a larger canvas.
type Outpaint struct {
	Prompt    string
	Source    ImageRef
	Placement outpaint.Placement
	Limits    outpaint.Limits
}

func (Outpaint) Mode() Mode { return ModeOutpaint }

// Build renders the composite and mask and sends them as [mask, composite].
func (p Outpaint) Build(modelID string) (Submission, error) {
	c, err := p.Limits.BuildFromBytes(p.Source.Data, p.Placement)
	if err != nil {
		return Submission{}, &ValidationError{Field: "outpaint", Message: err.Error()}
	}
	mask, composite, err := c.EncodePNG()
	if err != nil {
		return Submission{}, fmt.Errorf("encoding outpaint inputs: %w", err)
	}
	return Submission{
		ModelID: modelID,
		Prompt:  fmt.Sprintf(outpaintInstruction, p.Prompt),
		Mode:    ModeOutpaint,
		Images: []ImageRef{
			{Data: mask, MimeType: "image/png"},
			{Data: composite, MimeType: "image/png"},
		},
		AspectRatio: aspectRatio(c.CanvasWidth, c.CanvasHeight),
		Resolution:  fmt.Sprintf("%dx%d", c.CanvasWidth, c.CanvasHeight),
	}, nil
}

// NewPayload picks the variant for req.Mode and checks the mode-specific
// inputs.
func NewPayload(req Request) (Payload, error) {
	prompt := strings.TrimSpace(req.Prompt)

	switch req.Mode {
	case ModeTextToImage:
		if len(req.Images) > 0 {
			return nil, invalid("reference_images", "not accepted in %s mode", req.Mode)
		}
		return TextToImage{Prompt: prompt, AspectRatio: req.AspectRatio, Resolution: req.Resolution}, nil
	case ModeImageToImage:
		if len(req.Images) == 0 {
			return nil, invalid("reference_images", "at least one image is required in %s mode", req.Mode)
		}
		return ImageToImage{
			Prompt:      prompt,
			References:  req.Images,
			AspectRatio: req.AspectRatio,
			Resolution:  req.Resolution,
		}, nil
	case ModeOutpaint:
		if len(req.Images) != 1 {
			return nil, invalid("reference_images", "exactly one source image is required in %s mode", req.Mode)
		}
		if req.Outpaint == nil {
			return nil, invalid("outpaint", "placement is required in %s mode", req.Mode)
		}
		return Outpaint{Prompt: prompt, Source: req.Images[0], Placement: *req.Outpaint}, nil
	default:
		return nil, invalid("mode", "unknown mode %q", req.Mode)
	}
}

func aspectRatio(w, h int) string {
	g := gcd(w, h)
	if g == 0 {
		return ""
	}
	return fmt.Sprintf("%d:%d", w/g, h/g)
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
