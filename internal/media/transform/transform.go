package transform

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"

	xdraw "golang.org/x/image/draw"

	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// Size names one of the fixed thumbnail resolutions.
type Size string

const (
	SizeSmall  Size = "small"
	SizeMedium Size = "medium"
	SizeLarge  Size = "large"
)

// ErrUndecodable marks a source buffer that could not be decoded despite a
// plausible declared content type. Terminal for the item, never retryable.
var ErrUndecodable = errors.New("undecodable image")

type Config struct {
	SmallEdge   int
	MediumEdge  int
	LargeEdge   int
	JPEGQuality int
}

func (c Config) withDefaults() Config {
	if c.SmallEdge <= 0 {
		c.SmallEdge = 400
	}
	if c.MediumEdge <= 0 {
		c.MediumEdge = 800
	}
	if c.LargeEdge <= 0 {
		c.LargeEdge = 1200
	}
	if c.JPEGQuality <= 0 {
		c.JPEGQuality = 85
	}
	return c
}

// Variant is one encoded derivative of a source image.
type Variant struct {
	Size   Size
	Width  int
	Height int
	Data   []byte
}

// Output carries the source dimensions and every configured variant.
// Transform either returns all variants or fails; callers never see a
// partial set.
type Output struct {
	Width    int
	Height   int
	Variants []Variant
}

func (o *Output) Variant(size Size) (Variant, bool) {
	for _, v := range o.Variants {
		if v.Size == size {
			return v, true
		}
	}
	return Variant{}, false
}

// Engine decodes one source image and derives the fixed set of resized
// variants. This is the CPU-bound stage of the pipeline.
type Engine struct {
	cfg Config
}

func New(cfg Config) *Engine {
	return &Engine{cfg: cfg.withDefaults()}
}

func (e *Engine) Transform(src []byte) (*Output, error) {
	img, format, err := image.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}

	bounds := img.Bounds()
	out := &Output{
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	}

	targets := []struct {
		size Size
		edge int
	}{
		{SizeSmall, e.cfg.SmallEdge},
		{SizeMedium, e.cfg.MediumEdge},
		{SizeLarge, e.cfg.LargeEdge},
	}

	for _, target := range targets {
		variant, err := e.renderVariant(img, target.size, target.edge)
		if err != nil {
			return nil, fmt.Errorf("render %s variant of %s source: %w", target.size, format, err)
		}
		out.Variants = append(out.Variants, variant)
	}

	return out, nil
}

func (e *Engine) renderVariant(img image.Image, size Size, edge int) (Variant, error) {
	bounds := img.Bounds()
	w, h := fitWithin(bounds.Dx(), bounds.Dy(), edge)

	scaled := img
	if w != bounds.Dx() || h != bounds.Dy() {
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, xdraw.Src, nil)
		scaled = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, scaled, &jpeg.Options{Quality: e.cfg.JPEGQuality}); err != nil {
		return Variant{}, fmt.Errorf("encode jpeg: %w", err)
	}

	return Variant{
		Size:   size,
		Width:  w,
		Height: h,
		Data:   buf.Bytes(),
	}, nil
}

// fitWithin shrinks the dimensions so the long edge matches the target,
// preserving aspect ratio. Sources smaller than the target are left alone.
func fitWithin(w, h, edge int) (int, int) {
	long := w
	if h > w {
		long = h
	}
	if long <= edge {
		return w, h
	}

	if w >= h {
		scaled := int(float64(h)*float64(edge)/float64(w) + 0.5)
		if scaled < 1 {
			scaled = 1
		}
		return edge, scaled
	}
	scaled := int(float64(w)*float64(edge)/float64(h) + 0.5)
	if scaled < 1 {
		scaled = 1
	}
	return scaled, edge
}
