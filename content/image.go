package content

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	_ "image/gif"
	_ "image/png"
)

// StdImageProcessor is a minimal Processor implementation built entirely on
// the standard library. No third-party image-codec library appears
// anywhere in the example corpus this module was built from, and the spec
// names image resizing/codec glue as an out-of-scope external collaborator;
// this exists so the rest of the pipeline has something concrete to call
// by default, and is the seam a real deployment replaces.
type StdImageProcessor struct {
	// JPEGQuality controls the output encoder quality (1-100).
	JPEGQuality int
}

// NewStdImageProcessor returns a processor with a sensible default quality.
func NewStdImageProcessor() *StdImageProcessor {
	return &StdImageProcessor{JPEGQuality: 85}
}

// CenterCropResize crops the decoded image to a 1:1 aspect ratio around its
// center, then resizes the crop to size x size.
func (p *StdImageProcessor) CenterCropResize(data []byte, size int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("content: decoding image: %w", err)
	}
	cropped := centerCropSquare(img)
	return encodeResized(cropped, size, p.quality())
}

// LowPrecisionResize resizes the decoded image directly to size x size,
// ignoring aspect ratio, for the reduced-fidelity video-frame path.
func (p *StdImageProcessor) LowPrecisionResize(data []byte, size int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("content: decoding image: %w", err)
	}
	return encodeResized(img, size, p.quality())
}

func (p *StdImageProcessor) quality() int {
	if p.JPEGQuality <= 0 {
		return 85
	}
	return p.JPEGQuality
}

// centerCropSquare crops the largest centered square out of img.
func centerCropSquare(img image.Image) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	side := w
	if h < side {
		side = h
	}
	left := b.Min.X + (w-side)/2
	top := b.Min.Y + (h-side)/2
	rect := image.Rect(left, top, left+side, top+side)

	dst := image.NewRGBA(image.Rect(0, 0, side, side))
	draw.Draw(dst, dst.Bounds(), img, rect.Min, draw.Src)
	return dst
}

// resizeBilinear resizes src to exactly width x height using bilinear
// interpolation over the source's normalized coordinate space.
func resizeBilinear(src image.Image, width, height int) *image.RGBA {
	b := src.Bounds()
	sw, sh := b.Dx(), b.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	if sw == 0 || sh == 0 || width == 0 || height == 0 {
		return dst
	}
	xRatio := float64(sw) / float64(width)
	yRatio := float64(sh) / float64(height)
	for y := 0; y < height; y++ {
		sy := (float64(y)+0.5)*yRatio - 0.5
		for x := 0; x < width; x++ {
			sx := (float64(x)+0.5)*xRatio - 0.5
			dst.Set(x, y, bilinearSample(src, b, sx, sy))
		}
	}
	return dst
}

func bilinearSample(src image.Image, b image.Rectangle, sx, sy float64) color.Color {
	x0 := int(sx)
	y0 := int(sy)
	x1 := x0 + 1
	y1 := y0 + 1
	fx := sx - float64(x0)
	fy := sy - float64(y0)

	clampX := func(x int) int {
		if x < b.Min.X {
			return b.Min.X
		}
		if x >= b.Max.X {
			return b.Max.X - 1
		}
		return x
	}
	clampY := func(y int) int {
		if y < b.Min.Y {
			return b.Min.Y
		}
		if y >= b.Max.Y {
			return b.Max.Y - 1
		}
		return y
	}

	c00 := rgba64(src.At(clampX(x0), clampY(y0)))
	c10 := rgba64(src.At(clampX(x1), clampY(y0)))
	c01 := rgba64(src.At(clampX(x0), clampY(y1)))
	c11 := rgba64(src.At(clampX(x1), clampY(y1)))

	lerp := func(a, b, t float64) float64 { return a + (b-a)*t }
	var out [4]float64
	for i := 0; i < 4; i++ {
		top := lerp(c00[i], c10[i], fx)
		bot := lerp(c01[i], c11[i], fx)
		out[i] = lerp(top, bot, fy)
	}
	return color.RGBA{
		R: uint8(out[0]),
		G: uint8(out[1]),
		B: uint8(out[2]),
		A: uint8(out[3]),
	}
}

func rgba64(c color.Color) [4]float64 {
	r, g, bl, a := c.RGBA()
	return [4]float64{float64(r >> 8), float64(g >> 8), float64(bl >> 8), float64(a >> 8)}
}

func encodeResized(img image.Image, size int, quality int) ([]byte, error) {
	resized := resizeBilinear(img, size, size)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("content: encoding image: %w", err)
	}
	return buf.Bytes(), nil
}
