// Package imagediff compares consecutive screenshots of a page.
package imagediff

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	_ "image/png" // decode PNG screenshots too
	"math"

	"golang.org/x/image/draw"
)

// Threshold is the minimum grayscale difference for a pixel to count as
// changed. Smaller differences are treated as compression noise.
const Threshold = 20

// ErrEmptyImage is returned when either input has no pixels.
var ErrEmptyImage = errors.New("imagediff: empty image")

var highlight = color.RGBA{R: 255, G: 0, B: 255, A: 255}

// Result of a comparison.
type Result struct {
	// Percent of pixels that changed, rounded to 2 decimals.
	Percent float64
	// Diff is the after image with changed pixels tinted magenta.
	Diff *image.RGBA
}

// Compare measures how much after differs from before. after is resized to
// before's dimensions when they differ.
func Compare(before, after image.Image) (*Result, error) {
	bounds := before.Bounds()
	if bounds.Empty() || after.Bounds().Empty() {
		return nil, ErrEmptyImage
	}
	w, h := bounds.Dx(), bounds.Dy()

	a := toRGBA(before, w, h)
	b := toRGBA(after, w, h)

	diff := image.NewRGBA(image.Rect(0, 0, w, h))
	changed := 0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			pa := a.RGBAAt(x, y)
			pb := b.RGBAAt(x, y)
			if gray(absDiff(pa.R, pb.R), absDiff(pa.G, pb.G), absDiff(pa.B, pb.B)) > Threshold {
				changed++
				diff.SetRGBA(x, y, blend(pb, highlight))
			} else {
				diff.SetRGBA(x, y, pb)
			}
		}
	}

	pct := float64(changed) / float64(w*h) * 100
	return &Result{Percent: math.Round(pct*100) / 100, Diff: diff}, nil
}

// CompareBytes decodes two encoded images (JPEG or PNG) and compares them.
func CompareBytes(before, after []byte) (*Result, error) {
	a, _, err := image.Decode(bytes.NewReader(before))
	if err != nil {
		return nil, fmt.Errorf("decode before: %w", err)
	}
	b, _, err := image.Decode(bytes.NewReader(after))
	if err != nil {
		return nil, fmt.Errorf("decode after: %w", err)
	}
	return Compare(a, b)
}

// EncodeJPEG encodes img at the quality used for screenshots.
func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		return nil, fmt.Errorf("encode diff: %w", err)
	}
	return buf.Bytes(), nil
}

// toRGBA copies src into a w x h RGBA canvas, scaling when sizes differ.
func toRGBA(src image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	sb := src.Bounds()
	if sb.Dx() == w && sb.Dy() == h {
		draw.Draw(dst, dst.Bounds(), src, sb.Min, draw.Src)
		return dst
	}
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, sb, draw.Src, nil)
	return dst
}

func absDiff(x, y uint8) uint8 {
	if x > y {
		return x - y
	}
	return y - x
}

// gray is the ITU-R 601-2 luma transform.
func gray(r, g, b uint8) int {
	return (int(r)*299 + int(g)*587 + int(b)*114) / 1000
}

func blend(base, over color.RGBA) color.RGBA {
	mix := func(x, y uint8) uint8 { return uint8((int(x) + int(y)) / 2) }
	return color.RGBA{R: mix(base.R, over.R), G: mix(base.G, over.G), B: mix(base.B, over.B), A: 255}
}
