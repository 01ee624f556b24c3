package imagediff_test

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/raysh454/siteaudit/internal/imagediff"
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

var (
	white = color.RGBA{255, 255, 255, 255}
	black = color.RGBA{0, 0, 0, 255}
)

// ─── Compare ───────────────────────────────────────────────────────────

func TestCompare_IdenticalImagesAreZero(t *testing.T) {
	t.Parallel()
	res, err := imagediff.Compare(solid(10, 10, white), solid(10, 10, white))
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if res.Percent != 0 {
		t.Errorf("expected 0%%, got %v", res.Percent)
	}
	if got := res.Diff.RGBAAt(3, 3); got != white {
		t.Errorf("unchanged pixel should keep after colour, got %v", got)
	}
}

func TestCompare_QuarterChanged(t *testing.T) {
	t.Parallel()
	before := solid(10, 10, white)
	after := solid(10, 10, white)
	for y := 0; y < 5; y++ {
		for x := 0; x < 5; x++ {
			after.SetRGBA(x, y, black)
		}
	}
	res, err := imagediff.Compare(before, after)
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if res.Percent != 25 {
		t.Errorf("expected 25%%, got %v", res.Percent)
	}
	// black blended halfway with magenta
	want := color.RGBA{127, 0, 127, 255}
	if got := res.Diff.RGBAAt(0, 0); got != want {
		t.Errorf("changed pixel: got %v want %v", got, want)
	}
}

func TestCompare_NoiseBelowThresholdIgnored(t *testing.T) {
	t.Parallel()
	after := solid(4, 4, color.RGBA{240, 240, 240, 255})
	res, err := imagediff.Compare(solid(4, 4, white), after)
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if res.Percent != 0 {
		t.Errorf("difference of 15 should be ignored, got %v%%", res.Percent)
	}
}

func TestCompare_ResizesAfterToBefore(t *testing.T) {
	t.Parallel()
	res, err := imagediff.Compare(solid(8, 8, white), solid(16, 16, black))
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if b := res.Diff.Bounds(); b.Dx() != 8 || b.Dy() != 8 {
		t.Errorf("diff should match before bounds, got %v", b)
	}
	if res.Percent != 100 {
		t.Errorf("expected 100%%, got %v", res.Percent)
	}
}

func TestCompare_EmptyImage(t *testing.T) {
	t.Parallel()
	_, err := imagediff.Compare(image.NewRGBA(image.Rect(0, 0, 0, 0)), solid(2, 2, white))
	if !errors.Is(err, imagediff.ErrEmptyImage) {
		t.Fatalf("expected ErrEmptyImage, got %v", err)
	}
}

// ─── Encoded input ─────────────────────────────────────────────────────

func TestCompareBytes_PNGAndJPEG(t *testing.T) {
	t.Parallel()
	var a, b bytes.Buffer
	if err := png.Encode(&a, solid(6, 6, white)); err != nil {
		t.Fatal(err)
	}
	if err := jpeg.Encode(&b, solid(6, 6, black), &jpeg.Options{Quality: 90}); err != nil {
		t.Fatal(err)
	}
	res, err := imagediff.CompareBytes(a.Bytes(), b.Bytes())
	if err != nil {
		t.Fatalf("CompareBytes: %v", err)
	}
	if res.Percent != 100 {
		t.Errorf("expected 100%%, got %v", res.Percent)
	}
	enc, err := imagediff.EncodeJPEG(res.Diff)
	if err != nil || len(enc) == 0 {
		t.Fatalf("EncodeJPEG: %v (%d bytes)", err, len(enc))
	}
}

func TestCompareBytes_Garbage(t *testing.T) {
	t.Parallel()
	if _, err := imagediff.CompareBytes([]byte("nope"), []byte("nope")); err == nil {
		t.Fatal("expected decode error")
	}
}
