package pipeline

import (
	"image"
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/stat"
)

// gradientRGBA builds a size×size image with per-pixel values derived from
// the coordinates, so spatial transforms are observable.
func gradientRGBA(size int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := range size {
		for x := range size {
			off := img.PixOffset(x, y)
			img.Pix[off+0] = uint8(x * 251 % 256)
			img.Pix[off+1] = uint8(y * 241 % 256)
			img.Pix[off+2] = uint8((x + y) * 239 % 256)
			img.Pix[off+3] = 0xff
		}
	}
	return img
}

// TestCropMirrorNormalize checks the normalization formula, the CHW layout
// and the horizontal mirror against hand-computed values.
func TestCropMirrorNormalize(t *testing.T) {
	const size, crop = 4, 2
	img := gradientRGBA(size)

	plain := make([]float32, 3*crop*crop)
	mirrored := make([]float32, 3*crop*crop)
	cropMirrorNormalize(img, crop, false, plain)
	cropMirrorNormalize(img, crop, true, mirrored)

	// Center crop of a 4×4 with crop 2 starts at (1,1).
	plane := crop * crop
	for y := range crop {
		for x := range crop {
			off := img.PixOffset(1+x, 1+y)
			for c := range 3 {
				want := (float32(img.Pix[off+c]) - imagenetMean[c]) / imagenetStd[c]
				if got := plain[c*plane+y*crop+x]; got != want {
					t.Fatalf("plain[%d,%d,%d] = %v, want %v", c, y, x, got, want)
				}
				if got := mirrored[c*plane+y*crop+(crop-1-x)]; got != want {
					t.Fatalf("mirrored[%d,%d,%d] = %v, want %v", c, y, crop-1-x, got, want)
				}
			}
		}
	}
}

// TestResizeToDims verifies output dimensions of the triangular resize.
func TestResizeToDims(t *testing.T) {
	img := gradientRGBA(32)
	out := resizeTo(img, img.Bounds(), 16)
	if b := out.Bounds(); b.Dx() != 16 || b.Dy() != 16 {
		t.Fatalf("unexpected resize bounds: %v", b)
	}
}

// TestRotateZeroIsIdentity checks that a 0° rotation reproduces the source
// exactly, the baseline for the evaluation branch staying untouched.
func TestRotateZeroIsIdentity(t *testing.T) {
	img := gradientRGBA(16)
	out := rotate(img, 0)
	for i := range img.Pix {
		if out.Pix[i] != img.Pix[i] {
			t.Fatalf("pixel %d changed after 0° rotation: %d != %d", i, out.Pix[i], img.Pix[i])
		}
	}
}

// TestRotateFillsBorders checks that a rotation exposes zero-filled corners.
func TestRotateFillsBorders(t *testing.T) {
	const size = 32
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	out := rotate(img, 30)
	// The source corner rotates out of frame, leaving the fill value.
	off := out.PixOffset(0, 0)
	if out.Pix[off] != 0 {
		t.Fatalf("expected zero fill at rotated corner, got %d", out.Pix[off])
	}
	// The center is untouched by a rotation about the center.
	off = out.PixOffset(size/2, size/2)
	if out.Pix[off] == 0 {
		t.Fatalf("expected center pixel to survive rotation")
	}
}

// TestRandomCropBounds draws many crop windows and checks they stay within
// the source bounds with area in the configured range.
func TestRandomCropBounds(t *testing.T) {
	const resize, crop = 16, 12
	rng := rand.New(rand.NewSource(7))
	bounds := image.Rect(0, 0, 64, 48)
	total := float64(bounds.Dx() * bounds.Dy())
	areaLo := float64(crop) / float64(resize)

	for range 1000 {
		r := randomCrop(rng, bounds, resize, crop)
		if !r.In(bounds) {
			t.Fatalf("crop %v escapes bounds %v", r, bounds)
		}
		area := float64(r.Dx() * r.Dy())
		// Rounding of the sampled side lengths wiggles the area slightly.
		if area < areaLo*total*0.9 || area > total*1.01 {
			t.Fatalf("crop %v area %v outside [%v, %v]", r, area, areaLo*total, total)
		}
	}
}

// TestCenterSquare checks the deterministic fallback window.
func TestCenterSquare(t *testing.T) {
	r := centerSquare(image.Rect(0, 0, 10, 6))
	if r != image.Rect(2, 0, 8, 6) {
		t.Fatalf("unexpected center square: %v", r)
	}
}

// TestMirrorRate samples the training coin flip many times and checks that
// roughly half the outputs come out mirrored, detected on the produced
// pixels rather than on the flag.
func TestMirrorRate(t *testing.T) {
	const size, crop = 8, 6
	img := gradientRGBA(size)

	plain := make([]float32, 3*crop*crop)
	mirrored := make([]float32, 3*crop*crop)
	cropMirrorNormalize(img, crop, false, plain)
	cropMirrorNormalize(img, crop, true, mirrored)

	rng := rand.New(rand.NewSource(DefaultSeed))
	const trials = 2000
	flips := make([]float64, trials)
	out := make([]float32, 3*crop*crop)
	for i := range trials {
		cropMirrorNormalize(img, crop, rng.Float64() < 0.5, out)
		switch {
		case equalFloats(out, mirrored):
			flips[i] = 1
		case equalFloats(out, plain):
			flips[i] = 0
		default:
			t.Fatalf("trial %d produced neither the plain nor the mirrored output", i)
		}
	}

	rate := stat.Mean(flips, nil)
	if math.Abs(rate-0.5) > 0.05 {
		t.Fatalf("mirror rate %v too far from 0.5", rate)
	}
}

func equalFloats(a, b []float32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
