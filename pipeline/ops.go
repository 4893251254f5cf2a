package pipeline

import (
	"bytes"
	"image"
	_ "image/jpeg" // shard images are JPEG encoded
	_ "image/png"
	"math"
	"math/rand"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// Per-channel ImageNet normalization constants, expressed on the 0-255
// scale the decoded pixels use.
var (
	imagenetMean = [3]float32{0.485 * 255, 0.456 * 255, 0.406 * 255}
	imagenetStd  = [3]float32{0.229 * 255, 0.224 * 255, 0.225 * 255}
)

// cropAttempts bounds the random-crop rejection sampling before falling
// back to a deterministic center crop.
const cropAttempts = 100

// maxRotateDegrees bounds the random training rotation to ±30°.
const maxRotateDegrees = 30.0

func decodeImage(encoded []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(encoded))
	return img, err
}

// randomCrop samples a crop window with area in [crop/resize, 1.0] of the
// source and aspect ratio in [crop/resize, resize/crop]. After the bounded
// attempts it falls back to the centered square.
func randomCrop(rng *rand.Rand, bounds image.Rectangle, resize, crop int) image.Rectangle {
	w, h := bounds.Dx(), bounds.Dy()
	areaLo := float64(crop) / float64(resize)
	aspectLo := float64(crop) / float64(resize)
	aspectHi := float64(resize) / float64(crop)

	for range cropAttempts {
		area := (areaLo + rng.Float64()*(1-areaLo)) * float64(w) * float64(h)
		aspect := aspectLo + rng.Float64()*(aspectHi-aspectLo)
		cw := int(math.Round(math.Sqrt(area * aspect)))
		ch := int(math.Round(math.Sqrt(area / aspect)))
		if cw < 1 || ch < 1 || cw > w || ch > h {
			continue
		}
		x := bounds.Min.X + rng.Intn(w-cw+1)
		y := bounds.Min.Y + rng.Intn(h-ch+1)
		return image.Rect(x, y, x+cw, y+ch)
	}
	return centerSquare(bounds)
}

func centerSquare(bounds image.Rectangle) image.Rectangle {
	side := min(bounds.Dx(), bounds.Dy())
	x := bounds.Min.X + (bounds.Dx()-side)/2
	y := bounds.Min.Y + (bounds.Dy()-side)/2
	return image.Rect(x, y, x+side, y+side)
}

// resizeTo scales the sr region of src to a size×size image using the
// triangular (tent) filter, which is draw.BiLinear.
func resizeTo(src image.Image, sr image.Rectangle, size int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, sr, draw.Src, nil)
	return dst
}

// rotate turns src by the given angle around its center, keeping the
// original size. Pixels exposed by the rotation keep the zero fill value.
func rotate(src *image.RGBA, degrees float64) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(b)
	sin, cos := math.Sincos(degrees * math.Pi / 180)
	cx := float64(b.Min.X) + float64(b.Dx())/2
	cy := float64(b.Min.Y) + float64(b.Dy())/2
	m := f64.Aff3{
		cos, -sin, cx - cos*cx + sin*cy,
		sin, cos, cy - sin*cx - cos*cy,
	}
	draw.BiLinear.Transform(dst, m, src, b, draw.Src, nil)
	return dst
}

// cropMirrorNormalize center-crops src to crop×crop, optionally mirrors it
// horizontally, and writes the normalized result into out in CHW order.
// out must have room for 3*crop*crop values.
func cropMirrorNormalize(src *image.RGBA, crop int, mirror bool, out []float32) {
	b := src.Bounds()
	x0 := b.Min.X + (b.Dx()-crop)/2
	y0 := b.Min.Y + (b.Dy()-crop)/2
	plane := crop * crop
	for y := range crop {
		row := src.PixOffset(x0, y0+y)
		for x := range crop {
			off := row + x*4
			ox := x
			if mirror {
				ox = crop - 1 - x
			}
			for c := range 3 {
				v := float32(src.Pix[off+c])
				out[c*plane+y*crop+ox] = (v - imagenetMean[c]) / imagenetStd[c]
			}
		}
	}
}

// augmentTrain runs the training branch: decode with random crop, resize,
// random rotation, then the shared center-crop/mirror/normalize tail.
func (p *Pipeline) augmentTrain(encoded []byte, rng *rand.Rand, out []float32) error {
	img, err := decodeImage(encoded)
	if err != nil {
		return err
	}
	window := randomCrop(rng, img.Bounds(), p.cfg.Resize, p.cfg.Crop)
	resized := resizeTo(img, window, p.cfg.Resize)
	mirror := rng.Float64() < 0.5
	angle := rng.Float64()*2*maxRotateDegrees - maxRotateDegrees
	rotated := rotate(resized, angle)
	cropMirrorNormalize(rotated, p.cfg.Crop, mirror, out)
	return nil
}

// transformEval runs the deterministic evaluation branch: decode, resize,
// center crop and normalize. No mirroring, no rotation.
func (p *Pipeline) transformEval(encoded []byte, out []float32) error {
	img, err := decodeImage(encoded)
	if err != nil {
		return err
	}
	resized := resizeTo(img, img.Bounds(), p.cfg.Resize)
	cropMirrorNormalize(resized, p.cfg.Crop, false, out)
	return nil
}
