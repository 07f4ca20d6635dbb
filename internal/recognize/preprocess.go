package recognize

import (
	"bytes"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// prepare decodes the raw screenshot and applies purpose-specific cleanup
// before the image is handed to an engine. Captchas get a coarse upscale
// and global binarization; time digits are small and anti-aliased, so they
// get a bigger upscale, sharpening, and an adaptive threshold.
func prepare(raw []byte, purpose Purpose, aggressive bool) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}

	gray := imaging.Grayscale(img)
	switch purpose {
	case PurposeTimeField:
		gray = imaging.Resize(gray, gray.Bounds().Dx()*4, 0, imaging.Lanczos)
		gray = imaging.Sharpen(gray, 2.0)
		gray = imaging.AdjustContrast(gray, 30)
	default:
		gray = imaging.Resize(gray, gray.Bounds().Dx()*3, 0, imaging.Lanczos)
		gray = imaging.AdjustContrast(gray, 50)
	}

	var out *image.NRGBA
	if aggressive || purpose == PurposeTimeField {
		out = adaptiveThreshold(gray, 15, 7)
	} else {
		out = binarize(gray, 128)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, out, imaging.PNG); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// binarize performs a simple global threshold on a grayscale image.
func binarize(img image.Image, threshold uint8) *image.NRGBA {
	b := img.Bounds()
	out := image.NewNRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bb, _ := img.At(x, y).RGBA()
			gray := uint8((r + g + bb) / 3 >> 8)
			var v uint8 = 255
			if gray <= threshold {
				v = 0
			}
			out.Set(x, y, color.NRGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return out
}

// adaptiveThreshold performs a mean adaptive threshold over a sliding
// window, using a summed-area table for the window means.
func adaptiveThreshold(img image.Image, window int, bias int) *image.NRGBA {
	if window < 3 {
		window = 3
	}
	if window%2 == 0 {
		window++
	}
	w := img.Bounds().Dx()
	h := img.Bounds().Dy()
	out := imaging.New(w, h, color.NRGBA{255, 255, 255, 255})
	half := window / 2
	ints := make([]int, w*h)
	for y := 0; y < h; y++ {
		rowSum := 0
		for x := 0; x < w; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			v := int((r + g + b) / 3 >> 8)
			rowSum += v
			idx := y*w + x
			if y == 0 {
				ints[idx] = rowSum
			} else {
				ints[idx] = ints[(y-1)*w+x] + rowSum
			}
		}
	}
	// ints is inclusive, so the window [x0..x1]x[y0..y1] subtracts the
	// prefix sums just outside it; out-of-range corners contribute zero.
	sat := func(x, y int) int {
		if x < 0 || y < 0 {
			return 0
		}
		return ints[y*w+x]
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			x0, y0 := x-half, y-half
			x1, y1 := x+half, y+half
			if x0 < 0 {
				x0 = 0
			}
			if y0 < 0 {
				y0 = 0
			}
			if x1 >= w {
				x1 = w - 1
			}
			if y1 >= h {
				y1 = h - 1
			}
			sum := sat(x1, y1) - sat(x0-1, y1) - sat(x1, y0-1) + sat(x0-1, y0-1)
			mean := sum / ((x1 - x0 + 1) * (y1 - y0 + 1))
			rv, gv, bv, _ := img.At(x, y).RGBA()
			pix := int((rv + gv + bv) / 3 >> 8)
			th := mean - bias
			if th < 0 {
				th = 0
			}
			if pix < th {
				out.Set(x, y, color.NRGBA{0, 0, 0, 255})
			} else {
				out.Set(x, y, color.NRGBA{255, 255, 255, 255})
			}
		}
	}
	return out
}
