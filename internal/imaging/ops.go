package imaging

import (
	"fmt"
	"image"
	"image/color"
	"math"

	xdraw "golang.org/x/image/draw"
)

// ResizeGray resamples g to w x h with Catmull-Rom interpolation.
func ResizeGray(g *image.Gray, w, h int) *image.Gray {
	if w <= 0 || h <= 0 {
		return image.NewGray(image.Rect(0, 0, 0, 0))
	}
	dst := image.NewGray(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), g, g.Bounds(), xdraw.Src, nil)
	return dst
}

// FitGray downscales g so its longest side is at most maxSide.
// Images already within bounds are returned unchanged.
func FitGray(g *image.Gray, maxSide int) *image.Gray {
	w, h := g.Bounds().Dx(), g.Bounds().Dy()
	longest := w
	if h > longest {
		longest = h
	}
	if longest <= maxSide || longest == 0 {
		return g
	}
	scale := float64(maxSide) / float64(longest)
	return ResizeGray(g, max(1, int(float64(w)*scale)), max(1, int(float64(h)*scale)))
}

// Thumbnail returns an RGBA copy of src fitted within maxSide, using the
// cheaper approximate bilinear kernel.
func Thumbnail(src *image.RGBA, maxSide int) *image.RGBA {
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	longest := max(w, h)
	if longest <= maxSide || longest == 0 {
		return src
	}
	scale := float64(maxSide) / float64(longest)
	dst := image.NewRGBA(image.Rect(0, 0, max(1, int(float64(w)*scale)), max(1, int(float64(h)*scale))))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)
	return dst
}

// Crop returns a copy of the rectangle r of g, clipped to g's bounds.
func Crop(g *image.Gray, r image.Rectangle) *image.Gray {
	r = r.Intersect(g.Bounds())
	dst := image.NewGray(image.Rect(0, 0, r.Dx(), r.Dy()))
	for y := 0; y < r.Dy(); y++ {
		copy(dst.Pix[y*dst.Stride:y*dst.Stride+r.Dx()], g.Pix[(r.Min.Y+y)*g.Stride+r.Min.X:])
	}
	return dst
}

// Kernel is a square convolution kernel.
type Kernel [][]float64

// Sobel, Scharr and Laplacian kernels used by edge detection.
var (
	SobelX     = Kernel{{-1, 0, 1}, {-2, 0, 2}, {-1, 0, 1}}
	SobelY     = Kernel{{-1, -2, -1}, {0, 0, 0}, {1, 2, 1}}
	ScharrX    = Kernel{{-3, 0, 3}, {-10, 0, 10}, {-3, 0, 3}}
	ScharrY    = Kernel{{-3, -10, -3}, {0, 0, 0}, {3, 10, 3}}
	Laplacian4 = Kernel{{0, 1, 0}, {1, -4, 1}, {0, 1, 0}}
)

// Convolve applies k to g with clamped borders and returns raw responses.
func Convolve(g *image.Gray, k Kernel) []float64 {
	w, h := g.Bounds().Dx(), g.Bounds().Dy()
	out := make([]float64, w*h)
	r := len(k) / 2
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var sum float64
			for ky := range k {
				sy := clamp(y+ky-r, 0, h-1)
				for kx := range k[ky] {
					sx := clamp(x+kx-r, 0, w-1)
					sum += k[ky][kx] * float64(g.Pix[sy*g.Stride+sx])
				}
			}
			out[y*w+x] = sum
		}
	}
	return out
}

// GradientMagnitude combines two directional responses into |G|.
func GradientMagnitude(g *image.Gray, kx, ky Kernel) []float64 {
	gx := Convolve(g, kx)
	gy := Convolve(g, ky)
	for i := range gx {
		gx[i] = math.Hypot(gx[i], gy[i])
	}
	return gx
}

// EdgeMask thresholds responses into a boolean mask.
func EdgeMask(responses []float64, threshold float64) []bool {
	mask := make([]bool, len(responses))
	for i, v := range responses {
		mask[i] = math.Abs(v) >= threshold
	}
	return mask
}

// EdgeDensity returns the fraction of pixels whose Sobel magnitude exceeds threshold.
func EdgeDensity(g *image.Gray, threshold float64) float64 {
	mag := GradientMagnitude(g, SobelX, SobelY)
	if len(mag) == 0 {
		return 0
	}
	var n int
	for _, v := range mag {
		if v >= threshold {
			n++
		}
	}
	return float64(n) / float64(len(mag))
}

// LaplacianVariance is the variance of the Laplacian response, a blur measure.
func LaplacianVariance(g *image.Gray) float64 {
	return variance(Convolve(g, Laplacian4))
}

// Sharpen applies an unsharp mask with the given amount.
func Sharpen(g *image.Gray, amount float64) *image.Gray {
	lap := Convolve(g, Laplacian4)
	dst := image.NewGray(g.Bounds())
	w := g.Bounds().Dx()
	for i := range dst.Pix {
		x, y := i%w, i/w
		v := float64(g.Pix[y*g.Stride+x]) - amount*lap[i]
		dst.Pix[i] = uint8(clamp(int(math.Round(v)), 0, 255))
	}
	return dst
}

// Stats returns mean and standard deviation of intensities.
func Stats(g *image.Gray) (mean, stddev float64) {
	if len(g.Pix) == 0 {
		return 0, 0
	}
	var sum, sq float64
	for _, p := range g.Pix {
		v := float64(p)
		sum += v
		sq += v * v
	}
	n := float64(len(g.Pix))
	mean = sum / n
	return mean, math.Sqrt(math.Max(0, sq/n-mean*mean))
}

// Similarity returns a global structural similarity index in [0,1] between
// two grayscale images. Images of different size are compared after
// resizing b to a's dimensions.
func Similarity(a, b *image.Gray) float64 {
	if a.Bounds().Dx() != b.Bounds().Dx() || a.Bounds().Dy() != b.Bounds().Dy() {
		b = ResizeGray(b, a.Bounds().Dx(), a.Bounds().Dy())
	}
	if len(a.Pix) == 0 {
		return 1
	}
	const (
		c1 = (0.01 * 255) * (0.01 * 255)
		c2 = (0.03 * 255) * (0.03 * 255)
	)
	ma, sa := Stats(a)
	mb, sb := Stats(b)
	var cov float64
	for i := range a.Pix {
		cov += (float64(a.Pix[i]) - ma) * (float64(b.Pix[i]) - mb)
	}
	cov /= float64(len(a.Pix))
	ssim := ((2*ma*mb + c1) * (2*cov + c2)) / ((ma*ma + mb*mb + c1) * (sa*sa + sb*sb + c2))
	return math.Max(0, math.Min(1, ssim))
}

// Median composites frames of identical size by per-pixel median.
func Median(frames []*image.Gray) (*image.Gray, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("no frames to composite")
	}
	b := frames[0].Bounds()
	for _, f := range frames[1:] {
		if f.Bounds().Dx() != b.Dx() || f.Bounds().Dy() != b.Dy() {
			return nil, fmt.Errorf("frame size mismatch: %v vs %v", f.Bounds(), b)
		}
	}
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	values := make([]uint8, len(frames))
	for i := range dst.Pix {
		for j, f := range frames {
			v := f.Pix[i]
			k := j
			for ; k > 0 && values[k-1] > v; k-- {
				values[k] = values[k-1]
			}
			values[k] = v
		}
		dst.Pix[i] = values[len(values)/2]
	}
	return dst, nil
}

// EstimateShift finds the integer translation (dx, dy) within ±radius that
// best aligns moving onto ref, and returns the normalized match score in
// [0,1] (1 = identical overlap).
func EstimateShift(ref, moving *image.Gray, radius int) (dx, dy int, score float64) {
	w, h := ref.Bounds().Dx(), ref.Bounds().Dy()
	if w != moving.Bounds().Dx() || h != moving.Bounds().Dy() || w == 0 || h == 0 {
		return 0, 0, 0
	}
	best := math.MaxFloat64
	for sy := -radius; sy <= radius; sy++ {
		for sx := -radius; sx <= radius; sx++ {
			var sum float64
			var n int
			for y := max(0, sy); y < min(h, h+sy); y += 2 {
				for x := max(0, sx); x < min(w, w+sx); x += 2 {
					d := float64(ref.Pix[y*ref.Stride+x]) - float64(moving.Pix[(y-sy)*moving.Stride+(x-sx)])
					sum += math.Abs(d)
					n++
				}
			}
			if n == 0 {
				continue
			}
			if mad := sum / float64(n); mad < best {
				best, dx, dy = mad, sx, sy
			}
		}
	}
	return dx, dy, 1 - best/255
}

// Shift translates g by (dx, dy), filling uncovered pixels from the border.
func Shift(g *image.Gray, dx, dy int) *image.Gray {
	w, h := g.Bounds().Dx(), g.Bounds().Dy()
	dst := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		sy := clamp(y-dy, 0, h-1)
		for x := 0; x < w; x++ {
			dst.Pix[y*dst.Stride+x] = g.Pix[sy*g.Stride+clamp(x-dx, 0, w-1)]
		}
	}
	return dst
}

// DifferenceHash computes a 64-bit perceptual dHash of g.
func DifferenceHash(g *image.Gray) uint64 {
	small := ResizeGray(g, 9, 8)
	var hash uint64
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			hash <<= 1
			if small.Pix[y*small.Stride+x] < small.Pix[y*small.Stride+x+1] {
				hash |= 1
			}
		}
	}
	return hash
}

// DominantColor returns the most populated cell of a coarse RGB histogram,
// ignoring transparent pixels, and the fraction of pixels it covers.
func DominantColor(src *image.RGBA) (color.RGBA, float64) {
	const bits = 4
	type bucket struct {
		n       int
		r, g, b int
	}
	buckets := make(map[int]*bucket)
	var total int
	for i := 0; i+3 < len(src.Pix); i += 4 {
		if src.Pix[i+3] < 128 {
			continue
		}
		r, g, b := int(src.Pix[i]), int(src.Pix[i+1]), int(src.Pix[i+2])
		idx := (r>>bits)<<8 | (g>>bits)<<4 | b>>bits
		bk, ok := buckets[idx]
		if !ok {
			bk = &bucket{}
			buckets[idx] = bk
		}
		bk.n++
		bk.r += r
		bk.g += g
		bk.b += b
		total++
	}
	if total == 0 {
		return color.RGBA{}, 0
	}
	var bestIdx, bestN = -1, 0
	for idx, bk := range buckets {
		if bk.n > bestN || (bk.n == bestN && idx < bestIdx) {
			bestIdx, bestN = idx, bk.n
		}
	}
	bk := buckets[bestIdx]
	return color.RGBA{
		R: uint8(bk.r / bk.n),
		G: uint8(bk.g / bk.n),
		B: uint8(bk.b / bk.n),
		A: 255,
	}, float64(bk.n) / float64(total)
}

// Hex formats a color as #rrggbb.
func Hex(c color.RGBA) string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

func variance(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum, sq float64
	for _, v := range values {
		sum += v
		sq += v * v
	}
	n := float64(len(values))
	mean := sum / n
	return math.Max(0, sq/n-mean*mean)
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
