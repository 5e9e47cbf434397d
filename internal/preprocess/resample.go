package preprocess

import (
	"fmt"
	"math"

	"github.com/example/malaria-detect/internal/mlerr"
)

// gaussianTruncate is the kernel radius in standard deviations.
const gaussianTruncate = 4.0

// Resample resizes a row-major h x w grid to outH x outW. When shrinking, the
// grid is first smoothed with a Gaussian of sigma (scale-1)/2 per axis to avoid
// aliasing; samples are then taken bilinearly at pixel centers and clipped to
// the input range.
func Resample(src []float64, h, w, outH, outW int) ([]float64, error) {
	if h <= 0 || w <= 0 || outH <= 0 || outW <= 0 {
		return nil, fmt.Errorf("%w: invalid dimensions %dx%d -> %dx%d", mlerr.ErrShape, h, w, outH, outW)
	}
	if len(src) != h*w {
		return nil, fmt.Errorf("%w: cannot reshape %d values into %dx%d", mlerr.ErrShape, len(src), h, w)
	}

	lo, hi := src[0], src[0]
	for _, v := range src {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}

	scaleY := float64(h) / float64(outH)
	scaleX := float64(w) / float64(outW)

	grid := make([]float64, len(src))
	copy(grid, src)
	if sigma := (scaleY - 1) / 2; sigma > 0 {
		grid = blurColumns(grid, h, w, gaussianKernel(sigma))
	}
	if sigma := (scaleX - 1) / 2; sigma > 0 {
		grid = blurRows(grid, h, w, gaussianKernel(sigma))
	}

	out := make([]float64, outH*outW)
	for oy := 0; oy < outH; oy++ {
		y0, y1, fy := samplePoint(oy, scaleY, h)
		for ox := 0; ox < outW; ox++ {
			x0, x1, fx := samplePoint(ox, scaleX, w)
			top := grid[y0*w+x0]*(1-fx) + grid[y0*w+x1]*fx
			bottom := grid[y1*w+x0]*(1-fx) + grid[y1*w+x1]*fx
			v := top*(1-fy) + bottom*fy
			out[oy*outW+ox] = math.Min(hi, math.Max(lo, v))
		}
	}
	return out, nil
}

// samplePoint maps output index o to the two neighbouring input indices and
// the weight of the second one.
func samplePoint(o int, scale float64, n int) (int, int, float64) {
	c := (float64(o)+0.5)*scale - 0.5
	c = math.Max(0, math.Min(float64(n-1), c))
	i0 := int(math.Floor(c))
	i1 := min(i0+1, n-1)
	return i0, i1, c - float64(i0)
}

func gaussianKernel(sigma float64) []float64 {
	radius := int(gaussianTruncate*sigma + 0.5)
	kernel := make([]float64, 2*radius+1)
	var sum float64
	for i := -radius; i <= radius; i++ {
		v := math.Exp(-0.5 * float64(i*i) / (sigma * sigma))
		kernel[i+radius] = v
		sum += v
	}
	for i := range kernel {
		kernel[i] /= sum
	}
	return kernel
}

// mirror folds an out-of-range index back into [0, n) without repeating the
// edge sample.
func mirror(i, n int) int {
	if n == 1 {
		return 0
	}
	period := 2 * (n - 1)
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - i
	}
	return i
}

func blurRows(src []float64, h, w int, kernel []float64) []float64 {
	radius := len(kernel) / 2
	out := make([]float64, len(src))
	for y := 0; y < h; y++ {
		row := src[y*w : (y+1)*w]
		for x := 0; x < w; x++ {
			var acc float64
			for k, weight := range kernel {
				acc += weight * row[mirror(x+k-radius, w)]
			}
			out[y*w+x] = acc
		}
	}
	return out
}

func blurColumns(src []float64, h, w int, kernel []float64) []float64 {
	radius := len(kernel) / 2
	out := make([]float64, len(src))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			var acc float64
			for k, weight := range kernel {
				acc += weight * src[mirror(y+k-radius, h)*w+x]
			}
			out[y*w+x] = acc
		}
	}
	return out
}
