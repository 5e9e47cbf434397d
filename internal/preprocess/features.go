package preprocess

import "fmt"

const (
	// GrayscaleLen is the length of the flattened grayscale canvas.
	GrayscaleLen = CanvasSize * CanvasSize
	// FeatureSide is the side of the downsampled grayscale image.
	FeatureSide = 100
	// FeatureLen is the length of the vector handed to the reducer.
	FeatureLen = FeatureSide * FeatureSide
)

// ITU-R BT.709 luminance weights.
const (
	lumaR = 0.2125
	lumaG = 0.7154
	lumaB = 0.0721
)

// ToFeatureVector converts a normalized image into the FeatureLen vector the
// reducer expects: grayscale, brighten, downsample, flatten.
func ToFeatureVector(n *NormalizedImage) ([]float64, error) {
	gray := Grayscale(n)
	Brighten(gray)
	out, err := Resample(gray, CanvasSize, CanvasSize, FeatureSide, FeatureSide)
	if err != nil {
		return nil, fmt.Errorf("resize grayscale: %w", err)
	}
	return out, nil
}

// Grayscale flattens n into GrayscaleLen luminance values in [0, 1].
func Grayscale(n *NormalizedImage) []float64 {
	img := n.img
	out := make([]float64, 0, GrayscaleLen)
	for y := 0; y < CanvasSize; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < CanvasSize; x++ {
			r := float64(row[x*4]) / 255
			g := float64(row[x*4+1]) / 255
			b := float64(row[x*4+2]) / 255
			out = append(out, lumaR*r+lumaG*g+lumaB*b)
		}
	}
	return out
}

// Brighten replaces, in place, every element exactly equal to zero with the
// maximum of v as it was before any replacement. Genuinely black interior
// pixels are brightened along with the padding.
func Brighten(v []float64) {
	if len(v) == 0 {
		return
	}
	peak := v[0]
	for _, x := range v[1:] {
		if x > peak {
			peak = x
		}
	}
	for i, x := range v {
		if x == 0 {
			v[i] = peak
		}
	}
}
