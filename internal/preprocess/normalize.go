// Package preprocess turns uploaded cell images into the fixed-length feature
// vectors the classifiers were fitted on.
package preprocess

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/nfnt/resize"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/example/malaria-detect/internal/mlerr"
)

// CanvasSize is the side of the square canvas every upload is padded onto.
const CanvasSize = 220

// NormalizedImage is an opaque CanvasSize x CanvasSize RGB image. Alpha in the
// upload is discarded, not composited.
type NormalizedImage struct {
	img *image.RGBA
}

// Image exposes the underlying canvas. Callers must not modify it.
func (n *NormalizedImage) Image() *image.RGBA {
	return n.img
}

// RGB returns the pixels as interleaved R, G, B bytes in row-major order.
func (n *NormalizedImage) RGB() []uint8 {
	out := make([]uint8, 0, CanvasSize*CanvasSize*3)
	for y := 0; y < CanvasSize; y++ {
		row := n.img.Pix[y*n.img.Stride : y*n.img.Stride+CanvasSize*4]
		for x := 0; x < CanvasSize; x++ {
			out = append(out, row[x*4], row[x*4+1], row[x*4+2])
		}
	}
	return out
}

// Normalize decodes data and fits it, aspect ratio preserved, into a black
// CanvasSize square. The scaled image is centered using floor division of the
// remaining space.
func Normalize(data []byte) (*NormalizedImage, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", mlerr.ErrDecode, err)
	}
	return Pad(src)
}

// Pad performs the fit-and-center step of Normalize on an already decoded image.
func Pad(src image.Image) (*NormalizedImage, error) {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("%w: empty image %dx%d", mlerr.ErrDecode, w, h)
	}

	ratio := float64(CanvasSize) / float64(max(w, h))
	nw := max(1, int(float64(w)*ratio))
	nh := max(1, int(float64(h)*ratio))

	scaled := resize.Resize(uint(nw), uint(nh), dropAlpha(src), resize.Lanczos3)

	canvas := image.NewRGBA(image.Rect(0, 0, CanvasSize, CanvasSize))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)

	offset := image.Pt((CanvasSize-nw)/2, (CanvasSize-nh)/2)
	target := image.Rectangle{Min: offset, Max: offset.Add(image.Pt(nw, nh))}
	draw.Draw(canvas, target, scaled, scaled.Bounds().Min, draw.Src)

	return &NormalizedImage{img: canvas}, nil
}

// dropAlpha copies src into an opaque image that keeps the straight colour of
// every pixel, including fully transparent ones.
func dropAlpha(src image.Image) *image.NRGBA {
	b := src.Bounds()
	dst := image.NewNRGBA(b)
	if n, ok := src.(*image.NRGBA); ok {
		for y := b.Min.Y; y < b.Max.Y; y++ {
			copy(dst.Pix[dst.PixOffset(b.Min.X, y):dst.PixOffset(b.Max.X, y)], n.Pix[n.PixOffset(b.Min.X, y):n.PixOffset(b.Max.X, y)])
		}
	} else {
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				dst.SetNRGBA(x, y, straight(src.At(x, y)))
			}
		}
	}
	for i := 3; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = 0xff
	}
	return dst
}

func straight(c color.Color) color.NRGBA {
	switch c := c.(type) {
	case color.NRGBA:
		return c
	case color.NRGBA64:
		return color.NRGBA{R: uint8(c.R >> 8), G: uint8(c.G >> 8), B: uint8(c.B >> 8), A: uint8(c.A >> 8)}
	default:
		return color.NRGBAModel.Convert(c).(color.NRGBA)
	}
}
