package gradcam

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/lucasb-eyer/go-colorful"
)

// Blend weights of the overlay.
const (
	OriginalWeight = 0.6
	HeatmapWeight  = 0.4
)

type stop struct {
	at  float64
	col colorful.Color
}

// jetStops is the classic jet ramp: dark blue, blue, cyan, yellow, red,
// dark red. It is piecewise linear in RGB.
var jetStops = []stop{
	{0, colorful.Color{R: 0, G: 0, B: 0.5}},
	{0.125, colorful.Color{R: 0, G: 0, B: 1}},
	{0.375, colorful.Color{R: 0, G: 1, B: 1}},
	{0.625, colorful.Color{R: 1, G: 1, B: 0}},
	{0.875, colorful.Color{R: 1, G: 0, B: 0}},
	{1, colorful.Color{R: 0.5, G: 0, B: 0}},
}

var jet = buildLUT(jetStops)

func buildLUT(stops []stop) [256]color.RGBA {
	var lut [256]color.RGBA
	for i := range lut {
		v := float64(i) / 255
		seg := 1
		for seg < len(stops)-1 && v > stops[seg].at {
			seg++
		}
		a, b := stops[seg-1], stops[seg]
		t := (v - a.at) / (b.at - a.at)
		r, g, bl := a.col.BlendRgb(b.col, t).RGB255()
		lut[i] = color.RGBA{R: r, G: g, B: bl, A: 0xff}
	}
	return lut
}

// Jet returns the ramp colour for an 8-bit intensity.
func Jet(v uint8) color.RGBA { return jet[v] }

// Heatmap renders a normalized w×h saliency map through the jet ramp.
// Values are quantized by truncation to 8 bits first.
func Heatmap(saliency []float32, w, h int) (*image.RGBA, error) {
	if len(saliency) != w*h {
		return nil, fmt.Errorf("saliency has %d values for %dx%d", len(saliency), w, h)
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i, v := range saliency {
		c := jet[quantize(v)]
		off := i * 4
		img.Pix[off+0] = c.R
		img.Pix[off+1] = c.G
		img.Pix[off+2] = c.B
		img.Pix[off+3] = 0xff
	}
	return img, nil
}

func quantize(v float32) uint8 {
	switch {
	case v <= 0 || v != v:
		return 0
	case v >= 1:
		return 255
	}
	return uint8(255 * v)
}

// Blend returns wa·a + wb·b per channel, rounded half to even and
// saturated, as a new opaque image. a and b must be the same size.
func Blend(a, b *image.RGBA, wa, wb float64) (*image.RGBA, error) {
	if a.Rect.Dx() != b.Rect.Dx() || a.Rect.Dy() != b.Rect.Dy() {
		return nil, fmt.Errorf("blend size mismatch: %v vs %v", a.Rect.Size(), b.Rect.Size())
	}
	w, h := a.Rect.Dx(), a.Rect.Dy()
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			ao := a.PixOffset(a.Rect.Min.X+x, a.Rect.Min.Y+y)
			bo := b.PixOffset(b.Rect.Min.X+x, b.Rect.Min.Y+y)
			oo := out.PixOffset(x, y)
			for ch := 0; ch < 3; ch++ {
				v := wa*float64(a.Pix[ao+ch]) + wb*float64(b.Pix[bo+ch])
				out.Pix[oo+ch] = saturate(math.RoundToEven(v))
			}
			out.Pix[oo+3] = 0xff
		}
	}
	return out, nil
}

func saturate(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
