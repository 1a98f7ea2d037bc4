package gradcam

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/Brownie44l1/cxr-explain/internal/model"
)

// Epsilon keeps normalization finite when the map is all zero.
const Epsilon = 1e-8

// ChannelWeights averages the gradient over each channel's spatial plane.
func ChannelWeights(grad *model.Tensor) ([]float64, error) {
	channels, height, width, err := grad.CHW()
	if err != nil {
		return nil, err
	}
	area := height * width
	weights := make([]float64, channels)
	for c := range weights {
		var sum float64
		for _, g := range grad.Data[c*area : (c+1)*area] {
			sum += float64(g)
		}
		weights[c] = sum / float64(area)
	}
	return weights, nil
}

// WeightedSum collapses the channel axis: out[p] = Σ_c weights[c]·act[c,p].
func WeightedSum(act *model.Tensor, weights []float64) ([]float32, error) {
	channels, height, width, err := act.CHW()
	if err != nil {
		return nil, err
	}
	if len(weights) != channels {
		return nil, fmt.Errorf("%w: %d weights for %d channels", model.ErrShapeMismatch, len(weights), channels)
	}

	area := height * width
	a := mat.NewDense(channels, area, nil)
	for c := 0; c < channels; c++ {
		row := a.RawRowView(c)
		for i, v := range act.Data[c*area : (c+1)*area] {
			row[i] = float64(v)
		}
	}

	var sum mat.VecDense
	sum.MulVec(a.T(), mat.NewVecDense(channels, weights))

	out := make([]float32, area)
	for i := range out {
		out[i] = float32(sum.AtVec(i))
	}
	return out, nil
}

// Rectify clamps negative evidence to zero in place.
func Rectify(m []float32) {
	for i, v := range m {
		if v < 0 {
			m[i] = 0
		}
	}
}

// Upsample resizes a h×w map to outH×outW with bilinear interpolation on
// pixel centres, clamping at the borders.
func Upsample(m []float32, h, w, outH, outW int) []float32 {
	out := make([]float32, outH*outW)
	ys := axis(h, outH)
	xs := axis(w, outW)

	for oy, sy := range ys {
		row0 := m[sy.i0*w : sy.i0*w+w]
		row1 := m[sy.i1*w : sy.i1*w+w]
		for ox, sx := range xs {
			top := row0[sx.i0]*(1-sx.t) + row0[sx.i1]*sx.t
			bottom := row1[sx.i0]*(1-sx.t) + row1[sx.i1]*sx.t
			out[oy*outW+ox] = top*(1-sy.t) + bottom*sy.t
		}
	}
	return out
}

type tap struct {
	i0, i1 int
	t      float32
}

func axis(src, dst int) []tap {
	scale := float64(src) / float64(dst)
	taps := make([]tap, dst)
	for d := range taps {
		s := (float64(d)+0.5)*scale - 0.5
		i0 := int(s)
		if s < 0 {
			s, i0 = 0, 0
		}
		t := float32(s - float64(i0))
		if i0 >= src-1 {
			i0, t = src-1, 0
		}
		i1 := i0 + 1
		if i1 > src-1 {
			i1 = src - 1
		}
		taps[d] = tap{i0: i0, i1: i1, t: t}
	}
	return taps
}

// Normalize shifts m so its minimum is zero and divides by the shifted
// maximum plus Epsilon. A uniform map becomes all zeros.
func Normalize(m []float32) {
	if len(m) == 0 {
		return
	}
	lo := m[0]
	for _, v := range m {
		if v < lo {
			lo = v
		}
	}
	var hi float32
	for i := range m {
		m[i] -= lo
		if m[i] > hi {
			hi = m[i]
		}
	}
	div := hi + Epsilon
	for i := range m {
		m[i] /= div
	}
}

// Saliency turns one captured activation/gradient pair into a size×size
// map in [0,1].
func Saliency(act, grad *model.Tensor, size int) ([]float32, error) {
	if act.Empty() || grad.Empty() {
		return nil, model.ErrCaptureMissing
	}
	if !act.SameShape(grad) {
		return nil, fmt.Errorf("%w: activation %v, gradient %v", model.ErrShapeMismatch, act.Shape, grad.Shape)
	}

	weights, err := ChannelWeights(grad)
	if err != nil {
		return nil, err
	}
	cam, err := WeightedSum(act, weights)
	if err != nil {
		return nil, err
	}
	Rectify(cam)

	cam = Upsample(cam, act.Shape[1], act.Shape[2], size, size)
	Normalize(cam)
	return cam, nil
}
