package model

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Head is the differentiable tail of the network: global average pooling
// over the observation point followed by a linear layer with one output
// per label.
//
// Backward accumulates parameter gradients the way a training framework
// would, so callers must ZeroGrad before each backward pass.
type Head struct {
	weight *mat.Dense    // [classes, channels]
	bias   *mat.VecDense // [classes]

	gradWeight *mat.Dense
	gradBias   *mat.VecDense

	// cache of the last tracked forward pass
	pooled *mat.VecDense
	shape  []int
}

// NewHead builds a head from row-major fc weights [classes*channels] and
// bias [classes].
func NewHead(weight, bias []float32, classes, channels int) (*Head, error) {
	if classes <= 0 || channels <= 0 {
		return nil, fmt.Errorf("%w: head dimensions %dx%d", ErrShapeMismatch, classes, channels)
	}
	if len(weight) != classes*channels {
		return nil, fmt.Errorf("%w: fc.weight has %d values, want %d", ErrShapeMismatch, len(weight), classes*channels)
	}
	if len(bias) != classes {
		return nil, fmt.Errorf("%w: fc.bias has %d values, want %d", ErrShapeMismatch, len(bias), classes)
	}

	return &Head{
		weight:     mat.NewDense(classes, channels, widen(weight)),
		bias:       mat.NewVecDense(classes, widen(bias)),
		gradWeight: mat.NewDense(classes, channels, nil),
		gradBias:   mat.NewVecDense(classes, nil),
	}, nil
}

func (h *Head) Classes() int {
	r, _ := h.weight.Dims()
	return r
}

func (h *Head) Channels() int {
	_, c := h.weight.Dims()
	return c
}

// Forward computes logits without keeping anything for a backward pass.
func (h *Head) Forward(act *Tensor) ([]float32, error) {
	pooled, err := h.pool(act)
	if err != nil {
		return nil, err
	}
	return h.linear(pooled), nil
}

// ForwardTracked computes logits and caches the pooled features so that
// Backward can follow.
func (h *Head) ForwardTracked(act *Tensor) ([]float32, error) {
	pooled, err := h.pool(act)
	if err != nil {
		return nil, err
	}
	h.pooled = pooled
	h.shape = append(h.shape[:0], act.Shape...)
	return h.linear(pooled), nil
}

// Backward propagates d(logit[classIndex]) back to the observation point
// and returns the gradient with the activation's shape.
func (h *Head) Backward(classIndex int) (*Tensor, error) {
	if h.pooled == nil {
		return nil, fmt.Errorf("%w: backward without tracked forward", ErrCaptureMissing)
	}
	if classIndex < 0 || classIndex >= h.Classes() {
		return nil, fmt.Errorf("%w: %d not in [0,%d)", ErrClassIndex, classIndex, h.Classes())
	}

	gradOut := mat.NewVecDense(h.Classes(), nil)
	gradOut.SetVec(classIndex, 1)

	// linear
	h.gradBias.AddVec(h.gradBias, gradOut)
	h.gradWeight.RankOne(h.gradWeight, 1, gradOut, h.pooled)
	var gradPooled mat.VecDense
	gradPooled.MulVec(h.weight.T(), gradOut)

	// global average pool
	channels, height, width := h.shape[0], h.shape[1], h.shape[2]
	area := height * width
	grad := NewTensor(channels, height, width)
	for c := 0; c < channels; c++ {
		g := float32(gradPooled.AtVec(c) / float64(area))
		plane := grad.Data[c*area : (c+1)*area]
		for i := range plane {
			plane[i] = g
		}
	}

	h.pooled = nil
	return grad, nil
}

// ZeroGrad clears accumulated parameter gradients and any tracked state.
func (h *Head) ZeroGrad() {
	h.gradWeight.Zero()
	h.gradBias.Zero()
}

// GradWeight exposes the accumulated fc.weight gradient.
func (h *Head) GradWeight() mat.Matrix { return h.gradWeight }

// GradBias exposes the accumulated fc.bias gradient.
func (h *Head) GradBias() mat.Vector { return h.gradBias }

func (h *Head) pool(act *Tensor) (*mat.VecDense, error) {
	channels, height, width, err := act.CHW()
	if err != nil {
		return nil, err
	}
	if channels != h.Channels() {
		return nil, fmt.Errorf("%w: observation point has %d channels, head expects %d", ErrShapeMismatch, channels, h.Channels())
	}

	area := height * width
	pooled := mat.NewVecDense(channels, nil)
	for c := 0; c < channels; c++ {
		var sum float64
		for _, v := range act.Data[c*area : (c+1)*area] {
			sum += float64(v)
		}
		pooled.SetVec(c, sum/float64(area))
	}
	return pooled, nil
}

func (h *Head) linear(pooled *mat.VecDense) []float32 {
	var out mat.VecDense
	out.MulVec(h.weight, pooled)
	out.AddVec(&out, h.bias)

	logits := make([]float32, out.Len())
	for i := range logits {
		logits[i] = float32(out.AtVec(i))
	}
	return logits
}

func widen(xs []float32) []float64 {
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = float64(x)
	}
	return out
}
