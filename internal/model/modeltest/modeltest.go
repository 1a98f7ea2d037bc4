// Package modeltest provides an in-memory backbone and helpers for
// building networks with known logits, for use in tests.
package modeltest

import (
	"image"
	"image/color"
	"math"
	"sync/atomic"

	"github.com/Brownie44l1/cxr-explain/internal/model"
)

// Backbone returns a fixed activation for every input.
type Backbone struct {
	Activation *model.Tensor
	Err        error

	calls  atomic.Int32
	closed atomic.Bool
}

func (b *Backbone) Features(*model.Tensor) (*model.Tensor, error) {
	b.calls.Add(1)
	if b.Err != nil {
		return nil, b.Err
	}
	return b.Activation.Clone(), nil
}

func (b *Backbone) Close() error {
	b.closed.Store(true)
	return nil
}

// Calls is the number of forward passes run so far.
func (b *Backbone) Calls() int { return int(b.calls.Load()) }

func (b *Backbone) Closed() bool { return b.closed.Load() }

// Bump builds a (channels,h,w) activation whose first channel is a gaussian
// centred on (cy,cx) and whose other channels are all ones.
func Bump(channels, h, w, cy, cx int) *model.Tensor {
	t := model.NewTensor(channels, h, w)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dy, dx := float64(y-cy), float64(x-cx)
			t.Data[y*w+x] = float32(math.Exp(-(dy*dy + dx*dx) / 2))
		}
	}
	for i := h * w; i < len(t.Data); i++ {
		t.Data[i] = 1
	}
	return t
}

// Logit is the inverse of the sigmoid.
func Logit(p float64) float64 {
	return math.Log(p / (1 - p))
}

// HeadFor builds a head over act so that label i produces probability
// probs[i]. Labels listed in probs read the first channel of act with unit
// weight; all others get a zero weight row, so their gradient is zero.
func HeadFor(act *model.Tensor, classes int, probs map[int]float64, rest float64) *model.Head {
	channels, h, w := act.Shape[0], act.Shape[1], act.Shape[2]
	var mean float64
	for _, v := range act.Data[:h*w] {
		mean += float64(v)
	}
	mean /= float64(h * w)

	weight := make([]float32, classes*channels)
	bias := make([]float32, classes)
	for c := 0; c < classes; c++ {
		p, ok := probs[c]
		if !ok {
			bias[c] = float32(Logit(rest))
			continue
		}
		weight[c*channels] = 1
		bias[c] = float32(Logit(p) - mean)
	}

	head, err := model.NewHead(weight, bias, classes, channels)
	if err != nil {
		panic(err)
	}
	return head
}

// Network wires a backbone and head to the CheXpert labels.
func Network(backbone model.Backbone, head *model.Head) *model.Network {
	net, err := model.NewNetwork(backbone, head, model.Labels, model.InputSize)
	if err != nil {
		panic(err)
	}
	return net
}

// Gradient returns a w×h image with a horizontal gray ramp.
func Gradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(x * 255 / max(w-1, 1))
			img.Set(x, y, color.RGBA{R: v, G: v, B: uint8(y % 256), A: 0xff})
		}
	}
	return img
}
