package model

import (
	"fmt"
	"sync"
)

// Backbone is the frozen convolutional trunk. Its output is the
// observation point: the last residual block before global pooling.
type Backbone interface {
	// Features runs the trunk on a (3,H,W) input and returns a (C,h,w)
	// activation.
	Features(input *Tensor) (*Tensor, error)
	Close() error
}

// Selector picks the target class from the logits of a tracked forward
// pass.
type Selector func(logits []float32) (int, error)

// Trace is what one tracked forward/backward pass leaves behind.
type Trace struct {
	Activation *Tensor
	Gradient   *Tensor
	Logits     []float32
	ClassIndex int
}

// captureSlot holds the observation point tensors of the trace in
// progress. It is only touched while Network.mu is held.
type captureSlot struct {
	activation *Tensor
	gradient   *Tensor
}

func (s *captureSlot) onForward(act *Tensor) {
	if act.Empty() {
		return
	}
	s.activation = act
}

func (s *captureSlot) onBackward(grad *Tensor) {
	if grad.Empty() {
		return
	}
	s.gradient = grad
}

func (s *captureSlot) take() (*Tensor, *Tensor, error) {
	if s.activation == nil {
		return nil, nil, fmt.Errorf("%w: no activation", ErrCaptureMissing)
	}
	if s.gradient == nil {
		return nil, nil, fmt.Errorf("%w: no gradient", ErrCaptureMissing)
	}
	if _, _, _, err := s.activation.CHW(); err != nil {
		return nil, nil, err
	}
	if !s.activation.SameShape(s.gradient) || len(s.gradient.Data) != len(s.activation.Data) {
		return nil, nil, fmt.Errorf("%w: activation %v, gradient %v", ErrShapeMismatch, s.activation.Shape, s.gradient.Shape)
	}
	return s.activation, s.gradient, nil
}

func (s *captureSlot) reset() {
	s.activation = nil
	s.gradient = nil
}

// Network is one frozen backbone plus its head. Every pass goes through a
// single mutex, so plain evaluation and traced evaluation never interleave
// on the capture slot or the gradient buffers.
type Network struct {
	mu        sync.Mutex
	backbone  Backbone
	head      *Head
	labels    []string
	inputSize int
	slot      captureSlot
}

// NewNetwork ties a backbone and head to the label set.
func NewNetwork(backbone Backbone, head *Head, labels []string, inputSize int) (*Network, error) {
	if backbone == nil || head == nil {
		return nil, fmt.Errorf("network needs both a backbone and a head")
	}
	if head.Classes() != len(labels) {
		return nil, fmt.Errorf("%w: head emits %d logits for %d labels", ErrShapeMismatch, head.Classes(), len(labels))
	}
	if inputSize <= 0 {
		return nil, fmt.Errorf("%w: input size %d", ErrShapeMismatch, inputSize)
	}
	return &Network{
		backbone:  backbone,
		head:      head,
		labels:    append([]string(nil), labels...),
		inputSize: inputSize,
	}, nil
}

// Labels returns a copy of the label set in logit order.
func (n *Network) Labels() []string {
	return append([]string(nil), n.labels...)
}

// InputSize is the square side length the backbone expects.
func (n *Network) InputSize() int { return n.inputSize }

// Logits runs an untracked forward pass.
func (n *Network) Logits(input *Tensor) ([]float32, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	act, err := n.backbone.Features(input)
	if err != nil {
		return nil, fmt.Errorf("backbone forward: %w", err)
	}
	if act.Empty() {
		return nil, fmt.Errorf("%w: backbone returned no activation", ErrCaptureMissing)
	}
	return n.head.Forward(act)
}

// Trace runs a tracked forward pass, lets sel choose the target class from
// the logits, zeroes gradients and backpropagates from that raw logit. The
// returned activation and gradient always come from the same pass.
func (n *Network) Trace(input *Tensor, sel Selector) (*Trace, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.slot.reset()
	defer n.slot.reset()

	act, err := n.backbone.Features(input)
	if err != nil {
		return nil, fmt.Errorf("backbone forward: %w", err)
	}
	n.slot.onForward(act)
	if n.slot.activation == nil {
		return nil, fmt.Errorf("%w: observation point did not fire", ErrCaptureMissing)
	}

	logits, err := n.head.ForwardTracked(n.slot.activation)
	if err != nil {
		return nil, err
	}

	classIndex, err := sel(logits)
	if err != nil {
		return nil, err
	}
	if classIndex < 0 || classIndex >= len(n.labels) {
		return nil, fmt.Errorf("%w: %d not in [0,%d)", ErrClassIndex, classIndex, len(n.labels))
	}

	n.head.ZeroGrad()
	grad, err := n.head.Backward(classIndex)
	if err != nil {
		return nil, err
	}
	n.slot.onBackward(grad)

	activation, gradient, err := n.slot.take()
	if err != nil {
		return nil, err
	}

	return &Trace{
		Activation: activation,
		Gradient:   gradient,
		Logits:     logits,
		ClassIndex: classIndex,
	}, nil
}

// Close releases the backbone.
func (n *Network) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.backbone.Close()
}

// FixedClass selects classIndex regardless of the logits.
func FixedClass(classIndex int) Selector {
	return func([]float32) (int, error) { return classIndex, nil }
}

// ArgmaxClass selects the label with the highest post-sigmoid probability.
// Ties go to the lowest index.
func ArgmaxClass(logits []float32) (int, error) {
	if len(logits) == 0 {
		return 0, fmt.Errorf("%w: no logits", ErrShapeMismatch)
	}
	best, bestProb := 0, Sigmoid(logits[0])
	for i, v := range logits[1:] {
		if p := Sigmoid(v); p > bestProb {
			best, bestProb = i+1, p
		}
	}
	return best, nil
}
