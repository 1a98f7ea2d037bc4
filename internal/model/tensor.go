package model

import "fmt"

// Tensor is a dense float32 array in row-major order.
type Tensor struct {
	Shape []int
	Data  []float32
}

// NewTensor allocates a zeroed tensor.
func NewTensor(shape ...int) *Tensor {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return &Tensor{Shape: append([]int(nil), shape...), Data: make([]float32, n)}
}

// Len is the number of elements the shape describes.
func (t *Tensor) Len() int {
	if t == nil || len(t.Shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// Empty reports whether t carries no data.
func (t *Tensor) Empty() bool {
	return t == nil || len(t.Data) == 0 || t.Len() == 0
}

func (t *Tensor) Clone() *Tensor {
	if t == nil {
		return nil
	}
	return &Tensor{
		Shape: append([]int(nil), t.Shape...),
		Data:  append([]float32(nil), t.Data...),
	}
}

// SameShape reports whether t and o have identical dimensions.
func (t *Tensor) SameShape(o *Tensor) bool {
	if t == nil || o == nil || len(t.Shape) != len(o.Shape) {
		return false
	}
	for i := range t.Shape {
		if t.Shape[i] != o.Shape[i] {
			return false
		}
	}
	return true
}

// CHW returns the dimensions of a rank-3 tensor whose data matches its shape.
func (t *Tensor) CHW() (c, h, w int, err error) {
	if t == nil || len(t.Shape) != 3 {
		return 0, 0, 0, fmt.Errorf("%w: want rank 3, got shape %v", ErrShapeMismatch, shapeOf(t))
	}
	if len(t.Data) != t.Len() {
		return 0, 0, 0, fmt.Errorf("%w: shape %v holds %d values, got %d", ErrShapeMismatch, t.Shape, t.Len(), len(t.Data))
	}
	return t.Shape[0], t.Shape[1], t.Shape[2], nil
}

func shapeOf(t *Tensor) []int {
	if t == nil {
		return nil
	}
	return t.Shape
}
