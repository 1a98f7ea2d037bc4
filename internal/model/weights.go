package model

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/bits"
	"os"

	"github.com/nlpodyssey/safetensors"
)

// Tensor names the exporter writes for the classification layer.
const (
	WeightTensor = "fc.weight"
	BiasTensor   = "fc.bias"
)

// LoadHead reads fc.weight [classes, channels] and fc.bias [classes] from a
// safetensors file.
func LoadHead(path string) (*Head, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read head weights: %w", err)
	}
	st, err := safetensors.Deserialize(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	weight, err := readTensor(st, WeightTensor)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	bias, err := readTensor(st, BiasTensor)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(weight.Shape) != 2 || len(bias.Shape) != 1 {
		return nil, fmt.Errorf("%w: fc.weight %v, fc.bias %v", ErrShapeMismatch, weight.Shape, bias.Shape)
	}

	return NewHead(weight.Data, bias.Data, weight.Shape[0], weight.Shape[1])
}

// readTensor widens an F32, F16 or BF16 tensor to float32.
func readTensor(st safetensors.SafeTensors, name string) (*Tensor, error) {
	view, ok := st.Tensor(name)
	if !ok {
		return nil, fmt.Errorf("missing tensor %q", name)
	}

	var width int
	switch view.DType() {
	case safetensors.F32:
		width = 4
	case safetensors.F16, safetensors.BF16:
		width = 2
	default:
		return nil, fmt.Errorf("tensor %s: unsupported dtype %v", name, view.DType())
	}

	data := view.Data()
	shape, err := checkShape(view.Shape(), len(data)/width)
	if err != nil {
		return nil, fmt.Errorf("tensor %s: %w", name, err)
	}
	if len(data)%width != 0 {
		return nil, fmt.Errorf("%w: tensor %s has %d bytes", ErrShapeMismatch, name, len(data))
	}

	t := NewTensor(shape...)
	for i := range t.Data {
		switch view.DType() {
		case safetensors.F32:
			t.Data[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
		case safetensors.F16:
			t.Data[i] = halfToFloat32(binary.LittleEndian.Uint16(data[i*2:]))
		case safetensors.BF16:
			t.Data[i] = math.Float32frombits(uint32(binary.LittleEndian.Uint16(data[i*2:])) << 16)
		}
	}
	return t, nil
}

// checkShape converts a header shape to ints. Every dim must be positive and
// the element count must equal available without overflowing.
func checkShape(dims []uint64, available int) ([]int, error) {
	if len(dims) == 0 {
		return nil, fmt.Errorf("%w: scalar tensor", ErrShapeMismatch)
	}
	shape := make([]int, len(dims))
	var n uint64 = 1
	for i, d := range dims {
		if d == 0 || d > math.MaxInt32 {
			return nil, fmt.Errorf("%w: dim %d in %v", ErrShapeMismatch, d, dims)
		}
		hi, lo := bits.Mul64(n, d)
		if hi != 0 || lo > uint64(available) {
			return nil, fmt.Errorf("%w: shape %v exceeds %d elements", ErrShapeMismatch, dims, available)
		}
		n = lo
		shape[i] = int(d)
	}
	if n != uint64(available) {
		return nil, fmt.Errorf("%w: shape %v holds %d elements, data has %d", ErrShapeMismatch, dims, n, available)
	}
	return shape, nil
}

func halfToFloat32(f16 uint16) float32 {
	sign := uint32(f16>>15) & 0x1
	exponent := uint32(f16>>10) & 0x1f
	mantissa := uint32(f16) & 0x3ff

	var out uint32
	switch {
	case exponent == 0 && mantissa == 0:
		out = sign << 31
	case exponent == 0:
		// subnormal
		exponent = 1
		for mantissa&0x400 == 0 {
			mantissa <<= 1
			exponent--
		}
		mantissa &= 0x3ff
		out = sign<<31 | (exponent+127-15)<<23 | mantissa<<13
	case exponent == 0x1f:
		out = sign<<31 | 0xff<<23 | mantissa<<13
	default:
		out = sign<<31 | (exponent+127-15)<<23 | mantissa<<13
	}
	return math.Float32frombits(out)
}
