package tensor

import (
	"errors"
	"fmt"
)

var (
	// ErrShapeMismatch indicates incompatible tensor shapes for an operation.
	ErrShapeMismatch = errors.New("tensor: shape mismatch")

	// ErrInvalidShape indicates an invalid tensor shape.
	ErrInvalidShape = errors.New("tensor: invalid shape")
)

// Tensor is a dense row-major array of float32 values.
//
// Representations flowing between the encoder, the attention blocks and the
// workers are laid out as (batch, frames, features), so the feature axis is
// always the last one.
//
// Tensor is not safe for concurrent mutation.
type Tensor struct {
	data  []float32
	shape []int
}

// New creates a zero-filled tensor. Panics on an empty shape or a
// non-positive dimension; shape errors are programmer bugs.
func New(shape ...int) *Tensor {
	size := checkShape(shape)
	return &Tensor{
		data:  make([]float32, size),
		shape: append([]int(nil), shape...),
	}
}

// FromSlice wraps a copy of data in a tensor of the given shape.
func FromSlice(data []float32, shape ...int) *Tensor {
	size := checkShape(shape)
	if size != len(data) {
		panic(fmt.Sprintf("%v: %d values for shape %v", ErrInvalidShape, len(data), shape))
	}
	t := New(shape...)
	copy(t.data, data)
	return t
}

func checkShape(shape []int) int {
	if len(shape) == 0 {
		panic(fmt.Sprintf("%v: shape cannot be empty", ErrInvalidShape))
	}
	size := 1
	for i, dim := range shape {
		if dim <= 0 {
			panic(fmt.Sprintf("%v: shape[%d] must be positive, got %d", ErrInvalidShape, i, dim))
		}
		size *= dim
	}
	return size
}

// Shape returns a copy of the tensor's shape.
func (t *Tensor) Shape() []int {
	return append([]int(nil), t.shape...)
}

// Dims returns the rank of the tensor.
func (t *Tensor) Dims() int { return len(t.shape) }

// Size returns the total number of elements.
func (t *Tensor) Size() int { return len(t.data) }

// Data exposes the underlying storage. Callers must not retain it across
// mutations of the tensor.
func (t *Tensor) Data() []float32 { return t.data }

// Features returns the size of the last axis.
func (t *Tensor) Features() int { return t.shape[len(t.shape)-1] }

// At returns the element at the given indices.
func (t *Tensor) At(indices ...int) float32 {
	return t.data[t.flatIndex(indices)]
}

// Set writes the element at the given indices.
func (t *Tensor) Set(value float32, indices ...int) {
	t.data[t.flatIndex(indices)] = value
}

func (t *Tensor) flatIndex(indices []int) int {
	if len(indices) != len(t.shape) {
		panic(fmt.Sprintf("tensor: expected %d indices, got %d", len(t.shape), len(indices)))
	}
	idx, stride := 0, 1
	for i := len(indices) - 1; i >= 0; i-- {
		if indices[i] < 0 || indices[i] >= t.shape[i] {
			panic(fmt.Sprintf("tensor: index[%d]=%d out of bounds [0,%d)", i, indices[i], t.shape[i]))
		}
		idx += indices[i] * stride
		stride *= t.shape[i]
	}
	return idx
}

// Clone creates a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	return FromSlice(t.data, t.shape...)
}

// Detach returns a copy that shares nothing with t. Targets sliced out of an
// input batch are detached so workers can never write through to the batch.
func (t *Tensor) Detach() *Tensor {
	return t.Clone()
}

// Row returns a copy of the feature vector at (batch, frame) of a rank-3
// tensor.
func (t *Tensor) Row(b, f int) []float32 {
	if len(t.shape) != 3 {
		panic(fmt.Sprintf("%v: Row requires rank 3, got %v", ErrShapeMismatch, t.shape))
	}
	c := t.shape[2]
	off := t.flatIndex([]int{b, f, 0})
	return append([]float32(nil), t.data[off:off+c]...)
}

// SetRow writes a feature vector at (batch, frame) of a rank-3 tensor.
func (t *Tensor) SetRow(b, f int, row []float32) {
	if len(t.shape) != 3 || len(row) != t.shape[2] {
		panic(fmt.Sprintf("%v: SetRow %d values into %v", ErrShapeMismatch, len(row), t.shape))
	}
	off := t.flatIndex([]int{b, f, 0})
	copy(t.data[off:off+len(row)], row)
}

// String returns a short description for logs.
func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, size=%d)", t.shape, len(t.data))
}

// Equal reports whether a and b have the same shape and values.
func Equal(a, b *Tensor) bool {
	if a == nil || b == nil {
		return a == b
	}
	if !shapeEqual(a.shape, b.shape) {
		return false
	}
	for i := range a.data {
		if a.data[i] != b.data[i] {
			return false
		}
	}
	return true
}

func shapeEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
