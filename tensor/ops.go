package tensor

import "fmt"

// Mul performs element-wise multiplication. Panics if shapes differ.
func Mul(a, b *Tensor) *Tensor {
	if !shapeEqual(a.shape, b.shape) {
		panic(fmt.Sprintf("%v: cannot multiply %v and %v", ErrShapeMismatch, a.shape, b.shape))
	}
	out := New(a.shape...)
	for i := range out.data {
		out.data[i] = a.data[i] * b.data[i]
	}
	return out
}

// MaskFeatures multiplies every feature vector of t by a selector of shape
// (C), where C is the size of t's last axis.
func MaskFeatures(t, selector *Tensor) *Tensor {
	c := t.Features()
	if selector.Dims() != 1 || selector.shape[0] != c {
		panic(fmt.Sprintf("%v: selector %v over features %d", ErrShapeMismatch, selector.shape, c))
	}
	out := New(t.shape...)
	for i := range out.data {
		out.data[i] = t.data[i] * selector.data[i%c]
	}
	return out
}

// BroadcastFeatures expands a (C) selector to the shape of like.
func BroadcastFeatures(selector, like *Tensor) *Tensor {
	c := like.Features()
	if selector.Dims() != 1 || selector.shape[0] != c {
		panic(fmt.Sprintf("%v: selector %v over features %d", ErrShapeMismatch, selector.shape, c))
	}
	out := New(like.shape...)
	for i := range out.data {
		out.data[i] = selector.data[i%c]
	}
	return out
}

// MeanFrames pools a (B, T, C) tensor over its frame axis into (B, C).
func MeanFrames(t *Tensor) *Tensor {
	if t.Dims() != 3 {
		panic(fmt.Sprintf("%v: MeanFrames requires rank 3, got %v", ErrShapeMismatch, t.shape))
	}
	b, frames, c := t.shape[0], t.shape[1], t.shape[2]
	return MeanRange(t, 0, frames).Reshape(b, c)
}

// MeanRange pools frames [from, to) of a (B, T, C) tensor into (B, 1, C).
func MeanRange(t *Tensor, from, to int) *Tensor {
	b, frames, c := t.shape[0], t.shape[1], t.shape[2]
	if from < 0 || to > frames || from >= to {
		panic(fmt.Sprintf("%v: frame range [%d,%d) of %d", ErrShapeMismatch, from, to, frames))
	}
	out := New(b, 1, c)
	n := float32(to - from)
	for bi := 0; bi < b; bi++ {
		for f := from; f < to; f++ {
			off := (bi*frames + f) * c
			for k := 0; k < c; k++ {
				out.data[bi*c+k] += t.data[off+k] / n
			}
		}
	}
	return out
}

// Reshape returns a view with a new shape sharing the same storage.
func (t *Tensor) Reshape(shape ...int) *Tensor {
	if checkShape(shape) != len(t.data) {
		panic(fmt.Sprintf("%v: cannot reshape %v to %v", ErrShapeMismatch, t.shape, shape))
	}
	return &Tensor{data: t.data, shape: append([]int(nil), shape...)}
}

// ConcatFeatures joins two tensors along their last axis. All leading axes
// must match.
func ConcatFeatures(a, b *Tensor) *Tensor {
	if a.Dims() != b.Dims() || !shapeEqual(a.shape[:a.Dims()-1], b.shape[:b.Dims()-1]) {
		panic(fmt.Sprintf("%v: cannot concat %v and %v", ErrShapeMismatch, a.shape, b.shape))
	}
	ca, cb := a.Features(), b.Features()
	shape := a.Shape()
	shape[len(shape)-1] = ca + cb
	out := New(shape...)
	rows := len(a.data) / ca
	for r := 0; r < rows; r++ {
		copy(out.data[r*(ca+cb):], a.data[r*ca:(r+1)*ca])
		copy(out.data[r*(ca+cb)+ca:], b.data[r*cb:(r+1)*cb])
	}
	return out
}

// Stack concatenates tensors along their first axis.
func Stack(ts ...*Tensor) *Tensor {
	if len(ts) == 0 {
		panic(fmt.Sprintf("%v: nothing to stack", ErrInvalidShape))
	}
	shape := ts[0].Shape()
	rest := shape[1:]
	n := 0
	for _, t := range ts {
		if !shapeEqual(t.shape[1:], rest) {
			panic(fmt.Sprintf("%v: cannot stack %v onto %v", ErrShapeMismatch, t.shape, ts[0].shape))
		}
		n += t.shape[0]
	}
	shape[0] = n
	out := New(shape...)
	off := 0
	for _, t := range ts {
		copy(out.data[off:], t.data)
		off += len(t.data)
	}
	return out
}

// Fill returns a tensor of the given shape with every element set to v.
func Fill(v float32, shape ...int) *Tensor {
	t := New(shape...)
	for i := range t.data {
		t.data[i] = v
	}
	return t
}

// CountNonZero returns the number of non-zero elements.
func CountNonZero(t *Tensor) int {
	n := 0
	for _, v := range t.data {
		if v != 0 {
			n++
		}
	}
	return n
}
