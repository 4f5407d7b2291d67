package frontend

import (
	"errors"
	"fmt"

	"github.com/maastricht-university/pase-pipeline/tensor"
)

var ErrUnsupportedDevice = errors.New("unsupported device")

// Device names the compute target of a forward pass.
type Device string

const CPU Device = "cpu"

func (d Device) check() error {
	if d == "" || d == CPU {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnsupportedDevice, d)
}

// Batch is the multi-view input of one forward pass. Chunk, Context and
// Rand are (B, S) waveforms of the same shape; Targets holds the regression labels keyed by
// worker name, each (B, T, D).
type Batch struct {
	Chunk   *tensor.Tensor
	Context *tensor.Tensor
	Rand    *tensor.Tensor
	Targets map[string]*tensor.Tensor
}

// Target returns the named regression label.
func (b Batch) Target(name string) (*tensor.Tensor, bool) {
	t, ok := b.Targets[name]
	return t, ok && t != nil
}

func (b Batch) validate() error {
	if b.Chunk == nil || b.Context == nil || b.Rand == nil {
		return errors.New("batch: chunk, context and rand views are required")
	}
	for _, v := range []*tensor.Tensor{b.Chunk, b.Context, b.Rand} {
		if v.Dims() != 2 {
			return fmt.Errorf("batch: views must be (batch, samples), got %v", v.Shape())
		}
	}
	cs, xs, rs := b.Chunk.Shape(), b.Context.Shape(), b.Rand.Shape()
	if cs[0] != xs[0] || cs[0] != rs[0] {
		return fmt.Errorf("batch: view batch sizes differ: %d %d %d", cs[0], xs[0], rs[0])
	}
	if cs[1] != xs[1] || cs[1] != rs[1] {
		return fmt.Errorf("batch: views are not aligned in time: %d %d %d samples", cs[1], xs[1], rs[1])
	}
	return nil
}

// Representation is the encoder output: three views aligned in time, each
// (B, T, C).
type Representation struct {
	Chunk   *tensor.Tensor
	Context *tensor.Tensor
	Rand    *tensor.Tensor
}

// Map applies fn to every view.
func (r Representation) Map(fn func(*tensor.Tensor) *tensor.Tensor) Representation {
	return Representation{Chunk: fn(r.Chunk), Context: fn(r.Context), Rand: fn(r.Rand)}
}
