package minions

import (
	"fmt"

	"github.com/openfluke/loom/nn"

	"github.com/maastricht-university/pase-pipeline/config"
	"github.com/maastricht-university/pase-pipeline/layers"
	"github.com/maastricht-university/pase-pipeline/tensor"
)

// label widths of the built-in regression tasks when num_outputs is absent
var defaultOutputs = map[string]int{
	"chunk":   160,
	"lps":     1025,
	"mfcc":    20,
	"prosody": 4,
}

// hiddenDims reads hidden_layers x hidden_size from a descriptor.
func hiddenDims(desc config.Minion) ([]int, error) {
	size, err := desc.Int("hidden_size", 256)
	if err != nil {
		return nil, err
	}
	n, err := desc.Int("hidden_layers", 1)
	if err != nil {
		return nil, err
	}
	if size <= 0 || n < 0 {
		return nil, fmt.Errorf("minion %s: invalid hidden_size=%d hidden_layers=%d", desc.Name, size, n)
	}
	dims := make([]int, n)
	for i := range dims {
		dims[i] = size
	}
	return dims, nil
}

// Regression predicts a per-frame target vector from one view.
type Regression struct {
	name string
	in   int
	head *layers.MLP
}

func NewRegression(desc config.Minion, inputWidth int) (Worker, error) {
	out, err := desc.Int("num_outputs", defaultOutputs[desc.Name])
	if err != nil {
		return nil, err
	}
	if out <= 0 {
		return nil, fmt.Errorf("minion %s: num_outputs is required", desc.Name)
	}
	hidden, err := hiddenDims(desc)
	if err != nil {
		return nil, err
	}
	return &Regression{
		name: desc.Name,
		in:   inputWidth,
		head: layers.NewMLP(inputWidth, hidden, out, nn.ActivationLeakyReLU),
	}, nil
}

func (r *Regression) Name() string { return r.name }
func (r *Regression) Kind() Kind   { return KindRegression }

// Outputs is the label width.
func (r *Regression) Outputs() int { return r.head.Out() }

func (r *Regression) Modules() map[string]*layers.MLP {
	return map[string]*layers.MLP{"minion." + r.name: r.head}
}

func (r *Regression) Forward(view *tensor.Tensor) (*tensor.Tensor, error) {
	if err := expectWidth(r.name, view, r.in); err != nil {
		return nil, err
	}
	return r.head.ApplyFrames(view), nil
}

func expectWidth(name string, view *tensor.Tensor, width int) error {
	if view == nil || view.Dims() != 3 || view.Features() != width {
		var shape []int
		if view != nil {
			shape = view.Shape()
		}
		return fmt.Errorf("minion %s: expects (batch, frames, %d) input, got %v", name, width, shape)
	}
	return nil
}
