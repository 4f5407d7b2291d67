package layers

import (
	"errors"
	"fmt"
	"sync"

	"github.com/openfluke/loom/nn"

	"github.com/maastricht-university/pase-pipeline/tensor"
)

// ErrWidthMismatch is returned when a decoded network does not fit the MLP
// it is loaded into.
var ErrWidthMismatch = errors.New("network width mismatch")

// MLP is a stack of dense layers backed by a loom network. It is the only
// trainable building block used by encoders, workers and attention blocks.
type MLP struct {
	mu  sync.Mutex
	net *nn.Network
	in  int
	out int
}

// NewMLP builds in -> hidden... -> out with act on every layer.
func NewMLP(in int, hidden []int, out int, act nn.ActivationType) *MLP {
	if in <= 0 || out <= 0 {
		panic(fmt.Sprintf("layers: invalid MLP dims in=%d out=%d", in, out))
	}
	dims := append(append([]int{in}, hidden...), out)
	net := nn.NewNetwork(in, 1, 1, len(dims)-1)
	for i := 0; i < len(dims)-1; i++ {
		net.SetLayer(0, 0, i, nn.InitDenseLayer(dims[i], dims[i+1], act))
	}
	net.InitializeWeights()
	return &MLP{net: net, in: in, out: out}
}

// In returns the input width.
func (m *MLP) In() int { return m.in }

// Out returns the output width.
func (m *MLP) Out() int { return m.out }

// Apply runs one vector through the network.
func (m *MLP) Apply(x []float32) []float32 {
	if len(x) != m.in {
		panic(fmt.Sprintf("%v: MLP expects %d inputs, got %d", tensor.ErrShapeMismatch, m.in, len(x)))
	}
	m.mu.Lock()
	out, _ := m.net.ForwardCPU(x)
	m.mu.Unlock()
	return out[:m.out]
}

// ApplyFrames maps the last axis of a (B, T, in) tensor to (B, T, out).
func (m *MLP) ApplyFrames(t *tensor.Tensor) *tensor.Tensor {
	shape := t.Shape()
	if len(shape) != 3 {
		panic(fmt.Sprintf("%v: ApplyFrames requires rank 3, got %v", tensor.ErrShapeMismatch, shape))
	}
	out := tensor.New(shape[0], shape[1], m.out)
	for b := 0; b < shape[0]; b++ {
		for f := 0; f < shape[1]; f++ {
			out.SetRow(b, f, m.Apply(t.Row(b, f)))
		}
	}
	return out
}

// ApplyRows maps the last axis of a (N, in) tensor to (N, out).
func (m *MLP) ApplyRows(t *tensor.Tensor) *tensor.Tensor {
	shape := t.Shape()
	if len(shape) != 2 {
		panic(fmt.Sprintf("%v: ApplyRows requires rank 2, got %v", tensor.ErrShapeMismatch, shape))
	}
	return m.ApplyFrames(t.Reshape(1, shape[0], shape[1])).Reshape(shape[0], m.out)
}

// Marshal serializes the network under id.
func (m *MLP) Marshal(id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.net.SaveModelToString(id)
}

// Unmarshal replaces the network with one decoded from s. The decoded
// network must be a dense chain of the same input and output widths.
func (m *MLP) Unmarshal(id, s string) error {
	net, err := nn.LoadModelFromString(s, id)
	if err != nil {
		return fmt.Errorf("decode network %s: %w", id, err)
	}
	if err := m.checkWidths(net); err != nil {
		return fmt.Errorf("decode network %s: %w", id, err)
	}
	m.mu.Lock()
	m.net = net
	m.mu.Unlock()
	return nil
}

func (m *MLP) checkWidths(net *nn.Network) error {
	n := net.TotalLayers()
	if n == 0 || len(net.Layers) < n {
		return fmt.Errorf("%w: network has no layers", ErrWidthMismatch)
	}
	prev := m.in
	for i := 0; i < n; i++ {
		l := net.Layers[i]
		if l.Type != nn.LayerDense {
			return fmt.Errorf("%w: layer %d is not dense", ErrWidthMismatch, i)
		}
		if l.InputHeight != prev {
			return fmt.Errorf("%w: layer %d takes %d inputs, want %d", ErrWidthMismatch, i, l.InputHeight, prev)
		}
		prev = l.OutputHeight
	}
	if prev != m.out {
		return fmt.Errorf("%w: network produces %d outputs, want %d", ErrWidthMismatch, prev, m.out)
	}
	return nil
}

// ParseActivation maps a config name onto a loom activation. An empty name
// selects leaky ReLU.
func ParseActivation(name string) (nn.ActivationType, error) {
	switch name {
	case "", "leaky_relu", "lrelu":
		return nn.ActivationLeakyReLU, nil
	case "tanh":
		return nn.ActivationTanh, nil
	case "sigmoid":
		return nn.ActivationSigmoid, nil
	case "scaled_relu", "relu":
		return nn.ActivationScaledReLU, nil
	case "softplus":
		return nn.ActivationSoftplus, nil
	}
	return nn.ActivationLeakyReLU, fmt.Errorf("unknown activation %q", name)
}
