package attention

import (
	"fmt"
	"sort"

	"github.com/openfluke/loom/nn"

	"github.com/maastricht-university/pase-pipeline/config"
	"github.com/maastricht-university/pase-pipeline/frontend"
	"github.com/maastricht-university/pase-pipeline/layers"
	"github.com/maastricht-university/pase-pipeline/tensor"
)

// DefaultContext is the number of feature channels a block keeps.
const DefaultContext = 40

// Block scores the feature channels of the chunk embedding and keeps the
// best scoring ones for the worker it is attached to.
type Block struct {
	name  string
	in    int
	k     int
	score *layers.MLP
}

// New builds the block for worker name. The number of kept channels is
// cfg.TopK when set, else fixedContext, clamped to inputWidth.
func New(inputWidth int, name string, cfg config.Attention, fixedContext int) (*Block, error) {
	if inputWidth <= 0 {
		return nil, fmt.Errorf("attention %s: invalid input width %d", name, inputWidth)
	}
	k := fixedContext
	if cfg.TopK > 0 {
		k = cfg.TopK
	}
	if k <= 0 {
		return nil, fmt.Errorf("attention %s: context size must be positive, got %d", name, k)
	}
	k = min(k, inputWidth)

	var hidden []int
	if cfg.HiddenSize > 0 {
		hidden = []int{cfg.HiddenSize}
	}
	act := nn.ActivationSigmoid
	if cfg.Activ != "" {
		a, err := layers.ParseActivation(cfg.Activ)
		if err != nil {
			return nil, fmt.Errorf("attention %s: %w", name, err)
		}
		act = a
	}
	return &Block{
		name:  name,
		in:    inputWidth,
		k:     k,
		score: layers.NewMLP(inputWidth, hidden, inputWidth, act),
	}, nil
}

func (b *Block) Name() string { return b.name }

// K is the number of channels kept.
func (b *Block) K() int { return b.k }

func (b *Block) Modules() map[string]*layers.MLP {
	return map[string]*layers.MLP{"attention." + b.name: b.score}
}

// Forward returns the re-weighted chunk and the (B, T, C) 0/1 selection it
// was built with.
func (b *Block) Forward(chunk *tensor.Tensor, dev frontend.Device) (*tensor.Tensor, *tensor.Tensor, error) {
	if dev != "" && dev != frontend.CPU {
		return nil, nil, fmt.Errorf("attention %s: %w: %s", b.name, frontend.ErrUnsupportedDevice, dev)
	}
	if chunk == nil || chunk.Dims() != 3 || chunk.Features() != b.in {
		return nil, nil, fmt.Errorf("attention %s: expects (batch, frames, %d) chunk", b.name, b.in)
	}

	scores := tensor.MeanFrames(b.score.ApplyFrames(chunk))
	shape := scores.Shape()
	avg := make([]float32, b.in)
	for i := 0; i < shape[0]; i++ {
		for c := 0; c < b.in; c++ {
			avg[c] += scores.At(i, c) / float32(shape[0])
		}
	}

	sel := tensor.New(b.in)
	for _, c := range topK(avg, b.k) {
		sel.Set(1, c)
	}
	mask := tensor.BroadcastFeatures(sel, chunk)
	return tensor.Mul(chunk, mask), mask, nil
}

// topK returns the indices of the k largest values, ties broken by the
// lower index.
func topK(v []float32, k int) []int {
	idx := make([]int, len(v))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return v[idx[a]] > v[idx[b]] })
	return idx[:k]
}
