package minions

import (
	"github.com/openfluke/loom/nn"

	"github.com/maastricht-university/pase-pipeline/config"
	"github.com/maastricht-university/pase-pipeline/frontend"
	"github.com/maastricht-university/pase-pipeline/layers"
	"github.com/maastricht-university/pase-pipeline/tensor"
)

// MI discriminates (chunk, context) pairs from (chunk, rand) pairs on
// frame-pooled embeddings. The first half of its output rows are positive
// pairs (label 1), the second half negative (label 0).
type MI struct {
	name   string
	in     int
	frames bool
	disc   *layers.MLP
}

func NewMI(desc config.Minion, inputWidth int) (Worker, error) {
	return newMI(desc, inputWidth, false)
}

// NewCMI is the contextual variant: pairs are built frame by frame instead
// of on pooled embeddings.
func NewCMI(desc config.Minion, inputWidth int) (Worker, error) {
	return newMI(desc, inputWidth, true)
}

func newMI(desc config.Minion, inputWidth int, frames bool) (Worker, error) {
	hidden, err := hiddenDims(desc)
	if err != nil {
		return nil, err
	}
	return &MI{
		name:   desc.Name,
		in:     inputWidth,
		frames: frames,
		disc:   layers.NewMLP(2*inputWidth, hidden, 1, nn.ActivationSigmoid),
	}, nil
}

func (m *MI) Name() string { return m.name }
func (m *MI) Kind() Kind   { return KindClassification }

func (m *MI) Modules() map[string]*layers.MLP {
	return map[string]*layers.MLP{"minion." + m.name: m.disc}
}

func (m *MI) Forward(h frontend.Representation) (*tensor.Tensor, *tensor.Tensor, error) {
	for _, v := range []*tensor.Tensor{h.Chunk, h.Context, h.Rand} {
		if err := expectWidth(m.name, v, m.in); err != nil {
			return nil, nil, err
		}
	}

	if m.frames {
		pos := tensor.ConcatFeatures(h.Chunk, h.Context)
		neg := tensor.ConcatFeatures(h.Chunk, h.Rand)
		pairs := tensor.Stack(pos, neg)
		shape := pos.Shape()
		label := tensor.Stack(tensor.Fill(1, shape[0], shape[1], 1), tensor.New(shape[0], shape[1], 1))
		return m.disc.ApplyFrames(pairs), label, nil
	}

	anchor := tensor.MeanFrames(h.Chunk)
	pos := tensor.ConcatFeatures(anchor, tensor.MeanFrames(h.Context))
	neg := tensor.ConcatFeatures(anchor, tensor.MeanFrames(h.Rand))
	b := anchor.Shape()[0]
	label := tensor.Stack(tensor.Fill(1, b, 1), tensor.New(b, 1))
	return m.disc.ApplyRows(tensor.Stack(pos, neg)), label, nil
}
