package minions

import (
	"fmt"

	"github.com/openfluke/loom/nn"

	"github.com/maastricht-university/pase-pipeline/config"
	"github.com/maastricht-university/pase-pipeline/layers"
	"github.com/maastricht-university/pase-pipeline/tensor"
)

// SPC is sequence predictive coding: the pooled past of a sequence is
// paired with its own future (label 1) and with another sequence's future
// (label 0). With a single sequence in the batch the negative pair is the
// same sequence with past and future swapped. gap frames around the middle
// are left out of both halves.
type SPC struct {
	name string
	in   int
	gap  int
	disc *layers.MLP
}

func NewSPC(desc config.Minion, inputWidth int) (Worker, error) {
	hidden, err := hiddenDims(desc)
	if err != nil {
		return nil, err
	}
	gap, err := desc.Int("gap", 0)
	if err != nil {
		return nil, err
	}
	if gap < 0 {
		return nil, fmt.Errorf("minion %s: gap must not be negative", desc.Name)
	}
	return &SPC{
		name: desc.Name,
		in:   inputWidth,
		gap:  gap,
		disc: layers.NewMLP(2*inputWidth, hidden, 1, nn.ActivationSigmoid),
	}, nil
}

func (s *SPC) Name() string { return s.name }
func (s *SPC) Kind() Kind   { return KindSelfLabeling }

func (s *SPC) Modules() map[string]*layers.MLP {
	return map[string]*layers.MLP{"minion." + s.name: s.disc}
}

func (s *SPC) Forward(view *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	if err := expectWidth(s.name, view, s.in); err != nil {
		return nil, nil, err
	}
	shape := view.Shape()
	b, frames := shape[0], shape[1]
	mid := frames / 2
	pastEnd := mid - s.gap/2
	futureStart := mid + (s.gap+1)/2
	if pastEnd < 1 || futureStart >= frames {
		return nil, nil, fmt.Errorf("minion %s: %d frames cannot hold past, gap %d and future", s.name, frames, s.gap)
	}

	past := tensor.MeanRange(view, 0, pastEnd).Reshape(b, s.in)
	future := tensor.MeanRange(view, futureStart, frames).Reshape(b, s.in)

	var neg *tensor.Tensor
	if b == 1 {
		neg = tensor.ConcatFeatures(future, past)
	} else {
		shifted := tensor.New(b, s.in)
		for i := 0; i < b; i++ {
			for k := 0; k < s.in; k++ {
				shifted.Set(future.At((i+1)%b, k), i, k)
			}
		}
		neg = tensor.ConcatFeatures(past, shifted)
	}
	pos := tensor.ConcatFeatures(past, future)

	label := tensor.Stack(tensor.Fill(1, b, 1), tensor.New(b, 1))
	return s.disc.ApplyRows(tensor.Stack(pos, neg)), label, nil
}
