package orchestrator

import (
	"context"
	"fmt"

	"github.com/maastricht-university/pase-pipeline/config"
	"github.com/maastricht-university/pase-pipeline/frontend"
	"github.com/maastricht-university/pase-pipeline/tensor"
)

// Attention gives every worker its own attention block over the chunk
// embedding. Regression and self-labeling workers consume the attended
// chunk; classification workers consume the attended chunk together with
// the context and rand views multiplied by their block's selection.
type Attention struct {
	*core
}

func NewAttention(ctx context.Context, cfg *config.Root, opts ...Option) (*Attention, error) {
	c, err := build(ctx, cfg, config.VariantAttention, true, buildOptions(opts))
	if err != nil {
		return nil, err
	}
	return &Attention{core: c}, nil
}

type attended struct {
	hidden, selection *tensor.Tensor
}

func (a *Attention) Forward(x frontend.Batch, dev frontend.Device) (*Output, error) {
	h, chunk, err := a.enc.Forward(x, dev)
	if err != nil {
		return nil, err
	}

	slots := a.slots()
	att := make(map[*slot]attended, len(slots))
	for _, s := range slots {
		if s.att == nil {
			return nil, &ContractMismatchError{Worker: s.name, Reason: "no attention block"}
		}
		hidden, sel, err := s.att.Forward(chunk, dev)
		if err != nil {
			return nil, fmt.Errorf("attention %s: %w", s.name, err)
		}
		att[s] = attended{hidden: hidden, selection: sel}
	}

	out := newOutput(h, chunk, len(slots))
	for _, s := range a.regression {
		if err := a.run(s, view{single: att[s].hidden}, x, out); err != nil {
			return nil, err
		}
	}
	for _, s := range a.classification {
		v := view{single: att[s].hidden}
		if s.classifier != nil {
			v.h = frontend.Representation{
				Chunk:   att[s].hidden,
				Context: tensor.Mul(h.Context, att[s].selection),
				Rand:    tensor.Mul(h.Rand, att[s].selection),
			}
		}
		if err := a.run(s, v, x, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}
