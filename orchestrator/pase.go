package orchestrator

import (
	"context"

	"github.com/maastricht-university/pase-pipeline/config"
	"github.com/maastricht-university/pase-pipeline/frontend"
)

// Pase is the baseline model: every worker sees the full encoder output,
// h for classification workers and chunk for the others.
type Pase struct {
	*core
}

func NewPase(ctx context.Context, cfg *config.Root, opts ...Option) (*Pase, error) {
	c, err := build(ctx, cfg, config.VariantPase, false, buildOptions(opts))
	if err != nil {
		return nil, err
	}
	return &Pase{core: c}, nil
}

func (p *Pase) Forward(x frontend.Batch, dev frontend.Device) (*Output, error) {
	h, chunk, err := p.enc.Forward(x, dev)
	if err != nil {
		return nil, err
	}
	out := newOutput(h, chunk, len(p.regression)+len(p.classification))

	for _, s := range p.regression {
		if err := p.run(s, view{single: chunk}, x, out); err != nil {
			return nil, err
		}
	}
	for _, s := range p.classification {
		if err := p.run(s, view{single: chunk, h: h}, x, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}
