package frontend

import (
	"fmt"

	"github.com/openfluke/loom/nn"

	"github.com/maastricht-university/pase-pipeline/config"
	"github.com/maastricht-university/pase-pipeline/layers"
	"github.com/maastricht-university/pase-pipeline/tensor"
)

// ASPP is a dilated pyramid encoder: frames are projected to sinc_out
// channels, every dilation branch looks d frames to each side, and the
// branches are averaged into hidden_dim channels. The residual variant adds
// a projection of the sinc stage to the pyramid output.
type ASPP struct {
	framing
	sinc      *layers.MLP
	branches  []*layers.MLP
	dilations []int
	res       *layers.MLP
}

func newASPP(fr framing, cfg config.Frontend, act nn.ActivationType, residual bool) (*ASPP, error) {
	if cfg.SincOut <= 0 || cfg.HiddenDim <= 0 {
		return nil, fmt.Errorf("frontend: aspp needs positive sinc_out and hidden_dim, got %d and %d", cfg.SincOut, cfg.HiddenDim)
	}
	dil := cfg.Dilations
	if len(dil) == 0 {
		dil = defaultDilations
	}
	a := &ASPP{
		framing:   fr,
		sinc:      layers.NewMLP(fr.size, nil, cfg.SincOut, act),
		dilations: dil,
	}
	for _, d := range dil {
		if d <= 0 {
			return nil, fmt.Errorf("frontend: dilation must be positive, got %d", d)
		}
		a.branches = append(a.branches, layers.NewMLP(cfg.SincOut, nil, cfg.HiddenDim, act))
	}
	if residual {
		a.res = layers.NewMLP(cfg.SincOut, nil, cfg.HiddenDim, act)
	}
	return a, nil
}

func (a *ASPP) EmbDim() int { return a.branches[0].Out() }

// Residual reports whether this is the aspp_res variant.
func (a *ASPP) Residual() bool { return a.res != nil }

func (a *ASPP) Modules() map[string]*layers.MLP {
	m := map[string]*layers.MLP{"frontend.sinc": a.sinc}
	for i, b := range a.branches {
		m[fmt.Sprintf("frontend.aspp.%d", a.dilations[i])] = b
	}
	if a.res != nil {
		m["frontend.res"] = a.res
	}
	return m
}

func (a *ASPP) Forward(x Batch, dev Device) (Representation, *tensor.Tensor, error) {
	fr, err := a.frames(x, dev)
	if err != nil {
		return Representation{}, nil, err
	}
	h := fr.Map(a.encode)
	return h, h.Chunk.Clone(), nil
}

func (a *ASPP) encode(frames *tensor.Tensor) *tensor.Tensor {
	s := a.sinc.ApplyFrames(frames)
	var out *tensor.Tensor
	for i, d := range a.dilations {
		y := a.branches[i].ApplyFrames(dilate(s, d))
		if out == nil {
			out = y
		} else {
			out = add(out, y)
		}
	}
	out = scale(out, 1/float32(len(a.dilations)))
	if a.res != nil {
		out = add(out, a.res.ApplyFrames(s))
	}
	return out
}
