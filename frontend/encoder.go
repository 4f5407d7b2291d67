package frontend

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/maastricht-university/pase-pipeline/config"
	"github.com/maastricht-university/pase-pipeline/layers"
	"github.com/maastricht-university/pase-pipeline/tensor"
)

const (
	defaultFrameSize = 160
	defaultEmbDim    = 100
)

var defaultDilations = []int{1, 2, 4, 8}

var log = logrus.WithField("component", "frontend")

// Encoder maps a multi-view waveform batch to a representation and the
// chunk embedding consumed by regression workers.
type Encoder interface {
	Forward(x Batch, dev Device) (Representation, *tensor.Tensor, error)
	// EmbDim is the width of the feature axis of every output.
	EmbDim() int
	// Frames is the number of output frames for a waveform of samples.
	Frames(samples int) int
	// Modules lists the trainable networks by checkpoint name.
	Modules() map[string]*layers.MLP
}

// New builds the encoder selected by cfg: aspp, aspp_res, or the framed
// waveform encoder when neither key is present.
func New(cfg config.Frontend) (Encoder, error) {
	act, err := layers.ParseActivation(cfg.Activ)
	if err != nil {
		return nil, fmt.Errorf("frontend: %w", err)
	}
	fr := framing{size: cfg.FrameSize, hop: cfg.Hop}
	if fr.size <= 0 {
		fr.size = defaultFrameSize
	}
	if fr.hop <= 0 {
		fr.hop = fr.size
	}

	switch {
	case cfg.ASPP != nil:
		log.WithFields(logrus.Fields{"sinc_out": cfg.SincOut, "hidden_dim": cfg.HiddenDim}).Debug("building aspp encoder")
		return newASPP(fr, cfg, act, false)
	case cfg.ASPPRes != nil:
		log.WithFields(logrus.Fields{"sinc_out": cfg.SincOut, "hidden_dim": cfg.HiddenDim}).Debug("building residual aspp encoder")
		return newASPP(fr, cfg, act, true)
	default:
		emb := cfg.EmbDim
		if emb <= 0 {
			emb = defaultEmbDim
		}
		log.WithFields(logrus.Fields{"frame_size": fr.size, "hop": fr.hop, "emb_dim": emb}).Debug("building wavefe encoder")
		return &WaveFe{
			framing: fr,
			proj:    layers.NewMLP(fr.size, cfg.Hidden, emb, act),
		}, nil
	}
}

type framing struct {
	size, hop int
}

func (f framing) Frames(samples int) int { return frameCount(samples, f.size, f.hop) }

// frames validates x and cuts every view into (B, T, size) frames.
func (f framing) frames(x Batch, dev Device) (Representation, error) {
	if err := dev.check(); err != nil {
		return Representation{}, err
	}
	if err := x.validate(); err != nil {
		return Representation{}, err
	}
	for _, v := range []*tensor.Tensor{x.Chunk, x.Context, x.Rand} {
		if n := v.Shape()[1]; f.Frames(n) == 0 {
			return Representation{}, fmt.Errorf("frontend: %d samples is shorter than one %d sample frame", n, f.size)
		}
	}
	return Representation{
		Chunk:   window(x.Chunk, f.size, f.hop),
		Context: window(x.Context, f.size, f.hop),
		Rand:    window(x.Rand, f.size, f.hop),
	}, nil
}

// WaveFe projects every waveform frame through a dense stack.
type WaveFe struct {
	framing
	proj *layers.MLP
}

func (w *WaveFe) EmbDim() int { return w.proj.Out() }

func (w *WaveFe) Modules() map[string]*layers.MLP {
	return map[string]*layers.MLP{"frontend.wavefe": w.proj}
}

func (w *WaveFe) Forward(x Batch, dev Device) (Representation, *tensor.Tensor, error) {
	fr, err := w.frames(x, dev)
	if err != nil {
		return Representation{}, nil, err
	}
	h := fr.Map(w.proj.ApplyFrames)
	return h, h.Chunk.Clone(), nil
}
