package orchestrator

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/maastricht-university/pase-pipeline/config"
	"github.com/maastricht-university/pase-pipeline/frontend"
	"github.com/maastricht-university/pase-pipeline/tensor"
)

// Chunking trains every worker on its own fixed random subset of K feature
// channels. The subsets are drawn on the first forward pass and kept for
// the life of the model. Regression workers see the masked chunk;
// classification and self-labeling workers see all three views masked.
type Chunking struct {
	*core
	k     int
	rng   *rand.Rand
	masks sync.Once
}

func NewChunking(ctx context.Context, cfg *config.Root, opts ...Option) (*Chunking, error) {
	o := buildOptions(opts)
	c, err := build(ctx, cfg, config.VariantChunking, false, o)
	if err != nil {
		return nil, err
	}
	k, width := cfg.Model.ChunkSize, c.enc.EmbDim()
	if k <= 0 || k > width {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("chunk_size must be in [1, %d], got %d", width, k)}
	}
	return &Chunking{core: c, k: k, rng: o.rng}, nil
}

// K is the number of channels kept per worker.
func (m *Chunking) K() int { return m.k }

// Masks returns a copy of every generated (C) selector by worker name.
// Empty before the first forward pass.
func (m *Chunking) Masks() map[string]*tensor.Tensor {
	out := map[string]*tensor.Tensor{}
	for _, s := range m.slots() {
		if s.mask != nil {
			out[s.name] = s.mask.Clone()
		}
	}
	return out
}

func (m *Chunking) ensureMasks() {
	m.masks.Do(func() {
		width := m.enc.EmbDim()
		for _, s := range m.slots() {
			sel, idx := generateMask(m.rng, width, m.k)
			s.mask = sel
			log.WithFields(logrus.Fields{"model": m.name, "worker": s.name, "channels": idx}).Info("generated chunk mask")
		}
	})
}

func (m *Chunking) Forward(x frontend.Batch, dev frontend.Device) (*Output, error) {
	m.ensureMasks()

	h, chunk, err := m.enc.Forward(x, dev)
	if err != nil {
		return nil, err
	}
	out := newOutput(h, chunk, len(m.regression)+len(m.classification))

	for _, s := range m.regression {
		if s.mask == nil {
			return nil, &ContractMismatchError{Worker: s.name, Reason: "no chunk mask"}
		}
		if err := m.run(s, view{single: tensor.MaskFeatures(chunk, s.mask)}, x, out); err != nil {
			return nil, err
		}
	}
	for _, s := range m.classification {
		if s.mask == nil {
			return nil, &ContractMismatchError{Worker: s.name, Reason: "no chunk mask"}
		}
		masked := h.Map(func(t *tensor.Tensor) *tensor.Tensor { return tensor.MaskFeatures(t, s.mask) })
		if err := m.run(s, view{single: masked.Chunk, h: masked}, x, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// generateMask draws k of width channels uniformly without replacement and
// returns the (width) 0/1 selector with the sorted channel indices.
func generateMask(rng *rand.Rand, width, k int) (*tensor.Tensor, []int) {
	perm := rng.Perm(width)
	idx := append([]int(nil), perm[:k]...)
	sort.Ints(idx)

	sel := tensor.New(width)
	for _, i := range idx {
		sel.Set(1, i)
	}
	return sel, idx
}
