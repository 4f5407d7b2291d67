package orchestrator_test

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maastricht-university/pase-pipeline/checkpoint"
	"github.com/maastricht-university/pase-pipeline/config"
	"github.com/maastricht-university/pase-pipeline/frontend"
	"github.com/maastricht-university/pase-pipeline/layers"
	"github.com/maastricht-university/pase-pipeline/minions"
	"github.com/maastricht-university/pase-pipeline/orchestrator"
	"github.com/maastricht-university/pase-pipeline/tensor"
)

const (
	embDim  = 100
	samples = 64
	batch   = 2
)

func minion(name string) config.Minion {
	return config.Minion{Name: name, Params: map[string]any{"hidden_size": 4}}
}

func testConfig(variant config.Variant, names ...string) *config.Root {
	cfg := &config.Root{
		Model:    config.Model{Variant: variant, Name: "test", ChunkSize: 10},
		Frontend: config.Frontend{FrameSize: 8, Hop: 4, EmbDim: embDim},
	}
	for _, n := range names {
		cfg.Minions = append(cfg.Minions, minion(n))
	}
	return cfg
}

func newModel(t *testing.T, cfg *config.Root, opts ...orchestrator.Option) orchestrator.Model {
	t.Helper()
	opts = append([]orchestrator.Option{orchestrator.WithRand(rand.New(rand.NewSource(7)))}, opts...)
	m, err := orchestrator.New(context.Background(), cfg, opts...)
	require.NoError(t, err)
	return m
}

func testBatch(m orchestrator.Model) frontend.Batch {
	frames := m.Encoder().Frames(samples)
	return frontend.Synthetic(rand.New(rand.NewSource(1)), batch, samples, frames, map[string]int{
		"mfcc":    20,
		"prosody": 4,
	})
}

func keys(m map[string]*tensor.Tensor) []string {
	var out []string
	for k := range m {
		out = append(out, k)
	}
	return out
}

var variants = []config.Variant{config.VariantPase, config.VariantAttention, config.VariantChunking}

func TestNewBuildsEveryWorker(t *testing.T) {
	for _, v := range variants {
		t.Run(string(v), func(t *testing.T) {
			m := newModel(t, testConfig(v, "mfcc", "prosody", "mi", "spc"))
			assert.Equal(t, v, m.Variant())
			require.Len(t, m.Workers(), 4)

			w := m.Workers()
			assert.Equal(t, "mfcc", w[0].Name)
			assert.Equal(t, minions.GroupRegression, w[0].Group)
			assert.Equal(t, "mi", w[2].Name)
			assert.Equal(t, minions.KindSelfLabeling, w[3].Kind)
			assert.Equal(t, minions.GroupClassification, w[3].Group)

			blocks := m.AttentionBlocks()
			if v == config.VariantAttention {
				require.Len(t, blocks, 4)
				for _, wi := range w {
					assert.Equal(t, wi.Name, blocks[wi.Name].Name())
					assert.True(t, wi.Attention)
				}
			} else {
				assert.Empty(t, blocks)
			}
		})
	}
}

func TestConfigurationErrors(t *testing.T) {
	for _, v := range variants {
		t.Run(string(v)+"/empty", func(t *testing.T) {
			_, err := orchestrator.New(context.Background(), testConfig(v))
			var ce *orchestrator.ConfigurationError
			require.ErrorAs(t, err, &ce)
		})
		t.Run(string(v)+"/unroutable", func(t *testing.T) {
			_, err := orchestrator.New(context.Background(), testConfig(v, "mfcc", "pitch"))
			var ce *orchestrator.ConfigurationError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, "pitch", ce.Minion)
			assert.ErrorIs(t, err, minions.ErrUnroutable)
		})
	}

	cfg := testConfig(config.VariantPase, "mfcc", "mfcc")
	_, err := orchestrator.New(context.Background(), cfg)
	var ce *orchestrator.ConfigurationError
	require.ErrorAs(t, err, &ce)

	cfg = testConfig("gan", "mfcc")
	_, err = orchestrator.New(context.Background(), cfg)
	require.ErrorAs(t, err, &ce)

	for _, k := range []int{0, embDim + 1} {
		cfg = testConfig(config.VariantChunking, "mfcc")
		cfg.Model.ChunkSize = k
		_, err = orchestrator.New(context.Background(), cfg)
		require.ErrorAs(t, err, &ce, "chunk_size=%d", k)
	}
}

func TestPaseForward(t *testing.T) {
	m := newModel(t, testConfig(config.VariantPase, "mfcc", "mi"))
	x := testBatch(m)

	out, err := m.Forward(x, frontend.CPU)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"mfcc", "mi"}, keys(out.Predictions))
	assert.ElementsMatch(t, keys(out.Predictions), keys(out.Labels))
	assert.Equal(t, embDim, out.Chunk.Shape()[2])
	assert.Equal(t, []int{batch, m.Encoder().Frames(samples), 20}, out.Predictions["mfcc"].Shape())
	assert.True(t, tensor.Equal(x.Targets["mfcc"], out.Labels["mfcc"]))
	assert.Equal(t, []int{2 * batch, 1}, out.Labels["mi"].Shape())
}

func TestForwardEveryVariant(t *testing.T) {
	for _, v := range variants {
		t.Run(string(v), func(t *testing.T) {
			m := newModel(t, testConfig(v, "mfcc", "prosody", "mi", "cmi", "spc"))
			out, err := m.Forward(testBatch(m), frontend.CPU)
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"mfcc", "prosody", "mi", "cmi", "spc"}, keys(out.Predictions))
			assert.ElementsMatch(t, keys(out.Predictions), keys(out.Labels))
			assert.Equal(t, embDim, out.Chunk.Shape()[2])
			assert.Equal(t, embDim, out.H.Context.Shape()[2])
		})
	}
}

func TestMissingTarget(t *testing.T) {
	m := newModel(t, testConfig(config.VariantPase, "lps"))
	_, err := m.Forward(testBatch(m), frontend.CPU)
	var cm *orchestrator.ContractMismatchError
	require.ErrorAs(t, err, &cm)
	assert.Equal(t, "lps", cm.Worker)
}

func TestUnalignedViewsFailEveryVariant(t *testing.T) {
	for _, v := range variants {
		t.Run(string(v), func(t *testing.T) {
			m := newModel(t, testConfig(v, "mfcc", "cmi"))
			x := testBatch(m)
			x.Context = frontend.Synthetic(rand.New(rand.NewSource(2)), batch, 96, 0, nil).Context
			assert.NotPanics(t, func() {
				_, err := m.Forward(x, frontend.CPU)
				assert.Error(t, err)
			})
		})
	}
}

func TestUnsupportedDevice(t *testing.T) {
	m := newModel(t, testConfig(config.VariantPase, "mfcc"))
	_, err := m.Forward(testBatch(m), "cuda")
	assert.ErrorIs(t, err, frontend.ErrUnsupportedDevice)
}

func TestChunkingMasks(t *testing.T) {
	m := newModel(t, testConfig(config.VariantChunking, "mfcc", "prosody", "mi"))
	c, ok := m.(*orchestrator.Chunking)
	require.True(t, ok)
	assert.Equal(t, 10, c.K())
	assert.Empty(t, c.Masks())

	x := testBatch(m)
	out, err := m.Forward(x, frontend.CPU)
	require.NoError(t, err)

	first := c.Masks()
	require.Len(t, first, 3)
	for name, sel := range first {
		assert.Equal(t, []int{embDim}, sel.Shape(), name)
		assert.Equal(t, 10, tensor.CountNonZero(sel), name)
		assert.Equal(t, embDim-10, sel.Size()-tensor.CountNonZero(sel), name)
	}

	// the returned chunk is the encoder output, not a masked copy
	assert.Greater(t, tensor.CountNonZero(out.Chunk), 10*out.Chunk.Size()/embDim)

	_, err = m.Forward(x, frontend.CPU)
	require.NoError(t, err)
	second := c.Masks()
	for name := range first {
		assert.True(t, tensor.Equal(first[name], second[name]), name)
	}
}

func TestChunkingConcurrentFirstForward(t *testing.T) {
	m := newModel(t, testConfig(config.VariantChunking, "mfcc", "mi"))
	x := testBatch(m)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.Forward(x, frontend.CPU)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Len(t, m.(*orchestrator.Chunking).Masks(), 2)
}

func TestAttentionKeepsEncoderOutput(t *testing.T) {
	m := newModel(t, testConfig(config.VariantAttention, "mfcc", "mi"))
	out, err := m.Forward(testBatch(m), frontend.CPU)
	require.NoError(t, err)
	for _, b := range m.AttentionBlocks() {
		assert.Equal(t, attentionK, b.K())
	}
	assert.Greater(t, tensor.CountNonZero(out.Chunk), attentionK*out.Chunk.Size()/embDim)
}

const attentionK = 40

func TestSelfLabelComesFromWorker(t *testing.T) {
	f := minions.NewFactory(minions.DefaultRouting())
	f.Register("spc", func(desc config.Minion, _ int) (minions.Worker, error) {
		return &fakeSPC{name: desc.Name}, nil
	})

	for _, v := range variants {
		t.Run(string(v), func(t *testing.T) {
			m := newModel(t, testConfig(v, "spc"), orchestrator.WithFactory(f))
			out, err := m.Forward(testBatch(m), frontend.CPU)
			require.NoError(t, err)
			assert.True(t, tensor.Equal(tensor.Fill(7, 2, 1), out.Labels["spc"]))
		})
	}
}

func TestContractMismatch(t *testing.T) {
	f := minions.NewFactory(minions.DefaultRouting())
	f.Register("mi", func(desc config.Minion, _ int) (minions.Worker, error) {
		return &fakeSPC{name: desc.Name}, nil
	})
	f.Register("cmi", func(desc config.Minion, _ int) (minions.Worker, error) {
		return &fakeSPC{name: "renamed"}, nil
	})

	_, err := orchestrator.New(context.Background(), testConfig(config.VariantPase, "cmi"), orchestrator.WithFactory(f))
	var cm *orchestrator.ContractMismatchError
	require.ErrorAs(t, err, &cm)

	f.Register("mfcc", func(desc config.Minion, _ int) (minions.Worker, error) {
		return &shapeless{name: desc.Name}, nil
	})
	_, err = orchestrator.New(context.Background(), testConfig(config.VariantPase, "mfcc"), orchestrator.WithFactory(f))
	require.ErrorAs(t, err, &cm)
	assert.Equal(t, "mfcc", cm.Worker)

	// a self-labeling worker may sit in the classification group
	_, err = orchestrator.New(context.Background(), testConfig(config.VariantPase, "mi"), orchestrator.WithFactory(f))
	require.NoError(t, err)
}

func TestPretrainedCheckpoint(t *testing.T) {
	src := newModel(t, testConfig(config.VariantPase, "mfcc", "mi"))

	dir := t.TempDir()
	path := filepath.Join(dir, "pase"+checkpoint.Ext)
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, checkpoint.Save(f, src.Name(), src.Modules()))
	require.NoError(t, f.Close())

	cfg := testConfig(config.VariantPase, "mfcc", "mi")
	cfg.Model.PretrainedCkpt = dir
	dst := newModel(t, cfg)

	input := make([]float32, 8)
	for i := range input {
		input[i] = float32(i) / 8
	}
	want, got := src.Modules(), dst.Modules()
	require.Equal(t, len(want), len(got))
	assert.Equal(t, want[0].Name, got[0].Name)
	assert.InDeltaSlice(t, want[0].MLP.Apply(input), got[0].MLP.Apply(input), 1e-5)

	narrow := testConfig(config.VariantPase, "mfcc", "mi")
	narrow.Frontend.EmbDim = embDim / 2
	narrow.Model.PretrainedCkpt = dir
	_, err = orchestrator.New(context.Background(), narrow)
	require.ErrorIs(t, err, layers.ErrWidthMismatch)

	cfg.Model.PretrainedCkpt = filepath.Join(dir, "missing"+checkpoint.Ext)
	_, err = orchestrator.New(context.Background(), cfg)
	require.Error(t, err)
}

func TestSummarizeAndPersist(t *testing.T) {
	m := newModel(t, testConfig(config.VariantChunking, "mfcc", "mi"))
	out, err := m.Forward(testBatch(m), frontend.CPU)
	require.NoError(t, err)

	s := orchestrator.Summarize(m, out)
	assert.NotEmpty(t, s.RunID)
	assert.Equal(t, "chunking", s.Variant)
	require.Len(t, s.Workers, 2)
	assert.Equal(t, "regression", s.Workers[0].Group)
	assert.Len(t, s.Workers[0].Mask, 10)
	assert.Equal(t, []int{2 * batch, 1}, s.Workers[1].Label)

	dir, err := orchestrator.Persist(t.TempDir(), m, s, true)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "summary.json"))
	assert.FileExists(t, filepath.Join(dir, "test"+checkpoint.Ext))
}

// fakeSPC is a self-labeling worker whose label is recognisable.
type fakeSPC struct{ name string }

func (f *fakeSPC) Name() string                    { return f.name }
func (f *fakeSPC) Kind() minions.Kind              { return minions.KindSelfLabeling }
func (f *fakeSPC) Modules() map[string]*layers.MLP { return nil }

func (f *fakeSPC) Forward(view *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	return tensor.Fill(0.5, 2, 1), tensor.Fill(7, 2, 1), nil
}

// shapeless claims the regression contract without implementing it.
type shapeless struct{ name string }

func (s *shapeless) Name() string                    { return s.name }
func (s *shapeless) Kind() minions.Kind              { return minions.KindRegression }
func (s *shapeless) Modules() map[string]*layers.MLP { return nil }

// recordingRegressor keeps the view it was last called with.
type recordingRegressor struct {
	name string
	seen *tensor.Tensor
}

func (r *recordingRegressor) Name() string                    { return r.name }
func (r *recordingRegressor) Kind() minions.Kind              { return minions.KindRegression }
func (r *recordingRegressor) Modules() map[string]*layers.MLP { return nil }

func (r *recordingRegressor) Forward(view *tensor.Tensor) (*tensor.Tensor, error) {
	r.seen = view.Clone()
	s := view.Shape()
	return tensor.New(s[0], s[1], 1), nil
}

// recordingClassifier keeps the representation it was last called with.
type recordingClassifier struct {
	name string
	seen frontend.Representation
}

func (r *recordingClassifier) Name() string                    { return r.name }
func (r *recordingClassifier) Kind() minions.Kind              { return minions.KindClassification }
func (r *recordingClassifier) Modules() map[string]*layers.MLP { return nil }

func (r *recordingClassifier) Forward(h frontend.Representation) (*tensor.Tensor, *tensor.Tensor, error) {
	r.seen = h.Map(func(t *tensor.Tensor) *tensor.Tensor { return t.Clone() })
	b := h.Chunk.Shape()[0]
	return tensor.New(2*b, 1), tensor.New(2*b, 1), nil
}

func recordingModel(t *testing.T, v config.Variant) (orchestrator.Model, *recordingRegressor, *recordingClassifier) {
	t.Helper()
	reg := &recordingRegressor{name: "mfcc"}
	cls := &recordingClassifier{name: "mi"}
	f := minions.NewFactory(minions.DefaultRouting())
	f.Register("mfcc", func(config.Minion, int) (minions.Worker, error) { return reg, nil })
	f.Register("mi", func(config.Minion, int) (minions.Worker, error) { return cls, nil })
	return newModel(t, testConfig(v, "mfcc", "mi"), orchestrator.WithFactory(f)), reg, cls
}

// channels lists the feature channels holding any non-zero value.
func channels(t *tensor.Tensor) []int {
	width := t.Features()
	used := make([]bool, width)
	for i, v := range t.Data() {
		if v != 0 {
			used[i%width] = true
		}
	}
	var out []int
	for c, ok := range used {
		if ok {
			out = append(out, c)
		}
	}
	return out
}

func TestPaseDispatch(t *testing.T) {
	m, reg, cls := recordingModel(t, config.VariantPase)
	out, err := m.Forward(testBatch(m), frontend.CPU)
	require.NoError(t, err)

	assert.True(t, tensor.Equal(out.Chunk, reg.seen))
	assert.True(t, tensor.Equal(out.H.Chunk, cls.seen.Chunk))
	assert.True(t, tensor.Equal(out.H.Context, cls.seen.Context))
	assert.True(t, tensor.Equal(out.H.Rand, cls.seen.Rand))
}

func TestAttentionDispatch(t *testing.T) {
	m, reg, cls := recordingModel(t, config.VariantAttention)
	out, err := m.Forward(testBatch(m), frontend.CPU)
	require.NoError(t, err)
	blocks := m.AttentionBlocks()

	hidden, sel, err := blocks["mfcc"].Forward(out.Chunk, frontend.CPU)
	require.NoError(t, err)
	assert.True(t, tensor.Equal(hidden, reg.seen))
	assert.Len(t, channels(reg.seen), attentionK)

	hidden, sel, err = blocks["mi"].Forward(out.Chunk, frontend.CPU)
	require.NoError(t, err)
	want := channels(sel)
	require.Len(t, want, attentionK)

	assert.True(t, tensor.Equal(hidden, cls.seen.Chunk))
	assert.True(t, tensor.Equal(tensor.Mul(out.H.Context, sel), cls.seen.Context))
	assert.True(t, tensor.Equal(tensor.Mul(out.H.Rand, sel), cls.seen.Rand))
	assert.Equal(t, want, channels(cls.seen.Chunk))
	assert.Equal(t, want, channels(cls.seen.Context))
	assert.Equal(t, want, channels(cls.seen.Rand))
}

func TestChunkingDispatch(t *testing.T) {
	m, reg, cls := recordingModel(t, config.VariantChunking)
	out, err := m.Forward(testBatch(m), frontend.CPU)
	require.NoError(t, err)
	masks := m.(*orchestrator.Chunking).Masks()

	assert.True(t, tensor.Equal(tensor.MaskFeatures(out.Chunk, masks["mfcc"]), reg.seen))
	assert.Equal(t, channels(masks["mfcc"]), channels(reg.seen))

	want := channels(masks["mi"])
	require.Len(t, want, 10)
	for name, pair := range map[string][2]*tensor.Tensor{
		"chunk":   {out.H.Chunk, cls.seen.Chunk},
		"context": {out.H.Context, cls.seen.Context},
		"rand":    {out.H.Rand, cls.seen.Rand},
	} {
		assert.True(t, tensor.Equal(tensor.MaskFeatures(pair[0], masks["mi"]), pair[1]), name)
		assert.Equal(t, want, channels(pair[1]), name)
	}
}

func TestChunkingSingleChunkWorker(t *testing.T) {
	m := newModel(t, testConfig(config.VariantChunking, "chunk"))
	x := frontend.Synthetic(rand.New(rand.NewSource(4)), batch, samples, m.Encoder().Frames(samples), map[string]int{"chunk": 160})
	_, err := m.Forward(x, frontend.CPU)
	require.NoError(t, err)

	sel := m.(*orchestrator.Chunking).Masks()["chunk"]
	require.NotNil(t, sel)
	ones, zeros := 0, 0
	for _, v := range sel.Data() {
		switch v {
		case 1:
			ones++
		case 0:
			zeros++
		}
	}
	assert.Equal(t, 10, ones)
	assert.Equal(t, 90, zeros)
}
