package orchestrator

import (
	"math/rand"
	"time"

	"github.com/maastricht-university/pase-pipeline/attention"
	"github.com/maastricht-university/pase-pipeline/checkpoint"
	"github.com/maastricht-university/pase-pipeline/frontend"
	"github.com/maastricht-university/pase-pipeline/minions"
	"github.com/maastricht-university/pase-pipeline/tensor"
)

// Output is the result of one forward pass. H and Chunk are the encoder
// outputs, never the per-worker masked or attended copies. Predictions and
// Labels have one entry per configured worker.
type Output struct {
	H           frontend.Representation
	Chunk       *tensor.Tensor
	Predictions map[string]*tensor.Tensor
	Labels      map[string]*tensor.Tensor
}

func newOutput(h frontend.Representation, chunk *tensor.Tensor, n int) *Output {
	return &Output{
		H:           h,
		Chunk:       chunk,
		Predictions: make(map[string]*tensor.Tensor, n),
		Labels:      make(map[string]*tensor.Tensor, n),
	}
}

// WorkerInfo describes one configured worker.
type WorkerInfo struct {
	Name      string
	Group     minions.Group
	Kind      minions.Kind
	Attention bool
	// Outputs is the label width of a regression worker, 0 otherwise.
	Outputs int
}

// slot is the per-worker state of a model. Exactly one of regressor,
// classifier and selfLabeler is set, matching kind.
type slot struct {
	name        string
	group       minions.Group
	kind        minions.Kind
	worker      minions.Worker
	regressor   minions.Regressor
	classifier  minions.Classifier
	selfLabeler minions.SelfLabeler

	att  *attention.Block
	mask *tensor.Tensor
}

type options struct {
	encoder frontend.Encoder
	factory *minions.Factory
	rng     *rand.Rand
	loader  *checkpoint.Loader
}

type Option func(*options)

// WithEncoder uses enc instead of building one from the frontend config.
func WithEncoder(enc frontend.Encoder) Option {
	return func(o *options) { o.encoder = enc }
}

// WithFactory uses f instead of a factory built from the routing lists.
func WithFactory(f *minions.Factory) Option {
	return func(o *options) { o.factory = f }
}

// WithRand sets the source used for chunk mask selection.
func WithRand(r *rand.Rand) Option {
	return func(o *options) { o.rng = r }
}

// WithLoader sets how pretrained_ckpt is resolved.
func WithLoader(l *checkpoint.Loader) Option {
	return func(o *options) { o.loader = l }
}

func buildOptions(opts []Option) options {
	o := options{}
	for _, fn := range opts {
		fn(&o)
	}
	if o.rng == nil {
		o.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if o.loader == nil {
		o.loader = &checkpoint.Loader{}
	}
	return o
}
