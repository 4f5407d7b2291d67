package orchestrator

import (
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/maastricht-university/pase-pipeline/attention"
	"github.com/maastricht-university/pase-pipeline/checkpoint"
	"github.com/maastricht-university/pase-pipeline/config"
	"github.com/maastricht-university/pase-pipeline/frontend"
	"github.com/maastricht-university/pase-pipeline/layers"
	"github.com/maastricht-university/pase-pipeline/minions"
	"github.com/maastricht-university/pase-pipeline/tensor"
)

var log = logrus.WithField("component", "orchestrator")

// core holds what the three variants share: the encoder and the per-worker
// slots, regression group first, each group in config order.
type core struct {
	name           string
	variant        config.Variant
	enc            frontend.Encoder
	regression     []*slot
	classification []*slot
}

// build constructs the encoder and every worker. With withAttention each
// worker also gets its attention block. The pretrained checkpoint, if any,
// is applied once everything exists.
func build(ctx context.Context, cfg *config.Root, variant config.Variant, withAttention bool, o options) (*core, error) {
	if cfg == nil || len(cfg.Minions) == 0 {
		return nil, &ConfigurationError{Reason: "no minions configured, specify at least one worker"}
	}

	factory := o.factory
	if factory == nil {
		factory = minions.NewFactory(minions.RoutingFrom(cfg.Model))
	}
	if err := factory.Routing().Validate(); err != nil {
		return nil, &ConfigurationError{Reason: "routing", Err: err}
	}

	enc := o.encoder
	if enc == nil {
		var err error
		if enc, err = frontend.New(cfg.Frontend); err != nil {
			return nil, &ConfigurationError{Reason: "frontend", Err: err}
		}
	}

	c := &core{name: cfg.Model.Name, variant: variant, enc: enc}
	width := enc.EmbDim()
	seen := make(map[string]bool, len(cfg.Minions))
	for _, desc := range cfg.Minions {
		if seen[desc.Name] {
			return nil, &ConfigurationError{Minion: desc.Name, Reason: "duplicate worker name"}
		}
		seen[desc.Name] = true

		s, err := newSlot(factory, desc, width)
		if err != nil {
			return nil, err
		}
		if withAttention {
			if s.att, err = attention.New(width, desc.Name, cfg.Attention, attention.DefaultContext); err != nil {
				return nil, &ConfigurationError{Minion: desc.Name, Reason: "attention block", Err: err}
			}
		}

		if s.group == minions.GroupRegression {
			c.regression = append(c.regression, s)
		} else {
			c.classification = append(c.classification, s)
		}
		log.WithFields(logrus.Fields{
			"model": c.name, "worker": s.name, "group": s.group, "kind": s.kind, "attention": s.att != nil,
		}).Debug("worker attached")
	}

	if cfg.Model.PretrainedCkpt != "" {
		if err := c.LoadPretrained(ctx, o.loader, cfg.Model.PretrainedCkpt, cfg.Model.ShouldLoadLast()); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func newSlot(factory *minions.Factory, desc config.Minion, width int) (*slot, error) {
	w, group, err := factory.Make(desc, width)
	if err != nil {
		return nil, &ConfigurationError{Minion: desc.Name, Err: err}
	}
	if w.Name() != desc.Name {
		return nil, &ContractMismatchError{Worker: desc.Name, Reason: fmt.Sprintf("constructor returned worker %q", w.Name())}
	}
	if w.Kind().Group() != group {
		return nil, &ContractMismatchError{Worker: desc.Name, Reason: fmt.Sprintf("%s worker routed to the %s group", w.Kind(), group)}
	}
	if !minions.Fits(w) {
		return nil, &ContractMismatchError{Worker: desc.Name, Reason: fmt.Sprintf("does not implement the %s call shape", w.Kind())}
	}

	s := &slot{name: desc.Name, group: group, kind: w.Kind(), worker: w}
	s.regressor, _ = w.(minions.Regressor)
	s.classifier, _ = w.(minions.Classifier)
	s.selfLabeler, _ = w.(minions.SelfLabeler)
	return s, nil
}

func (c *core) slots() []*slot {
	return append(append([]*slot(nil), c.regression...), c.classification...)
}

func (c *core) Name() string { return c.name }

func (c *core) Variant() config.Variant { return c.variant }

func (c *core) Encoder() frontend.Encoder { return c.enc }

func (c *core) Workers() []WorkerInfo {
	var out []WorkerInfo
	for _, s := range c.slots() {
		wi := WorkerInfo{Name: s.name, Group: s.group, Kind: s.kind, Attention: s.att != nil}
		if o, ok := s.worker.(interface{ Outputs() int }); ok {
			wi.Outputs = o.Outputs()
		}
		out = append(out, wi)
	}
	return out
}

// AttentionBlocks returns the attention block of every worker by name.
// Empty for variants without attention.
func (c *core) AttentionBlocks() map[string]*attention.Block {
	out := map[string]*attention.Block{}
	for _, s := range c.slots() {
		if s.att != nil {
			out[s.name] = s.att
		}
	}
	return out
}

// Modules lists every trainable network in model order: encoder,
// regression workers, classification workers, attention blocks.
func (c *core) Modules() []checkpoint.Module {
	var out []checkpoint.Module
	add := func(m map[string]*layers.MLP) {
		names := make([]string, 0, len(m))
		for n := range m {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			out = append(out, checkpoint.Module{Name: n, MLP: m[n]})
		}
	}
	add(c.enc.Modules())
	for _, s := range c.slots() {
		add(s.worker.Modules())
	}
	for _, s := range c.slots() {
		if s.att != nil {
			add(s.att.Modules())
		}
	}
	return out
}

// LoadPretrained resolves path with l and applies it to the model.
func (c *core) LoadPretrained(ctx context.Context, l *checkpoint.Loader, path string, loadLast bool) error {
	ck, err := l.Load(ctx, path)
	if err != nil {
		return fmt.Errorf("load pretrained %s: %w", path, err)
	}
	applied, err := checkpoint.Apply(ck, c.Modules(), loadLast)
	if err != nil {
		return fmt.Errorf("load pretrained %s: %w", path, err)
	}
	log.WithFields(logrus.Fields{"model": c.name, "path": path, "modules": len(applied), "load_last": loadLast}).Info("pretrained weights applied")
	return nil
}

// view is what one worker consumes in a forward pass: single for
// regression and self-labeling workers, h for classification workers.
type view struct {
	single *tensor.Tensor
	h      frontend.Representation
}

// run calls s with its view and records the prediction and label.
func (c *core) run(s *slot, v view, x frontend.Batch, out *Output) error {
	var pred, label *tensor.Tensor
	var err error
	switch s.kind {
	case minions.KindRegression:
		target, ok := x.Target(s.name)
		if !ok {
			return &ContractMismatchError{Worker: s.name, Reason: "batch has no target for this regression worker"}
		}
		label = target.Detach()
		pred, err = s.regressor.Forward(v.single)
	case minions.KindClassification:
		pred, label, err = s.classifier.Forward(v.h)
	case minions.KindSelfLabeling:
		pred, label, err = s.selfLabeler.Forward(v.single)
	default:
		return &ContractMismatchError{Worker: s.name, Reason: fmt.Sprintf("unknown worker kind %d", s.kind)}
	}
	if err != nil {
		return fmt.Errorf("worker %s: %w", s.name, err)
	}
	if pred == nil || label == nil {
		return &ContractMismatchError{Worker: s.name, Reason: "forward returned no prediction or no label"}
	}
	out.Predictions[s.name] = pred
	out.Labels[s.name] = label
	return nil
}
