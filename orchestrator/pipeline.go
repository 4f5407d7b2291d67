package orchestrator

import (
	"context"
	"fmt"

	"github.com/maastricht-university/pase-pipeline/attention"
	"github.com/maastricht-university/pase-pipeline/checkpoint"
	"github.com/maastricht-university/pase-pipeline/config"
	"github.com/maastricht-university/pase-pipeline/frontend"
)

// Model is the surface shared by the three orchestrator variants.
type Model interface {
	Name() string
	Variant() config.Variant
	Encoder() frontend.Encoder
	Workers() []WorkerInfo
	AttentionBlocks() map[string]*attention.Block
	Modules() []checkpoint.Module
	Forward(x frontend.Batch, dev frontend.Device) (*Output, error)
}

var (
	_ Model = (*Pase)(nil)
	_ Model = (*Attention)(nil)
	_ Model = (*Chunking)(nil)
)

// New builds the variant named by cfg.Model.Variant.
func New(ctx context.Context, cfg *config.Root, opts ...Option) (Model, error) {
	if cfg == nil {
		return nil, &ConfigurationError{Reason: "nil config"}
	}
	switch cfg.Model.Variant {
	case config.VariantPase, "":
		return NewPase(ctx, cfg, opts...)
	case config.VariantAttention:
		return NewAttention(ctx, cfg, opts...)
	case config.VariantChunking:
		return NewChunking(ctx, cfg, opts...)
	default:
		return nil, &ConfigurationError{Reason: fmt.Sprintf("unknown model variant %q", cfg.Model.Variant)}
	}
}
