package inference

import (
	"context"
	"fmt"

	"github.com/dharsanguruparan/DocBrief/internal/config"
)

// New constructs the backend named by cfg.Backend.
func New(ctx context.Context, cfg config.InferenceConfig) (Backend, error) {
	switch cfg.Backend {
	case "", "lead":
		return Lead{}, nil
	case "openai":
		return NewOpenAI(OpenAIConfig{
			BaseURL: cfg.OpenAI.BaseURL,
			APIKey:  cfg.OpenAI.APIKey,
			Model:   cfg.ModelName,
		}), nil
	case "vertex":
		return NewVertex(ctx, cfg.Vertex.Project, cfg.Vertex.Region, cfg.ModelName)
	default:
		return nil, fmt.Errorf("unknown inference backend %q", cfg.Backend)
	}
}

// Build returns the backend a process should own: lazily loaded, recycled
// after maxUses calls, and serialized when the backend is exclusive.
func Build(cfg config.InferenceConfig, maxUses int) Backend {
	var b Backend = NewLazy(func(ctx context.Context) (Backend, error) {
		return New(ctx, cfg)
	}, maxUses)
	if cfg.Exclusive {
		b = NewSerialized(b)
	}
	return b
}
