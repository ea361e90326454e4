package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/SeraKah-1/neuronotespro/internal/model"
	"github.com/SeraKah-1/neuronotespro/internal/provider"
	"github.com/SeraKah-1/neuronotespro/internal/repair"
)

// Generator is the two-phase content provider contract the engine drives.
// Implementations are external, fallible, and latency-bearing.
type Generator interface {
	GenerateOutline(ctx context.Context, cfg model.RunConfig, topic string) (string, error)
	GenerateContent(ctx context.Context, cfg model.RunConfig, topic, outline string) (string, error)
}

// ModelGenerator implements Generator on top of a provider registry,
// resolving the per-phase provider overrides from the run config and
// repairing the raw model output before returning it.
type ModelGenerator struct {
	registry *provider.Registry
}

// NewModelGenerator creates a Generator backed by the given registry.
func NewModelGenerator(r *provider.Registry) *ModelGenerator {
	return &ModelGenerator{registry: r}
}

// GenerateOutline runs phase 1 for a topic.
func (g *ModelGenerator) GenerateOutline(ctx context.Context, cfg model.RunConfig, topic string) (string, error) {
	client, err := g.registry.Resolve(cfg.OutlineProvider)
	if err != nil {
		return "", err
	}
	raw, err := client.Complete(ctx, buildOutlinePrompt(topic, cfg.OutlineInstructions))
	if err != nil {
		return "", err
	}
	outline := repair.Markdown(raw)
	if strings.TrimSpace(outline) == "" {
		return "", fmt.Errorf("provider returned empty outline")
	}
	return outline, nil
}

// GenerateContent runs phase 2 for a topic with its approved outline.
func (g *ModelGenerator) GenerateContent(ctx context.Context, cfg model.RunConfig, topic, outline string) (string, error) {
	client, err := g.registry.Resolve(cfg.ContentProvider)
	if err != nil {
		return "", err
	}
	raw, err := client.Complete(ctx, buildContentPrompt(topic, outline, cfg.ContentInstructions))
	if err != nil {
		return "", err
	}
	content := repair.Document(raw)
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("provider returned empty content")
	}
	return content, nil
}
