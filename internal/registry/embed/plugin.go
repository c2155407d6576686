package embed

import (
	"context"
	"fmt"
)

// Embedder converts text into fixed-dimension vectors. Implementations are
// deterministic for identical input; empty input still yields a full-length
// vector.
type Embedder interface {
	// Embed returns the vector for one text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch returns one vector per input text, in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Dimension is the length of every produced vector.
	Dimension() int
	// ModelName identifies the underlying model.
	ModelName() string
}

// Loader creates an Embedder from config carried on the context.
type Loader func(ctx context.Context) (Embedder, error)

// Plugin represents an embedding provider.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds an embedder plugin. Called from init() in plugin packages.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered embedder names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named embedder.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown embedder %q; valid: %v", name, Names())
}
