package curator

import (
	"context"
	"fmt"

	"github.com/watzon/mnemo/internal/model"
)

// CuratedMemory is one memory extracted by the curator oracle.
type CuratedMemory struct {
	Type       model.MemoryType `json:"memory_type"`
	Content    string           `json:"content"`
	Importance float32          `json:"importance"`
	Entities   []string         `json:"entities"`
}

// Result is the curator's verdict on a buffered conversation.
type Result struct {
	ShouldStore bool            `json:"should_store"`
	Memories    []CuratedMemory `json:"memories"`
	Reason      string          `json:"reason"`
}

// Curator decides whether a conversation contains anything worth keeping
// and extracts pre-classified memories from it.
type Curator interface {
	Curate(ctx context.Context, conversation string) (*Result, error)
	// Available reports whether the backing model can currently serve.
	Available(ctx context.Context) bool
	Name() string
}

// Loader creates a Curator from config carried on the context.
type Loader func(ctx context.Context) (Curator, error)

// Plugin represents a curator provider.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a curator plugin. Called from init() in plugin packages.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered curator names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named curator.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown curator %q; valid: %v", name, Names())
}
