package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/watzon/mnemo/internal/model"
)

// Store is the persistence interface for memories and tombstones. All
// operations serialize through the engine; the store assumes single-writer
// cooperative access (callers mutating the same id concurrently must
// serialize externally).
type Store interface {
	// Insert appends a memory row. The embedding length must match the
	// store's dimension.
	Insert(ctx context.Context, m *model.Memory) error
	// InsertBatch appends several memory rows.
	InsertBatch(ctx context.Context, ms []*model.Memory) error
	// Get returns the memory with the given id, or nil when absent.
	Get(ctx context.Context, id uuid.UUID) (*model.Memory, error)
	// Delete removes the row if present and reports whether it existed.
	Delete(ctx context.Context, id uuid.UUID) (bool, error)

	// UpdateAccess atomically increments access_count and advances
	// last_accessed to now.
	UpdateAccess(ctx context.Context, id uuid.UUID) error
	// UpdateTier rewrites the tier label.
	UpdateTier(ctx context.Context, id uuid.UUID, tier model.Tier) error
	// UpdateConversationID writes or nulls the conversation id and reports
	// whether any row was updated.
	UpdateConversationID(ctx context.Context, id uuid.UUID, conversationID *string) (bool, error)
	// UpdateCompression atomically rewrites content and compression level.
	UpdateCompression(ctx context.Context, id uuid.UUID, content string, level model.CompressionLevel) error

	// Search returns up to k rows nearest to the query embedding.
	Search(ctx context.Context, queryEmb []float32, k int) ([]*model.Memory, error)
	// SearchFiltered restricts the search by the filter predicate.
	SearchFiltered(ctx context.Context, queryEmb []float32, filter *model.Filter, k int) ([]*model.Memory, error)

	// ListByTier returns all rows with the given tier.
	ListByTier(ctx context.Context, tier model.Tier) ([]*model.Memory, error)
	// CountByTier returns the cardinality of a tier.
	CountByTier(ctx context.Context, tier model.Tier) (int64, error)
	// TotalCount returns the total number of memories.
	TotalCount(ctx context.Context) (int64, error)

	// InsertTombstone appends a tombstone row. Tombstones are append-only.
	InsertTombstone(ctx context.Context, t *model.Tombstone) error
	// GetTombstone returns the tombstone for an evicted memory id, or nil.
	GetTombstone(ctx context.Context, originalID uuid.UUID) (*model.Tombstone, error)
	// SearchTombstonesByTopic matches case-insensitive substrings of the
	// joined topics column.
	SearchTombstonesByTopic(ctx context.Context, topic string) ([]*model.Tombstone, error)
	// ListAllTombstones scans the tombstones table.
	ListAllTombstones(ctx context.Context) ([]*model.Tombstone, error)

	// Dimension reports the embedding dimension the store was opened with.
	Dimension() int
	// Close releases the underlying engine.
	Close() error
}

// NotFoundError indicates a memory id that has no row.
type NotFoundError struct {
	ID uuid.UUID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("memory %s not found", e.ID)
}

// DimensionError indicates an embedding whose length does not match the
// store's dimension.
type DimensionError struct {
	Want, Got int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: want %d, got %d", e.Want, e.Got)
}

// Loader creates a Store from config carried on the context.
type Loader func(ctx context.Context) (Store, error)

// Plugin represents a store backend.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a store plugin. Called from init() in plugin packages.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown store %q; valid: %v", name, Names())
}
