// Package ingestion converts raw text into stored memories: filter, route,
// embed, weigh, classify, insert.
package ingestion

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/watzon/mnemo/internal/memory/weight"
	"github.com/watzon/mnemo/internal/metrics"
	"github.com/watzon/mnemo/internal/model"
	registrycurator "github.com/watzon/mnemo/internal/registry/curator"
	registryembed "github.com/watzon/mnemo/internal/registry/embed"
	registrystore "github.com/watzon/mnemo/internal/registry/store"
	"github.com/watzon/mnemo/internal/router"
)

// minContentLength is the shortest trimmed input worth storing.
const minContentLength = 10

// Pipeline inserts memories. An exclusive lock sequences inserts that also
// invoke the embedding model, keeping the store effectively single-writer.
type Pipeline struct {
	mu       sync.Mutex
	store    registrystore.Store
	embedder registryembed.Embedder
	router   router.Router
	weight   weight.Config
}

// NewPipeline creates an ingestion pipeline.
func NewPipeline(store registrystore.Store, embedder registryembed.Embedder, rt router.Router, weightCfg weight.Config) *Pipeline {
	return &Pipeline{
		store:    store,
		embedder: embedder,
		router:   rt,
		weight:   weightCfg,
	}
}

// Ingest stores one text as a memory. Inputs that trim to fewer than ten
// characters are silently dropped (nil, nil) — that is filtering, not
// failure. The returned memory is the inserted record.
func (p *Pipeline) Ingest(ctx context.Context, text string, source model.MemorySource, conversationID *string) (*model.Memory, error) {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < minContentLength {
		return nil, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	routed, err := p.router.Route(ctx, trimmed)
	if err != nil {
		return nil, fmt.Errorf("ingest: route: %w", err)
	}

	embedding, err := p.embedder.Embed(ctx, trimmed)
	if err != nil {
		return nil, fmt.Errorf("ingest: embed: %w", err)
	}

	typ := model.TypeSemantic
	if source == model.SourceConversation {
		typ = model.TypeEpisodic
	}

	m := model.NewMemory(trimmed, embedding, typ, source)
	m.Weight = weight.Initial(routed, source)
	m.Compression = compressionForLength(len(trimmed))
	m.ConversationID = conversationID
	m.Entities = routed.EntityTexts()

	if err := p.store.Insert(ctx, m); err != nil {
		return nil, fmt.Errorf("ingest: insert: %w", err)
	}
	metrics.MemoriesIngested.Inc()
	log.Debug("Ingestion: stored memory", "id", m.ID, "type", m.Type, "weight", m.Weight)
	return m, nil
}

// IngestCurated stores a pre-classified memory from the curator oracle.
// The curated type and entities are preserved; source is always
// conversation.
func (p *Pipeline) IngestCurated(ctx context.Context, curated registrycurator.CuratedMemory, conversationID *string) (*model.Memory, error) {
	trimmed := strings.TrimSpace(curated.Content)
	if len(trimmed) < minContentLength {
		return nil, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	embedding, err := p.embedder.Embed(ctx, trimmed)
	if err != nil {
		return nil, fmt.Errorf("ingest curated: embed: %w", err)
	}

	m := model.NewMemory(trimmed, embedding, curated.Type, model.SourceConversation)
	m.Weight = clampWeight(curated.Importance)
	m.Compression = compressionForLength(len(trimmed))
	m.ConversationID = conversationID
	m.Entities = curated.Entities

	if err := p.store.Insert(ctx, m); err != nil {
		return nil, fmt.Errorf("ingest curated: insert: %w", err)
	}
	metrics.MemoriesIngested.Inc()
	return m, nil
}

// compressionForLength is the ingestion-time heuristic; post-hoc compaction
// is a separate concern.
func compressionForLength(n int) model.CompressionLevel {
	switch {
	case n < 100:
		return model.CompressionFull
	case n < 500:
		return model.CompressionSummary
	case n < 2000:
		return model.CompressionKeywords
	default:
		return model.CompressionHash
	}
}

func clampWeight(w float32) float32 {
	if w < 0.1 {
		return 0.1
	}
	if w > 1 {
		return 1
	}
	return w
}
