// Package retrieval implements the two-stage retrieval pipeline: an
// over-sampled vector search through the store followed by deterministic
// re-ranking on a blend of similarity and effective weight.
package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgraph-io/ristretto/v2"
	"github.com/google/uuid"
	"github.com/watzon/mnemo/internal/memory/weight"
	"github.com/watzon/mnemo/internal/model"
	registrycache "github.com/watzon/mnemo/internal/registry/cache"
	registryembed "github.com/watzon/mnemo/internal/registry/embed"
	registrystore "github.com/watzon/mnemo/internal/registry/store"
	"github.com/watzon/mnemo/internal/storage/tiers"
)

// DeterministicConfig stabilizes result ordering across identical queries
// by quantizing scores and breaking ties on timestamps and ids.
type DeterministicConfig struct {
	Enabled            bool
	DecimalPlaces      int
	TopicOverlapWeight float64
}

// Config holds the retrieval blend parameters.
type Config struct {
	CandidateMultiplier int
	SimilarityWeight    float64
	RerankWeight        float64
	Weight              weight.Config
	Deterministic       DeterministicConfig
}

// DefaultConfig returns the standard retrieval parameters.
func DefaultConfig() Config {
	return Config{
		CandidateMultiplier: 3,
		SimilarityWeight:    0.7,
		RerankWeight:        0.3,
		Weight:              weight.DefaultConfig(),
		Deterministic: DeterministicConfig{
			DecimalPlaces:      2,
			TopicOverlapWeight: 0.1,
		},
	}
}

// Retrieved pairs a memory with its ranking scores.
type Retrieved struct {
	Memory     *model.Memory
	Similarity float64
	Effective  float64
	FinalScore float64
}

// Pipeline runs retrievals against one store and embedder.
type Pipeline struct {
	store    registrystore.Store
	embedder registryembed.Embedder
	tiers    *tiers.Manager
	cfg      Config

	embedCache  *ristretto.Cache[string, []float32]
	resultCache registrycache.ResultCache
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithTierManager makes the pipeline apply check-and-promote after each
// access-stat update.
func WithTierManager(m *tiers.Manager) Option {
	return func(p *Pipeline) { p.tiers = m }
}

// WithResultCache caches deterministic retrieval result-id lists. Only
// deterministic mode uses it; non-deterministic retrieval must advance
// access stats on every call.
func WithResultCache(c registrycache.ResultCache) Option {
	return func(p *Pipeline) { p.resultCache = c }
}

// NewPipeline creates a retrieval pipeline.
func NewPipeline(store registrystore.Store, embedder registryembed.Embedder, cfg Config, opts ...Option) (*Pipeline, error) {
	embedCache, err := ristretto.NewCache(&ristretto.Config[string, []float32]{
		NumCounters: 10_000,
		MaxCost:     1 << 24, // 16 MiB of vectors
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("retrieval: embed cache: %w", err)
	}
	p := &Pipeline{
		store:      store,
		embedder:   embedder,
		cfg:        cfg,
		embedCache: embedCache,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Retrieve embeds the query text and returns the top-k memories.
func (p *Pipeline) Retrieve(ctx context.Context, query string, k int) ([]Retrieved, error) {
	return p.RetrieveFiltered(ctx, query, nil, k, nil)
}

// RetrieveFiltered embeds the query text and returns the top-k memories
// matching the filter. queryEntities feeds the deterministic topic-overlap
// boost and may be nil.
func (p *Pipeline) RetrieveFiltered(ctx context.Context, query string, filter *model.Filter, k int, queryEntities []string) ([]Retrieved, error) {
	if k == 0 {
		return nil, nil
	}
	queryEmb, err := p.embedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("retrieval: embed query: %w", err)
	}

	if p.deterministic(queryEntities) && p.resultCache != nil {
		if cached, ok := p.cachedResults(ctx, queryEmb, query, filter, k, queryEntities); ok {
			return cached, nil
		}
	}

	results, err := p.RetrieveByEmbedding(ctx, queryEmb, filter, k, queryEntities)
	if err != nil {
		return nil, err
	}

	if p.deterministic(queryEntities) && p.resultCache != nil {
		p.storeResults(ctx, query, filter, k, queryEntities, results)
	}
	return results, nil
}

// RetrieveByEmbedding runs the pipeline with a precomputed query embedding.
func (p *Pipeline) RetrieveByEmbedding(ctx context.Context, queryEmb []float32, filter *model.Filter, k int, queryEntities []string) ([]Retrieved, error) {
	if k == 0 {
		return nil, nil
	}

	candidates, err := p.store.SearchFiltered(ctx, queryEmb, filter, k*p.cfg.CandidateMultiplier)
	if err != nil {
		return nil, fmt.Errorf("retrieval: search: %w", err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	now := time.Now().UTC()
	deterministic := p.deterministic(queryEntities)

	scored := make([]Retrieved, 0, len(candidates))
	for _, m := range candidates {
		scored = append(scored, p.score(m, queryEmb, queryEntities, now, deterministic))
	}

	if deterministic {
		sort.SliceStable(scored, func(i, j int) bool {
			if scored[i].FinalScore != scored[j].FinalScore {
				return scored[i].FinalScore > scored[j].FinalScore
			}
			if !scored[i].Memory.CreatedAt.Equal(scored[j].Memory.CreatedAt) {
				return scored[i].Memory.CreatedAt.Before(scored[j].Memory.CreatedAt)
			}
			return scored[i].Memory.ID.String() < scored[j].Memory.ID.String()
		})
	} else {
		sort.SliceStable(scored, func(i, j int) bool {
			return scored[i].FinalScore > scored[j].FinalScore
		})
	}

	if len(scored) > k {
		scored = scored[:k]
	}

	// Best-effort access-stat updates: a failure never loses the results.
	for _, r := range scored {
		if err := p.store.UpdateAccess(ctx, r.Memory.ID); err != nil {
			log.Warn("Retrieval: access update failed", "id", r.Memory.ID, "err", err)
			continue
		}
		if p.tiers != nil {
			if _, err := p.tiers.CheckAndPromote(ctx, r.Memory.ID); err != nil {
				log.Warn("Retrieval: promotion check failed", "id", r.Memory.ID, "err", err)
			}
		}
	}
	return scored, nil
}

// score ranks one candidate against the query. Both the live path and the
// result-cache hit path go through here, so a cache hit is observationally
// equivalent to a fresh retrieval.
func (p *Pipeline) score(m *model.Memory, queryEmb []float32, queryEntities []string, now time.Time, deterministic bool) Retrieved {
	similarity := CosineSimilarity(queryEmb, m.Embedding)
	effective := weight.Effective(m, now, p.cfg.Weight)
	final := p.cfg.SimilarityWeight*similarity + p.cfg.RerankWeight*effective
	if deterministic {
		overlap := TopicOverlap(queryEntities, m.Entities)
		final = Quantize(final+overlap*p.cfg.Deterministic.TopicOverlapWeight,
			p.cfg.Deterministic.DecimalPlaces)
	}
	return Retrieved{
		Memory:     m,
		Similarity: similarity,
		Effective:  effective,
		FinalScore: final,
	}
}

func (p *Pipeline) deterministic(queryEntities []string) bool {
	return p.cfg.Deterministic.Enabled && queryEntities != nil
}

func (p *Pipeline) embedQuery(ctx context.Context, query string) ([]float32, error) {
	if v, ok := p.embedCache.Get(query); ok {
		return v, nil
	}
	v, err := p.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	p.embedCache.Set(query, v, int64(len(v)*4))
	return v, nil
}

func (p *Pipeline) cacheKey(query string, filter *model.Filter, k int, entities []string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%d|%s", query, filter.ToSQLClause(), k,
		strings.ToLower(strings.Join(entities, ",")))
	return hex.EncodeToString(h.Sum(nil))
}

func (p *Pipeline) cachedResults(ctx context.Context, queryEmb []float32, query string, filter *model.Filter, k int, entities []string) ([]Retrieved, bool) {
	raw, ok, err := p.resultCache.Get(ctx, p.cacheKey(query, filter, k, entities))
	if err != nil || !ok {
		return nil, false
	}
	var ids []uuid.UUID
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, false
	}
	now := time.Now().UTC()
	out := make([]Retrieved, 0, len(ids))
	for _, id := range ids {
		m, err := p.store.Get(ctx, id)
		if err != nil || m == nil {
			return nil, false // stale entry; fall through to a live retrieval
		}
		out = append(out, p.score(m, queryEmb, entities, now, true))
	}
	for _, r := range out {
		if err := p.store.UpdateAccess(ctx, r.Memory.ID); err != nil {
			log.Warn("Retrieval: access update failed", "id", r.Memory.ID, "err", err)
			continue
		}
		if p.tiers != nil {
			if _, err := p.tiers.CheckAndPromote(ctx, r.Memory.ID); err != nil {
				log.Warn("Retrieval: promotion check failed", "id", r.Memory.ID, "err", err)
			}
		}
	}
	return out, true
}

func (p *Pipeline) storeResults(ctx context.Context, query string, filter *model.Filter, k int, entities []string, results []Retrieved) {
	ids := make([]uuid.UUID, len(results))
	for i, r := range results {
		ids[i] = r.Memory.ID
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return
	}
	if err := p.resultCache.Set(ctx, p.cacheKey(query, filter, k, entities), raw, 5*time.Minute); err != nil {
		log.Warn("Retrieval: result cache store failed", "err", err)
	}
}

// CosineSimilarity returns the cosine of the angle between two vectors,
// clamped to [-1, 1]. Empty, mismatched-length, or all-zero inputs yield 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return math.Max(-1, math.Min(1, sim))
}

// TopicOverlap is the case-insensitive fraction of query entities present
// in the memory's entities.
func TopicOverlap(queryEntities, memoryEntities []string) float64 {
	if len(queryEntities) == 0 {
		return 0
	}
	memSet := make(map[string]struct{}, len(memoryEntities))
	for _, e := range memoryEntities {
		memSet[strings.ToLower(e)] = struct{}{}
	}
	matches := 0
	for _, e := range queryEntities {
		if _, ok := memSet[strings.ToLower(e)]; ok {
			matches++
		}
	}
	return float64(matches) / float64(len(queryEntities))
}

// Quantize rounds a score to the given number of decimal places. Scores
// differing below the quantum compare equal and fall through to the
// timestamp/id tie-break.
func Quantize(x float64, decimalPlaces int) float64 {
	factor := math.Pow(10, float64(decimalPlaces))
	return math.Round(x*factor) / factor
}
