package sqlitevec

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/watzon/mnemo/internal/model"
	registrystore "github.com/watzon/mnemo/internal/registry/store"
)

// Search returns up to k rows nearest to the query embedding.
func (s *SQLiteStore) Search(ctx context.Context, queryEmb []float32, k int) ([]*model.Memory, error) {
	return s.SearchFiltered(ctx, queryEmb, nil, k)
}

// SearchFiltered restricts the nearest-neighbor search by the filter
// predicate. With the ANN index in place the distance is computed by
// sqlite-vec; below the training threshold the store scans and ranks with
// exact cosine distance.
func (s *SQLiteStore) SearchFiltered(ctx context.Context, queryEmb []float32, filter *model.Filter, k int) ([]*model.Memory, error) {
	if len(queryEmb) != s.dim {
		return nil, &registrystore.DimensionError{Want: s.dim, Got: len(queryEmb)}
	}
	if k <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.vecIndex {
		return s.searchIndexed(ctx, queryEmb, filter, k)
	}
	return s.searchExact(ctx, queryEmb, filter, k)
}

func (s *SQLiteStore) searchIndexed(ctx context.Context, queryEmb []float32, filter *model.Filter, k int) ([]*model.Memory, error) {
	q := `SELECT ` + prefixColumns("m") + `
		FROM vec_index v
		JOIN memories m ON m.id = v.memory_id`
	if clause := filter.ToSQLClause(); clause != "" {
		q += " WHERE " + clause
	}
	q += ` ORDER BY vec_distance_cosine(v.embedding, ?) ASC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, q, encodeVector(queryEmb), k)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

func (s *SQLiteStore) searchExact(ctx context.Context, queryEmb []float32, filter *model.Filter, k int) ([]*model.Memory, error) {
	q := `SELECT ` + memoryColumns + ` FROM memories`
	if clause := filter.ToSQLClause(); clause != "" {
		q += " WHERE " + clause
	}
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("exact search: %w", err)
	}
	defer rows.Close()

	ms, err := scanMemories(rows)
	if err != nil {
		return nil, err
	}

	type scored struct {
		m    *model.Memory
		dist float64
	}
	candidates := make([]scored, 0, len(ms))
	for _, m := range ms {
		candidates = append(candidates, scored{m: m, dist: cosineDistance(queryEmb, m.Embedding)})
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].dist < candidates[j].dist })

	if len(candidates) > k {
		candidates = candidates[:k]
	}
	out := make([]*model.Memory, len(candidates))
	for i, c := range candidates {
		out[i] = c.m
	}
	return out, nil
}

// cosineDistance mirrors vec_distance_cosine: 1 - cosine similarity, with
// degenerate inputs ranked last.
func cosineDistance(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 2
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 2
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

func prefixColumns(alias string) string {
	return alias + `.id, ` + alias + `.content, ` + alias + `.embedding, ` +
		alias + `.memory_type, ` + alias + `.weight, ` + alias + `.created_at, ` +
		alias + `.last_accessed, ` + alias + `.access_count, ` + alias + `.conversation_id, ` +
		alias + `.source, ` + alias + `.tier, ` + alias + `.compression, ` + alias + `.entities`
}
