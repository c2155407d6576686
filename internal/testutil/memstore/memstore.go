// Package memstore is an in-memory Store used by unit tests.
package memstore

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/watzon/mnemo/internal/model"
	registrystore "github.com/watzon/mnemo/internal/registry/store"
)

// Store keeps memories and tombstones in maps and answers searches with
// exact cosine ranking.
type Store struct {
	mu         sync.Mutex
	dim        int
	memories   map[uuid.UUID]*model.Memory
	tombstones map[uuid.UUID]*model.Tombstone

	// FailUpdateAccess makes UpdateAccess return an error, for testing
	// best-effort paths.
	FailUpdateAccess bool
}

// New creates an empty store with the given dimension.
func New(dim int) *Store {
	return &Store{
		dim:        dim,
		memories:   map[uuid.UUID]*model.Memory{},
		tombstones: map[uuid.UUID]*model.Tombstone{},
	}
}

func cloneMemory(m *model.Memory) *model.Memory {
	c := *m
	c.Embedding = append([]float32(nil), m.Embedding...)
	c.Entities = append([]string(nil), m.Entities...)
	if m.ConversationID != nil {
		v := *m.ConversationID
		c.ConversationID = &v
	}
	return &c
}

func (s *Store) Insert(_ context.Context, m *model.Memory) error {
	if len(m.Embedding) != s.dim {
		return &registrystore.DimensionError{Want: s.dim, Got: len(m.Embedding)}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memories[m.ID] = cloneMemory(m)
	return nil
}

func (s *Store) InsertBatch(ctx context.Context, ms []*model.Memory) error {
	for _, m := range ms {
		if err := s.Insert(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Get(_ context.Context, id uuid.UUID) (*model.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memories[id]
	if !ok {
		return nil, nil
	}
	return cloneMemory(m), nil
}

func (s *Store) Delete(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.memories[id]
	delete(s.memories, id)
	return ok, nil
}

func (s *Store) UpdateAccess(_ context.Context, id uuid.UUID) error {
	if s.FailUpdateAccess {
		return &registrystore.NotFoundError{ID: id}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memories[id]
	if !ok {
		return &registrystore.NotFoundError{ID: id}
	}
	m.AccessCount++
	now := time.Now().UTC().Truncate(time.Microsecond)
	if !now.After(m.LastAccessed) {
		now = m.LastAccessed.Add(time.Microsecond)
	}
	if now.Before(m.CreatedAt) {
		now = m.CreatedAt
	}
	m.LastAccessed = now
	return nil
}

func (s *Store) UpdateTier(_ context.Context, id uuid.UUID, tier model.Tier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.memories[id]; ok {
		m.Tier = tier
	}
	return nil
}

func (s *Store) UpdateConversationID(_ context.Context, id uuid.UUID, conversationID *string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memories[id]
	if !ok {
		return false, nil
	}
	if conversationID == nil {
		m.ConversationID = nil
	} else {
		v := *conversationID
		m.ConversationID = &v
	}
	return true, nil
}

func (s *Store) UpdateCompression(_ context.Context, id uuid.UUID, content string, level model.CompressionLevel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.memories[id]; ok {
		m.Content = content
		m.Compression = level
	}
	return nil
}

func matches(m *model.Memory, f *model.Filter) bool {
	if f.IsEmpty() {
		return true
	}
	if len(f.Types) > 0 && !containsType(f.Types, m.Type) {
		return false
	}
	if len(f.Sources) > 0 && !containsSource(f.Sources, m.Source) {
		return false
	}
	if len(f.Tiers) > 0 && !containsTier(f.Tiers, m.Tier) {
		return false
	}
	if f.MinWeight != nil && m.Weight < *f.MinWeight {
		return false
	}
	if f.ConversationID != nil && (m.ConversationID == nil || *m.ConversationID != *f.ConversationID) {
		return false
	}
	if f.CreatedAfter != nil && !m.CreatedAt.After(*f.CreatedAfter) {
		return false
	}
	if f.CreatedBefore != nil && !m.CreatedAt.Before(*f.CreatedBefore) {
		return false
	}
	if f.EntityContains != "" && !strings.Contains(model.JoinList(m.Entities), f.EntityContains) {
		return false
	}
	return true
}

func containsType(ts []model.MemoryType, t model.MemoryType) bool {
	for _, x := range ts {
		if x == t {
			return true
		}
	}
	return false
}

func containsSource(ss []model.MemorySource, s2 model.MemorySource) bool {
	for _, x := range ss {
		if x == s2 {
			return true
		}
	}
	return false
}

func containsTier(ts []model.Tier, t model.Tier) bool {
	for _, x := range ts {
		if x == t {
			return true
		}
	}
	return false
}

func (s *Store) Search(ctx context.Context, queryEmb []float32, k int) ([]*model.Memory, error) {
	return s.SearchFiltered(ctx, queryEmb, nil, k)
}

func (s *Store) SearchFiltered(_ context.Context, queryEmb []float32, filter *model.Filter, k int) ([]*model.Memory, error) {
	if len(queryEmb) != s.dim {
		return nil, &registrystore.DimensionError{Want: s.dim, Got: len(queryEmb)}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	type scored struct {
		m   *model.Memory
		sim float64
	}
	var candidates []scored
	for _, m := range s.memories {
		if !matches(m, filter) {
			continue
		}
		candidates = append(candidates, scored{m: cloneMemory(m), sim: cosine(queryEmb, m.Embedding)})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].sim != candidates[j].sim {
			return candidates[i].sim > candidates[j].sim
		}
		return candidates[i].m.ID.String() < candidates[j].m.ID.String()
	})
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	out := make([]*model.Memory, len(candidates))
	for i, c := range candidates {
		out[i] = c.m
	}
	return out, nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return -2
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return -2
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func (s *Store) ListByTier(_ context.Context, tier model.Tier) ([]*model.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Memory
	for _, m := range s.memories {
		if m.Tier == tier {
			out = append(out, cloneMemory(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) CountByTier(ctx context.Context, tier model.Tier) (int64, error) {
	ms, err := s.ListByTier(ctx, tier)
	return int64(len(ms)), err
}

func (s *Store) TotalCount(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.memories)), nil
}

func (s *Store) InsertTombstone(_ context.Context, t *model.Tombstone) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *t
	s.tombstones[t.OriginalID] = &c
	return nil
}

func (s *Store) GetTombstone(_ context.Context, originalID uuid.UUID) (*model.Tombstone, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tombstones[originalID]
	if !ok {
		return nil, nil
	}
	c := *t
	return &c, nil
}

func (s *Store) SearchTombstonesByTopic(ctx context.Context, topic string) ([]*model.Tombstone, error) {
	all, err := s.ListAllTombstones(ctx)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(topic)
	var out []*model.Tombstone
	for _, t := range all {
		if strings.Contains(strings.ToLower(model.JoinList(t.Topics)), needle) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *Store) ListAllTombstones(_ context.Context) ([]*model.Tombstone, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Tombstone
	for _, t := range s.tombstones {
		c := *t
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EvictedAt.Before(out[j].EvictedAt) })
	return out, nil
}

func (s *Store) Dimension() int { return s.dim }

func (s *Store) Close() error { return nil }

var _ registrystore.Store = (*Store)(nil)
