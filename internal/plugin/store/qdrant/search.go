package qdrant

import (
	"context"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"github.com/watzon/mnemo/internal/model"
	registrystore "github.com/watzon/mnemo/internal/registry/store"
)

// filterConditions translates the portable Filter into Qdrant payload
// conditions.
func filterConditions(f *model.Filter) *pb.Filter {
	if f.IsEmpty() {
		return nil
	}
	var must []*pb.Condition

	keywordIn := func(key string, values []string) *pb.Condition {
		return &pb.Condition{ConditionOneOf: &pb.Condition_Field{Field: &pb.FieldCondition{
			Key: key,
			Match: &pb.Match{MatchValue: &pb.Match_Keywords{
				Keywords: &pb.RepeatedStrings{Strings: values},
			}},
		}}}
	}

	if len(f.Types) > 0 {
		vals := make([]string, len(f.Types))
		for i, t := range f.Types {
			vals[i] = string(t)
		}
		must = append(must, keywordIn("memory_type", vals))
	}
	if len(f.Sources) > 0 {
		vals := make([]string, len(f.Sources))
		for i, s := range f.Sources {
			vals[i] = string(s)
		}
		must = append(must, keywordIn("source", vals))
	}
	if len(f.Tiers) > 0 {
		vals := make([]string, len(f.Tiers))
		for i, t := range f.Tiers {
			vals[i] = string(t)
		}
		must = append(must, keywordIn("tier", vals))
	}
	if f.ConversationID != nil {
		must = append(must, &pb.Condition{ConditionOneOf: &pb.Condition_Field{Field: &pb.FieldCondition{
			Key:   "conversation_id",
			Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: *f.ConversationID}},
		}}})
	}
	if f.MinWeight != nil {
		gte := float64(*f.MinWeight)
		must = append(must, &pb.Condition{ConditionOneOf: &pb.Condition_Field{Field: &pb.FieldCondition{
			Key:   "weight",
			Range: &pb.Range{Gte: &gte},
		}}})
	}
	if f.CreatedAfter != nil {
		gt := float64(f.CreatedAfter.UTC().UnixMicro())
		must = append(must, &pb.Condition{ConditionOneOf: &pb.Condition_Field{Field: &pb.FieldCondition{
			Key:   "created_at",
			Range: &pb.Range{Gt: &gt},
		}}})
	}
	if f.CreatedBefore != nil {
		lt := float64(f.CreatedBefore.UTC().UnixMicro())
		must = append(must, &pb.Condition{ConditionOneOf: &pb.Condition_Field{Field: &pb.FieldCondition{
			Key:   "created_at",
			Range: &pb.Range{Lt: &lt},
		}}})
	}
	if f.EntityContains != "" {
		must = append(must, &pb.Condition{ConditionOneOf: &pb.Condition_Field{Field: &pb.FieldCondition{
			Key:   "entities",
			Match: &pb.Match{MatchValue: &pb.Match_Text{Text: f.EntityContains}},
		}}})
	}
	return &pb.Filter{Must: must}
}

// Search returns up to k points nearest to the query embedding.
func (s *QdrantStore) Search(ctx context.Context, queryEmb []float32, k int) ([]*model.Memory, error) {
	return s.SearchFiltered(ctx, queryEmb, nil, k)
}

// SearchFiltered restricts the nearest-neighbor search by payload filters.
func (s *QdrantStore) SearchFiltered(ctx context.Context, queryEmb []float32, filter *model.Filter, k int) ([]*model.Memory, error) {
	if len(queryEmb) != s.dim {
		return nil, &registrystore.DimensionError{Want: s.dim, Got: len(queryEmb)}
	}
	if k <= 0 {
		return nil, nil
	}
	resp, err := s.points.Search(ctx, &pb.SearchPoints{
		CollectionName: s.memories,
		Vector:         queryEmb,
		Limit:          uint64(k),
		Filter:         filterConditions(filter),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
		WithVectors:    &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant search: %w", err)
	}

	out := make([]*model.Memory, 0, len(resp.GetResult()))
	for _, pt := range resp.GetResult() {
		m, err := memoryFromPoint(pt.GetId().GetUuid(), pt.GetPayload(), pt.GetVectors().GetVector().GetData())
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// ListByTier scrolls every point with the given tier.
func (s *QdrantStore) ListByTier(ctx context.Context, tier model.Tier) ([]*model.Memory, error) {
	filter := &pb.Filter{Must: []*pb.Condition{{
		ConditionOneOf: &pb.Condition_Field{Field: &pb.FieldCondition{
			Key:   "tier",
			Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: string(tier)}},
		}},
	}}}

	var out []*model.Memory
	var offset *pb.PointId
	limit := uint32(256)
	for {
		resp, err := s.points.Scroll(ctx, &pb.ScrollPoints{
			CollectionName: s.memories,
			Filter:         filter,
			Limit:          &limit,
			Offset:         offset,
			WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
			WithVectors:    &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: true}},
		})
		if err != nil {
			return nil, fmt.Errorf("qdrant list tier: %w", err)
		}
		for _, pt := range resp.GetResult() {
			m, err := memoryFromPoint(pt.GetId().GetUuid(), pt.GetPayload(), pt.GetVectors().GetVector().GetData())
			if err != nil {
				return nil, err
			}
			out = append(out, m)
		}
		offset = resp.GetNextPageOffset()
		if offset == nil {
			return out, nil
		}
	}
}

// CountByTier counts points with the given tier.
func (s *QdrantStore) CountByTier(ctx context.Context, tier model.Tier) (int64, error) {
	exact := true
	resp, err := s.points.Count(ctx, &pb.CountPoints{
		CollectionName: s.memories,
		Exact:          &exact,
		Filter: &pb.Filter{Must: []*pb.Condition{{
			ConditionOneOf: &pb.Condition_Field{Field: &pb.FieldCondition{
				Key:   "tier",
				Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: string(tier)}},
			}},
		}}},
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant count tier: %w", err)
	}
	return int64(resp.GetResult().GetCount()), nil
}

// TotalCount counts every memory point.
func (s *QdrantStore) TotalCount(ctx context.Context) (int64, error) {
	exact := true
	resp, err := s.points.Count(ctx, &pb.CountPoints{
		CollectionName: s.memories,
		Exact:          &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant count: %w", err)
	}
	return int64(resp.GetResult().GetCount()), nil
}
