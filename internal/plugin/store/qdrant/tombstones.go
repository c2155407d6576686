package qdrant

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"github.com/watzon/mnemo/internal/model"
)

func tombstonePayload(t *model.Tombstone) map[string]*pb.Value {
	payload := map[string]*pb.Value{
		"evicted_at":       integer(t.EvictedAt.UTC().UnixMicro()),
		"topics":           str(model.JoinList(t.Topics)),
		"participants":     str(model.JoinList(t.Participants)),
		"approximate_date": integer(t.ApproximateDate.UTC().UnixMicro()),
		"reason":           str(string(t.Reason)),
	}
	if t.ReasonDetails != nil {
		payload["reason_details"] = str(*t.ReasonDetails)
	}
	return payload
}

func tombstoneFromPoint(id string, payload map[string]*pb.Value) (*model.Tombstone, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("decode tombstone id %q: %w", id, err)
	}
	reason, err := model.ParseEvictionReason(payload["reason"].GetStringValue())
	if err != nil {
		return nil, fmt.Errorf("decode tombstone %s: %w", id, err)
	}
	t := &model.Tombstone{
		OriginalID:      uid,
		EvictedAt:       time.UnixMicro(payload["evicted_at"].GetIntegerValue()).UTC(),
		Topics:          model.SplitList(payload["topics"].GetStringValue()),
		Participants:    []string{},
		ApproximateDate: time.UnixMicro(payload["approximate_date"].GetIntegerValue()).UTC(),
		Reason:          reason,
	}
	if p := model.SplitList(payload["participants"].GetStringValue()); p != nil {
		t.Participants = p
	}
	if v, ok := payload["reason_details"]; ok {
		details := v.GetStringValue()
		t.ReasonDetails = &details
	}
	return t, nil
}

// InsertTombstone appends a tombstone point keyed by the evicted memory id.
func (s *QdrantStore) InsertTombstone(ctx context.Context, t *model.Tombstone) error {
	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: s.tombstones,
		Points: []*pb.PointStruct{{
			Id: pointID(t.OriginalID),
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: []float32{0}}},
			},
			Payload: tombstonePayload(t),
		}},
	})
	if err != nil {
		return fmt.Errorf("qdrant insert tombstone: %w", err)
	}
	return nil
}

// GetTombstone returns the tombstone for an evicted memory id, or nil.
func (s *QdrantStore) GetTombstone(ctx context.Context, originalID uuid.UUID) (*model.Tombstone, error) {
	resp, err := s.points.Get(ctx, &pb.GetPoints{
		CollectionName: s.tombstones,
		Ids:            []*pb.PointId{pointID(originalID)},
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant get tombstone: %w", err)
	}
	if len(resp.GetResult()) == 0 {
		return nil, nil
	}
	pt := resp.GetResult()[0]
	return tombstoneFromPoint(pt.GetId().GetUuid(), pt.GetPayload())
}

// SearchTombstonesByTopic matches case-insensitive substrings of the
// joined topics. Scrolls and filters client-side; topic matching is a
// substring contract, which qdrant text match does not guarantee.
func (s *QdrantStore) SearchTombstonesByTopic(ctx context.Context, topic string) ([]*model.Tombstone, error) {
	all, err := s.ListAllTombstones(ctx)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(topic)
	out := make([]*model.Tombstone, 0, len(all))
	for _, t := range all {
		if strings.Contains(strings.ToLower(model.JoinList(t.Topics)), needle) {
			out = append(out, t)
		}
	}
	return out, nil
}

// ListAllTombstones scrolls the full tombstones collection.
func (s *QdrantStore) ListAllTombstones(ctx context.Context) ([]*model.Tombstone, error) {
	var out []*model.Tombstone
	var offset *pb.PointId
	limit := uint32(256)
	for {
		resp, err := s.points.Scroll(ctx, &pb.ScrollPoints{
			CollectionName: s.tombstones,
			Limit:          &limit,
			Offset:         offset,
			WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
		})
		if err != nil {
			return nil, fmt.Errorf("qdrant list tombstones: %w", err)
		}
		for _, pt := range resp.GetResult() {
			t, err := tombstoneFromPoint(pt.GetId().GetUuid(), pt.GetPayload())
			if err != nil {
				return nil, err
			}
			out = append(out, t)
		}
		offset = resp.GetNextPageOffset()
		if offset == nil {
			return out, nil
		}
	}
}
