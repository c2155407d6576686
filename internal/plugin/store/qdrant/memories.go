package qdrant

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"github.com/watzon/mnemo/internal/model"
	registrystore "github.com/watzon/mnemo/internal/registry/store"
)

func memoryPayload(m *model.Memory) map[string]*pb.Value {
	payload := map[string]*pb.Value{
		"content":       str(m.Content),
		"memory_type":   str(string(m.Type)),
		"weight":        num(float64(m.Weight)),
		"created_at":    integer(m.CreatedAt.UTC().UnixMicro()),
		"last_accessed": integer(m.LastAccessed.UTC().UnixMicro()),
		"access_count":  integer(int64(m.AccessCount)),
		"source":        str(string(m.Source)),
		"tier":          str(string(m.Tier)),
		"compression":   str(string(m.Compression)),
		"entities":      str(model.JoinList(m.Entities)),
	}
	if m.ConversationID != nil {
		payload["conversation_id"] = str(*m.ConversationID)
	}
	return payload
}

func memoryFromPoint(id string, payload map[string]*pb.Value, vector []float32) (*model.Memory, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("decode memory id %q: %w", id, err)
	}
	typ, err := model.ParseMemoryType(payload["memory_type"].GetStringValue())
	if err != nil {
		return nil, fmt.Errorf("decode memory %s: %w", id, err)
	}
	src, err := model.ParseMemorySource(payload["source"].GetStringValue())
	if err != nil {
		return nil, fmt.Errorf("decode memory %s: %w", id, err)
	}
	tier, err := model.ParseTier(payload["tier"].GetStringValue())
	if err != nil {
		return nil, fmt.Errorf("decode memory %s: %w", id, err)
	}
	comp, err := model.ParseCompression(payload["compression"].GetStringValue())
	if err != nil {
		return nil, fmt.Errorf("decode memory %s: %w", id, err)
	}

	m := &model.Memory{
		ID:           uid,
		Content:      payload["content"].GetStringValue(),
		Embedding:    vector,
		Type:         typ,
		Source:       src,
		Tier:         tier,
		Compression:  comp,
		Weight:       float32(payload["weight"].GetDoubleValue()),
		CreatedAt:    time.UnixMicro(payload["created_at"].GetIntegerValue()).UTC(),
		LastAccessed: time.UnixMicro(payload["last_accessed"].GetIntegerValue()).UTC(),
		AccessCount:  int32(payload["access_count"].GetIntegerValue()),
		Entities:     model.SplitList(payload["entities"].GetStringValue()),
	}
	if v, ok := payload["conversation_id"]; ok {
		conv := v.GetStringValue()
		m.ConversationID = &conv
	}
	return m, nil
}

// Insert appends one memory point.
func (s *QdrantStore) Insert(ctx context.Context, m *model.Memory) error {
	return s.InsertBatch(ctx, []*model.Memory{m})
}

// InsertBatch upserts several memory points.
func (s *QdrantStore) InsertBatch(ctx context.Context, ms []*model.Memory) error {
	if len(ms) == 0 {
		return nil
	}
	points := make([]*pb.PointStruct, len(ms))
	for i, m := range ms {
		if len(m.Embedding) != s.dim {
			return &registrystore.DimensionError{Want: s.dim, Got: len(m.Embedding)}
		}
		points[i] = &pb.PointStruct{
			Id: pointID(m.ID),
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: m.Embedding}},
			},
			Payload: memoryPayload(m),
		}
	}
	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: s.memories,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant insert: %w", err)
	}
	return nil
}

// Get returns the memory with the given id, or nil when absent.
func (s *QdrantStore) Get(ctx context.Context, id uuid.UUID) (*model.Memory, error) {
	resp, err := s.points.Get(ctx, &pb.GetPoints{
		CollectionName: s.memories,
		Ids:            []*pb.PointId{pointID(id)},
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
		WithVectors:    &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant get: %w", err)
	}
	if len(resp.GetResult()) == 0 {
		return nil, nil
	}
	pt := resp.GetResult()[0]
	return memoryFromPoint(pt.GetId().GetUuid(), pt.GetPayload(), pt.GetVectors().GetVector().GetData())
}

// Delete removes the point if present and reports whether it existed.
func (s *QdrantStore) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if existing == nil {
		return false, nil
	}
	_, err = s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: s.memories,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{Ids: []*pb.PointId{pointID(id)}},
			},
		},
	})
	if err != nil {
		return false, fmt.Errorf("qdrant delete: %w", err)
	}
	return true, nil
}

// setPayload overwrites the listed payload fields on one point.
func (s *QdrantStore) setPayload(ctx context.Context, id uuid.UUID, fields map[string]*pb.Value) error {
	_, err := s.points.SetPayload(ctx, &pb.SetPayloadPoints{
		CollectionName: s.memories,
		Payload:        fields,
		PointsSelector: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{Ids: []*pb.PointId{pointID(id)}},
			},
		},
	})
	return err
}

// UpdateAccess bumps access_count and advances last_accessed. The
// read-modify-write is safe under the store's single-writer assumption.
func (s *QdrantStore) UpdateAccess(ctx context.Context, id uuid.UUID) error {
	m, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if m == nil {
		return &registrystore.NotFoundError{ID: id}
	}
	now := time.Now().UTC()
	if !now.After(m.LastAccessed) {
		now = m.LastAccessed.Add(time.Microsecond)
	}
	if now.Before(m.CreatedAt) {
		now = m.CreatedAt
	}
	return s.setPayload(ctx, id, map[string]*pb.Value{
		"access_count":  integer(int64(m.AccessCount) + 1),
		"last_accessed": integer(now.UnixMicro()),
	})
}

// UpdateTier rewrites the tier label.
func (s *QdrantStore) UpdateTier(ctx context.Context, id uuid.UUID, tier model.Tier) error {
	return s.setPayload(ctx, id, map[string]*pb.Value{"tier": str(string(tier))})
}

// UpdateConversationID writes or clears the conversation id.
func (s *QdrantStore) UpdateConversationID(ctx context.Context, id uuid.UUID, conversationID *string) (bool, error) {
	m, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if m == nil {
		return false, nil
	}
	if conversationID == nil {
		_, err = s.points.DeletePayload(ctx, &pb.DeletePayloadPoints{
			CollectionName: s.memories,
			Keys:           []string{"conversation_id"},
			PointsSelector: &pb.PointsSelector{
				PointsSelectorOneOf: &pb.PointsSelector_Points{
					Points: &pb.PointsIdsList{Ids: []*pb.PointId{pointID(id)}},
				},
			},
		})
		if err != nil {
			return false, fmt.Errorf("qdrant update conversation: %w", err)
		}
		return true, nil
	}
	if err := s.setPayload(ctx, id, map[string]*pb.Value{"conversation_id": str(*conversationID)}); err != nil {
		return false, fmt.Errorf("qdrant update conversation: %w", err)
	}
	return true, nil
}

// UpdateCompression rewrites content and compression together.
func (s *QdrantStore) UpdateCompression(ctx context.Context, id uuid.UUID, content string, level model.CompressionLevel) error {
	return s.setPayload(ctx, id, map[string]*pb.Value{
		"content":     str(content),
		"compression": str(string(level)),
	})
}
