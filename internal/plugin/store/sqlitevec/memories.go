package sqlitevec

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/watzon/mnemo/internal/model"
	registrystore "github.com/watzon/mnemo/internal/registry/store"
)

const memoryColumns = `id, content, embedding, memory_type, weight, created_at,
	last_accessed, access_count, conversation_id, source, tier, compression, entities`

// Insert appends one memory row.
func (s *SQLiteStore) Insert(ctx context.Context, m *model.Memory) error {
	return s.InsertBatch(ctx, []*model.Memory{m})
}

// InsertBatch appends several rows in one transaction and keeps the vec0
// index in sync when it exists.
func (s *SQLiteStore) InsertBatch(ctx context.Context, ms []*model.Memory) error {
	if len(ms) == 0 {
		return nil
	}
	for _, m := range ms {
		if len(m.Embedding) != s.dim {
			return &registrystore.DimensionError{Want: s.dim, Got: len(m.Embedding)}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO memories (`+memoryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("insert: %w", err)
	}
	defer stmt.Close()

	var vecStmt *sql.Stmt
	if s.vecIndex {
		vecStmt, err = tx.PrepareContext(ctx, `INSERT INTO vec_index (memory_id, embedding) VALUES (?, ?)`)
		if err != nil {
			return fmt.Errorf("insert: %w", err)
		}
		defer vecStmt.Close()
	}

	for _, m := range ms {
		blob := encodeVector(m.Embedding)
		if _, err := stmt.ExecContext(ctx,
			m.ID.String(), m.Content, blob, string(m.Type), m.Weight,
			m.CreatedAt.UTC().UnixMicro(), m.LastAccessed.UTC().UnixMicro(),
			m.AccessCount, m.ConversationID, string(m.Source), string(m.Tier),
			string(m.Compression), model.JoinList(m.Entities),
		); err != nil {
			return fmt.Errorf("insert %s: %w", m.ID, err)
		}
		if vecStmt != nil {
			if _, err := vecStmt.ExecContext(ctx, m.ID.String(), blob); err != nil {
				return fmt.Errorf("insert index %s: %w", m.ID, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("insert: %w", err)
	}

	s.maybeBuildIndex(ctx)
	return nil
}

// Get returns the memory with the given id, or nil when absent.
func (s *SQLiteStore) Get(ctx context.Context, id uuid.UUID) (*model.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE id = ?`, id.String())
	m, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return m, err
}

// Delete removes the row if present and reports whether it existed.
func (s *SQLiteStore) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id.String())
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", id, err)
	}
	if s.vecIndex {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM vec_index WHERE memory_id = ?`, id.String())
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// UpdateAccess atomically bumps access_count and advances last_accessed.
// last_accessed never moves backwards past created_at, even under clock skew.
func (s *SQLiteStore) UpdateAccess(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().UnixMicro()
	_, err := s.db.ExecContext(ctx,
		`UPDATE memories
		 SET access_count = access_count + 1,
		     last_accessed = MAX(?, created_at, last_accessed + 1)
		 WHERE id = ?`, now, id.String())
	if err != nil {
		return fmt.Errorf("update access %s: %w", id, err)
	}
	return nil
}

// UpdateTier rewrites the tier label; all other fields are untouched.
func (s *SQLiteStore) UpdateTier(ctx context.Context, id uuid.UUID, tier model.Tier) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`UPDATE memories SET tier = ? WHERE id = ?`, string(tier), id.String())
	if err != nil {
		return fmt.Errorf("update tier %s: %w", id, err)
	}
	return nil
}

// UpdateConversationID writes or nulls the conversation id and reports
// whether any row was updated.
func (s *SQLiteStore) UpdateConversationID(ctx context.Context, id uuid.UUID, conversationID *string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE memories SET conversation_id = ? WHERE id = ?`, conversationID, id.String())
	if err != nil {
		return false, fmt.Errorf("update conversation %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// UpdateCompression atomically rewrites content and compression level.
// The embedding column is untouched.
func (s *SQLiteStore) UpdateCompression(ctx context.Context, id uuid.UUID, content string, level model.CompressionLevel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`UPDATE memories SET content = ?, compression = ? WHERE id = ?`,
		content, string(level), id.String())
	if err != nil {
		return fmt.Errorf("update compression %s: %w", id, err)
	}
	return nil
}

// ListByTier returns all rows with the given tier.
func (s *SQLiteStore) ListByTier(ctx context.Context, tier model.Tier) ([]*model.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE tier = ? ORDER BY created_at`, string(tier))
	if err != nil {
		return nil, fmt.Errorf("list tier %s: %w", tier, err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// CountByTier returns the cardinality of a tier.
func (s *SQLiteStore) CountByTier(ctx context.Context, tier model.Tier) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memories WHERE tier = ?`, string(tier)).Scan(&n)
	return n, err
}

// TotalCount returns the total number of memories.
func (s *SQLiteStore) TotalCount(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories`).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(row rowScanner) (*model.Memory, error) {
	var (
		idStr, typStr, srcStr, tierStr, compStr, entities string
		content                                           string
		blob                                              []byte
		weight                                            float64
		createdAt, lastAccessed                           int64
		accessCount                                       int32
		conversationID                                    sql.NullString
	)
	if err := row.Scan(&idStr, &content, &blob, &typStr, &weight, &createdAt,
		&lastAccessed, &accessCount, &conversationID, &srcStr, &tierStr, &compStr, &entities); err != nil {
		return nil, err
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("decode memory id %q: %w", idStr, err)
	}
	typ, err := model.ParseMemoryType(typStr)
	if err != nil {
		return nil, fmt.Errorf("decode memory %s: %w", idStr, err)
	}
	src, err := model.ParseMemorySource(srcStr)
	if err != nil {
		return nil, fmt.Errorf("decode memory %s: %w", idStr, err)
	}
	tier, err := model.ParseTier(tierStr)
	if err != nil {
		return nil, fmt.Errorf("decode memory %s: %w", idStr, err)
	}
	comp, err := model.ParseCompression(compStr)
	if err != nil {
		return nil, fmt.Errorf("decode memory %s: %w", idStr, err)
	}

	m := &model.Memory{
		ID:           id,
		Content:      content,
		Embedding:    decodeVector(blob),
		Type:         typ,
		Source:       src,
		Tier:         tier,
		Compression:  comp,
		Weight:       float32(weight),
		CreatedAt:    time.UnixMicro(createdAt).UTC(),
		LastAccessed: time.UnixMicro(lastAccessed).UTC(),
		AccessCount:  accessCount,
		Entities:     model.SplitList(entities),
	}
	if conversationID.Valid {
		v := conversationID.String
		m.ConversationID = &v
	}
	return m, nil
}

func scanMemories(rows *sql.Rows) ([]*model.Memory, error) {
	var out []*model.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
