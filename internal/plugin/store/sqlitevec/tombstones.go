package sqlitevec

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/watzon/mnemo/internal/model"
)

const tombstoneColumns = `original_id, evicted_at, topics, participants,
	approximate_date, reason, reason_details`

// InsertTombstone appends a tombstone row. Tombstones are never modified.
func (s *SQLiteStore) InsertTombstone(ctx context.Context, t *model.Tombstone) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tombstones (`+tombstoneColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.OriginalID.String(), t.EvictedAt.UTC().UnixMicro(),
		model.JoinList(t.Topics), model.JoinList(t.Participants),
		t.ApproximateDate.UTC().UnixMicro(), string(t.Reason), t.ReasonDetails)
	if err != nil {
		return fmt.Errorf("insert tombstone %s: %w", t.OriginalID, err)
	}
	return nil
}

// GetTombstone returns the tombstone for an evicted memory id, or nil.
func (s *SQLiteStore) GetTombstone(ctx context.Context, originalID uuid.UUID) (*model.Tombstone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+tombstoneColumns+` FROM tombstones WHERE original_id = ?`, originalID.String())
	t, err := scanTombstone(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

// SearchTombstonesByTopic matches case-insensitive substrings of the joined
// topics column.
func (s *SQLiteStore) SearchTombstonesByTopic(ctx context.Context, topic string) ([]*model.Tombstone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+tombstoneColumns+` FROM tombstones
		 WHERE LOWER(topics) LIKE ? ORDER BY evicted_at`,
		"%"+strings.ToLower(topic)+"%")
	if err != nil {
		return nil, fmt.Errorf("search tombstones: %w", err)
	}
	defer rows.Close()
	return scanTombstones(rows)
}

// ListAllTombstones scans the tombstones table.
func (s *SQLiteStore) ListAllTombstones(ctx context.Context) ([]*model.Tombstone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+tombstoneColumns+` FROM tombstones ORDER BY evicted_at`)
	if err != nil {
		return nil, fmt.Errorf("list tombstones: %w", err)
	}
	defer rows.Close()
	return scanTombstones(rows)
}

func scanTombstone(row rowScanner) (*model.Tombstone, error) {
	var (
		idStr, topics, participants, reasonStr string
		evictedAt, approxDate                  int64
		details                                sql.NullString
	)
	if err := row.Scan(&idStr, &evictedAt, &topics, &participants,
		&approxDate, &reasonStr, &details); err != nil {
		return nil, err
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("decode tombstone id %q: %w", idStr, err)
	}
	reason, err := model.ParseEvictionReason(reasonStr)
	if err != nil {
		return nil, fmt.Errorf("decode tombstone %s: %w", idStr, err)
	}
	t := &model.Tombstone{
		OriginalID:      id,
		EvictedAt:       time.UnixMicro(evictedAt).UTC(),
		Topics:          model.SplitList(topics),
		Participants:    []string{},
		ApproximateDate: time.UnixMicro(approxDate).UTC(),
		Reason:          reason,
	}
	if p := model.SplitList(participants); p != nil {
		t.Participants = p
	}
	if details.Valid {
		v := details.String
		t.ReasonDetails = &v
	}
	return t, nil
}

func scanTombstones(rows *sql.Rows) ([]*model.Tombstone, error) {
	var out []*model.Tombstone
	for rows.Next() {
		t, err := scanTombstone(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
