package sqlitevec

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/charmbracelet/log"
	_ "github.com/mattn/go-sqlite3"
	"github.com/watzon/mnemo/internal/config"
	registrystore "github.com/watzon/mnemo/internal/registry/store"
)

// indexTrainRows is the row count at which the ANN index is built. Below
// it the store answers searches with an exact scan.
const indexTrainRows = 256

func init() {
	// Register the sqlite-vec extension with the mattn/go-sqlite3 driver.
	vec.Auto()

	registrystore.Register(registrystore.Plugin{
		Name: "sqlite",
		Loader: func(ctx context.Context) (registrystore.Store, error) {
			cfg := config.FromContext(ctx)
			if cfg == nil {
				return nil, fmt.Errorf("sqlite store: no config in context")
			}
			return Open(cfg.StorePath(), cfg.EmbedDimension)
		},
	})
}

// SQLiteStore is the embedded single-writer store. Memories and tombstones
// live in ordinary tables; embeddings are duplicated into a vec0 virtual
// table once the row count reaches indexTrainRows.
type SQLiteStore struct {
	mu        sync.RWMutex
	db        *sql.DB
	dim       int
	vecIndex  bool // vec0 table exists and is in sync
	indexOnce sync.Once
}

// Open opens or creates the store under dir and ensures the schema exists.
func Open(dir string, dimension int) (*SQLiteStore, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("open store: invalid dimension %d", dimension)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	path := filepath.Join(dir, "mnemo.db")
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	// The store assumes single-writer cooperative access; one connection
	// keeps every operation serialized through the engine.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, dim: dimension}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	s.maybeBuildIndex(context.Background())
	return s, nil
}

func (s *SQLiteStore) createTables() error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS memories (
			id              TEXT PRIMARY KEY,
			content         TEXT NOT NULL,
			embedding       BLOB NOT NULL,
			memory_type     TEXT NOT NULL,
			weight          REAL NOT NULL,
			created_at      INTEGER NOT NULL,
			last_accessed   INTEGER NOT NULL,
			access_count    INTEGER NOT NULL DEFAULT 0,
			conversation_id TEXT,
			source          TEXT NOT NULL,
			tier            TEXT NOT NULL,
			compression     TEXT NOT NULL,
			entities        TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_tier ON memories(tier)`,
		`CREATE TABLE IF NOT EXISTS tombstones (
			original_id      TEXT PRIMARY KEY,
			evicted_at       INTEGER NOT NULL,
			topics           TEXT NOT NULL DEFAULT '',
			participants     TEXT NOT NULL DEFAULT '',
			approximate_date INTEGER NOT NULL,
			reason           TEXT NOT NULL,
			reason_details   TEXT
		)`,
	}
	for _, stmt := range ddl {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("create tables: %w", err)
		}
	}
	return nil
}

// maybeBuildIndex creates and backfills the vec0 index once the memories
// table is large enough to train one. Safe to call repeatedly.
func (s *SQLiteStore) maybeBuildIndex(ctx context.Context) {
	if s.vecIndex {
		return
	}
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories`).Scan(&count); err != nil {
		return
	}
	if count < indexTrainRows {
		return
	}
	s.indexOnce.Do(func() {
		ddl := fmt.Sprintf(
			`CREATE VIRTUAL TABLE IF NOT EXISTS vec_index USING vec0(memory_id TEXT, embedding float[%d])`, s.dim)
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			log.Warn("Store: vec0 index unavailable, staying on exact search", "err", err)
			return
		}
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO vec_index (memory_id, embedding)
			 SELECT id, embedding FROM memories
			 WHERE id NOT IN (SELECT memory_id FROM vec_index)`); err != nil {
			log.Warn("Store: vec0 backfill failed", "err", err)
			return
		}
		s.vecIndex = true
		log.Info("Store: ANN index built", "rows", count)
	})
}

// Dimension reports the embedding dimension the store was opened with.
func (s *SQLiteStore) Dimension() int { return s.dim }

// Close releases the database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// encodeVector serializes a float32 slice as the little-endian blob form
// sqlite-vec expects.
func encodeVector(v []float32) []byte {
	buf := &bytes.Buffer{}
	_ = binary.Write(buf, binary.LittleEndian, v)
	return buf.Bytes()
}

// decodeVector parses the little-endian float32 blob form.
func decodeVector(b []byte) []float32 {
	n := len(b) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

var _ registrystore.Store = (*SQLiteStore)(nil)
