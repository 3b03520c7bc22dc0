//go:build sqlite

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"convexsplat/internal/model"

	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("sqlite path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}

	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, cp model.Checkpoint) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeCheckpoint(cp)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO checkpoints (run_id, iteration, schema_version, codec_version, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run_id, iteration) DO UPDATE SET
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			payload = excluded.payload
	`, cp.RunID, cp.Iteration, cp.SchemaVersion, cp.CodecVersion, payload)
	return err
}

func (s *SQLiteStore) GetCheckpoint(ctx context.Context, runID string, iteration int) (model.Checkpoint, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.Checkpoint{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `
		SELECT payload FROM checkpoints WHERE run_id = ? AND iteration = ?
	`, runID, iteration).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Checkpoint{}, false, nil
		}
		return model.Checkpoint{}, false, err
	}

	cp, err := DecodeCheckpoint(payload)
	if err != nil {
		return model.Checkpoint{}, false, fmt.Errorf("decode checkpoint %s@%d: %w", runID, iteration, err)
	}
	return cp, true, nil
}

func (s *SQLiteStore) LatestCheckpoint(ctx context.Context, runID string) (model.Checkpoint, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.Checkpoint{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `
		SELECT payload FROM checkpoints WHERE run_id = ? ORDER BY iteration DESC LIMIT 1
	`, runID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Checkpoint{}, false, nil
		}
		return model.Checkpoint{}, false, err
	}

	cp, err := DecodeCheckpoint(payload)
	if err != nil {
		return model.Checkpoint{}, false, fmt.Errorf("decode latest checkpoint %s: %w", runID, err)
	}
	return cp, true, nil
}

func (s *SQLiteStore) ListCheckpoints(ctx context.Context, runID string) ([]int, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT iteration FROM checkpoints WHERE run_id = ? ORDER BY iteration
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var iterations []int
	for rows.Next() {
		var it int
		if err := rows.Scan(&it); err != nil {
			return nil, err
		}
		iterations = append(iterations, it)
	}
	return iterations, rows.Err()
}

func (s *SQLiteStore) SaveRunSummary(ctx context.Context, summary model.RunSummary) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeRunSummary(summary)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO runs (run_id, created_at_utc, schema_version, codec_version, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			created_at_utc = excluded.created_at_utc,
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			payload = excluded.payload
	`, summary.RunID, summary.CreatedAtUTC, summary.SchemaVersion, summary.CodecVersion, payload)
	return err
}

func (s *SQLiteStore) GetRunSummary(ctx context.Context, runID string) (model.RunSummary, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.RunSummary{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM runs WHERE run_id = ?`, runID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.RunSummary{}, false, nil
		}
		return model.RunSummary{}, false, err
	}

	summary, err := DecodeRunSummary(payload)
	if err != nil {
		return model.RunSummary{}, false, fmt.Errorf("decode run %s: %w", runID, err)
	}
	return summary, true, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context) ([]model.RunSummary, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT payload FROM runs ORDER BY created_at_utc, run_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []model.RunSummary
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		summary, err := DecodeRunSummary(payload)
		if err != nil {
			return nil, fmt.Errorf("decode run list entry: %w", err)
		}
		runs = append(runs, summary)
	}
	return runs, rows.Err()
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	return s.db, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS checkpoints (
			run_id TEXT NOT NULL,
			iteration INTEGER NOT NULL,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload BLOB NOT NULL,
			PRIMARY KEY (run_id, iteration)
		);
		CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			created_at_utc TEXT NOT NULL,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
	`)
	return err
}
