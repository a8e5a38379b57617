package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/example/coursegrab/internal/course"
	"github.com/example/coursegrab/internal/internaltypes"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS selection_snapshot (
	id       INTEGER PRIMARY KEY CHECK (id = 1),
	run_id   TEXT NOT NULL,
	saved_at TEXT NOT NULL,
	entries  TEXT NOT NULL
)`

// SQLiteStore keeps the snapshot in a single-row table.
type SQLiteStore struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSQLiteStore opens (or creates) the database at path. ":memory:" works
// for tests.
func NewSQLiteStore(ctx context.Context, path string, log zerolog.Logger) (*SQLiteStore, error) {
	if path == "" {
		path = "coursegrab.db"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// one connection: an in-memory database is private to its connection
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db, log: log}, nil
}

func (s *SQLiteStore) Save(ctx context.Context, snap Snapshot) error {
	s.log.Debug().Str("op", "upsert").Int("entries", len(snap.Entries)).Msg("sql")

	entries, err := json.Marshal(snap.Entries)
	if err != nil {
		return fmt.Errorf("marshal entries: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO selection_snapshot (id, run_id, saved_at, entries) VALUES (1, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET run_id = excluded.run_id, saved_at = excluded.saved_at, entries = excluded.entries`,
		snap.RunID.String(), snap.SavedAt.UTC().Format(time.RFC3339Nano), string(entries),
	)
	return err
}

func (s *SQLiteStore) Load(ctx context.Context) (Snapshot, error) {
	s.log.Debug().Str("op", "select").Msg("sql")

	var runID, savedAt, entries string
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id, saved_at, entries FROM selection_snapshot WHERE id = 1`,
	).Scan(&runID, &savedAt, &entries)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, internaltypes.ErrNotFound
	}
	if err != nil {
		return Snapshot{}, err
	}

	var snap Snapshot
	if snap.RunID, err = uuid.Parse(runID); err != nil {
		return Snapshot{}, fmt.Errorf("run_id: %w", err)
	}
	if snap.SavedAt, err = time.Parse(time.RFC3339Nano, savedAt); err != nil {
		return Snapshot{}, fmt.Errorf("saved_at: %w", err)
	}
	var es []course.Entry
	if err := json.Unmarshal([]byte(entries), &es); err != nil {
		return Snapshot{}, fmt.Errorf("unmarshal entries: %w", err)
	}
	snap.Entries = es
	return snap, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
