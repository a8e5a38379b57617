package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/example/coursegrab/internal/course"
	"github.com/example/coursegrab/internal/db"
	"github.com/example/coursegrab/internal/internaltypes"
	"github.com/example/coursegrab/internal/migrate"
)

// PostgresStore keeps one snapshot row per run and loads the newest.
type PostgresStore struct {
	db  *db.DB
	log zerolog.Logger
}

func NewPostgresStore(ctx context.Context, dsn string, log zerolog.Logger) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("%w: store.dsn (or DATABASE_URL) is required for postgres", internaltypes.ErrConfigInvalid)
	}
	d, err := db.Open(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := d.Ping(ctx); err != nil {
		d.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	if err := migrate.Up(ctx, d, log); err != nil {
		d.Close()
		return nil, err
	}
	return &PostgresStore{db: d, log: log}, nil
}

func (s *PostgresStore) Save(ctx context.Context, snap Snapshot) error {
	entries, err := json.Marshal(snap.Entries)
	if err != nil {
		return fmt.Errorf("marshal entries: %w", err)
	}
	return s.db.Exec(ctx,
		`INSERT INTO selection_snapshots (run_id, saved_at, entries) VALUES ($1, $2, $3)
		 ON CONFLICT (run_id) DO UPDATE SET saved_at = EXCLUDED.saved_at, entries = EXCLUDED.entries`,
		snap.RunID, snap.SavedAt.UTC(), entries,
	)
}

func (s *PostgresStore) Load(ctx context.Context) (Snapshot, error) {
	var (
		snap    Snapshot
		runID   string
		entries []byte
	)
	err := s.db.QueryRow(ctx,
		`SELECT run_id::text, saved_at, entries FROM selection_snapshots ORDER BY saved_at DESC LIMIT 1`,
	).Scan(&runID, &snap.SavedAt, &entries)
	if err != nil {
		return Snapshot{}, db.WrapNotFound(err)
	}
	if snap.RunID, err = uuid.Parse(runID); err != nil {
		return Snapshot{}, fmt.Errorf("run_id: %w", err)
	}
	var es []course.Entry
	if err := json.Unmarshal(entries, &es); err != nil {
		return Snapshot{}, fmt.Errorf("unmarshal entries: %w", err)
	}
	snap.Entries = es
	return snap, nil
}

func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}
