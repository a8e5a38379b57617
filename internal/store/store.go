package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/example/coursegrab/internal/course"
	"github.com/example/coursegrab/internal/internaltypes"
)

// Snapshot is the persisted selection state of one run.
type Snapshot struct {
	RunID   uuid.UUID      `json:"run_id"`
	SavedAt time.Time      `json:"saved_at"`
	Entries []course.Entry `json:"entries"`
}

// Store persists the latest snapshot. Load returns internaltypes.ErrNotFound
// when nothing has been saved yet.
type Store interface {
	Save(ctx context.Context, s Snapshot) error
	Load(ctx context.Context) (Snapshot, error)
	Close() error
}

const (
	DriverFile     = "file"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverNone     = "none"

	DefaultPath = "selection.yaml"
)

type Config struct {
	Driver string
	Path   string
	DSN    string
}

// Open returns the store selected by cfg.Driver.
func Open(ctx context.Context, cfg Config, log zerolog.Logger) (Store, error) {
	log = log.With().Str("component", "store").Str("driver", cfg.Driver).Logger()
	switch cfg.Driver {
	case "", DriverFile:
		path := cfg.Path
		if path == "" {
			path = DefaultPath
		}
		return NewFileStore(path), nil
	case DriverSQLite:
		return NewSQLiteStore(ctx, cfg.Path, log)
	case DriverPostgres:
		return NewPostgresStore(ctx, cfg.DSN, log)
	case DriverNone:
		return Nop{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown store driver %q", internaltypes.ErrConfigInvalid, cfg.Driver)
	}
}

// Nop discards snapshots.
type Nop struct{}

func (Nop) Save(context.Context, Snapshot) error { return nil }

func (Nop) Load(context.Context) (Snapshot, error) {
	return Snapshot{}, internaltypes.ErrNotFound
}

func (Nop) Close() error { return nil }
