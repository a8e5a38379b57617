package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/example/coursegrab/internal/course"
	"github.com/example/coursegrab/internal/internaltypes"
)

// FileStore keeps the snapshot in a YAML document next to the config.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

type fileDoc struct {
	RunID   string         `yaml:"run_id"`
	SavedAt time.Time      `yaml:"saved_at"`
	Entries []course.Entry `yaml:"entries"`
}

func (f *FileStore) Save(ctx context.Context, s Snapshot) error {
	b, err := yaml.Marshal(fileDoc{RunID: s.RunID.String(), SavedAt: s.SavedAt.UTC(), Entries: s.Entries})
	if err != nil {
		return err
	}
	if dir := filepath.Dir(f.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".selection-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.path)
}

func (f *FileStore) Load(ctx context.Context) (Snapshot, error) {
	b, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Snapshot{}, internaltypes.ErrNotFound
	}
	if err != nil {
		return Snapshot{}, err
	}
	var doc fileDoc
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return Snapshot{}, fmt.Errorf("parse %s: %w", f.path, err)
	}
	s := Snapshot{SavedAt: doc.SavedAt, Entries: doc.Entries}
	if doc.RunID != "" {
		if s.RunID, err = uuid.Parse(doc.RunID); err != nil {
			return Snapshot{}, fmt.Errorf("parse %s: run_id: %w", f.path, err)
		}
	}
	return s, nil
}

func (f *FileStore) Close() error { return nil }
