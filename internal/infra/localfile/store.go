// Package localfile is the local-only durable tier: the whole snapshot is
// kept in one YAML document next to the process.
package localfile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"pubranker/internal/domain"
	"pubranker/internal/infra/memory"

	"gopkg.in/yaml.v3"
)

const schemaVersion = 1

type document struct {
	Version int             `yaml:"version"`
	Data    domain.Snapshot `yaml:"data"`
}

// Store mirrors records in memory and rewrites the document on every change.
type Store struct {
	path string

	mu    sync.Mutex // serializes file writes
	state *memory.Store
}

// Open loads path, creating the file when missing. The file is written once
// during Open so an unwritable location fails here rather than on first use.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("local store path not configured")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	snap, err := readDocument(path)
	if err != nil {
		return nil, err
	}
	s := &Store{path: path, state: memory.NewStoreFrom(snap)}
	if err := s.persist(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func readDocument(path string) (domain.Snapshot, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.Snapshot{}, nil
	}
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("read store: %w", err)
	}
	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return domain.Snapshot{}, fmt.Errorf("decode store: %w", err)
	}
	if doc.Version > schemaVersion {
		return domain.Snapshot{}, fmt.Errorf("store schema version %d is newer than supported %d", doc.Version, schemaVersion)
	}
	return doc.Data, nil
}

func (s *Store) Load(ctx context.Context) (domain.Snapshot, error) {
	return s.state.Load(ctx)
}

func (s *Store) PutQuiz(ctx context.Context, quiz domain.Quiz, rounds []domain.Round) error {
	_ = s.state.PutQuiz(ctx, quiz, rounds)
	return s.persist(ctx)
}

func (s *Store) DeleteQuiz(ctx context.Context, quizID string) error {
	_ = s.state.DeleteQuiz(ctx, quizID)
	return s.persist(ctx)
}

func (s *Store) PutTeam(ctx context.Context, team domain.Team) error {
	_ = s.state.PutTeam(ctx, team)
	return s.persist(ctx)
}

func (s *Store) DeleteTeam(ctx context.Context, teamID string) error {
	_ = s.state.DeleteTeam(ctx, teamID)
	return s.persist(ctx)
}

// Ping checks that the document is still readable.
func (s *Store) Ping(context.Context) error {
	_, err := os.Stat(s.path)
	return err
}

func (s *Store) Close() error { return nil }

// persist writes the full document to a temp file and renames it over path.
func (s *Store) persist(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.state.Load(ctx)
	if err != nil {
		return err
	}
	raw, err := yaml.Marshal(document{Version: schemaVersion, Data: snap})
	if err != nil {
		return fmt.Errorf("encode store: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".pubranker-*.yaml")
	if err != nil {
		return fmt.Errorf("write store: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write store: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace store: %w", err)
	}
	return nil
}
