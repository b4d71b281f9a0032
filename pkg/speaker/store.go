package speaker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Store persists the full profile set of a model. Save replaces
// whatever was stored before; Load returns an empty set when nothing
// has been saved yet.
type Store interface {
	Load(modelID string) ([]Profile, error)
	Save(modelID string, profiles []Profile) error
	Close() error
}

// FileStore keeps one JSON file per model under a directory, named
// speakers_<model>.json.
type FileStore struct {
	dir string
}

// NewFileStore creates a file-backed store rooted at dir. The
// directory is created on the first save.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) path(modelID string) string {
	return filepath.Join(s.dir, "speakers_"+modelID+".json")
}

func (s *FileStore) Load(modelID string) ([]Profile, error) {
	data, err := os.ReadFile(s.path(modelID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var profiles []Profile
	if err := json.Unmarshal(data, &profiles); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path(modelID), err)
	}
	return profiles, nil
}

func (s *FileStore) Save(modelID string, profiles []Profile) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(profiles, "", "  ")
	if err != nil {
		return err
	}
	// Write-then-rename so a crash mid-save never truncates the set.
	tmp := s.path(modelID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path(modelID))
}

func (s *FileStore) Close() error { return nil }

// MemoryStore keeps profiles in process memory. Intended for tests.
type MemoryStore struct {
	mu     sync.Mutex
	models map[string][]Profile

	// SaveErr, when set, is returned by every Save.
	SaveErr error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{models: make(map[string][]Profile)}
}

func (s *MemoryStore) Load(modelID string) ([]Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Profile(nil), s.models[modelID]...), nil
}

func (s *MemoryStore) Save(modelID string, profiles []Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveErr != nil {
		return s.SaveErr
	}
	s.models[modelID] = append([]Profile(nil), profiles...)
	return nil
}

func (s *MemoryStore) Close() error { return nil }
