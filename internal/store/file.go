package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/clawline/clawline/internal/fileutil"
)

// FileStore is a KV backed by a single JSON file. The whole document is
// rewritten atomically on every Set/Delete, so a crash mid-write never
// leaves a partially persisted state.
type FileStore struct {
	path string

	mu     sync.Mutex
	values map[string][]byte
	loaded bool
}

var _ KV = (*FileStore)(nil)

// NewFileStore creates a file-backed store at path. The file is created
// lazily on the first write; a missing file reads as an empty store.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// load reads the backing file into memory. Callers must hold s.mu.
func (s *FileStore) load() error {
	if s.loaded {
		return nil
	}
	s.values = make(map[string][]byte)
	err := fileutil.ReadJSON(s.path, &s.values)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read state file %s: %w", s.path, err)
	}
	s.loaded = true
	return nil
}

// flush writes the in-memory map back to disk. Callers must hold s.mu.
func (s *FileStore) flush() error {
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create state directory: %w", err)
		}
	}
	if err := fileutil.WriteJSONAtomic(s.path, s.values, 0600); err != nil {
		return fmt.Errorf("write state file %s: %w", s.path, err)
	}
	return nil
}

// Get returns the value for key, or ErrNotFound.
func (s *FileStore) Get(key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.load(); err != nil {
		return nil, err
	}
	v, ok := s.values[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Set stores value under key and persists the store.
func (s *FileStore) Set(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.load(); err != nil {
		return err
	}
	v := make([]byte, len(value))
	copy(v, value)
	s.values[key] = v
	return s.flush()
}

// Delete removes key and persists the store.
func (s *FileStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.load(); err != nil {
		return err
	}
	if _, ok := s.values[key]; !ok {
		return nil
	}
	delete(s.values, key)
	return s.flush()
}
