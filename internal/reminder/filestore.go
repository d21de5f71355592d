package reminder

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/spf13/afero"
)

// FileStore keeps active keys as a JSON array in a single file.
type FileStore struct {
	mu   sync.Mutex
	fs   afero.Fs
	path string
}

// NewFileStore creates a FileStore on the OS filesystem.
func NewFileStore(path string) *FileStore {
	return NewFileStoreWithFS(afero.NewOsFs(), path)
}

// NewFileStoreWithFS creates a FileStore on fs.
func NewFileStoreWithFS(fs afero.Fs, path string) *FileStore {
	return &FileStore{fs: fs, path: path}
}

// Add implements Store.
func (s *FileStore) Add(_ context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.load()
	if err != nil {
		return err
	}
	keys[key] = struct{}{}
	return s.save(keys)
}

// Remove implements Store.
func (s *FileStore) Remove(_ context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := keys[key]; !ok {
		return nil
	}
	delete(keys, key)
	return s.save(keys)
}

// Keys implements Store.
func (s *FileStore) Keys(_ context.Context) ([]Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.load()
	if err != nil {
		return nil, err
	}
	return sortedKeys(keys), nil
}

// Has implements Store.
func (s *FileStore) Has(_ context.Context, key Key) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.load()
	if err != nil {
		return false, err
	}
	_, ok := keys[key]
	return ok, nil
}

// Prune implements Store.
func (s *FileStore) Prune(_ context.Context, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.load()
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}

	for k := range keys {
		if k.Time().Before(now) {
			delete(keys, k)
		}
	}
	return s.save(keys)
}

func (s *FileStore) load() (map[Key]struct{}, error) {
	keys := make(map[Key]struct{})

	exists, err := afero.Exists(s.fs, s.path)
	if err != nil {
		return nil, fmt.Errorf("checking reminder file: %w", err)
	}
	if !exists {
		return keys, nil
	}

	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		return nil, fmt.Errorf("reading reminder file: %w", err)
	}
	if len(data) == 0 {
		return keys, nil
	}

	var raw []int64
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding reminder file: %w", err)
	}
	for _, v := range raw {
		keys[Key(v)] = struct{}{}
	}
	return keys, nil
}

func (s *FileStore) save(keys map[Key]struct{}) error {
	sorted := sortedKeys(keys)
	raw := make([]int64, len(sorted))
	for i, k := range sorted {
		raw[i] = int64(k)
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("encoding reminder file: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := s.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating reminder directory: %w", err)
		}
	}

	tmp := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing reminder file: %w", err)
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing reminder file: %w", err)
	}
	return nil
}

func sortedKeys(keys map[Key]struct{}) []Key {
	out := make([]Key, 0, len(keys))
	for k := range keys {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
