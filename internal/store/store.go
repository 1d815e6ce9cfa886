// Package store provides crash-safe JSON persistence keyed by name.
//
// Each key is stored as a separate file: <prefix><key>.json. Writes use
// atomic file replacement (write to .tmp, then rename) to prevent
// corruption from partial writes or crashes mid-save. internal/bootstrap
// uses this to cache a symbol's derived trade-flow seed statistics; the
// historical CSV is still parsed on every start.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Store persists arbitrary JSON-serializable values to files in a
// designated directory, keyed by name with a fixed filename prefix. All
// operations are mutex-protected to prevent concurrent file corruption.
type Store struct {
	dir    string
	prefix string
	mu     sync.Mutex
}

// Open creates a store backed by dir, naming files "<prefix><key>.json".
func Open(dir, prefix string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &Store{dir: dir, prefix: prefix}, nil
}

// Close is a no-op for file-based storage.
func (s *Store) Close() error {
	return nil
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, s.prefix+key+".json")
}

// Save atomically persists value under key (write to .tmp, then rename,
// so a crash mid-write never leaves a corrupt file in place).
func (s *Store) Save(key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}

	path := s.path(key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return os.Rename(tmp, path)
}

// Load restores the value saved under key into out. ok is false if no
// saved value exists yet (a fresh key).
func (s *Store) Load(key string, out any) (ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read %s: %w", key, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return true, nil
}
