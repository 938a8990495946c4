// Package localstore provides durable, single-device key-value persistence.
// Each key is stored as a JSON file under the store's data directory. It backs
// the report history, user profile, and app settings kept on the device so the
// application stays usable with no remote store configured.
package localstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

// ErrNotFound is returned by Get when the key has never been written.
var ErrNotFound = errors.New("key not found")

// Store persists JSON values under named keys. All operations are synchronous
// and safe for concurrent use within one process.
type Store struct {
	mu     sync.Mutex
	dir    string
	logger zerolog.Logger
}

// New creates a Store rooted at dir, creating the directory if needed.
func New(dir string, logger zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory %s: %w", dir, err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, key+".json")
}

// Get reads the value stored under key into v. A missing key returns
// ErrNotFound. A file that no longer parses is logged and reported as
// ErrNotFound so corrupted state degrades to "no data" instead of breaking
// callers.
func (s *Store) Get(key string, v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		s.logger.Warn().Err(err).Str("key", key).Msg("local store read failed")
		return ErrNotFound
	}
	if err := json.Unmarshal(data, v); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("local store entry corrupt, treating as empty")
		return ErrNotFound
	}
	return nil
}

// Put serializes v and overwrites the value under key. The write goes through
// a temp file and rename so a crash mid-write cannot leave a half-written
// entry behind.
func (s *Store) Put(key string, v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	tmp := s.path(key) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := os.Rename(tmp, s.path(key)); err != nil {
		return fmt.Errorf("commit %s: %w", key, err)
	}
	return nil
}

// Delete removes the value stored under key. Deleting an absent key is a
// no-op.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}
