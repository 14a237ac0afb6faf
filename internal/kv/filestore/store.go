// Package filestore keeps each kv slot in its own file under a directory.
package filestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/AriceNn/MonEra-sub000/internal/kv"
)

const fileSuffix = ".json"

// Store writes every value to <dir>/<escaped key>.json. Writes go through a
// temporary file and a rename so a crash never leaves a half-written slot.
type Store struct {
	dir string
	mu  sync.RWMutex
}

// Open creates dir if needed and returns a store rooted there.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("filestore.Open: mkdir %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, url.PathEscape(key)+fileSuffix)
}

// Get implements the kv.Store interface.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("filestore.Get: %s: %w", key, err)
	}
	return data, nil
}

// writeTemp writes value to a fresh temporary file in the store directory
// and returns its name. The caller removes it.
func (s *Store) writeTemp(value []byte) (string, error) {
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp: %w", err)
	}
	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		return tmp.Name(), fmt.Errorf("write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return tmp.Name(), fmt.Errorf("sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return tmp.Name(), fmt.Errorf("close: %w", err)
	}
	return tmp.Name(), nil
}

// Set implements the kv.Store interface.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := s.writeTemp(value)
	if tmp != "" {
		defer os.Remove(tmp)
	}
	if err != nil {
		return fmt.Errorf("filestore.Set: %s: %w", key, err)
	}
	if err := os.Rename(tmp, s.path(key)); err != nil {
		return fmt.Errorf("filestore.Set: rename %s: %w", key, err)
	}
	return nil
}

// SetNX implements the kv.Store interface. The slot is linked into place,
// which fails when the file exists, so other processes sharing the
// directory cannot both win.
func (s *Store) SetNX(ctx context.Context, key string, value []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := s.writeTemp(value)
	if tmp != "" {
		defer os.Remove(tmp)
	}
	if err != nil {
		return false, fmt.Errorf("filestore.SetNX: %s: %w", key, err)
	}
	err = os.Link(tmp, s.path(key))
	if errors.Is(err, os.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("filestore.SetNX: link %s: %w", key, err)
	}
	return true, nil
}

// CompareAndDelete implements the kv.Store interface. The slot is first
// renamed aside, which only one process can do; a value that turns out not
// to match is linked back unless the key was written in the meantime.
func (s *Store) CompareAndDelete(ctx context.Context, key string, old []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	aside, err := os.CreateTemp(s.dir, ".cad-*")
	if err != nil {
		return false, fmt.Errorf("filestore.CompareAndDelete: create temp: %w", err)
	}
	aside.Close()
	defer os.Remove(aside.Name())

	err = os.Rename(s.path(key), aside.Name())
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("filestore.CompareAndDelete: rename %s: %w", key, err)
	}

	current, err := os.ReadFile(aside.Name())
	if err != nil {
		return false, fmt.Errorf("filestore.CompareAndDelete: read %s: %w", key, err)
	}
	if bytes.Equal(current, old) {
		return true, nil
	}
	if err := os.Link(aside.Name(), s.path(key)); err != nil && !errors.Is(err, os.ErrExist) {
		return false, fmt.Errorf("filestore.CompareAndDelete: restore %s: %w", key, err)
	}
	return false, nil
}

// Delete implements the kv.Store interface.
func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("filestore.Delete: %s: %w", key, err)
	}
	return nil
}

// Keys implements the kv.Store interface.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("filestore.Keys: read dir: %w", err)
	}

	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		key, err := url.PathUnescape(strings.TrimSuffix(name, fileSuffix))
		if err != nil {
			continue
		}
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Close implements the kv.Store interface.
func (s *Store) Close() error {
	return nil
}

var _ kv.Store = (*Store)(nil)
