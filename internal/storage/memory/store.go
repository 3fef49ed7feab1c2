// Package memory provides in-memory stores for dry runs and tests.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/JakeFAU/imagefetch/internal/ingest"
)

// Store keeps images in memory and returns memory:// locations.
type Store struct {
	mu    sync.RWMutex
	data  map[string][]byte
	types map[string]string
}

// NewStore creates an empty in-memory image store.
func NewStore() *Store {
	return &Store{
		data:  make(map[string][]byte),
		types: make(map[string]string),
	}
}

// Exists reports whether name has been stored.
func (s *Store) Exists(_ context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[name]
	return ok, nil
}

// Open returns a reader over a copy of the stored bytes.
func (s *Store) Open(_ context.Context, name string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ingest.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(append([]byte(nil), data...))), nil
}

// Put stores a copy of data under name unless it already exists.
func (s *Store) Put(_ context.Context, name string, contentType string, data []byte) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("%w: name is required", ingest.ErrStore)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[name]; ok {
		return "", fmt.Errorf("%w: %s: %w", ingest.ErrStore, name, ingest.ErrExists)
	}
	s.data[name] = append([]byte(nil), data...)
	s.types[name] = contentType
	return "memory://" + name, nil
}

// Names lists stored object names in lexical order.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.data))
	for name := range s.data {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns a copy of the stored bytes and content type.
func (s *Store) Get(name string) ([]byte, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[name]
	if !ok {
		return nil, "", false
	}
	return append([]byte(nil), data...), s.types[name], true
}
