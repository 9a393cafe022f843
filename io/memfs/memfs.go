// Package memfs is an in-memory ObjectStore backed by a map guarded by a
// mutex, used for tests and as the default backend of the filesystem
// catalog.
package memfs

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lakeformat/iceberg/io"
	"github.com/lakeformat/iceberg/pkg/errors"
)

type entry struct {
	data    []byte
	modTime time.Time
}

// Store is a thread-safe in-memory io.ObjectStore.
type Store struct {
	mu      sync.RWMutex
	objects map[string]entry
}

func New() *Store {
	return &Store{objects: make(map[string]entry)}
}

func (s *Store) Get(_ context.Context, path string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.objects[path]
	if !ok {
		return nil, errors.New(io.ErrNotFound, "object not found", nil).AddContext("path", path)
	}
	out := make([]byte, len(e.data))
	copy(out, e.data)
	return out, nil
}

func (s *Store) Put(_ context.Context, path string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.objects[path] = entry{data: cp, modTime: time.Now()}
	return nil
}

func (s *Store) CopyIfNotExists(_ context.Context, src, dst string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.objects[dst]; exists {
		return errors.New(io.ErrAlreadyExists, "destination already exists", nil).AddContext("dst", dst)
	}
	e, ok := s.objects[src]
	if !ok {
		return errors.New(io.ErrNotFound, "source object not found", nil).AddContext("src", src)
	}
	cp := make([]byte, len(e.data))
	copy(cp, e.data)
	s.objects[dst] = entry{data: cp, modTime: time.Now()}
	return nil
}

func (s *Store) Delete(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, path)
	return nil
}

func (s *Store) List(_ context.Context, prefix string) ([]io.ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []io.ObjectInfo
	for path, e := range s.objects {
		if strings.HasPrefix(path, prefix) {
			out = append(out, io.ObjectInfo{Path: path, Size: int64(len(e.data)), LastModified: e.modTime})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

var _ io.ObjectStore = (*Store)(nil)
