package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"maps"
	"sync"
	"time"
)

// MemoryStore is an ObjectStore that keeps objects in process memory. It is
// meant for local development and tests; PutStream necessarily holds each
// payload in memory.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
	order   []string
}

type memoryObject struct {
	data     []byte
	opts     PutOptions
	modified time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]memoryObject)}
}

func (s *MemoryStore) HeadExists(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[key]
	return ok, nil
}

// PutStream reads body to completion before publishing the object, so a
// failed read leaves any previous object under key untouched.
func (s *MemoryStore) PutStream(ctx context.Context, key string, body io.Reader, opts PutOptions) error {
	data, err := io.ReadAll(contextReader{ctx: ctx, r: body})
	if err != nil {
		return fmt.Errorf("memory: put %q: %w", key, err)
	}

	obj := memoryObject{
		data:     data,
		opts:     PutOptions{ContentType: opts.ContentType, Metadata: maps.Clone(opts.Metadata)},
		modified: time.Now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[key]; !ok {
		s.order = append(s.order, key)
	}
	s.objects[key] = obj
	return nil
}

func (s *MemoryStore) GetStream(ctx context.Context, key string) (*Object, error) {
	s.mu.RLock()
	obj, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	return &Object{
		ReadCloser:   io.NopCloser(bytes.NewReader(obj.data)),
		ContentType:  obj.opts.ContentType,
		Size:         int64(len(obj.data)),
		LastModified: obj.modified,
	}, nil
}

// List returns keys in insertion order.
func (s *MemoryStore) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...), nil
}

// Metadata returns the user metadata stored with key, or nil if the key is
// absent.
func (s *MemoryStore) Metadata(key string) map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil
	}
	return maps.Clone(obj.opts.Metadata)
}
