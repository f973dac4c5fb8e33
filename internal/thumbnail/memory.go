package thumbnail

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
)

// MemoryBackend keeps the most recently stored objects in process memory.
type MemoryBackend struct {
	cache *lru.Cache[string, Object]
}

func NewMemoryBackend(entries int) (*MemoryBackend, error) {
	if entries <= 0 {
		entries = 10000
	}
	cache, err := lru.New[string, Object](entries)
	if err != nil {
		return nil, err
	}
	return &MemoryBackend{cache: cache}, nil
}

func (m *MemoryBackend) Put(_ context.Context, key string, obj Object) error {
	m.cache.Add(key, obj)
	return nil
}

func (m *MemoryBackend) Get(_ context.Context, key string) (Object, error) {
	obj, ok := m.cache.Get(key)
	if !ok {
		return Object{}, ErrNotFound
	}
	return obj, nil
}

func (m *MemoryBackend) Delete(_ context.Context, key string) error {
	m.cache.Remove(key)
	return nil
}

func (m *MemoryBackend) Close() error {
	m.cache.Purge()
	return nil
}
