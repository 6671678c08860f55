// Package chatstore keeps chat history as JSON blobs in a key-value store.
package chatstore

import (
	"errors"
	"sync"
)

// ErrNotFound is returned by Blobs.Get for a key that was never written.
var ErrNotFound = errors.New("chatstore: not found")

// Blobs is a minimal string-keyed blob store.
type Blobs interface {
	Get(key string) ([]byte, error)
	Put(key string, value []byte) error
	Close() error
}

// MemoryBlobs is an in-process Blobs, used when no data directory is set.
type MemoryBlobs struct {
	mu sync.RWMutex
	m  map[string][]byte
}

func NewMemoryBlobs() *MemoryBlobs {
	return &MemoryBlobs{m: make(map[string][]byte)}
}

func (b *MemoryBlobs) Get(key string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.m[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (b *MemoryBlobs) Put(key string, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.m[key] = append([]byte(nil), value...)
	return nil
}

func (b *MemoryBlobs) Close() error { return nil }
