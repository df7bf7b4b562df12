// Package samplecache is the injectable byte cache in front of the fetch
// collaborator, keyed by source URL. Durable implementations live with the
// caller; the engine only needs get/put.
package samplecache

import (
	"context"
	"sync"
)

type Cache interface {
	// Get returns the cached bytes for the key. The returned slice must
	// not be modified.
	Get(ctx context.Context, key string) ([]byte, bool)
	Put(ctx context.Context, key string, data []byte)
}

// Memory is an in-process Cache.
type Memory struct {
	mu      sync.Mutex
	entries map[string][]byte
}

var _ Cache = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		entries: map[string][]byte{},
	}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.entries[key]
	return data, ok
}

func (m *Memory) Put(_ context.Context, key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := make([]byte, len(data))
	copy(stored, data)
	m.entries[key] = stored
}
