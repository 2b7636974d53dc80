package localstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryBackend is an in-memory implementation of Backend.
// It is safe for concurrent use. Data is lost when the process exits, which is
// what session storage wants and what tests want.
type MemoryBackend struct {
	mu    sync.RWMutex
	data  map[string][]byte
	quota int
	used  int
}

// NewMemoryBackend creates an empty in-memory backend without a size limit.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		data: make(map[string][]byte),
	}
}

// NewMemoryBackendWithQuota creates a backend that rejects writes once the
// total size of keys and values would exceed quota bytes.
func NewMemoryBackendWithQuota(quota int) *MemoryBackend {
	b := NewMemoryBackend()
	b.quota = quota
	return b
}

// Get implements the Backend interface.
func (b *MemoryBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	v, ok := b.data[key]
	if !ok {
		return nil, false, nil
	}

	// Return a copy to avoid external modifications
	return append([]byte(nil), v...), true, nil
}

// Set implements the Backend interface.
func (b *MemoryBackend) Set(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return fmt.Errorf("key is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	used := b.used + len(key) + len(value)
	if old, ok := b.data[key]; ok {
		used -= len(key) + len(old)
	}
	if b.quota > 0 && used > b.quota {
		return fmt.Errorf("set %q (%d bytes): %w", key, len(value), ErrQuotaExceeded)
	}

	b.data[key] = append([]byte(nil), value...)
	b.used = used
	return nil
}

// Delete implements the Backend interface.
func (b *MemoryBackend) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if old, ok := b.data[key]; ok {
		b.used -= len(key) + len(old)
		delete(b.data, key)
	}
	return nil
}

// Keys implements the Backend interface. Keys are returned sorted.
func (b *MemoryBackend) Keys(ctx context.Context) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	keys := make([]string, 0, len(b.data))
	for k := range b.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Clear removes every key.
func (b *MemoryBackend) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.data = make(map[string][]byte)
	b.used = 0
}

// Close implements the Backend interface.
func (b *MemoryBackend) Close() error {
	return nil
}

// Ensure MemoryBackend implements Backend interface.
var _ Backend = (*MemoryBackend)(nil)
