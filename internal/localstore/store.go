package localstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/dvloznov/offline-ledger/internal/domain"
)

// DefaultNamespace prefixes every key the Store writes to its backend.
const DefaultNamespace = "ledger_"

// Store owns the authoritative on-device dataset: one JSON blob per
// collection under a namespaced key, plus a few meta keys.
//
// Every operation holds mu for its whole read-modify-write, so mutations of
// the same collection are applied strictly in call order.
type Store struct {
	mu        sync.Mutex
	backend   Backend
	namespace string
	cache     *Cache
}

// Option configures a Store.
type Option func(*Store)

// WithNamespace overrides DefaultNamespace.
func WithNamespace(ns string) Option {
	return func(s *Store) { s.namespace = ns }
}

// New creates a Store over backend.
func New(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend:   backend,
		namespace: DefaultNamespace,
		cache:     NewCache(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Key returns the backend key used for a collection or meta entry.
func (s *Store) Key(name string) string {
	return s.namespace + name
}

// Namespace returns the key prefix owned by this store.
func (s *Store) Namespace() string {
	return s.namespace
}

// Get returns the decoded value of a collection: []domain.Record for
// sequences, map[string]any for maps, domain.Record for singletons.
// A collection that was never written yields its empty value.
func (s *Store) Get(ctx context.Context, c domain.Collection) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(ctx, c)
}

// Set replaces a collection value and invalidates its cache entry.
func (s *Store) Set(ctx context.Context, c domain.Collection, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.setLocked(ctx, c, value)
	return err
}

// Replace overwrites a collection and primes the cache with the new value.
// Used when a whole collection arrives from the remote store.
func (s *Store) Replace(ctx context.Context, c domain.Collection, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := s.setLocked(ctx, c, value)
	if err != nil {
		return err
	}
	// Cache what a later read would decode, not the caller's value, so that
	// number types match (Firestore int64 vs JSON float64).
	spec, _ := domain.Lookup(c)
	if decoded, err := decode(spec, raw); err == nil {
		s.cache.put(c, decoded)
	}
	return nil
}

// Update runs fn on the current value of a collection and stores what it
// returns, all under one lock. If fn fails nothing is written.
func (s *Store) Update(ctx context.Context, c domain.Collection, fn func(current any) (any, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.getLocked(ctx, c)
	if err != nil {
		return err
	}
	next, err := fn(current)
	if err != nil {
		return err
	}
	_, err = s.setLocked(ctx, c, next)
	return err
}

// Remove deletes a collection key.
func (s *Store) Remove(ctx context.Context, c domain.Collection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache.invalidate(c)
	if err := s.backend.Delete(ctx, s.Key(string(c))); err != nil {
		return fmt.Errorf("Remove %s: %w", c, err)
	}
	return nil
}

// Records returns a sequence collection.
func (s *Store) Records(ctx context.Context, c domain.Collection) ([]domain.Record, error) {
	v, err := s.Get(ctx, c)
	if err != nil {
		return nil, err
	}
	records, ok := v.([]domain.Record)
	if !ok {
		return nil, fmt.Errorf("Records: %s is not a sequence collection", c)
	}
	return records, nil
}

// Object returns a map or singleton collection as a plain map.
func (s *Store) Object(ctx context.Context, c domain.Collection) (map[string]any, error) {
	v, err := s.Get(ctx, c)
	if err != nil {
		return nil, err
	}
	m, ok := domain.ToMap(v)
	if !ok {
		return nil, fmt.Errorf("Object: %s is not an object collection", c)
	}
	return m, nil
}

// GetMeta reads a raw namespaced meta value such as the last sync time.
func (s *Store) GetMeta(ctx context.Context, name string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, ok, err := s.backend.Get(ctx, s.Key(name))
	if err != nil {
		return "", false, fmt.Errorf("GetMeta %s: %w", name, err)
	}
	return string(raw), ok, nil
}

// SetMeta writes a raw namespaced meta value.
func (s *Store) SetMeta(ctx context.Context, name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.Set(ctx, s.Key(name), []byte(value)); err != nil {
		return fmt.Errorf("SetMeta %s: %w", name, err)
	}
	return nil
}

// Keys lists every key in this store's namespace.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keysLocked(ctx)
}

// Dump returns the current value of each named collection, read under one
// lock so the result is a consistent point-in-time copy.
func (s *Store) Dump(ctx context.Context, collections []domain.Collection) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]any, len(collections))
	for _, c := range collections {
		v, err := s.getLocked(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("Dump: %w", err)
		}
		out[string(c)] = v
	}
	return out, nil
}

// PurgeNamespace deletes every key in this store's namespace, known
// collection or not, and empties the cache.
func (s *Store) PurgeNamespace(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.keysLocked(ctx)
	if err != nil {
		return 0, err
	}
	for _, k := range keys {
		if err := s.backend.Delete(ctx, k); err != nil {
			return 0, fmt.Errorf("PurgeNamespace: deleting %q: %w", k, err)
		}
	}
	s.cache.clear()
	return len(keys), nil
}

// InvalidateCache drops every cached collection.
func (s *Store) InvalidateCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.clear()
}

// CacheStats returns the cache counters.
func (s *Store) CacheStats() CacheStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return CacheStats{Entries: len(s.cache.entries), Hits: s.cache.hits, Misses: s.cache.misses}
}

// Close closes the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

func (s *Store) keysLocked(ctx context.Context) ([]string, error) {
	all, err := s.backend.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("Keys: %w", err)
	}
	var keys []string
	for _, k := range all {
		if strings.HasPrefix(k, s.namespace) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (s *Store) getLocked(ctx context.Context, c domain.Collection) (any, error) {
	spec, ok := domain.Lookup(c)
	if !ok {
		return nil, fmt.Errorf("Get: unknown collection %q", c)
	}

	if v, ok := s.cache.get(c); ok {
		return v, nil
	}

	raw, found, err := s.backend.Get(ctx, s.Key(string(c)))
	if err != nil {
		return nil, fmt.Errorf("Get %s: %w", c, err)
	}
	if !found {
		return domain.Empty(spec.Kind), nil
	}

	v, err := decode(spec, raw)
	if err != nil {
		return nil, fmt.Errorf("Get %s: %w", c, err)
	}
	s.cache.put(c, v)
	return domain.CloneValue(v), nil
}

func (s *Store) setLocked(ctx context.Context, c domain.Collection, value any) ([]byte, error) {
	spec, ok := domain.Lookup(c)
	if !ok {
		return nil, fmt.Errorf("Set: unknown collection %q", c)
	}

	normalized, err := normalize(spec, value)
	if err != nil {
		return nil, fmt.Errorf("Set %s: %w", c, err)
	}
	raw, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("Set %s: encoding: %w", c, err)
	}

	s.cache.invalidate(c)
	if err := s.backend.Set(ctx, s.Key(string(c)), raw); err != nil {
		return nil, fmt.Errorf("Set %s: %w", c, err)
	}
	return raw, nil
}

// normalize coerces a caller-supplied value into the canonical Go type of the
// collection kind so that encoding and later reads agree.
func normalize(spec domain.Spec, value any) (any, error) {
	switch spec.Kind {
	case domain.KindSequence:
		records, ok := domain.ToRecords(value)
		if !ok {
			return nil, fmt.Errorf("expected a list of records, got %T", value)
		}
		return records, nil
	case domain.KindMap:
		m, ok := domain.ToMap(value)
		if !ok {
			return nil, fmt.Errorf("expected an object, got %T", value)
		}
		return m, nil
	case domain.KindSingleton:
		m, ok := domain.ToMap(value)
		if !ok {
			return nil, fmt.Errorf("expected an object, got %T", value)
		}
		return domain.Record(m), nil
	default:
		return value, nil
	}
}

func decode(spec domain.Spec, raw []byte) (any, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decoding: %w", err)
	}
	return normalize(spec, v)
}
