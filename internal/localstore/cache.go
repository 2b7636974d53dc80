package localstore

import (
	"github.com/dvloznov/offline-ledger/internal/domain"
)

// Cache mirrors decoded collection values so repeated reads skip
// deserialization. It is not locked on its own; Store.mu guards it.
type Cache struct {
	entries map[domain.Collection]any
	hits    int
	misses  int
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[domain.Collection]any)}
}

func (c *Cache) get(name domain.Collection) (any, bool) {
	v, ok := c.entries[name]
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++
	return domain.CloneValue(v), true
}

func (c *Cache) put(name domain.Collection, value any) {
	if spec, ok := domain.Lookup(name); !ok || !spec.Cached {
		return
	}
	c.entries[name] = domain.CloneValue(value)
}

func (c *Cache) invalidate(name domain.Collection) {
	delete(c.entries, name)
}

func (c *Cache) clear() {
	c.entries = make(map[domain.Collection]any)
}

// CacheStats reports cache effectiveness.
type CacheStats struct {
	Entries int `json:"entries"`
	Hits    int `json:"hits"`
	Misses  int `json:"misses"`
}
