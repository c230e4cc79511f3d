package cache

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// Store is a byte cache shared by the feed and anything else that serializes its values.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte) error
	Delete(ctx context.Context, key string) error

	// Generation and Bump manage a counter that never expires. Readers put the
	// generation in their keys, so a bump orphans whatever was cached under the
	// old one, including writes still in flight.
	Generation(ctx context.Context, key string) (int64, error)
	Bump(ctx context.Context, key string) (int64, error)
}

const maxEntries = 256

// Cache is the in-process Store used when no redis is configured. Entries
// expire after ttl and the least recently used go first once it is full.
type Cache struct {
	ttl     time.Duration
	entries *lru.Cache
	now     func() time.Time

	mu   sync.Mutex
	gens map[string]int64
}

type entry struct {
	val     []byte
	expires time.Time
}

func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	entries, _ := lru.New(maxEntries)

	return &Cache{ttl: ttl, entries: entries, now: time.Now, gens: make(map[string]int64)}
}

func (c *Cache) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := c.entries.Get(key)
	if !ok {
		return nil, false, nil
	}
	e := v.(entry)
	if !c.now().Before(e.expires) {
		c.entries.Remove(key)
		return nil, false, nil
	}
	return e.val, true, nil
}

// Set keeps its own copy of val so callers may reuse the slice.
func (c *Cache) Set(_ context.Context, key string, val []byte) error {
	c.entries.Add(key, entry{
		val:     append([]byte(nil), val...),
		expires: c.now().Add(c.ttl),
	})
	return nil
}

func (c *Cache) Delete(_ context.Context, key string) error {
	c.entries.Remove(key)
	return nil
}

func (c *Cache) Generation(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[key], nil
}

func (c *Cache) Bump(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gens[key]++
	return c.gens[key], nil
}
