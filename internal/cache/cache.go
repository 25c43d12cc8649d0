package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// Key hashes the fields that identify an ask: dialect, connection, the
// normalized question and the touched tables in any order.
func Key(dialect, connectionID, question string, tables []string) string {
	normalized := make([]string, 0, len(tables))
	seen := map[string]struct{}{}
	for _, table := range tables {
		table = strings.ToLower(strings.TrimSpace(table))
		if table == "" {
			continue
		}
		if _, dup := seen[table]; dup {
			continue
		}
		seen[table] = struct{}{}
		normalized = append(normalized, table)
	}
	sort.Strings(normalized)

	h := sha256.New()
	for _, part := range []string{
		strings.ToLower(strings.TrimSpace(dialect)),
		strings.TrimSpace(connectionID),
		NormalizeQuestion(question),
		strings.Join(normalized, ","),
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// NormalizeQuestion trims, collapses whitespace and lowercases.
func NormalizeQuestion(question string) string {
	return strings.ToLower(strings.Join(strings.Fields(question), " "))
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

type Stats struct {
	Hits    int64
	Misses  int64
	Entries int
}

// Cache is a TTL memo. Expiry is checked on read; there is no sweeper.
type Cache[V any] struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]entry[V]
	group   singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64
}

type Option[V any] func(*Cache[V])

// WithClock replaces time.Now, for tests.
func WithClock[V any](now func() time.Time) Option[V] {
	return func(c *Cache[V]) {
		c.now = now
	}
}

func New[V any](ttl time.Duration, opts ...Option[V]) *Cache[V] {
	c := &Cache[V]{
		ttl:     ttl,
		now:     time.Now,
		entries: map[string]entry[V]{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	item, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		c.misses.Add(1)
		var zero V
		return zero, false
	}
	if !c.now().Before(item.expiresAt) {
		c.mu.Lock()
		if current, still := c.entries[key]; still && current.expiresAt.Equal(item.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		c.misses.Add(1)
		var zero V
		return zero, false
	}
	c.hits.Add(1)
	return item.value, true
}

func (c *Cache[V]) Set(key string, value V) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.entries[key] = entry[V]{value: value, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// GetOrCompute returns the cached value or runs fn once for all concurrent
// callers of the same key. Errors are not cached. hit reports whether the
// value came from the cache.
func (c *Cache[V]) GetOrCompute(ctx context.Context, key string, fn func(context.Context) (V, error)) (value V, hit bool, err error) {
	if cached, ok := c.Get(key); ok {
		return cached, true, nil
	}
	result, err, _ := c.group.Do(key, func() (any, error) {
		if cached, ok := c.peek(key); ok {
			return cached, nil
		}
		computed, err := fn(ctx)
		if err != nil {
			return computed, err
		}
		c.Set(key, computed)
		return computed, nil
	})
	if err != nil {
		var zero V
		return zero, false, err
	}
	return result.(V), false, nil
}

// peek reads without touching the hit counters.
func (c *Cache[V]) peek(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	item, ok := c.entries[key]
	if !ok || !c.now().Before(item.expiresAt) {
		var zero V
		return zero, false
	}
	return item.value, true
}

func (c *Cache[V]) Stats() Stats {
	c.mu.RLock()
	entries := len(c.entries)
	c.mu.RUnlock()
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load(), Entries: entries}
}
