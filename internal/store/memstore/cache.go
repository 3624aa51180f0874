package memstore

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arcade-progression/internal/domain"
	"github.com/arcade-progression/internal/store"
)

var errUniqueActiveSession = errors.New("duplicate active session for player")

type cacheItem struct {
	value     []byte
	expiresAt time.Time
}

// Cache is an in-memory TTL cache with an injectable clock and fault switch.
type Cache struct {
	mu    sync.Mutex
	items map[string]cacheItem
	now   func() time.Time
	down  atomic.Bool

	gets atomic.Int64
	sets atomic.Int64
}

var _ store.Cache = (*Cache)(nil)

// NewCache creates an empty cache. A nil clock means time.Now.
func NewCache(now func() time.Time) *Cache {
	if now == nil {
		now = time.Now
	}
	return &Cache{items: make(map[string]cacheItem), now: now}
}

// SetDown makes every call fail with domain.ErrCacheUnavailable.
func (c *Cache) SetDown(down bool) {
	c.down.Store(down)
}

// Gets returns the number of Get calls.
func (c *Cache) Gets() int64 { return c.gets.Load() }

// Sets returns the number of Set calls.
func (c *Cache) Sets() int64 { return c.sets.Load() }

// Len returns the number of unexpired keys.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, it := range c.items {
		if c.now().Before(it.expiresAt) {
			n++
		}
	}
	return n
}

// TTL returns the remaining lifetime of key, or zero if absent.
func (c *Cache) TTL(key string) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.items[key]
	if !ok {
		return 0
	}
	return it.expiresAt.Sub(c.now())
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	c.gets.Add(1)
	if c.down.Load() {
		return nil, domain.ErrCacheUnavailable
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.items[key]
	if !ok || !c.now().Before(it.expiresAt) {
		delete(c.items, key)
		return nil, domain.ErrCacheMiss
	}
	return append([]byte(nil), it.value...), nil
}

func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.sets.Add(1)
	if c.down.Load() {
		return domain.ErrCacheUnavailable
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = cacheItem{value: append([]byte(nil), value...), expiresAt: c.now().Add(ttl)}
	return nil
}

func (c *Cache) DeletePrefix(ctx context.Context, prefix string) (int64, error) {
	if c.down.Load() {
		return 0, domain.ErrCacheUnavailable
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int64
	for k := range c.items {
		if strings.HasPrefix(k, prefix) {
			delete(c.items, k)
			n++
		}
	}
	return n, nil
}

// ActivityRecorder is an ActivityLog that keeps every event.
type ActivityRecorder struct {
	mu     sync.Mutex
	events []domain.ActivityEvent
}

var _ store.ActivityLog = (*ActivityRecorder)(nil)

func (r *ActivityRecorder) Append(_ context.Context, event domain.ActivityEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Events returns a copy of the recorded events.
func (r *ActivityRecorder) Events() []domain.ActivityEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.ActivityEvent(nil), r.events...)
}
