// Package cache is a key → (payload, timestamp) layer over the durable store.
// It enforces no expiry; callers decide how fresh an entry must be.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"eventfeed/internal/kv"
	appLog "eventfeed/internal/log"
)

const keyPrefix = "event_cache_"

// Entry is a cached payload stamped with the time it was written.
type Entry[T any] struct {
	Data      T     `json:"data"`
	Timestamp int64 `json:"timestamp"` // epoch ms
}

// Time returns the write time of the entry.
func (e Entry[T]) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// Age reports how old the entry is relative to now.
func (e Entry[T]) Age(now time.Time) time.Duration {
	return now.Sub(e.Time())
}

// Cache stores JSON-encoded entries under "event_cache_<key>".
type Cache struct {
	store kv.Store
	now   func() time.Time
}

// New builds a Cache over store. now may be nil, defaulting to time.Now.
func New(store kv.Store, now func() time.Time) *Cache {
	if now == nil {
		now = time.Now
	}
	return &Cache{store: store, now: now}
}

// Get reads key. Any storage or decoding failure is logged and reported as a
// miss; it never returns an error.
func Get[T any](ctx context.Context, c *Cache, key string) (Entry[T], bool) {
	var entry Entry[T]
	if c == nil || c.store == nil {
		return entry, false
	}

	raw, ok, err := c.store.Get(ctx, keyPrefix+key)
	if err != nil {
		appLog.Error("cache read failed", err, "key", key)
		return entry, false
	}
	if !ok {
		return entry, false
	}
	if err := json.Unmarshal(raw, &entry); err != nil {
		appLog.Error("cache decode failed", err, "key", key)
		return Entry[T]{}, false
	}
	return entry, true
}

// Set overwrites key with data stamped at the current time. Failures are
// logged and dropped.
func Set[T any](ctx context.Context, c *Cache, key string, data T) {
	if c == nil || c.store == nil {
		return
	}
	raw, err := json.Marshal(Entry[T]{Data: data, Timestamp: c.now().UnixMilli()})
	if err != nil {
		appLog.Error("cache encode failed", err, "key", key)
		return
	}
	if err := c.store.Set(ctx, keyPrefix+key, raw); err != nil {
		appLog.Error("cache write failed", err, "key", key)
	}
}

// Delete removes key. Failures are logged and dropped.
func (c *Cache) Delete(ctx context.Context, key string) {
	if c == nil || c.store == nil {
		return
	}
	if err := c.store.Delete(ctx, keyPrefix+key); err != nil {
		appLog.Error("cache delete failed", err, "key", key)
	}
}

// Now returns the cache clock's current time.
func (c *Cache) Now() time.Time {
	return c.now()
}
