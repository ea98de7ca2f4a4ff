// Package cache implements TTL-keyed response/result memoization with
// single-flight semantics over a pluggable kv.Store (spec §4.C).
//
// Single-flight is layered two ways: golang.org/x/sync/singleflight
// collapses concurrent producer calls within this process (no network
// round trip needed for the common case), while a kv.Store-backed lock
// guarantees at most one producer runs per key across the whole
// deployment when the store is shared (spec invariant 5 in §8).
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gateway-service/internal/kv"

	"golang.org/x/sync/singleflight"
)

// Entry is the cached unit of value (spec §3 CacheEntry). Entries are
// immutable once written until TTL expiry; a replacement overwrite is
// last-writer-wins.
type Entry struct {
	ValueBytes  []byte      `json:"value_bytes"`
	ContentType string      `json:"content_type"`
	Status      int         `json:"status"`
	Headers     [][2]string `json:"headers,omitempty"`
	ExpiresAt   int64       `json:"expires_at,omitempty"` // epoch seconds, 0 = no TTL recorded (caller's ttl still applies)
}

// Producer computes the value to cache on a miss.
type Producer func(ctx context.Context) (Entry, error)

// Cache implements get_or_compute per spec §4.C.
type Cache struct {
	store    kv.Store
	keyspace string
	group    singleflight.Group
	lockTTL  time.Duration
	pollWait time.Duration
	now      func() time.Time
}

func New(store kv.Store, keyspace string) *Cache {
	return &Cache{
		store:    store,
		keyspace: keyspace,
		lockTTL:  5 * time.Second,
		pollWait: 25 * time.Millisecond,
		now:      time.Now,
	}
}

var errLockHeld = errors.New("cache: single-flight lock held by another winner")

// GetOrCompute implements spec §4.C steps 1-3.
func (c *Cache) GetOrCompute(ctx context.Context, key string, ttl time.Duration, producer Producer) (Entry, error) {
	fullKey := kv.KeyspacedKey(c.keyspace, "cache", key)

	if entry, ok, err := c.lookup(ctx, fullKey); err != nil {
		return Entry{}, err
	} else if ok {
		return entry, nil
	}

	// In-process collapse: concurrent callers on this instance share one
	// producer invocation and its result/error.
	v, err, _ := c.group.Do(fullKey, func() (interface{}, error) {
		return c.computeOnce(ctx, fullKey, ttl, producer)
	})
	if err != nil {
		return Entry{}, err
	}
	return v.(Entry), nil
}

func (c *Cache) computeOnce(ctx context.Context, fullKey string, ttl time.Duration, producer Producer) (Entry, error) {
	lockKey := fullKey + ":sf"

	acquired, err := c.tryLock(ctx, lockKey)
	if err != nil {
		return Entry{}, err
	}

	if !acquired {
		return c.waitForWinner(ctx, fullKey, lockKey)
	}
	defer c.store.Delete(ctx, lockKey)

	entry, err := producer(ctx)
	if err != nil {
		return Entry{}, err
	}

	entry.ExpiresAt = c.now().Add(ttl).Unix()
	if err := c.storeEntry(ctx, fullKey, entry, ttl); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// storeEntry persists entry as JSON with the given TTL.
func (c *Cache) storeEntry(ctx context.Context, fullKey string, entry Entry, ttl time.Duration) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("cache: marshal entry: %w", err)
	}
	return c.store.Set(ctx, fullKey, data, ttl)
}

func (c *Cache) lookup(ctx context.Context, fullKey string) (Entry, bool, error) {
	raw, ok, err := c.store.Get(ctx, fullKey)
	if err != nil {
		return Entry{}, false, fmt.Errorf("cache: lookup %q: %w", fullKey, err)
	}
	if !ok {
		return Entry{}, false, nil
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return Entry{}, false, fmt.Errorf("cache: decode entry %q: %w", fullKey, err)
	}
	if entry.ExpiresAt != 0 && c.now().Unix() > entry.ExpiresAt {
		return Entry{}, false, nil
	}
	return entry, true, nil
}

func (c *Cache) tryLock(ctx context.Context, lockKey string) (bool, error) {
	result, err := c.store.Atomic(ctx, cacheLockScript, lockKey, fmt.Sprintf("%d", int64(c.lockTTL/time.Second)))
	if err != nil {
		return false, fmt.Errorf("cache: acquire lock %q: %w", lockKey, err)
	}
	return result.Admitted, nil
}

// waitForWinner polls the cache key (and the lock's liveness) until the
// winner publishes a result, its lock expires without a result
// (producer failed), or the context is cancelled.
func (c *Cache) waitForWinner(ctx context.Context, fullKey, lockKey string) (Entry, error) {
	deadline := c.now().Add(c.lockTTL + time.Second)
	ticker := time.NewTicker(c.pollWait)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return Entry{}, ctx.Err()
		case <-ticker.C:
		}

		if entry, ok, err := c.lookup(ctx, fullKey); err != nil {
			return Entry{}, err
		} else if ok {
			return entry, nil
		}

		if _, locked, err := c.store.Get(ctx, lockKey); err == nil && !locked {
			// Lock released with no value published: the winner's
			// producer failed. Propagate a generic error to losers
			// (spec §4.C step 3: "propagate error to all waiters").
			return Entry{}, errLockHeld
		}

		if c.now().After(deadline) {
			return Entry{}, fmt.Errorf("cache: timed out waiting for single-flight winner on %q", fullKey)
		}
	}
}

// Clear deletes the single cache entry whose logical key equals prefix
// in this cache's keyspace. The kv.Store contract has no key
// enumeration, so entries whose keys merely start with prefix are not
// removed.
func (c *Cache) Clear(ctx context.Context, prefix string) error {
	key := kv.KeyspacedKey(c.keyspace, "cache", prefix)
	return c.store.Delete(ctx, key)
}
