// Package kv defines the abstract key/value contract shared by every
// stateful policy component (throttle buckets, cache entries, circuit
// breaker state) and provides two implementations: an in-process store
// for single-instance deployments and a Redis-backed store for sharing
// state across a fleet of gateway instances (spec §4.A).
//
// All operations are total: they do not panic or error on a missing key,
// only on genuine backend failure (network error, script error).
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrScriptNotFound names the unknown-script condition. Neither Memory
// nor Redis returns it: both take the *Script itself, not a name.
var ErrScriptNotFound = errors.New("kv: unknown atomic script")

// Script is a named, versioned atomic operation executed against a
// single key. The in-process store runs it under a per-shard mutex; the
// Redis store runs the equivalent Lua source via EVALSHA/EVAL. Scripts
// are package-level values next to their users (internal/throttle,
// internal/breaker/script.go, internal/cache/lock.go), each carrying
// both bodies so the two backends agree on semantics.
type Script struct {
	Name string
	// Run executes the script's semantic effect against the in-process
	// backend. It receives a mutable view of the bucket's raw field map
	// (string -> string, matching Redis hash semantics) and the epoch
	// clock, and returns the (possibly unchanged) field map plus result.
	Run func(now int64, fields map[string]string, args []string) (result Result, newFields map[string]string, ttl time.Duration)
	// Lua is the Redis-side source, written against KEYS[1] (the bucket
	// hash key) and ARGV (the caller's args); it reads "now" from Redis
	// TIME.
	Lua string
}

// Result is the value an atomic script communicates back to its caller.
// Only one of the fields is meaningful for a given script; throttle
// scripts set Wait (and Full for the leaky bucket), breaker scripts set
// Admitted/State.
type Result struct {
	Admitted bool
	Wait     float64 // seconds to retry; meaningful when !Admitted
	Full     bool    // leaky bucket specific: queue saturated
	State    string  // breaker specific: resulting state name
	Extra    map[string]string
}

// Store is the abstract KV contract (spec §4.A).
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Incr(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)

	HGet(ctx context.Context, key, field string) (string, bool, error)
	HSet(ctx context.Context, key string, fields map[string]string) error
	HMGet(ctx context.Context, key string, fields ...string) (map[string]string, error)

	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Atomic runs the named script against key with the given args,
	// linearizable with respect to every other caller sharing this
	// store's backing state for the same key (spec §4.A, §5).
	Atomic(ctx context.Context, script *Script, key string, args ...string) (Result, error)
}

// KeyspacedKey builds a key of the form "{keyspace}:{category}:{logical}"
// per spec §3. category is one of "throttle", "cache", "cb", "lb".
func KeyspacedKey(keyspace, category, logical string) string {
	return keyspace + ":" + category + ":" + logical
}
