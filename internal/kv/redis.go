package kv

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is the remote shared Store implementation. Every Atomic call
// dispatches to a server-side Lua script, so state mutation is
// linearizable across every gateway instance sharing the same Redis
// deployment (spec §4.A, §5) — the same pattern used throughout the
// corpus for distributed rate limiting
// (Chris-Alexander-Pop-go-hyperforge/pkg/api/ratelimit/adapters/redis).
type Redis struct {
	client *redis.Client
	// scriptsMu guards scripts: Atomic is called concurrently from every
	// in-flight request's rate-limit/cache-lock/breaker step, and a
	// first-use write must never race another goroutine's read, the same
	// way Memory guards every op with a shard mutex.
	scriptsMu sync.Mutex
	// scripts caches redis.Script wrappers by Script.Name so repeated
	// Atomic calls for the same script reuse one EVALSHA-capable handle.
	scripts map[string]*redis.Script
}

// NewRedis dials addr and verifies connectivity before returning.
func NewRedis(ctx context.Context, addr, password string, db int) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("kv: connect to redis %s: %w", addr, err)
	}
	return &Redis{client: client, scripts: make(map[string]*redis.Script)}, nil
}

func (r *Redis) Close() error { return r.client.Close() }

// Ping verifies connectivity for the readiness probe (handlers.Pinger).
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("kv: redis get %q: %w", key, err)
	}
	return v, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("kv: redis set %q: %w", key, err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("kv: redis del %q: %w", key, err)
	}
	return nil
}

func (r *Redis) Incr(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	pipe := r.client.TxPipeline()
	incr := pipe.IncrBy(ctx, key, delta)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("kv: redis incr %q: %w", key, err)
	}
	return incr.Val(), nil
}

func (r *Redis) HGet(ctx context.Context, key, field string) (string, bool, error) {
	v, err := r.client.HGet(ctx, key, field).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("kv: redis hget %q: %w", key, err)
	}
	return v, true, nil
}

func (r *Redis) HSet(ctx context.Context, key string, fields map[string]string) error {
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	if err := r.client.HSet(ctx, key, args...).Err(); err != nil {
		return fmt.Errorf("kv: redis hset %q: %w", key, err)
	}
	return nil
}

func (r *Redis) HMGet(ctx context.Context, key string, fields ...string) (map[string]string, error) {
	vals, err := r.client.HMGet(ctx, key, fields...).Result()
	if err != nil {
		return nil, fmt.Errorf("kv: redis hmget %q: %w", key, err)
	}
	out := make(map[string]string, len(fields))
	for i, f := range fields {
		if vals[i] != nil {
			out[f] = fmt.Sprint(vals[i])
		}
	}
	return out, nil
}

func (r *Redis) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := r.client.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("kv: redis expire %q: %w", key, err)
	}
	return nil
}

func (r *Redis) Atomic(ctx context.Context, script *Script, key string, args ...string) (Result, error) {
	sc := r.scriptFor(script)

	argv := make([]interface{}, len(args))
	for i, a := range args {
		argv[i] = a
	}

	raw, err := sc.Run(ctx, r.client, []string{key}, argv...).Result()
	if err != nil {
		return Result{}, fmt.Errorf("kv: redis atomic %s: %w", script.Name, err)
	}
	return decodeScriptResult(raw)
}

// scriptFor returns the cached *redis.Script for script, creating and
// caching it under scriptsMu on first use. The lock is only held for the
// map lookup/insert, not for the EVAL round trip itself.
func (r *Redis) scriptFor(script *Script) *redis.Script {
	r.scriptsMu.Lock()
	defer r.scriptsMu.Unlock()

	if sc, ok := r.scripts[script.Name]; ok {
		return sc
	}
	sc := redis.NewScript(script.Lua)
	r.scripts[script.Name] = sc
	return sc
}

// decodeScriptResult interprets the {admitted, wait_millis, full, state}
// tuple every Script's Lua body returns, converting from Redis'
// wire representation (an []interface{} of int64/string) back to Result.
func decodeScriptResult(raw interface{}) (Result, error) {
	arr, ok := raw.([]interface{})
	if !ok || len(arr) < 4 {
		return Result{}, fmt.Errorf("kv: unexpected script result shape: %#v", raw)
	}
	admitted, _ := arr[0].(int64)
	waitMillis, _ := arr[1].(int64)
	full, _ := arr[2].(int64)
	state, _ := arr[3].(string)
	return Result{
		Admitted: admitted == 1,
		Wait:     float64(waitMillis) / 1000.0,
		Full:     full == 1,
		State:    state,
	}, nil
}
