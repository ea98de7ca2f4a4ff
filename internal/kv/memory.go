package kv

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const defaultShardCount = 32

// entry is one stored value with an optional absolute expiry.
type entry struct {
	bytes     []byte
	hash      map[string]string
	expiresAt time.Time // zero means no TTL
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

type shard struct {
	mu   sync.Mutex
	data map[string]*entry
}

// Memory is the in-process Store implementation: a shared mapping
// protected by one mutex per shard, with TTLs enforced lazily on read
// and by a periodic sweeper goroutine (spec §4.A).
type Memory struct {
	shards    []*shard
	sweepStop chan struct{}
	sweepOnce sync.Once
	now       func() time.Time
}

// NewMemory creates an in-process store and starts its background TTL
// sweeper. Call Close to stop the sweeper.
func NewMemory() *Memory {
	return newMemoryWithClock(time.Now)
}

func newMemoryWithClock(now func() time.Time) *Memory {
	m := &Memory{
		shards:    make([]*shard, defaultShardCount),
		sweepStop: make(chan struct{}),
		now:       now,
	}
	for i := range m.shards {
		m.shards[i] = &shard{data: make(map[string]*entry)}
	}
	go m.sweepLoop()
	return m
}

// Close stops the sweeper goroutine. Safe to call more than once.
func (m *Memory) Close() {
	m.sweepOnce.Do(func() { close(m.sweepStop) })
}

// Ping always succeeds: the in-process store has no network dependency
// to fail. Satisfies handlers.Pinger for the readiness probe.
func (m *Memory) Ping(_ context.Context) error {
	return nil
}

func (m *Memory) sweepLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.sweepStop:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Memory) sweep() {
	now := m.now()
	for _, s := range m.shards {
		s.mu.Lock()
		for k, e := range s.data {
			if e.expired(now) {
				delete(s.data, k)
			}
		}
		s.mu.Unlock()
	}
}

func (m *Memory) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return m.shards[h.Sum32()%uint32(len(m.shards))]
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[key]
	if !ok || e.expired(m.now()) {
		if ok {
			delete(s.data, key)
		}
		return nil, false, nil
	}
	out := make([]byte, len(e.bytes))
	copy(out, e.bytes)
	return out, true, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := make([]byte, len(value))
	copy(stored, value)
	s.data[key] = &entry{bytes: stored, expiresAt: expiryFor(m.now(), ttl)}
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (m *Memory) Incr(_ context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.data[key]
	now := m.now()
	if !ok || e.expired(now) {
		e = &entry{expiresAt: expiryFor(now, ttl)}
		s.data[key] = e
	}
	cur := decodeInt(e.bytes)
	cur += delta
	e.bytes = encodeInt(cur)
	return cur, nil
}

func (m *Memory) HGet(_ context.Context, key, field string) (string, bool, error) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[key]
	if !ok || e.expired(m.now()) || e.hash == nil {
		return "", false, nil
	}
	v, ok := e.hash[field]
	return v, ok, nil
}

func (m *Memory) HSet(_ context.Context, key string, fields map[string]string) error {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[key]
	if !ok || e.expired(m.now()) {
		e = &entry{hash: make(map[string]string, len(fields))}
		s.data[key] = e
	} else if e.hash == nil {
		e.hash = make(map[string]string, len(fields))
	}
	for k, v := range fields {
		e.hash[k] = v
	}
	return nil
}

func (m *Memory) HMGet(_ context.Context, key string, fields ...string) (map[string]string, error) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(fields))
	e, ok := s.data[key]
	if !ok || e.expired(m.now()) || e.hash == nil {
		return out, nil
	}
	for _, f := range fields {
		if v, ok := e.hash[f]; ok {
			out[f] = v
		}
	}
	return out, nil
}

func (m *Memory) Expire(_ context.Context, key string, ttl time.Duration) error {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.data[key]; ok {
		e.expiresAt = expiryFor(m.now(), ttl)
	}
	return nil
}

// Atomic runs script.Run as a single critical section under the key's
// shard mutex — the in-process simulation of a server-side Lua script
// (spec §9).
func (m *Memory) Atomic(_ context.Context, script *Script, key string, args ...string) (Result, error) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := m.now()
	e, ok := s.data[key]
	if !ok || e.expired(now) {
		e = &entry{hash: make(map[string]string)}
	} else if e.hash == nil {
		e.hash = make(map[string]string)
	}

	result, newFields, ttl := script.Run(now.Unix(), e.hash, args)
	e.hash = newFields
	e.expiresAt = expiryFor(now, ttl)
	s.data[key] = e
	return result, nil
}

func expiryFor(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}
