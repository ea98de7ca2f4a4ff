package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gateway-service/internal/kv"
)

func TestCache_GetOrCompute_MissCallsProducerThenHits(t *testing.T) {
	t.Parallel()
	store := kv.NewMemory()
	defer store.Close()
	c := New(store, "ks")
	ctx := context.Background()

	var calls int32
	producer := func(ctx context.Context) (Entry, error) {
		atomic.AddInt32(&calls, 1)
		return Entry{ValueBytes: []byte("v1"), Status: 200}, nil
	}

	e1, err := c.GetOrCompute(ctx, "k", time.Minute, producer)
	if err != nil || string(e1.ValueBytes) != "v1" {
		t.Fatalf("GetOrCompute #1 = %+v, %v", e1, err)
	}

	e2, err := c.GetOrCompute(ctx, "k", time.Minute, producer)
	if err != nil || string(e2.ValueBytes) != "v1" {
		t.Fatalf("GetOrCompute #2 = %+v, %v", e2, err)
	}

	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("producer called %d times, want exactly 1 (second call should hit cache)", calls)
	}
}

func TestCache_GetOrCompute_ConcurrentCallsCollapseToOneProducerRun(t *testing.T) {
	t.Parallel()
	store := kv.NewMemory()
	defer store.Close()
	c := New(store, "ks")
	ctx := context.Background()

	var calls int32
	producer := func(ctx context.Context) (Entry, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(20 * time.Millisecond)
		return Entry{ValueBytes: []byte("v"), Status: 200}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.GetOrCompute(ctx, "shared", time.Minute, producer); err != nil {
				t.Errorf("GetOrCompute: %v", err)
			}
		}()
	}
	wg.Wait()

	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("producer called %d times concurrently, want exactly 1", calls)
	}
}

func TestCache_GetOrCompute_ExpiredEntryRecomputes(t *testing.T) {
	t.Parallel()
	store := kv.NewMemory()
	defer store.Close()
	c := New(store, "ks")
	now := time.Now()
	c.now = func() time.Time { return now }
	ctx := context.Background()

	var calls int32
	producer := func(ctx context.Context) (Entry, error) {
		atomic.AddInt32(&calls, 1)
		return Entry{ValueBytes: []byte("v"), Status: 200}, nil
	}

	if _, err := c.GetOrCompute(ctx, "k", time.Minute, producer); err != nil {
		t.Fatalf("GetOrCompute #1: %v", err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := c.GetOrCompute(ctx, "k", time.Minute, producer); err != nil {
		t.Fatalf("GetOrCompute #2: %v", err)
	}

	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("producer called %d times across expiry, want 2", calls)
	}
}

func TestCache_GetOrCompute_ProducerErrorPropagates(t *testing.T) {
	t.Parallel()
	store := kv.NewMemory()
	defer store.Close()
	c := New(store, "ks")
	ctx := context.Background()
	wantErr := errors.New("upstream exploded")

	_, err := c.GetOrCompute(ctx, "k", time.Minute, func(ctx context.Context) (Entry, error) {
		return Entry{}, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("GetOrCompute error = %v, want %v", err, wantErr)
	}
}

func TestCache_Clear_RemovesEntry(t *testing.T) {
	t.Parallel()
	store := kv.NewMemory()
	defer store.Close()
	c := New(store, "ks")
	ctx := context.Background()

	if _, err := c.GetOrCompute(ctx, "k", time.Minute, func(ctx context.Context) (Entry, error) {
		return Entry{ValueBytes: []byte("v"), Status: 200}, nil
	}); err != nil {
		t.Fatalf("GetOrCompute: %v", err)
	}

	if err := c.Clear(ctx, "k"); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	var calls int32
	if _, err := c.GetOrCompute(ctx, "k", time.Minute, func(ctx context.Context) (Entry, error) {
		atomic.AddInt32(&calls, 1)
		return Entry{ValueBytes: []byte("v2"), Status: 200}, nil
	}); err != nil {
		t.Fatalf("GetOrCompute after Clear: %v", err)
	}
	if calls != 1 {
		t.Fatalf("producer called %d times after Clear, want 1 (entry should have been evicted)", calls)
	}
}
