package lb

import (
	"errors"
	"testing"

	"gateway-service/internal/gwerrors"
)

func TestBalancer_NextRoundRobins(t *testing.T) {
	t.Parallel()
	b := New([]string{"http://a", "http://b"}, Config{})
	defer b.Close()

	seen := map[string]int{}
	for i := 0; i < 4; i++ {
		backend, err := b.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		seen[backend.URL]++
	}
	if seen["http://a"] != 2 || seen["http://b"] != 2 {
		t.Fatalf("Next distribution = %v, want 2 each over 4 calls", seen)
	}
}

func TestBalancer_SkipsUnhealthyBackends(t *testing.T) {
	t.Parallel()
	b := New([]string{"http://a", "http://b"}, Config{FailureThreshold: 1})
	defer b.Close()

	var bad *Backend
	for _, backend := range b.Backends() {
		if backend.URL == "http://a" {
			bad = backend
		}
	}
	b.RecordFailure(bad)
	if bad.Healthy() {
		t.Fatalf("backend still healthy after reaching FailureThreshold")
	}

	for i := 0; i < 5; i++ {
		backend, err := b.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if backend.URL == "http://a" {
			t.Fatalf("Next returned unhealthy backend %q", backend.URL)
		}
	}
}

func TestBalancer_NoHealthyBackendsReturnsErrNoHealthy(t *testing.T) {
	t.Parallel()
	b := New([]string{"http://a"}, Config{FailureThreshold: 1})
	defer b.Close()

	b.RecordFailure(b.Backends()[0])

	_, err := b.Next()
	if !errors.Is(err, gwerrors.ErrNoHealthy) {
		t.Fatalf("Next with no healthy backends = %v, want ErrNoHealthy", err)
	}
}

func TestBalancer_RecordSuccessClearsFailureStreak(t *testing.T) {
	t.Parallel()
	b := New([]string{"http://a"}, Config{FailureThreshold: 3})
	defer b.Close()
	backend := b.Backends()[0]

	b.RecordFailure(backend)
	b.RecordFailure(backend)
	b.RecordSuccess(backend)
	b.RecordFailure(backend)
	b.RecordFailure(backend)

	if !backend.Healthy() {
		t.Fatalf("backend unhealthy after only 2 failures post-reset (threshold 3)")
	}
}

func TestBalancer_EmptyBackendListReturnsErrNoHealthy(t *testing.T) {
	t.Parallel()
	b := New(nil, Config{})
	defer b.Close()

	_, err := b.Next()
	if !errors.Is(err, gwerrors.ErrNoHealthy) {
		t.Fatalf("Next on empty balancer = %v, want ErrNoHealthy", err)
	}
}
