// Package breaker implements the per-key circuit breaker state machine
// of spec §4.E/§3, backed by kv.Store so the breaker's state (and its
// "at most one probe" rule in HALF_OPEN) is shared across every gateway
// instance guarding the same backend, not just one process (unlike the
// teacher's original in-process middlewares.CircuitBreaker, which this
// package supersedes).
package breaker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"gateway-service/internal/gwerrors"
	"gateway-service/internal/kv"
)

const (
	StateClosed   = "CLOSED"
	StateOpen     = "OPEN"
	StateHalfOpen = "HALF_OPEN"
)

// Config mirrors spec §3 CircuitState thresholds.
type Config struct {
	FailureThreshold  int
	RecoveryTimeout   time.Duration
}

// Breaker is the public entry point (spec §4.E).
type Breaker struct {
	store    kv.Store
	keyspace string
}

func New(store kv.Store, keyspace string) *Breaker {
	return &Breaker{store: store, keyspace: keyspace}
}

// Allow reports whether a request for key may proceed, and the state
// it observed (useful for the pipeline's telemetry event). Returns
// gwerrors.ErrCircuitOpen when the breaker short-circuits.
func (b *Breaker) Allow(ctx context.Context, key string, cfg Config) (state string, err error) {
	fullKey := kv.KeyspacedKey(b.keyspace, "cb", key)
	result, err := b.store.Atomic(ctx, breakerScript, fullKey, "allow",
		strconv.Itoa(cfg.FailureThreshold), strconv.FormatInt(int64(cfg.RecoveryTimeout/time.Second), 10))
	if err != nil {
		return "", fmt.Errorf("breaker: allow %q: %w", key, err)
	}
	if !result.Admitted {
		return result.State, gwerrors.ErrCircuitOpen
	}
	return result.State, nil
}

// RecordSuccess resets the failure counter (CLOSED) or closes the
// breaker after a successful probe (HALF_OPEN).
func (b *Breaker) RecordSuccess(ctx context.Context, key string, cfg Config) error {
	fullKey := kv.KeyspacedKey(b.keyspace, "cb", key)
	_, err := b.store.Atomic(ctx, breakerScript, fullKey, "success",
		strconv.Itoa(cfg.FailureThreshold), strconv.FormatInt(int64(cfg.RecoveryTimeout/time.Second), 10))
	if err != nil {
		return fmt.Errorf("breaker: record success %q: %w", key, err)
	}
	return nil
}

// RecordFailure increments the failure counter, tripping the breaker
// open once it reaches FailureThreshold, or re-opens immediately on a
// failed HALF_OPEN probe.
func (b *Breaker) RecordFailure(ctx context.Context, key string, cfg Config) error {
	fullKey := kv.KeyspacedKey(b.keyspace, "cb", key)
	_, err := b.store.Atomic(ctx, breakerScript, fullKey, "failure",
		strconv.Itoa(cfg.FailureThreshold), strconv.FormatInt(int64(cfg.RecoveryTimeout/time.Second), 10))
	if err != nil {
		return fmt.Errorf("breaker: record failure %q: %w", key, err)
	}
	return nil
}

