// Package throttle implements the four rate-limiting algorithms of
// spec §4.B behind one interface, each a single atomic script run
// against a kv.Store so admission decisions are linearizable whether
// the store is in-process or shared across a fleet (spec §5).
package throttle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gateway-service/internal/gwerrors"
	"gateway-service/internal/kv"
)

// Algorithm selects one of the four admission formulas.
type Algorithm string

const (
	FixedWindow   Algorithm = "fixed_window"
	SlidingWindow Algorithm = "sliding_window"
	TokenBucket   Algorithm = "token_bucket"
	LeakyBucket   Algorithm = "leaky_bucket"
)

// ErrUnknownAlgorithm is a ConfigInvalid-class error: an unrecognized
// algorithm name in config should fail startup, not be silently ignored.
var ErrUnknownAlgorithm = errors.New("throttle: unknown algorithm")

// Params configures one acquire call. Quota and Duration give the
// admission rate (quota per duration seconds); BucketSize applies only
// to LeakyBucket.
type Params struct {
	Quota      int
	Duration   time.Duration
	BucketSize int
}

func scriptFor(algo Algorithm) (*kv.Script, error) {
	switch algo {
	case FixedWindow:
		return fixedWindowScript, nil
	case SlidingWindow:
		return slidingWindowScript, nil
	case TokenBucket:
		return tokenBucketScript, nil
	case LeakyBucket:
		return leakyBucketScript, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, algo)
	}
}

// Throttler is the public entry point for all four algorithms (spec
// §4.B "Public operation: acquire").
type Throttler struct {
	store kv.Store
}

func New(store kv.Store) *Throttler {
	return &Throttler{store: store}
}

// Acquire returns -1 when one unit was admitted (the state change has
// already been committed), or w > 0 meaning "reject for w seconds"
// (state is not advanced, except leaky bucket which may still enqueue).
// Returns gwerrors.ErrBucketFull when a leaky bucket queue is saturated.
func (t *Throttler) Acquire(ctx context.Context, key string, algo Algorithm, p Params) (float64, error) {
	script, err := scriptFor(algo)
	if err != nil {
		return 0, err
	}

	durationSeconds := int64(p.Duration / time.Second)
	if durationSeconds <= 0 {
		durationSeconds = 1
	}

	var args []string
	if algo == LeakyBucket {
		args = quotaArgs(p.Quota, durationSeconds, fmt.Sprintf("%d", p.BucketSize))
	} else {
		args = quotaArgs(p.Quota, durationSeconds)
	}

	result, err := t.store.Atomic(ctx, script, key, args...)
	if err != nil {
		return 0, fmt.Errorf("throttle: acquire %q: %w", key, err)
	}

	if result.Full {
		return 0, gwerrors.ErrBucketFull
	}
	if result.Wait <= 0 {
		return -1, nil
	}
	return result.Wait, nil
}
