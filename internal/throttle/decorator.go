package throttle

import (
	"context"
	"fmt"
	"time"

	"gateway-service/internal/gwerrors"
)

// KeyFunc derives the per-call throttle key suffix from the call's
// arguments, e.g. a user ID or request fingerprint.
type KeyFunc func(args ...any) string

// Decorated wraps an arbitrary function with throttling: every call
// computes a key, acquires one unit, and either proceeds, sleeps once
// and retries, or fails with QuotaExceeded (spec §4.B "Decorator
// usage").
type Decorated struct {
	throttler *Throttler
	module    string
	name      string
	algo      Algorithm
	params    Params
	keyFn     KeyFunc
	sleep     func(time.Duration)
}

// NewDecorated builds a decorator bound to one function identity
// ("module:name"). Call uses the key "{module}:{name}:{algo}", followed
// by ":" and keyFn(args...) when keyFn is set; no keyspace prefix is
// added.
func NewDecorated(t *Throttler, module, name string, algo Algorithm, params Params, keyFn KeyFunc) *Decorated {
	return &Decorated{
		throttler: t,
		module:    module,
		name:      name,
		algo:      algo,
		params:    params,
		keyFn:     keyFn,
		sleep:     time.Sleep,
	}
}

// Call invokes fn(args...) under the throttle, sleeping and retrying
// once on rejection, or returning gwerrors.ErrQuotaExceeded if the
// single retry is also rejected.
func (d *Decorated) Call(ctx context.Context, fn func(ctx context.Context, args ...any) (any, error), args ...any) (any, error) {
	key := fmt.Sprintf("%s:%s:%s", d.module, d.name, d.algo)
	if d.keyFn != nil {
		key = key + ":" + d.keyFn(args...)
	}

	wait, err := d.throttler.Acquire(ctx, key, d.algo, d.params)
	if err != nil {
		return nil, err
	}

	if wait > 0 {
		d.sleepCtx(ctx, time.Duration(wait*float64(time.Second)))

		wait2, err := d.throttler.Acquire(ctx, key, d.algo, d.params)
		if err != nil {
			return nil, err
		}
		if wait2 > 0 {
			return nil, gwerrors.ErrQuotaExceeded
		}
	}

	return fn(ctx, args...)
}

func (d *Decorated) sleepCtx(ctx context.Context, dur time.Duration) {
	timer := time.NewTimer(dur)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
