package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func TestDo_SucceedsWithoutRetry(t *testing.T) {
	t.Parallel()
	calls := 0
	err := Do(context.Background(), 3, Constant(0), nil, func(ctx context.Context, attempt int) error {
		calls++
		return nil
	})
	if err != nil || calls != 1 {
		t.Fatalf("Do = calls=%d err=%v, want 1 nil", calls, err)
	}
}

func TestDo_RetriesUpToMaxAttempts(t *testing.T) {
	t.Parallel()
	calls := 0
	err := Do(context.Background(), 3, Constant(0), func(error) bool { return true }, func(ctx context.Context, attempt int) error {
		calls++
		return errBoom
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("Do err = %v, want errBoom", err)
	}
	if calls != 3 {
		t.Fatalf("Do calls = %d, want 3", calls)
	}
}

func TestDo_StopsOnNonRetryableError(t *testing.T) {
	t.Parallel()
	calls := 0
	err := Do(context.Background(), 5, Constant(0), func(error) bool { return false }, func(ctx context.Context, attempt int) error {
		calls++
		return errBoom
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("Do err = %v, want errBoom", err)
	}
	if calls != 1 {
		t.Fatalf("Do calls = %d, want 1 (non-retryable stops immediately)", calls)
	}
}

func TestDo_SucceedsAfterTransientFailure(t *testing.T) {
	t.Parallel()
	calls := 0
	err := Do(context.Background(), 3, Constant(0), func(error) bool { return true }, func(ctx context.Context, attempt int) error {
		calls++
		if calls < 2 {
			return errBoom
		}
		return nil
	})
	if err != nil || calls != 2 {
		t.Fatalf("Do = calls=%d err=%v, want 2 nil", calls, err)
	}
}

func TestDo_RespectsContextCancellation(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, 3, Constant(time.Hour), func(error) bool { return true }, func(ctx context.Context, attempt int) error {
		return errBoom
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Do err = %v, want context.Canceled", err)
	}
}

func TestSequence_ReusesLastValue(t *testing.T) {
	t.Parallel()
	seq := Sequence{time.Second, 2 * time.Second}
	if got := seq.At(1); got != time.Second {
		t.Fatalf("At(1) = %v, want 1s", got)
	}
	if got := seq.At(2); got != 2*time.Second {
		t.Fatalf("At(2) = %v, want 2s", got)
	}
	if got := seq.At(5); got != 2*time.Second {
		t.Fatalf("At(5) = %v, want 2s (last value reused)", got)
	}
}

func TestExpo_Doubles(t *testing.T) {
	t.Parallel()
	w := Expo(100 * time.Millisecond)
	if got := w.At(1); got != 100*time.Millisecond {
		t.Fatalf("At(1) = %v, want 100ms", got)
	}
	if got := w.At(2); got != 200*time.Millisecond {
		t.Fatalf("At(2) = %v, want 200ms", got)
	}
	if got := w.At(3); got != 400*time.Millisecond {
		t.Fatalf("At(3) = %v, want 400ms", got)
	}
}
