package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errFlaky = errors.New("flaky")

func fastRetrier(opts ...Option) *Retrier {
	base := []Option{WithInitialDelay(time.Millisecond), WithMaxDelay(time.Millisecond), WithJitter(0)}
	return New(append(base, opts...)...)
}

func TestDo_RetriesRetryableUntilSuccess(t *testing.T) {
	calls := 0
	err := fastRetrier(WithMaxAttempts(3)).Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return Retryable(errFlaky)
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsOnPermanent(t *testing.T) {
	calls := 0
	err := fastRetrier(WithMaxAttempts(5)).Do(context.Background(), func(ctx context.Context) error {
		calls++
		return Permanent(errFlaky)
	})

	assert.ErrorIs(t, err, errFlaky)
	assert.False(t, IsPermanent(err))
	assert.Equal(t, 1, calls)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := fastRetrier(WithMaxAttempts(2)).Do(context.Background(), func(ctx context.Context) error {
		calls++
		return Retryable(errFlaky)
	})

	assert.Equal(t, errFlaky, err)
	assert.Equal(t, 2, calls)
}

func TestDo_PlainErrorsAreNotRetried(t *testing.T) {
	calls := 0
	err := fastRetrier(WithMaxAttempts(3)).Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errFlaky
	})

	assert.Equal(t, errFlaky, err)
	assert.Equal(t, 1, calls)
}

func TestConflictRetrier_OnlyRetriesConflicts(t *testing.T) {
	errConflict := errors.New("conflict")
	isConflict := func(err error) bool { return errors.Is(err, errConflict) }

	calls := 0
	err := ConflictRetrier(4, isConflict).Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errConflict
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = ConflictRetrier(4, isConflict).Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errFlaky
	})
	assert.Equal(t, errFlaky, err)
	assert.Equal(t, 1, calls)
}

func TestBackoff_GrowsAndCaps(t *testing.T) {
	r := New(WithInitialDelay(100*time.Millisecond), WithMaxDelay(time.Second), WithJitter(0))

	assert.Equal(t, 100*time.Millisecond, r.Backoff(1))
	assert.Equal(t, 400*time.Millisecond, r.Backoff(3))
	assert.Equal(t, time.Second, r.Backoff(10))
}

func TestDo_OnRetryAndCancelDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var attempts []int
	r := New(
		WithMaxAttempts(5),
		WithInitialDelay(time.Hour),
		WithOnRetry(func(attempt int, err error, delay time.Duration) {
			attempts = append(attempts, attempt)
			cancel()
		}),
	)

	err := r.Do(ctx, func(ctx context.Context) error { return Retryable(errFlaky) })
	assert.Equal(t, errFlaky, err)
	assert.Equal(t, []int{1}, attempts)
}

func TestDo_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := fastRetrier().Do(ctx, func(ctx context.Context) error {
		t.Fatal("operation must not run")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}
