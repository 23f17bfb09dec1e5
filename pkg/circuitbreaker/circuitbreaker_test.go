package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDown = errors.New("receiver down")

func fail(context.Context) error { return errDown }
func ok(context.Context) error   { return nil }

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestCircuitBreaker_OpensAndRecovers(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	var transitions []string
	cb := New("test",
		WithFailureThreshold(2),
		WithSuccessThreshold(1),
		WithCooldown(time.Minute),
		WithClock(clock.Now),
		WithOnStateChange(func(_ string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		}),
	)
	ctx := context.Background()

	assert.ErrorIs(t, cb.Execute(ctx, fail), errDown)
	assert.Equal(t, StateClosed, cb.State())
	assert.ErrorIs(t, cb.Execute(ctx, fail), errDown)
	assert.True(t, cb.IsOpen())
	assert.ErrorIs(t, cb.Execute(ctx, ok), ErrCircuitOpen)

	clock.Advance(time.Minute)
	assert.Equal(t, StateHalfOpen, cb.State())
	assert.False(t, cb.IsOpen())

	require.NoError(t, cb.Execute(ctx, ok))
	assert.Equal(t, StateClosed, cb.State())

	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	cb := New("test", WithFailureThreshold(1), WithCooldown(time.Second), WithClock(clock.Now))
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	clock.Advance(time.Second)

	assert.ErrorIs(t, cb.Execute(ctx, fail), errDown)
	assert.True(t, cb.IsOpen())
}

func TestCircuitBreaker_LimitsProbes(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	cb := New("test", WithFailureThreshold(1), WithCooldown(time.Second), WithClock(clock.Now))
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	clock.Advance(time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error)
	go func() {
		done <- cb.Execute(ctx, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	assert.ErrorIs(t, cb.Execute(ctx, ok), ErrTooManyRequests)
	close(release)
	require.NoError(t, <-done)
}

func TestCircuitBreaker_StaleResultsIgnored(t *testing.T) {
	cb := New("test", WithFailureThreshold(1))
	ctx := context.Background()

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error)
	go func() {
		done <- cb.Execute(ctx, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	_ = cb.Execute(ctx, fail)
	require.True(t, cb.IsOpen())

	close(release)
	require.NoError(t, <-done)
	assert.True(t, cb.IsOpen())
}

func TestCircuitBreaker_IsFailureFiltersErrors(t *testing.T) {
	errRejected := errors.New("rejected")
	cb := New("test",
		WithFailureThreshold(1),
		WithIsFailure(func(err error) bool { return !errors.Is(err, errRejected) }),
	)

	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), func(context.Context) error { return errRejected })
	}
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 3, cb.Counts().ConsecutiveSuccesses)
}

func TestWebhookBreaker_OptionsOverrideDefaults(t *testing.T) {
	cb := WebhookBreaker(nil, WithFailureThreshold(1))
	assert.Equal(t, "webhook", cb.Name())

	_ = cb.Execute(context.Background(), fail)
	assert.True(t, cb.IsOpen())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
}
