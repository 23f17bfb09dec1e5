package messaging

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dentameet/matching-engine/internal/domain/shared"
	"github.com/dentameet/matching-engine/pkg/retry"
)

func matchEvent() shared.Event {
	return shared.NewMutualMatchEvent("a:b", "rec-1", "a", "b")
}

// ─────────────────────────────────────────────────────────────────────────────
// In-memory bus
// ─────────────────────────────────────────────────────────────────────────────

func TestInMemoryEventBus_SyncDelivery(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: false})
	defer bus.Close()

	var typed, all int
	require.NoError(t, bus.Subscribe(shared.EventMutualMatch, func(e shared.Event) error {
		typed++
		assert.Equal(t, "a:b", e.AggregateID())
		return nil
	}))
	require.NoError(t, bus.SubscribeAll(func(e shared.Event) error {
		all++
		return nil
	}))

	require.NoError(t, bus.Publish(matchEvent()))
	require.NoError(t, bus.Publish(shared.NewUnmatchedEvent("a:b", "a", "b", true, "")))

	assert.Equal(t, 1, typed)
	assert.Equal(t, 2, all)
	assert.Equal(t, int64(2), bus.Stats().Published)
}

func TestInMemoryEventBus_HandlerErrorsAndPanicsAreContained(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: false})
	defer bus.Close()

	require.NoError(t, bus.Subscribe(shared.EventMutualMatch, func(shared.Event) error {
		return errors.New("boom")
	}))
	require.NoError(t, bus.Subscribe(shared.EventMutualMatch, func(shared.Event) error {
		panic("bad handler")
	}))

	assert.NoError(t, bus.Publish(matchEvent()))
	assert.Equal(t, int64(2), bus.Stats().Failed)
}

func TestInMemoryEventBus_AsyncCloseWaits(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: true, WorkerPoolSize: 2})

	var handled atomic.Int32
	require.NoError(t, bus.Subscribe(shared.EventMutualMatch, func(shared.Event) error {
		time.Sleep(5 * time.Millisecond)
		handled.Add(1)
		return nil
	}))

	for i := 0; i < 5; i++ {
		require.NoError(t, bus.Publish(matchEvent()))
	}
	require.NoError(t, bus.Close())

	stats := bus.Stats()
	assert.Equal(t, int64(5), stats.Handled+stats.Dropped)
	assert.ErrorIs(t, bus.Publish(matchEvent()), ErrEventBusClosed)
}

func TestInMemoryEventBus_Validation(t *testing.T) {
	bus := NewInMemoryEventBus(DefaultInMemoryEventBusConfig())
	defer bus.Close()

	assert.ErrorIs(t, bus.Subscribe(shared.EventMutualMatch, nil), ErrNilHandler)
	assert.ErrorIs(t, bus.Publish(nil), ErrNilEvent)
}

// ─────────────────────────────────────────────────────────────────────────────
// Redis bus over a fake transport
// ─────────────────────────────────────────────────────────────────────────────

// fakeHub fans published messages out to every subscriber, like one Redis
// channel shared by several instances.
type fakeHub struct {
	mu   sync.Mutex
	subs []chan RedisMessage
}

type fakeClient struct {
	hub       *fakeHub
	failPub   bool
	published atomic.Int32
}

func (c *fakeClient) Publish(ctx context.Context, channel string, message interface{}) error {
	c.published.Add(1)
	if c.failPub {
		return errors.New("redis down")
	}
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	for _, ch := range c.hub.subs {
		ch <- RedisMessage{Channel: channel, Payload: message.(string)}
	}
	return nil
}

func (c *fakeClient) Subscribe(ctx context.Context, channels ...string) (<-chan RedisMessage, error) {
	ch := make(chan RedisMessage, 16)
	c.hub.mu.Lock()
	c.hub.subs = append(c.hub.subs, ch)
	c.hub.mu.Unlock()
	return ch, nil
}

func (c *fakeClient) Close() error { return nil }

func TestRedisEventBus_CrossInstanceDelivery(t *testing.T) {
	hub := &fakeHub{}
	syncLocal := InMemoryEventBusConfig{AsyncMode: false}

	a, err := NewRedisEventBus(RedisEventBusConfig{Client: &fakeClient{hub: hub}, InstanceID: "a", Local: syncLocal})
	require.NoError(t, err)
	defer a.Close()
	b, err := NewRedisEventBus(RedisEventBusConfig{Client: &fakeClient{hub: hub}, InstanceID: "b", Local: syncLocal})
	require.NoError(t, err)
	defer b.Close()

	var onA, onB atomic.Int32
	received := make(chan shared.Event, 1)
	require.NoError(t, a.Subscribe(shared.EventMutualMatch, func(shared.Event) error { onA.Add(1); return nil }))
	require.NoError(t, b.Subscribe(shared.EventMutualMatch, func(e shared.Event) error {
		onB.Add(1)
		received <- e
		return nil
	}))

	require.NoError(t, a.Publish(matchEvent()))

	select {
	case e := <-received:
		assert.Equal(t, shared.EventMutualMatch, e.EventType())
		assert.Equal(t, "a:b", e.AggregateID())
		assert.Equal(t, "b", e.Payload()["user_b"])
	case <-time.After(time.Second):
		t.Fatal("event did not reach the second instance")
	}

	// The publishing instance handles its own event exactly once.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), onA.Load())
	assert.Equal(t, int32(1), onB.Load())
}

func TestRedisEventBus_FallsBackToLocalWhenRedisFails(t *testing.T) {
	client := &fakeClient{hub: &fakeHub{}, failPub: true}
	bus, err := NewRedisEventBus(RedisEventBusConfig{Client: client, Local: InMemoryEventBusConfig{AsyncMode: false}})
	require.NoError(t, err)
	defer bus.Close()

	var handled int
	require.NoError(t, bus.Subscribe(shared.EventMutualMatch, func(shared.Event) error { handled++; return nil }))

	assert.NoError(t, bus.Publish(matchEvent()))
	assert.Equal(t, 1, handled)
	assert.Equal(t, int32(1), client.published.Load())
}

func TestDecodeEnvelope_Rejects(t *testing.T) {
	_, _, err := decodeEnvelope("not json")
	assert.Error(t, err)

	_, _, err = decodeEnvelope(`{"instance_id":"x"}`)
	assert.Error(t, err)
}

// ─────────────────────────────────────────────────────────────────────────────
// Dispatcher
// ─────────────────────────────────────────────────────────────────────────────

type flakySink struct {
	name     string
	failures int
	err      error
	calls    atomic.Int32
}

func (s *flakySink) Name() string { return s.name }

func (s *flakySink) Deliver(ctx context.Context, event shared.Event) error {
	n := int(s.calls.Add(1))
	if n <= s.failures {
		return s.err
	}
	return nil
}

func fastDispatcher() *Dispatcher {
	return NewDispatcher(DispatcherConfig{Retry: RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		Timeout:        time.Second,
	}})
}

func TestDispatcher_RetriesUntilDelivered(t *testing.T) {
	d := fastDispatcher()
	defer d.Stop()

	sink := &flakySink{name: "webhook", failures: 2, err: errors.New("503")}
	require.NoError(t, d.Route(sink, shared.EventMutualMatch))

	assert.NoError(t, d.Dispatch(matchEvent()))
	assert.Equal(t, int32(3), sink.calls.Load())
	assert.Zero(t, d.DeadLetterQueue().Size())

	snap := d.Metrics().Snapshot()
	assert.Equal(t, int64(2), snap.Retries)
	assert.Equal(t, 1.0, snap.SuccessRate)
}

func TestDispatcher_DeadLettersAndRedelivers(t *testing.T) {
	d := fastDispatcher()
	defer d.Stop()

	sink := &flakySink{name: "webhook", failures: 3, err: errors.New("timeout")}
	require.NoError(t, d.Route(sink, shared.EventMutualMatch))

	assert.Error(t, d.Dispatch(matchEvent()))
	require.Equal(t, 1, d.DeadLetterQueue().Size())
	entry := d.DeadLetterQueue().Entries()[0]
	assert.Equal(t, "webhook", entry.Sink)
	assert.Equal(t, 3, entry.Attempts)

	assert.Equal(t, 1, d.Redeliver())
	assert.Zero(t, d.DeadLetterQueue().Size())
}

func TestDispatcher_PermanentErrorsAreNotRetried(t *testing.T) {
	d := fastDispatcher()
	defer d.Stop()

	sink := &flakySink{name: "webhook", failures: 10, err: retry.Permanent(errors.New("400 bad request"))}
	require.NoError(t, d.Route(sink, shared.EventMutualMatch))

	assert.Error(t, d.Dispatch(matchEvent()))
	assert.Equal(t, int32(1), sink.calls.Load())
	assert.Equal(t, 1, d.DeadLetterQueue().Size())
}

func TestDispatcher_StartSubscribesRoutedTypes(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: false})
	defer bus.Close()
	d := fastDispatcher()
	defer d.Stop()

	matches := &flakySink{name: "matches"}
	require.NoError(t, d.Route(matches, shared.EventMutualMatch))
	require.NoError(t, d.Route(NewLogSink(nil), shared.EventMutualMatch, shared.EventUnmatched))
	require.NoError(t, d.Start(bus))

	require.NoError(t, bus.Publish(matchEvent()))
	require.NoError(t, bus.Publish(shared.NewUnmatchedEvent("a:b", "a", "b", false, "")))

	assert.Equal(t, int32(1), matches.calls.Load())
	assert.Equal(t, int64(2), d.Metrics().Snapshot().Dispatched)
}

func TestDeadLetterQueue_EvictsOldest(t *testing.T) {
	q := NewDeadLetterQueue(2)
	q.Add(DeadLetterEntry{Sink: "1"})
	q.Add(DeadLetterEntry{Sink: "2"})
	q.Add(DeadLetterEntry{Sink: "3"})

	entries := q.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "2", entries[0].Sink)
	assert.Len(t, q.Drain(), 2)
	assert.Zero(t, q.Size())
}

func TestDispatcher_LocalOnlySkipsRemoteEvents(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{LocalOnly: true})
	defer d.Stop()

	sink := &flakySink{name: "webhook"}
	require.NoError(t, d.Route(sink, shared.EventMutualMatch))

	remote, _, err := decodeEnvelope(`{"instance_id":"other","type":"matching.mutual_match","aggregate_id":"a:b"}`)
	require.NoError(t, err)
	assert.True(t, IsRemote(remote))
	assert.False(t, IsRemote(matchEvent()))

	require.NoError(t, d.Dispatch(remote))
	require.NoError(t, d.Dispatch(matchEvent()))
	assert.Equal(t, int32(1), sink.calls.Load())
}
