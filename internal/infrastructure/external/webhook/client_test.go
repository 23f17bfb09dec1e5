package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dentameet/matching-engine/internal/domain/shared"
	"github.com/dentameet/matching-engine/pkg/circuitbreaker"
	"github.com/dentameet/matching-engine/pkg/retry"
)

func testEvent() shared.Event {
	return shared.NewMutualMatchEvent("a:b", "rec-1", "a", "b")
}

func TestClient_DeliverSignsAndPosts(t *testing.T) {
	var got Body
	var signature, eventType, delivery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		signature = r.Header.Get(SignatureHeader)
		eventType = r.Header.Get(EventHeader)
		delivery = r.Header.Get(DeliveryHeader)
		assert.Equal(t, Sign("s3cret", data), signature)
		require.NoError(t, json.Unmarshal(data, &got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	cfg := DefaultClientConfig(srv.URL)
	cfg.Secret = "s3cret"
	client := NewClient(cfg)

	event := testEvent()
	require.NoError(t, client.Deliver(context.Background(), event))
	assert.Equal(t, string(shared.EventMutualMatch), eventType)
	assert.Equal(t, event.EventID(), delivery)
	assert.Equal(t, event.EventID(), got.ID)
	assert.Equal(t, "a:b", got.AggregateID)
	assert.Equal(t, "rec-1", got.Payload["record_id"])
	assert.NotEmpty(t, signature)
}

func TestClient_ClassifiesResponses(t *testing.T) {
	var status atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	client := NewClient(DefaultClientConfig(srv.URL))

	status.Store(http.StatusBadRequest)
	err := client.Deliver(context.Background(), testEvent())
	assert.True(t, retry.IsPermanent(err))

	status.Store(http.StatusServiceUnavailable)
	err = client.Deliver(context.Background(), testEvent())
	require.Error(t, err)
	assert.False(t, retry.IsPermanent(err))

	status.Store(http.StatusTooManyRequests)
	err = client.Deliver(context.Background(), testEvent())
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, 2*time.Second, statusErr.RetryAfter)
	assert.False(t, retry.IsPermanent(err))
}

func TestClient_CircuitOpensOnRepeatedFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cfg := DefaultClientConfig(srv.URL)
	cfg.BreakerOptions = []circuitbreaker.Option{circuitbreaker.WithFailureThreshold(2)}
	client := NewClient(cfg)

	for i := 0; i < 2; i++ {
		assert.Error(t, client.Deliver(context.Background(), testEvent()))
	}
	assert.Equal(t, circuitbreaker.StateOpen, client.CircuitState())
	assert.ErrorIs(t, client.Deliver(context.Background(), testEvent()), circuitbreaker.ErrCircuitOpen)
	assert.Equal(t, int32(2), hits.Load())
}

func TestClient_RejectedEventsDoNotOpenCircuit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	cfg := DefaultClientConfig(srv.URL)
	cfg.BreakerOptions = []circuitbreaker.Option{circuitbreaker.WithFailureThreshold(1)}
	client := NewClient(cfg)

	for i := 0; i < 3; i++ {
		assert.True(t, retry.IsPermanent(client.Deliver(context.Background(), testEvent())))
	}
	assert.Equal(t, circuitbreaker.StateClosed, client.CircuitState())
}

func TestRateLimiter_WaitTimeout(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{RequestsPerSecond: 0.001, BurstSize: 1, WaitTimeout: 10 * time.Millisecond})

	require.NoError(t, rl.Allow(context.Background()))
	assert.ErrorIs(t, rl.Allow(context.Background()), ErrRateLimitWaitTimeout)
}
