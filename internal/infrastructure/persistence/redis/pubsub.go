package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/dentameet/matching-engine/internal/infrastructure/messaging"
)

// PubSubClient adapts go-redis Pub/Sub to messaging.RedisClient.
// It does not own the underlying client; Close only ends subscriptions.
type PubSubClient struct {
	client *redis.Client

	mu   sync.Mutex
	subs []*redis.PubSub
}

// NewPubSubClient creates an adapter over the cache's connection.
func NewPubSubClient(cache *Cache) *PubSubClient {
	return &PubSubClient{client: cache.Client()}
}

// Publish publishes a message to a channel.
func (p *PubSubClient) Publish(ctx context.Context, channel string, message interface{}) error {
	if channel == "" {
		return errors.New("pubsub: empty channel")
	}
	return p.client.Publish(ctx, channel, message).Err()
}

// Subscribe subscribes to channels and forwards messages until ctx is done
// or the subscription is closed.
func (p *PubSubClient) Subscribe(ctx context.Context, channels ...string) (<-chan messaging.RedisMessage, error) {
	ps := p.client.Subscribe(ctx, channels...)

	// Wait for the subscription confirmation so that errors surface here.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("%w: subscribe: %v", ErrCacheConnection, err)
	}

	p.mu.Lock()
	p.subs = append(p.subs, ps)
	p.mu.Unlock()

	out := make(chan messaging.RedisMessage, 64)
	go func() {
		defer close(out)
		in := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- messaging.RedisMessage{Channel: msg.Channel, Payload: msg.Payload}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close ends all subscriptions.
func (p *PubSubClient) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for _, ps := range p.subs {
		if err := ps.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.subs = nil
	return firstErr
}
