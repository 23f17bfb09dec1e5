// Package messaging carries match events (mutual matches, unmatches) from the
// engine to their consumers. It provides an in-memory bus for a single
// instance and a Redis Pub/Sub bus that fans events out across instances.
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dentameet/matching-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrEventBusClosed is returned when operations are attempted on a closed bus.
	ErrEventBusClosed = errors.New("event bus is closed")

	// ErrNilEvent is returned when publishing a nil event.
	ErrNilEvent = errors.New("event cannot be nil")

	// ErrNilHandler is returned when subscribing a nil handler.
	ErrNilHandler = errors.New("handler cannot be nil")

	// ErrHandlerPanic is returned when a handler panics.
	ErrHandlerPanic = errors.New("handler panicked")
)

// ══════════════════════════════════════════════════════════════════════════════
// IN-MEMORY EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

// InMemoryEventBus delivers events to handlers registered in this process.
// In async mode handlers run on a bounded worker pool and Publish returns
// immediately; in sync mode Publish runs every handler before returning.
type InMemoryEventBus struct {
	mu          sync.RWMutex
	handlers    map[shared.EventType][]shared.EventHandler
	allHandlers []shared.EventHandler
	async       bool
	workers     chan struct{}
	logger      *slog.Logger
	stats       busStats
	closed      bool
	closeCh     chan struct{}
	wg          sync.WaitGroup
}

// InMemoryEventBusConfig contains configuration for InMemoryEventBus.
type InMemoryEventBusConfig struct {
	// AsyncMode runs handlers on the worker pool.
	AsyncMode bool

	// WorkerPoolSize bounds concurrent async handlers.
	WorkerPoolSize int

	Logger *slog.Logger
}

// DefaultInMemoryEventBusConfig returns sensible defaults.
func DefaultInMemoryEventBusConfig() InMemoryEventBusConfig {
	return InMemoryEventBusConfig{
		AsyncMode:      true,
		WorkerPoolSize: 8,
	}
}

// NewInMemoryEventBus creates a new in-memory event bus.
func NewInMemoryEventBus(config InMemoryEventBusConfig) *InMemoryEventBus {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.WorkerPoolSize <= 0 {
		config.WorkerPoolSize = 8
	}

	return &InMemoryEventBus{
		handlers: make(map[shared.EventType][]shared.EventHandler),
		async:    config.AsyncMode,
		workers:  make(chan struct{}, config.WorkerPoolSize),
		logger:   config.Logger.With("component", "event_bus"),
		closeCh:  make(chan struct{}),
	}
}

// Subscribe registers a handler for a specific event type.
func (b *InMemoryEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	if handler == nil {
		return ErrNilHandler
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrEventBusClosed
	}

	b.handlers[eventType] = append(b.handlers[eventType], handler)
	b.logger.Debug("subscribed handler", "event_type", eventType)
	return nil
}

// SubscribeAll registers a handler for every event type.
func (b *InMemoryEventBus) SubscribeAll(handler shared.EventHandler) error {
	if handler == nil {
		return ErrNilHandler
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrEventBusClosed
	}

	b.allHandlers = append(b.allHandlers, handler)
	return nil
}

// Publish delivers an event to its handlers. Handler failures are logged,
// never returned: the publisher is not responsible for consumers.
func (b *InMemoryEventBus) Publish(event shared.Event) error {
	if event == nil {
		return ErrNilEvent
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrEventBusClosed
	}
	handlers := make([]shared.EventHandler, 0, len(b.handlers[event.EventType()])+len(b.allHandlers))
	handlers = append(handlers, b.handlers[event.EventType()]...)
	handlers = append(handlers, b.allHandlers...)
	b.mu.RUnlock()

	b.stats.published.Add(1)
	if len(handlers) == 0 {
		b.logger.Debug("no handlers for event", "event_type", event.EventType())
		return nil
	}

	for _, handler := range handlers {
		if b.async {
			b.runAsync(event, handler)
			continue
		}
		b.run(event, handler)
	}
	return nil
}

func (b *InMemoryEventBus) runAsync(event shared.Event, handler shared.EventHandler) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()

		select {
		case b.workers <- struct{}{}:
			defer func() { <-b.workers }()
		case <-b.closeCh:
			b.stats.dropped.Add(1)
			return
		}
		b.run(event, handler)
	}()
}

func (b *InMemoryEventBus) run(event shared.Event, handler shared.EventHandler) {
	start := time.Now()
	err := safeCall(handler, event)
	if err != nil {
		b.stats.failed.Add(1)
		b.logger.Error("event handler failed",
			"event_type", event.EventType(),
			"aggregate_id", event.AggregateID(),
			"duration", time.Since(start),
			"error", err,
		)
		return
	}
	b.stats.handled.Add(1)
}

// Close stops accepting events and waits for in-flight handlers.
func (b *InMemoryEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.closeCh)
	b.mu.Unlock()

	b.wg.Wait()
	b.logger.Info("event bus closed", "stats", b.Stats())
	return nil
}

// Stats returns delivery counters.
func (b *InMemoryEventBus) Stats() BusStats {
	return b.stats.snapshot()
}

// safeCall runs a handler, converting a panic into ErrHandlerPanic.
func safeCall(handler shared.EventHandler, event shared.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return handler(event)
}

// ══════════════════════════════════════════════════════════════════════════════
// REDIS EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

// DefaultChannelName is the Redis channel shared by all engine instances.
const DefaultChannelName = "matching:events"

// RedisClient is the Pub/Sub transport used by RedisEventBus.
type RedisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channels ...string) (<-chan RedisMessage, error)
	Close() error
}

// RedisMessage represents a message received from Redis Pub/Sub.
type RedisMessage struct {
	Channel string
	Payload string
	Err     error
}

// RedisEventBus publishes events to a Redis channel and replays events from
// other instances on the local bus. Events from this instance are handled
// locally only once.
type RedisEventBus struct {
	client     RedisClient
	local      *InMemoryEventBus
	channel    string
	instanceID string
	timeout    time.Duration
	logger     *slog.Logger
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	mu         sync.RWMutex
	closed     bool
}

// RedisEventBusConfig contains configuration for RedisEventBus.
type RedisEventBusConfig struct {
	Client RedisClient

	// ChannelName defaults to DefaultChannelName.
	ChannelName string

	// InstanceID identifies this process; generated when empty.
	InstanceID string

	// PublishTimeout bounds a single Redis publish.
	PublishTimeout time.Duration

	Local InMemoryEventBusConfig

	Logger *slog.Logger
}

// NewRedisEventBus creates the bus and starts its subscription loop.
func NewRedisEventBus(config RedisEventBusConfig) (*RedisEventBus, error) {
	if config.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if config.ChannelName == "" {
		config.ChannelName = DefaultChannelName
	}
	if config.InstanceID == "" {
		config.InstanceID = "instance-" + uuid.NewString()
	}
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = 2 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Local.Logger == nil {
		config.Local.Logger = config.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	bus := &RedisEventBus{
		client:     config.Client,
		local:      NewInMemoryEventBus(config.Local),
		channel:    config.ChannelName,
		instanceID: config.InstanceID,
		timeout:    config.PublishTimeout,
		logger:     config.Logger.With("component", "redis_event_bus", "instance_id", config.InstanceID),
		ctx:        ctx,
		cancel:     cancel,
	}

	messages, err := bus.client.Subscribe(ctx, bus.channel)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe %s: %w", bus.channel, err)
	}

	bus.wg.Add(1)
	go func() {
		defer bus.wg.Done()
		bus.listen(messages)
	}()
	return bus, nil
}

// Subscribe registers a handler for a specific event type.
func (b *RedisEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	return b.local.Subscribe(eventType, handler)
}

// SubscribeAll registers a handler for every event type.
func (b *RedisEventBus) SubscribeAll(handler shared.EventHandler) error {
	return b.local.SubscribeAll(handler)
}

// Publish sends the event to Redis and to local handlers. A Redis failure
// is logged and local delivery still happens.
func (b *RedisEventBus) Publish(event shared.Event) error {
	if event == nil {
		return ErrNilEvent
	}

	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return ErrEventBusClosed
	}

	data, err := json.Marshal(newEnvelope(b.instanceID, event))
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(b.ctx, b.timeout)
	defer cancel()
	if err := b.client.Publish(ctx, b.channel, string(data)); err != nil {
		b.logger.Error("failed to publish to redis",
			"event_type", event.EventType(),
			"aggregate_id", event.AggregateID(),
			"error", err,
		)
	}

	return b.local.Publish(event)
}

func (b *RedisEventBus) listen(messages <-chan RedisMessage) {
	for {
		select {
		case <-b.ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			if msg.Err != nil {
				b.logger.Error("redis subscription error", "error", msg.Err)
				continue
			}
			b.handleRemote(msg.Payload)
		}
	}
}

func (b *RedisEventBus) handleRemote(payload string) {
	event, origin, err := decodeEnvelope(payload)
	if err != nil {
		b.logger.Error("failed to decode event", "error", err)
		return
	}
	if origin == b.instanceID {
		return
	}
	if err := b.local.Publish(event); err != nil {
		b.logger.Error("failed to handle remote event", "event_type", event.EventType(), "error", err)
	}
}

// Close stops the subscription loop and the local bus.
func (b *RedisEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()

	if err := b.client.Close(); err != nil {
		b.logger.Warn("failed to close redis pubsub", "error", err)
	}
	return b.local.Close()
}

// Stats returns local delivery counters.
func (b *RedisEventBus) Stats() BusStats {
	return b.local.Stats()
}

// ══════════════════════════════════════════════════════════════════════════════
// WIRE FORMAT
// ══════════════════════════════════════════════════════════════════════════════

type envelope struct {
	ID          string                 `json:"id"`
	InstanceID  string                 `json:"instance_id"`
	Type        shared.EventType       `json:"type"`
	AggregateID string                 `json:"aggregate_id"`
	OccurredAt  time.Time              `json:"occurred_at"`
	Payload     map[string]interface{} `json:"payload"`
}

func newEnvelope(instanceID string, event shared.Event) envelope {
	return envelope{
		ID:          event.EventID(),
		InstanceID:  instanceID,
		Type:        event.EventType(),
		AggregateID: event.AggregateID(),
		OccurredAt:  event.OccurredAt(),
		Payload:     event.Payload(),
	}
}

func decodeEnvelope(payload string) (shared.Event, string, error) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return nil, "", err
	}
	if env.Type == "" {
		return nil, "", errors.New("envelope without event type")
	}
	return &remoteEvent{env: env}, env.InstanceID, nil
}

// remoteEvent is an event received from another instance.
type remoteEvent struct {
	env envelope
}

// IsRemote reports whether the event was published by another instance.
func IsRemote(event shared.Event) bool {
	_, ok := event.(*remoteEvent)
	return ok
}

func (e *remoteEvent) EventID() string                 { return e.env.ID }
func (e *remoteEvent) EventType() shared.EventType     { return e.env.Type }
func (e *remoteEvent) AggregateID() string             { return e.env.AggregateID }
func (e *remoteEvent) OccurredAt() time.Time           { return e.env.OccurredAt }
func (e *remoteEvent) Payload() map[string]interface{} { return e.env.Payload }

// ══════════════════════════════════════════════════════════════════════════════
// STATS
// ══════════════════════════════════════════════════════════════════════════════

// BusStats is a point-in-time snapshot of bus counters.
type BusStats struct {
	Published int64 `json:"published"`
	Handled   int64 `json:"handled"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
}

type busStats struct {
	published atomic.Int64
	handled   atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

func (s *busStats) snapshot() BusStats {
	return BusStats{
		Published: s.published.Load(),
		Handled:   s.handled.Load(),
		Failed:    s.failed.Load(),
		Dropped:   s.dropped.Load(),
	}
}
