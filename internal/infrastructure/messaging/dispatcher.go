package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dentameet/matching-engine/internal/domain/shared"
	"github.com/dentameet/matching-engine/pkg/logger"
	"github.com/dentameet/matching-engine/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// DISPATCHER
// ══════════════════════════════════════════════════════════════════════════════

// Sink consumes match events: an outbound webhook, an audit log.
// Returning retry.Permanent(err) stops further attempts for that event.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, event shared.Event) error
}

// Dispatcher routes events from the bus to sinks. Each delivery gets its
// own timeout and is retried with exponential backoff; events that still
// fail land in the dead letter queue.
type Dispatcher struct {
	mu        sync.RWMutex
	routes    map[shared.EventType][]Sink
	policy    RetryPolicy
	localOnly bool
	dlq       *DeadLetterQueue
	metrics   *DispatcherMetrics
	logger    *slog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
}

// RetryPolicy configures delivery attempts per sink.
type RetryPolicy struct {
	// MaxAttempts includes the first attempt.
	MaxAttempts int

	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// Timeout bounds a single attempt.
	Timeout time.Duration
}

// DefaultRetryPolicy returns sensible delivery defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    4,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Timeout:        10 * time.Second,
	}
}

// DispatcherConfig contains configuration for the Dispatcher.
type DispatcherConfig struct {
	Retry RetryPolicy

	// DeadLetterQueueSize caps the DLQ; oldest entries are evicted.
	DeadLetterQueueSize int

	// LocalOnly ignores events replayed from other instances, so that each
	// event reaches the sinks once across the fleet.
	LocalOnly bool

	Logger *slog.Logger
}

// NewDispatcher creates a new event dispatcher.
func NewDispatcher(config DispatcherConfig) *Dispatcher {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	defaults := DefaultRetryPolicy()
	if config.Retry.MaxAttempts <= 0 {
		config.Retry.MaxAttempts = defaults.MaxAttempts
	}
	if config.Retry.InitialBackoff <= 0 {
		config.Retry.InitialBackoff = defaults.InitialBackoff
	}
	if config.Retry.MaxBackoff <= 0 {
		config.Retry.MaxBackoff = defaults.MaxBackoff
	}
	if config.Retry.Timeout <= 0 {
		config.Retry.Timeout = defaults.Timeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		routes:    make(map[shared.EventType][]Sink),
		policy:    config.Retry,
		localOnly: config.LocalOnly,
		dlq:       NewDeadLetterQueue(config.DeadLetterQueueSize),
		metrics:   NewDispatcherMetrics(),
		logger:    config.Logger.With("component", "dispatcher"),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Route sends events of the given types to sink.
func (d *Dispatcher) Route(sink Sink, eventTypes ...shared.EventType) error {
	if sink == nil {
		return errors.New("sink cannot be nil")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, t := range eventTypes {
		d.routes[t] = append(d.routes[t], sink)
		d.logger.Debug("routed sink", "event_type", t, "sink", sink.Name())
	}
	return nil
}

// Start subscribes the dispatcher to every routed event type on the bus.
func (d *Dispatcher) Start(bus shared.EventSubscriber) error {
	d.mu.RLock()
	types := make([]shared.EventType, 0, len(d.routes))
	for t := range d.routes {
		types = append(types, t)
	}
	d.mu.RUnlock()

	for _, t := range types {
		if err := bus.Subscribe(t, d.Dispatch); err != nil {
			return fmt.Errorf("subscribe %s: %w", t, err)
		}
	}
	return nil
}

// Dispatch delivers an event to every sink routed for its type.
// It returns the joined errors of sinks that exhausted their attempts.
func (d *Dispatcher) Dispatch(event shared.Event) error {
	if d.localOnly && IsRemote(event) {
		return nil
	}

	d.mu.RLock()
	sinks := d.routes[event.EventType()]
	d.mu.RUnlock()

	if len(sinks) == 0 {
		return nil
	}
	d.metrics.recordDispatch()

	var errs []error
	for _, sink := range sinks {
		if err := d.deliver(event, sink); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) deliver(event shared.Event, sink Sink) error {
	attempts := 0
	start := time.Now()

	r := retry.New(
		retry.WithMaxAttempts(d.policy.MaxAttempts),
		retry.WithInitialDelay(d.policy.InitialBackoff),
		retry.WithMaxDelay(d.policy.MaxBackoff),
		retry.WithRetryIf(func(err error) bool {
			return !errors.Is(err, context.Canceled)
		}),
		retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			d.logger.Warn("delivery attempt failed",
				"sink", sink.Name(),
				"event_type", event.EventType(),
				"aggregate_id", event.AggregateID(),
				"attempt", attempt,
				"backoff", delay,
				"error", err,
			)
		}),
	)

	err := r.Do(d.ctx, func(ctx context.Context) error {
		attempts++
		ctx, cancel := context.WithTimeout(ctx, d.policy.Timeout)
		defer cancel()
		return deliverSafely(ctx, sink, event)
	})
	d.metrics.recordDelivery(time.Since(start), attempts, err == nil)

	if err == nil {
		return nil
	}

	d.dlq.Add(DeadLetterEntry{
		Event:    event,
		Sink:     sink.Name(),
		Error:    err.Error(),
		Attempts: attempts,
		FailedAt: time.Now().UTC(),
	})
	d.logger.Error("delivery failed",
		"sink", sink.Name(),
		"event_type", event.EventType(),
		"aggregate_id", event.AggregateID(),
		"attempts", attempts,
		"error", err,
	)
	return fmt.Errorf("sink %s failed after %d attempts: %w", sink.Name(), attempts, err)
}

func deliverSafely(ctx context.Context, sink Sink, event shared.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = retry.Permanent(fmt.Errorf("%w: %v", ErrHandlerPanic, r))
		}
	}()
	return sink.Deliver(ctx, event)
}

// Redeliver replays dead-lettered events once each. Entries that fail again
// are re-queued by the normal delivery path.
func (d *Dispatcher) Redeliver() (delivered int) {
	entries := d.dlq.Drain()
	for _, entry := range entries {
		sink := d.sinkByName(entry.Event.EventType(), entry.Sink)
		if sink == nil {
			continue
		}
		if err := d.deliver(entry.Event, sink); err == nil {
			delivered++
		}
	}
	return delivered
}

func (d *Dispatcher) sinkByName(t shared.EventType, name string) Sink {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, s := range d.routes[t] {
		if s.Name() == name {
			return s
		}
	}
	return nil
}

// Stop cancels in-flight retries.
func (d *Dispatcher) Stop() {
	d.cancel()
	d.logger.Info("dispatcher stopped", "metrics", d.metrics.Snapshot(), "dead_letters", d.dlq.Size())
}

// Metrics returns dispatcher metrics.
func (d *Dispatcher) Metrics() *DispatcherMetrics {
	return d.metrics
}

// DeadLetterQueue returns the dead letter queue.
func (d *Dispatcher) DeadLetterQueue() *DeadLetterQueue {
	return d.dlq
}

// ══════════════════════════════════════════════════════════════════════════════
// LOG SINK
// ══════════════════════════════════════════════════════════════════════════════

// LogSink writes match events to the structured log.
type LogSink struct {
	log *logger.Logger
}

// NewLogSink creates a sink that logs every event at Info.
func NewLogSink(log *logger.Logger) *LogSink {
	if log == nil {
		log = logger.Nop()
	}
	return &LogSink{log: log.With(logger.Component("match_events"))}
}

// Name implements Sink.
func (s *LogSink) Name() string { return "log" }

// Deliver implements Sink.
func (s *LogSink) Deliver(ctx context.Context, event shared.Event) error {
	s.log.Info(string(event.EventType()),
		logger.PairKey(event.AggregateID()),
		logger.Any("payload", event.Payload()),
		logger.String("occurred_at", event.OccurredAt().Format(time.RFC3339)),
	)
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// DEAD LETTER QUEUE
// ══════════════════════════════════════════════════════════════════════════════

// DeadLetterEntry is an event a sink could not accept.
type DeadLetterEntry struct {
	Event    shared.Event `json:"-"`
	Sink     string       `json:"sink"`
	Error    string       `json:"error"`
	Attempts int          `json:"attempts"`
	FailedAt time.Time    `json:"failed_at"`
}

// DeadLetterQueue is a bounded FIFO of failed deliveries.
type DeadLetterQueue struct {
	mu      sync.Mutex
	entries []DeadLetterEntry
	maxSize int
}

// NewDeadLetterQueue creates a new dead letter queue.
func NewDeadLetterQueue(maxSize int) *DeadLetterQueue {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &DeadLetterQueue{maxSize: maxSize}
}

// Add appends an entry, evicting the oldest at capacity.
func (q *DeadLetterQueue) Add(entry DeadLetterEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) >= q.maxSize {
		q.entries = q.entries[1:]
	}
	q.entries = append(q.entries, entry)
}

// Entries returns a copy of all entries.
func (q *DeadLetterQueue) Entries() []DeadLetterEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]DeadLetterEntry, len(q.entries))
	copy(out, q.entries)
	return out
}

// Drain removes and returns all entries.
func (q *DeadLetterQueue) Drain() []DeadLetterEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.entries
	q.entries = nil
	return out
}

// Size returns the current queue size.
func (q *DeadLetterQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// ══════════════════════════════════════════════════════════════════════════════
// METRICS
// ══════════════════════════════════════════════════════════════════════════════

// DispatcherMetrics tracks delivery outcomes.
type DispatcherMetrics struct {
	mu            sync.Mutex
	dispatched    int64
	deliveries    int64
	failures      int64
	retries       int64
	totalDuration time.Duration
}

// NewDispatcherMetrics creates new dispatcher metrics.
func NewDispatcherMetrics() *DispatcherMetrics {
	return &DispatcherMetrics{}
}

func (m *DispatcherMetrics) recordDispatch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dispatched++
}

func (m *DispatcherMetrics) recordDelivery(d time.Duration, attempts int, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.deliveries++
	m.totalDuration += d
	if attempts > 1 {
		m.retries += int64(attempts - 1)
	}
	if !ok {
		m.failures++
	}
}

// DispatcherMetricsSnapshot is a point-in-time snapshot.
type DispatcherMetricsSnapshot struct {
	Dispatched      int64         `json:"dispatched"`
	Deliveries      int64         `json:"deliveries"`
	Failures        int64         `json:"failures"`
	Retries         int64         `json:"retries"`
	SuccessRate     float64       `json:"success_rate"`
	AverageDuration time.Duration `json:"average_duration"`
}

// Snapshot returns a point-in-time snapshot.
func (m *DispatcherMetrics) Snapshot() DispatcherMetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := DispatcherMetricsSnapshot{
		Dispatched:  m.dispatched,
		Deliveries:  m.deliveries,
		Failures:    m.failures,
		Retries:     m.retries,
		SuccessRate: 1.0,
	}
	if m.deliveries > 0 {
		s.SuccessRate = float64(m.deliveries-m.failures) / float64(m.deliveries)
		s.AverageDuration = m.totalDuration / time.Duration(m.deliveries)
	}
	return s
}
