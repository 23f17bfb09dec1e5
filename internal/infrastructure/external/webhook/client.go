// Package webhook delivers match events to an external HTTP receiver.
// The receiver is expected to answer 2xx; 429 and 5xx are retried by the
// dispatcher, other 4xx responses are permanent failures.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/dentameet/matching-engine/internal/domain/shared"
	"github.com/dentameet/matching-engine/pkg/circuitbreaker"
	"github.com/dentameet/matching-engine/pkg/logger"
	"github.com/dentameet/matching-engine/pkg/retry"
)

const (
	// SignatureHeader carries hex(HMAC-SHA256(secret, body)).
	SignatureHeader = "X-Matching-Signature"

	// EventHeader carries the event type.
	EventHeader = "X-Matching-Event"

	// DeliveryHeader carries the event ID. It repeats on redelivery.
	DeliveryHeader = "X-Matching-Delivery"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains configuration for the webhook client.
type ClientConfig struct {
	// URL is the receiver endpoint.
	URL string

	// Secret signs request bodies. Empty disables signing.
	Secret string

	// Timeout is the HTTP request timeout.
	Timeout time.Duration

	RateLimiterConfig RateLimiterConfig

	// BreakerOptions override circuitbreaker.WebhookBreaker defaults.
	BreakerOptions []circuitbreaker.Option

	Logger *logger.Logger
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(url string) ClientConfig {
	return ClientConfig{
		URL:               url,
		Timeout:           5 * time.Second,
		RateLimiterConfig: DefaultRateLimiterConfig(),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client posts events to the receiver. It implements messaging.Sink.
type Client struct {
	config         ClientConfig
	httpClient     *http.Client
	log            *logger.Logger
	rateLimiter    *RateLimiter
	circuitBreaker *circuitbreaker.CircuitBreaker
}

// NewClient creates a new webhook client.
func NewClient(config ClientConfig) *Client {
	if config.Logger == nil {
		config.Logger = logger.Nop()
	}
	log := config.Logger.With(logger.Component("webhook"))

	onStateChange := func(name string, from, to circuitbreaker.State) {
		log.Warn("circuit state changed", logger.String("from", from.String()), logger.String("to", to.String()))
	}
	// A rejected event means the receiver is up.
	opts := append([]circuitbreaker.Option{
		circuitbreaker.WithIsFailure(func(err error) bool { return !retry.IsPermanent(err) }),
	}, config.BreakerOptions...)

	return &Client{
		config:         config,
		httpClient:     &http.Client{Timeout: config.Timeout},
		log:            log,
		rateLimiter:    NewRateLimiter(config.RateLimiterConfig),
		circuitBreaker: circuitbreaker.WebhookBreaker(onStateChange, opts...),
	}
}

// Name implements messaging.Sink.
func (c *Client) Name() string { return "webhook" }

// Body is the JSON document posted for every event.
type Body struct {
	ID          string                 `json:"id"`
	Type        string                 `json:"type"`
	AggregateID string                 `json:"aggregate_id"`
	OccurredAt  time.Time              `json:"occurred_at"`
	Payload     map[string]interface{} `json:"payload"`
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook: receiver answered %d: %s", e.StatusCode, e.Body)
}

// Deliver posts one event. Client errors other than 408 and 429 are wrapped
// with retry.Permanent.
func (c *Client) Deliver(ctx context.Context, event shared.Event) error {
	err := c.circuitBreaker.Execute(ctx, func(ctx context.Context) error {
		if err := c.rateLimiter.Allow(ctx); err != nil {
			return err
		}
		return c.post(ctx, event)
	})
	if err == nil || retry.IsPermanent(err) {
		return err
	}

	c.log.Warn("webhook delivery failed",
		logger.String("event_type", string(event.EventType())),
		logger.PairKey(event.AggregateID()),
		logger.Err(err),
	)
	return err
}

func (c *Client) post(ctx context.Context, event shared.Event) error {
	data, err := json.Marshal(Body{
		ID:          event.EventID(),
		Type:        string(event.EventType()),
		AggregateID: event.AggregateID(),
		OccurredAt:  event.OccurredAt(),
		Payload:     event.Payload(),
	})
	if err != nil {
		return retry.Permanent(fmt.Errorf("marshal body: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.URL, bytes.NewReader(data))
	if err != nil {
		return retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventHeader, string(event.EventType()))
	req.Header.Set(DeliveryHeader, event.EventID())
	if c.config.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(c.config.Secret, data))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	statusErr := &StatusError{StatusCode: resp.StatusCode, Body: string(snippet)}
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if seconds, err := strconv.Atoi(ra); err == nil {
			statusErr.RetryAfter = time.Duration(seconds) * time.Second
		}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		c.rateLimiter.Pause()
	case isPermanentStatus(resp.StatusCode):
		return retry.Permanent(statusErr)
	}
	return statusErr
}

// CircuitState exposes the breaker state for readiness reporting.
func (c *Client) CircuitState() circuitbreaker.State {
	return c.circuitBreaker.State()
}

// CircuitOpen reports whether deliveries are currently short-circuited.
func (c *Client) CircuitOpen() bool {
	return c.circuitBreaker.IsOpen()
}

// Sign returns the hex HMAC-SHA256 of body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func isPermanentStatus(code int) bool {
	return code >= 400 && code < 500 &&
		code != http.StatusRequestTimeout &&
		code != http.StatusTooManyRequests
}
