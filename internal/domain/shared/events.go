// Package shared holds the identifiers, error kinds and events used by
// every matching engine package.
package shared

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of domain event.
type EventType string

const (
	EventMutualMatch EventType = "matching.mutual_match"
	EventUnmatched   EventType = "matching.unmatched"
)

// Event is a fact about a pair that other components react to.
type Event interface {
	// EventID is unique per event and stable across redeliveries.
	EventID() string

	EventType() EventType
	OccurredAt() time.Time

	// AggregateID is the pair key of the interaction record.
	AggregateID() string

	// Payload is the event-specific data in its wire form.
	Payload() map[string]interface{}
}

// Header carries the fields every matching event shares.
type Header struct {
	ID            string    `json:"id"`
	Type          EventType `json:"type"`
	PairKey       string    `json:"pair_key"`
	At            time.Time `json:"occurred_at"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

func newHeader(eventType EventType, pairKey string) Header {
	return Header{
		ID:      uuid.NewString(),
		Type:    eventType,
		PairKey: pairKey,
		At:      time.Now().UTC(),
	}
}

func (h Header) EventID() string       { return h.ID }
func (h Header) EventType() EventType  { return h.Type }
func (h Header) OccurredAt() time.Time { return h.At }
func (h Header) AggregateID() string   { return h.PairKey }

// ═══════════════════════════════════════════════════════════════════════════
// Matching Events
// ═══════════════════════════════════════════════════════════════════════════

// MutualMatchEvent is emitted when a pair transitions to mutual.
// The aggregate is the pair key.
type MutualMatchEvent struct {
	Header
	UserA    string `json:"user_a"`
	UserB    string `json:"user_b"`
	RecordID string `json:"record_id"`
}

// Payload implements Event interface.
func (e MutualMatchEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_a":    e.UserA,
		"user_b":    e.UserB,
		"record_id": e.RecordID,
	}
}

// NewMutualMatchEvent creates a new MutualMatchEvent.
func NewMutualMatchEvent(pairKey, recordID, userA, userB string) MutualMatchEvent {
	return MutualMatchEvent{
		Header:   newHeader(EventMutualMatch, pairKey),
		UserA:    userA,
		UserB:    userB,
		RecordID: recordID,
	}
}

// UnmatchedEvent is emitted when a participant removes the pair record.
type UnmatchedEvent struct {
	Header
	UserID        string `json:"user_id"`
	CounterpartID string `json:"counterpart_id"`
	WasMutual     bool   `json:"was_mutual"`
}

// Payload implements Event interface.
func (e UnmatchedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":        e.UserID,
		"counterpart_id": e.CounterpartID,
		"was_mutual":     e.WasMutual,
	}
}

// NewUnmatchedEvent creates a new UnmatchedEvent. correlationID may be empty.
func NewUnmatchedEvent(pairKey, userID, counterpartID string, wasMutual bool, correlationID string) UnmatchedEvent {
	h := newHeader(EventUnmatched, pairKey)
	h.CorrelationID = correlationID
	return UnmatchedEvent{
		Header:        h,
		UserID:        userID,
		CounterpartID: counterpartID,
		WasMutual:     wasMutual,
	}
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
