package shared

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMutualMatchEvent(t *testing.T) {
	e := NewMutualMatchEvent("alice:bob", "rec-1", "alice", "bob")

	assert.Equal(t, EventMutualMatch, e.EventType())
	assert.Equal(t, "alice:bob", e.AggregateID())
	assert.NotEmpty(t, e.EventID())
	assert.False(t, e.OccurredAt().IsZero())
	assert.Equal(t, map[string]interface{}{
		"user_a":    "alice",
		"user_b":    "bob",
		"record_id": "rec-1",
	}, e.Payload())

	other := NewMutualMatchEvent("alice:bob", "rec-1", "alice", "bob")
	assert.NotEqual(t, e.EventID(), other.EventID())
}

func TestUnmatchedEvent_CarriesCorrelationID(t *testing.T) {
	e := NewUnmatchedEvent("alice:bob", "alice", "bob", true, "req-7")

	assert.Equal(t, EventUnmatched, e.EventType())
	assert.Equal(t, "req-7", e.CorrelationID)
	assert.Equal(t, true, e.Payload()["was_mutual"])

	var _ Event = e
}
