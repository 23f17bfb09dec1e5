package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dentameet/matching-engine/internal/domain/interaction"
	"github.com/dentameet/matching-engine/internal/domain/shared"
)

type recordingPublisher struct {
	events []shared.Event
	err    error
}

func (p *recordingPublisher) Publish(event shared.Event) error {
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func mutualRecord(t *testing.T) *interaction.Record {
	t.Helper()
	rec, err := interaction.NewRecord("rec-1", "bob", "alice", interaction.ActionLike, time.Now())
	require.NoError(t, err)
	_, err = rec.Apply("alice", interaction.ActionLike, time.Now())
	require.NoError(t, err)
	return rec
}

func TestEventMatchNotifier_PublishesMutualMatch(t *testing.T) {
	pub := &recordingPublisher{}
	n := NewEventMatchNotifier(pub, nil)

	require.NoError(t, n.NotifyMutualMatch(context.Background(), mutualRecord(t)))
	require.Len(t, pub.events, 1)

	e := pub.events[0]
	assert.Equal(t, shared.EventMutualMatch, e.EventType())
	assert.Equal(t, "alice:bob", e.AggregateID())
	assert.Equal(t, "rec-1", e.Payload()["record_id"])
}

func TestEventMatchNotifier_SkipsNonMutual(t *testing.T) {
	pub := &recordingPublisher{}
	n := NewEventMatchNotifier(pub, nil)

	rec, _ := interaction.NewRecord("rec-1", "bob", "alice", interaction.ActionLike, time.Now())
	require.NoError(t, n.NotifyMutualMatch(context.Background(), rec))
	assert.Empty(t, pub.events)
}

func TestEventMatchNotifier_Errors(t *testing.T) {
	assert.ErrorIs(t, NewEventMatchNotifier(nil, nil).NotifyMutualMatch(context.Background(), mutualRecord(t)), ErrNoPublisher)

	boom := errors.New("bus closed")
	n := NewEventMatchNotifier(&recordingPublisher{err: boom}, nil)
	assert.ErrorIs(t, n.NotifyMutualMatch(context.Background(), mutualRecord(t)), boom)
}
