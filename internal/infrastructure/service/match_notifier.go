// Package service adapts infrastructure to the ports the domain defines.
package service

import (
	"context"
	"errors"

	"github.com/dentameet/matching-engine/internal/domain/interaction"
	"github.com/dentameet/matching-engine/internal/domain/shared"
	"github.com/dentameet/matching-engine/pkg/logger"
)

// ErrNoPublisher is returned when the notifier has nowhere to publish.
var ErrNoPublisher = errors.New("match notifier: no event publisher")

// EventMatchNotifier implements interaction.MatchNotifier by publishing a
// MutualMatchEvent. Delivery beyond the bus (webhook, log) is the
// dispatcher's job.
type EventMatchNotifier struct {
	publisher shared.EventPublisher
	log       *logger.Logger
}

// NewEventMatchNotifier creates a notifier over the given publisher.
func NewEventMatchNotifier(publisher shared.EventPublisher, log *logger.Logger) *EventMatchNotifier {
	if log == nil {
		log = logger.Nop()
	}
	return &EventMatchNotifier{
		publisher: publisher,
		log:       log.With(logger.Component("match_notifier")),
	}
}

// NotifyMutualMatch publishes the event for a pair that just became mutual.
func (n *EventMatchNotifier) NotifyMutualMatch(ctx context.Context, rec *interaction.Record) error {
	if n.publisher == nil {
		return ErrNoPublisher
	}
	if rec == nil || !rec.IsMutual {
		return nil
	}

	event := shared.NewMutualMatchEvent(
		rec.PairKey.String(),
		rec.ID,
		rec.InitiatorID.String(),
		rec.ResponderID.String(),
	)
	if err := n.publisher.Publish(event); err != nil {
		return err
	}

	n.log.Debug("mutual match published", logger.PairKey(rec.PairKey.String()))
	return nil
}

var _ interaction.MatchNotifier = (*EventMatchNotifier)(nil)
