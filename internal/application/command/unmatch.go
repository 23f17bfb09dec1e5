package command

import (
	"context"

	"github.com/dentameet/matching-engine/internal/domain/interaction"
	"github.com/dentameet/matching-engine/internal/domain/shared"
	"github.com/dentameet/matching-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// UNMATCH COMMAND
// Deletes the pair record, returning the pair to its initial state.
// Only a participant of the pair may unmatch; for anyone else the pair
// is reported as not found.
// ══════════════════════════════════════════════════════════════════════════════

// UnmatchCommand contains the data to remove a pair record.
type UnmatchCommand struct {
	// UserID is the participant requesting the unmatch.
	UserID string

	// PairKey identifies the pair.
	PairKey string

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command and returns the parsed values.
func (c UnmatchCommand) Validate() (shared.UserID, interaction.PairKey, error) {
	if c.UserID == "" {
		return "", "", invalid("unmatch", "user_id is required")
	}
	if c.PairKey == "" {
		return "", "", invalid("unmatch", "pair_key is required")
	}
	user, err := shared.NewUserID(c.UserID)
	if err != nil {
		return "", "", err
	}
	key, err := interaction.ParsePairKey(c.PairKey)
	if err != nil {
		return "", "", err
	}
	return user, key, nil
}

// UnmatchResult contains the outcome of an unmatch.
type UnmatchResult struct {
	PairKey       interaction.PairKey
	CounterpartID shared.UserID
	WasMutual     bool
}

// UnmatchHandler handles the UnmatchCommand.
type UnmatchHandler struct {
	ledger    interaction.Repository
	publisher shared.EventPublisher
	log       *logger.Logger
}

// NewUnmatchHandler creates a new UnmatchHandler. publisher may be nil.
func NewUnmatchHandler(ledger interaction.Repository, publisher shared.EventPublisher, log *logger.Logger) *UnmatchHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &UnmatchHandler{
		ledger:    ledger,
		publisher: publisher,
		log:       log.With(logger.Component("unmatch")),
	}
}

// Handle executes the unmatch command.
func (h *UnmatchHandler) Handle(ctx context.Context, cmd UnmatchCommand) (*UnmatchResult, error) {
	user, key, err := cmd.Validate()
	if err != nil {
		return nil, err
	}
	if !key.Contains(user) {
		return nil, shared.ErrPairNotFound
	}

	log := h.log.With(logger.UserID(user.String()), logger.PairKey(key.String()))

	rec, err := h.ledger.GetByPairKey(ctx, key)
	if err != nil {
		return nil, shared.StoreError("command", "unmatch", err)
	}
	if err := h.ledger.Delete(ctx, key); err != nil {
		return nil, shared.StoreError("command", "unmatch", err)
	}

	result := &UnmatchResult{
		PairKey:       key,
		CounterpartID: rec.Other(user),
		WasMutual:     rec.IsMutual,
	}
	log.Info("pair unmatched", logger.Bool("was_mutual", rec.IsMutual))

	if h.publisher != nil {
		event := shared.NewUnmatchedEvent(key.String(), user.String(), result.CounterpartID.String(), rec.IsMutual, cmd.CorrelationID)
		if err := h.publisher.Publish(event); err != nil {
			log.Error("failed to publish unmatched event", logger.Err(err))
		}
	}
	return result, nil
}
