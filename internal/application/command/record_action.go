// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dentameet/matching-engine/internal/domain/interaction"
	"github.com/dentameet/matching-engine/internal/domain/profile"
	"github.com/dentameet/matching-engine/internal/domain/shared"
	"github.com/dentameet/matching-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD ACTION COMMAND
// Records a like or pass by one user on another and derives mutuality.
// The pair record is written with a single atomic operation per call:
// update first, insert when the pair has none, and on a lost insert race
// fall back to the update exactly once.
// ══════════════════════════════════════════════════════════════════════════════

// recordNamespace seeds deterministic record IDs so that every writer
// racing on the same pair computes the same ID.
var recordNamespace = uuid.MustParse("6f1c0a52-3b9e-5d2a-9c41-7e8d2b6a4f10")

// RecordID returns the deterministic record ID for a pair key.
func RecordID(key interaction.PairKey) string {
	return uuid.NewSHA1(recordNamespace, []byte(key)).String()
}

// RecordActionCommand contains the data to record a decision.
type RecordActionCommand struct {
	// ActingUserID is the user making the decision.
	ActingUserID string

	// TargetUserID is the user being decided on.
	TargetUserID string

	// Action is "like" or "pass".
	Action string

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command and returns the parsed values.
func (c RecordActionCommand) Validate() (actor, target shared.UserID, action interaction.Action, key interaction.PairKey, err error) {
	if c.ActingUserID == "" {
		return "", "", "", "", invalid("record_action", "acting_user_id is required")
	}
	if c.TargetUserID == "" {
		return "", "", "", "", invalid("record_action", "target_user_id is required")
	}
	if actor, err = shared.NewUserID(c.ActingUserID); err != nil {
		return "", "", "", "", err
	}
	if target, err = shared.NewUserID(c.TargetUserID); err != nil {
		return "", "", "", "", err
	}
	if action, err = interaction.ParseAction(c.Action); err != nil {
		return "", "", "", "", err
	}
	if key, err = interaction.NewPairKey(actor, target); err != nil {
		return "", "", "", "", err
	}
	return actor, target, action, key, nil
}

// RecordActionResult contains the outcome of a decision.
type RecordActionResult struct {
	// Record is the pair record after the write.
	Record *interaction.Record

	// Created is true when this call inserted the record.
	Created bool

	// BecameMutual is true iff this call flipped the pair to mutual.
	BecameMutual bool

	// Notified is true when the match notifier accepted the event.
	Notified bool

	// RecoveredConflict is true when a concurrent insert was absorbed.
	RecoveredConflict bool
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// RecordActionHandler handles the RecordActionCommand.
type RecordActionHandler struct {
	ledger   interaction.Repository
	profiles profile.Store
	notifier interaction.MatchNotifier
	log      *logger.Logger
	now      func() time.Time
}

// RecordActionOption configures the handler.
type RecordActionOption func(*RecordActionHandler)

// WithProfileCheck verifies that the target profile exists before writing.
func WithProfileCheck(profiles profile.Store) RecordActionOption {
	return func(h *RecordActionHandler) { h.profiles = profiles }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) RecordActionOption {
	return func(h *RecordActionHandler) { h.now = now }
}

// NewRecordActionHandler creates a new RecordActionHandler.
// notifier may be nil.
func NewRecordActionHandler(
	ledger interaction.Repository,
	notifier interaction.MatchNotifier,
	log *logger.Logger,
	opts ...RecordActionOption,
) *RecordActionHandler {
	if log == nil {
		log = logger.Nop()
	}
	h := &RecordActionHandler{
		ledger:   ledger,
		notifier: notifier,
		log:      log.With(logger.Component("record_action")),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle executes the record action command.
func (h *RecordActionHandler) Handle(ctx context.Context, cmd RecordActionCommand) (*RecordActionResult, error) {
	actor, target, action, key, err := cmd.Validate()
	if err != nil {
		return nil, err
	}

	log := h.log.With(logger.UserID(actor.String()), logger.PairKey(key.String()), logger.Action(string(action)))
	if cmd.CorrelationID != "" {
		log = log.WithRequestID(cmd.CorrelationID)
	}

	if h.profiles != nil {
		if _, err := h.profiles.GetProfile(ctx, target); err != nil {
			return nil, shared.StoreError("command", "record_action", err)
		}
	}

	now := h.now()
	result := &RecordActionResult{}

	rec, wasMutual, err := h.ledger.ApplyDecision(ctx, key, actor, action, now)
	switch {
	case err == nil:
	case shared.IsNotFound(err):
		rec, wasMutual, err = h.insertOrFallback(ctx, log, key, actor, target, action, now, result)
		if err != nil {
			return nil, err
		}
	default:
		log.Error("failed to apply decision", logger.Err(err))
		return nil, shared.StoreError("command", "record_action", err)
	}

	result.Record = rec
	result.BecameMutual = !wasMutual && rec.IsMutual

	log.Debug("action recorded",
		logger.Bool("created", result.Created),
		logger.Bool("is_mutual", rec.IsMutual),
		logger.Bool("became_mutual", result.BecameMutual),
	)

	if result.BecameMutual {
		result.Notified = h.notify(ctx, log, rec)
	}
	return result, nil
}

// insertOrFallback creates the first record of the pair. If another writer
// created it in the meantime the decision is applied to that record instead.
func (h *RecordActionHandler) insertOrFallback(
	ctx context.Context,
	log *logger.Logger,
	key interaction.PairKey,
	actor, target shared.UserID,
	action interaction.Action,
	now time.Time,
	result *RecordActionResult,
) (*interaction.Record, bool, error) {
	rec, err := interaction.NewRecord(RecordID(key), actor, target, action, now)
	if err != nil {
		return nil, false, err
	}

	err = h.ledger.Insert(ctx, rec)
	if err == nil {
		result.Created = true
		return rec, false, nil
	}
	if !shared.IsConflict(err) {
		log.Error("failed to insert interaction", logger.Err(err))
		return nil, false, shared.StoreError("command", "record_action", err)
	}

	log.Warn("concurrent first insert, applying decision to existing record")
	result.RecoveredConflict = true

	updated, wasMutual, err := h.ledger.ApplyDecision(ctx, key, actor, action, now)
	if err != nil {
		log.Error("conflict fallback failed", logger.Err(err))
		return nil, false, shared.WrapError("command", "record_action", shared.ErrServiceUnavailable, "conflict fallback failed", err)
	}
	return updated, wasMutual, nil
}

// notify informs the match notifier. Failures are logged and never change
// the outcome of the command.
func (h *RecordActionHandler) notify(ctx context.Context, log *logger.Logger, rec *interaction.Record) bool {
	if h.notifier == nil {
		return false
	}
	if err := h.notifier.NotifyMutualMatch(ctx, rec); err != nil {
		log.Error("failed to notify mutual match", logger.Err(err))
		return false
	}
	log.Info("mutual match", logger.TargetID(rec.Other(rec.InitiatorID).String()))
	return true
}

func invalid(op, message string) error {
	return shared.NewDomainError("command", op, shared.ErrInvalidInput, message)
}
