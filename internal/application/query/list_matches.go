package query

import (
	"context"

	"github.com/dentameet/matching-engine/internal/domain/interaction"
	"github.com/dentameet/matching-engine/internal/domain/profile"
	"github.com/dentameet/matching-engine/internal/domain/shared"
	"github.com/dentameet/matching-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// LIST MATCHES QUERY
// Возвращает взаимные пары участника, новые первыми.
// ══════════════════════════════════════════════════════════════════════════════

// ListMatchesQuery содержит параметры выборки.
type ListMatchesQuery struct {
	UserID string

	// Limit - 0 означает без ограничения.
	Limit int
}

// Validate проверяет параметры.
func (q *ListMatchesQuery) Validate() error {
	if q.UserID == "" {
		return shared.NewDomainError("query", "list_matches", shared.ErrInvalidInput, "user_id is required")
	}
	if q.Limit < 0 {
		return shared.ErrInvalidLimit
	}
	return nil
}

// ListMatchesHandler обрабатывает запрос.
type ListMatchesHandler struct {
	ledger   interaction.Repository
	profiles profile.Store
	log      *logger.Logger
}

// NewListMatchesHandler создаёт обработчик.
func NewListMatchesHandler(ledger interaction.Repository, profiles profile.Store, log *logger.Logger) *ListMatchesHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &ListMatchesHandler{
		ledger:   ledger,
		profiles: profiles,
		log:      log.With(logger.Component("list_matches")),
	}
}

// Handle выполняет запрос. Профиль собеседника, удалённый из хранилища,
// не скрывает пару: поле Counterpart остаётся пустым.
func (h *ListMatchesHandler) Handle(ctx context.Context, q ListMatchesQuery) ([]MatchDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	user, err := shared.NewUserID(q.UserID)
	if err != nil {
		return nil, err
	}

	records, err := h.ledger.ListByUser(ctx, user, interaction.ListOptions{OnlyMutual: true, Limit: q.Limit})
	if err != nil {
		return nil, shared.StoreError("query", "list_matches", err)
	}

	matches := make([]MatchDTO, 0, len(records))
	for _, rec := range records {
		other := rec.Other(user)
		dto := MatchDTO{
			PairKey:       rec.PairKey.String(),
			RecordID:      rec.ID,
			CounterpartID: other.String(),
			CreatedAt:     rec.CreatedAt,
			MatchedAt:     rec.UpdatedAt,
		}

		p, err := h.profiles.GetProfile(ctx, other)
		switch {
		case err == nil:
			dto.Counterpart = NewProfileDTO(p)
		case shared.IsNotFound(err):
			h.log.Warn("match counterpart missing", logger.UserID(user.String()), logger.TargetID(other.String()))
		default:
			return nil, shared.StoreError("query", "list_matches", err)
		}
		matches = append(matches, dto)
	}
	return matches, nil
}
