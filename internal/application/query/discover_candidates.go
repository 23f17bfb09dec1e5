package query

import (
	"context"
	"time"

	"github.com/dentameet/matching-engine/internal/domain/interaction"
	"github.com/dentameet/matching-engine/internal/domain/matching"
	"github.com/dentameet/matching-engine/internal/domain/profile"
	"github.com/dentameet/matching-engine/internal/domain/shared"
	"github.com/dentameet/matching-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// DISCOVER CANDIDATES QUERY
// Подбирает кандидатов для участника: каскадный поиск, оценка, ранжирование.
// Исключаются сам участник и все, с кем у него уже есть запись в журнале.
// ══════════════════════════════════════════════════════════════════════════════

const (
	DefaultCandidateLimit = 10
	DefaultMaxLimit       = 50
	DefaultPoolSize       = 100
)

// DiscoverCandidatesQuery содержит параметры подбора.
type DiscoverCandidatesQuery struct {
	// RequesterID - кто ищет.
	RequesterID string

	// Role - роль, от имени которой ведётся поиск.
	// Пустая строка - роль из профиля.
	Role string

	// Limit - размер выдачи. nil - значение по умолчанию,
	// явный ноль или отрицательное число - ошибка.
	Limit *int

	limit int
}

// WithLimit возвращает копию запроса с явным лимитом.
func (q DiscoverCandidatesQuery) WithLimit(n int) DiscoverCandidatesQuery {
	q.Limit = &n
	return q
}

// Validate проверяет параметры и вычисляет итоговый лимит:
// отсутствующий заменяется значением по умолчанию, слишком большой
// урезается до maxLimit.
func (q *DiscoverCandidatesQuery) Validate(defaultLimit, maxLimit int) error {
	if q.RequesterID == "" {
		return shared.NewDomainError("query", "discover_candidates", shared.ErrInvalidInput, "requester_id is required")
	}
	switch {
	case q.Limit == nil:
		q.limit = defaultLimit
		if q.limit <= 0 {
			q.limit = DefaultCandidateLimit
		}
	case *q.Limit <= 0:
		return shared.ErrInvalidLimit
	default:
		q.limit = *q.Limit
	}
	if maxLimit > 0 && q.limit > maxLimit {
		q.limit = maxLimit
	}
	return nil
}

// DiscoverCandidatesResult - результат подбора.
type DiscoverCandidatesResult struct {
	Candidates []CandidateDTO `json:"candidates"`

	// Tier - уровень каскада, давший кандидатов.
	Tier matching.TierName `json:"tier,omitempty"`

	// Fallback - кандидаты найдены запасным уровнем.
	Fallback bool `json:"fallback"`

	// Degraded - хранилище недоступно, список пуст намеренно.
	Degraded bool `json:"degraded"`
}

// DiscoverCandidatesHandler обрабатывает запрос подбора.
type DiscoverCandidatesHandler struct {
	profiles     profile.Store
	ledger       interaction.Repository
	discoverer   *matching.Discoverer
	poolSize     int
	defaultLimit int
	maxLimit     int
	log          *logger.Logger
}

// DiscoverConfig - ограничения подбора.
type DiscoverConfig struct {
	PoolSize     int
	DefaultLimit int
	MaxLimit     int
}

// NewDiscoverCandidatesHandler создаёт обработчик.
func NewDiscoverCandidatesHandler(
	profiles profile.Store,
	ledger interaction.Repository,
	discoverer *matching.Discoverer,
	cfg DiscoverConfig,
	log *logger.Logger,
) *DiscoverCandidatesHandler {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultPoolSize
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = DefaultMaxLimit
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = DefaultCandidateLimit
	}
	if log == nil {
		log = logger.Nop()
	}
	return &DiscoverCandidatesHandler{
		profiles:     profiles,
		ledger:       ledger,
		discoverer:   discoverer,
		poolSize:     cfg.PoolSize,
		defaultLimit: cfg.DefaultLimit,
		maxLimit:     cfg.MaxLimit,
		log:          log.With(logger.Component("discover_candidates")),
	}
}

// Handle выполняет подбор. При недоступности хранилища возвращает
// пустой результат с Degraded=true вместе с ошибкой.
func (h *DiscoverCandidatesHandler) Handle(ctx context.Context, q DiscoverCandidatesQuery) (*DiscoverCandidatesResult, error) {
	if err := q.Validate(h.defaultLimit, h.maxLimit); err != nil {
		return nil, err
	}
	requesterID, err := shared.NewUserID(q.RequesterID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	log := h.log.With(logger.UserID(requesterID.String()))

	requester, err := h.profiles.GetProfile(ctx, requesterID)
	if err != nil {
		if shared.IsNotFound(err) {
			return nil, err
		}
		return h.degraded(log, err)
	}

	role := requester.Role
	if q.Role != "" {
		if role, err = profile.ParseRole(q.Role); err != nil {
			return nil, err
		}
	}
	if !role.IsValid() {
		return nil, shared.ErrUnknownRole
	}

	linked, err := h.ledger.LinkedUserIDs(ctx, requesterID)
	if err != nil {
		return h.degraded(log, err)
	}

	// Пул каждого уровня не меньше запрошенного лимита.
	poolSize := h.poolSize
	if poolSize < q.limit {
		poolSize = q.limit
	}

	pool, err := h.discoverer.Discover(ctx, matching.Request{
		Requester: requester,
		Role:      role,
		Exclude:   linked,
		PoolSize:  poolSize,
	})
	if err != nil {
		if shared.IsValidation(err) {
			return nil, err
		}
		return h.degraded(log, err)
	}

	if pool.Fallback {
		log.Warn("candidates served by fallback tier",
			logger.Tier(string(pool.Tier)),
			logger.Int("pool", len(pool.Profiles)),
		)
	}

	ranked := matching.Rank(pool.Profiles, matching.ScorerFor(requester), q.limit)

	result := &DiscoverCandidatesResult{
		Candidates: make([]CandidateDTO, 0, len(ranked)),
		Tier:       pool.Tier,
		Fallback:   pool.Fallback,
	}
	for _, r := range ranked {
		result.Candidates = append(result.Candidates, CandidateDTO{
			Profile: NewProfileDTO(r.Profile),
			Score:   int(r.Score),
			Quality: r.Quality(),
		})
	}

	log.Debug("candidates discovered",
		logger.Tier(string(pool.Tier)),
		logger.Int("count", len(result.Candidates)),
		logger.Int("linked", len(linked)),
		logger.Latency(time.Since(start)),
	)
	return result, nil
}

func (h *DiscoverCandidatesHandler) degraded(log *logger.Logger, err error) (*DiscoverCandidatesResult, error) {
	log.Error("discovery degraded", logger.Err(err))
	return &DiscoverCandidatesResult{
		Candidates: []CandidateDTO{},
		Degraded:   true,
	}, shared.StoreError("query", "discover_candidates", err)
}
