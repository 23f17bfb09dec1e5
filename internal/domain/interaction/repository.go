package interaction

import (
	"context"
	"time"

	"github.com/dentameet/matching-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Контракт журнала взаимодействий. Реализации находятся в
// infrastructure/persistence (postgres, dynamo, memory).
//
// Каждая запись выполняется одной атомарной операцией на ключ пары.
// Раздельные "прочитать, затем вставить" запрещены.
// ══════════════════════════════════════════════════════════════════════════════

// Repository определяет операции журнала.
type Repository interface {
	// Insert создаёт первую запись пары.
	// Возвращает shared.ErrPairExists, если запись уже создана
	// (в том числе конкурентным запросом).
	Insert(ctx context.Context, rec *Record) error

	// ApplyDecision атомарно записывает решение участника в существующую
	// запись и пересчитывает взаимность. Возвращает обновлённую запись и
	// значение IsMutual до изменения.
	// Возвращает shared.ErrPairNotFound, если записи нет.
	ApplyDecision(ctx context.Context, key PairKey, actor shared.UserID, action Action, at time.Time) (rec *Record, wasMutual bool, err error)

	// GetByPairKey возвращает запись пары.
	// Возвращает shared.ErrPairNotFound, если записи нет.
	GetByPairKey(ctx context.Context, key PairKey) (*Record, error)

	// Delete удаляет запись пары.
	// Возвращает shared.ErrPairNotFound, если записи нет.
	Delete(ctx context.Context, key PairKey) error

	// ListByUser возвращает записи участника, новые первыми.
	ListByUser(ctx context.Context, user shared.UserID, opts ListOptions) ([]*Record, error)

	// LinkedUserIDs возвращает всех, с кем у участника есть запись
	// (в любом направлении).
	LinkedUserIDs(ctx context.Context, user shared.UserID) ([]shared.UserID, error)
}

// ListOptions - параметры выборки записей участника.
type ListOptions struct {
	// OnlyMutual - только взаимные пары.
	OnlyMutual bool

	// Limit - 0 означает без ограничения.
	Limit int
}

// ══════════════════════════════════════════════════════════════════════════════
// MATCH NOTIFIER
// ══════════════════════════════════════════════════════════════════════════════

// MatchNotifier получает уведомление, когда пара становится взаимной.
// Доставка - ответственность реализации, движок повторов не делает.
type MatchNotifier interface {
	NotifyMutualMatch(ctx context.Context, rec *Record) error
}
