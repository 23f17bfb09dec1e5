package profile

import (
	"context"
	"strings"

	"github.com/dentameet/matching-engine/internal/domain/shared"
	"github.com/dentameet/matching-engine/pkg/textnorm"
)

// ══════════════════════════════════════════════════════════════════════════════
// STORE
// Контракт внешнего хранилища профилей. Реализации находятся в
// infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// Store - чтение профилей.
type Store interface {
	// GetProfile возвращает профиль по ID.
	// Возвращает shared.ErrProfileNotFound, если профиль не найден.
	GetProfile(ctx context.Context, id shared.UserID) (*Profile, error)

	// QueryProfiles возвращает профили, удовлетворяющие фильтру.
	QueryProfiles(ctx context.Context, filter Filter) ([]*Profile, error)
}

// Seeder - загрузка сырых профилей в хранилище (начальные данные, тесты).
type Seeder interface {
	// Upsert создаёт или обновляет профиль.
	Upsert(ctx context.Context, p Params) error
}

// Filter - условия выборки профилей. Пустые поля не ограничивают выборку.
// Все строки сравниваются в нормализованном виде.
type Filter struct {
	// ExcludeIDs - исключаемые участники (сам запрашивающий и связанные с ним).
	ExcludeIDs []shared.UserID

	// RoleLabels - точное совпадение нормализованной метки роли.
	RoleLabels []string

	// RoleStems - вхождение любой из основ в нормализованную метку роли.
	RoleStems []string

	Region   string
	Locality string

	// OnlyOnboarded - только участники, завершившие регистрацию.
	OnlyOnboarded bool

	// Limit - максимальный размер выборки, 0 - без ограничения.
	Limit int
}

// Matches проверяет профиль на соответствие фильтру без учёта Limit.
func (f Filter) Matches(p *Profile) bool {
	if p == nil || f.Excludes(p.ID) {
		return false
	}
	if f.OnlyOnboarded && !p.OnboardingCompleted {
		return false
	}

	label := textnorm.Fold(p.RoleLabel)
	if len(f.RoleLabels) > 0 && !containsString(f.RoleLabels, label) {
		return false
	}
	if len(f.RoleStems) > 0 && !containsAnyStem(label, f.RoleStems) {
		return false
	}

	if f.Region != "" && textnorm.Fold(f.Region) != p.Location.Region {
		return false
	}
	if f.Locality != "" && textnorm.Fold(f.Locality) != p.Location.Locality {
		return false
	}
	return true
}

// Excludes проверяет, исключён ли участник фильтром.
func (f Filter) Excludes(id shared.UserID) bool {
	for _, ex := range f.ExcludeIDs {
		if ex == id {
			return true
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsAnyStem(label string, stems []string) bool {
	for _, stem := range stems {
		if stem != "" && strings.Contains(label, stem) {
			return true
		}
	}
	return false
}
