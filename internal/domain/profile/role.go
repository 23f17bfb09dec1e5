package profile

import (
	"strings"

	"github.com/dentameet/matching-engine/internal/domain/shared"
	"github.com/dentameet/matching-engine/pkg/textnorm"
)

// ══════════════════════════════════════════════════════════════════════════════
// ROLE
// Закрытое перечисление ролей и матрица совместимости.
// ══════════════════════════════════════════════════════════════════════════════

// Role определяет роль участника.
type Role string

const (
	// RoleSeeker - ищет услугу (пациент).
	RoleSeeker Role = "seeker"

	// RoleProvider - оказывает услугу (студент-стоматолог).
	RoleProvider Role = "provider"

	// RoleDual - гибридная роль, ведёт себя как Seeker и как Provider.
	RoleDual Role = "dual"

	// RoleUnknown - метка роли не распознана (грязные данные в хранилище).
	RoleUnknown Role = ""
)

// roleAliases - допустимые метки ролей после нормализации, включая
// исторические значения из хранилища.
var roleAliases = map[string]Role{
	"seeker":      RoleSeeker,
	"paciente":    RoleSeeker,
	"patient":     RoleSeeker,
	"provider":    RoleProvider,
	"estudiante":  RoleProvider,
	"student":     RoleProvider,
	"dual":        RoleDual,
	"dentameeter": RoleDual,
}

// roleStems - основы меток для нечёткого сопоставления.
var roleStems = map[Role][]string{
	RoleSeeker:   {"pacient", "patient", "seek"},
	RoleProvider: {"estudiant", "student", "provid"},
	RoleDual:     {"dentameet", "dual"},
}

// compatibility - матрица совместимости ролей.
var compatibility = map[Role][]Role{
	RoleSeeker:   {RoleProvider, RoleDual},
	RoleProvider: {RoleSeeker, RoleDual},
	RoleDual:     {RoleSeeker, RoleProvider},
}

// ParseRole разбирает точную метку роли (регистр и диакритика не важны).
// Возвращает shared.ErrUnknownRole для нераспознанной метки.
func ParseRole(label string) (Role, error) {
	if r, ok := roleAliases[textnorm.Fold(label)]; ok {
		return r, nil
	}
	return RoleUnknown, shared.ErrUnknownRole
}

// ClassifyRole определяет роль по свободной метке: сначала точное совпадение,
// затем по основе. Для нераспознанной метки возвращает RoleUnknown.
func ClassifyRole(label string) Role {
	folded := textnorm.Fold(label)
	if r, ok := roleAliases[folded]; ok {
		return r
	}
	if folded == "" {
		return RoleUnknown
	}
	// Dual проверяется первым: "dentameeter" не должен уйти в другую семью.
	for _, r := range []Role{RoleDual, RoleSeeker, RoleProvider} {
		for _, stem := range roleStems[r] {
			if strings.Contains(folded, stem) {
				return r
			}
		}
	}
	return RoleUnknown
}

// IsValid проверяет, что роль известна.
func (r Role) IsValid() bool {
	_, ok := compatibility[r]
	return ok
}

// String возвращает строковое представление.
func (r Role) String() string {
	if r == RoleUnknown {
		return "unknown"
	}
	return string(r)
}

// CanSeek - роль выступает как ищущий (для расчёта пересечения тегов).
// Неизвестная роль допускает оба направления.
func (r Role) CanSeek() bool {
	return r == RoleSeeker || r == RoleDual || r == RoleUnknown
}

// CanProvide - роль выступает как оказывающий услугу.
func (r Role) CanProvide() bool {
	return r == RoleProvider || r == RoleDual || r == RoleUnknown
}

// Labels возвращает все нормализованные метки, соответствующие роли.
func (r Role) Labels() []string {
	var labels []string
	for label, role := range roleAliases {
		if role == r {
			labels = append(labels, label)
		}
	}
	sortStrings(labels)
	return labels
}

// Stems возвращает основы меток роли для нечёткого сопоставления.
func (r Role) Stems() []string {
	out := make([]string, len(roleStems[r]))
	copy(out, roleStems[r])
	return out
}

// CompatibleLabels объединяет метки всех совместимых ролей.
func (r Role) CompatibleLabels() []string {
	var labels []string
	for _, c := range compatibility[r] {
		labels = append(labels, c.Labels()...)
	}
	sortStrings(labels)
	return labels
}

// CompatibleStems объединяет основы всех совместимых ролей.
func (r Role) CompatibleStems() []string {
	var stems []string
	for _, c := range compatibility[r] {
		stems = append(stems, c.Stems()...)
	}
	sortStrings(stems)
	return stems
}
