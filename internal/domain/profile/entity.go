// Package profile содержит модель участника, которую движок подбора читает
// из внешнего хранилища профилей. Движок профили не изменяет.
package profile

import (
	"time"

	"github.com/dentameet/matching-engine/internal/domain/shared"
	"github.com/dentameet/matching-engine/pkg/textnorm"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// Location - местоположение участника. Region и Locality хранятся
// в нормализованном виде, координаты необязательны.
type Location struct {
	Region      string              `json:"region,omitempty"`
	Locality    string              `json:"locality,omitempty"`
	Coordinates *shared.Coordinates `json:"coordinates,omitempty"`
}

// NewLocation нормализует регион и населённый пункт.
// Некорректные координаты отбрасываются.
func NewLocation(region, locality string, lat, lon *float64) Location {
	loc := Location{
		Region:   textnorm.Fold(region),
		Locality: textnorm.Fold(locality),
	}
	if lat != nil && lon != nil {
		c := shared.Coordinates{Latitude: *lat, Longitude: *lon}
		if c.IsValid() {
			loc.Coordinates = &c
		}
	}
	return loc
}

// SameLocality - совпадает непустой населённый пункт.
func (l Location) SameLocality(other Location) bool {
	return l.Locality != "" && l.Locality == other.Locality
}

// SameRegion - совпадает непустой регион.
func (l Location) SameRegion(other Location) bool {
	return l.Region != "" && l.Region == other.Region
}

// Completeness - признаки заполненности профиля.
// Используются только как бонус к оценке.
type Completeness struct {
	HasPhone       bool `json:"has_phone"`
	HasBio         bool `json:"has_bio"`
	HasAffiliation bool `json:"has_affiliation"`
}

// Count возвращает количество заполненных полей.
func (c Completeness) Count() int {
	n := 0
	for _, ok := range []bool{c.HasPhone, c.HasBio, c.HasAffiliation} {
		if ok {
			n++
		}
	}
	return n
}

// ══════════════════════════════════════════════════════════════════════════════
// PROFILE
// ══════════════════════════════════════════════════════════════════════════════

// Profile - участник подбора.
type Profile struct {
	// ID - непрозрачный идентификатор из хранилища профилей.
	ID shared.UserID `json:"id"`

	// Role - распознанная роль, RoleUnknown для грязных меток.
	Role Role `json:"role"`

	// RoleLabel - исходная метка роли из хранилища.
	RoleLabel string `json:"role_label"`

	DisplayName string `json:"display_name,omitempty"`

	Location Location `json:"location"`

	// InterestTags - интересующие процедуры.
	InterestTags TagSet `json:"interest_tags,omitempty"`

	// OfferTags - оказываемые процедуры (специализации).
	OfferTags TagSet `json:"offer_tags,omitempty"`

	Completeness Completeness `json:"completeness"`

	// OnboardingCompleted - участник завершил регистрацию.
	OnboardingCompleted bool `json:"onboarding_completed"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Params - сырые данные профиля в том виде, в каком они лежат в хранилище.
type Params struct {
	ID                  string    `json:"id"`
	RoleLabel           string    `json:"role"`
	DisplayName         string    `json:"display_name"`
	Region              string    `json:"region"`
	Locality            string    `json:"locality"`
	Latitude            *float64  `json:"latitude"`
	Longitude           *float64  `json:"longitude"`
	InterestTags        []string  `json:"interest_tags"`
	OfferTags           []string  `json:"offer_tags"`
	Phone               string    `json:"phone"`
	Bio                 string    `json:"bio"`
	Affiliation         string    `json:"affiliation"`
	OnboardingCompleted bool      `json:"onboarding_completed"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// NewProfile собирает профиль из сырых данных, нормализуя строки и теги.
// Неизвестная метка роли не является ошибкой: такие профили доступны
// только нечёткому и последнему уровню поиска.
func NewProfile(p Params) (*Profile, error) {
	id, err := shared.NewUserID(p.ID)
	if err != nil {
		return nil, err
	}

	return &Profile{
		ID:           id,
		Role:         ClassifyRole(p.RoleLabel),
		RoleLabel:    p.RoleLabel,
		DisplayName:  p.DisplayName,
		Location:     NewLocation(p.Region, p.Locality, p.Latitude, p.Longitude),
		InterestTags: NewTagSet(p.InterestTags...),
		OfferTags:    NewTagSet(p.OfferTags...),
		Completeness: Completeness{
			HasPhone:       textnorm.Fold(p.Phone) != "",
			HasBio:         textnorm.Fold(p.Bio) != "",
			HasAffiliation: textnorm.Fold(p.Affiliation) != "",
		},
		OnboardingCompleted: p.OnboardingCompleted,
		CreatedAt:           p.CreatedAt,
		UpdatedAt:           p.UpdatedAt,
	}, nil
}
