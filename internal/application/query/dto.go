// Package query contains read operations (CQRS - Queries).
package query

import (
	"time"

	"github.com/dentameet/matching-engine/internal/domain/matching"
	"github.com/dentameet/matching-engine/internal/domain/profile"
)

// ProfileDTO - DTO профиля для ответа API.
type ProfileDTO struct {
	ID                  string   `json:"id"`
	Role                string   `json:"role"`
	DisplayName         string   `json:"display_name,omitempty"`
	Region              string   `json:"region,omitempty"`
	Locality            string   `json:"locality,omitempty"`
	InterestTags        []string `json:"interest_tags,omitempty"`
	OfferTags           []string `json:"offer_tags,omitempty"`
	HasPhone            bool     `json:"has_phone"`
	HasBio              bool     `json:"has_bio"`
	HasAffiliation      bool     `json:"has_affiliation"`
	OnboardingCompleted bool     `json:"onboarding_completed"`
}

// NewProfileDTO собирает DTO из профиля.
func NewProfileDTO(p *profile.Profile) *ProfileDTO {
	if p == nil {
		return nil
	}
	return &ProfileDTO{
		ID:                  p.ID.String(),
		Role:                p.Role.String(),
		DisplayName:         p.DisplayName,
		Region:              p.Location.Region,
		Locality:            p.Location.Locality,
		InterestTags:        p.InterestTags.Strings(),
		OfferTags:           p.OfferTags.Strings(),
		HasPhone:            p.Completeness.HasPhone,
		HasBio:              p.Completeness.HasBio,
		HasAffiliation:      p.Completeness.HasAffiliation,
		OnboardingCompleted: p.OnboardingCompleted,
	}
}

// CandidateDTO - кандидат с оценкой.
type CandidateDTO struct {
	Profile *ProfileDTO           `json:"profile"`
	Score   int                   `json:"score"`
	Quality matching.MatchQuality `json:"quality"`
}

// MatchDTO - взаимная пара с точки зрения одного участника.
type MatchDTO struct {
	PairKey       string      `json:"pair_key"`
	RecordID      string      `json:"record_id"`
	CounterpartID string      `json:"counterpart_id"`
	Counterpart   *ProfileDTO `json:"counterpart,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	MatchedAt     time.Time   `json:"matched_at"`
}
