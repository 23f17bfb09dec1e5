// Package matching содержит чистые алгоритмы подбора: оценку совместимости,
// ранжирование и каскадный поиск кандидатов.
package matching

import (
	"github.com/dentameet/matching-engine/internal/domain/profile"
)

// ══════════════════════════════════════════════════════════════════════════════
// SCORING
//
// Оценка - детерминированная функция двух профилей без скрытого состояния.
// Компоненты складываются и ограничиваются диапазоном [0, 100]:
// 1. География (населённый пункт или регион)
// 2. Пересечение интересов и специализаций
// 3. Заполненность профиля кандидата
// 4. Близость по координатам
// ══════════════════════════════════════════════════════════════════════════════

const (
	LocalityPoints     = 50
	RegionPoints       = 25
	OverlapPairPoints  = 30
	CompletenessPoints = 5

	MinScore = 0
	MaxScore = 100
)

// ProximityBand - порог расстояния и бонус за него.
type ProximityBand struct {
	MaxKm  float64
	Points int
}

// ProximityBands упорядочены от ближнего к дальнему.
var ProximityBands = []ProximityBand{
	{MaxKm: 5, Points: 20},
	{MaxKm: 20, Points: 10},
	{MaxKm: 50, Points: 5},
}

// MatchScore представляет оценку совместимости (0-100).
type MatchScore int

// IsValid проверяет корректность оценки.
func (m MatchScore) IsValid() bool {
	return m >= MinScore && m <= MaxScore
}

// Quality возвращает качественную оценку совместимости.
func (m MatchScore) Quality() MatchQuality {
	switch {
	case m >= 80:
		return MatchQualityExcellent
	case m >= 60:
		return MatchQualityGood
	case m >= 40:
		return MatchQualityFair
	case m >= 20:
		return MatchQualityPoor
	default:
		return MatchQualityNone
	}
}

// MatchQuality определяет качество подбора.
type MatchQuality string

const (
	MatchQualityExcellent MatchQuality = "excellent"
	MatchQualityGood      MatchQuality = "good"
	MatchQualityFair      MatchQuality = "fair"
	MatchQualityPoor      MatchQuality = "poor"
	MatchQualityNone      MatchQuality = "none"
)

// Breakdown - вклад каждого компонента в итоговую оценку.
type Breakdown struct {
	Geography    int        `json:"geography"`
	Overlap      int        `json:"overlap"`
	Completeness int        `json:"completeness"`
	Proximity    int        `json:"proximity"`
	Total        MatchScore `json:"total"`
}

// ScoreFunc оценивает кандидата относительно зафиксированного запрашивающего.
type ScoreFunc func(candidate *profile.Profile) MatchScore

// Score оценивает совместимость кандидата с запрашивающим.
func Score(requester, candidate *profile.Profile) MatchScore {
	return Explain(requester, candidate).Total
}

// ScorerFor фиксирует запрашивающего для Rank.
func ScorerFor(requester *profile.Profile) ScoreFunc {
	return func(candidate *profile.Profile) MatchScore {
		return Score(requester, candidate)
	}
}

// Explain возвращает разбивку оценки по компонентам.
// Отсутствующие необязательные поля дают нулевой вклад.
func Explain(requester, candidate *profile.Profile) Breakdown {
	if requester == nil || candidate == nil {
		return Breakdown{}
	}

	b := Breakdown{
		Geography:    geographyPoints(requester.Location, candidate.Location),
		Overlap:      overlapPairs(requester, candidate) * OverlapPairPoints,
		Completeness: candidate.Completeness.Count() * CompletenessPoints,
		Proximity:    proximityPoints(requester.Location, candidate.Location),
	}
	b.Total = clamp(b.Geography + b.Overlap + b.Completeness + b.Proximity)
	return b
}

func geographyPoints(a, b profile.Location) int {
	switch {
	case a.SameLocality(b):
		return LocalityPoints
	case a.SameRegion(b):
		return RegionPoints
	default:
		return 0
	}
}

// overlapPairs считает пересечения в направлениях, допустимых ролями:
// интересы ищущего против специализаций оказывающего. Если допустимы
// оба направления (Dual-Dual, неизвестные роли), берётся лучшее.
// Направление задаёт роль из профиля, а не роль поиска.
func overlapPairs(requester, candidate *profile.Profile) int {
	best := 0
	if requester.Role.CanSeek() && candidate.Role.CanProvide() {
		best = requester.InterestTags.OverlapPairs(candidate.OfferTags)
	}
	if candidate.Role.CanSeek() && requester.Role.CanProvide() {
		if n := candidate.InterestTags.OverlapPairs(requester.OfferTags); n > best {
			best = n
		}
	}
	return best
}

func proximityPoints(a, b profile.Location) int {
	if a.Coordinates == nil || b.Coordinates == nil {
		return 0
	}
	d := a.Coordinates.DistanceKm(*b.Coordinates)
	for _, band := range ProximityBands {
		if d <= band.MaxKm {
			return band.Points
		}
	}
	return 0
}

func clamp(total int) MatchScore {
	if total < MinScore {
		return MinScore
	}
	if total > MaxScore {
		return MaxScore
	}
	return MatchScore(total)
}
