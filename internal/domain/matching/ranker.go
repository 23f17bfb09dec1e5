package matching

import (
	"sort"

	"github.com/dentameet/matching-engine/internal/domain/profile"
)

// RankedProfile - кандидат с рассчитанной оценкой.
type RankedProfile struct {
	Profile *profile.Profile
	Score   MatchScore
}

// Quality возвращает качественную оценку кандидата.
func (r RankedProfile) Quality() MatchQuality {
	return r.Score.Quality()
}

// Rank сортирует кандидатов по убыванию оценки и обрезает до limit.
// При равных оценках сохраняется входной порядок. limit <= 0 - без обрезки.
func Rank(candidates []*profile.Profile, score ScoreFunc, limit int) []RankedProfile {
	ranked := make([]RankedProfile, 0, len(candidates))
	for _, c := range candidates {
		if c == nil {
			continue
		}
		ranked = append(ranked, RankedProfile{Profile: c, Score: score(c)})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})

	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}
