package profile

import (
	"sort"
	"strings"

	"github.com/dentameet/matching-engine/pkg/textnorm"
)

// TagSet - отсортированное множество нормализованных тегов
// (процедуры интереса или специализации).
type TagSet []string

// NewTagSet нормализует теги, удаляет пустые и дубликаты.
func NewTagSet(tags ...string) TagSet {
	seen := make(map[string]struct{}, len(tags))
	out := make(TagSet, 0, len(tags))
	for _, tag := range tags {
		folded := textnorm.Fold(tag)
		if folded == "" {
			continue
		}
		if _, ok := seen[folded]; ok {
			continue
		}
		seen[folded] = struct{}{}
		out = append(out, folded)
	}
	sort.Strings(out)
	return out
}

// Len возвращает количество тегов.
func (t TagSet) Len() int { return len(t) }

// Contains проверяет точное вхождение тега.
func (t TagSet) Contains(tag string) bool {
	folded := textnorm.Fold(tag)
	i := sort.SearchStrings(t, folded)
	return i < len(t) && t[i] == folded
}

// OverlapPairs считает пары (a из t, b из other), где один тег является
// подстрокой другого. Оба множества уже нормализованы.
func (t TagSet) OverlapPairs(other TagSet) int {
	pairs := 0
	for _, a := range t {
		for _, b := range other {
			if strings.Contains(a, b) || strings.Contains(b, a) {
				pairs++
			}
		}
	}
	return pairs
}

// Strings возвращает копию тегов.
func (t TagSet) Strings() []string {
	out := make([]string, len(t))
	copy(out, t)
	return out
}

func sortStrings(s []string) {
	sort.Strings(s)
}
