package matching

import (
	"context"

	"github.com/dentameet/matching-engine/internal/domain/profile"
	"github.com/dentameet/matching-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CANDIDATE DISCOVERY
//
// Каскадное ослабление условий: уровни перебираются строго по порядку,
// используется результат первого непустого уровня. Уровни не смешиваются.
// Сам запрашивающий и все связанные с ним участники исключаются всегда.
// ══════════════════════════════════════════════════════════════════════════════

// TierName - название уровня каскада.
type TierName string

const (
	TierLocality     TierName = "locality"
	TierRegion       TierName = "region"
	TierRole         TierName = "role"
	TierFuzzyRole    TierName = "fuzzy_role"
	TierUnrestricted TierName = "unrestricted"
	TierNone         TierName = ""
)

// Request - входные данные одного поиска.
type Request struct {
	// Requester - профиль запрашивающего (источник местоположения).
	Requester *profile.Profile

	// Role - роль, от имени которой ведётся поиск.
	Role profile.Role

	// Exclude - участники, уже связанные с запрашивающим.
	Exclude []shared.UserID

	// PoolSize - ограничение выборки каждого уровня.
	PoolSize int
}

// Tier - один уровень каскада. Build возвращает ok=false, если уровень
// неприменим (например, у запрашивающего не указан населённый пункт).
type Tier struct {
	Name TierName

	// Fallback - уровень маскирует проблему качества данных.
	Fallback bool

	Build func(req Request) (filter profile.Filter, ok bool)
}

// TierOptions включает последние уровни каскада.
type TierOptions struct {
	FuzzyRole    bool
	Unrestricted bool
}

// DefaultTierOptions - все пять уровней включены.
func DefaultTierOptions() TierOptions {
	return TierOptions{FuzzyRole: true, Unrestricted: true}
}

// DefaultTiers возвращает каскад в порядке ослабления.
func DefaultTiers(opts TierOptions) []Tier {
	tiers := []Tier{LocalityTier(), RegionTier(), RoleTier()}
	if opts.FuzzyRole {
		tiers = append(tiers, FuzzyRoleTier())
	}
	if opts.Unrestricted {
		tiers = append(tiers, UnrestrictedTier())
	}
	return tiers
}

// LocalityTier: тот же населённый пункт и совместимая роль.
func LocalityTier() Tier {
	return Tier{
		Name: TierLocality,
		Build: func(req Request) (profile.Filter, bool) {
			if req.Requester.Location.Locality == "" {
				return profile.Filter{}, false
			}
			return profile.Filter{
				RoleLabels:    req.Role.CompatibleLabels(),
				Locality:      req.Requester.Location.Locality,
				OnlyOnboarded: true,
			}, true
		},
	}
}

// RegionTier: тот же регион и совместимая роль.
func RegionTier() Tier {
	return Tier{
		Name: TierRegion,
		Build: func(req Request) (profile.Filter, bool) {
			if req.Requester.Location.Region == "" {
				return profile.Filter{}, false
			}
			return profile.Filter{
				RoleLabels:    req.Role.CompatibleLabels(),
				Region:        req.Requester.Location.Region,
				OnlyOnboarded: true,
			}, true
		},
	}
}

// RoleTier: совместимая роль без географии.
func RoleTier() Tier {
	return Tier{
		Name: TierRole,
		Build: func(req Request) (profile.Filter, bool) {
			return profile.Filter{
				RoleLabels:    req.Role.CompatibleLabels(),
				OnlyOnboarded: true,
			}, true
		},
	}
}

// FuzzyRoleTier: метка роли содержит основу совместимой семьи.
func FuzzyRoleTier() Tier {
	return Tier{
		Name:     TierFuzzyRole,
		Fallback: true,
		Build: func(req Request) (profile.Filter, bool) {
			return profile.Filter{
				RoleStems:     req.Role.CompatibleStems(),
				OnlyOnboarded: true,
			}, true
		},
	}
}

// UnrestrictedTier: любой профиль, кроме исключённых.
func UnrestrictedTier() Tier {
	return Tier{
		Name:     TierUnrestricted,
		Fallback: true,
		Build: func(req Request) (profile.Filter, bool) {
			return profile.Filter{}, true
		},
	}
}

// Pool - результат поиска: уровень, давший кандидатов, и сами кандидаты.
type Pool struct {
	Tier      TierName
	Fallback  bool
	Profiles  []*profile.Profile
	Attempted []TierName
}

// Discoverer выполняет каскадный поиск по хранилищу профилей.
type Discoverer struct {
	store profile.Store
	tiers []Tier
}

// NewDiscoverer создаёт поисковик с заданным каскадом.
func NewDiscoverer(store profile.Store, tiers []Tier) *Discoverer {
	return &Discoverer{store: store, tiers: tiers}
}

// Tiers возвращает названия уровней каскада по порядку.
func (d *Discoverer) Tiers() []TierName {
	names := make([]TierName, len(d.tiers))
	for i, t := range d.tiers {
		names[i] = t.Name
	}
	return names
}

// Discover перебирает уровни до первого непустого результата.
// Ошибка хранилища прерывает каскад: следующие уровни не опрашиваются.
func (d *Discoverer) Discover(ctx context.Context, req Request) (*Pool, error) {
	if req.Requester == nil {
		return nil, shared.ErrInvalidUserID
	}
	if !req.Role.IsValid() {
		return nil, shared.ErrUnknownRole
	}

	exclude := make([]shared.UserID, 0, len(req.Exclude)+1)
	exclude = append(exclude, req.Requester.ID)
	exclude = append(exclude, req.Exclude...)

	pool := &Pool{}
	for _, tier := range d.tiers {
		filter, ok := tier.Build(req)
		if !ok {
			continue
		}
		filter.ExcludeIDs = exclude
		filter.Limit = req.PoolSize

		pool.Attempted = append(pool.Attempted, tier.Name)

		found, err := d.store.QueryProfiles(ctx, filter)
		if err != nil {
			return pool, shared.StoreError("matching", "Discover", err)
		}

		found = excludeProfiles(found, filter)
		if len(found) == 0 {
			continue
		}

		pool.Tier = tier.Name
		pool.Fallback = tier.Fallback
		pool.Profiles = found
		return pool, nil
	}
	return pool, nil
}

// excludeProfiles повторно применяет исключения: хранилище может
// вернуть больше, чем просили.
func excludeProfiles(found []*profile.Profile, filter profile.Filter) []*profile.Profile {
	out := found[:0:0]
	for _, p := range found {
		if p == nil || filter.Excludes(p.ID) {
			continue
		}
		out = append(out, p)
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out
}
