package memory

import (
	"context"
	"sync"
	"time"

	"github.com/dentameet/matching-engine/internal/domain/profile"
	"github.com/dentameet/matching-engine/internal/domain/shared"
)

// ProfileRepository implements profile.Store and profile.Seeder over a map. Query results
// follow insertion order.
type ProfileRepository struct {
	mu       sync.RWMutex
	order    []shared.UserID
	profiles map[shared.UserID]*profile.Profile
}

// NewProfileRepository creates a repository seeded with profiles.
func NewProfileRepository(seed ...*profile.Profile) *ProfileRepository {
	r := &ProfileRepository{profiles: make(map[shared.UserID]*profile.Profile)}
	for _, p := range seed {
		r.put(p)
	}
	return r
}

// Save creates or replaces a profile.
func (r *ProfileRepository) Save(ctx context.Context, p *profile.Profile) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p == nil || !p.ID.IsValid() {
		return shared.ErrInvalidUserID
	}
	r.put(p)
	return nil
}

// Upsert normalizes raw profile data and saves it.
func (r *ProfileRepository) Upsert(ctx context.Context, params profile.Params) error {
	now := time.Now().UTC()
	if params.CreatedAt.IsZero() {
		params.CreatedAt = now
	}
	if params.UpdatedAt.IsZero() {
		params.UpdatedAt = now
	}
	p, err := profile.NewProfile(params)
	if err != nil {
		return err
	}
	return r.Save(ctx, p)
}

func (r *ProfileRepository) put(p *profile.Profile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.profiles[p.ID]; !ok {
		r.order = append(r.order, p.ID)
	}
	cp := *p
	r.profiles[p.ID] = &cp
}

// GetProfile returns a profile by ID.
func (r *ProfileRepository) GetProfile(ctx context.Context, id shared.UserID) (*profile.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.profiles[id]
	if !ok {
		return nil, shared.ErrProfileNotFound
	}
	cp := *p
	return &cp, nil
}

// QueryProfiles returns profiles matching the filter.
func (r *ProfileRepository) QueryProfiles(ctx context.Context, filter profile.Filter) ([]*profile.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*profile.Profile, 0)
	for _, id := range r.order {
		p := r.profiles[id]
		if !filter.Matches(p) {
			continue
		}
		cp := *p
		out = append(out, &cp)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}
