package redis

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dentameet/matching-engine/internal/domain/profile"
	"github.com/dentameet/matching-engine/internal/domain/shared"
	"github.com/dentameet/matching-engine/pkg/logger"
)

// profileCache is the subset of Cache used by CachedProfileStore.
type profileCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}

// CachedProfileStore is a read-through cache in front of a profile.Store.
// Only point lookups are cached: discovery queries depend on per-request
// exclusions and always go to the store. Cache failures never fail a read.
// Concurrent misses for one profile share a single store lookup.
type CachedProfileStore struct {
	next  profile.Store
	cache profileCache
	ttl   time.Duration
	log   *logger.Logger
	loads singleflight.Group
}

// NewCachedProfileStore wraps next. A non-positive ttl uses TTLProfileCache.
func NewCachedProfileStore(next profile.Store, cache profileCache, ttl time.Duration, log *logger.Logger) *CachedProfileStore {
	if ttl <= 0 {
		ttl = TTLProfileCache
	}
	if log == nil {
		log = logger.Nop()
	}
	return &CachedProfileStore{
		next:  next,
		cache: cache,
		ttl:   ttl,
		log:   log.With(logger.Component("profile_cache")),
	}
}

// GetProfile returns the cached profile or loads and caches it.
func (s *CachedProfileStore) GetProfile(ctx context.Context, id shared.UserID) (*profile.Profile, error) {
	key := ProfileKey(string(id))

	var cached profile.Profile
	err := s.cache.Get(ctx, key, &cached)
	switch {
	case err == nil:
		return &cached, nil
	case !errors.Is(err, ErrCacheMiss):
		s.log.Warn("profile cache read failed", logger.UserID(string(id)), logger.Err(err))
	}

	v, err, _ := s.loads.Do(key, func() (interface{}, error) {
		p, err := s.next.GetProfile(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := s.cache.Set(ctx, key, p, s.ttl); err != nil {
			s.log.Warn("profile cache write failed", logger.UserID(string(id)), logger.Err(err))
		}
		return p, nil
	})
	if err != nil {
		return nil, err
	}

	// Callers own their copy.
	p := *v.(*profile.Profile)
	return &p, nil
}

// QueryProfiles delegates to the underlying store.
func (s *CachedProfileStore) QueryProfiles(ctx context.Context, filter profile.Filter) ([]*profile.Profile, error) {
	return s.next.QueryProfiles(ctx, filter)
}

// Flush drops every cached profile, e.g. after a bulk import.
func (s *CachedProfileStore) Flush(ctx context.Context) (int, error) {
	n, err := s.cache.DeletePrefix(ctx, PrefixProfile)
	if err != nil {
		return n, err
	}
	s.log.Info("profile cache flushed", logger.Int("keys", n))
	return n, nil
}
