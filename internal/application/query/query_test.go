package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dentameet/matching-engine/internal/domain/interaction"
	"github.com/dentameet/matching-engine/internal/domain/matching"
	"github.com/dentameet/matching-engine/internal/domain/profile"
	"github.com/dentameet/matching-engine/internal/domain/shared"
	"github.com/dentameet/matching-engine/internal/infrastructure/persistence/memory"
)

type failingStore struct {
	profile.Store
	queryErr error
}

func (s failingStore) QueryProfiles(ctx context.Context, f profile.Filter) ([]*profile.Profile, error) {
	return nil, s.queryErr
}

func mustProfile(t *testing.T, p profile.Params) *profile.Profile {
	t.Helper()
	p.OnboardingCompleted = true
	prof, err := profile.NewProfile(p)
	require.NoError(t, err)
	return prof
}

func newDiscoverHandler(profiles profile.Store, ledger interaction.Repository) *DiscoverCandidatesHandler {
	d := matching.NewDiscoverer(profiles, matching.DefaultTiers(matching.DefaultTierOptions()))
	return NewDiscoverCandidatesHandler(profiles, ledger, d, DiscoverConfig{}, nil)
}

func link(t *testing.T, ledger *memory.InteractionRepository, a, b shared.UserID, action interaction.Action) {
	t.Helper()
	rec, err := interaction.NewRecord(string(a)+"-"+string(b), a, b, action, time.Now())
	require.NoError(t, err)
	require.NoError(t, ledger.Insert(context.Background(), rec))
}

func TestDiscoverCandidates_SameLocalityOverlap(t *testing.T) {
	profiles := memory.NewProfileRepository(
		mustProfile(t, profile.Params{ID: "P", RoleLabel: "seeker", Region: "R", Locality: "X", InterestTags: []string{"cleaning"}}),
		mustProfile(t, profile.Params{ID: "S", RoleLabel: "provider", Region: "R", Locality: "X", OfferTags: []string{"cleaning", "whitening"}}),
	)
	h := newDiscoverHandler(profiles, memory.NewInteractionRepository())

	res, err := h.Handle(context.Background(), DiscoverCandidatesQuery{RequesterID: "P", Role: "seeker"}.WithLimit(10))
	require.NoError(t, err)

	require.Len(t, res.Candidates, 1)
	assert.Equal(t, "S", res.Candidates[0].Profile.ID)
	assert.GreaterOrEqual(t, res.Candidates[0].Score, 80)
	assert.Equal(t, matching.MatchQualityExcellent, res.Candidates[0].Quality)
	assert.Equal(t, matching.TierLocality, res.Tier)
	assert.False(t, res.Degraded)
}

func TestDiscoverCandidates_OverlapFollowsProfileRole(t *testing.T) {
	requester := mustProfile(t, profile.Params{ID: "D", RoleLabel: "dual", Locality: "X", OfferTags: []string{"cleaning"}})
	candidate := mustProfile(t, profile.Params{ID: "E", RoleLabel: "dual", Locality: "X", InterestTags: []string{"cleaning"}})
	h := newDiscoverHandler(memory.NewProfileRepository(requester, candidate), memory.NewInteractionRepository())

	// Searching as a seeker narrows the candidates, not the scoring: the
	// requester's offers still count against the candidate's interests.
	res, err := h.Handle(context.Background(), DiscoverCandidatesQuery{RequesterID: "D", Role: "seeker"})
	require.NoError(t, err)

	require.Len(t, res.Candidates, 1)
	assert.Equal(t, matching.OverlapPairPoints, matching.Explain(requester, candidate).Overlap)
	assert.Equal(t, int(matching.Score(requester, candidate)), res.Candidates[0].Score)
}

func TestDiscoverCandidates_LinkedUsersStayExcluded(t *testing.T) {
	profiles := memory.NewProfileRepository(
		mustProfile(t, profile.Params{ID: "P", RoleLabel: "seeker", Locality: "X"}),
		mustProfile(t, profile.Params{ID: "S", RoleLabel: "provider", Locality: "X"}),
		mustProfile(t, profile.Params{ID: "T", RoleLabel: "provider", Locality: "X"}),
	)
	ledger := memory.NewInteractionRepository()
	link(t, ledger, "S", "P", interaction.ActionPass)
	h := newDiscoverHandler(profiles, ledger)

	res, err := h.Handle(context.Background(), DiscoverCandidatesQuery{RequesterID: "P"})
	require.NoError(t, err)
	require.Len(t, res.Candidates, 1)
	assert.Equal(t, "T", res.Candidates[0].Profile.ID)

	// The provider side no longer sees P either.
	res, err = h.Handle(context.Background(), DiscoverCandidatesQuery{RequesterID: "S"})
	require.NoError(t, err)
	for _, c := range res.Candidates {
		assert.NotEqual(t, "P", c.Profile.ID)
		assert.NotEqual(t, "S", c.Profile.ID)
	}
}

func TestDiscoverCandidates_RegionFallback(t *testing.T) {
	profiles := memory.NewProfileRepository(
		mustProfile(t, profile.Params{ID: "U", RoleLabel: "paciente", Region: "R", Locality: "Y"}),
		mustProfile(t, profile.Params{ID: "s1", RoleLabel: "estudiante", Region: "R", Locality: "A"}),
		mustProfile(t, profile.Params{ID: "s2", RoleLabel: "estudiante", Region: "R", Locality: "B"}),
		mustProfile(t, profile.Params{ID: "s3", RoleLabel: "dentameeter", Region: "R", Locality: "C"}),
	)
	h := newDiscoverHandler(profiles, memory.NewInteractionRepository())

	res, err := h.Handle(context.Background(), DiscoverCandidatesQuery{RequesterID: "U"})
	require.NoError(t, err)
	assert.Equal(t, matching.TierRegion, res.Tier)
	assert.Len(t, res.Candidates, 3)
	for _, c := range res.Candidates {
		assert.Equal(t, matching.RegionPoints, c.Score)
	}
}

func TestDiscoverCandidates_LimitAndRanking(t *testing.T) {
	profiles := memory.NewProfileRepository(
		mustProfile(t, profile.Params{ID: "P", RoleLabel: "seeker", Locality: "X", InterestTags: []string{"implant"}}),
		mustProfile(t, profile.Params{ID: "low", RoleLabel: "provider", Locality: "X"}),
		mustProfile(t, profile.Params{ID: "high", RoleLabel: "provider", Locality: "X", OfferTags: []string{"implant"}}),
		mustProfile(t, profile.Params{ID: "mid", RoleLabel: "provider", Locality: "X", Phone: "1"}),
	)
	h := newDiscoverHandler(profiles, memory.NewInteractionRepository())

	res, err := h.Handle(context.Background(), DiscoverCandidatesQuery{RequesterID: "P"}.WithLimit(2))
	require.NoError(t, err)
	require.Len(t, res.Candidates, 2)
	assert.Equal(t, "high", res.Candidates[0].Profile.ID)
	assert.Equal(t, "mid", res.Candidates[1].Profile.ID)
}

func TestDiscoverCandidates_Errors(t *testing.T) {
	profiles := memory.NewProfileRepository(
		mustProfile(t, profile.Params{ID: "P", RoleLabel: "seeker", Locality: "X"}),
		mustProfile(t, profile.Params{ID: "odd", RoleLabel: "admin"}),
	)
	h := newDiscoverHandler(profiles, memory.NewInteractionRepository())
	ctx := context.Background()

	_, err := h.Handle(ctx, DiscoverCandidatesQuery{})
	assert.True(t, shared.IsValidation(err))

	_, err = h.Handle(ctx, DiscoverCandidatesQuery{RequesterID: "P"}.WithLimit(-1))
	assert.True(t, shared.IsValidation(err))

	_, err = h.Handle(ctx, DiscoverCandidatesQuery{RequesterID: "P", Role: "admin"})
	assert.True(t, shared.IsValidation(err))

	_, err = h.Handle(ctx, DiscoverCandidatesQuery{RequesterID: "odd"})
	assert.True(t, shared.IsValidation(err), "profile with unrecognized role needs an explicit role")

	_, err = h.Handle(ctx, DiscoverCandidatesQuery{RequesterID: "ghost"})
	assert.True(t, shared.IsNotFound(err))
}

func TestDiscoverCandidates_DegradesOnStoreFailure(t *testing.T) {
	base := memory.NewProfileRepository(mustProfile(t, profile.Params{ID: "P", RoleLabel: "seeker", Locality: "X"}))
	store := failingStore{Store: base, queryErr: errors.New("timeout")}
	h := newDiscoverHandler(store, memory.NewInteractionRepository())

	res, err := h.Handle(context.Background(), DiscoverCandidatesQuery{RequesterID: "P"})
	assert.True(t, shared.IsStoreUnavailable(err))
	require.NotNil(t, res)
	assert.True(t, res.Degraded)
	assert.Empty(t, res.Candidates)
}

func TestDiscoverCandidatesQuery_Validate(t *testing.T) {
	q := DiscoverCandidatesQuery{RequesterID: "a"}
	require.NoError(t, q.Validate(0, 20))
	assert.Equal(t, DefaultCandidateLimit, q.limit)

	q = DiscoverCandidatesQuery{RequesterID: "a"}
	require.NoError(t, q.Validate(5, 20))
	assert.Equal(t, 5, q.limit)

	q = DiscoverCandidatesQuery{RequesterID: "a"}.WithLimit(500)
	require.NoError(t, q.Validate(0, 20))
	assert.Equal(t, 20, q.limit)

	for _, n := range []int{0, -1} {
		q = DiscoverCandidatesQuery{RequesterID: "a"}.WithLimit(n)
		assert.ErrorIs(t, q.Validate(10, 20), shared.ErrInvalidLimit, "limit %d", n)
	}
}

func TestListMatches(t *testing.T) {
	profiles := memory.NewProfileRepository(
		mustProfile(t, profile.Params{ID: "P", RoleLabel: "seeker"}),
		mustProfile(t, profile.Params{ID: "S", RoleLabel: "provider", DisplayName: "Dra. Ruiz"}),
	)
	ledger := memory.NewInteractionRepository()
	ctx := context.Background()

	link(t, ledger, "P", "S", interaction.ActionLike)
	key, _ := interaction.NewPairKey("P", "S")
	_, _, err := ledger.ApplyDecision(ctx, key, "S", interaction.ActionLike, time.Now())
	require.NoError(t, err)

	link(t, ledger, "P", "gone", interaction.ActionLike)
	key2, _ := interaction.NewPairKey("P", "gone")
	_, _, err = ledger.ApplyDecision(ctx, key2, "gone", interaction.ActionLike, time.Now())
	require.NoError(t, err)

	link(t, ledger, "P", "Q", interaction.ActionLike)

	h := NewListMatchesHandler(ledger, profiles, nil)
	matches, err := h.Handle(ctx, ListMatchesQuery{UserID: "P"})
	require.NoError(t, err)
	require.Len(t, matches, 2)

	byID := map[string]MatchDTO{}
	for _, m := range matches {
		byID[m.CounterpartID] = m
	}
	require.NotNil(t, byID["S"].Counterpart)
	assert.Equal(t, "Dra. Ruiz", byID["S"].Counterpart.DisplayName)
	assert.Nil(t, byID["gone"].Counterpart)

	_, err = h.Handle(ctx, ListMatchesQuery{})
	assert.True(t, shared.IsValidation(err))
}
