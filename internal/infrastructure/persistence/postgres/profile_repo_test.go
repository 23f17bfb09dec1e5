package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dentameet/matching-engine/internal/domain/profile"
	"github.com/dentameet/matching-engine/internal/domain/shared"
)

func TestBuildProfileQuery_EmptyFilter(t *testing.T) {
	query, args := buildProfileQuery(profile.Filter{})

	assert.NotContains(t, query, "WHERE")
	assert.NotContains(t, query, "LIMIT")
	assert.Contains(t, query, "ORDER BY created_at, id")
	assert.Empty(t, args)
}

func TestBuildProfileQuery_AllConditions(t *testing.T) {
	query, args := buildProfileQuery(profile.Filter{
		ExcludeIDs:    []shared.UserID{"me", "them"},
		RoleLabels:    []string{"Estudiante", "  "},
		RoleStems:     []string{"estudiant", "50%_off"},
		Region:        "  Región  Metropolitana ",
		Locality:      "Ñuñoa",
		OnlyOnboarded: true,
		Limit:         25,
	})

	assert.Contains(t, query, "NOT (id = ANY($1))")
	assert.Contains(t, query, "f_norm(role) = ANY($2)")
	assert.Contains(t, query, "f_norm(role) LIKE ANY($3)")
	assert.Contains(t, query, "f_norm(region) = $4")
	assert.Contains(t, query, "f_norm(locality) = $5")
	assert.Contains(t, query, "AND onboarding_completed")
	assert.Contains(t, query, "LIMIT $6")

	require.Len(t, args, 6)
	assert.Equal(t, []string{"me", "them"}, args[0])
	assert.Equal(t, []string{"estudiante"}, args[1])
	assert.Equal(t, []string{"%estudiant%", `%50\%\_off%`}, args[2])
	assert.Equal(t, "region metropolitana", args[3])
	assert.Equal(t, "nunoa", args[4])
	assert.Equal(t, 25, args[5])
}

func TestBuildProfileQuery_SkipsBlankValues(t *testing.T) {
	query, args := buildProfileQuery(profile.Filter{
		RoleStems: []string{""},
		Region:    "   ",
	})

	assert.NotContains(t, query, "WHERE")
	assert.Empty(t, args)
}

func TestGetMigrations_Ordered(t *testing.T) {
	migrations := GetMigrations()
	require.NotEmpty(t, migrations)

	for i, m := range migrations {
		assert.Equal(t, i+1, m.Version)
		assert.NotEmpty(t, m.UpSQL)
		assert.NotEmpty(t, m.DownSQL)
	}
}

func TestUpsertArgs_TrimsID(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	args, err := upsertArgs(profile.Params{ID: "  dr-42 \t", RoleLabel: "seeker"}, now)
	require.NoError(t, err)
	require.Len(t, args, 15)
	assert.Equal(t, "dr-42", args[0])
	assert.Equal(t, []string{}, args[7])
	assert.Equal(t, now, args[13])
	assert.Equal(t, now, args[14])

	_, err = upsertArgs(profile.Params{ID: "   "}, now)
	assert.ErrorIs(t, err, shared.ErrInvalidUserID)
}
