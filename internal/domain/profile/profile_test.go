package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dentameet/matching-engine/internal/domain/shared"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		label string
		want  Role
	}{
		{"seeker", RoleSeeker},
		{"Paciente", RoleSeeker},
		{"ESTUDIANTE", RoleProvider},
		{"provider", RoleProvider},
		{"Dentameeter", RoleDual},
		{" dual ", RoleDual},
	}
	for _, tt := range tests {
		got, err := ParseRole(tt.label)
		require.NoError(t, err, tt.label)
		assert.Equal(t, tt.want, got, tt.label)
	}

	_, err := ParseRole("admin")
	assert.True(t, shared.IsValidation(err))
}

func TestClassifyRole_Fuzzy(t *testing.T) {
	assert.Equal(t, RoleSeeker, ClassifyRole("Pacientes"))
	assert.Equal(t, RoleProvider, ClassifyRole("estudiante de odontología"))
	assert.Equal(t, RoleDual, ClassifyRole("dentameeter-beta"))
	assert.Equal(t, RoleUnknown, ClassifyRole("admin"))
	assert.Equal(t, RoleUnknown, ClassifyRole(""))
}

func TestRole_Compatibility(t *testing.T) {
	provider := RoleProvider.CompatibleLabels()
	assert.Contains(t, provider, "paciente")
	assert.Contains(t, provider, "dentameeter")
	assert.NotContains(t, provider, "estudiante")

	dual := RoleDual.CompatibleStems()
	assert.Contains(t, dual, "pacient")
	assert.Contains(t, dual, "estudiant")
	assert.NotContains(t, dual, "dentameet")

	assert.Empty(t, RoleUnknown.CompatibleLabels())
	assert.Empty(t, RoleUnknown.CompatibleStems())
}

func TestRole_CompatibleLabels(t *testing.T) {
	labels := RoleSeeker.CompatibleLabels()
	assert.Contains(t, labels, "estudiante")
	assert.Contains(t, labels, "dentameeter")
	assert.NotContains(t, labels, "paciente")

	assert.Contains(t, RoleProvider.CompatibleStems(), "pacient")
}

func TestTagSet(t *testing.T) {
	tags := NewTagSet("Limpieza", "limpieza", " ", "Blanqueamiento")
	assert.Equal(t, TagSet{"blanqueamiento", "limpieza"}, tags)
	assert.True(t, tags.Contains("LIMPIEZA"))
	assert.False(t, tags.Contains("ortodoncia"))
}

func TestTagSet_OverlapPairs(t *testing.T) {
	interests := NewTagSet("cleaning", "whitening")
	offers := NewTagSet("Deep Cleaning", "whitening", "ortho")

	assert.Equal(t, 2, interests.OverlapPairs(offers))
	assert.Equal(t, 2, offers.OverlapPairs(interests))
	assert.Equal(t, 0, interests.OverlapPairs(nil))
}

func TestNewProfile(t *testing.T) {
	lat, lon := 4.71, -74.07
	p, err := NewProfile(Params{
		ID:           "u1",
		RoleLabel:    "Paciente",
		Region:       "Cundinamarca",
		Locality:     "Bogotá",
		Latitude:     &lat,
		Longitude:    &lon,
		InterestTags: []string{"Limpieza"},
		Phone:        "+57 300",
		Bio:          "  ",
	})
	require.NoError(t, err)

	assert.Equal(t, RoleSeeker, p.Role)
	assert.Equal(t, "bogota", p.Location.Locality)
	assert.Equal(t, "cundinamarca", p.Location.Region)
	require.NotNil(t, p.Location.Coordinates)
	assert.Equal(t, 1, p.Completeness.Count())

	_, err = NewProfile(Params{ID: ""})
	assert.True(t, shared.IsValidation(err))
}

func TestNewLocation_DropsPartialCoordinates(t *testing.T) {
	lat := 4.0
	assert.Nil(t, NewLocation("r", "l", &lat, nil).Coordinates)

	bad := 200.0
	assert.Nil(t, NewLocation("r", "l", &lat, &bad).Coordinates)
}

func TestFilter_Matches(t *testing.T) {
	p := &Profile{
		ID:                  "s1",
		RoleLabel:           "Estudiante",
		Location:            Location{Region: "antioquia", Locality: "medellin"},
		OnboardingCompleted: true,
	}

	assert.True(t, Filter{}.Matches(p))
	assert.True(t, Filter{Locality: "Medellín", RoleLabels: RoleSeeker.CompatibleLabels()}.Matches(p))
	assert.False(t, Filter{Locality: "Cali"}.Matches(p))
	assert.True(t, Filter{Region: "ANTIOQUIA"}.Matches(p))
	assert.False(t, Filter{ExcludeIDs: []shared.UserID{"s1"}}.Matches(p))
	assert.True(t, Filter{RoleStems: []string{"estudiant"}}.Matches(p))
	assert.False(t, Filter{RoleStems: []string{"pacient"}}.Matches(p))

	p.OnboardingCompleted = false
	assert.False(t, Filter{OnlyOnboarded: true}.Matches(p))
	assert.False(t, Filter{}.Matches(nil))
}
