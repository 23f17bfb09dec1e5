package shared

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewUserID(t *testing.T) {
	id, err := NewUserID("  user-1 ")
	assert.NoError(t, err)
	assert.Equal(t, UserID("user-1"), id)

	_, err = NewUserID("")
	assert.True(t, IsValidation(err))

	_, err = NewUserID("a:b")
	assert.True(t, IsValidation(err))
}

func TestCoordinates_DistanceKm(t *testing.T) {
	bogota := Coordinates{Latitude: 4.7110, Longitude: -74.0721}
	medellin := Coordinates{Latitude: 6.2442, Longitude: -75.5812}

	assert.InDelta(t, 0, bogota.DistanceKm(bogota), 1e-9)
	assert.InDelta(t, 240, bogota.DistanceKm(medellin), 5)
	assert.InDelta(t, bogota.DistanceKm(medellin), medellin.DistanceKm(bogota), 1e-9)
}

func TestCoordinates_IsValid(t *testing.T) {
	assert.True(t, Coordinates{Latitude: 10, Longitude: 20}.IsValid())
	assert.False(t, Coordinates{Latitude: 91, Longitude: 0}.IsValid())
	assert.False(t, Coordinates{Latitude: 0, Longitude: -181}.IsValid())
}

func TestDomainError_Kinds(t *testing.T) {
	assert.True(t, IsNotFound(ErrProfileNotFound))
	assert.True(t, IsNotFound(ErrPairNotFound))
	assert.True(t, IsConflict(ErrPairExists))
	assert.True(t, IsValidation(ErrSelfAction))
	assert.False(t, IsStoreUnavailable(ErrSelfAction))

	driverErr := errors.New("connection refused")
	wrapped := StoreError("interaction", "Insert", driverErr)
	assert.True(t, IsStoreUnavailable(wrapped))
	assert.ErrorIs(t, wrapped, driverErr)
	assert.Contains(t, wrapped.Error(), "interaction.Insert")

	assert.Equal(t, ErrPairExists, StoreError("interaction", "Insert", ErrPairExists))
	assert.Nil(t, StoreError("x", "y", nil))
}
