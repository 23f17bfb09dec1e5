package shared

import (
	"math"
	"strings"
)

// ═══════════════════════════════════════════════════════════════════════════
// ID Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// UserID is an opaque participant identifier issued by the profile store.
type UserID string

// PairSeparator joins the two identifiers of a pair key, so it may not
// appear inside a UserID.
const PairSeparator = ":"

const maxUserIDLength = 128

// IsValid checks that the ID is non-empty, bounded and free of the pair separator.
func (u UserID) IsValid() bool {
	s := string(u)
	return s != "" && len(s) <= maxUserIDLength && !strings.Contains(s, PairSeparator)
}

// String returns the string representation.
func (u UserID) String() string {
	return string(u)
}

// NewUserID creates a new UserID with validation.
func NewUserID(id string) (UserID, error) {
	uid := UserID(strings.TrimSpace(id))
	if !uid.IsValid() {
		return "", ErrInvalidUserID
	}
	return uid, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Coordinates
// ═══════════════════════════════════════════════════════════════════════════

// EarthRadiusKm is the mean earth radius used for great-circle distances.
const EarthRadiusKm = 6371.0

// Coordinates is a WGS84 point in degrees.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// IsValid checks the coordinate ranges.
func (c Coordinates) IsValid() bool {
	return c.Latitude >= -90 && c.Latitude <= 90 &&
		c.Longitude >= -180 && c.Longitude <= 180 &&
		!math.IsNaN(c.Latitude) && !math.IsNaN(c.Longitude)
}

// DistanceKm returns the haversine distance to other in kilometres.
func (c Coordinates) DistanceKm(other Coordinates) float64 {
	lat1 := toRadians(c.Latitude)
	lat2 := toRadians(other.Latitude)
	dLat := toRadians(other.Latitude - c.Latitude)
	dLon := toRadians(other.Longitude - c.Longitude)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return EarthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
