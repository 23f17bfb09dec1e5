package interaction

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dentameet/matching-engine/internal/domain/shared"
)

func TestNewPairKey_OrderIndependent(t *testing.T) {
	k1, err := NewPairKey("b", "a")
	require.NoError(t, err)
	k2, err := NewPairKey("a", "b")
	require.NoError(t, err)

	assert.Equal(t, k1, k2)
	assert.Equal(t, PairKey("a:b"), k1)

	a, b := k1.Users()
	assert.Equal(t, shared.UserID("a"), a)
	assert.Equal(t, shared.UserID("b"), b)
	assert.True(t, k1.Contains("a"))
	assert.False(t, k1.Contains("c"))
}

func TestNewPairKey_ByteOrder(t *testing.T) {
	tests := []struct {
		a, b shared.UserID
		want PairKey
	}{
		{"alice", "Bob", "Bob:alice"},
		{"user-10", "user-9", "user-10:user-9"},
		{"émile", "zoe", "zoe:émile"},
	}
	for _, tt := range tests {
		k, err := NewPairKey(tt.a, tt.b)
		require.NoError(t, err)
		assert.Equal(t, tt.want, k)
	}
}

func TestNewPairKey_Invalid(t *testing.T) {
	_, err := NewPairKey("a", "a")
	assert.ErrorIs(t, err, shared.ErrSelfAction)

	_, err = NewPairKey("", "a")
	assert.True(t, shared.IsValidation(err))

	_, err = NewPairKey("a:x", "b")
	assert.True(t, shared.IsValidation(err))
}

func TestParsePairKey(t *testing.T) {
	k, err := ParsePairKey("zed:amy")
	require.NoError(t, err)
	assert.Equal(t, PairKey("amy:zed"), k)

	for _, bad := range []string{"", "a", "a:a", "a:b:c", ":b"} {
		_, err := ParsePairKey(bad)
		assert.ErrorIs(t, err, shared.ErrInvalidPairKey, bad)
	}
}

func TestParseAction(t *testing.T) {
	a, err := ParseAction(" LIKE ")
	require.NoError(t, err)
	assert.Equal(t, ActionLike, a)

	_, err = ParseAction("superlike")
	assert.True(t, shared.IsValidation(err))
}

func TestRecord_LikeThenLikeBecomesMutual(t *testing.T) {
	now := time.Now()
	rec, err := NewRecord("id", "p", "s", ActionLike, now)
	require.NoError(t, err)
	assert.Equal(t, StateOneSidedLike, rec.State())
	assert.False(t, rec.IsMutual)

	became, err := rec.Apply("s", ActionLike, now.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, became)
	assert.True(t, rec.IsMutual)
	assert.Equal(t, StateMutual, rec.State())

	// A repeated like does not transition again.
	became, err = rec.Apply("p", ActionLike, now.Add(2*time.Second))
	require.NoError(t, err)
	assert.False(t, became)
}

func TestRecord_PassRevokesMutual(t *testing.T) {
	rec, _ := NewRecord("id", "p", "s", ActionLike, time.Now())
	_, _ = rec.Apply("s", ActionLike, time.Now())

	became, err := rec.Apply("s", ActionPass, time.Now())
	require.NoError(t, err)
	assert.False(t, became)
	assert.False(t, rec.IsMutual)
	assert.Equal(t, StateOneSidedPass, rec.State())
}

func TestRecord_PassBlocksMutualUntilActorChanges(t *testing.T) {
	rec, _ := NewRecord("id", "p", "s", ActionPass, time.Now())
	assert.Equal(t, StateOneSidedPass, rec.State())

	became, _ := rec.Apply("s", ActionLike, time.Now())
	assert.False(t, became)
	assert.False(t, rec.IsMutual)

	became, _ = rec.Apply("p", ActionLike, time.Now())
	assert.True(t, became)
	assert.Equal(t, rec.InitiatorLiked && rec.ResponderLiked, rec.IsMutual)
}

func TestRecord_ApplyRejectsStranger(t *testing.T) {
	rec, _ := NewRecord("id", "p", "s", ActionLike, time.Now())
	_, err := rec.Apply("x", ActionLike, time.Now())
	assert.ErrorIs(t, err, shared.ErrNotParticipant)
}

func TestRecord_Other(t *testing.T) {
	rec, _ := NewRecord("id", "p", "s", ActionLike, time.Now())
	assert.Equal(t, shared.UserID("s"), rec.Other("p"))
	assert.Equal(t, shared.UserID("p"), rec.Other("s"))
	assert.True(t, rec.Involves("s"))

	var none *Record
	assert.Equal(t, StateNone, none.State())
}
