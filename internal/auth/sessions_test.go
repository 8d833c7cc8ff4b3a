package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pricepin/pricepin/internal/identity"
)

func TestSessions_Roundtrip(t *testing.T) {
	s, err := NewSessions("secret", time.Hour)
	require.NoError(t, err)

	token, exp, err := s.Issue(identity.User{ID: "user-1", Role: identity.RoleAdmin})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	claims, err := s.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, identity.RoleAdmin, claims.Role)
	require.NotNil(t, claims.IssuedAt)
}

func TestSessions_RejectsForeignSecret(t *testing.T) {
	a, err := NewSessions("secret-a", time.Hour)
	require.NoError(t, err)
	b, err := NewSessions("secret-b", time.Hour)
	require.NoError(t, err)

	token, _, err := a.Issue(identity.User{ID: "user-1", Role: identity.RoleUser})
	require.NoError(t, err)

	_, err = b.Parse(token)
	require.ErrorIs(t, err, ErrInvalidSession)
}

func TestSessions_RejectsExpired(t *testing.T) {
	s, err := NewSessions("secret", time.Minute)
	require.NoError(t, err)
	issuedAt := time.Now().Add(-time.Hour)
	s.now = func() time.Time { return issuedAt }

	token, _, err := s.Issue(identity.User{ID: "user-1"})
	require.NoError(t, err)

	s.now = time.Now
	_, err = s.Parse(token)
	require.ErrorIs(t, err, ErrInvalidSession)
}

func TestSessions_RejectsOtherAlgorithms(t *testing.T) {
	s, err := NewSessions("secret", time.Hour)
	require.NoError(t, err)

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	raw, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = s.Parse(raw)
	require.ErrorIs(t, err, ErrInvalidSession)

	_, err = s.Parse("garbage")
	require.ErrorIs(t, err, ErrInvalidSession)
}

func TestNewSessions_RequiresSecret(t *testing.T) {
	_, err := NewSessions("", time.Hour)
	require.Error(t, err)
}
