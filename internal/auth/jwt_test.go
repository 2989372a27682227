package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWT_RoundTrip(t *testing.T) {
	svc := NewJWTService("secret", 1)
	token, err := svc.Generate("mod-alice", RoleAdmin)
	require.NoError(t, err)

	claims, err := svc.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "mod-alice", claims.Subject)
	assert.Equal(t, RoleAdmin, claims.Role)
	assert.NotEmpty(t, claims.ID)
}

func TestJWT_UnknownRole(t *testing.T) {
	_, err := NewJWTService("secret", 1).Generate("x", "superuser")
	assert.ErrorIs(t, err, ErrUnknownRole)
}

func TestJWT_WrongSecret(t *testing.T) {
	token, err := NewJWTService("secret", 1).Generate("site", RoleWebsite)
	require.NoError(t, err)

	_, err = NewJWTService("other", 1).Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWT_Tampered(t *testing.T) {
	svc := NewJWTService("secret", 1)
	token, err := svc.Generate("site", RoleWebsite)
	require.NoError(t, err)

	_, err = svc.Validate(token[:len(token)-2] + "xx")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWT_Expired(t *testing.T) {
	svc := NewJWTService("secret", 1)
	issued := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return issued }
	token, err := svc.Generate("site", RoleWebsite)
	require.NoError(t, err)

	svc.now = func() time.Time { return issued.Add(2 * time.Hour) }
	_, err = svc.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
