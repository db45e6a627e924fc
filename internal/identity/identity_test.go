package identity

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndVerify(t *testing.T) {
	j := NewJWT("test-secret", "bookswap")
	user := uuid.New()

	token, err := j.Issue(user, time.Hour)
	require.NoError(t, err)

	got, err := j.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, user, got)
}

func TestVerifyRejects(t *testing.T) {
	j := NewJWT("test-secret", "bookswap")
	user := uuid.New()

	expired, err := j.Issue(user, -time.Minute)
	require.NoError(t, err)

	otherKey, err := NewJWT("other-secret", "bookswap").Issue(user, time.Hour)
	require.NoError(t, err)

	otherIssuer, err := NewJWT("test-secret", "someone-else").Issue(user, time.Hour)
	require.NoError(t, err)

	badSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "not-a-uuid",
		Issuer:    "bookswap",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject: user.String(),
		Issuer:  "bookswap",
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	for name, token := range map[string]string{
		"expired":      expired,
		"wrong key":    otherKey,
		"wrong issuer": otherIssuer,
		"bad subject":  badSubject,
		"no expiry":    noExpiry,
		"garbage":      "abc.def.ghi",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := j.Verify(token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestMissingSecret(t *testing.T) {
	j := NewJWT("", "")
	_, err := j.Issue(uuid.New(), time.Hour)
	assert.ErrorIs(t, err, ErrNoSecret)
	_, err = j.Verify("anything")
	assert.ErrorIs(t, err, ErrNoSecret)
}
