// ABOUTME: Unit tests for JWT token verification and generation
// ABOUTME: Tests valid, tampered, foreign-issuer, missing-subject and expired tokens

package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret-key-for-jwt-signing")

func TestJWTVerifier_RoundTrip(t *testing.T) {
	verifier := NewJWTVerifier(testSecret)

	for _, sub := range []string{"alice", "bob", "ops-dashboard"} {
		token, err := verifier.Generate(sub, time.Hour)
		require.NoError(t, err)
		require.NotEmpty(t, token)

		got, err := verifier.Verify(token)
		require.NoError(t, err)
		assert.Equal(t, sub, got)
	}
}

func TestJWTVerifier_InvalidToken(t *testing.T) {
	verifier := NewJWTVerifier(testSecret)

	foreign, err := NewJWTVerifier([]byte("different-secret")).Generate("alice", time.Hour)
	require.NoError(t, err)

	otherIssuer, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "alice",
		Issuer:    "someone-else",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(testSecret)
	require.NoError(t, err)

	noneAlg, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject: "alice",
		Issuer:  Issuer,
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := map[string]string{
		"empty token":       "",
		"garbage token":     "not-a-jwt-token",
		"malformed JWT":     "header.payload.signature",
		"wrong secret":      foreign,
		"wrong issuer":      otherIssuer,
		"unsigned none alg": noneAlg,
	}

	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := verifier.Verify(token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestJWTVerifier_MissingSubject(t *testing.T) {
	verifier := NewJWTVerifier(testSecret)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    Issuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(testSecret)
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	assert.ErrorIs(t, err, ErrMissingClaim)
}

func TestJWTVerifier_ExpiredToken(t *testing.T) {
	verifier := NewJWTVerifier(testSecret)

	token, err := verifier.Generate("alice", -time.Hour)
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestJWTVerifier_ExpiresWithClock(t *testing.T) {
	verifier := NewJWTVerifier(testSecret)
	start := time.Now()
	verifier.now = func() time.Time { return start }

	token, err := verifier.Generate("alice", time.Minute)
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	require.NoError(t, err)

	verifier.now = func() time.Time { return start.Add(2 * time.Minute) }
	_, err = verifier.Verify(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}
