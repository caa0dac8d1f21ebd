package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const testSecret = "a-very-long-signing-secret-value-123456"

func signToken(t *testing.T, subject string, expired bool) string {
	t.Helper()
	claims := Claims{Provider: "guest"}
	claims.Subject = subject
	if expired {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	} else {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(time.Hour))
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func TestNewValidatorRejectsShortSecret(t *testing.T) {
	_, err := NewValidator("short")
	require.Error(t, err)
}

func TestValidateTokenAcceptsValidToken(t *testing.T) {
	v, err := NewValidator(testSecret)
	require.NoError(t, err)

	claims, err := v.ValidateToken(signToken(t, "user-1", false))
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.Subject)
}

func TestValidateTokenRejectsExpiredToken(t *testing.T) {
	v, err := NewValidator(testSecret)
	require.NoError(t, err)

	_, err = v.ValidateToken(signToken(t, "user-1", true))
	require.Error(t, err)
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	v, err := NewValidator("a-different-very-long-signing-secret-12")
	require.NoError(t, err)

	_, err = v.ValidateToken(signToken(t, "user-1", false))
	require.Error(t, err)
}

func TestMockValidatorExtractsSubject(t *testing.T) {
	m := &MockValidator{}
	claims, err := m.ValidateToken("raw-user-id")
	require.NoError(t, err)
	require.Equal(t, "raw-user-id", claims.Subject)
	require.True(t, claims.Guest)
}
