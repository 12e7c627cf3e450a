package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/roomlink-settlements/internal/domain"
)

const testSecret = "test-jwt-secret"

func TestGenerateAndValidateToken(t *testing.T) {
	userID := uuid.New()
	email := "admin@roomlink.test"

	token, err := GenerateToken(userID, email, domain.RoleAdmin, testSecret, 24*time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := ValidateToken(token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, email, claims.Email)
	assert.Equal(t, domain.RoleAdmin, claims.Role)
}

func TestValidateToken(t *testing.T) {
	userID := uuid.New()
	email := "host@roomlink.test"

	validToken, err := GenerateToken(userID, email, domain.RoleHost, testSecret, 24*time.Hour)
	require.NoError(t, err)

	expiredToken, err := GenerateToken(userID, email, domain.RoleHost, testSecret, -1*time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name      string
		token     string
		secret    string
		wantErrIs error
	}{
		{
			name:      "expired token",
			token:     expiredToken,
			secret:    testSecret,
			wantErrIs: jwt.ErrTokenExpired,
		},
		{
			name:      "wrong secret",
			token:     validToken,
			secret:    "wrong-secret",
			wantErrIs: jwt.ErrTokenSignatureInvalid,
		},
		{
			name:      "malformed token",
			token:     "not.a.valid.jwt",
			secret:    testSecret,
			wantErrIs: jwt.ErrTokenMalformed,
		},
		{
			name:      "empty token",
			token:     "",
			secret:    testSecret,
			wantErrIs: jwt.ErrTokenMalformed,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ValidateToken(tc.token, tc.secret)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.wantErrIs)
		})
	}
}

func TestValidateToken_RejectsUnknownRole(t *testing.T) {
	token, err := GenerateToken(uuid.New(), "x@roomlink.test", domain.Role("landlord"), testSecret, time.Hour)
	require.NoError(t, err)

	_, err = ValidateToken(token, testSecret)
	require.Error(t, err)
}

func TestValidateToken_RejectsNonHMAC(t *testing.T) {
	// Algorithm confusion: a token signed with "none" should be rejected
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		UserID: uuid.NewString(),
		Email:  "admin@roomlink.test",
		Role:   string(domain.RoleSuperAdmin),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodNone, claims)
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = ValidateToken(signed, testSecret)
	require.Error(t, err)
}

func TestContextWithClaims(t *testing.T) {
	claims := &Claims{UserID: uuid.New(), Role: domain.RoleHost}
	ctx := ContextWithClaims(context.Background(), claims)

	id, ok := UserIDFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, claims.UserID, id)

	role, ok := RoleFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, domain.RoleHost, role)

	_, ok = RoleFromContext(context.Background())
	assert.False(t, ok)
}
