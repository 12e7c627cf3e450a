package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/roomlink-settlements/internal/auth"
	"github.com/josh-kwaku/roomlink-settlements/internal/domain"
)

const testSecret = "middleware-secret"

func token(t *testing.T, role domain.Role) (uuid.UUID, string) {
	t.Helper()
	id := uuid.New()
	tok, err := auth.GenerateToken(id, "user@roomlink.test", role, testSecret, time.Hour)
	require.NoError(t, err)
	return id, tok
}

func TestAuth(t *testing.T) {
	userID, valid := token(t, domain.RoleHost)

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{"valid token", "Bearer " + valid, http.StatusOK},
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + valid, http.StatusUnauthorized},
		{"garbage token", "Bearer not.a.jwt", http.StatusUnauthorized},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var gotID uuid.UUID
			var gotRole domain.Role
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotID, _ = auth.UserIDFromContext(r.Context())
				gotRole, _ = auth.RoleFromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/api/v1/earnings", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr := httptest.NewRecorder()
			Auth(testSecret)(next).ServeHTTP(rr, req)

			assert.Equal(t, tc.wantStatus, rr.Code)
			if tc.wantStatus == http.StatusOK {
				assert.Equal(t, userID, gotID)
				assert.Equal(t, domain.RoleHost, gotRole)
			}
		})
	}
}

func TestRequireAdmin(t *testing.T) {
	tests := []struct {
		role       domain.Role
		wantStatus int
	}{
		{domain.RoleAdmin, http.StatusOK},
		{domain.RoleSuperAdmin, http.StatusOK},
		{domain.RoleHost, http.StatusForbidden},
		{domain.RoleGuest, http.StatusForbidden},
	}

	for _, tc := range tests {
		t.Run(string(tc.role), func(t *testing.T) {
			_, tok := token(t, tc.role)
			next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

			req := httptest.NewRequest(http.MethodGet, "/api/v1/settlements", nil)
			req.Header.Set("Authorization", "Bearer "+tok)
			rr := httptest.NewRecorder()
			Auth(testSecret)(RequireAdmin(next)).ServeHTTP(rr, req)

			assert.Equal(t, tc.wantStatus, rr.Code)
		})
	}

	t.Run("without auth", func(t *testing.T) {
		rr := httptest.NewRecorder()
		RequireAdmin(http.NotFoundHandler()).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}
