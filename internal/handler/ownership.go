package handler

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/josh-kwaku/roomlink-settlements/internal/auth"
	"github.com/josh-kwaku/roomlink-settlements/internal/domain"
)

type principal struct {
	ID   uuid.UUID
	Role domain.Role
}

func principalFrom(r *http.Request) (principal, *AppError) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		return principal{}, ErrMissingToken
	}
	role, _ := auth.RoleFromContext(r.Context())
	return principal{ID: userID, Role: role}, nil
}

// canSee reports whether p may read data belonging to ownerID. Hosts only see
// their own records; anything else is reported as not found.
func (p principal) canSee(ownerID uuid.UUID) bool {
	return p.Role.IsAdmin() || p.ID == ownerID
}
