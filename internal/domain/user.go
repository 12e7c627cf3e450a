package domain

import (
	"time"

	"github.com/google/uuid"
)

type UserStatus string

const (
	UserStatusActive    UserStatus = "active"
	UserStatusSuspended UserStatus = "suspended"
)

type Role string

const (
	RoleSuperAdmin Role = "super_admin"
	RoleAdmin      Role = "admin"
	RoleHost       Role = "host"
	RoleGuest      Role = "guest"
)

func (r Role) IsValid() bool {
	switch r {
	case RoleSuperAdmin, RoleAdmin, RoleHost, RoleGuest:
		return true
	}
	return false
}

func (r Role) IsAdmin() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

type User struct {
	ID           uuid.UUID
	Email        string
	Name         string
	Phone        *string
	PasswordHash string
	Role         Role
	Status       UserStatus
	CreatedAt    time.Time
}
