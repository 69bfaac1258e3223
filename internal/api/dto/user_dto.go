package dto

import (
	"time"

	"github.com/spec-kit/account-hierarchy/internal/domain"
)

// LoginRequest payload for login. Login accepts a username or an email.
type LoginRequest struct {
	Login    string `json:"login" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// ChangePasswordRequest payload for authenticated password changes.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=12"`
}

// AuthResponse standard response for auth endpoints.
type AuthResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ReasonRequest carries an optional free-text reason for a hierarchy change.
type ReasonRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// AdminVisibilityRequest toggles whether an ADMIN may see other ADMINs.
type AdminVisibilityRequest struct {
	CanViewAdmins *bool `json:"can_view_admins" validate:"required"`
}

// ListUsersQuery holds the filters accepted by GET /admin/users.
type ListUsersQuery struct {
	Role          string `query:"role" validate:"omitempty,oneof=MASTER ADMIN USER"`
	Active        *bool  `query:"active"`
	Blocked       *bool  `query:"blocked"`
	CanViewAdmins *bool  `query:"can_view_admins"`
	Limit         int    `query:"limit" validate:"gte=0,lte=200"`
	Offset        int    `query:"offset" validate:"gte=0"`
}

// UserResponse is the public view of a user. Secret and password hashes are
// never exposed.
type UserResponse struct {
	ID            string      `json:"id"`
	Username      string      `json:"username"`
	Email         string      `json:"email"`
	Role          domain.Role `json:"role"`
	IsActive      bool        `json:"is_active"`
	BlockedAt     *time.Time  `json:"blocked_at,omitempty"`
	BlockedBy     *string     `json:"blocked_by,omitempty"`
	CanViewAdmins bool        `json:"can_view_admins"`
	PromotedBy    *string     `json:"promoted_by,omitempty"`
	DemotedBy     *string     `json:"demoted_by,omitempty"`
	DemotedAt     *time.Time  `json:"demoted_at,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// NewUserResponse maps a domain user onto its public view.
func NewUserResponse(u *domain.User) UserResponse {
	return UserResponse{
		ID:            u.ID,
		Username:      u.Username,
		Email:         u.Email,
		Role:          u.Role,
		IsActive:      u.IsActive,
		BlockedAt:     u.BlockedAt,
		BlockedBy:     u.BlockedBy,
		CanViewAdmins: u.CanViewAdmins,
		PromotedBy:    u.PromotedBy,
		DemotedBy:     u.DemotedBy,
		DemotedAt:     u.DemotedAt,
		CreatedAt:     u.CreatedAt,
		UpdatedAt:     u.UpdatedAt,
	}
}
