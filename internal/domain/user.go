package domain

import (
	"fmt"
	"time"
)

// Role is the position of an account in the MASTER > ADMIN > USER hierarchy.
type Role string

const (
	RoleMaster Role = "MASTER"
	RoleAdmin  Role = "ADMIN"
	RoleUser   Role = "USER"
)

// Roles lists every role from most to least privileged.
var Roles = []Role{RoleMaster, RoleAdmin, RoleUser}

// ParseRole converts raw input into a Role, rejecting unknown values.
func ParseRole(raw string) (Role, error) {
	switch Role(raw) {
	case RoleMaster, RoleAdmin, RoleUser:
		return Role(raw), nil
	default:
		return "", fmt.Errorf("unknown role %q", raw)
	}
}

// Valid reports whether r is one of the three known roles.
func (r Role) Valid() bool {
	_, err := ParseRole(string(r))
	return err == nil
}

// User is the account record that the hierarchy and recovery flows mutate.
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	Role         Role
	IsActive     bool

	BlockedAt *time.Time
	BlockedBy *string

	// CanViewAdmins only has meaning while Role is ADMIN.
	CanViewAdmins bool

	PromotedBy *string
	DemotedBy  *string
	DemotedAt  *time.Time

	SecretKeyHash      *string
	SecretKeyCreatedAt *time.Time
	SecretKeyUsedAt    *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsBlocked reports whether the account is currently blocked.
func (u User) IsBlocked() bool {
	return u.BlockedAt != nil
}

// HasSecretKey reports whether a recovery key hash is stored.
func (u User) HasSecretKey() bool {
	return u.SecretKeyHash != nil && *u.SecretKeyHash != ""
}

// SecretKeyExpired reports whether the stored key is older than validity at now.
// A key without a creation time never expires.
func (u User) SecretKeyExpired(now time.Time, validity time.Duration) bool {
	if u.SecretKeyCreatedAt == nil {
		return false
	}
	return u.SecretKeyCreatedAt.Add(validity).Before(now)
}

// Clone returns a deep copy so callers can derive new states from a snapshot.
func (u User) Clone() User {
	out := u
	out.BlockedAt = cloneTime(u.BlockedAt)
	out.BlockedBy = cloneString(u.BlockedBy)
	out.PromotedBy = cloneString(u.PromotedBy)
	out.DemotedBy = cloneString(u.DemotedBy)
	out.DemotedAt = cloneTime(u.DemotedAt)
	out.SecretKeyHash = cloneString(u.SecretKeyHash)
	out.SecretKeyCreatedAt = cloneTime(u.SecretKeyCreatedAt)
	out.SecretKeyUsedAt = cloneTime(u.SecretKeyUsedAt)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
