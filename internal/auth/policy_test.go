package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/spec-kit/account-hierarchy/internal/domain"
)

const protectedEmail = "owner@example.com"

func user(id string, role domain.Role, email string) *domain.User {
	return &domain.User{ID: id, Role: role, Email: email, IsActive: true}
}

func TestIsOriginalMaster(t *testing.T) {
	p := NewPolicy(protectedEmail)

	tests := []struct {
		name string
		user *domain.User
		want bool
	}{
		{"exact match", user("m1", domain.RoleMaster, protectedEmail), true},
		{"different case", user("m1", domain.RoleMaster, "Owner@example.com"), false},
		{"leading space", user("m1", domain.RoleMaster, " owner@example.com"), false},
		{"trailing space", user("m1", domain.RoleMaster, "owner@example.com "), false},
		{"admin with protected email", user("a1", domain.RoleAdmin, protectedEmail), false},
		{"other master", user("m2", domain.RoleMaster, "other@example.com"), false},
		{"nil user", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.IsOriginalMaster(tt.user))
		})
	}
}

func TestIsOriginalMaster_EmptyConfigProtectsNobody(t *testing.T) {
	p := NewPolicy("")
	assert.False(t, p.IsOriginalMaster(user("m1", domain.RoleMaster, "")))
}

func TestFineGrainedChecks(t *testing.T) {
	p := NewPolicy(protectedEmail)

	original := user("m1", domain.RoleMaster, protectedEmail)
	secondMaster := user("m2", domain.RoleMaster, "m2@example.com")
	admin := user("a1", domain.RoleAdmin, "a1@example.com")
	otherAdmin := user("a2", domain.RoleAdmin, "a2@example.com")
	plain := user("u1", domain.RoleUser, "u1@example.com")
	otherPlain := user("u2", domain.RoleUser, "u2@example.com")

	tests := []struct {
		name    string
		actor   *domain.User
		target  *domain.User
		allowed bool
		reason  string
	}{
		{"master on admin", original, admin, true, ""},
		{"master on user", original, plain, true, ""},
		{"second master on admin", secondMaster, admin, true, ""},
		{"admin on user", admin, plain, true, ""},
		{"master on self", original, original, false, ReasonSelfAction},
		{"admin on self", admin, admin, false, ReasonSelfAction},
		{"user on self", plain, plain, false, ReasonSelfAction},
		{"second master on original", secondMaster, original, false, ReasonProtectedMaster},
		{"admin on original", admin, original, false, ReasonProtectedMaster},
		{"user on original", plain, original, false, ReasonProtectedMaster},
		{"admin on second master", admin, secondMaster, false, ReasonMasterTarget},
		{"user on second master", plain, secondMaster, false, ReasonMasterTarget},
		{"master on second master", original, secondMaster, false, ReasonMasterTarget},
		{"admin on admin", admin, otherAdmin, false, ReasonAdminOnAdmin},
		{"user on user", plain, otherPlain, true, ""},
	}

	checks := map[string]func(target, actor *domain.User) Decision{
		"delete":  p.CanDeleteUser,
		"disable": p.CanDisableUser,
		"block":   p.CanBlockUser,
	}

	for checkName, check := range checks {
		for _, tt := range tests {
			t.Run(checkName+"/"+tt.name, func(t *testing.T) {
				got := check(tt.target, tt.actor)
				assert.Equal(t, tt.allowed, got.Allowed)
				assert.Equal(t, tt.reason, got.Reason)
			})
		}
	}
}

func TestCanManageUser(t *testing.T) {
	p := NewPolicy(protectedEmail)

	master := user("m1", domain.RoleMaster, protectedEmail)
	secondMaster := user("m2", domain.RoleMaster, "m2@example.com")
	admin := user("a1", domain.RoleAdmin, "a1@example.com")
	plain := user("u1", domain.RoleUser, "u1@example.com")

	tests := []struct {
		name   string
		actor  *domain.User
		target *domain.User
		want   bool
	}{
		{"master manages admin", master, admin, true},
		{"master manages user", master, plain, true},
		{"master manages itself", master, master, true},
		{"master does not manage another master", master, secondMaster, false},
		{"admin manages user", admin, plain, true},
		{"admin does not manage admin", admin, user("a2", domain.RoleAdmin, "a2@example.com"), false},
		{"admin does not manage master", admin, master, false},
		{"user manages nobody", plain, user("u2", domain.RoleUser, "u2@example.com"), false},
		{"user does not manage itself", plain, plain, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.CanManageUser(tt.actor, tt.target))
		})
	}
}
