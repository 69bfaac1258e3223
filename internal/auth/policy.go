package auth

import "github.com/spec-kit/account-hierarchy/internal/domain"

// Denial reasons returned by the fine-grained checks.
const (
	ReasonSelfAction      = "cannot act on own account"
	ReasonProtectedMaster = "protected master account"
	ReasonMasterTarget    = "cannot target a MASTER account"
	ReasonAdminOnAdmin    = "ADMIN cannot act on another ADMIN"
)

// Decision is the outcome of a permission check. Reason is empty when allowed.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision { return Decision{Allowed: true} }

func deny(reason string) Decision { return Decision{Reason: reason} }

// Policy holds the hierarchy permission rules. It has no I/O and no mutable state.
type Policy struct {
	protectedEmail string
}

// NewPolicy builds a policy protecting the master account registered under email.
func NewPolicy(protectedEmail string) *Policy {
	return &Policy{protectedEmail: protectedEmail}
}

// IsOriginalMaster reports whether u is the protected master account.
// The email comparison is byte-for-byte.
func (p *Policy) IsOriginalMaster(u *domain.User) bool {
	if u == nil || p.protectedEmail == "" {
		return false
	}
	return u.Role == domain.RoleMaster && u.Email == p.protectedEmail
}

// CanDeleteUser decides whether actor may delete target.
func (p *Policy) CanDeleteUser(target, actor *domain.User) Decision {
	return p.evaluate(target, actor)
}

// CanDisableUser decides whether actor may deactivate target.
func (p *Policy) CanDisableUser(target, actor *domain.User) Decision {
	return p.evaluate(target, actor)
}

// CanBlockUser decides whether actor may block or unblock target.
func (p *Policy) CanBlockUser(target, actor *domain.User) Decision {
	return p.evaluate(target, actor)
}

// evaluate is shared by the fine-grained checks; the first matching rule wins.
func (p *Policy) evaluate(target, actor *domain.User) Decision {
	if actor.ID == target.ID {
		return deny(ReasonSelfAction)
	}
	if p.IsOriginalMaster(target) {
		return deny(ReasonProtectedMaster)
	}
	switch target.Role {
	case domain.RoleMaster:
		return deny(ReasonMasterTarget)
	case domain.RoleAdmin:
		if actor.Role == domain.RoleAdmin {
			return deny(ReasonAdminOnAdmin)
		}
		return allow()
	case domain.RoleUser:
		return allow()
	default:
		return deny("unknown target role")
	}
}

// CanManageUser is the coarse seniority check used for visibility and as the
// first gate on block/unblock. It ignores self-action and master protection.
func (p *Policy) CanManageUser(actor, target *domain.User) bool {
	switch actor.Role {
	case domain.RoleMaster:
		switch target.Role {
		case domain.RoleAdmin, domain.RoleUser:
			return true
		case domain.RoleMaster:
			return actor.ID == target.ID
		default:
			return false
		}
	case domain.RoleAdmin:
		return target.Role == domain.RoleUser
	case domain.RoleUser:
		return false
	default:
		return false
	}
}
