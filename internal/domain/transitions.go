package domain

import (
	"time"

	apperrors "github.com/spec-kit/account-hierarchy/pkg/util"
)

// The functions below compute the next state of a user from a snapshot.
// They perform no I/O; persisting the result is the caller's job.

// Promote turns a USER into an ADMIN.
func Promote(u User, actorID string, now time.Time) (User, error) {
	if u.Role != RoleUser {
		return u, apperrors.NewInvalidState("only USER accounts can be promoted to ADMIN", map[string]any{"role": u.Role})
	}
	next := u.Clone()
	next.Role = RoleAdmin
	next.PromotedBy = &actorID
	next.UpdatedAt = now
	return next, nil
}

// Demote turns an ADMIN back into a USER and always revokes admin visibility.
func Demote(u User, actorID string, now time.Time) (User, error) {
	if u.Role != RoleAdmin {
		return u, apperrors.NewInvalidState("only ADMIN accounts can be demoted to USER", map[string]any{"role": u.Role})
	}
	next := u.Clone()
	next.Role = RoleUser
	next.CanViewAdmins = false
	next.DemotedBy = &actorID
	next.DemotedAt = &now
	next.UpdatedAt = now
	return next, nil
}

// SetAdminVisibility controls whether an ADMIN may enumerate other ADMINs.
func SetAdminVisibility(u User, canViewAdmins bool, now time.Time) (User, error) {
	if u.Role != RoleAdmin {
		return u, apperrors.NewInvalidState("admin visibility only applies to ADMIN accounts", map[string]any{"role": u.Role})
	}
	next := u.Clone()
	next.CanViewAdmins = canViewAdmins
	next.UpdatedAt = now
	return next, nil
}

// Block marks the account blocked by actorID.
func Block(u User, actorID string, now time.Time) (User, error) {
	if u.IsBlocked() {
		return u, apperrors.NewInvalidState("user is already blocked", map[string]any{"blocked_at": u.BlockedAt})
	}
	next := u.Clone()
	next.BlockedAt = &now
	next.BlockedBy = &actorID
	next.IsActive = false
	next.UpdatedAt = now
	return next, nil
}

// Unblock clears the block and reactivates the account.
func Unblock(u User, now time.Time) (User, error) {
	if !u.IsBlocked() {
		return u, apperrors.NewInvalidState("user is not blocked", nil)
	}
	next := u.Clone()
	next.BlockedAt = nil
	next.BlockedBy = nil
	next.IsActive = true
	next.UpdatedAt = now
	return next, nil
}

// SetActive flips IsActive without touching the block fields.
func SetActive(u User, active bool, now time.Time) (User, error) {
	if u.IsActive == active {
		msg := "user is already inactive"
		if active {
			msg = "user is already active"
		}
		return u, apperrors.NewInvalidState(msg, nil)
	}
	if active && u.IsBlocked() {
		return u, apperrors.NewInvalidState("blocked users must be unblocked instead", nil)
	}
	next := u.Clone()
	next.IsActive = active
	next.UpdatedAt = now
	return next, nil
}

// IssueSecretKey stores a new recovery key hash, replacing any earlier key.
func IssueSecretKey(u User, keyHash string, now time.Time) (User, error) {
	if u.Role != RoleMaster {
		return u, apperrors.NewInvalidState("only MASTER accounts may hold a recovery key", map[string]any{"role": u.Role})
	}
	next := u.Clone()
	next.SecretKeyHash = &keyHash
	next.SecretKeyCreatedAt = &now
	next.SecretKeyUsedAt = nil
	next.UpdatedAt = now
	return next, nil
}

// SecretKeyRedeemable reports whether u holds a live recovery key at now.
func SecretKeyRedeemable(u User, now time.Time, validity time.Duration) bool {
	return u.Role == RoleMaster &&
		u.HasSecretKey() &&
		u.SecretKeyUsedAt == nil &&
		!u.SecretKeyExpired(now, validity)
}

// ResetPassword replaces the password hash.
func ResetPassword(u User, passwordHash string, now time.Time) User {
	next := u.Clone()
	next.PasswordHash = passwordHash
	next.UpdatedAt = now
	return next
}
