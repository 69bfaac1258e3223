package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/spec-kit/account-hierarchy/pkg/util"
)

var t0 = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func TestPromoteDemote_ForcesVisibilityOff(t *testing.T) {
	u := User{ID: "u1", Role: RoleUser, IsActive: true}

	promoted, err := Promote(u, "m1", t0)
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, promoted.Role)
	assert.Equal(t, "m1", *promoted.PromotedBy)
	assert.Equal(t, RoleUser, u.Role, "snapshot must not change")

	for _, visible := range []bool{true, false} {
		withVisibility, err := SetAdminVisibility(promoted, visible, t0)
		require.NoError(t, err)

		demoted, err := Demote(withVisibility, "m1", t0.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, RoleUser, demoted.Role)
		assert.False(t, demoted.CanViewAdmins)
		assert.Equal(t, "m1", *demoted.DemotedBy)
		assert.True(t, demoted.DemotedAt.Equal(t0.Add(time.Hour)))
	}
}

func TestPromote_RejectsNonUser(t *testing.T) {
	for _, role := range []Role{RoleAdmin, RoleMaster} {
		_, err := Promote(User{Role: role}, "m1", t0)
		assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidState), role)
	}
}

func TestDemote_RejectsNonAdmin(t *testing.T) {
	for _, role := range []Role{RoleUser, RoleMaster} {
		_, err := Demote(User{Role: role}, "m1", t0)
		assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidState), role)
	}
}

func TestSetAdminVisibility_OnlyAdmins(t *testing.T) {
	_, err := SetAdminVisibility(User{Role: RoleUser}, true, t0)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidState))
}

func TestBlockUnblock(t *testing.T) {
	u := User{ID: "u1", Role: RoleUser, IsActive: true}

	blocked, err := Block(u, "a1", t0)
	require.NoError(t, err)
	require.NotNil(t, blocked.BlockedAt)
	assert.False(t, blocked.IsActive)
	assert.Equal(t, "a1", *blocked.BlockedBy)

	_, err = Block(blocked, "a1", t0)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidState))
	assert.Contains(t, err.Error(), "already blocked")

	unblocked, err := Unblock(blocked, t0)
	require.NoError(t, err)
	assert.Nil(t, unblocked.BlockedAt)
	assert.Nil(t, unblocked.BlockedBy)
	assert.True(t, unblocked.IsActive)

	_, err = Unblock(unblocked, t0)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidState))
}

func TestSetActive(t *testing.T) {
	u := User{ID: "u1", Role: RoleUser, IsActive: true}

	off, err := SetActive(u, false, t0)
	require.NoError(t, err)
	assert.False(t, off.IsActive)
	assert.Nil(t, off.BlockedAt)

	_, err = SetActive(off, false, t0)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidState))

	blocked, err := Block(u, "a1", t0)
	require.NoError(t, err)
	_, err = SetActive(blocked, true, t0)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidState))
}

func TestIssueSecretKey(t *testing.T) {
	used := t0.Add(-time.Hour)
	m := User{ID: "m1", Role: RoleMaster, SecretKeyUsedAt: &used}

	next, err := IssueSecretKey(m, "hash", t0)
	require.NoError(t, err)
	assert.Equal(t, "hash", *next.SecretKeyHash)
	assert.True(t, next.SecretKeyCreatedAt.Equal(t0))
	assert.Nil(t, next.SecretKeyUsedAt)

	_, err = IssueSecretKey(User{Role: RoleAdmin}, "hash", t0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only MASTER accounts may hold a recovery key")
}

func TestSecretKeyRedeemable(t *testing.T) {
	const validity = 90 * 24 * time.Hour
	hash := "hash"
	created := t0

	m := User{Role: RoleMaster, SecretKeyHash: &hash, SecretKeyCreatedAt: &created}
	assert.True(t, SecretKeyRedeemable(m, t0.Add(89*24*time.Hour), validity))
	assert.True(t, SecretKeyRedeemable(m, t0.Add(validity), validity))
	assert.False(t, SecretKeyRedeemable(m, t0.Add(91*24*time.Hour), validity))

	noCreated := m.Clone()
	noCreated.SecretKeyCreatedAt = nil
	assert.True(t, SecretKeyRedeemable(noCreated, t0.Add(10*365*24*time.Hour), validity))

	used := m.Clone()
	usedAt := t0
	used.SecretKeyUsedAt = &usedAt
	assert.False(t, SecretKeyRedeemable(used, t0, validity))

	admin := m.Clone()
	admin.Role = RoleAdmin
	assert.False(t, SecretKeyRedeemable(admin, t0, validity))
}

func TestParseRole(t *testing.T) {
	for _, r := range Roles {
		got, err := ParseRole(string(r))
		require.NoError(t, err)
		assert.Equal(t, r, got)
	}
	_, err := ParseRole("master")
	assert.Error(t, err)
	assert.False(t, Role("ROOT").Valid())
}
