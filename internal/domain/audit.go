package domain

import "time"

// AuditAction names a recorded hierarchy or recovery mutation.
type AuditAction string

const (
	AuditUserPromoted           AuditAction = "USER_PROMOTED"
	AuditUserDemoted            AuditAction = "USER_DEMOTED"
	AuditAdminVisibilityChanged AuditAction = "ADMIN_VISIBILITY_CHANGED"
	AuditUserBlocked            AuditAction = "USER_BLOCKED"
	AuditUserUnblocked          AuditAction = "USER_UNBLOCKED"
	AuditUserDeactivated        AuditAction = "USER_DEACTIVATED"
	AuditUserActivated          AuditAction = "USER_ACTIVATED"
	AuditUserDeleted            AuditAction = "USER_DELETED"
	AuditSecretKeyIssued        AuditAction = "SECRET_KEY_ISSUED"
	AuditSecretKeyRedeemed      AuditAction = "SECRET_KEY_REDEEMED"
)

// AuditEntry is an immutable audit trail entry.
type AuditEntry struct {
	ID           string
	Action       AuditAction
	TargetUserID string
	PerformedBy  *string
	Description  string
	Details      map[string]any
	CreatedAt    time.Time
}
