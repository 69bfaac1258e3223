package events

import (
	"time"

	"github.com/spec-kit/account-hierarchy/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventUserPromoted           EventType = "user_promoted"
	EventUserDemoted            EventType = "user_demoted"
	EventAdminVisibilityChanged EventType = "admin_visibility_changed"
	EventUserBlocked            EventType = "user_blocked"
	EventUserUnblocked          EventType = "user_unblocked"
	EventUserActivationChanged  EventType = "user_activation_changed"
	EventUserDeleted            EventType = "user_deleted"
	EventSecretKeyIssued        EventType = "secret_key_issued"
	EventSecretKeyRedeemed      EventType = "secret_key_redeemed"
)

// Event is published after the mutation it describes has been committed.
type Event struct {
	ID          string      `json:"id"`
	Type        EventType   `json:"type"`
	UserID      string      `json:"user_id"`
	PerformedBy *string     `json:"performed_by,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
	Payload     interface{} `json:"payload"`
}

// RoleChangedPayload accompanies promotions and demotions.
type RoleChangedPayload struct {
	OldRole domain.Role `json:"old_role"`
	NewRole domain.Role `json:"new_role"`
	Reason  string      `json:"reason,omitempty"`
}

// BlockChangedPayload accompanies block and unblock.
type BlockChangedPayload struct {
	BlockedAt *time.Time `json:"blocked_at,omitempty"`
	Reason    string     `json:"reason,omitempty"`
}

// ActivationChangedPayload accompanies activation toggles.
type ActivationChangedPayload struct {
	Active bool   `json:"active"`
	Reason string `json:"reason,omitempty"`
}

// VisibilityChangedPayload accompanies admin visibility toggles.
type VisibilityChangedPayload struct {
	CanViewAdmins bool `json:"can_view_admins"`
}

// SecretKeyPayload accompanies recovery key events. It never carries the key.
type SecretKeyPayload struct {
	Email string `json:"email"`
}
