package dto

import "time"

// RedeemRecoveryKeyRequest resets the MASTER password with a recovery key.
type RedeemRecoveryKeyRequest struct {
	Username    string `json:"username" validate:"required"`
	SecretKey   string `json:"secret_key" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,min=12"`
}

// RecoveryKeyResponse returns a freshly issued key. It is shown exactly once.
type RecoveryKeyResponse struct {
	SecretKey string    `json:"secret_key"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RecoveryKeyStatusResponse reports whether the caller holds a live key.
type RecoveryKeyStatusResponse struct {
	HasValidKey bool `json:"has_valid_key"`
}
