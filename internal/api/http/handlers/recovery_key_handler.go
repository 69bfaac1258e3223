package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/account-hierarchy/internal/api/dto"
	"github.com/spec-kit/account-hierarchy/internal/service"
)

// RecoveryKeyHandler exposes recovery key issuance and redemption.
type RecoveryKeyHandler struct {
	keys      *service.SecretKeyService
	validator *RequestValidator
}

// NewRecoveryKeyHandler constructs handler.
func NewRecoveryKeyHandler(keys *service.SecretKeyService, validator *RequestValidator) *RecoveryKeyHandler {
	return &RecoveryKeyHandler{keys: keys, validator: validator}
}

// Issue handles POST /admin/recovery-key. The caller receives a key for
// their own MASTER account.
func (h *RecoveryKeyHandler) Issue(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}

	key, expiresAt, err := h.keys.IssueSecretKey(c.UserContext(), actor.ID)
	if err != nil {
		return err
	}

	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"data": dto.RecoveryKeyResponse{SecretKey: key, ExpiresAt: expiresAt.UTC()},
	})
}

// Status handles GET /admin/recovery-key/status.
func (h *RecoveryKeyHandler) Status(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}

	valid, err := h.keys.HasValidSecretKey(c.UserContext(), actor.ID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.RecoveryKeyStatusResponse{HasValidKey: valid}})
}

// Redeem handles POST /auth/recovery/redeem.
func (h *RecoveryKeyHandler) Redeem(c *fiber.Ctx) error {
	var req dto.RedeemRecoveryKeyRequest
	if err := h.validator.bindJSON(c, &req); err != nil {
		return err
	}

	if _, err := h.keys.RedeemSecretKey(c.UserContext(), req.Username, req.SecretKey, req.NewPassword); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}
