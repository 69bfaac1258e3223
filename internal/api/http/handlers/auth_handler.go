package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/account-hierarchy/internal/api/dto"
	"github.com/spec-kit/account-hierarchy/internal/auth"
	"github.com/spec-kit/account-hierarchy/internal/service"
)

// AuthHandler exposes login and password endpoints.
type AuthHandler struct {
	auth      *service.AuthService
	validator *RequestValidator
}

// NewAuthHandler constructs handler.
func NewAuthHandler(authService *service.AuthService, validator *RequestValidator) *AuthHandler {
	return &AuthHandler{auth: authService, validator: validator}
}

// Login handles POST /auth/login.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := h.validator.bindJSON(c, &req); err != nil {
		return err
	}

	user, token, exp, err := h.auth.Login(c.UserContext(), req.Login, req.Password)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"data": fiber.Map{
			"user": dto.NewUserResponse(user),
			"auth": dto.AuthResponse{Token: token, ExpiresAt: exp},
		},
	})
}

// ChangePassword handles POST /auth/password/change.
func (h *AuthHandler) ChangePassword(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return fiber.NewError(http.StatusUnauthorized, "authentication required")
	}

	var req dto.ChangePasswordRequest
	if err := h.validator.bindJSON(c, &req); err != nil {
		return err
	}
	if err := h.auth.ChangePassword(c.UserContext(), principal.User.ID, req.CurrentPassword, req.NewPassword); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}
