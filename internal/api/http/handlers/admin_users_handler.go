package handlers

import (
	"context"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/account-hierarchy/internal/api/dto"
	"github.com/spec-kit/account-hierarchy/internal/auth"
	"github.com/spec-kit/account-hierarchy/internal/domain"
	"github.com/spec-kit/account-hierarchy/internal/service"
)

// AdminUsersHandler exposes hierarchy management endpoints.
type AdminUsersHandler struct {
	hierarchy *service.HierarchyService
	validator *RequestValidator
}

// NewAdminUsersHandler constructs handler.
func NewAdminUsersHandler(hierarchy *service.HierarchyService, validator *RequestValidator) *AdminUsersHandler {
	return &AdminUsersHandler{hierarchy: hierarchy, validator: validator}
}

// List handles GET /admin/users.
func (h *AdminUsersHandler) List(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}

	var q dto.ListUsersQuery
	if err := c.QueryParser(&q); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid query")
	}
	if err := h.validator.Validate(&q); err != nil {
		return err
	}

	filters := service.VisibilityFilters{
		Active:        q.Active,
		Blocked:       q.Blocked,
		CanViewAdmins: q.CanViewAdmins,
		Limit:         q.Limit,
		Offset:        q.Offset,
	}
	if q.Role != "" {
		role := domain.Role(q.Role)
		filters.Role = &role
	}

	users, err := h.hierarchy.GetVisibleUsers(c.UserContext(), actor, filters)
	if err != nil {
		return err
	}

	out := make([]dto.UserResponse, 0, len(users))
	for i := range users {
		out = append(out, dto.NewUserResponse(&users[i]))
	}
	return c.JSON(fiber.Map{"data": out})
}

// Promote handles POST /admin/users/:id/promote.
func (h *AdminUsersHandler) Promote(c *fiber.Ctx) error {
	return h.withReason(c, h.hierarchy.PromoteToAdmin)
}

// Demote handles POST /admin/users/:id/demote.
func (h *AdminUsersHandler) Demote(c *fiber.Ctx) error {
	return h.withReason(c, h.hierarchy.DemoteToUser)
}

// Block handles POST /admin/users/:id/block.
func (h *AdminUsersHandler) Block(c *fiber.Ctx) error {
	return h.withReason(c, h.hierarchy.BlockUser)
}

// Unblock handles POST /admin/users/:id/unblock.
func (h *AdminUsersHandler) Unblock(c *fiber.Ctx) error {
	return h.withReason(c, h.hierarchy.UnblockUser)
}

// Deactivate handles POST /admin/users/:id/deactivate.
func (h *AdminUsersHandler) Deactivate(c *fiber.Ctx) error {
	return h.setActive(c, false)
}

// Activate handles POST /admin/users/:id/activate.
func (h *AdminUsersHandler) Activate(c *fiber.Ctx) error {
	return h.setActive(c, true)
}

// SetAdminVisibility handles PUT /admin/users/:id/admin-visibility.
func (h *AdminUsersHandler) SetAdminVisibility(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	var req dto.AdminVisibilityRequest
	if err := h.validator.bindJSON(c, &req); err != nil {
		return err
	}

	user, err := h.hierarchy.ToggleAdminVisibility(c.UserContext(), actor, c.Params("id"), *req.CanViewAdmins)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewUserResponse(user)})
}

// Delete handles DELETE /admin/users/:id.
func (h *AdminUsersHandler) Delete(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	reason, err := h.reason(c)
	if err != nil {
		return err
	}
	if err := h.hierarchy.DeleteUser(c.UserContext(), actor, c.Params("id"), reason); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

type reasonedTransition func(ctx context.Context, actor *domain.User, targetID, reason string) (*domain.User, error)

func (h *AdminUsersHandler) withReason(c *fiber.Ctx, fn reasonedTransition) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	reason, err := h.reason(c)
	if err != nil {
		return err
	}

	user, err := fn(c.UserContext(), actor, c.Params("id"), reason)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewUserResponse(user)})
}

func (h *AdminUsersHandler) setActive(c *fiber.Ctx, active bool) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	reason, err := h.reason(c)
	if err != nil {
		return err
	}

	user, err := h.hierarchy.SetUserActive(c.UserContext(), actor, c.Params("id"), active, reason)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewUserResponse(user)})
}

// reason reads the optional body. An empty body means no reason.
func (h *AdminUsersHandler) reason(c *fiber.Ctx) (string, error) {
	if len(c.Body()) == 0 {
		return "", nil
	}
	var req dto.ReasonRequest
	if err := h.validator.bindJSON(c, &req); err != nil {
		return "", err
	}
	return req.Reason, nil
}

func actorFrom(c *fiber.Ctx) (*domain.User, error) {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return nil, fiber.NewError(http.StatusUnauthorized, "authentication required")
	}
	return principal.User, nil
}
