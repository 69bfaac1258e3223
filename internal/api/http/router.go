package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spec-kit/account-hierarchy/internal/api/http/handlers"
	"github.com/spec-kit/account-hierarchy/internal/auth"
	"github.com/spec-kit/account-hierarchy/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Auth           *handlers.AuthHandler
	AdminUsers     *handlers.AdminUsersHandler
	RecoveryKeys   *handlers.RecoveryKeyHandler
	AuthMiddleware *auth.AuthMiddleware
	Gatherer       prometheus.Gatherer
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	authGroup := app.Group("/auth")
	authGroup.Post("/login", cfg.Auth.Login)
	authGroup.Post("/recovery/redeem", cfg.RecoveryKeys.Redeem)
	authGroup.Post("/password/change", cfg.AuthMiddleware.Handle, auth.RequireRole(), cfg.Auth.ChangePassword)

	admin := app.Group("/admin", cfg.AuthMiddleware.Handle, auth.RequireRole())
	admin.Get("/users", cfg.AdminUsers.List)

	// Per-route so GET /admin/users stays open to every authenticated role.
	manager := auth.RequireRole(domain.RoleMaster, domain.RoleAdmin)
	admin.Post("/users/:id/promote", manager, cfg.AdminUsers.Promote)
	admin.Post("/users/:id/demote", manager, cfg.AdminUsers.Demote)
	admin.Put("/users/:id/admin-visibility", manager, cfg.AdminUsers.SetAdminVisibility)
	admin.Post("/users/:id/block", manager, cfg.AdminUsers.Block)
	admin.Post("/users/:id/unblock", manager, cfg.AdminUsers.Unblock)
	admin.Post("/users/:id/deactivate", manager, cfg.AdminUsers.Deactivate)
	admin.Post("/users/:id/activate", manager, cfg.AdminUsers.Activate)
	admin.Delete("/users/:id", manager, cfg.AdminUsers.Delete)

	recovery := admin.Group("/recovery-key", auth.RequireRole(domain.RoleMaster))
	recovery.Post("", cfg.RecoveryKeys.Issue)
	recovery.Get("/status", cfg.RecoveryKeys.Status)
}
