package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/dsoc-platform/incident-escrow/internal/api/http/handlers"
	"github.com/dsoc-platform/incident-escrow/internal/auth"
	"github.com/dsoc-platform/incident-escrow/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Session        *handlers.SessionHandler
	Tickets        *handlers.TicketsHandler
	AuthMiddleware *auth.Middleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	session := app.Group("/session")
	session.Post("/connect", cfg.Session.Connect)
	session.Post("/disconnect", cfg.AuthMiddleware.Handle, cfg.Session.Disconnect)
	session.Post("/credentials", cfg.AuthMiddleware.Handle, cfg.Session.RegisterCredential)

	tickets := app.Group("/tickets", cfg.AuthMiddleware.Handle)
	tickets.Post("", auth.RequireRole(domain.RoleClient), cfg.Tickets.Create)
	tickets.Get("", cfg.Tickets.List)
	tickets.Get("/:id", cfg.Tickets.Get)
	tickets.Post("/:id/claim", auth.RequireRole(domain.RoleAnalyst), cfg.Tickets.Claim)
	tickets.Post("/:id/evidence", auth.RequireRole(domain.RoleAnalyst), cfg.Tickets.SubmitEvidence)
	tickets.Post("/:id/validate", auth.RequireRole(domain.RoleCertifier), cfg.Tickets.Validate)
	tickets.Post("/:id/close", auth.RequireSession(), cfg.Tickets.Close)

	parties := app.Group("/parties", cfg.AuthMiddleware.Handle)
	parties.Get("/:address/balance", cfg.Tickets.Balance)
}
