package auth

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/dsoc-platform/incident-escrow/internal/domain"
)

// RequireRole ensures the session declares one of the allowed roles.
// The credential gate re-verifies the claim against the assertion
// registry inside the service; this is the cheap first check.
func RequireRole(allowed ...domain.Role) fiber.Handler {
	allowedSet := make(map[domain.Role]struct{}, len(allowed))
	for _, role := range allowed {
		allowedSet[role] = struct{}{}
	}

	return func(c *fiber.Ctx) error {
		session, ok := SessionFromContext(c)
		if !ok {
			return fiber.NewError(http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
		}
		if len(allowedSet) == 0 {
			return c.Next()
		}
		if _, exists := allowedSet[session.Role]; !exists {
			return fiber.NewError(http.StatusForbidden, "insufficient role")
		}
		return c.Next()
	}
}

// RequireSession ensures the caller has any active session.
func RequireSession() fiber.Handler {
	return RequireRole()
}
