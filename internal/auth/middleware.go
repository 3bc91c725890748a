package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/dsoc-platform/incident-escrow/internal/domain"
	apperrors "github.com/dsoc-platform/incident-escrow/pkg/util"
)

const sessionKey = "auth_session"

// Middleware validates bearer tokens and loads the wallet session.
type Middleware struct {
	sessions *SessionManager
}

// NewMiddleware constructs middleware.
func NewMiddleware(sessions *SessionManager) *Middleware {
	return &Middleware{sessions: sessions}
}

// Handle enforces an active session for protected routes.
func (m *Middleware) Handle(c *fiber.Ctx) error {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return apperrors.NewUnauthorized("missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return apperrors.NewUnauthorized("invalid authorization header")
	}

	session, err := m.sessions.Resolve(parts[1])
	if err != nil {
		return apperrors.NewUnauthorized("invalid or revoked session")
	}

	c.Locals(sessionKey, session)
	return c.Next()
}

// SessionFromContext retrieves the caller's wallet session.
func SessionFromContext(c *fiber.Ctx) (*domain.Session, bool) {
	val := c.Locals(sessionKey)
	if val == nil {
		return nil, false
	}
	session, ok := val.(*domain.Session)
	return session, ok
}
