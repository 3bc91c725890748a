package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/dsoc-platform/incident-escrow/internal/api/dto"
	"github.com/dsoc-platform/incident-escrow/internal/auth"
	"github.com/dsoc-platform/incident-escrow/internal/credential"
	"github.com/dsoc-platform/incident-escrow/internal/domain"
	apperrors "github.com/dsoc-platform/incident-escrow/pkg/util"
)

// SessionHandler exposes wallet connect/disconnect and credential
// registration.
type SessionHandler struct {
	sessions    *auth.SessionManager
	credentials *credential.TokenResolver
}

// NewSessionHandler constructs handler.
func NewSessionHandler(sessions *auth.SessionManager, credentials *credential.TokenResolver) *SessionHandler {
	return &SessionHandler{sessions: sessions, credentials: credentials}
}

// Connect handles POST /session/connect.
func (h *SessionHandler) Connect(c *fiber.Ctx) error {
	var req dto.SessionConnectRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.PublicKey == "" || req.Role == "" {
		return apperrors.NewValidationError("public_key and role required", nil)
	}
	role := domain.Role(req.Role)
	if !domain.ValidRole(role) {
		return apperrors.NewValidationError("unknown role", map[string]any{"role": req.Role})
	}

	publicKey, err := auth.ParsePublicKey(req.PublicKey)
	if err != nil {
		return apperrors.NewValidationError(err.Error(), nil)
	}
	session, token, err := h.sessions.Connect(publicKey, req.DID, role)
	if err != nil {
		return apperrors.MapError(err)
	}

	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"data": dto.SessionResponse{
			SessionID: session.ID,
			Address:   session.Address,
			DID:       session.DID,
			Role:      string(session.Role),
			Token:     token,
			ExpiresAt: session.ExpiresAt,
		},
	})
}

// Disconnect handles POST /session/disconnect.
func (h *SessionHandler) Disconnect(c *fiber.Ctx) error {
	session, ok := auth.SessionFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("no active session")
	}
	h.sessions.Disconnect(session.ID)
	return c.JSON(fiber.Map{"data": fiber.Map{"disconnected": true}})
}

// RegisterCredential handles POST /session/credentials: the caller
// presents a signed credential token asserting a role for its address.
func (h *SessionHandler) RegisterCredential(c *fiber.Ctx) error {
	session, ok := auth.SessionFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("no active session")
	}

	var req struct {
		Token string `json:"token"`
	}
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Token == "" {
		return apperrors.NewValidationError("token required", nil)
	}

	cred, err := h.credentials.Register(session.Address, req.Token)
	if err != nil {
		return apperrors.NewValidationError("credential token rejected", map[string]any{"reason": err.Error()})
	}

	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"data": fiber.Map{
			"subject_id": cred.SubjectID,
			"role":       cred.Role,
			"reputation": cred.Reputation,
		},
	})
}
