package handlers

import (
	"encoding/base64"
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/dsoc-platform/incident-escrow/internal/api/dto"
	"github.com/dsoc-platform/incident-escrow/internal/auth"
	"github.com/dsoc-platform/incident-escrow/internal/domain"
	"github.com/dsoc-platform/incident-escrow/internal/service"
	apperrors "github.com/dsoc-platform/incident-escrow/pkg/util"
)

// TicketsHandler exposes the ticket lifecycle endpoints.
type TicketsHandler struct {
	tickets *service.TicketService
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(tickets *service.TicketService) *TicketsHandler {
	return &TicketsHandler{tickets: tickets}
}

// Create handles POST /tickets.
func (h *TicketsHandler) Create(c *fiber.Ctx) error {
	session, ok := auth.SessionFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("no active session")
	}

	var req dto.TicketCreateRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	input := service.TicketCreateInput{
		Title:       req.Title,
		Description: req.Description,
		Severity:    domain.TicketSeverity(req.Severity),
		StakeAmount: req.StakeAmount,
	}
	if req.EvidenceBase64 != "" {
		evidence, err := base64.StdEncoding.DecodeString(req.EvidenceBase64)
		if err != nil {
			return apperrors.NewValidationError("evidence_base64 is not valid base64", nil)
		}
		input.Evidence = evidence
	}

	ticket, err := h.tickets.CreateTicket(c.UserContext(), session, input)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.FromTicket(ticket)})
}

// List handles GET /tickets.
func (h *TicketsHandler) List(c *fiber.Ctx) error {
	filter := service.TicketFilterInput{
		Limit:  parseIntQuery(c, "limit", 50),
		Offset: parseIntQuery(c, "offset", 0),
	}
	if status := c.Query("status"); status != "" {
		filter.Statuses = []domain.TicketStatus{domain.TicketStatus(status)}
	}
	if addr := c.Query("client"); addr != "" {
		filter.ClientAddress = &addr
	}
	if addr := c.Query("analyst"); addr != "" {
		filter.AnalystAddress = &addr
	}
	if addr := c.Query("certifier"); addr != "" {
		filter.CertifierAddress = &addr
	}

	tickets, err := h.tickets.ListTickets(c.UserContext(), filter)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.FromTickets(tickets)})
}

// Get handles GET /tickets/:id.
func (h *TicketsHandler) Get(c *fiber.Ctx) error {
	ticket, evidence, history, err := h.tickets.GetTicket(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}

	evidenceOut := make([]dto.EvidenceResponse, 0, len(evidence))
	for i := range evidence {
		evidenceOut = append(evidenceOut, dto.FromEvidence(&evidence[i]))
	}
	historyOut := make([]dto.TransitionResponse, 0, len(history))
	for i := range history {
		historyOut = append(historyOut, dto.FromTransition(&history[i]))
	}

	return c.JSON(fiber.Map{"data": fiber.Map{
		"ticket":   dto.FromTicket(ticket),
		"evidence": evidenceOut,
		"history":  historyOut,
	}})
}

// Claim handles POST /tickets/:id/claim.
func (h *TicketsHandler) Claim(c *fiber.Ctx) error {
	session, ok := auth.SessionFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("no active session")
	}
	ticket, err := h.tickets.ClaimTicket(c.UserContext(), session, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.FromTicket(ticket)})
}

// SubmitEvidence handles POST /tickets/:id/evidence.
func (h *TicketsHandler) SubmitEvidence(c *fiber.Ctx) error {
	session, ok := auth.SessionFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("no active session")
	}

	var req dto.EvidenceSubmitRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.ContentBase64 == "" {
		return apperrors.NewValidationError("content_base64 required", nil)
	}
	content, err := base64.StdEncoding.DecodeString(req.ContentBase64)
	if err != nil {
		return apperrors.NewValidationError("content_base64 is not valid base64", nil)
	}

	ticket, record, err := h.tickets.SubmitEvidence(c.UserContext(), session, c.Params("id"), req.Filename, content)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": fiber.Map{
		"ticket":   dto.FromTicket(ticket),
		"evidence": dto.FromEvidence(record),
	}})
}

// Validate handles POST /tickets/:id/validate.
func (h *TicketsHandler) Validate(c *fiber.Ctx) error {
	session, ok := auth.SessionFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("no active session")
	}

	var req dto.ValidateRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	ticket, err := h.tickets.ValidateTicket(c.UserContext(), session, c.Params("id"), req.Approved)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.FromTicket(ticket)})
}

// Close handles POST /tickets/:id/close.
func (h *TicketsHandler) Close(c *fiber.Ctx) error {
	session, ok := auth.SessionFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("no active session")
	}
	ticket, err := h.tickets.CloseTicket(c.UserContext(), session, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.FromTicket(ticket)})
}

// Balance handles GET /parties/:address/balance.
func (h *TicketsHandler) Balance(c *fiber.Ctx) error {
	address := c.Params("address")
	if !auth.ValidAddress(address) {
		return apperrors.NewValidationError("invalid address", map[string]any{"address": address})
	}
	balance, err := h.tickets.Balance(c.UserContext(), address)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.FromBalance(address, balance)})
}

func parseIntQuery(c *fiber.Ctx, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
