package events

import (
	"time"

	"github.com/dsoc-platform/incident-escrow/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated     EventType = "ticket_created"
	EventTicketClaimed     EventType = "ticket_claimed"
	EventEvidenceSubmitted EventType = "evidence_submitted"
	EventTicketValidated   EventType = "ticket_validated"
	EventTicketRejected    EventType = "ticket_rejected"
	EventTicketClosed      EventType = "ticket_closed"
	EventTicketReconciled  EventType = "ticket_reconciled"
)

// Actor identifies the party that triggered an event.
type Actor struct {
	Address string      `json:"address"`
	Role    domain.Role `json:"role"`
}

// Event represents a domain event emitted by services.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	TicketID  string      `json:"ticket_id"`
	Actor     Actor       `json:"actor"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	Severity    domain.TicketSeverity `json:"severity"`
	StakeAmount int64                 `json:"stake_amount"`
	Title       string                `json:"title"`
	TxRef       string                `json:"tx_ref"`
}

// TicketClaimedPayload payload.
type TicketClaimedPayload struct {
	AnalystAddress string `json:"analyst_address"`
	TxRef          string `json:"tx_ref"`
}

// EvidenceSubmittedPayload payload.
type EvidenceSubmittedPayload struct {
	EvidenceID     string `json:"evidence_id"`
	ContentHash    string `json:"content_hash"`
	StorageLocator string `json:"storage_locator"`
	TxRef          string `json:"tx_ref"`
}

// TicketValidatedPayload payload.
type TicketValidatedPayload struct {
	AnalystAddress   string `json:"analyst_address"`
	CertifierAddress string `json:"certifier_address"`
	StakeReleased    int64  `json:"stake_released"`
	RewardMinted     int64  `json:"reward_minted"`
	TxRef            string `json:"tx_ref"`
}

// TicketRejectedPayload payload.
type TicketRejectedPayload struct {
	AnalystAddress   string `json:"analyst_address"`
	CertifierAddress string `json:"certifier_address"`
	StakeRefunded    int64  `json:"stake_refunded"`
	TxRef            string `json:"tx_ref"`
}

// TicketReconciledPayload payload.
type TicketReconciledPayload struct {
	OldStatus  domain.TicketStatus `json:"old_status"`
	NewStatus  domain.TicketStatus `json:"new_status"`
	TxRef      string              `json:"tx_ref,omitempty"`
	RolledBack bool                `json:"rolled_back"`
}
