package dto

import (
	"time"

	"github.com/dsoc-platform/incident-escrow/internal/domain"
	"github.com/dsoc-platform/incident-escrow/internal/ledger"
)

// TicketCreateRequest is the payload for POST /tickets. EvidenceBase64
// optionally attaches initial evidence whose fingerprint is bound into
// the stake transaction.
type TicketCreateRequest struct {
	Title          string `json:"title"`
	Description    string `json:"description"`
	Severity       string `json:"severity"`
	StakeAmount    int64  `json:"stake_amount"`
	EvidenceBase64 string `json:"evidence_base64,omitempty"`
}

// EvidenceSubmitRequest is the payload for POST /tickets/:id/evidence.
type EvidenceSubmitRequest struct {
	Filename      string `json:"filename"`
	ContentBase64 string `json:"content_base64"`
}

// ValidateRequest is the certifier decision payload.
type ValidateRequest struct {
	Approved bool `json:"approved"`
}

// TicketResponse is the wire shape of a ticket.
type TicketResponse struct {
	ID               string    `json:"id"`
	ClientAddress    string    `json:"client_address"`
	AnalystAddress   *string   `json:"analyst_address,omitempty"`
	CertifierAddress *string   `json:"certifier_address,omitempty"`
	Title            string    `json:"title"`
	Description      string    `json:"description"`
	Severity         string    `json:"severity"`
	StakeAmount      int64     `json:"stake_amount"`
	EvidenceHash     *string   `json:"evidence_hash,omitempty"`
	StorageLocator   *string   `json:"storage_locator,omitempty"`
	Status           string    `json:"status"`
	PendingTxRef     *string   `json:"pending_tx_ref,omitempty"`
	LastTxRef        *string   `json:"last_tx_ref,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// EvidenceResponse is the wire shape of an evidence record.
type EvidenceResponse struct {
	ID             string    `json:"id"`
	TicketID       string    `json:"ticket_id"`
	UploadedBy     string    `json:"uploaded_by"`
	Filename       string    `json:"filename"`
	StorageLocator string    `json:"storage_locator"`
	ContentHash    string    `json:"content_hash"`
	SizeBytes      int64     `json:"size_bytes"`
	CreatedAt      time.Time `json:"created_at"`
}

// TransitionResponse is the wire shape of a history entry.
type TransitionResponse struct {
	Kind           string    `json:"kind"`
	FromStatus     string    `json:"from_status"`
	ToStatus       string    `json:"to_status"`
	ActorAddress   string    `json:"actor_address"`
	ActorRole      string    `json:"actor_role"`
	AnalystAddress *string   `json:"analyst_address,omitempty"`
	EvidenceHash   *string   `json:"evidence_hash,omitempty"`
	TxRef          *string   `json:"tx_ref,omitempty"`
	RewardAmount   int64     `json:"reward_amount,omitempty"`
	RefundAmount   int64     `json:"refund_amount,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// BalanceResponse is the wire shape of a party balance.
type BalanceResponse struct {
	Address string `json:"address"`
	Escrow  int64  `json:"escrow"`
	Reward  int64  `json:"reward"`
}

// FromTicket converts a domain ticket.
func FromTicket(t *domain.Ticket) TicketResponse {
	return TicketResponse{
		ID:               t.ID,
		ClientAddress:    t.ClientAddress,
		AnalystAddress:   t.AnalystAddress,
		CertifierAddress: t.CertifierAddress,
		Title:            t.Title,
		Description:      t.Description,
		Severity:         string(t.Severity),
		StakeAmount:      t.StakeAmount,
		EvidenceHash:     t.EvidenceHash,
		StorageLocator:   t.StorageLocator,
		Status:           string(t.Status),
		PendingTxRef:     t.PendingTxRef,
		LastTxRef:        t.LastTxRef,
		CreatedAt:        t.CreatedAt,
		UpdatedAt:        t.UpdatedAt,
	}
}

// FromTickets converts a slice of domain tickets.
func FromTickets(tickets []domain.Ticket) []TicketResponse {
	out := make([]TicketResponse, 0, len(tickets))
	for i := range tickets {
		out = append(out, FromTicket(&tickets[i]))
	}
	return out
}

// FromEvidence converts a domain evidence record.
func FromEvidence(e *domain.Evidence) EvidenceResponse {
	return EvidenceResponse{
		ID:             e.ID,
		TicketID:       e.TicketID,
		UploadedBy:     e.UploadedBy,
		Filename:       e.Filename,
		StorageLocator: e.StorageLocator,
		ContentHash:    e.ContentHash,
		SizeBytes:      e.SizeBytes,
		CreatedAt:      e.CreatedAt,
	}
}

// FromTransition converts a domain history entry.
func FromTransition(r *domain.TransitionRecord) TransitionResponse {
	return TransitionResponse{
		Kind:           string(r.Kind),
		FromStatus:     string(r.FromStatus),
		ToStatus:       string(r.ToStatus),
		ActorAddress:   r.ActorAddress,
		ActorRole:      string(r.ActorRole),
		AnalystAddress: r.AnalystAddress,
		EvidenceHash:   r.EvidenceHash,
		TxRef:          r.TxRef,
		RewardAmount:   r.RewardAmount,
		RefundAmount:   r.RefundAmount,
		CreatedAt:      r.CreatedAt,
	}
}

// FromBalance converts a ledger balance.
func FromBalance(address string, b ledger.Balance) BalanceResponse {
	return BalanceResponse{Address: address, Escrow: b.Escrow, Reward: b.Reward}
}
