package domain

import "time"

// TransitionKind labels the lifecycle action that produced a history entry.
type TransitionKind string

const (
	TransitionCreate         TransitionKind = "CREATE"
	TransitionClaim          TransitionKind = "CLAIM"
	TransitionSubmitEvidence TransitionKind = "SUBMIT_EVIDENCE"
	TransitionApprove        TransitionKind = "APPROVE"
	TransitionReject         TransitionKind = "REJECT"
	TransitionClose          TransitionKind = "CLOSE"
)

// TransitionRecord is an append-only audit entry for a ticket transition.
// It retains the analyst and certifier addresses active in the cycle even
// when a rejection clears them from the ticket itself.
type TransitionRecord struct {
	ID             string
	TicketID       string
	Kind           TransitionKind
	FromStatus     TicketStatus
	ToStatus       TicketStatus
	ActorAddress   string
	ActorRole      Role
	AnalystAddress *string
	EvidenceHash   *string
	TxRef          *string
	RewardAmount   int64
	RefundAmount   int64
	CreatedAt      time.Time
}
