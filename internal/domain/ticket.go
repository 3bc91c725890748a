package domain

import "time"

// TicketStatus enumerates lifecycle states for incident tickets.
type TicketStatus string

const (
	TicketStatusOpen       TicketStatus = "OPEN"
	TicketStatusAssigned   TicketStatus = "ASSIGNED"
	TicketStatusInProgress TicketStatus = "IN_PROGRESS"
	TicketStatusValidated  TicketStatus = "VALIDATED"
	TicketStatusClosed     TicketStatus = "CLOSED"
)

// TicketSeverity enumerates incident impact levels.
type TicketSeverity string

const (
	SeverityLow      TicketSeverity = "LOW"
	SeverityMedium   TicketSeverity = "MEDIUM"
	SeverityHigh     TicketSeverity = "HIGH"
	SeverityCritical TicketSeverity = "CRITICAL"
)

// ValidSeverity reports whether s is a known severity value.
func ValidSeverity(s TicketSeverity) bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Ticket is the aggregate for a security incident under resolution.
// ClientAddress and StakeAmount are write-once at creation. AnalystAddress
// is set on assignment and cleared again when a certifier rejects; the
// cleared values survive in the transition history. A ticket is never
// deleted, only transitioned to CLOSED.
type Ticket struct {
	ID               string
	ClientAddress    string
	AnalystAddress   *string
	CertifierAddress *string
	Title            string
	Description      string
	Severity         TicketSeverity
	StakeAmount      int64
	EvidenceHash     *string
	StorageLocator   *string
	Status           TicketStatus
	PendingTxRef     *string
	LastTxRef        *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// HasPendingTx reports whether a ledger write is outstanding for the ticket.
func (t *Ticket) HasPendingTx() bool {
	return t.PendingTxRef != nil && *t.PendingTxRef != ""
}

// Clone returns a deep copy, used for optimistic-write snapshots.
func (t *Ticket) Clone() *Ticket {
	if t == nil {
		return nil
	}
	cp := *t
	cp.AnalystAddress = clonePtr(t.AnalystAddress)
	cp.CertifierAddress = clonePtr(t.CertifierAddress)
	cp.EvidenceHash = clonePtr(t.EvidenceHash)
	cp.StorageLocator = clonePtr(t.StorageLocator)
	cp.PendingTxRef = clonePtr(t.PendingTxRef)
	cp.LastTxRef = clonePtr(t.LastTxRef)
	return &cp
}

func clonePtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
