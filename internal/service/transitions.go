package service

import (
	"github.com/dsoc-platform/incident-escrow/internal/domain"
	apperrors "github.com/dsoc-platform/incident-escrow/pkg/util"
)

// allowedTransitions is the lifecycle graph. OPEN is initial, CLOSED is
// terminal; the back-edge IN_PROGRESS -> OPEN is the certifier rejection
// path. No other edge is ever taken.
var allowedTransitions = map[domain.TicketStatus][]domain.TicketStatus{
	domain.TicketStatusOpen:       {domain.TicketStatusAssigned},
	domain.TicketStatusAssigned:   {domain.TicketStatusInProgress},
	domain.TicketStatusInProgress: {domain.TicketStatusValidated, domain.TicketStatusOpen},
	domain.TicketStatusValidated:  {domain.TicketStatusClosed},
	domain.TicketStatusClosed:     {},
}

func isValidTransition(current, next domain.TicketStatus) bool {
	for _, candidate := range allowedTransitions[current] {
		if candidate == next {
			return true
		}
	}
	return false
}

// guardTransition enforces the two local preconditions shared by every
// lifecycle action: the edge must exist in the graph, and the ticket must
// not have an outstanding ledger write (at most one per ticket).
func guardTransition(ticket *domain.Ticket, next domain.TicketStatus) error {
	if ticket.HasPendingTx() {
		return apperrors.NewTransitionInProgress(ticket.ID, *ticket.PendingTxRef)
	}
	if !isValidTransition(ticket.Status, next) {
		return apperrors.NewIllegalTransition(string(ticket.Status), string(next), map[string]any{
			"ticket_id": ticket.ID,
		})
	}
	return nil
}
