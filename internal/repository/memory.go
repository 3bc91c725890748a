package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/dsoc-platform/incident-escrow/internal/domain"
)

// MemTicketRepository is an in-memory TicketRepository. It backs the
// service when no postgres DSN is configured (the cache is disposable and
// rebuildable from a full poll) and is the repository used in tests.
type MemTicketRepository struct {
	mu      sync.RWMutex
	tickets map[string]*domain.Ticket
}

// NewMemTicketRepository builds an empty in-memory repository.
func NewMemTicketRepository() *MemTicketRepository {
	return &MemTicketRepository{tickets: make(map[string]*domain.Ticket)}
}

// Create implements TicketRepository.
func (r *MemTicketRepository) Create(_ context.Context, ticket *domain.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tickets[ticket.ID] = ticket.Clone()
	return nil
}

// Update implements TicketRepository.
func (r *MemTicketRepository) Update(_ context.Context, ticket *domain.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tickets[ticket.ID]; !ok {
		return ErrNotFound
	}
	r.tickets[ticket.ID] = ticket.Clone()
	return nil
}

// GetByID implements TicketRepository.
func (r *MemTicketRepository) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ticket, ok := r.tickets[id]
	if !ok {
		return nil, ErrNotFound
	}
	return ticket.Clone(), nil
}

// List implements TicketRepository.
func (r *MemTicketRepository) List(_ context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []domain.Ticket
	for _, ticket := range r.tickets {
		if !matchesFilter(ticket, filter) {
			continue
		}
		result = append(result, *ticket.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.After(result[j].UpdatedAt)
	})

	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(result) {
		return nil, nil
	}
	result = result[offset:]

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// ListPending implements TicketRepository.
func (r *MemTicketRepository) ListPending(_ context.Context) ([]domain.Ticket, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []domain.Ticket
	for _, ticket := range r.tickets {
		if ticket.HasPendingTx() {
			result = append(result, *ticket.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.Before(result[j].UpdatedAt)
	})
	return result, nil
}

// Delete implements TicketRepository.
func (r *MemTicketRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tickets[id]; !ok {
		return ErrNotFound
	}
	delete(r.tickets, id)
	return nil
}

func matchesFilter(ticket *domain.Ticket, filter TicketFilter) bool {
	if filter.ClientAddress != nil && ticket.ClientAddress != *filter.ClientAddress {
		return false
	}
	if filter.AnalystAddress != nil {
		if ticket.AnalystAddress == nil || *ticket.AnalystAddress != *filter.AnalystAddress {
			return false
		}
	}
	if filter.CertifierAddress != nil {
		if ticket.CertifierAddress == nil || *ticket.CertifierAddress != *filter.CertifierAddress {
			return false
		}
	}
	if len(filter.Statuses) > 0 {
		found := false
		for _, status := range filter.Statuses {
			if ticket.Status == status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// MemEvidenceRepository is an in-memory EvidenceRepository.
type MemEvidenceRepository struct {
	mu       sync.RWMutex
	byTicket map[string][]domain.Evidence
}

// NewMemEvidenceRepository builds an empty in-memory repository.
func NewMemEvidenceRepository() *MemEvidenceRepository {
	return &MemEvidenceRepository{byTicket: make(map[string][]domain.Evidence)}
}

// Create implements EvidenceRepository.
func (r *MemEvidenceRepository) Create(_ context.Context, evidence *domain.Evidence) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byTicket[evidence.TicketID] = append(r.byTicket[evidence.TicketID], *evidence)
	return nil
}

// ListByTicket implements EvidenceRepository.
func (r *MemEvidenceRepository) ListByTicket(_ context.Context, ticketID string) ([]domain.Evidence, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.Evidence(nil), r.byTicket[ticketID]...), nil
}

// LatestByTicket implements EvidenceRepository.
func (r *MemEvidenceRepository) LatestByTicket(_ context.Context, ticketID string) (*domain.Evidence, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	records := r.byTicket[ticketID]
	if len(records) == 0 {
		return nil, ErrNotFound
	}
	latest := records[len(records)-1]
	return &latest, nil
}

// MemTransitionHistoryRepository is an in-memory TransitionHistoryRepository.
type MemTransitionHistoryRepository struct {
	mu       sync.RWMutex
	byTicket map[string][]domain.TransitionRecord
}

// NewMemTransitionHistoryRepository builds an empty in-memory repository.
func NewMemTransitionHistoryRepository() *MemTransitionHistoryRepository {
	return &MemTransitionHistoryRepository{byTicket: make(map[string][]domain.TransitionRecord)}
}

// Append implements TransitionHistoryRepository.
func (r *MemTransitionHistoryRepository) Append(_ context.Context, record *domain.TransitionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byTicket[record.TicketID] = append(r.byTicket[record.TicketID], *record)
	return nil
}

// ListByTicket implements TransitionHistoryRepository.
func (r *MemTransitionHistoryRepository) ListByTicket(_ context.Context, ticketID string) ([]domain.TransitionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.TransitionRecord(nil), r.byTicket[ticketID]...), nil
}
