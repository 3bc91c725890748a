package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dsoc-platform/incident-escrow/internal/credential"
	"github.com/dsoc-platform/incident-escrow/internal/domain"
	"github.com/dsoc-platform/incident-escrow/internal/events"
	"github.com/dsoc-platform/incident-escrow/internal/fingerprint"
	"github.com/dsoc-platform/incident-escrow/internal/ledger"
	"github.com/dsoc-platform/incident-escrow/internal/locking"
	"github.com/dsoc-platform/incident-escrow/internal/repository"
	"github.com/dsoc-platform/incident-escrow/internal/storage"
	apperrors "github.com/dsoc-platform/incident-escrow/pkg/util"
)

// TicketService is the transition engine: it validates every requested
// lifecycle action against the state graph, the caller's credential and
// the transition's preconditions, submits the ledger transaction, and
// applies the optimistic local write. The credential gate is consulted
// before every state-changing action; its result is authoritative.
//
// Ledger submission happens before the local write. A rejection therefore
// leaves the ticket untouched, and an unreachable ledger (after the
// adapter's bounded retries) surfaces to the caller with no optimistic
// state to clean up. Confirmation and rollback of submitted writes belong
// to the reconciliation poller.
type TicketService struct {
	tickets     repository.TicketRepository
	evidence    repository.EvidenceRepository
	history     repository.TransitionHistoryRepository
	gate        *credential.Gate
	ledger      ledger.Adapter
	fingerprint *fingerprint.Service
	content     storage.ContentStore
	notary      storage.Notary
	dispatcher  events.Dispatcher
	logger      *zap.Logger
	locks       *locking.KeyedMutex
	now         func() time.Time
}

// TicketDependencies bundles collaborators for the ticket service.
type TicketDependencies struct {
	TicketRepo   repository.TicketRepository
	EvidenceRepo repository.EvidenceRepository
	HistoryRepo  repository.TransitionHistoryRepository
	Gate         *credential.Gate
	Ledger       ledger.Adapter
	Fingerprint  *fingerprint.Service
	ContentStore storage.ContentStore
	Notary       storage.Notary
	Dispatcher   events.Dispatcher
	Logger       *zap.Logger

	// Locks is shared with the reconciliation poller so both sides
	// serialize on the same per-ticket mutex.
	Locks *locking.KeyedMutex
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	locks := deps.Locks
	if locks == nil {
		locks = locking.NewKeyedMutex()
	}
	return &TicketService{
		tickets:     deps.TicketRepo,
		evidence:    deps.EvidenceRepo,
		history:     deps.HistoryRepo,
		gate:        deps.Gate,
		ledger:      deps.Ledger,
		fingerprint: deps.Fingerprint,
		content:     deps.ContentStore,
		notary:      deps.Notary,
		dispatcher:  deps.Dispatcher,
		logger:      logger,
		locks:       locks,
		now:         time.Now,
	}
}

// TicketCreateInput describes ticket creation payload. Evidence is
// optional at creation; when present its fingerprint is bound into the
// stake transaction.
type TicketCreateInput struct {
	Title       string
	Description string
	Severity    domain.TicketSeverity
	StakeAmount int64
	Evidence    []byte
}

// TicketFilterInput describes listing filters.
type TicketFilterInput struct {
	Statuses         []domain.TicketStatus
	ClientAddress    *string
	AnalystAddress   *string
	CertifierAddress *string
	Limit            int
	Offset           int
}

// CreateTicket reports an incident and stakes funds in escrow. Client
// action; the ticket starts OPEN.
func (s *TicketService) CreateTicket(ctx context.Context, session *domain.Session, input TicketCreateInput) (*domain.Ticket, error) {
	if _, err := s.gate.Verify(ctx, session.Address, domain.RoleClient); err != nil {
		return nil, err
	}

	title := strings.TrimSpace(input.Title)
	description := strings.TrimSpace(input.Description)
	if title == "" || description == "" {
		return nil, apperrors.NewValidationError("title and description required", nil)
	}
	if !domain.ValidSeverity(input.Severity) {
		return nil, apperrors.NewValidationError("unknown severity", map[string]any{"severity": input.Severity})
	}
	if input.StakeAmount <= 0 {
		return nil, apperrors.NewValidationError("stake amount must be positive", nil)
	}

	var evidenceHash string
	if len(input.Evidence) > 0 {
		digest, err := s.fingerprint.Fingerprint(input.Evidence)
		if err != nil {
			return nil, err
		}
		evidenceHash = digest.Hash
	}

	ticketID := uuid.NewString()
	txRef, err := s.ledger.SubmitStake(ctx, ledger.StakeRequest{
		TicketID:      ticketID,
		ClientAddress: session.Address,
		StakeAmount:   input.StakeAmount,
		EvidenceHash:  evidenceHash,
	})
	if err != nil {
		return nil, mapLedgerError(err)
	}

	now := s.now()
	ref := string(txRef)
	ticket := &domain.Ticket{
		ID:            ticketID,
		ClientAddress: session.Address,
		Title:         title,
		Description:   description,
		Severity:      input.Severity,
		StakeAmount:   input.StakeAmount,
		Status:        domain.TicketStatusOpen,
		PendingTxRef:  &ref,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if evidenceHash != "" {
		hash := evidenceHash
		ticket.EvidenceHash = &hash
	}
	if err := s.tickets.Create(ctx, ticket); err != nil {
		return nil, apperrors.MapError(err)
	}

	s.appendHistory(ctx, &domain.TransitionRecord{
		TicketID:     ticket.ID,
		Kind:         domain.TransitionCreate,
		FromStatus:   domain.TicketStatusOpen,
		ToStatus:     domain.TicketStatusOpen,
		ActorAddress: session.Address,
		ActorRole:    domain.RoleClient,
		TxRef:        &ref,
	})
	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketCreated,
		TicketID: ticket.ID,
		Actor:    events.Actor{Address: session.Address, Role: domain.RoleClient},
		Payload: events.TicketCreatedPayload{
			Severity:    ticket.Severity,
			StakeAmount: ticket.StakeAmount,
			Title:       ticket.Title,
			TxRef:       ref,
		},
	})
	return ticket, nil
}

// ClaimTicket assigns an open ticket to the calling analyst.
func (s *TicketService) ClaimTicket(ctx context.Context, session *domain.Session, ticketID string) (*domain.Ticket, error) {
	if _, err := s.gate.Verify(ctx, session.Address, domain.RoleAnalyst); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(ticketID)
	defer unlock()

	ticket, err := s.loadTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if err := guardTransition(ticket, domain.TicketStatusAssigned); err != nil {
		return nil, err
	}

	txRef, err := s.ledger.Assign(ctx, ticketID, session.Address)
	if err != nil {
		return nil, mapLedgerError(err)
	}

	ref := string(txRef)
	analyst := session.Address
	from := ticket.Status
	ticket.AnalystAddress = &analyst
	ticket.Status = domain.TicketStatusAssigned
	ticket.PendingTxRef = &ref
	ticket.UpdatedAt = s.now()
	if err := s.tickets.Update(ctx, ticket); err != nil {
		return nil, apperrors.MapError(err)
	}

	s.appendHistory(ctx, &domain.TransitionRecord{
		TicketID:       ticket.ID,
		Kind:           domain.TransitionClaim,
		FromStatus:     from,
		ToStatus:       ticket.Status,
		ActorAddress:   session.Address,
		ActorRole:      domain.RoleAnalyst,
		AnalystAddress: &analyst,
		TxRef:          &ref,
	})
	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketClaimed,
		TicketID: ticket.ID,
		Actor:    events.Actor{Address: session.Address, Role: domain.RoleAnalyst},
		Payload:  events.TicketClaimedPayload{AnalystAddress: analyst, TxRef: ref},
	})
	return ticket, nil
}

// SubmitEvidence fingerprints the artifact, uploads it to content
// storage, anchors the hash (fire-and-forget) and moves the ticket to
// IN_PROGRESS. Only the assigned analyst may submit.
func (s *TicketService) SubmitEvidence(ctx context.Context, session *domain.Session, ticketID, filename string, data []byte) (*domain.Ticket, *domain.Evidence, error) {
	if _, err := s.gate.Verify(ctx, session.Address, domain.RoleAnalyst); err != nil {
		return nil, nil, err
	}
	if len(data) == 0 {
		return nil, nil, apperrors.NewValidationError("evidence payload required", nil)
	}

	unlock := s.locks.Lock(ticketID)
	defer unlock()

	ticket, err := s.loadTicket(ctx, ticketID)
	if err != nil {
		return nil, nil, err
	}
	if err := guardTransition(ticket, domain.TicketStatusInProgress); err != nil {
		return nil, nil, err
	}
	if ticket.AnalystAddress == nil || *ticket.AnalystAddress != session.Address {
		return nil, nil, apperrors.NewForbidden("only the assigned analyst may submit evidence")
	}

	digest, err := s.fingerprint.Fingerprint(data)
	if err != nil {
		return nil, nil, err
	}
	locator, err := s.content.Put(ctx, data)
	if err != nil {
		return nil, nil, apperrors.NewInternalError(err)
	}
	s.anchorAsync(digest.Hash)

	txRef, err := s.ledger.SubmitEvidence(ctx, ticketID, session.Address, digest.Hash, locator)
	if err != nil {
		return nil, nil, mapLedgerError(err)
	}

	now := s.now()
	ref := string(txRef)
	hash := digest.Hash
	loc := locator
	from := ticket.Status
	ticket.EvidenceHash = &hash
	ticket.StorageLocator = &loc
	ticket.Status = domain.TicketStatusInProgress
	ticket.PendingTxRef = &ref
	ticket.UpdatedAt = now
	if err := s.tickets.Update(ctx, ticket); err != nil {
		return nil, nil, apperrors.MapError(err)
	}

	record := &domain.Evidence{
		ID:             uuid.NewString(),
		TicketID:       ticket.ID,
		UploadedBy:     session.Address,
		Filename:       filename,
		StorageLocator: locator,
		ContentHash:    digest.Hash,
		SizeBytes:      digest.SizeBytes,
		CreatedAt:      now,
	}
	if err := s.evidence.Create(ctx, record); err != nil {
		return nil, nil, apperrors.MapError(err)
	}

	s.appendHistory(ctx, &domain.TransitionRecord{
		TicketID:       ticket.ID,
		Kind:           domain.TransitionSubmitEvidence,
		FromStatus:     from,
		ToStatus:       ticket.Status,
		ActorAddress:   session.Address,
		ActorRole:      domain.RoleAnalyst,
		AnalystAddress: ticket.AnalystAddress,
		EvidenceHash:   &hash,
		TxRef:          &ref,
	})
	s.publishEvent(ctx, events.Event{
		Type:     events.EventEvidenceSubmitted,
		TicketID: ticket.ID,
		Actor:    events.Actor{Address: session.Address, Role: domain.RoleAnalyst},
		Payload: events.EvidenceSubmittedPayload{
			EvidenceID:     record.ID,
			ContentHash:    digest.Hash,
			StorageLocator: locator,
			TxRef:          ref,
		},
	})
	return ticket, record, nil
}

// ValidateTicket is the certifier decision. Approval releases the stake
// to the analyst and mints the reward; rejection refunds the client and
// reopens the ticket, clearing the active assignment (the transition
// history retains it for audit).
func (s *TicketService) ValidateTicket(ctx context.Context, session *domain.Session, ticketID string, approved bool) (*domain.Ticket, error) {
	if _, err := s.gate.Verify(ctx, session.Address, domain.RoleCertifier); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(ticketID)
	defer unlock()

	ticket, err := s.loadTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	target := domain.TicketStatusValidated
	if !approved {
		target = domain.TicketStatusOpen
	}
	if err := guardTransition(ticket, target); err != nil {
		return nil, err
	}
	if approved && ticket.EvidenceHash == nil {
		return nil, apperrors.NewValidationError("evidence required before approval", nil)
	}

	txRef, err := s.ledger.ValidateAndPayout(ctx, ticketID, session.Address, approved)
	if err != nil {
		return nil, mapLedgerError(err)
	}

	ref := string(txRef)
	certifier := session.Address
	from := ticket.Status
	analyst := ticket.AnalystAddress
	evidenceHash := ticket.EvidenceHash
	ticket.CertifierAddress = &certifier
	ticket.PendingTxRef = &ref
	ticket.UpdatedAt = s.now()

	record := &domain.TransitionRecord{
		TicketID:       ticket.ID,
		FromStatus:     from,
		ToStatus:       target,
		ActorAddress:   session.Address,
		ActorRole:      domain.RoleCertifier,
		AnalystAddress: analyst,
		EvidenceHash:   evidenceHash,
		TxRef:          &ref,
	}
	if approved {
		ticket.Status = domain.TicketStatusValidated
		record.Kind = domain.TransitionApprove
		record.RewardAmount = ledger.RewardFor(ticket.StakeAmount)
	} else {
		ticket.Status = domain.TicketStatusOpen
		ticket.AnalystAddress = nil
		ticket.EvidenceHash = nil
		ticket.StorageLocator = nil
		record.Kind = domain.TransitionReject
		record.RefundAmount = ticket.StakeAmount
	}
	if err := s.tickets.Update(ctx, ticket); err != nil {
		return nil, apperrors.MapError(err)
	}
	s.appendHistory(ctx, record)

	actor := events.Actor{Address: session.Address, Role: domain.RoleCertifier}
	if approved {
		s.publishEvent(ctx, events.Event{
			Type:     events.EventTicketValidated,
			TicketID: ticket.ID,
			Actor:    actor,
			Payload: events.TicketValidatedPayload{
				AnalystAddress:   deref(analyst),
				CertifierAddress: certifier,
				StakeReleased:    ticket.StakeAmount,
				RewardMinted:     record.RewardAmount,
				TxRef:            ref,
			},
		})
	} else {
		s.publishEvent(ctx, events.Event{
			Type:     events.EventTicketRejected,
			TicketID: ticket.ID,
			Actor:    actor,
			Payload: events.TicketRejectedPayload{
				AnalystAddress:   deref(analyst),
				CertifierAddress: certifier,
				StakeRefunded:    ticket.StakeAmount,
				TxRef:            ref,
			},
		})
	}
	return ticket, nil
}

// CloseTicket archives a validated ticket. Any party on the ticket may
// close it, with a live credential for their role; there is no economic
// effect and no ledger call.
func (s *TicketService) CloseTicket(ctx context.Context, session *domain.Session, ticketID string) (*domain.Ticket, error) {
	if _, err := s.gate.Verify(ctx, session.Address, session.Role); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(ticketID)
	defer unlock()

	ticket, err := s.loadTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if !s.partyOnTicket(session.Address, ticket) {
		return nil, apperrors.NewForbidden("access denied")
	}
	if err := guardTransition(ticket, domain.TicketStatusClosed); err != nil {
		return nil, err
	}

	from := ticket.Status
	ticket.Status = domain.TicketStatusClosed
	ticket.UpdatedAt = s.now()
	if err := s.tickets.Update(ctx, ticket); err != nil {
		return nil, apperrors.MapError(err)
	}

	s.appendHistory(ctx, &domain.TransitionRecord{
		TicketID:     ticket.ID,
		Kind:         domain.TransitionClose,
		FromStatus:   from,
		ToStatus:     ticket.Status,
		ActorAddress: session.Address,
		ActorRole:    session.Role,
	})
	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketClosed,
		TicketID: ticket.ID,
		Actor:    events.Actor{Address: session.Address, Role: session.Role},
	})
	return ticket, nil
}

// GetTicket returns a ticket with its evidence and transition history.
func (s *TicketService) GetTicket(ctx context.Context, ticketID string) (*domain.Ticket, []domain.Evidence, []domain.TransitionRecord, error) {
	ticket, err := s.loadTicket(ctx, ticketID)
	if err != nil {
		return nil, nil, nil, err
	}
	evidence, err := s.evidence.ListByTicket(ctx, ticketID)
	if err != nil {
		return nil, nil, nil, apperrors.MapError(err)
	}
	history, err := s.history.ListByTicket(ctx, ticketID)
	if err != nil {
		return nil, nil, nil, apperrors.MapError(err)
	}
	return ticket, evidence, history, nil
}

// ListTickets returns tickets matching the filter.
func (s *TicketService) ListTickets(ctx context.Context, filter TicketFilterInput) ([]domain.Ticket, error) {
	tickets, err := s.tickets.List(ctx, repository.TicketFilter{
		Statuses:         filter.Statuses,
		ClientAddress:    filter.ClientAddress,
		AnalystAddress:   filter.AnalystAddress,
		CertifierAddress: filter.CertifierAddress,
		Limit:            filter.Limit,
		Offset:           filter.Offset,
	})
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return tickets, nil
}

// Balance queries the ledger for a party's escrow and reward balances.
func (s *TicketService) Balance(ctx context.Context, address string) (ledger.Balance, error) {
	balance, err := s.ledger.Balance(ctx, address)
	if err != nil {
		return ledger.Balance{}, mapLedgerError(err)
	}
	return balance, nil
}

func (s *TicketService) loadTicket(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		}
		return nil, apperrors.MapError(err)
	}
	return ticket, nil
}

func (s *TicketService) partyOnTicket(address string, ticket *domain.Ticket) bool {
	if ticket.ClientAddress == address {
		return true
	}
	if ticket.AnalystAddress != nil && *ticket.AnalystAddress == address {
		return true
	}
	if ticket.CertifierAddress != nil && *ticket.CertifierAddress == address {
		return true
	}
	return false
}

// anchorAsync anchors a hash to the notarization service without
// blocking evidence submission. The hash itself is the binding proof;
// anchoring failures are logged and never propagate.
func (s *TicketService) anchorAsync(contentHash string) {
	if s.notary == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		anchorRef, err := s.notary.Anchor(ctx, contentHash)
		if err != nil {
			s.logger.Warn("evidence anchoring failed",
				zap.String("content_hash", contentHash),
				zap.Error(err))
			return
		}
		s.logger.Info("evidence hash anchored",
			zap.String("content_hash", contentHash),
			zap.String("anchor_ref", anchorRef))
	}()
}

func (s *TicketService) appendHistory(ctx context.Context, record *domain.TransitionRecord) {
	if s.history == nil {
		return
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = s.now()
	}
	if err := s.history.Append(ctx, record); err != nil {
		s.logger.Warn("failed to append transition history",
			zap.String("ticket_id", record.TicketID),
			zap.Error(err))
	}
}

func (s *TicketService) publishEvent(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}
	_ = s.dispatcher.Publish(ctx, event)
}

func mapLedgerError(err error) error {
	switch {
	case ledger.IsRejected(err):
		return apperrors.NewRejectedByLedger(err)
	case ledger.IsUnreachable(err):
		return apperrors.NewLedgerUnreachable(err)
	default:
		return apperrors.MapError(err)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
