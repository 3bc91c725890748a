package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dsoc-platform/incident-escrow/internal/domain"
	"github.com/dsoc-platform/incident-escrow/internal/events"
	"github.com/dsoc-platform/incident-escrow/internal/ledger"
	"github.com/dsoc-platform/incident-escrow/internal/locking"
	"github.com/dsoc-platform/incident-escrow/internal/observability"
	"github.com/dsoc-platform/incident-escrow/internal/repository"
	"github.com/dsoc-platform/incident-escrow/internal/settlement"
)

// Poller drives the local store toward the ledger. Each tick first
// resolves outstanding transactions (confirm, roll back, or keep
// waiting) and then merges the full ledger listing over the local
// projection, last-writer-wins by the ledger's updatedAt. A failed tick
// degrades to staleness, never to an error surfaced to callers; the next
// tick retries everything.
//
// Every read-modify-write on a ticket happens under the same per-ticket
// mutex the transition engine uses, after re-reading the ticket inside
// the lock. A user action can therefore never land between a poller read
// and its write.
type Poller struct {
	tickets    repository.TicketRepository
	history    repository.TransitionHistoryRepository
	ledger     ledger.Adapter
	settlement settlement.Store
	dispatcher events.Dispatcher
	logger     *zap.Logger
	metrics    *observability.Metrics
	locks      *locking.KeyedMutex

	interval       time.Duration
	confirmTimeout time.Duration
	now            func() time.Time
}

// Options configures a Poller.
type Options struct {
	TicketRepo     repository.TicketRepository
	HistoryRepo    repository.TransitionHistoryRepository
	Ledger         ledger.Adapter
	Settlement     settlement.Store
	Dispatcher     events.Dispatcher
	Logger         *zap.Logger
	Metrics        *observability.Metrics
	Interval       time.Duration
	ConfirmTimeout time.Duration

	// Locks must be the keyed mutex the ticket service locks with, so
	// reconciliation and user actions serialize per ticket.
	Locks *locking.KeyedMutex
}

// New constructs a Poller.
func New(opts Options) *Poller {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	confirmTimeout := opts.ConfirmTimeout
	if confirmTimeout <= 0 {
		confirmTimeout = 10 * time.Minute
	}
	locks := opts.Locks
	if locks == nil {
		locks = locking.NewKeyedMutex()
	}
	return &Poller{
		tickets:        opts.TicketRepo,
		history:        opts.HistoryRepo,
		ledger:         opts.Ledger,
		settlement:     opts.Settlement,
		dispatcher:     opts.Dispatcher,
		logger:         logger,
		metrics:        opts.Metrics,
		locks:          locks,
		interval:       interval,
		confirmTimeout: confirmTimeout,
		now:            time.Now,
	}
}

// Run ticks at the configured interval until ctx is cancelled. Each tick
// gets its own deadline so a hung ledger call cannot stall the loop past
// one period.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("reconciliation poller started", zap.Duration("interval", p.interval))
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("reconciliation poller stopped")
			return
		case <-ticker.C:
			tickCtx, cancel := context.WithTimeout(ctx, p.interval)
			p.Tick(tickCtx)
			cancel()
		}
	}
}

// Tick runs one reconciliation pass. Exported so callers can force a
// pass outside the timer, and for tests.
func (p *Poller) Tick(ctx context.Context) {
	p.metrics.RecordReconcile("tick")
	p.resolvePending(ctx)
	p.mergeLedger(ctx)
}

func (p *Poller) resolvePending(ctx context.Context) {
	pending, err := p.tickets.ListPending(ctx)
	if err != nil {
		p.logger.Warn("listing pending tickets failed", zap.Error(err))
		return
	}
	for i := range pending {
		p.resolveTicket(ctx, pending[i].ID)
	}
}

// resolveTicket settles one outstanding transaction. The pending listing
// is a stale read, so the ticket is re-read under its lock before
// anything is decided; a transition that raced the listing is left to
// the next tick.
func (p *Poller) resolveTicket(ctx context.Context, ticketID string) {
	unlock := p.locks.Lock(ticketID)
	defer unlock()

	ticket, err := p.tickets.GetByID(ctx, ticketID)
	if errors.Is(err, repository.ErrNotFound) {
		return
	}
	if err != nil {
		p.logger.Warn("loading pending ticket failed",
			zap.String("ticket_id", ticketID), zap.Error(err))
		return
	}
	if !ticket.HasPendingTx() {
		return
	}

	ref := ledger.TxRef(*ticket.PendingTxRef)
	state, err := p.ledger.TxStatus(ctx, ref)
	switch {
	case err == nil:
	case ledger.IsUnreachable(err):
		p.logger.Warn("tx status unavailable, will retry",
			zap.String("ticket_id", ticket.ID),
			zap.String("tx_ref", string(ref)),
			zap.Error(err))
		return
	default:
		// unknown reference: the ledger never saw this write
		p.rollback(ctx, ticket)
		return
	}

	switch state {
	case ledger.TxConfirmed:
		p.confirm(ctx, ticket, ref)
	case ledger.TxFailed:
		p.rollback(ctx, ticket)
	case ledger.TxPending:
		// a transaction the gateway holds pending past the confirm
		// window is treated as lost: roll back so the ticket unblocks.
		// Should the write still land, the full-listing merge adopts it.
		if age := p.now().Sub(ticket.UpdatedAt); age > p.confirmTimeout {
			p.logger.Warn("transaction pending past confirm timeout, rolling back",
				zap.String("ticket_id", ticket.ID),
				zap.String("tx_ref", string(ref)),
				zap.Duration("age", age))
			p.rollback(ctx, ticket)
		}
	}
}

// confirm clears the serialization guard and applies the one-time
// settlement side effects for the confirmed transition.
func (p *Poller) confirm(ctx context.Context, ticket *domain.Ticket, ref ledger.TxRef) {
	refStr := string(ref)
	ticket.LastTxRef = &refStr
	ticket.PendingTxRef = nil
	if err := p.tickets.Update(ctx, ticket); err != nil {
		p.logger.Warn("clearing pending tx ref failed",
			zap.String("ticket_id", ticket.ID), zap.Error(err))
		return
	}
	p.metrics.RecordReconcile("confirm")
	p.applySettlement(ctx, ticket, refStr)
	p.publishReconciled(ctx, ticket.ID, events.TicketReconciledPayload{
		OldStatus: ticket.Status,
		NewStatus: ticket.Status,
		TxRef:     refStr,
	})
	p.logger.Info("transaction confirmed",
		zap.String("ticket_id", ticket.ID),
		zap.String("tx_ref", refStr),
		zap.String("status", string(ticket.Status)))
}

// applySettlement records reputation deltas for certifier decisions.
// MarkApplied makes the delta exactly-once across poller replays.
func (p *Poller) applySettlement(ctx context.Context, ticket *domain.Ticket, txRef string) {
	if p.settlement == nil || p.history == nil {
		return
	}
	record := p.findTransition(ctx, ticket.ID, txRef)
	if record == nil {
		return
	}

	var delta int
	switch record.Kind {
	case domain.TransitionApprove:
		delta = settlement.ReputationApproveDelta
	case domain.TransitionReject:
		delta = settlement.ReputationRejectDelta
	default:
		return
	}
	if record.AnalystAddress == nil {
		return
	}

	first, err := p.settlement.MarkApplied(ctx, ticket.ID, record.Kind)
	if err != nil {
		p.logger.Warn("settlement marker failed",
			zap.String("ticket_id", ticket.ID), zap.Error(err))
		return
	}
	if !first {
		return
	}
	reputation, err := p.settlement.AdjustReputation(ctx, *record.AnalystAddress, delta)
	if err != nil {
		// release the marker so the next tick retries the delta
		_ = p.settlement.ClearApplied(ctx, ticket.ID, record.Kind)
		p.logger.Warn("reputation adjustment failed",
			zap.String("subject", *record.AnalystAddress), zap.Error(err))
		return
	}
	p.logger.Info("reputation adjusted",
		zap.String("subject", *record.AnalystAddress),
		zap.Int("delta", delta),
		zap.Int("reputation", reputation))
}

func (p *Poller) findTransition(ctx context.Context, ticketID, txRef string) *domain.TransitionRecord {
	records, err := p.history.ListByTicket(ctx, ticketID)
	if err != nil {
		p.logger.Warn("listing transition history failed",
			zap.String("ticket_id", ticketID), zap.Error(err))
		return nil
	}
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].TxRef != nil && *records[i].TxRef == txRef {
			return &records[i]
		}
	}
	return nil
}

// rollback undoes an optimistic write whose transaction failed or was
// lost. The ledger's current snapshot is authoritative; a ticket the
// ledger never created is deleted outright.
func (p *Poller) rollback(ctx context.Context, ticket *domain.Ticket) {
	snaps, err := p.ledger.ListTickets(ctx)
	if err != nil {
		p.logger.Warn("ledger listing failed during rollback",
			zap.String("ticket_id", ticket.ID), zap.Error(err))
		return
	}
	oldStatus := ticket.Status

	var snap *ledger.TicketSnapshot
	for i := range snaps {
		if snaps[i].ID == ticket.ID {
			snap = &snaps[i]
			break
		}
	}
	if snap == nil {
		if err := p.tickets.Delete(ctx, ticket.ID); err != nil && !errors.Is(err, repository.ErrNotFound) {
			p.logger.Warn("deleting phantom ticket failed",
				zap.String("ticket_id", ticket.ID), zap.Error(err))
			return
		}
		p.metrics.RecordReconcile("rollback")
		p.logger.Info("rolled back unconfirmed ticket creation",
			zap.String("ticket_id", ticket.ID))
		p.publishReconciled(ctx, ticket.ID, events.TicketReconciledPayload{
			OldStatus:  oldStatus,
			NewStatus:  oldStatus,
			RolledBack: true,
		})
		return
	}

	applySnapshot(ticket, snap)
	ticket.PendingTxRef = nil
	if err := p.tickets.Update(ctx, ticket); err != nil {
		p.logger.Warn("rollback update failed",
			zap.String("ticket_id", ticket.ID), zap.Error(err))
		return
	}
	p.metrics.RecordReconcile("rollback")
	p.logger.Info("rolled back failed transition",
		zap.String("ticket_id", ticket.ID),
		zap.String("from", string(oldStatus)),
		zap.String("to", string(ticket.Status)))
	p.publishReconciled(ctx, ticket.ID, events.TicketReconciledPayload{
		OldStatus:  oldStatus,
		NewStatus:  ticket.Status,
		RolledBack: true,
	})
}

// mergeLedger overlays the full ledger listing onto the local store.
// Tickets with an outstanding transaction are skipped (resolvePending
// owns them); otherwise a strictly newer ledger updatedAt wins, which
// keeps locally closed tickets closed.
func (p *Poller) mergeLedger(ctx context.Context) {
	snaps, err := p.ledger.ListTickets(ctx)
	if err != nil {
		p.logger.Warn("ledger listing failed", zap.Error(err))
		return
	}
	for i := range snaps {
		p.mergeSnapshot(ctx, &snaps[i])
	}
}

// mergeSnapshot holds the ticket's lock across the read and the write,
// so the pending-tx and strictly-newer checks run against current state
// and an optimistic write by the transition engine is never overwritten.
func (p *Poller) mergeSnapshot(ctx context.Context, snap *ledger.TicketSnapshot) {
	unlock := p.locks.Lock(snap.ID)
	defer unlock()

	local, err := p.tickets.GetByID(ctx, snap.ID)
	if errors.Is(err, repository.ErrNotFound) {
		p.insertFromSnapshot(ctx, snap)
		return
	}
	if err != nil {
		p.logger.Warn("loading local ticket failed",
			zap.String("ticket_id", snap.ID), zap.Error(err))
		return
	}
	if local.HasPendingTx() {
		return
	}
	if !snap.UpdatedAt.After(local.UpdatedAt) {
		return
	}

	oldStatus := local.Status
	applySnapshot(local, snap)
	if err := p.tickets.Update(ctx, local); err != nil {
		p.logger.Warn("merge update failed",
			zap.String("ticket_id", snap.ID), zap.Error(err))
		return
	}
	if oldStatus != local.Status {
		p.metrics.RecordReconcile("merge")
		p.logger.Info("ticket reconciled from ledger",
			zap.String("ticket_id", snap.ID),
			zap.String("from", string(oldStatus)),
			zap.String("to", string(local.Status)))
		p.publishReconciled(ctx, snap.ID, events.TicketReconciledPayload{
			OldStatus: oldStatus,
			NewStatus: local.Status,
		})
	}
}

// insertFromSnapshot rebuilds a ticket the local store never saw, e.g.
// after a cache wipe or a write that landed despite a transport failure.
func (p *Poller) insertFromSnapshot(ctx context.Context, snap *ledger.TicketSnapshot) {
	ticket := &domain.Ticket{
		ID:            snap.ID,
		ClientAddress: snap.ClientAddress,
		Title:         "(recovered from ledger)",
		Description:   "(recovered from ledger)",
		StakeAmount:   snap.StakeAmount,
		CreatedAt:     snap.UpdatedAt,
	}
	applySnapshot(ticket, snap)
	if ticket.Severity == "" {
		ticket.Severity = domain.SeverityMedium
	}
	if err := p.tickets.Create(ctx, ticket); err != nil {
		p.logger.Warn("rebuilding ticket from ledger failed",
			zap.String("ticket_id", snap.ID), zap.Error(err))
		return
	}
	p.metrics.RecordReconcile("rebuild")
	p.logger.Info("rebuilt ticket from ledger", zap.String("ticket_id", snap.ID))
	p.publishReconciled(ctx, snap.ID, events.TicketReconciledPayload{
		OldStatus: ticket.Status,
		NewStatus: ticket.Status,
	})
}

func (p *Poller) publishReconciled(ctx context.Context, ticketID string, payload events.TicketReconciledPayload) {
	if p.dispatcher == nil {
		return
	}
	_ = p.dispatcher.Publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      events.EventTicketReconciled,
		TicketID:  ticketID,
		Timestamp: p.now(),
		Payload:   payload,
	})
}

// applySnapshot copies the ledger-authoritative fields onto the local
// ticket. Title, description and storage locator are local-only detail
// the ledger does not carry, except when the snapshot has a locator.
func applySnapshot(ticket *domain.Ticket, snap *ledger.TicketSnapshot) {
	ticket.Status = snap.Status
	ticket.AnalystAddress = snap.AnalystAddress
	ticket.CertifierAddress = snap.CertifierAddress
	ticket.EvidenceHash = snap.EvidenceHash
	if snap.StorageLocator != nil {
		ticket.StorageLocator = snap.StorageLocator
	} else if snap.EvidenceHash == nil {
		ticket.StorageLocator = nil
	}
	if snap.Severity != "" {
		ticket.Severity = snap.Severity
	}
	ticket.UpdatedAt = snap.UpdatedAt
}
