package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dsoc-platform/incident-escrow/internal/domain"
)

// MemLedger is an in-memory settlement ledger double. It mirrors the
// contract's escrow semantics, including confirmation latency: a
// submitted transaction stays PENDING until the configured latency
// elapses, and its effect lands only on confirmation. Selected at
// construction in place of the HTTP gateway client; also the test double.
type MemLedger struct {
	mu      sync.Mutex
	now     func() time.Time
	latency time.Duration

	tickets map[string]*TicketSnapshot
	txs     map[TxRef]*memTx
	order   []TxRef
	funds   map[string]int64
	escrow  map[string]int64
	rewards map[string]int64
}

type memTx struct {
	state       TxState
	submittedAt time.Time
	execute     func(now time.Time) error
}

// MemOption configures a MemLedger.
type MemOption func(*MemLedger)

// WithLatency sets the simulated confirmation latency.
func WithLatency(d time.Duration) MemOption {
	return func(m *MemLedger) { m.latency = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) MemOption {
	return func(m *MemLedger) { m.now = now }
}

// NewMemLedger constructs the double. With no options, transactions
// confirm on the next observation.
func NewMemLedger(opts ...MemOption) *MemLedger {
	m := &MemLedger{
		now:     time.Now,
		tickets: make(map[string]*TicketSnapshot),
		txs:     make(map[TxRef]*memTx),
		funds:   make(map[string]int64),
		escrow:  make(map[string]int64),
		rewards: make(map[string]int64),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SeedFunds credits spendable funds to an address. Addresses never
// seeded are treated as unlimited, which keeps simple tests terse.
func (m *MemLedger) SeedFunds(address string, amount int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.funds[address] = amount
}

// SubmitStake implements Adapter.
func (m *MemLedger) SubmitStake(_ context.Context, req StakeRequest) (TxRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if req.StakeAmount <= 0 {
		return "", &RejectedError{Reason: "stake must be positive"}
	}
	if funds, tracked := m.funds[req.ClientAddress]; tracked && funds < req.StakeAmount {
		return "", &RejectedError{Reason: "insufficient funds for stake"}
	}

	return m.submit(func(now time.Time) error {
		if _, exists := m.tickets[req.TicketID]; exists {
			return fmt.Errorf("ticket %s already exists", req.TicketID)
		}
		if funds, tracked := m.funds[req.ClientAddress]; tracked {
			if funds < req.StakeAmount {
				return fmt.Errorf("insufficient funds at execution")
			}
			m.funds[req.ClientAddress] = funds - req.StakeAmount
		}
		m.escrow[req.ClientAddress] += req.StakeAmount
		snap := &TicketSnapshot{
			ID:            req.TicketID,
			ClientAddress: req.ClientAddress,
			StakeAmount:   req.StakeAmount,
			Status:        domain.TicketStatusOpen,
			UpdatedAt:     now,
		}
		if req.EvidenceHash != "" {
			hash := req.EvidenceHash
			snap.EvidenceHash = &hash
		}
		m.tickets[req.TicketID] = snap
		return nil
	}), nil
}

// Assign implements Adapter.
func (m *MemLedger) Assign(_ context.Context, ticketID, analystAddress string) (TxRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.submit(func(now time.Time) error {
		snap, ok := m.tickets[ticketID]
		if !ok {
			return fmt.Errorf("ticket %s not found", ticketID)
		}
		if snap.Status != domain.TicketStatusOpen {
			return fmt.Errorf("ticket %s not open", ticketID)
		}
		addr := analystAddress
		snap.AnalystAddress = &addr
		snap.Status = domain.TicketStatusAssigned
		snap.UpdatedAt = now
		return nil
	}), nil
}

// SubmitEvidence implements Adapter.
func (m *MemLedger) SubmitEvidence(_ context.Context, ticketID, analystAddress, evidenceHash, storageLocator string) (TxRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.submit(func(now time.Time) error {
		snap, ok := m.tickets[ticketID]
		if !ok {
			return fmt.Errorf("ticket %s not found", ticketID)
		}
		if snap.Status != domain.TicketStatusAssigned {
			return fmt.Errorf("ticket %s not assigned", ticketID)
		}
		if snap.AnalystAddress == nil || *snap.AnalystAddress != analystAddress {
			return fmt.Errorf("evidence submitter is not the assigned analyst")
		}
		hash, locator := evidenceHash, storageLocator
		snap.EvidenceHash = &hash
		snap.StorageLocator = &locator
		snap.Status = domain.TicketStatusInProgress
		snap.UpdatedAt = now
		return nil
	}), nil
}

// ValidateAndPayout implements Adapter. On approval the contract releases
// the stake to the analyst and mints the reward; on rejection it refunds
// the client and reopens the ticket.
func (m *MemLedger) ValidateAndPayout(_ context.Context, ticketID, certifierAddress string, approved bool) (TxRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.submit(func(now time.Time) error {
		snap, ok := m.tickets[ticketID]
		if !ok {
			return fmt.Errorf("ticket %s not found", ticketID)
		}
		if snap.Status != domain.TicketStatusInProgress {
			return fmt.Errorf("ticket %s not in progress", ticketID)
		}
		m.escrow[snap.ClientAddress] -= snap.StakeAmount
		cert := certifierAddress
		snap.CertifierAddress = &cert
		if approved {
			if snap.AnalystAddress == nil {
				return fmt.Errorf("no analyst to pay out")
			}
			analyst := *snap.AnalystAddress
			m.funds[analyst] += snap.StakeAmount
			m.rewards[analyst] += RewardFor(snap.StakeAmount)
			snap.Status = domain.TicketStatusValidated
		} else {
			m.funds[snap.ClientAddress] += snap.StakeAmount
			snap.AnalystAddress = nil
			snap.EvidenceHash = nil
			snap.StorageLocator = nil
			snap.Status = domain.TicketStatusOpen
		}
		snap.UpdatedAt = now
		return nil
	}), nil
}

// TxStatus implements Adapter.
func (m *MemLedger) TxStatus(_ context.Context, ref TxRef) (TxState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.txs[ref]
	if !ok {
		return "", &RejectedError{Reason: "unknown transaction reference"}
	}
	m.matureAll()
	return tx.state, nil
}

// ListTickets implements Adapter. All matured transactions are applied
// before the snapshot is taken.
func (m *MemLedger) ListTickets(_ context.Context) ([]TicketSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.matureAll()
	out := make([]TicketSnapshot, 0, len(m.tickets))
	for _, snap := range m.tickets {
		out = append(out, *snap)
	}
	return out, nil
}

// Balance implements Adapter.
func (m *MemLedger) Balance(_ context.Context, address string) (Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.matureAll()
	return Balance{
		Escrow: m.escrow[address],
		Reward: m.rewards[address],
	}, nil
}

// Funds returns the spendable funds for an address, for assertions in
// settlement tests.
func (m *MemLedger) Funds(address string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.matureAll()
	return m.funds[address]
}

func (m *MemLedger) submit(execute func(now time.Time) error) TxRef {
	ref := TxRef("0x" + uuid.NewString())
	m.txs[ref] = &memTx{
		state:       TxPending,
		submittedAt: m.now(),
		execute:     execute,
	}
	m.order = append(m.order, ref)
	return ref
}

// matureAll applies ripe transactions in submission order, matching the
// chain's sequencing. Callers hold the mutex.
func (m *MemLedger) matureAll() {
	for _, ref := range m.order {
		m.mature(m.txs[ref])
	}
}

// mature applies a pending transaction once its confirmation latency has
// elapsed. Callers hold the mutex.
func (m *MemLedger) mature(tx *memTx) {
	if tx.state != TxPending {
		return
	}
	now := m.now()
	if now.Sub(tx.submittedAt) < m.latency {
		return
	}
	if err := tx.execute(now); err != nil {
		tx.state = TxFailed
		return
	}
	tx.state = TxConfirmed
}
