package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dsoc-platform/incident-escrow/internal/domain"
)

// TxRef is an opaque reference to a submitted ledger transaction. A
// returned ref means "accepted for processing", never "settled".
type TxRef string

// TxState is the observable confirmation state of a transaction.
type TxState string

const (
	TxPending   TxState = "PENDING"
	TxConfirmed TxState = "CONFIRMED"
	TxFailed    TxState = "FAILED"
)

// TicketSnapshot is the ledger's observable view of a ticket. The
// reconciliation poller treats these fields as authoritative.
type TicketSnapshot struct {
	ID               string
	ClientAddress    string
	AnalystAddress   *string
	CertifierAddress *string
	Severity         domain.TicketSeverity
	StakeAmount      int64
	EvidenceHash     *string
	StorageLocator   *string
	Status           domain.TicketStatus
	UpdatedAt        time.Time
}

// Balance reports a party's escrowed stake and minted reward units.
type Balance struct {
	Escrow int64
	Reward int64
}

// StakeRequest carries the arguments for the create-ticket stake call.
type StakeRequest struct {
	TicketID      string
	ClientAddress string
	StakeAmount   int64
	EvidenceHash  string
}

// Adapter is the boundary to the external settlement ledger. One method
// per lifecycle transition, each fire-and-confirm-later; TxStatus is how
// the reconciliation poller learns the outcome. Implementations are
// selected at construction time, never by runtime branching inside
// business logic.
type Adapter interface {
	SubmitStake(ctx context.Context, req StakeRequest) (TxRef, error)
	Assign(ctx context.Context, ticketID, analystAddress string) (TxRef, error)
	SubmitEvidence(ctx context.Context, ticketID, analystAddress, evidenceHash, storageLocator string) (TxRef, error)
	ValidateAndPayout(ctx context.Context, ticketID, certifierAddress string, approved bool) (TxRef, error)
	TxStatus(ctx context.Context, ref TxRef) (TxState, error)
	ListTickets(ctx context.Context) ([]TicketSnapshot, error)
	Balance(ctx context.Context, address string) (Balance, error)
}

// RewardFor computes the bonus minted to the analyst on approval: one
// reward unit per ten stake units, integer floor.
func RewardFor(stakeAmount int64) int64 {
	if stakeAmount <= 0 {
		return 0
	}
	return stakeAmount / 10
}

// RejectedError is a terminal rejection for an attempt (insufficient
// stake, bad signature, illegal contract state). The caller must roll
// back its optimistic write.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("rejected by ledger: %s", e.Reason)
}

// UnreachableError is a transport-level failure. The action may still
// land, so optimistic writes are retained and the poller resolves the
// outcome.
type UnreachableError struct {
	Err error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("ledger unreachable: %v", e.Err)
}

func (e *UnreachableError) Unwrap() error {
	return e.Err
}

// IsRejected reports whether err is a terminal ledger rejection.
func IsRejected(err error) bool {
	var re *RejectedError
	return errors.As(err, &re)
}

// IsUnreachable reports whether err is a retryable transport failure.
func IsUnreachable(err error) bool {
	var ue *UnreachableError
	return errors.As(err, &ue)
}
