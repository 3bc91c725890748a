package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/dsoc-platform/incident-escrow/internal/domain"
)

func TestRewardFor(t *testing.T) {
	cases := []struct {
		stake int64
		want  int64
	}{
		{stake: 100, want: 10},
		{stake: 109, want: 10},
		{stake: 110, want: 11},
		{stake: 9, want: 0},
		{stake: 0, want: 0},
		{stake: -50, want: 0},
	}
	for _, tc := range cases {
		if got := RewardFor(tc.stake); got != tc.want {
			t.Fatalf("RewardFor(%d) = %d, want %d", tc.stake, got, tc.want)
		}
	}
}

func TestMemLedgerLifecycleSettlement(t *testing.T) {
	ctx := context.Background()
	m := NewMemLedger()
	m.SeedFunds("0xclient", 500)

	if _, err := m.SubmitStake(ctx, StakeRequest{
		TicketID:      "t-1",
		ClientAddress: "0xclient",
		StakeAmount:   100,
	}); err != nil {
		t.Fatalf("submit stake: %v", err)
	}
	if _, err := m.Assign(ctx, "t-1", "0xanalyst"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := m.SubmitEvidence(ctx, "t-1", "0xanalyst", "deadbeef", "bafy-locator"); err != nil {
		t.Fatalf("submit evidence: %v", err)
	}
	if _, err := m.ValidateAndPayout(ctx, "t-1", "0xcertifier", true); err != nil {
		t.Fatalf("validate: %v", err)
	}

	tickets, err := m.ListTickets(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tickets) != 1 {
		t.Fatalf("expected 1 ticket, got %d", len(tickets))
	}
	snap := tickets[0]
	if snap.Status != domain.TicketStatusValidated {
		t.Fatalf("expected VALIDATED, got %s", snap.Status)
	}
	if snap.CertifierAddress == nil || *snap.CertifierAddress != "0xcertifier" {
		t.Fatalf("expected certifier recorded")
	}

	if got := m.Funds("0xanalyst"); got != 100 {
		t.Fatalf("expected analyst to receive 100 stake units, got %d", got)
	}
	bal, err := m.Balance(ctx, "0xanalyst")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal.Reward != 10 {
		t.Fatalf("expected 10 reward units minted, got %d", bal.Reward)
	}
	if got := m.Funds("0xclient"); got != 400 {
		t.Fatalf("expected client funds 400, got %d", got)
	}
}

func TestMemLedgerRejectionRefundsClient(t *testing.T) {
	ctx := context.Background()
	m := NewMemLedger()
	m.SeedFunds("0xclient", 100)

	if _, err := m.SubmitStake(ctx, StakeRequest{TicketID: "t-2", ClientAddress: "0xclient", StakeAmount: 100}); err != nil {
		t.Fatalf("submit stake: %v", err)
	}
	if _, err := m.Assign(ctx, "t-2", "0xanalyst"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := m.SubmitEvidence(ctx, "t-2", "0xanalyst", "cafe", "loc"); err != nil {
		t.Fatalf("submit evidence: %v", err)
	}
	if _, err := m.ValidateAndPayout(ctx, "t-2", "0xcertifier", false); err != nil {
		t.Fatalf("reject: %v", err)
	}

	tickets, _ := m.ListTickets(ctx)
	snap := tickets[0]
	if snap.Status != domain.TicketStatusOpen {
		t.Fatalf("expected ticket reopened, got %s", snap.Status)
	}
	if snap.AnalystAddress != nil || snap.EvidenceHash != nil {
		t.Fatalf("expected analyst and evidence cleared")
	}
	if got := m.Funds("0xclient"); got != 100 {
		t.Fatalf("expected full refund, client funds %d", got)
	}
	bal, _ := m.Balance(ctx, "0xanalyst")
	if bal.Reward != 0 {
		t.Fatalf("expected no reward on rejection, got %d", bal.Reward)
	}
}

func TestMemLedgerRejectsNonPositiveStake(t *testing.T) {
	m := NewMemLedger()
	_, err := m.SubmitStake(context.Background(), StakeRequest{TicketID: "t-3", ClientAddress: "0xclient", StakeAmount: 0})
	if !IsRejected(err) {
		t.Fatalf("expected rejection, got %v", err)
	}
}

func TestMemLedgerRejectsInsufficientFunds(t *testing.T) {
	m := NewMemLedger()
	m.SeedFunds("0xpoor", 10)
	_, err := m.SubmitStake(context.Background(), StakeRequest{TicketID: "t-4", ClientAddress: "0xpoor", StakeAmount: 100})
	if !IsRejected(err) {
		t.Fatalf("expected rejection, got %v", err)
	}
}

func TestMemLedgerConfirmationLatency(t *testing.T) {
	ctx := context.Background()
	current := time.Unix(1_700_000_000, 0)
	m := NewMemLedger(
		WithLatency(5*time.Second),
		WithClock(func() time.Time { return current }),
	)

	ref, err := m.SubmitStake(ctx, StakeRequest{TicketID: "t-5", ClientAddress: "0xclient", StakeAmount: 50})
	if err != nil {
		t.Fatalf("submit stake: %v", err)
	}

	state, err := m.TxStatus(ctx, ref)
	if err != nil {
		t.Fatalf("tx status: %v", err)
	}
	if state != TxPending {
		t.Fatalf("expected PENDING before latency, got %s", state)
	}
	if tickets, _ := m.ListTickets(ctx); len(tickets) != 0 {
		t.Fatalf("effect must not land before confirmation")
	}

	current = current.Add(6 * time.Second)
	state, err = m.TxStatus(ctx, ref)
	if err != nil {
		t.Fatalf("tx status: %v", err)
	}
	if state != TxConfirmed {
		t.Fatalf("expected CONFIRMED after latency, got %s", state)
	}
	if tickets, _ := m.ListTickets(ctx); len(tickets) != 1 {
		t.Fatalf("expected ticket visible after confirmation")
	}
}

func TestMemLedgerInvalidTransitionFailsAtExecution(t *testing.T) {
	ctx := context.Background()
	m := NewMemLedger()

	if _, err := m.SubmitStake(ctx, StakeRequest{TicketID: "t-6", ClientAddress: "0xclient", StakeAmount: 40}); err != nil {
		t.Fatalf("submit stake: %v", err)
	}
	if _, err := m.Assign(ctx, "t-6", "0xanalyst-1"); err != nil {
		t.Fatalf("assign: %v", err)
	}

	// Second claim on an already assigned ticket fails when executed.
	ref, err := m.Assign(ctx, "t-6", "0xanalyst-2")
	if err != nil {
		t.Fatalf("assign accepted for processing: %v", err)
	}
	state, err := m.TxStatus(ctx, ref)
	if err != nil {
		t.Fatalf("tx status: %v", err)
	}
	if state != TxFailed {
		t.Fatalf("expected FAILED, got %s", state)
	}

	tickets, _ := m.ListTickets(ctx)
	if got := *tickets[0].AnalystAddress; got != "0xanalyst-1" {
		t.Fatalf("first analyst must keep the assignment, got %s", got)
	}
}

func TestMemLedgerUnknownTxRef(t *testing.T) {
	m := NewMemLedger()
	_, err := m.TxStatus(context.Background(), "0xmissing")
	if !IsRejected(err) {
		t.Fatalf("expected rejection for unknown ref, got %v", err)
	}
}
