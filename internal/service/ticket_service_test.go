package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dsoc-platform/incident-escrow/internal/credential"
	"github.com/dsoc-platform/incident-escrow/internal/domain"
	"github.com/dsoc-platform/incident-escrow/internal/events"
	"github.com/dsoc-platform/incident-escrow/internal/fingerprint"
	"github.com/dsoc-platform/incident-escrow/internal/ledger"
	"github.com/dsoc-platform/incident-escrow/internal/repository"
	"github.com/dsoc-platform/incident-escrow/internal/storage"
	apperrors "github.com/dsoc-platform/incident-escrow/pkg/util"
)

const (
	clientAddr    = "0xaaaa000000000000000000000000000000000001"
	analystAddr   = "0xbbbb000000000000000000000000000000000002"
	certifierAddr = "0xcccc000000000000000000000000000000000003"
)

type serviceFixture struct {
	svc      *TicketService
	tickets  *repository.MemTicketRepository
	history  *repository.MemTransitionHistoryRepository
	ledger   *ledger.MemLedger
	resolver *credential.StaticResolver
	content  *storage.MemContentStore
}

func newFixture(t *testing.T) *serviceFixture {
	t.Helper()

	resolver := credential.NewStaticResolver(
		&domain.Credential{SubjectID: clientAddr, Role: domain.RoleClient, Reputation: 50, IssuedAt: time.Now()},
		&domain.Credential{SubjectID: analystAddr, Role: domain.RoleAnalyst, Reputation: 50, IssuedAt: time.Now()},
		&domain.Credential{SubjectID: certifierAddr, Role: domain.RoleCertifier, Reputation: 50, IssuedAt: time.Now()},
	)
	tickets := repository.NewMemTicketRepository()
	history := repository.NewMemTransitionHistoryRepository()
	mem := ledger.NewMemLedger()
	content := storage.NewMemContentStore()

	svc := NewTicketService(TicketDependencies{
		TicketRepo:   tickets,
		EvidenceRepo: repository.NewMemEvidenceRepository(),
		HistoryRepo:  history,
		Gate:         credential.NewGate(resolver, nil),
		Ledger:       mem,
		Fingerprint:  fingerprint.NewService(1 << 20),
		ContentStore: content,
		Notary:       storage.NewMemNotary(),
		Dispatcher:   events.NewInMemoryDispatcher(),
	})
	return &serviceFixture{
		svc:      svc,
		tickets:  tickets,
		history:  history,
		ledger:   mem,
		resolver: resolver,
		content:  content,
	}
}

func session(address string, role domain.Role) *domain.Session {
	return &domain.Session{
		ID:        "sess-" + address,
		Address:   address,
		Role:      role,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	}
}

// settle plays the poller's confirmation step: the pending transaction is
// observed confirmed on the ledger and the serialization guard clears.
func (f *serviceFixture) settle(t *testing.T, ticketID string) {
	t.Helper()
	ctx := context.Background()
	ticket, err := f.tickets.GetByID(ctx, ticketID)
	if err != nil {
		t.Fatalf("load ticket: %v", err)
	}
	if ticket.PendingTxRef == nil {
		return
	}
	state, err := f.ledger.TxStatus(ctx, ledger.TxRef(*ticket.PendingTxRef))
	if err != nil {
		t.Fatalf("tx status: %v", err)
	}
	if state != ledger.TxConfirmed {
		t.Fatalf("expected confirmed tx, got %s", state)
	}
	ticket.LastTxRef = ticket.PendingTxRef
	ticket.PendingTxRef = nil
	if err := f.tickets.Update(ctx, ticket); err != nil {
		t.Fatalf("clear pending ref: %v", err)
	}
}

func expectCode(t *testing.T, err error, code string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s, got nil", code)
	}
	var domainErr *apperrors.DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %T: %v", err, err)
	}
	if domainErr.Code != code {
		t.Fatalf("expected code %s, got %s (%v)", code, domainErr.Code, err)
	}
}

func TestFullLifecycleApproval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ticket, err := f.svc.CreateTicket(ctx, session(clientAddr, domain.RoleClient), TicketCreateInput{
		Title:       "Suspicious lateral movement",
		Description: "SMB traffic between workstations outside business hours",
		Severity:    domain.SeverityHigh,
		StakeAmount: 1000,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if ticket.Status != domain.TicketStatusOpen {
		t.Fatalf("expected OPEN, got %s", ticket.Status)
	}
	if ticket.PendingTxRef == nil {
		t.Fatal("expected pending tx ref after create")
	}
	f.settle(t, ticket.ID)

	if _, err := f.svc.ClaimTicket(ctx, session(analystAddr, domain.RoleAnalyst), ticket.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}
	f.settle(t, ticket.ID)

	ticket, _, err = f.svc.SubmitEvidence(ctx, session(analystAddr, domain.RoleAnalyst), ticket.ID, "capture.pcap", []byte("packet capture bytes"))
	if err != nil {
		t.Fatalf("submit evidence: %v", err)
	}
	if ticket.Status != domain.TicketStatusInProgress {
		t.Fatalf("expected IN_PROGRESS, got %s", ticket.Status)
	}
	if ticket.EvidenceHash == nil || ticket.StorageLocator == nil {
		t.Fatal("expected evidence hash and storage locator set")
	}
	if _, ok := f.content.Get(*ticket.StorageLocator); !ok {
		t.Fatal("evidence bytes not uploaded to content store")
	}
	f.settle(t, ticket.ID)

	ticket, err = f.svc.ValidateTicket(ctx, session(certifierAddr, domain.RoleCertifier), ticket.ID, true)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if ticket.Status != domain.TicketStatusValidated {
		t.Fatalf("expected VALIDATED, got %s", ticket.Status)
	}
	f.settle(t, ticket.ID)

	balance, err := f.svc.Balance(ctx, analystAddr)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Reward != ledger.RewardFor(1000) {
		t.Fatalf("expected reward %d, got %d", ledger.RewardFor(1000), balance.Reward)
	}
	if got := f.ledger.Funds(analystAddr); got != 1000 {
		t.Fatalf("expected stake 1000 released to analyst, got %d", got)
	}

	ticket, err = f.svc.CloseTicket(ctx, session(clientAddr, domain.RoleClient), ticket.ID)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if ticket.Status != domain.TicketStatusClosed {
		t.Fatalf("expected CLOSED, got %s", ticket.Status)
	}

	_, _, history, err := f.svc.GetTicket(ctx, ticket.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	kinds := make([]domain.TransitionKind, 0, len(history))
	for _, record := range history {
		kinds = append(kinds, record.Kind)
	}
	want := []domain.TransitionKind{
		domain.TransitionCreate,
		domain.TransitionClaim,
		domain.TransitionSubmitEvidence,
		domain.TransitionApprove,
		domain.TransitionClose,
	}
	if len(kinds) != len(want) {
		t.Fatalf("expected %d history entries, got %v", len(want), kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("history[%d]: expected %s, got %s", i, want[i], kinds[i])
		}
	}
}

func TestRejectionRefundsAndReopens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ledger.SeedFunds(clientAddr, 500)

	ticket, err := f.svc.CreateTicket(ctx, session(clientAddr, domain.RoleClient), TicketCreateInput{
		Title:       "Phishing campaign",
		Description: "Credential harvesting emails targeting finance",
		Severity:    domain.SeverityMedium,
		StakeAmount: 500,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	f.settle(t, ticket.ID)
	if _, err := f.svc.ClaimTicket(ctx, session(analystAddr, domain.RoleAnalyst), ticket.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}
	f.settle(t, ticket.ID)
	if _, _, err := f.svc.SubmitEvidence(ctx, session(analystAddr, domain.RoleAnalyst), ticket.ID, "report.pdf", []byte("inconclusive findings")); err != nil {
		t.Fatalf("submit evidence: %v", err)
	}
	f.settle(t, ticket.ID)

	ticket, err = f.svc.ValidateTicket(ctx, session(certifierAddr, domain.RoleCertifier), ticket.ID, false)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if ticket.Status != domain.TicketStatusOpen {
		t.Fatalf("expected OPEN after rejection, got %s", ticket.Status)
	}
	if ticket.AnalystAddress != nil || ticket.EvidenceHash != nil || ticket.StorageLocator != nil {
		t.Fatal("rejection must clear analyst and evidence from the ticket")
	}
	f.settle(t, ticket.ID)

	if got := f.ledger.Funds(clientAddr); got != 500 {
		t.Fatalf("expected full refund to client, got %d", got)
	}
	if got := f.ledger.Funds(analystAddr); got != 0 {
		t.Fatalf("expected no payout to analyst, got %d", got)
	}

	history, err := f.history.ListByTicket(ctx, ticket.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	var rejection *domain.TransitionRecord
	for i := range history {
		if history[i].Kind == domain.TransitionReject {
			rejection = &history[i]
		}
	}
	if rejection == nil {
		t.Fatal("expected a rejection history entry")
	}
	if rejection.AnalystAddress == nil || *rejection.AnalystAddress != analystAddr {
		t.Fatal("rejection history must retain the cleared analyst")
	}
	if rejection.EvidenceHash == nil {
		t.Fatal("rejection history must retain the cleared evidence hash")
	}
	if rejection.RefundAmount != 500 {
		t.Fatalf("expected refund 500 in history, got %d", rejection.RefundAmount)
	}

	// the reopened ticket is claimable again
	if _, err := f.svc.ClaimTicket(ctx, session(analystAddr, domain.RoleAnalyst), ticket.ID); err != nil {
		t.Fatalf("re-claim after rejection: %v", err)
	}
}

func TestPendingTxBlocksNextTransition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ticket, err := f.svc.CreateTicket(ctx, session(clientAddr, domain.RoleClient), TicketCreateInput{
		Title:       "Beaconing host",
		Description: "Periodic DNS queries to a DGA domain",
		Severity:    domain.SeverityLow,
		StakeAmount: 100,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// the create transaction has not been confirmed yet
	_, err = f.svc.ClaimTicket(ctx, session(analystAddr, domain.RoleAnalyst), ticket.ID)
	expectCode(t, err, "TRANSITION_IN_PROGRESS")

	f.settle(t, ticket.ID)
	if _, err := f.svc.ClaimTicket(ctx, session(analystAddr, domain.RoleAnalyst), ticket.ID); err != nil {
		t.Fatalf("claim after settlement: %v", err)
	}
}

func TestIllegalTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ticket, err := f.svc.CreateTicket(ctx, session(clientAddr, domain.RoleClient), TicketCreateInput{
		Title:       "Test incident",
		Description: "lifecycle probing",
		Severity:    domain.SeverityLow,
		StakeAmount: 100,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	f.settle(t, ticket.ID)

	// validating an OPEN ticket skips ASSIGNED and IN_PROGRESS
	_, err = f.svc.ValidateTicket(ctx, session(certifierAddr, domain.RoleCertifier), ticket.ID, true)
	expectCode(t, err, "ILLEGAL_TRANSITION")

	// evidence before claim
	_, _, err = f.svc.SubmitEvidence(ctx, session(analystAddr, domain.RoleAnalyst), ticket.ID, "x.bin", []byte("early"))
	expectCode(t, err, "ILLEGAL_TRANSITION")

	// closing an OPEN ticket
	_, err = f.svc.CloseTicket(ctx, session(clientAddr, domain.RoleClient), ticket.ID)
	expectCode(t, err, "ILLEGAL_TRANSITION")

	// double claim after confirmation
	if _, err := f.svc.ClaimTicket(ctx, session(analystAddr, domain.RoleAnalyst), ticket.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}
	f.settle(t, ticket.ID)
	_, err = f.svc.ClaimTicket(ctx, session(analystAddr, domain.RoleAnalyst), ticket.ID)
	expectCode(t, err, "ILLEGAL_TRANSITION")
}

func TestCredentialGateBlocksActions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// unknown subject
	_, err := f.svc.CreateTicket(ctx, session("0xdead000000000000000000000000000000000004", domain.RoleClient), TicketCreateInput{
		Title:       "x",
		Description: "y",
		Severity:    domain.SeverityLow,
		StakeAmount: 10,
	})
	expectCode(t, err, "CREDENTIAL_NOT_FOUND")

	// analyst credential does not grant client actions
	_, err = f.svc.CreateTicket(ctx, session(analystAddr, domain.RoleClient), TicketCreateInput{
		Title:       "x",
		Description: "y",
		Severity:    domain.SeverityLow,
		StakeAmount: 10,
	})
	expectCode(t, err, "CREDENTIAL_NOT_FOUND")

	// expired credential
	expiry := time.Now().Add(-time.Minute)
	f.resolver.Add(&domain.Credential{
		SubjectID: "0xeeee000000000000000000000000000000000005",
		Role:      domain.RoleAnalyst,
		IssuedAt:  time.Now().Add(-time.Hour),
		ExpiresAt: &expiry,
	})
	_, err = f.svc.ClaimTicket(ctx, session("0xeeee000000000000000000000000000000000005", domain.RoleAnalyst), "any")
	expectCode(t, err, "CREDENTIAL_EXPIRED")
}

func TestLedgerRejectionLeavesNoLocalState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ledger.SeedFunds(clientAddr, 50)

	_, err := f.svc.CreateTicket(ctx, session(clientAddr, domain.RoleClient), TicketCreateInput{
		Title:       "Underfunded report",
		Description: "stake exceeds balance",
		Severity:    domain.SeverityLow,
		StakeAmount: 100,
	})
	expectCode(t, err, "REJECTED_BY_LEDGER")

	tickets, err := f.svc.ListTickets(ctx, TicketFilterInput{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tickets) != 0 {
		t.Fatalf("expected no local tickets after rejection, got %d", len(tickets))
	}
}

func TestOnlyAssignedAnalystSubmitsEvidence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	otherAnalyst := "0xffff000000000000000000000000000000000006"
	f.resolver.Add(&domain.Credential{SubjectID: otherAnalyst, Role: domain.RoleAnalyst, IssuedAt: time.Now()})

	ticket, err := f.svc.CreateTicket(ctx, session(clientAddr, domain.RoleClient), TicketCreateInput{
		Title:       "Ransom note found",
		Description: "desktop wallpaper replaced on two hosts",
		Severity:    domain.SeverityCritical,
		StakeAmount: 2000,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	f.settle(t, ticket.ID)
	if _, err := f.svc.ClaimTicket(ctx, session(analystAddr, domain.RoleAnalyst), ticket.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}
	f.settle(t, ticket.ID)

	_, _, err = f.svc.SubmitEvidence(ctx, session(otherAnalyst, domain.RoleAnalyst), ticket.ID, "z.bin", []byte("not mine"))
	expectCode(t, err, "FORBIDDEN")
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cases := []struct {
		name  string
		input TicketCreateInput
	}{
		{"empty title", TicketCreateInput{Description: "d", Severity: domain.SeverityLow, StakeAmount: 10}},
		{"empty description", TicketCreateInput{Title: "t", Severity: domain.SeverityLow, StakeAmount: 10}},
		{"zero stake", TicketCreateInput{Title: "t", Description: "d", Severity: domain.SeverityLow}},
		{"negative stake", TicketCreateInput{Title: "t", Description: "d", Severity: domain.SeverityLow, StakeAmount: -5}},
		{"bad severity", TicketCreateInput{Title: "t", Description: "d", Severity: "URGENT", StakeAmount: 10}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.CreateTicket(ctx, session(clientAddr, domain.RoleClient), tc.input)
			expectCode(t, err, "VALIDATION_FAILED")
		})
	}
}

func TestApprovalRequiresEvidence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ticket, err := f.svc.CreateTicket(ctx, session(clientAddr, domain.RoleClient), TicketCreateInput{
		Title:       "No evidence yet",
		Description: "probing approval precondition",
		Severity:    domain.SeverityLow,
		StakeAmount: 100,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	f.settle(t, ticket.ID)
	if _, err := f.svc.ClaimTicket(ctx, session(analystAddr, domain.RoleAnalyst), ticket.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}
	f.settle(t, ticket.ID)

	// ticket is ASSIGNED: the only certifier edge is via IN_PROGRESS,
	// so approval here is an illegal transition before the evidence
	// precondition even applies
	_, err = f.svc.ValidateTicket(ctx, session(certifierAddr, domain.RoleCertifier), ticket.ID, true)
	expectCode(t, err, "ILLEGAL_TRANSITION")
}

func TestEvidenceAtCreateBindsHash(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ticket, err := f.svc.CreateTicket(ctx, session(clientAddr, domain.RoleClient), TicketCreateInput{
		Title:       "Initial triage attached",
		Description: "screenshot of the alert",
		Severity:    domain.SeverityMedium,
		StakeAmount: 300,
		Evidence:    []byte("alert screenshot bytes"),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if ticket.EvidenceHash == nil {
		t.Fatal("expected evidence hash bound at creation")
	}
	f.settle(t, ticket.ID)

	snaps, err := f.ledger.ListTickets(ctx)
	if err != nil {
		t.Fatalf("list snapshots: %v", err)
	}
	if len(snaps) != 1 || snaps[0].EvidenceHash == nil || *snaps[0].EvidenceHash != *ticket.EvidenceHash {
		t.Fatal("ledger snapshot must carry the creation evidence hash")
	}
}

func TestGetTicketNotFound(t *testing.T) {
	f := newFixture(t)
	_, _, _, err := f.svc.GetTicket(context.Background(), "missing")
	expectCode(t, err, "NOT_FOUND")
}

func TestCloseRequiresLiveCredential(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ticket, err := f.svc.CreateTicket(ctx, session(clientAddr, domain.RoleClient), TicketCreateInput{
		Title:       "Beaconing to known C2",
		Description: "periodic DNS queries to a sinkholed domain",
		Severity:    domain.SeverityHigh,
		StakeAmount: 400,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	f.settle(t, ticket.ID)
	if _, err := f.svc.ClaimTicket(ctx, session(analystAddr, domain.RoleAnalyst), ticket.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}
	f.settle(t, ticket.ID)
	if _, _, err := f.svc.SubmitEvidence(ctx, session(analystAddr, domain.RoleAnalyst), ticket.ID, "dns.log", []byte("query log")); err != nil {
		t.Fatalf("submit evidence: %v", err)
	}
	f.settle(t, ticket.ID)
	if _, err := f.svc.ValidateTicket(ctx, session(certifierAddr, domain.RoleCertifier), ticket.ID, true); err != nil {
		t.Fatalf("validate: %v", err)
	}
	f.settle(t, ticket.ID)

	// the client's credential lapses before the close; being a party on
	// the ticket is not enough
	expiry := time.Now().Add(-time.Minute)
	f.resolver.Add(&domain.Credential{
		SubjectID: clientAddr,
		Role:      domain.RoleClient,
		IssuedAt:  time.Now().Add(-time.Hour),
		ExpiresAt: &expiry,
	})
	_, err = f.svc.CloseTicket(ctx, session(clientAddr, domain.RoleClient), ticket.ID)
	expectCode(t, err, "CREDENTIAL_EXPIRED")

	// a party whose credential is still live closes as usual
	closed, err := f.svc.CloseTicket(ctx, session(certifierAddr, domain.RoleCertifier), ticket.ID)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed.Status != domain.TicketStatusClosed {
		t.Fatalf("expected CLOSED, got %s", closed.Status)
	}
}
