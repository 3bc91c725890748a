package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"

	"github.com/dsoc-platform/incident-escrow/internal/config"
	"github.com/dsoc-platform/incident-escrow/internal/domain"
)

func newTestLedger(t *testing.T, url string) *HTTPLedger {
	t.Helper()
	return NewHTTPLedger(config.LedgerConfig{
		Mode:              config.LedgerModeHTTP,
		GatewayURL:        url,
		ContractAddress:   "0xsoc",
		RetryAttempts:     3,
		RetryBaseMillis:   1,
		RequestTimeoutSec: 5,
	}, zap.NewNop())
}

func TestHTTPLedgerSubmitStake(t *testing.T) {
	var gotCall moveCall
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/transactions" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotCall); err != nil {
			t.Fatalf("decode call: %v", err)
		}
		_ = json.NewEncoder(w).Encode(submitResponse{TxRef: "0xabc123"})
	}))
	defer srv.Close()

	l := newTestLedger(t, srv.URL)
	ref, err := l.SubmitStake(context.Background(), StakeRequest{
		TicketID:      "t-1",
		ClientAddress: "0xclient",
		StakeAmount:   100,
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if ref != "0xabc123" {
		t.Fatalf("expected tx ref 0xabc123, got %s", ref)
	}
	if gotCall.Function != "0xsoc::SOCService::create_ticket" {
		t.Fatalf("unexpected function %s", gotCall.Function)
	}
}

func TestHTTPLedgerClassifies4xxAsRejected(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "insufficient stake", http.StatusBadRequest)
	}))
	defer srv.Close()

	l := newTestLedger(t, srv.URL)
	_, err := l.Assign(context.Background(), "t-1", "0xanalyst")
	if !IsRejected(err) {
		t.Fatalf("expected RejectedError, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("rejections must not be retried, got %d calls", calls.Load())
	}
}

func TestHTTPLedgerRetries5xxThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "backend overloaded", http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(submitResponse{TxRef: "0xretry"})
	}))
	defer srv.Close()

	l := newTestLedger(t, srv.URL)
	ref, err := l.SubmitEvidence(context.Background(), "t-1", "0xanalyst", "hash", "loc")
	if err != nil {
		t.Fatalf("unexpected err after retries: %v", err)
	}
	if ref != "0xretry" || calls.Load() != 3 {
		t.Fatalf("expected success on third attempt, ref=%s calls=%d", ref, calls.Load())
	}
}

func TestHTTPLedgerExhaustedRetriesAreUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	l := newTestLedger(t, srv.URL)
	_, err := l.ValidateAndPayout(context.Background(), "t-1", "0xcertifier", true)
	if !IsUnreachable(err) {
		t.Fatalf("expected UnreachableError, got %v", err)
	}
}

func TestHTTPLedgerTxStatusMapping(t *testing.T) {
	cases := map[string]TxState{
		"pending":   TxPending,
		"confirmed": TxConfirmed,
		"FINALIZED": TxConfirmed,
		"failed":    TxFailed,
		"reverted":  TxFailed,
	}
	for wire, want := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(txStatusResponse{Status: wire})
		}))
		l := newTestLedger(t, srv.URL)
		got, err := l.TxStatus(context.Background(), "0xref")
		srv.Close()
		if err != nil {
			t.Fatalf("status %q: unexpected err: %v", wire, err)
		}
		if got != want {
			t.Fatalf("status %q: expected %s, got %s", wire, want, got)
		}
	}
}

func TestHTTPLedgerListTickets(t *testing.T) {
	analyst := "0xanalyst"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/accounts/0xsoc/resource/tickets" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(ticketListResponse{Tickets: []ticketResource{{
			ID:             "t-9",
			ClientAddress:  "0xclient",
			AnalystAddress: &analyst,
			Severity:       "high",
			StakeAmount:    250,
			Status:         "assigned",
			UpdatedAt:      1_700_000_000_000,
		}}})
	}))
	defer srv.Close()

	l := newTestLedger(t, srv.URL)
	tickets, err := l.ListTickets(context.Background())
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(tickets) != 1 {
		t.Fatalf("expected 1 ticket, got %d", len(tickets))
	}
	snap := tickets[0]
	if snap.Status != domain.TicketStatusAssigned || snap.Severity != domain.SeverityHigh {
		t.Fatalf("wire enums not normalized: %+v", snap)
	}
	if snap.UpdatedAt.UnixMilli() != 1_700_000_000_000 {
		t.Fatalf("timestamp not decoded: %v", snap.UpdatedAt)
	}
}
