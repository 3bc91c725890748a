package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dsoc-platform/incident-escrow/internal/config"
	"github.com/dsoc-platform/incident-escrow/internal/domain"
)

// HTTPLedger talks to the settlement ledger through its REST gateway.
// Contract calls are encoded as Move-call payloads against the SOC
// service contract. Transport failures are retried with bounded
// exponential backoff; a 4xx response other than 429 is a terminal
// rejection.
type HTTPLedger struct {
	client          *http.Client
	gatewayURL      string
	contractAddress string
	rewardAddress   string
	retryAttempts   int
	retryBase       time.Duration
	logger          *zap.Logger
}

// NewHTTPLedger builds the gateway client. The request timeout is
// generous: ledger finality runs seconds to minutes and a slow response
// is not a failure.
func NewHTTPLedger(cfg config.LedgerConfig, logger *zap.Logger) *HTTPLedger {
	attempts := cfg.RetryAttempts
	if attempts <= 0 {
		attempts = 3
	}
	return &HTTPLedger{
		client:          &http.Client{Timeout: cfg.RequestTimeout()},
		gatewayURL:      strings.TrimRight(cfg.GatewayURL, "/"),
		contractAddress: cfg.ContractAddress,
		rewardAddress:   cfg.RewardContractAddress,
		retryAttempts:   attempts,
		retryBase:       cfg.RetryBase(),
		logger:          logger,
	}
}

type moveCall struct {
	Function      string `json:"function"`
	TypeArguments []any  `json:"type_arguments"`
	Arguments     []any  `json:"arguments"`
}

type submitResponse struct {
	TxRef string `json:"tx_ref"`
}

type txStatusResponse struct {
	Status string `json:"status"`
}

type ticketListResponse struct {
	Tickets []ticketResource `json:"tickets"`
}

type ticketResource struct {
	ID               string  `json:"id"`
	ClientAddress    string  `json:"client_address"`
	AnalystAddress   *string `json:"analyst_address"`
	CertifierAddress *string `json:"certifier_address"`
	Severity         string  `json:"severity"`
	StakeAmount      int64   `json:"stake_amount"`
	EvidenceHash     *string `json:"evidence_hash"`
	StorageLocator   *string `json:"storage_locator"`
	Status           string  `json:"status"`
	UpdatedAt        int64   `json:"updated_at_ms"`
}

type balanceResponse struct {
	Escrow int64 `json:"escrow"`
	Reward int64 `json:"reward"`
}

// SubmitStake implements Adapter.
func (l *HTTPLedger) SubmitStake(ctx context.Context, req StakeRequest) (TxRef, error) {
	call := l.call("create_ticket", req.TicketID, req.ClientAddress, req.StakeAmount, req.EvidenceHash)
	return l.submitTx(ctx, call)
}

// Assign implements Adapter.
func (l *HTTPLedger) Assign(ctx context.Context, ticketID, analystAddress string) (TxRef, error) {
	return l.submitTx(ctx, l.call("assign_analyst", ticketID, analystAddress))
}

// SubmitEvidence implements Adapter.
func (l *HTTPLedger) SubmitEvidence(ctx context.Context, ticketID, analystAddress, evidenceHash, storageLocator string) (TxRef, error) {
	return l.submitTx(ctx, l.call("submit_evidence", ticketID, analystAddress, evidenceHash, storageLocator))
}

// ValidateAndPayout implements Adapter.
func (l *HTTPLedger) ValidateAndPayout(ctx context.Context, ticketID, certifierAddress string, approved bool) (TxRef, error) {
	return l.submitTx(ctx, l.call("validate_and_payout", ticketID, certifierAddress, approved))
}

// TxStatus implements Adapter.
func (l *HTTPLedger) TxStatus(ctx context.Context, ref TxRef) (TxState, error) {
	var resp txStatusResponse
	if err := l.doJSON(ctx, http.MethodGet, fmt.Sprintf("/v1/transactions/%s", ref), nil, &resp); err != nil {
		return "", err
	}
	switch strings.ToUpper(resp.Status) {
	case "CONFIRMED", "FINALIZED", "SETTLED":
		return TxConfirmed, nil
	case "FAILED", "REVERTED":
		return TxFailed, nil
	default:
		return TxPending, nil
	}
}

// ListTickets implements Adapter.
func (l *HTTPLedger) ListTickets(ctx context.Context) ([]TicketSnapshot, error) {
	var resp ticketListResponse
	path := fmt.Sprintf("/v1/accounts/%s/resource/tickets", l.contractAddress)
	if err := l.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]TicketSnapshot, 0, len(resp.Tickets))
	for _, t := range resp.Tickets {
		out = append(out, TicketSnapshot{
			ID:               t.ID,
			ClientAddress:    t.ClientAddress,
			AnalystAddress:   t.AnalystAddress,
			CertifierAddress: t.CertifierAddress,
			Severity:         domain.TicketSeverity(strings.ToUpper(t.Severity)),
			StakeAmount:      t.StakeAmount,
			EvidenceHash:     t.EvidenceHash,
			StorageLocator:   t.StorageLocator,
			Status:           domain.TicketStatus(strings.ToUpper(t.Status)),
			UpdatedAt:        time.UnixMilli(t.UpdatedAt).UTC(),
		})
	}
	return out, nil
}

// Balance implements Adapter.
func (l *HTTPLedger) Balance(ctx context.Context, address string) (Balance, error) {
	var resp balanceResponse
	if err := l.doJSON(ctx, http.MethodGet, fmt.Sprintf("/v1/accounts/%s/balance", address), nil, &resp); err != nil {
		return Balance{}, err
	}
	return Balance{Escrow: resp.Escrow, Reward: resp.Reward}, nil
}

func (l *HTTPLedger) call(function string, args ...any) moveCall {
	return moveCall{
		Function:      fmt.Sprintf("%s::SOCService::%s", l.contractAddress, function),
		TypeArguments: []any{},
		Arguments:     args,
	}
}

func (l *HTTPLedger) submitTx(ctx context.Context, call moveCall) (TxRef, error) {
	var resp submitResponse
	if err := l.doJSON(ctx, http.MethodPost, "/v1/transactions", call, &resp); err != nil {
		return "", err
	}
	if resp.TxRef == "" {
		return "", &RejectedError{Reason: "gateway returned no transaction reference"}
	}
	return TxRef(resp.TxRef), nil
}

// doJSON performs a gateway request with bounded exponential backoff on
// transient failures (connection errors, 429, 5xx). Client errors other
// than 429 are terminal rejections and never retried.
func (l *HTTPLedger) doJSON(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = encoded
	}

	var lastErr error
	for attempt := 0; attempt < l.retryAttempts; attempt++ {
		if attempt > 0 {
			backoff := l.retryBase * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return &UnreachableError{Err: ctx.Err()}
			case <-time.After(backoff):
			}
		}

		err := l.doOnce(ctx, method, path, payload, out)
		if err == nil {
			return nil
		}
		if IsRejected(err) {
			return err
		}
		lastErr = err
		l.logger.Warn("transient ledger gateway failure, retrying",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	return lastErr
}

func (l *HTTPLedger) doOnce(ctx context.Context, method, path string, payload []byte, out any) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, l.gatewayURL+path, reader)
	if err != nil {
		return &UnreachableError{Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return &UnreachableError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil {
			return nil
		}
		return json.NewDecoder(resp.Body).Decode(out)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return &UnreachableError{Err: fmt.Errorf("gateway status %d", resp.StatusCode)}
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &RejectedError{Reason: fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))}
	}
}
