package util

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError("VALIDATION_FAILED", message, http.StatusBadRequest, details)
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
	}
}

func NewUnauthorized(message string) error {
	return NewDomainError("UNAUTHORIZED", message, http.StatusUnauthorized, nil)
}

func NewForbidden(message string) error {
	return NewDomainError("FORBIDDEN", message, http.StatusForbidden, nil)
}

func NewConflict(message string, details map[string]any) error {
	return NewDomainError("CONFLICT", message, http.StatusConflict, details)
}

// NewCredentialNotFound signals that no assertion of the required role
// exists for the subject. Never retried automatically.
func NewCredentialNotFound(subjectID, role string) error {
	return NewDomainError("CREDENTIAL_NOT_FOUND", "no credential for required role", http.StatusForbidden, map[string]any{
		"subject_id": subjectID,
		"role":       role,
	})
}

// NewCredentialExpired signals a lapsed validity window. Treated the same
// as absence by callers: the action is blocked.
func NewCredentialExpired(subjectID, role string) error {
	return NewDomainError("CREDENTIAL_EXPIRED", "credential validity window lapsed", http.StatusForbidden, map[string]any{
		"subject_id": subjectID,
		"role":       role,
	})
}

// NewIllegalTransition signals a lifecycle edge outside the transition table.
// The ticket is left unchanged.
func NewIllegalTransition(from, to string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	details["from"] = from
	details["to"] = to
	return NewDomainError("ILLEGAL_TRANSITION", "transition not permitted from current status", http.StatusConflict, details)
}

// NewTransitionInProgress signals the serialization guard: the ticket
// already has an outstanding ledger write. Callers retry after the next
// reconciliation tick clears it.
func NewTransitionInProgress(ticketID, txRef string) error {
	return NewDomainError("TRANSITION_IN_PROGRESS", "a ledger write is already outstanding for this ticket", http.StatusConflict, map[string]any{
		"ticket_id": ticketID,
		"tx_ref":    txRef,
	})
}

// NewPayloadTooLarge signals evidence bytes above the configured maximum.
func NewPayloadTooLarge(size, max int64) error {
	return NewDomainError("PAYLOAD_TOO_LARGE", "evidence payload exceeds configured maximum", http.StatusRequestEntityTooLarge, map[string]any{
		"size_bytes": size,
		"max_bytes":  max,
	})
}

// NewRejectedByLedger wraps a terminal ledger rejection. No local state
// was written for the attempted transition.
func NewRejectedByLedger(err error) error {
	return &DomainError{
		Code:       "REJECTED_BY_LEDGER",
		Message:    "ledger rejected the transaction",
		HTTPStatus: http.StatusUnprocessableEntity,
		Err:        err,
	}
}

// NewLedgerUnreachable wraps a transport-level ledger failure after
// bounded retries. If the transaction landed despite the transport
// failure, the reconciliation poller picks it up from the full listing.
func NewLedgerUnreachable(err error) error {
	return &DomainError{
		Code:       "LEDGER_UNREACHABLE",
		Message:    "ledger unreachable",
		HTTPStatus: http.StatusBadGateway,
		Err:        err,
	}
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       "INTERNAL_ERROR",
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	if errors.Is(err, pgx.ErrNoRows) {
		if de, ok := NewNotFound("resource", nil).(*DomainError); ok {
			return de
		}
	}
	return &DomainError{
		Code:       "INTERNAL_ERROR",
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

func MapError(err error) error {
	return ToDomainError(err)
}
