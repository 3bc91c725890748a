package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dsoc-platform/incident-escrow/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = pgx.ErrNoRows

// TicketFilter captures listing parameters. Address filters match the
// store's secondary indexes on status and party addresses.
type TicketFilter struct {
	Statuses         []domain.TicketStatus
	ClientAddress    *string
	AnalystAddress   *string
	CertifierAddress *string
	Limit            int
	Offset           int
}

// TicketRepository encapsulates the local ticket projection. Timestamps
// are persisted exactly as given: ledger timestamps are authoritative and
// the store must never substitute local wall-clock time.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	Update(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error)
	ListPending(ctx context.Context) ([]domain.Ticket, error)
	Delete(ctx context.Context, id string) error
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates the postgres-backed repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

const ticketColumns = `id, client_address, analyst_address, certifier_address, title, description,
               severity, stake_amount, evidence_hash, storage_locator, status,
               pending_tx_ref, last_tx_ref, created_at, updated_at`

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO tickets (id, client_address, analyst_address, certifier_address, title, description,
            severity, stake_amount, evidence_hash, storage_locator, status, pending_tx_ref, last_tx_ref,
            created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`
	_, err := r.pool.Exec(ctx, query,
		ticket.ID,
		ticket.ClientAddress,
		ticket.AnalystAddress,
		ticket.CertifierAddress,
		ticket.Title,
		ticket.Description,
		ticket.Severity,
		ticket.StakeAmount,
		ticket.EvidenceHash,
		ticket.StorageLocator,
		ticket.Status,
		ticket.PendingTxRef,
		ticket.LastTxRef,
		ticket.CreatedAt,
		ticket.UpdatedAt,
	)
	return err
}

func (r *ticketRepository) Update(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        UPDATE tickets SET analyst_address=$1, certifier_address=$2, severity=$3, evidence_hash=$4,
            storage_locator=$5, status=$6, pending_tx_ref=$7, last_tx_ref=$8, updated_at=$9
        WHERE id=$10`
	cmd, err := r.pool.Exec(ctx, query,
		ticket.AnalystAddress,
		ticket.CertifierAddress,
		ticket.Severity,
		ticket.EvidenceHash,
		ticket.StorageLocator,
		ticket.Status,
		ticket.PendingTxRef,
		ticket.LastTxRef,
		ticket.UpdatedAt,
		ticket.ID,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	query := fmt.Sprintf(`SELECT %s FROM tickets WHERE id=$1`, ticketColumns)
	var ticket domain.Ticket
	if err := r.pool.QueryRow(ctx, query, id).Scan(ticketScanTargets(&ticket)...); err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (r *ticketRepository) List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	base := fmt.Sprintf(`SELECT %s FROM tickets`, ticketColumns)
	clauses := []string{"1=1"}
	args := []any{}

	if filter.ClientAddress != nil {
		args = append(args, *filter.ClientAddress)
		clauses = append(clauses, fmt.Sprintf("client_address=$%d", len(args)))
	}
	if filter.AnalystAddress != nil {
		args = append(args, *filter.AnalystAddress)
		clauses = append(clauses, fmt.Sprintf("analyst_address=$%d", len(args)))
	}
	if filter.CertifierAddress != nil {
		args = append(args, *filter.CertifierAddress)
		clauses = append(clauses, fmt.Sprintf("certifier_address=$%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(`%s WHERE %s ORDER BY updated_at DESC LIMIT %d OFFSET %d`,
		base, strings.Join(clauses, " AND "), limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

func (r *ticketRepository) ListPending(ctx context.Context) ([]domain.Ticket, error) {
	query := fmt.Sprintf(`SELECT %s FROM tickets WHERE pending_tx_ref IS NOT NULL ORDER BY updated_at ASC`, ticketColumns)
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

func (r *ticketRepository) Delete(ctx context.Context, id string) error {
	cmd, err := r.pool.Exec(ctx, `DELETE FROM tickets WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func ticketScanTargets(ticket *domain.Ticket) []any {
	return []any{
		&ticket.ID,
		&ticket.ClientAddress,
		&ticket.AnalystAddress,
		&ticket.CertifierAddress,
		&ticket.Title,
		&ticket.Description,
		&ticket.Severity,
		&ticket.StakeAmount,
		&ticket.EvidenceHash,
		&ticket.StorageLocator,
		&ticket.Status,
		&ticket.PendingTxRef,
		&ticket.LastTxRef,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
	}
}

func scanTickets(rows pgx.Rows) ([]domain.Ticket, error) {
	var result []domain.Ticket
	for rows.Next() {
		var ticket domain.Ticket
		if err := rows.Scan(ticketScanTargets(&ticket)...); err != nil {
			return nil, err
		}
		result = append(result, ticket)
	}
	return result, rows.Err()
}
