package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dsoc-platform/incident-escrow/internal/domain"
)

// TransitionHistoryRepository persists the append-only transition audit
// trail. Entries are never updated or deleted.
type TransitionHistoryRepository interface {
	Append(ctx context.Context, record *domain.TransitionRecord) error
	ListByTicket(ctx context.Context, ticketID string) ([]domain.TransitionRecord, error)
}

type historyRepository struct {
	pool *pgxpool.Pool
}

// NewTransitionHistoryRepository instantiates the postgres-backed repository.
func NewTransitionHistoryRepository(pool *pgxpool.Pool) TransitionHistoryRepository {
	return &historyRepository{pool: pool}
}

func (r *historyRepository) Append(ctx context.Context, record *domain.TransitionRecord) error {
	const query = `
        INSERT INTO ticket_transitions (id, ticket_id, kind, from_status, to_status, actor_address,
            actor_role, analyst_address, evidence_hash, tx_ref, reward_amount, refund_amount, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`
	_, err := r.pool.Exec(ctx, query,
		record.ID,
		record.TicketID,
		record.Kind,
		record.FromStatus,
		record.ToStatus,
		record.ActorAddress,
		record.ActorRole,
		record.AnalystAddress,
		record.EvidenceHash,
		record.TxRef,
		record.RewardAmount,
		record.RefundAmount,
		record.CreatedAt,
	)
	return err
}

func (r *historyRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.TransitionRecord, error) {
	const query = `
        SELECT id, ticket_id, kind, from_status, to_status, actor_address, actor_role,
               analyst_address, evidence_hash, tx_ref, reward_amount, refund_amount, created_at
        FROM ticket_transitions WHERE ticket_id=$1 ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.TransitionRecord
	for rows.Next() {
		var rec domain.TransitionRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.TicketID,
			&rec.Kind,
			&rec.FromStatus,
			&rec.ToStatus,
			&rec.ActorAddress,
			&rec.ActorRole,
			&rec.AnalystAddress,
			&rec.EvidenceHash,
			&rec.TxRef,
			&rec.RewardAmount,
			&rec.RefundAmount,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}
