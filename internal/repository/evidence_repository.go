package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dsoc-platform/incident-escrow/internal/domain"
)

// EvidenceRepository persists evidence records. Records are append-only;
// only the latest per ticket is authoritative for settlement, earlier
// ones remain for audit.
type EvidenceRepository interface {
	Create(ctx context.Context, evidence *domain.Evidence) error
	ListByTicket(ctx context.Context, ticketID string) ([]domain.Evidence, error)
	LatestByTicket(ctx context.Context, ticketID string) (*domain.Evidence, error)
}

type evidenceRepository struct {
	pool *pgxpool.Pool
}

// NewEvidenceRepository instantiates the postgres-backed repository.
func NewEvidenceRepository(pool *pgxpool.Pool) EvidenceRepository {
	return &evidenceRepository{pool: pool}
}

func (r *evidenceRepository) Create(ctx context.Context, evidence *domain.Evidence) error {
	const query = `
        INSERT INTO evidence (id, ticket_id, uploaded_by, filename, storage_locator, content_hash,
            size_bytes, anchor_ref, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
	_, err := r.pool.Exec(ctx, query,
		evidence.ID,
		evidence.TicketID,
		evidence.UploadedBy,
		evidence.Filename,
		evidence.StorageLocator,
		evidence.ContentHash,
		evidence.SizeBytes,
		evidence.AnchorRef,
		evidence.CreatedAt,
	)
	return err
}

func (r *evidenceRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.Evidence, error) {
	const query = `
        SELECT id, ticket_id, uploaded_by, filename, storage_locator, content_hash, size_bytes, anchor_ref, created_at
        FROM evidence WHERE ticket_id=$1 ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Evidence
	for rows.Next() {
		var ev domain.Evidence
		if err := rows.Scan(
			&ev.ID,
			&ev.TicketID,
			&ev.UploadedBy,
			&ev.Filename,
			&ev.StorageLocator,
			&ev.ContentHash,
			&ev.SizeBytes,
			&ev.AnchorRef,
			&ev.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, ev)
	}
	return result, rows.Err()
}

func (r *evidenceRepository) LatestByTicket(ctx context.Context, ticketID string) (*domain.Evidence, error) {
	const query = `
        SELECT id, ticket_id, uploaded_by, filename, storage_locator, content_hash, size_bytes, anchor_ref, created_at
        FROM evidence WHERE ticket_id=$1 ORDER BY created_at DESC LIMIT 1`
	var ev domain.Evidence
	if err := r.pool.QueryRow(ctx, query, ticketID).Scan(
		&ev.ID,
		&ev.TicketID,
		&ev.UploadedBy,
		&ev.Filename,
		&ev.StorageLocator,
		&ev.ContentHash,
		&ev.SizeBytes,
		&ev.AnchorRef,
		&ev.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &ev, nil
}
