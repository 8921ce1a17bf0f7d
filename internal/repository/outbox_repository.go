package repository

import (
	"context"
	"time"

	"shop-catalog/internal/domain"

	"github.com/jackc/pgx/v5/pgxpool"
)

type outboxRepository struct {
	pool *pgxpool.Pool
}

// NewOutboxRepository creates a PostgreSQL backed OutboxRepository
func NewOutboxRepository(pool *pgxpool.Pool) OutboxRepository {
	return &outboxRepository{pool: pool}
}

// Pending returns unapplied changes, oldest first
func (r *outboxRepository) Pending(ctx context.Context, limit int) ([]domain.IndexChange, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, vendor_id, product_id, op, created_at, applied_at, attempts, last_error
		FROM vendor_index_outbox
		WHERE applied_at IS NULL
		ORDER BY created_at, id
		LIMIT $1`, limit)
	if err != nil {
		return nil, domain.WrapStore("list pending index changes", err)
	}
	defer rows.Close()

	changes := make([]domain.IndexChange, 0)
	for rows.Next() {
		var c domain.IndexChange
		if err := rows.Scan(&c.ID, &c.VendorID, &c.ProductID, &c.Op, &c.CreatedAt, &c.AppliedAt, &c.Attempts, &c.LastError); err != nil {
			return nil, domain.WrapStore("scan index change", err)
		}
		changes = append(changes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapStore("list pending index changes", err)
	}
	return changes, nil
}

// MarkApplied stamps the change as applied. Marking twice keeps the first stamp.
func (r *outboxRepository) MarkApplied(ctx context.Context, id string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE vendor_index_outbox
		SET applied_at = COALESCE(applied_at, $2), attempts = attempts + 1, last_error = ''
		WHERE id = $1`, id, at)
	if err != nil {
		return domain.WrapStore("mark index change applied", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound("index change", id)
	}
	return nil
}

// MarkFailed records a failed attempt so the relay retries it on its next tick
func (r *outboxRepository) MarkFailed(ctx context.Context, id string, cause string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE vendor_index_outbox
		SET attempts = attempts + 1, last_error = $2
		WHERE id = $1 AND applied_at IS NULL`, id, cause)
	if err != nil {
		return domain.WrapStore("mark index change failed", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound("index change", id)
	}
	return nil
}
