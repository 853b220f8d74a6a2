package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4/pgxpool"

	"facturx-batch/internal/domain/model"
	"facturx-batch/internal/domain/ports/repository"
)

var _ repository.UsageLog = (*usageLogRepo)(nil)

type usageLogRepo struct {
	pool *pgxpool.Pool
}

func NewUsageLogRepo(pool *pgxpool.Pool) *usageLogRepo {
	return &usageLogRepo{pool: pool}
}

func (r *usageLogRepo) Record(ctx context.Context, tx repository.Tx, entry *model.UsageEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	const q = `
INSERT INTO usage_log (id, user_id, job_public_id, operation, processed, failed, charged_cents, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8);`
	_, err := execSQL(ctx, r.pool, tx, q,
		entry.ID, entry.UserID, entry.JobPublicID, entry.Operation,
		entry.Processed, entry.Failed, entry.ChargedCents, entry.CreatedAt)
	return err
}
