package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"facturx-batch/internal/domain"
	"facturx-batch/internal/domain/model"
	"facturx-batch/internal/domain/ports/repository"
)

var _ repository.BatchJobRepository = (*batchJobRepo)(nil)

type batchJobRepo struct {
	pool *pgxpool.Pool
}

func NewBatchJobRepo(pool *pgxpool.Pool) *batchJobRepo {
	return &batchJobRepo{pool: pool}
}

func (r *batchJobRepo) Save(ctx context.Context, tx repository.Tx, job *model.BatchJob) error {
	itemErrs, err := json.Marshal(job.ItemErrors)
	if err != nil {
		return err
	}

	const q = `
INSERT INTO batch_jobs (
  public_id, user_id, api_key_id, status, total_items, processed_count, failed_count,
  archive_path, manifest_path, output_path, output_size, cost_cents, settled,
  error_message, item_errors, origin_ip, user_agent,
  created_at, started_at, completed_at, download_expires_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
ON CONFLICT (public_id) DO UPDATE SET
  status = EXCLUDED.status,
  total_items = EXCLUDED.total_items,
  processed_count = EXCLUDED.processed_count,
  failed_count = EXCLUDED.failed_count,
  output_path = EXCLUDED.output_path,
  output_size = EXCLUDED.output_size,
  cost_cents = EXCLUDED.cost_cents,
  settled = EXCLUDED.settled,
  error_message = EXCLUDED.error_message,
  item_errors = EXCLUDED.item_errors,
  started_at = EXCLUDED.started_at,
  completed_at = EXCLUDED.completed_at,
  download_expires_at = EXCLUDED.download_expires_at;`

	_, err = execSQL(ctx, r.pool, tx, q,
		job.PublicID, job.UserID, job.APIKeyID, job.Status, job.TotalItems,
		job.ProcessedCount, job.FailedCount, job.ArchivePath, job.ManifestPath,
		job.OutputPath, job.OutputSize, job.CostCents, job.Settled,
		job.ErrorMessage, itemErrs, job.OriginIP, job.UserAgent,
		job.CreatedAt, job.StartedAt, job.CompletedAt, job.DownloadExpiresAt)
	return err
}

const jobColumns = `
id, public_id, user_id, api_key_id, status, total_items, processed_count, failed_count,
archive_path, manifest_path, output_path, output_size, cost_cents, settled,
error_message, item_errors, origin_ip, user_agent,
created_at, started_at, completed_at, download_expires_at`

func (r *batchJobRepo) FindByPublicID(ctx context.Context, tx repository.Tx, publicID string) (*model.BatchJob, error) {
	row, err := pickRow(ctx, r.pool, tx,
		`SELECT `+jobColumns+` FROM batch_jobs WHERE public_id = $1;`, publicID)
	if err != nil {
		return nil, err
	}
	return scanJob(row)
}

func (r *batchJobRepo) UpdateProgress(ctx context.Context, tx repository.Tx, job *model.BatchJob) error {
	const q = `
UPDATE batch_jobs
SET processed_count = $2, failed_count = $3, total_items = $4
WHERE public_id = $1;`
	_, err := execSQL(ctx, r.pool, tx, q,
		job.PublicID, job.ProcessedCount, job.FailedCount, job.TotalItems)
	return err
}

func (r *batchJobRepo) ListExpiredCompleted(ctx context.Context, tx repository.Tx, cutoff time.Time) ([]*model.BatchJob, error) {
	rows, err := pickRows(ctx, r.pool, tx,
		`SELECT `+jobColumns+`
FROM batch_jobs
WHERE status = 'completed' AND completed_at < $1 AND output_path <> ''
ORDER BY completed_at;`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.BatchJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (r *batchJobRepo) ClearOutput(ctx context.Context, tx repository.Tx, publicID string) error {
	const q = `
UPDATE batch_jobs
SET output_path = '', download_expires_at = NULL
WHERE public_id = $1;`
	_, err := execSQL(ctx, r.pool, tx, q, publicID)
	return err
}

func scanJob(row pgx.Row) (*model.BatchJob, error) {
	var job model.BatchJob
	var statusStr string
	var itemErrs []byte
	err := row.Scan(
		&job.ID, &job.PublicID, &job.UserID, &job.APIKeyID, &statusStr,
		&job.TotalItems, &job.ProcessedCount, &job.FailedCount,
		&job.ArchivePath, &job.ManifestPath, &job.OutputPath, &job.OutputSize,
		&job.CostCents, &job.Settled, &job.ErrorMessage, &itemErrs,
		&job.OriginIP, &job.UserAgent,
		&job.CreatedAt, &job.StartedAt, &job.CompletedAt, &job.DownloadExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	job.Status = model.BatchJobStatus(statusStr)
	if len(itemErrs) > 0 {
		if err := json.Unmarshal(itemErrs, &job.ItemErrors); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
	}
	return &job, nil
}
