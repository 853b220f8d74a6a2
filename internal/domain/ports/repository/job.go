package repository

import (
	"context"
	"time"

	"facturx-batch/internal/domain/model"
)

// BatchJobRepository persists batch jobs. The batch pipeline is the sole
// writer of a job's processing counters; concurrent readers only ever observe
// monotonic progress.
type BatchJobRepository interface {
	Save(ctx context.Context, tx Tx, job *model.BatchJob) error
	FindByPublicID(ctx context.Context, tx Tx, publicID string) (*model.BatchJob, error)
	// UpdateProgress persists the processing counters mid-run without
	// touching the rest of the row.
	UpdateProgress(ctx context.Context, tx Tx, job *model.BatchJob) error
	// ListExpiredCompleted returns completed jobs whose completion timestamp
	// is older than the cutoff and whose output fields are still populated.
	ListExpiredCompleted(ctx context.Context, tx Tx, cutoff time.Time) ([]*model.BatchJob, error)
	// ClearOutput nulls the output path fields after the retention sweep has
	// deleted the artifacts. Counts, cost and audit fields stay intact.
	ClearOutput(ctx context.Context, tx Tx, publicID string) error
}
