package usecase

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"facturx-batch/internal/domain"
	"facturx-batch/internal/domain/model"
	"facturx-batch/internal/domain/ports/repository"
)

// estimatedBytesPerItem is the rough archive size of one invoice PDF, used
// for the provisional item-count estimate at submission. The real count is
// corrected from the parsed manifest before any item is processed.
const estimatedBytesPerItem = 100 << 10

// SubmitParams carries everything the submission boundary validated and
// staged on disk.
type SubmitParams struct {
	UserID       string
	APIKeyID     string
	OriginIP     string
	UserAgent    string
	ArchivePath  string
	ManifestPath string
	ArchiveSize  int64
}

// JobUseCase covers the request-path job operations: submission, status
// reads, cancellation and download gating. The batch pipeline itself runs
// elsewhere; this type never mutates processing counters.
type JobUseCase struct {
	jobs           repository.BatchJobRepository
	unitPriceCents int64
	log            *zerolog.Logger
}

func NewJobUseCase(jobs repository.BatchJobRepository, unitPriceCents int64, logger *zerolog.Logger) *JobUseCase {
	l := logger.With().Str("component", "JobUseCase").Logger()
	return &JobUseCase{jobs: jobs, unitPriceCents: unitPriceCents, log: &l}
}

// Submit creates the pending job record. Inputs were already size/format
// checked by the handler; here we derive the provisional item count from the
// archive byte size and reject anything implying more than the batch ceiling.
func (uc *JobUseCase) Submit(ctx context.Context, p SubmitParams) (*model.BatchJob, error) {
	if p.ArchivePath == "" || p.ManifestPath == "" {
		return nil, fmt.Errorf("%w: archive and manifest are required", domain.ErrInvalidArgument)
	}

	estimated := int(p.ArchiveSize / estimatedBytesPerItem)
	if estimated < 1 {
		estimated = 1
	}
	if estimated > model.MaxBatchItems {
		return nil, domain.ErrManifestTooLarge
	}

	job := &model.BatchJob{
		PublicID:     NewPublicID(),
		UserID:       p.UserID,
		APIKeyID:     p.APIKeyID,
		Status:       model.BatchJobStatusPending,
		TotalItems:   estimated,
		CostCents:    int64(estimated) * uc.unitPriceCents,
		ArchivePath:  p.ArchivePath,
		ManifestPath: p.ManifestPath,
		OriginIP:     p.OriginIP,
		UserAgent:    p.UserAgent,
		CreatedAt:    time.Now(),
	}
	if err := uc.jobs.Save(ctx, nil, job); err != nil {
		return nil, fmt.Errorf("persist job: %w", err)
	}
	uc.log.Info().Str("job_id", job.PublicID).Int("estimated_items", estimated).Msg("job submitted")
	return job, nil
}

// Get returns the job for a status poll.
func (uc *JobUseCase) Get(ctx context.Context, publicID string) (*model.BatchJob, error) {
	return uc.jobs.FindByPublicID(ctx, nil, publicID)
}

// Cancel flips a job to cancelled if it has not reached a terminal status.
// It does not interrupt an in-flight run; the pipeline only honors the flag
// at its acceptance boundary.
func (uc *JobUseCase) Cancel(ctx context.Context, publicID string) (*model.BatchJob, error) {
	job, err := uc.jobs.FindByPublicID(ctx, nil, publicID)
	if err != nil {
		return nil, err
	}
	if job.IsTerminal() {
		return nil, domain.ErrJobNotCancellable
	}
	now := time.Now()
	job.Status = model.BatchJobStatusCancelled
	job.CompletedAt = &now
	if err := uc.jobs.Save(ctx, nil, job); err != nil {
		return nil, fmt.Errorf("persist cancellation: %w", err)
	}
	return job, nil
}

// Download returns the output archive path if, and only if, the job is
// completed and the link has not expired. It never serves stale or partial
// content; callers get a typed reason instead.
func (uc *JobUseCase) Download(ctx context.Context, publicID string) (string, error) {
	job, err := uc.jobs.FindByPublicID(ctx, nil, publicID)
	if err != nil {
		return "", err
	}
	if job.Status != model.BatchJobStatusCompleted {
		return "", domain.ErrDownloadNotReady
	}
	if !job.DownloadableAt(time.Now()) || job.OutputPath == "" {
		return "", domain.ErrDownloadExpired
	}
	if _, err := os.Stat(job.OutputPath); err != nil {
		return "", domain.ErrDownloadExpired
	}
	return job.OutputPath, nil
}

// NewPublicID mints the opaque identifier exposed to clients. ULIDs sort by
// creation time, which keeps working-directory listings and log greps sane.
func NewPublicID() string {
	return ulid.Make().String()
}
