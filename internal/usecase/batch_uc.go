package usecase

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"facturx-batch/internal/archive"
	"facturx-batch/internal/domain"
	"facturx-batch/internal/domain/model"
	"facturx-batch/internal/domain/ports/adapter"
	"facturx-batch/internal/domain/ports/repository"
	"facturx-batch/internal/infra/metrics"
	"facturx-batch/internal/manifest"
)

// pdfMagic is what every source PDF must start with.
var pdfMagic = []byte("%PDF-")

// progressEvery is the checkpoint cadence: progress is persisted after this
// many processed items or this many failed items, so a concurrent status
// reader sees monotonic progress without waiting for completion.
const progressEvery = 10

// Locker provides per-user mutual exclusion around settlement, since the
// credit balance is shared across concurrent jobs of the same user.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}

// BatchUseCase drives a batch job from accepted upload to terminal status:
// extraction, manifest parsing, per-item composition, packaging, settlement
// and cleanup. It owns the job's working directory for the whole run and is
// the only writer of the job's processing counters.
type BatchUseCase struct {
	jobs     repository.BatchJobRepository
	billing  repository.BillingLedger
	usage    repository.UsageLog
	tm       repository.TransactionManager
	composer adapter.DocumentComposer
	locker   Locker

	workDir        string
	unitPriceCents int64
	log            *zerolog.Logger
}

func NewBatchUseCase(
	jobs repository.BatchJobRepository,
	billing repository.BillingLedger,
	usage repository.UsageLog,
	tm repository.TransactionManager,
	composer adapter.DocumentComposer,
	locker Locker,
	workDir string,
	unitPriceCents int64,
	logger *zerolog.Logger,
) *BatchUseCase {
	l := logger.With().Str("component", "BatchUseCase").Logger()
	return &BatchUseCase{
		jobs:           jobs,
		billing:        billing,
		usage:          usage,
		tm:             tm,
		composer:       composer,
		locker:         locker,
		workDir:        workDir,
		unitPriceCents: unitPriceCents,
		log:            &l,
	}
}

// Process runs the whole pipeline for one job. Fatal errors (extraction,
// manifest parse, packaging, anything unexpected) abort the job; per-item
// failures are recorded and never abort the batch. The returned result
// mirrors what was written onto the job.
func (uc *BatchUseCase) Process(ctx context.Context, job *model.BatchJob) (res *model.BatchResult, err error) {
	start := time.Now()

	// Cancellation is only honored at the acceptance boundary; an in-flight
	// run is never interrupted mid-item.
	if fresh, ferr := uc.jobs.FindByPublicID(ctx, nil, job.PublicID); ferr == nil {
		if fresh.Status == model.BatchJobStatusCancelled {
			uc.log.Info().Str("job_id", job.PublicID).Msg("job cancelled before start")
			// Cancelled is terminal: the staged uploads go away like on
			// every other terminal path.
			os.Remove(job.ArchivePath)
			os.Remove(job.ManifestPath)
			return &model.BatchResult{}, nil
		}
	}

	// Working directories are keyed by the public identifier, so concurrent
	// jobs can never collide on the filesystem.
	workRoot := filepath.Join(uc.workDir, "facturx-"+job.PublicID)
	inputDir := filepath.Join(workRoot, "input")
	outputDir := filepath.Join(workRoot, "output")

	// Single fatal-error boundary: anything escaping the steps below forces
	// the job to failed, purges the working directory and skips billing.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("batch pipeline panic: %v", r)
		}
		if err != nil {
			uc.fail(job, err, workRoot)
			res = &model.BatchResult{Failed: job.FailedCount, ItemErrors: job.ItemErrors}
		}
		if job.IsTerminal() {
			metrics.IncBatchJob(string(job.Status))
			metrics.ObserveBatchRun(time.Since(start).Seconds(), job.OutputSize)
		}
	}()

	if err = os.MkdirAll(inputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create working directory: %w", err)
	}
	if err = os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create working directory: %w", err)
	}

	now := time.Now()
	job.Status = model.BatchJobStatusProcessing
	job.StartedAt = &now
	if err = uc.jobs.Save(ctx, nil, job); err != nil {
		return nil, fmt.Errorf("mark job processing: %w", err)
	}

	if err = archive.Extract(job.ArchivePath, inputDir); err != nil {
		return nil, err
	}

	records, rerr := manifest.ReadAll(job.ManifestPath)
	if rerr != nil {
		err = rerr
		return nil, err
	}
	if len(records) == 0 {
		err = fmt.Errorf("%w: manifest contains no rows", domain.ErrInvalidArgument)
		return nil, err
	}

	// The submission-time estimate (derived from archive size) is
	// provisional. Correct the count and the cost once, before any item is
	// processed, so cost display never goes stale.
	if len(records) != job.TotalItems {
		job.TotalItems = len(records)
		job.CostCents = int64(job.TotalItems) * uc.unitPriceCents
		if err = uc.jobs.Save(ctx, nil, job); err != nil {
			return nil, fmt.Errorf("correct item count: %w", err)
		}
	}

	uc.runItems(ctx, job, records, inputDir, outputDir)

	outPath, outSize, perr := archive.Pack(outputDir)
	if perr != nil {
		err = perr
		return nil, err
	}

	completed := time.Now()
	job.CompletedAt = &completed
	if job.ProcessedCount == 0 {
		// All-items-failed: a job-level failure with no fatal exception.
		// Nothing is billed but the per-item error list is kept.
		os.Remove(outPath)
		job.Status = model.BatchJobStatusFailed
		job.ErrorMessage = fmt.Sprintf("all %d items failed", job.TotalItems)
	} else {
		expires := completed.Add(model.DownloadTTL)
		job.Status = model.BatchJobStatusCompleted
		job.OutputPath = outPath
		job.OutputSize = outSize
		job.DownloadExpiresAt = &expires
	}

	if err = uc.settle(ctx, job); err != nil {
		return nil, err
	}

	uc.cleanup(job, inputDir)

	metrics.AddBatchItems("processed", job.ProcessedCount)
	metrics.AddBatchItems("failed", job.FailedCount)
	uc.log.Info().
		Str("job_id", job.PublicID).
		Str("status", string(job.Status)).
		Int("processed", job.ProcessedCount).
		Int("failed", job.FailedCount).
		Int64("output_bytes", job.OutputSize).
		Msg("batch finished")

	return &model.BatchResult{
		Succeeded:  job.Status == model.BatchJobStatusCompleted,
		Processed:  job.ProcessedCount,
		Failed:     job.FailedCount,
		OutputPath: job.OutputPath,
		OutputSize: job.OutputSize,
		ItemErrors: job.ItemErrors,
	}, nil
}

// runItems processes every record in manifest order, strictly sequentially.
// Per-item errors are converted to data right here and never unwind further.
func (uc *BatchUseCase) runItems(ctx context.Context, job *model.BatchJob, records []*model.InvoiceRecord, inputDir, outputDir string) {
	for _, rec := range records {
		checkpoint := false
		if err := uc.composeOne(ctx, rec, inputDir, outputDir); err != nil {
			job.FailedCount++
			job.ItemErrors = append(job.ItemErrors, model.ItemError{
				Filename: rec.Filename,
				Message:  err.Error(),
			})
			checkpoint = job.FailedCount%progressEvery == 0
			uc.log.Debug().Str("job_id", job.PublicID).Str("file", rec.Filename).Err(err).Msg("item failed")
		} else {
			job.ProcessedCount++
			checkpoint = job.ProcessedCount%progressEvery == 0
		}
		if checkpoint {
			_ = uc.jobs.UpdateProgress(ctx, nil, job)
		}
	}
	_ = uc.jobs.UpdateProgress(ctx, nil, job)
}

// composeOne converts a single manifest row: locate the paired PDF, check
// its magic bytes, invoke the composer, write the output under a name
// derived from the invoice number.
func (uc *BatchUseCase) composeOne(ctx context.Context, rec *model.InvoiceRecord, inputDir, outputDir string) error {
	if rec.Filename == "" {
		return fmt.Errorf("manifest row has no pdf filename")
	}
	if rec.InvoiceNumber == "" {
		return fmt.Errorf("manifest row has no invoice number")
	}

	src, err := archive.Locate(inputDir, rec.Filename)
	if err != nil {
		return err
	}
	pdf, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read pdf: %w", err)
	}
	if !bytes.HasPrefix(pdf, pdfMagic) {
		return domain.ErrNotAPDF
	}

	out, err := uc.composer.Compose(ctx, rec, pdf)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrComposition, err)
	}

	name := OutputName(rec.InvoiceNumber)
	if err := os.WriteFile(filepath.Join(outputDir, name), out, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

// settle writes the terminal job state, charges the owning user for exactly
// the successfully processed items, and records the usage entry, all in one
// transaction. A per-user lock serializes settlements against the shared
// credit balance; the Settled flag makes the charge idempotent with respect
// to a single terminal transition.
func (uc *BatchUseCase) settle(ctx context.Context, job *model.BatchJob) error {
	amount := int64(0)
	if job.Status == model.BatchJobStatusCompleted && !job.Settled {
		amount = int64(job.ProcessedCount) * uc.unitPriceCents
	}

	if amount > 0 {
		token, err := uc.locker.TryLock(ctx, "billing:"+job.UserID, 10*time.Second)
		if err != nil {
			return fmt.Errorf("settlement lock: %w", err)
		}
		defer func() { _ = uc.locker.Unlock(ctx, "billing:"+job.UserID, token) }()
	}

	return uc.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if amount > 0 {
			if err := uc.billing.Charge(ctx, tx, job.UserID, amount); err != nil {
				return err
			}
			job.Settled = true
			metrics.AddBillingCharged("batch", amount)
		}
		if err := uc.usage.Record(ctx, tx, &model.UsageEntry{
			UserID:       job.UserID,
			JobPublicID:  job.PublicID,
			Operation:    "batch",
			Processed:    job.ProcessedCount,
			Failed:       job.FailedCount,
			ChargedCents: amount,
		}); err != nil {
			return err
		}
		return uc.jobs.Save(ctx, tx, job)
	})
}

// cleanup releases input resources once the job is terminal: the extracted
// input subtree and the originally uploaded files go away regardless of
// outcome. The output archive is never touched here; the retention sweep
// owns its deletion.
func (uc *BatchUseCase) cleanup(job *model.BatchJob, inputDir string) {
	os.RemoveAll(inputDir)
	os.Remove(job.ArchivePath)
	os.Remove(job.ManifestPath)
}

// fail is the fatal path: mark the job failed, purge the whole working
// directory including any partially built output, drop the uploads, and
// persist the terminal state. No billing occurs.
func (uc *BatchUseCase) fail(job *model.BatchJob, cause error, workRoot string) {
	uc.log.Error().Str("job_id", job.PublicID).Err(cause).Msg("batch failed")

	now := time.Now()
	job.Status = model.BatchJobStatusFailed
	job.ErrorMessage = cause.Error()
	job.CompletedAt = &now
	job.OutputPath = ""
	job.OutputSize = 0

	os.RemoveAll(workRoot)
	os.Remove(job.ArchivePath)
	os.Remove(job.ManifestPath)

	// Terminal write happens outside the caller's (possibly poisoned)
	// context path; best effort, the error is already on the job.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := uc.jobs.Save(ctx, nil, job); err != nil {
		uc.log.Error().Str("job_id", job.PublicID).Err(err).Msg("could not persist failed state")
	}
	_ = uc.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		return uc.usage.Record(ctx, tx, &model.UsageEntry{
			UserID:      job.UserID,
			JobPublicID: job.PublicID,
			Operation:   "batch",
			Processed:   job.ProcessedCount,
			Failed:      job.FailedCount,
		})
	})
}

// OutputName derives the deterministic output filename for an invoice.
func OutputName(invoiceNumber string) string {
	sanitized := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, invoiceNumber)
	return sanitized + "-facturx.pdf"
}
