package sched

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"facturx-batch/internal/domain/model"
	"facturx-batch/internal/domain/ports/repository"
	"facturx-batch/internal/infra/metrics"
)

// RetentionWorker periodically deletes the output archives and working
// directories of completed jobs older than the download TTL and nulls their
// output fields. Counts, cost and audit fields stay for the historical
// record. Per-job failures are swallowed so one bad deletion never stops
// the sweep, and re-sweeping an already swept job is a no-op.
type RetentionWorker struct {
	interval time.Duration
	jobs     repository.BatchJobRepository
	workDir  string
	log      *zerolog.Logger
}

func NewRetentionWorker(interval time.Duration, jobs repository.BatchJobRepository, workDir string, logger *zerolog.Logger) *RetentionWorker {
	l := logger.With().Str("component", "RetentionWorker").Logger()
	return &RetentionWorker{interval: interval, jobs: jobs, workDir: workDir, log: &l}
}

func (w *RetentionWorker) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("starting retention worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("stopping retention worker")
			return ctx.Err()
		case <-ticker.C:
			n, err := w.SweepOnce(ctx)
			if err != nil {
				w.log.Error().Err(err).Msg("retention sweep error")
			}
			if n > 0 {
				metrics.IncRetentionSwept(n)
				w.log.Info().Int("count", n).Msg("expired job outputs swept")
			}
		}
	}
}

// SweepOnce runs a single sweep pass and returns how many jobs were cleaned.
func (w *RetentionWorker) SweepOnce(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-model.DownloadTTL)
	expired, err := w.jobs.ListExpiredCompleted(ctx, nil, cutoff)
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, job := range expired {
		if err := w.sweepJob(ctx, job); err != nil {
			w.log.Warn().Str("job_id", job.PublicID).Err(err).Msg("could not sweep job")
			continue
		}
		swept++
	}
	return swept, nil
}

func (w *RetentionWorker) sweepJob(ctx context.Context, job *model.BatchJob) error {
	if job.OutputPath != "" {
		if err := os.Remove(job.OutputPath); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	workRoot := filepath.Join(w.workDir, "facturx-"+job.PublicID)
	if err := os.RemoveAll(workRoot); err != nil {
		return err
	}
	return w.jobs.ClearOutput(ctx, nil, job.PublicID)
}
