package model

import (
	"math"
	"time"
)

type BatchJobStatus string

const (
	BatchJobStatusPending    BatchJobStatus = "pending"
	BatchJobStatusProcessing BatchJobStatus = "processing"
	BatchJobStatusCompleted  BatchJobStatus = "completed"
	BatchJobStatusFailed     BatchJobStatus = "failed"
	BatchJobStatusCancelled  BatchJobStatus = "cancelled"
)

// MaxBatchItems is the hard per-batch ceiling. Manifests implying more rows
// fail before any composition is attempted.
const MaxBatchItems = 10000

// DownloadTTL is how long the output archive stays downloadable after completion.
const DownloadTTL = 24 * time.Hour

// ItemError records one per-item composition failure. Item failures never
// abort the batch; they are collected here for inspection.
type ItemError struct {
	Filename string `json:"filename"`
	Message  string `json:"message"`
}

// BatchJob is one batch submission. The numeric ID is storage-only; clients
// only ever see the PublicID (a ULID). The job is mutated exclusively by the
// batch pipeline once processing starts and becomes immutable at a terminal
// status, except for the retention sweep nulling output fields after expiry.
type BatchJob struct {
	ID       int64
	PublicID string
	UserID   string
	APIKeyID string

	Status         BatchJobStatus
	TotalItems     int
	ProcessedCount int
	FailedCount    int

	ArchivePath  string
	ManifestPath string
	OutputPath   string
	OutputSize   int64

	CostCents int64
	Settled   bool

	ErrorMessage string
	ItemErrors   []ItemError

	OriginIP  string
	UserAgent string

	CreatedAt         time.Time
	StartedAt         *time.Time
	CompletedAt       *time.Time
	DownloadExpiresAt *time.Time
}

// Progress returns the derived completion percentage, counting only
// successfully processed items; failures never advance it. A job with zero
// items reports 0 rather than dividing by zero.
func (j *BatchJob) Progress() int {
	if j.TotalItems <= 0 {
		return 0
	}
	return int(math.Round(float64(j.ProcessedCount) / float64(j.TotalItems) * 100))
}

// IsTerminal reports whether the job reached a final status.
func (j *BatchJob) IsTerminal() bool {
	switch j.Status {
	case BatchJobStatusCompleted, BatchJobStatusFailed, BatchJobStatusCancelled:
		return true
	}
	return false
}

// DownloadableAt reports whether the output archive can be served at the
// given instant: the job must be completed and the link unexpired.
func (j *BatchJob) DownloadableAt(now time.Time) bool {
	return j.Status == BatchJobStatusCompleted &&
		j.DownloadExpiresAt != nil &&
		now.Before(*j.DownloadExpiresAt)
}
