package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"facturx-batch/internal/domain/model"
)

// jobStatusResponse is the status document a polling client consumes.
type jobStatusResponse struct {
	ID              string            `json:"id"`
	Status          string            `json:"status"`
	TotalItems      int               `json:"total_items"`
	ProcessedCount  int               `json:"processed_count"`
	FailedCount     int               `json:"failed_count"`
	ProgressPercent int               `json:"progress_percent"`
	Cost            string            `json:"cost"`
	CreatedAt       time.Time         `json:"created_at"`
	StartedAt       *time.Time        `json:"started_at,omitempty"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
	Downloadable    bool              `json:"downloadable"`
	ExpiresAt       *time.Time        `json:"expires_at,omitempty"`
	ErrorMessage    string            `json:"error_message,omitempty"`
	ItemErrors      []model.ItemError `json:"item_errors,omitempty"`
}

func toStatusResponse(job *model.BatchJob) jobStatusResponse {
	return jobStatusResponse{
		ID:              job.PublicID,
		Status:          string(job.Status),
		TotalItems:      job.TotalItems,
		ProcessedCount:  job.ProcessedCount,
		FailedCount:     job.FailedCount,
		ProgressPercent: job.Progress(),
		Cost:            formatCents(job.CostCents),
		CreatedAt:       job.CreatedAt,
		StartedAt:       job.StartedAt,
		CompletedAt:     job.CompletedAt,
		Downloadable:    job.DownloadableAt(time.Now()),
		ExpiresAt:       job.DownloadExpiresAt,
		ErrorMessage:    job.ErrorMessage,
		ItemErrors:      job.ItemErrors,
	}
}

func formatCents(cents int64) string {
	return fmt.Sprintf("%d.%02d EUR", cents/100, cents%100)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	// Progress rides along on not_completed download rejections.
	Progress *jobStatusResponse `json:"progress,omitempty"`
	// ExpiresAt rides along on expired download rejections.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}
