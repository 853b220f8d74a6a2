package model

import "time"

// Account is the owning user of jobs, holding the shared credit balance that
// settlement debits. The balance is the only cross-job mutable resource.
type Account struct {
	ID           string
	Email        string
	CreditsCents int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UsageEntry is one audit-trail row summarizing a settled conversion run.
type UsageEntry struct {
	ID           string
	UserID       string
	JobPublicID  string
	Operation    string // "batch" | "single"
	Processed    int
	Failed       int
	ChargedCents int64
	CreatedAt    time.Time
}
