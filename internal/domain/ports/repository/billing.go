package repository

import (
	"context"

	"facturx-batch/internal/domain/model"
)

// BillingLedger settles conversion charges against the owning user's credit
// balance. The balance is shared across concurrent jobs, so Charge must be
// called under exclusive-read-then-write discipline (a transaction holding
// the user row, or an external per-user lock).
type BillingLedger interface {
	FindAccount(ctx context.Context, tx Tx, userID string) (*model.Account, error)
	// Charge debits amountCents from the user's balance. The read uses
	// FOR UPDATE inside the surrounding transaction so two simultaneous
	// settlements cannot corrupt the balance.
	Charge(ctx context.Context, tx Tx, userID string, amountCents int64) error
}

// UsageLog records the audit trail of settled runs.
type UsageLog interface {
	Record(ctx context.Context, tx Tx, entry *model.UsageEntry) error
}
