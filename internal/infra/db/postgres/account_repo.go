package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"facturx-batch/internal/domain"
	"facturx-batch/internal/domain/model"
	"facturx-batch/internal/domain/ports/repository"
)

var _ repository.BillingLedger = (*accountRepo)(nil)

type accountRepo struct {
	pool *pgxpool.Pool
}

func NewAccountRepo(pool *pgxpool.Pool) *accountRepo {
	return &accountRepo{pool: pool}
}

func (r *accountRepo) FindAccount(ctx context.Context, tx repository.Tx, userID string) (*model.Account, error) {
	row, err := pickRow(ctx, r.pool, tx,
		`SELECT id, email, credits_cents, created_at, updated_at FROM accounts WHERE id = $1;`, userID)
	if err != nil {
		return nil, err
	}
	var a model.Account
	if err := row.Scan(&a.ID, &a.Email, &a.CreditsCents, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return &a, nil
}

// Charge debits the balance with an exclusive row read so two simultaneous
// settlements against the same user cannot interleave.
func (r *accountRepo) Charge(ctx context.Context, tx repository.Tx, userID string, amountCents int64) error {
	row, err := pickRow(ctx, r.pool, tx,
		`SELECT credits_cents FROM accounts WHERE id = $1 FOR UPDATE;`, userID)
	if err != nil {
		return err
	}
	var balance int64
	if err := row.Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		return domain.ErrReadDatabaseRow
	}
	if balance < amountCents {
		return domain.ErrInsufficientCredits
	}
	_, err = execSQL(ctx, r.pool, tx,
		`UPDATE accounts SET credits_cents = credits_cents - $2, updated_at = now() WHERE id = $1;`,
		userID, amountCents)
	return err
}
