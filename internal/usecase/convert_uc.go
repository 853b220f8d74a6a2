package usecase

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"facturx-batch/internal/domain"
	"facturx-batch/internal/domain/model"
	"facturx-batch/internal/domain/ports/adapter"
	"facturx-batch/internal/domain/ports/repository"
	"facturx-batch/internal/infra/metrics"
)

// ConvertUseCase is the synchronous single-invoice path: one set of invoice
// fields plus one PDF in, one compliant PDF out, one item billed.
type ConvertUseCase struct {
	billing  repository.BillingLedger
	usage    repository.UsageLog
	tm       repository.TransactionManager
	composer adapter.DocumentComposer
	locker   Locker

	unitPriceCents int64
	log            *zerolog.Logger
}

func NewConvertUseCase(
	billing repository.BillingLedger,
	usage repository.UsageLog,
	tm repository.TransactionManager,
	composer adapter.DocumentComposer,
	locker Locker,
	unitPriceCents int64,
	logger *zerolog.Logger,
) *ConvertUseCase {
	l := logger.With().Str("component", "ConvertUseCase").Logger()
	return &ConvertUseCase{
		billing:        billing,
		usage:          usage,
		tm:             tm,
		composer:       composer,
		locker:         locker,
		unitPriceCents: unitPriceCents,
		log:            &l,
	}
}

// Convert validates the PDF, invokes the composer and settles one unit.
// Failures before settlement cost the user nothing.
func (uc *ConvertUseCase) Convert(ctx context.Context, userID string, rec *model.InvoiceRecord, pdf []byte) ([]byte, error) {
	if rec.InvoiceNumber == "" {
		return nil, fmt.Errorf("%w: invoice number is required", domain.ErrInvalidArgument)
	}
	if !bytes.HasPrefix(pdf, pdfMagic) {
		return nil, domain.ErrNotAPDF
	}

	out, err := uc.composer.Compose(ctx, rec, pdf)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrComposition, err)
	}

	token, err := uc.locker.TryLock(ctx, "billing:"+userID, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("settlement lock: %w", err)
	}
	defer func() { _ = uc.locker.Unlock(ctx, "billing:"+userID, token) }()

	err = uc.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if err := uc.billing.Charge(ctx, tx, userID, uc.unitPriceCents); err != nil {
			return err
		}
		return uc.usage.Record(ctx, tx, &model.UsageEntry{
			UserID:       userID,
			Operation:    "single",
			Processed:    1,
			ChargedCents: uc.unitPriceCents,
		})
	})
	if err != nil {
		return nil, err
	}
	metrics.AddBillingCharged("single", uc.unitPriceCents)

	uc.log.Info().Str("user_id", userID).Str("invoice", rec.InvoiceNumber).Msg("single conversion settled")
	return out, nil
}
