package composer

import (
	"context"

	"facturx-batch/internal/domain/model"
	"facturx-batch/internal/domain/ports/adapter"
)

var _ adapter.DocumentComposer = (*NoopComposer)(nil)

// NoopComposer echoes the source PDF back unchanged. Used in dev mode when
// no composer service is configured, so the rest of the pipeline can be
// exercised end to end.
type NoopComposer struct{}

func NewNoopComposer() *NoopComposer { return &NoopComposer{} }

func (n *NoopComposer) Compose(_ context.Context, _ *model.InvoiceRecord, pdf []byte) ([]byte, error) {
	out := make([]byte, len(pdf))
	copy(out, pdf)
	return out, nil
}
