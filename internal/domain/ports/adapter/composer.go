package adapter

import (
	"context"

	"facturx-batch/internal/domain/model"
)

// DocumentComposer is the external collaborator that turns normalized invoice
// fields plus a source PDF into a compliant Factur-X PDF (CII XML payload
// attached inside the PDF container). The XML grammar is the composer's own
// contract; this service only moves bytes.
type DocumentComposer interface {
	Compose(ctx context.Context, record *model.InvoiceRecord, pdf []byte) ([]byte, error)
}
