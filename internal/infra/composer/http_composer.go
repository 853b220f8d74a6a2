// Package composer holds DocumentComposer implementations. The composer
// service owns the Factur-X XML grammar and the PDF attachment mechanics;
// this side only ships fields and bytes.
package composer

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"facturx-batch/internal/domain/model"
	"facturx-batch/internal/domain/ports/adapter"
)

// Compile-time assurance this adapter satisfies the port
var _ adapter.DocumentComposer = (*HTTPComposer)(nil)

// HTTPComposer calls a remote composer service over JSON.
// POST {base}/v1/compose with the invoice fields and the source PDF
// base64-encoded; the response carries the composed PDF the same way.
type HTTPComposer struct {
	apiKey string
	base   string
	client *http.Client
}

func NewHTTPComposer(baseURL, apiKey string, timeout time.Duration) (*HTTPComposer, error) {
	if baseURL == "" {
		return nil, errors.New("composer base url empty")
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPComposer{
		apiKey: apiKey,
		base:   strings.TrimRight(baseURL, "/"),
		client: &http.Client{Timeout: timeout},
	}, nil
}

func (c *HTTPComposer) Compose(ctx context.Context, record *model.InvoiceRecord, pdf []byte) ([]byte, error) {
	reqBody := struct {
		Invoice *model.InvoiceRecord `json:"invoice"`
		PDF     string               `json:"pdf"`
	}{Invoice: record, PDF: base64.StdEncoding.EncodeToString(pdf)}

	b, _ := json.Marshal(reqBody)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/v1/compose", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("composer http %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var payload struct {
		PDF string `json:"pdf"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	out, err := base64.StdEncoding.DecodeString(payload.PDF)
	if err != nil {
		return nil, fmt.Errorf("composer returned invalid pdf payload: %w", err)
	}
	if len(out) == 0 {
		return nil, errors.New("composer returned empty pdf")
	}
	return out, nil
}
