package web

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"facturx-batch/internal/config"
	"facturx-batch/internal/domain"
	"facturx-batch/internal/domain/model"
	"facturx-batch/internal/usecase"
)

// --- Fakes ---

type fakeJobService struct {
	submitJob  *model.BatchJob
	submitErr  error
	getJob     *model.BatchJob
	getErr     error
	cancelJob  *model.BatchJob
	cancelErr  error
	downPath   string
	downErr    error
	lastParams usecase.SubmitParams
	cancelled  []string
}

func (f *fakeJobService) Submit(_ context.Context, p usecase.SubmitParams) (*model.BatchJob, error) {
	f.lastParams = p
	return f.submitJob, f.submitErr
}

func (f *fakeJobService) Get(context.Context, string) (*model.BatchJob, error) {
	return f.getJob, f.getErr
}

func (f *fakeJobService) Cancel(_ context.Context, id string) (*model.BatchJob, error) {
	f.cancelled = append(f.cancelled, id)
	return f.cancelJob, f.cancelErr
}

func (f *fakeJobService) Download(context.Context, string) (string, error) {
	return f.downPath, f.downErr
}

type fakeBatchRunner struct{ calls int }

func (f *fakeBatchRunner) Process(context.Context, *model.BatchJob) (*model.BatchResult, error) {
	f.calls++
	return &model.BatchResult{}, nil
}

type fakeConverter struct {
	out     []byte
	err     error
	lastRec *model.InvoiceRecord
}

func (f *fakeConverter) Convert(_ context.Context, _ string, rec *model.InvoiceRecord, _ []byte) ([]byte, error) {
	f.lastRec = rec
	return f.out, f.err
}

// inlineScheduler runs the task synchronously so tests observe the effect.
type inlineScheduler struct {
	refuse bool
	runs   int
}

func (s *inlineScheduler) Submit(task func(ctx context.Context) error) error {
	if s.refuse {
		return errors.New("queue full")
	}
	s.runs++
	return task(context.Background())
}

type allowAllLimiter struct{ deny bool }

func (l allowAllLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return !l.deny, nil
}

type webFixture struct {
	jobs      *fakeJobService
	batch     *fakeBatchRunner
	converter *fakeConverter
	runner    *inlineScheduler
	limiter   *allowAllLimiter
	srv       *httptest.Server
}

func newWebFixture(t *testing.T) *webFixture {
	t.Helper()
	log := zerolog.Nop()
	f := &webFixture{
		jobs:      &fakeJobService{},
		batch:     &fakeBatchRunner{},
		converter: &fakeConverter{},
		runner:    &inlineScheduler{},
		limiter:   &allowAllLimiter{},
	}
	cfg := config.ServerConfig{
		Port:            0,
		MaxArchiveSize:  10 << 20,
		MaxManifestSize: 1 << 20,
		RateLimit:       30,
		RateWindowSecs:  60,
	}
	s := NewServer(f.jobs, f.batch, f.converter, f.runner, f.limiter, cfg, t.TempDir(), &log)
	f.srv = httptest.NewServer(s.Router())
	t.Cleanup(f.srv.Close)
	return f
}

func (f *webFixture) do(t *testing.T, method, path string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, body)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("X-User-Id", "user-1")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := f.srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decodeError(t *testing.T, resp *http.Response) errorResponse {
	t.Helper()
	defer resp.Body.Close()
	var e errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&e); err != nil {
		t.Fatal(err)
	}
	return e
}

// multipartBody builds a submission body with the given file parts.
func multipartBody(t *testing.T, files map[string][2]string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for field, f := range files {
		w, err := mw.CreateFormFile(field, f[0])
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(f[1])); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func zipBytes(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("a.pdf")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte("%PDF-a")); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.String()
}

// --- Tests ---

func TestRequireUser(t *testing.T) {
	t.Parallel()

	f := newWebFixture(t)
	req, err := http.NewRequest(http.MethodGet, f.srv.URL+"/api/v1/jobs/abc", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := f.srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	f := newWebFixture(t)
	resp, err := f.srv.Client().Get(f.srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestSubmitEndpoint(t *testing.T) {
	t.Parallel()

	f := newWebFixture(t)
	f.jobs.submitJob = &model.BatchJob{
		PublicID:   "01JOB",
		Status:     model.BatchJobStatusPending,
		TotalItems: 1,
		CostCents:  20,
		CreatedAt:  time.Now(),
	}

	body, ct := multipartBody(t, map[string][2]string{
		"archive":  {"invoices.zip", zipBytes(t)},
		"manifest": {"manifest.csv", "filename,invoiceNumber\na.pdf,INV-1\n"},
	})
	resp := f.do(t, http.MethodPost, "/api/v1/jobs", body, ct)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	var doc jobStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		t.Fatal(err)
	}
	if doc.ID != "01JOB" || doc.Status != "pending" {
		t.Fatalf("unexpected status doc %+v", doc)
	}
	if doc.Cost != "0.20 EUR" {
		t.Fatalf("cost = %q, want %q", doc.Cost, "0.20 EUR")
	}
	if f.runner.runs != 1 || f.batch.calls != 1 {
		t.Fatalf("pipeline scheduled %d/%d times, want 1/1", f.runner.runs, f.batch.calls)
	}
	if f.jobs.lastParams.UserID != "user-1" {
		t.Fatalf("submit params user = %q", f.jobs.lastParams.UserID)
	}
	if f.jobs.lastParams.ArchiveSize == 0 {
		t.Fatal("archive size not forwarded")
	}
	// The staged files must exist where the params point.
	if _, err := os.Stat(f.jobs.lastParams.ArchivePath); err != nil {
		t.Fatalf("staged archive missing: %v", err)
	}
	if ext := filepath.Ext(f.jobs.lastParams.ManifestPath); ext != ".csv" {
		t.Fatalf("staged manifest ext = %q", ext)
	}
}

func TestSubmitEndpoint_MissingArchive(t *testing.T) {
	t.Parallel()

	f := newWebFixture(t)
	body, ct := multipartBody(t, map[string][2]string{
		"manifest": {"manifest.csv", "filename,invoiceNumber\n"},
	})
	resp := f.do(t, http.MethodPost, "/api/v1/jobs", body, ct)
	e := decodeError(t, resp)
	if resp.StatusCode != http.StatusBadRequest || e.Code != "invalid_archive" {
		t.Fatalf("status/code = %d/%s", resp.StatusCode, e.Code)
	}
}

func TestSubmitEndpoint_WrongManifestExtension(t *testing.T) {
	t.Parallel()

	f := newWebFixture(t)
	body, ct := multipartBody(t, map[string][2]string{
		"archive":  {"invoices.zip", zipBytes(t)},
		"manifest": {"manifest.pdf", "nope"},
	})
	resp := f.do(t, http.MethodPost, "/api/v1/jobs", body, ct)
	e := decodeError(t, resp)
	if resp.StatusCode != http.StatusBadRequest || e.Code != "invalid_manifest" {
		t.Fatalf("status/code = %d/%s", resp.StatusCode, e.Code)
	}
}

func TestSubmitEndpoint_RateLimited(t *testing.T) {
	t.Parallel()

	f := newWebFixture(t)
	f.limiter.deny = true
	body, ct := multipartBody(t, map[string][2]string{
		"archive":  {"invoices.zip", zipBytes(t)},
		"manifest": {"manifest.csv", "filename,invoiceNumber\n"},
	})
	resp := f.do(t, http.MethodPost, "/api/v1/jobs", body, ct)
	e := decodeError(t, resp)
	if resp.StatusCode != http.StatusTooManyRequests || e.Code != "rate_limited" {
		t.Fatalf("status/code = %d/%s", resp.StatusCode, e.Code)
	}
}

func TestSubmitEndpoint_SchedulerSaturated(t *testing.T) {
	t.Parallel()

	f := newWebFixture(t)
	f.runner.refuse = true
	f.jobs.submitJob = &model.BatchJob{PublicID: "01JOB", Status: model.BatchJobStatusPending}
	f.jobs.cancelJob = f.jobs.submitJob

	body, ct := multipartBody(t, map[string][2]string{
		"archive":  {"invoices.zip", zipBytes(t)},
		"manifest": {"manifest.csv", "filename,invoiceNumber\na.pdf,INV-1\n"},
	})
	resp := f.do(t, http.MethodPost, "/api/v1/jobs", body, ct)
	e := decodeError(t, resp)
	if resp.StatusCode != http.StatusServiceUnavailable || e.Code != "busy" {
		t.Fatalf("status/code = %d/%s", resp.StatusCode, e.Code)
	}
	if len(f.jobs.cancelled) != 1 || f.jobs.cancelled[0] != "01JOB" {
		t.Fatalf("accepted job not cancelled on schedule failure: %v", f.jobs.cancelled)
	}
}

func TestStatusEndpoint(t *testing.T) {
	t.Parallel()

	f := newWebFixture(t)
	started := time.Now()
	f.jobs.getJob = &model.BatchJob{
		PublicID:       "01JOB",
		Status:         model.BatchJobStatusProcessing,
		TotalItems:     3,
		ProcessedCount: 2,
		CostCents:      60,
		CreatedAt:      time.Now(),
		StartedAt:      &started,
		ItemErrors:     []model.ItemError{{Filename: "x.pdf", Message: "pdf not found"}},
	}

	resp := f.do(t, http.MethodGet, "/api/v1/jobs/01JOB", nil, "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var doc jobStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		t.Fatal(err)
	}
	if doc.ProgressPercent != 67 {
		t.Fatalf("progress = %d, want 67", doc.ProgressPercent)
	}
	if doc.Downloadable {
		t.Fatal("processing job reported downloadable")
	}
	if len(doc.ItemErrors) != 1 {
		t.Fatalf("item errors = %d, want 1", len(doc.ItemErrors))
	}
}

func TestStatusEndpoint_NotFound(t *testing.T) {
	t.Parallel()

	f := newWebFixture(t)
	f.jobs.getErr = domain.ErrNotFound

	resp := f.do(t, http.MethodGet, "/api/v1/jobs/missing", nil, "")
	e := decodeError(t, resp)
	if resp.StatusCode != http.StatusNotFound || e.Code != "not_found" {
		t.Fatalf("status/code = %d/%s", resp.StatusCode, e.Code)
	}
}

func TestCancelEndpoint_Terminal(t *testing.T) {
	t.Parallel()

	f := newWebFixture(t)
	f.jobs.cancelErr = domain.ErrJobNotCancellable

	resp := f.do(t, http.MethodPost, "/api/v1/jobs/01JOB/cancel", nil, "")
	e := decodeError(t, resp)
	if resp.StatusCode != http.StatusConflict || e.Code != "not_cancellable" {
		t.Fatalf("status/code = %d/%s", resp.StatusCode, e.Code)
	}
}

func TestDownloadEndpoint(t *testing.T) {
	t.Parallel()

	f := newWebFixture(t)
	out := filepath.Join(t.TempDir(), "out.zip")
	if err := os.WriteFile(out, []byte("PK\x03\x04fake"), 0o644); err != nil {
		t.Fatal(err)
	}
	f.jobs.downPath = out

	resp := f.do(t, http.MethodGet, "/api/v1/jobs/01JOB/download", nil, "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Disposition"); got != `attachment; filename="facturx-01JOB.zip"` {
		t.Fatalf("content-disposition = %q", got)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(body, []byte("PK")) {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestDownloadEndpoint_NotReady(t *testing.T) {
	t.Parallel()

	f := newWebFixture(t)
	f.jobs.downErr = domain.ErrDownloadNotReady
	f.jobs.getJob = &model.BatchJob{
		PublicID:       "01JOB",
		Status:         model.BatchJobStatusProcessing,
		TotalItems:     4,
		ProcessedCount: 1,
		CreatedAt:      time.Now(),
	}

	resp := f.do(t, http.MethodGet, "/api/v1/jobs/01JOB/download", nil, "")
	e := decodeError(t, resp)
	if resp.StatusCode != http.StatusConflict || e.Code != "not_completed" {
		t.Fatalf("status/code = %d/%s", resp.StatusCode, e.Code)
	}
	if e.Progress == nil || e.Progress.ProgressPercent != 25 {
		t.Fatalf("rejection missing progress doc: %+v", e.Progress)
	}
}

func TestDownloadEndpoint_Expired(t *testing.T) {
	t.Parallel()

	f := newWebFixture(t)
	expired := time.Now().Add(-time.Hour)
	f.jobs.downErr = domain.ErrDownloadExpired
	f.jobs.getJob = &model.BatchJob{
		PublicID:          "01JOB",
		Status:            model.BatchJobStatusCompleted,
		DownloadExpiresAt: &expired,
		CreatedAt:         time.Now(),
	}

	resp := f.do(t, http.MethodGet, "/api/v1/jobs/01JOB/download", nil, "")
	e := decodeError(t, resp)
	if resp.StatusCode != http.StatusGone || e.Code != "expired" {
		t.Fatalf("status/code = %d/%s", resp.StatusCode, e.Code)
	}
	if e.ExpiresAt == nil || !e.ExpiresAt.Equal(expired) {
		t.Fatalf("rejection missing expiry: %v", e.ExpiresAt)
	}
}

func TestConvertEndpoint(t *testing.T) {
	t.Parallel()

	f := newWebFixture(t)
	f.converter.out = []byte("%PDF-composed")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("invoiceNumber", "INV-7"); err != nil {
		t.Fatal(err)
	}
	if err := mw.WriteField("sellerName", "ACME SARL"); err != nil {
		t.Fatal(err)
	}
	w, err := mw.CreateFormFile("pdf", "in.pdf")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte("%PDF-src")); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}

	resp := f.do(t, http.MethodPost, "/api/v1/convert", &buf, mw.FormDataContentType())
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Type"); got != "application/pdf" {
		t.Fatalf("content-type = %q", got)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != "%PDF-composed" {
		t.Fatalf("body = %q", body)
	}
	if f.converter.lastRec.InvoiceNumber != "INV-7" || f.converter.lastRec.SellerName != "ACME SARL" {
		t.Fatalf("record not forwarded: %+v", f.converter.lastRec)
	}
	// Country and currency defaults fill in when omitted.
	if f.converter.lastRec.SellerCountryCode != "FR" || f.converter.lastRec.CurrencyCode != "EUR" {
		t.Fatalf("defaults not applied: %+v", f.converter.lastRec)
	}
}

func TestConvertEndpoint_NotAPDF(t *testing.T) {
	t.Parallel()

	f := newWebFixture(t)
	f.converter.err = domain.ErrNotAPDF

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	w, err := mw.CreateFormFile("pdf", "in.pdf")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte("<html>")); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}

	resp := f.do(t, http.MethodPost, "/api/v1/convert", &buf, mw.FormDataContentType())
	e := decodeError(t, resp)
	if resp.StatusCode != http.StatusUnprocessableEntity || e.Code != "conversion_failed" {
		t.Fatalf("status/code = %d/%s", resp.StatusCode, e.Code)
	}
}
