package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"facturx-batch/internal/domain"
	"facturx-batch/internal/domain/model"
	red "facturx-batch/internal/infra/redis"
	"facturx-batch/internal/usecase"
)

// handleSubmit accepts the batch upload: an archive plus a manifest, both
// validated before any job record exists. The accepted job is handed to the
// background runner and the public identifier returned immediately.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	userID := userFrom(r.Context())

	ok, err := s.limiter.Allow(r.Context(), red.SubmissionKey(userID),
		s.cfg.RateLimit, time.Duration(s.cfg.RateWindowSecs)*time.Second)
	if err != nil {
		s.log.Error().Err(err).Msg("rate limiter unavailable")
	} else if !ok {
		writeError(w, http.StatusTooManyRequests, "rate_limited", "too many submissions, slow down")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxArchiveSize+s.cfg.MaxManifestSize+(1<<20))
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed multipart body")
		return
	}
	defer r.MultipartForm.RemoveAll()

	archivePath, archiveSize, err := s.stageUpload(r, "archive", s.cfg.MaxArchiveSize, ".zip")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_archive", err.Error())
		return
	}
	manifestPath, _, err := s.stageUpload(r, "manifest", s.cfg.MaxManifestSize, ".csv", ".txt", ".xlsx")
	if err != nil {
		os.Remove(archivePath)
		writeError(w, http.StatusBadRequest, "invalid_manifest", err.Error())
		return
	}

	job, err := s.jobs.Submit(r.Context(), usecase.SubmitParams{
		UserID:       userID,
		APIKeyID:     apiKeyFrom(r.Context()),
		OriginIP:     clientIP(r),
		UserAgent:    r.UserAgent(),
		ArchivePath:  archivePath,
		ManifestPath: manifestPath,
		ArchiveSize:  archiveSize,
	})
	if err != nil {
		os.Remove(archivePath)
		os.Remove(manifestPath)
		s.writeDomainError(w, err)
		return
	}

	// Detach: the submitter polls the status endpoint from here on.
	if err := s.runner.Submit(func(ctx context.Context) error {
		_, err := s.batch.Process(ctx, job)
		return err
	}); err != nil {
		s.log.Error().Str("job_id", job.PublicID).Err(err).Msg("could not schedule job")
		_, _ = s.jobs.Cancel(r.Context(), job.PublicID)
		os.Remove(archivePath)
		os.Remove(manifestPath)
		writeError(w, http.StatusServiceUnavailable, "busy", "service is saturated, try again later")
		return
	}

	writeJSON(w, http.StatusAccepted, toStatusResponse(job))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatusResponse(job))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatusResponse(job))
}

// handleDownload serves the output archive, or fails fast with a typed
// reason: not ready (with current progress) or expired (with the deadline).
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	path, err := s.jobs.Download(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrDownloadNotReady):
			resp := errorResponse{Error: "job output is not ready", Code: "not_completed"}
			if job, jerr := s.jobs.Get(r.Context(), id); jerr == nil {
				doc := toStatusResponse(job)
				resp.Progress = &doc
			}
			writeJSON(w, http.StatusConflict, resp)
		case errors.Is(err, domain.ErrDownloadExpired):
			resp := errorResponse{Error: "download link has expired", Code: "expired"}
			if job, jerr := s.jobs.Get(r.Context(), id); jerr == nil {
				resp.ExpiresAt = job.DownloadExpiresAt
			}
			writeJSON(w, http.StatusGone, resp)
		default:
			s.writeDomainError(w, err)
		}
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "facturx-"+id+".zip"))
	http.ServeFile(w, r, path)
}

// handleConvert is the synchronous single-invoice mode: invoice fields and
// one PDF in the multipart body, the composed PDF straight back.
func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxManifestSize+(64<<20))
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed multipart body")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, _, err := r.FormFile("pdf")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_pdf", "pdf file is required")
		return
	}
	defer file.Close()
	pdf, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_pdf", "could not read pdf")
		return
	}

	rec := recordFromForm(r)
	out, err := s.converter.Convert(r.Context(), userFrom(r.Context()), rec, pdf)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", usecase.OutputName(rec.InvoiceNumber)))
	_, _ = w.Write(out)
}

// stageUpload copies one multipart file into the staging directory, checking
// presence, size and extension first.
func (s *Server) stageUpload(r *http.Request, field string, maxSize int64, exts ...string) (string, int64, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		return "", 0, fmt.Errorf("%s file is required", field)
	}
	defer file.Close()

	if header.Size > maxSize {
		return "", 0, fmt.Errorf("%s exceeds the %d byte limit", field, maxSize)
	}
	if !extAllowed(header, exts) {
		return "", 0, fmt.Errorf("%s has an unsupported extension (want %s)", field, strings.Join(exts, ", "))
	}

	path := filepath.Join(s.uploadDir, uuid.NewString()+strings.ToLower(filepath.Ext(header.Filename)))
	dst, err := os.Create(path)
	if err != nil {
		return "", 0, fmt.Errorf("could not stage %s", field)
	}
	n, err := io.Copy(dst, file)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return "", 0, fmt.Errorf("could not stage %s", field)
	}
	return path, n, nil
}

func extAllowed(header *multipart.FileHeader, exts []string) bool {
	got := strings.ToLower(filepath.Ext(header.Filename))
	for _, e := range exts {
		if got == e {
			return true
		}
	}
	return false
}

func recordFromForm(r *http.Request) *model.InvoiceRecord {
	get := func(name string) string { return strings.TrimSpace(r.FormValue(name)) }
	rec := &model.InvoiceRecord{
		InvoiceNumber:     get("invoiceNumber"),
		InvoiceDate:       get("invoiceDate"),
		SellerName:        get("sellerName"),
		SellerSiret:       get("sellerSiret"),
		SellerVatNumber:   get("sellerVatNumber"),
		SellerStreet:      get("sellerStreet"),
		SellerZipCode:     get("sellerZipCode"),
		SellerCity:        get("sellerCity"),
		SellerCountryCode: get("sellerCountryCode"),
		BuyerName:         get("buyerName"),
		BuyerSiret:        get("buyerSiret"),
		BuyerVatNumber:    get("buyerVatNumber"),
		BuyerStreet:       get("buyerStreet"),
		BuyerZipCode:      get("buyerZipCode"),
		BuyerCity:         get("buyerCity"),
		BuyerCountryCode:  get("buyerCountryCode"),
		CurrencyCode:      get("currencyCode"),
		TotalHT:           get("totalHT"),
		TotalTVA:          get("totalTVA"),
		TotalTTC:          get("totalTTC"),
		PaymentTerms:      get("paymentTerms"),
		PaymentDueDate:    get("paymentDueDate"),
	}
	if rec.SellerCountryCode == "" {
		rec.SellerCountryCode = "FR"
	}
	if rec.BuyerCountryCode == "" {
		rec.BuyerCountryCode = "FR"
	}
	if rec.CurrencyCode == "" {
		rec.CurrencyCode = "EUR"
	}
	return rec
}

func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "job not found")
	case errors.Is(err, domain.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, domain.ErrManifestTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "too_many_items",
			fmt.Sprintf("a batch is limited to %d items", model.MaxBatchItems))
	case errors.Is(err, domain.ErrJobNotCancellable):
		writeError(w, http.StatusConflict, "not_cancellable", "job already reached a terminal status")
	case errors.Is(err, domain.ErrInsufficientCredits):
		writeError(w, http.StatusPaymentRequired, "insufficient_credits", "not enough credits")
	case errors.Is(err, domain.ErrNotAPDF), errors.Is(err, domain.ErrComposition):
		writeError(w, http.StatusUnprocessableEntity, "conversion_failed", err.Error())
	default:
		s.log.Error().Err(err).Msg("internal error")
		writeError(w, http.StatusInternalServerError, "internal", "internal server error")
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i > 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host := r.RemoteAddr
	if i := strings.LastIndexByte(host, ':'); i > 0 {
		host = host[:i]
	}
	return host
}
