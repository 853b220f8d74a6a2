package web

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"facturx-batch/internal/config"
	"facturx-batch/internal/domain/model"
	"facturx-batch/internal/usecase"
)

// JobService is what the handlers need from the job use case.
type JobService interface {
	Submit(ctx context.Context, p usecase.SubmitParams) (*model.BatchJob, error)
	Get(ctx context.Context, publicID string) (*model.BatchJob, error)
	Cancel(ctx context.Context, publicID string) (*model.BatchJob, error)
	Download(ctx context.Context, publicID string) (string, error)
}

// BatchRunner runs the pipeline for an accepted job.
type BatchRunner interface {
	Process(ctx context.Context, job *model.BatchJob) (*model.BatchResult, error)
}

// Converter is the synchronous single-invoice path.
type Converter interface {
	Convert(ctx context.Context, userID string, rec *model.InvoiceRecord, pdf []byte) ([]byte, error)
}

// Scheduler hands a job task to the background runner.
type Scheduler interface {
	Submit(task func(ctx context.Context) error) error
}

// RateLimiter guards the submission endpoint with a keyed counter.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type Server struct {
	jobs      JobService
	batch     BatchRunner
	converter Converter
	runner    Scheduler
	limiter   RateLimiter

	cfg config.ServerConfig
	// uploadDir stages uploaded archives/manifests until the pipeline
	// deletes them.
	uploadDir string
	log       *zerolog.Logger
}

func NewServer(
	jobs JobService,
	batch BatchRunner,
	converter Converter,
	runner Scheduler,
	limiter RateLimiter,
	cfg config.ServerConfig,
	uploadDir string,
	logger *zerolog.Logger,
) *Server {
	l := logger.With().Str("component", "web.Server").Logger()
	return &Server{
		jobs:      jobs,
		batch:     batch,
		converter: converter,
		runner:    runner,
		limiter:   limiter,
		cfg:       cfg,
		uploadDir: uploadDir,
		log:       &l,
	}
}

// Router builds the chi router with the middleware chain and all routes.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(TraceID(s.log))
	r.Use(RequestLog(s.log))
	r.Use(Recover(s.log))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(RequireUser)
		r.Post("/jobs", s.handleSubmit)
		r.Get("/jobs/{id}", s.handleStatus)
		r.Post("/jobs/{id}/cancel", s.handleCancel)
		r.Get("/jobs/{id}/download", s.handleDownload)
		r.Post("/convert", s.handleConvert)
	})
	return r
}
