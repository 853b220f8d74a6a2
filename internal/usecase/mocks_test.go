package usecase

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v4"

	"facturx-batch/internal/domain"
	"facturx-batch/internal/domain/model"
	"facturx-batch/internal/domain/ports/repository"
)

// --- Job repository ---

// memJobRepo is an in-memory BatchJobRepository. It snapshots the processing
// counters on every UpdateProgress so tests can assert checkpoint cadence and
// monotonicity.
type memJobRepo struct {
	mu        sync.Mutex
	jobs      map[string]*model.BatchJob
	progress  [][2]int // (processed, failed) per UpdateProgress call
	saveErr   error
	updateErr error
}

func newMemJobRepo() *memJobRepo {
	return &memJobRepo{jobs: map[string]*model.BatchJob{}}
}

func (r *memJobRepo) Save(_ context.Context, _ repository.Tx, job *model.BatchJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	cp := *job
	r.jobs[job.PublicID] = &cp
	return nil
}

func (r *memJobRepo) FindByPublicID(_ context.Context, _ repository.Tx, publicID string) (*model.BatchJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[publicID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (r *memJobRepo) UpdateProgress(_ context.Context, _ repository.Tx, job *model.BatchJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return r.updateErr
	}
	r.progress = append(r.progress, [2]int{job.ProcessedCount, job.FailedCount})
	if stored, ok := r.jobs[job.PublicID]; ok {
		stored.ProcessedCount = job.ProcessedCount
		stored.FailedCount = job.FailedCount
		stored.ItemErrors = job.ItemErrors
	}
	return nil
}

func (r *memJobRepo) ListExpiredCompleted(_ context.Context, _ repository.Tx, cutoff time.Time) ([]*model.BatchJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.BatchJob
	for _, job := range r.jobs {
		if job.Status == model.BatchJobStatusCompleted &&
			job.CompletedAt != nil && job.CompletedAt.Before(cutoff) &&
			job.OutputPath != "" {
			cp := *job
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memJobRepo) ClearOutput(_ context.Context, _ repository.Tx, publicID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job, ok := r.jobs[publicID]; ok {
		job.OutputPath = ""
		job.OutputSize = 0
	}
	return nil
}

func (r *memJobRepo) stored(publicID string) *model.BatchJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job, ok := r.jobs[publicID]; ok {
		cp := *job
		return &cp
	}
	return nil
}

// --- Billing ledger ---

type memLedger struct {
	mu       sync.Mutex
	balances map[string]int64
	charges  []int64
}

func newMemLedger(userID string, balanceCents int64) *memLedger {
	return &memLedger{balances: map[string]int64{userID: balanceCents}}
}

func (l *memLedger) FindAccount(_ context.Context, _ repository.Tx, userID string) (*model.Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	bal, ok := l.balances[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &model.Account{ID: userID, CreditsCents: bal}, nil
}

func (l *memLedger) Charge(_ context.Context, _ repository.Tx, userID string, amountCents int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	bal, ok := l.balances[userID]
	if !ok {
		return domain.ErrNotFound
	}
	if bal < amountCents {
		return domain.ErrInsufficientCredits
	}
	l.balances[userID] = bal - amountCents
	l.charges = append(l.charges, amountCents)
	return nil
}

func (l *memLedger) balance(userID string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[userID]
}

// --- Usage log ---

type memUsage struct {
	mu      sync.Mutex
	entries []*model.UsageEntry
}

func (u *memUsage) Record(_ context.Context, _ repository.Tx, entry *model.UsageEntry) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	cp := *entry
	u.entries = append(u.entries, &cp)
	return nil
}

func (u *memUsage) last() *model.UsageEntry {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.entries) == 0 {
		return nil
	}
	return u.entries[len(u.entries)-1]
}

// --- Transaction manager ---

// mockTxManager runs the function directly with a nil tx, which every mock
// repository accepts.
type mockTxManager struct{}

func (mockTxManager) WithTx(ctx context.Context, _ pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	return fn(ctx, nil)
}

// --- Locker ---

type memLocker struct {
	mu      sync.Mutex
	held    map[string]bool
	locks   int
	unlocks int
	denyAll bool
}

func newMemLocker() *memLocker { return &memLocker{held: map[string]bool{}} }

func (l *memLocker) TryLock(_ context.Context, key string, _ time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.denyAll || l.held[key] {
		return "", domain.ErrLockNotAcquired
	}
	l.held[key] = true
	l.locks++
	return "tok-" + key, nil
}

func (l *memLocker) Unlock(_ context.Context, key, _ string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
	l.unlocks++
	return nil
}

// --- Composer ---

// fakeComposer appends a marker to the source PDF. Failures can be targeted
// by invoice number.
type fakeComposer struct {
	mu     sync.Mutex
	calls  int
	failOn map[string]bool
}

func (c *fakeComposer) Compose(_ context.Context, rec *model.InvoiceRecord, pdf []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.failOn[rec.InvoiceNumber] {
		return nil, fmt.Errorf("composition rejected for %s", rec.InvoiceNumber)
	}
	return append(append([]byte{}, pdf...), []byte("\n%composed")...), nil
}

// --- Fixture builders ---

// writeArchive builds a zip of name→content under dir and returns its path.
func writeArchive(t *testing.T, dir string, entries map[string]string) string {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "archive.zip")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// writeManifest builds a two-column CSV manifest under dir.
func writeManifest(t *testing.T, dir string, rows [][2]string) string {
	t.Helper()
	var b bytes.Buffer
	b.WriteString("filename,invoiceNumber\n")
	for _, row := range rows {
		b.WriteString(row[0] + "," + row[1] + "\n")
	}
	path := filepath.Join(dir, "manifest.csv")
	if err := os.WriteFile(path, b.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}
