// Package pipeline runs one ingestion batch: authenticate against the source,
// fetch invoices, build the lookup cache, record every invoice in the ledger
// through a worker pool and write the audit record.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"invoicesync/internal/config"
	"invoicesync/internal/duplicate"
	"invoicesync/internal/invoice"
	"invoicesync/internal/logger"
	"invoicesync/internal/lookup"
	"invoicesync/internal/report"
	"invoicesync/internal/source"
	"invoicesync/pkg/models"
)

// DefaultWorkers is used when neither Options.Workers nor BATCH_WORKERS is set.
const DefaultWorkers = 12

// DuplicateReason is the skip reason of an invoice already in the ledger.
const DuplicateReason = "Duplicate invoice already exists in ledger"

var (
	ErrAuthentication = errors.New("authentication failed")
	ErrFetch          = errors.New("invoice retrieval failed")
	ErrLookup         = errors.New("lookup cache load failed")
	ErrAudit          = errors.New("audit record could not be written")
)

// Fetcher is the part of the source client a batch needs.
type Fetcher interface {
	Authenticate(ctx context.Context) error
	FetchAll(ctx context.Context, stage string, pageSize int) (source.FetchResult, error)
	ReadyForPost(ctx context.Context, entityID string) (source.FetchResult, error)
	BaseURL() string
}

// DuplicateChecker reports whether an invoice is already recorded.
type DuplicateChecker interface {
	Check(ctx context.Context, externalID string) duplicate.Result
}

// TransactionBuilder records one invoice.
type TransactionBuilder interface {
	Build(ctx context.Context, inv models.SourceInvoice, lookup invoice.Lookup) models.Outcome
}

// Reporter writes audit records.
type Reporter interface {
	Report(ctx context.Context, s *report.Summary, req report.Request) (*models.AuditRecord, error)
	ReportFailure(ctx context.Context, runID string, req report.Request, recordType string, cause error) (*models.AuditRecord, error)
}

// Options selects what a batch fetches and how wide it fans out.
type Options struct {
	Mode     string // config.ModeAll or config.ModeReadyForPost
	Stage    string
	EntityID string
	PageSize int
	Workers  int

	// Progress, when set, is called after every invoice.
	Progress func(done, total int, o models.Outcome)
}

// Deps are the collaborators of a Pipeline.
type Deps struct {
	Source     Fetcher
	Ledger     lookup.Searcher
	Duplicates DuplicateChecker
	Builder    TransactionBuilder
	Reporter   Reporter
}

// Pipeline runs batches. It holds no per-run state and may be reused.
type Pipeline struct {
	deps Deps
	opts Options
	now  func() time.Time
}

func New(deps Deps, opts Options) *Pipeline {
	if opts.Mode == "" {
		opts.Mode = config.ModeAll
	}
	if opts.Stage == "" {
		opts.Stage = models.StageFinalReview
	}
	return &Pipeline{deps: deps, opts: opts, now: time.Now}
}

// WorkerJob is one invoice handed to the pool.
type WorkerJob struct {
	Invoice models.SourceInvoice
	Index   int
}

// Run executes one batch. Batch-level failures (authentication, retrieval,
// lookup cache) are written as a Failed audit record and returned as an error
// together with the summary; per-invoice failures only show up in the summary.
func (p *Pipeline) Run(ctx context.Context) (*report.Summary, error) {
	const op = "Run"

	runID := uuid.NewString()
	log := logger.WithRunID("pipeline", runID)
	started := p.now()

	log.Info().
		Str("mode", p.opts.Mode).
		Str("stage", p.opts.Stage).
		Str("entity_id", p.opts.EntityID).
		Msg("Starting invoice sync")

	if err := p.deps.Source.Authenticate(ctx); err != nil {
		req := report.Request{
			Method: http.MethodPost,
			Code:   statusOr(err, http.StatusUnauthorized),
			URL:    p.deps.Source.BaseURL() + "/Auth/Client",
		}
		return p.fail(ctx, log, runID, started, req, fmt.Errorf("%s: %w: %w", op, ErrAuthentication, err))
	}

	fetched, err := p.fetch(ctx)
	if err != nil {
		req := report.Request{
			Method: http.MethodGet,
			Code:   source.StatusCode(err),
			URL:    p.deps.Source.BaseURL() + "/Invoice",
		}
		return p.fail(ctx, log, runID, started, req, fmt.Errorf("%s: %w: %w", op, ErrFetch, err))
	}
	req := report.Request(fetched.Meta)

	log.Info().
		Int("invoices", len(fetched.Invoices)).
		Int("pages", fetched.Pages).
		Int("rejected", len(fetched.Rejected)).
		Bool("partial", fetched.Partial).
		Bool("truncated", fetched.Truncated).
		Msg("Invoices retrieved")

	var outcomes []models.Outcome
	if len(fetched.Invoices) > 0 {
		cache, err := lookup.Build(ctx, p.deps.Ledger)
		if err != nil {
			return p.fail(ctx, log, runID, started, req, fmt.Errorf("%s: %w: %w", op, ErrLookup, err))
		}

		numWorkers := getNumWorkers(p.opts.Workers)
		log.Info().
			Int("invoices", len(fetched.Invoices)).
			Int("workers", numWorkers).
			Msg("Processing invoices")

		outcomes = p.processInParallel(ctx, fetched.Invoices, cache, numWorkers, log)
	} else if len(fetched.Rejected) == 0 {
		log.Info().Msg("No invoices to process")
	}
	for _, r := range fetched.Rejected {
		outcomes = append(outcomes, r.Outcome())
	}

	summary := report.Aggregate(runID, outcomes)
	summary.StartedAt = started
	summary.FinishedAt = p.now()
	summary.Partial = fetched.Partial
	summary.Truncated = fetched.Truncated

	if _, err := p.deps.Reporter.Report(ctx, &summary, req); err != nil {
		return &summary, fmt.Errorf("%s: %w: %w", op, ErrAudit, err)
	}

	log.Info().
		Str("status", summary.Status).
		Str("audit_id", summary.AuditID).
		Int("total", summary.Counts.TotalProcessed).
		Int("successful", summary.Counts.Successful).
		Int("failed", summary.Counts.Failed).
		Int("skipped", summary.Counts.Skipped).
		Dur("duration", summary.FinishedAt.Sub(started)).
		Msg("Invoice sync completed")

	return &summary, nil
}

func (p *Pipeline) fetch(ctx context.Context) (source.FetchResult, error) {
	if p.opts.Mode == config.ModeReadyForPost {
		return p.deps.Source.ReadyForPost(ctx, p.opts.EntityID)
	}
	return p.deps.Source.FetchAll(ctx, p.opts.Stage, p.opts.PageSize)
}

// fail records a batch that stopped before any invoice was processed.
func (p *Pipeline) fail(ctx context.Context, log zerolog.Logger, runID string, started time.Time, req report.Request, cause error) (*report.Summary, error) {
	log.Error().Err(cause).Msg("Invoice sync failed")

	summary := report.Aggregate(runID, nil)
	summary.Status = models.StatusFailed
	summary.StartedAt = started
	summary.FinishedAt = p.now()

	rec, err := p.deps.Reporter.ReportFailure(ctx, runID, req, "", cause)
	if err != nil {
		log.Error().Err(err).Msg("Failed to write audit record for failed batch")
		return &summary, errors.Join(cause, fmt.Errorf("%w: %w", ErrAudit, err))
	}
	summary.AuditID = rec.ID
	return &summary, cause
}

// getNumWorkers returns n when positive, otherwise BATCH_WORKERS or the default.
func getNumWorkers(n int) int {
	if n > 0 {
		return n
	}
	if workersStr := os.Getenv("BATCH_WORKERS"); workersStr != "" {
		if workers, err := strconv.Atoi(workersStr); err == nil && workers > 0 {
			return workers
		}
	}
	return DefaultWorkers
}

// processInParallel records invoices using a worker pool. Each worker writes
// only the outcome slot of its job's index, so results keep the fetch order.
func (p *Pipeline) processInParallel(ctx context.Context, invoices []models.SourceInvoice, cache *lookup.Cache, numWorkers int, log zerolog.Logger) []models.Outcome {
	if numWorkers > len(invoices) {
		numWorkers = len(invoices)
	}

	jobs := make(chan WorkerJob, len(invoices))
	results := make([]models.Outcome, len(invoices))

	var processedCount int
	var mu sync.Mutex

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()

			for job := range jobs {
				log.Debug().
					Int("worker", workerID).
					Str("invoice_id", job.Invoice.ExternalID()).
					Int("index", job.Index+1).
					Msg("Worker processing invoice")

				result := p.processSingleInvoice(ctx, job.Invoice, cache, log)
				results[job.Index] = result

				if p.opts.Progress != nil {
					mu.Lock()
					processedCount++
					p.opts.Progress(processedCount, len(invoices), result)
					mu.Unlock()
				}
			}
		}(w)
	}

	for i, inv := range invoices {
		jobs <- WorkerJob{Invoice: inv, Index: i}
	}
	close(jobs)

	wg.Wait()

	return results
}

// processSingleInvoice skips duplicates and builds everything else. A panic
// becomes a Failed outcome for this invoice only.
func (p *Pipeline) processSingleInvoice(ctx context.Context, inv models.SourceInvoice, cache *lookup.Cache, log zerolog.Logger) (outcome models.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("invoice_id", inv.ExternalID()).
				Msg("Recovered from panic while processing invoice")
			outcome = models.Failed(inv, models.SelectVariant(inv).RecordType(), fmt.Sprintf("unexpected error: %v", r))
		}
	}()

	if dup := p.deps.Duplicates.Check(ctx, inv.ExternalID()); dup.IsDuplicate {
		log.Info().
			Str("invoice_id", inv.ExternalID()).
			Str("invoice_number", inv.InvoiceNumber).
			Str("existing_type", dup.RecordType).
			Str("existing_id", dup.InternalID).
			Msg("Skipping duplicate invoice")
		return models.Skipped(inv, DuplicateReason, dup.RecordType, dup.InternalID)
	}

	return p.deps.Builder.Build(ctx, inv, cache)
}

func statusOr(err error, fallback int) int {
	if code := source.StatusCode(err); code != 0 {
		return code
	}
	return fallback
}
