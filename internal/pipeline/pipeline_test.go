package pipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invoicesync/internal/config"
	"invoicesync/internal/duplicate"
	"invoicesync/internal/invoice"
	"invoicesync/internal/ledger"
	"invoicesync/internal/report"
	"invoicesync/internal/source"
	"invoicesync/pkg/models"
	"invoicesync/pkg/services"
)

const testSeed = `
vendors:
  - internalId: "501"
    name: Paper Co
accounts:
  - internalId: "229"
    number: "1410"
    name: Prepayments
  - internalId: "300"
    number: "6100"
    name: Office Supplies
locations:
  - internalId: "30"
    name: Sydney
    externalId: SYD
classes:
  - internalId: "20"
    name: Corporate
    externalId: C3
departments:
  - internalId: "10"
    name: "Operations : 200 Finance"
taxItems:
  - internalId: "7"
    itemId: GST
`

type fakeSource struct {
	authErr  error
	fetchErr error
	result   source.FetchResult

	mu    sync.Mutex
	calls []string
}

func (f *fakeSource) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeSource) Authenticate(context.Context) error {
	f.record("auth")
	return f.authErr
}

func (f *fakeSource) FetchAll(_ context.Context, stage string, pageSize int) (source.FetchResult, error) {
	f.record(fmt.Sprintf("fetchAll %s %d", stage, pageSize))
	return f.result, f.fetchErr
}

func (f *fakeSource) ReadyForPost(_ context.Context, entityID string) (source.FetchResult, error) {
	f.record("readyForPost " + entityID)
	return f.result, f.fetchErr
}

func (f *fakeSource) BaseURL() string { return "https://ap.test/api" }

type memoryNotifier struct {
	mu   sync.Mutex
	sent []report.Notification
}

func (m *memoryNotifier) Notify(_ context.Context, n report.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, n)
	return nil
}

type env struct {
	store    *ledger.Store
	notifier *memoryNotifier
	deps     Deps
}

func newEnv(t *testing.T, src Fetcher) *env {
	t.Helper()
	store, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	seed, err := ledger.ParseSeed(strings.NewReader(testSeed))
	require.NoError(t, err)
	_, err = store.ApplySeed(context.Background(), seed)
	require.NoError(t, err)

	notifier := &memoryNotifier{}
	return &env{
		store:    store,
		notifier: notifier,
		deps: Deps{
			Source:     src,
			Ledger:     store,
			Duplicates: duplicate.NewDetector(store),
			Builder:    invoice.NewBuilder(store, invoice.DefaultConfig()),
			Reporter:   report.NewReporter(store, report.Options{Notifier: notifier, Recipients: []string{"ap@x.test"}}),
		},
	}
}

func line(glCode, subtotal, taxCode string) models.SourceLine {
	d := decimal.RequireFromString(subtotal)
	return models.SourceLine{
		GLCode:      glCode,
		Description: "Printer paper",
		Quantity:    decimal.NewFromInt(1),
		UnitCost:    d,
		Subtotal:    d,
		Total:       d,
		TaxCode:     taxCode,
	}
}

func sourceInvoice(id int64, lines ...models.SourceLine) models.SourceInvoice {
	return models.SourceInvoice{
		ID:            id,
		InvoiceNumber: fmt.Sprintf("INV-%d", id),
		DueDate:       "2024-05-31",
		SupplierName:  "Paper Co",
		Stage:         models.StageFinalReview,
		Lines:         lines,
	}
}

func fetched(invoices ...models.SourceInvoice) source.FetchResult {
	return source.FetchResult{
		Invoices: invoices,
		Pages:    1,
		Meta:     source.RequestMeta{Method: "GET", Code: 200, URL: "https://ap.test/api/Invoice"},
	}
}

func TestRunMixedBatch(t *testing.T) {
	src := &fakeSource{result: fetched(
		sourceInvoice(1, line("6100-SYD-C3-Finance", "25.00", "GST")),
		sourceInvoice(2, line("6100-SYD-C3-Finance", "10.00", "GST")),
		sourceInvoice(3, line("6100-SYD-C3-Finance", "-5.00", "VAT")),
	)}
	e := newEnv(t, src)
	ctx := context.Background()

	existing := &services.Transaction{
		Kind:       services.KindBill,
		TranID:     "INV-2",
		Supplier:   "Paper Co",
		TranDate:   time.Now(),
		ExternalID: "2",
		Lines: []services.TransactionLine{
			{Account: "300", Quantity: decimal.NewFromInt(1), Rate: decimal.NewFromInt(10), Amount: decimal.NewFromInt(10)},
		},
	}
	existingID, err := e.store.SaveTransaction(ctx, existing)
	require.NoError(t, err)

	var progress []int
	var mu sync.Mutex
	p := New(e.deps, Options{Workers: 2, PageSize: 500, Progress: func(done, total int, _ models.Outcome) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, 3, total)
		progress = append(progress, done)
	}})

	summary, err := p.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"auth", "fetchAll FinalReview 500"}, src.calls)
	assert.ElementsMatch(t, []int{1, 2, 3}, progress)

	assert.Equal(t, models.ExecutionSummary{TotalProcessed: 3, Successful: 1, Failed: 1, Skipped: 1}, summary.Counts)
	assert.Equal(t, models.StatusPartial, summary.Status)

	require.Len(t, summary.Outcomes, 3)
	assert.Equal(t, models.OutcomeSuccessful, summary.Outcomes[0].Kind)
	assert.Equal(t, "Vendor Bill", summary.Outcomes[0].RecordType)

	assert.Equal(t, models.OutcomeSkipped, summary.Outcomes[1].Kind)
	assert.Equal(t, DuplicateReason, summary.Outcomes[1].Reason)
	assert.Equal(t, existingID, summary.Outcomes[1].ExistingRecordID)

	assert.Equal(t, models.OutcomeFailed, summary.Outcomes[2].Kind)
	assert.Equal(t, "Vendor Credit", summary.Outcomes[2].RecordType)
	assert.Contains(t, summary.Outcomes[2].Error, "Tax code not found: VAT")

	saved, err := e.store.FindTransaction(ctx, services.KindBill, "1")
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, summary.Outcomes[0].InternalID, saved.InternalID)

	require.NotEmpty(t, summary.AuditID)
	rec, err := e.store.GetAudit(ctx, summary.AuditID)
	require.NoError(t, err)
	assert.Equal(t, summary.RunID, rec.RunID)
	assert.Equal(t, models.StatusPartial, rec.Status)
	assert.Equal(t, "https://ap.test/api/Invoice", rec.RequestURL)
	assert.Len(t, rec.ResponseBody.FailedInvoices, 1)

	require.Len(t, e.notifier.sent, 1)
	assert.Contains(t, e.notifier.sent[0].Subject, "Partial")
}

func TestRunSecondPassSkipsEverything(t *testing.T) {
	src := &fakeSource{result: fetched(
		sourceInvoice(11, line("6100-SYD-C3-Finance", "25.00", "GST")),
		sourceInvoice(12, line("6100-SYD-C3-Finance", "-4.00", "")),
	)}
	e := newEnv(t, src)
	p := New(e.deps, Options{})

	first, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, first.Counts.Successful)

	second, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, second.Counts.Skipped)
	assert.Equal(t, "Vendor Credit", second.Outcomes[1].ExistingRecordType)
	assert.NotEqual(t, first.RunID, second.RunID)
}

func TestRunEmptyBatch(t *testing.T) {
	src := &fakeSource{result: fetched()}
	e := newEnv(t, src)

	summary, err := New(e.deps, Options{}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.StatusSuccess, summary.Status)
	assert.Zero(t, summary.Counts.TotalProcessed)
	assert.NotEmpty(t, summary.AuditID)
	assert.Empty(t, e.notifier.sent)
}

func TestRunRejectedInvoicesFailTheBatch(t *testing.T) {
	result := fetched(sourceInvoice(21, line("6100-SYD-C3-Finance", "25.00", "GST")))
	result.Rejected = []source.RejectedInvoice{
		{ID: "22", InvoiceNumber: "INV-22", Reason: "cannot decode lines"},
	}
	src := &fakeSource{result: result}
	e := newEnv(t, src)

	summary, err := New(e.deps, Options{}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionSummary{TotalProcessed: 2, Successful: 1, Failed: 1}, summary.Counts)
	assert.Equal(t, models.StatusPartial, summary.Status)
	require.Len(t, summary.Outcomes, 2)
	assert.Equal(t, "22", summary.Outcomes[1].InvoiceID)
	assert.Contains(t, summary.Outcomes[1].Error, "cannot decode lines")
	require.Len(t, e.notifier.sent, 1)
}

func TestRunOnlyRejectedInvoices(t *testing.T) {
	result := fetched()
	result.Rejected = []source.RejectedInvoice{{ID: "31", Reason: "bad id"}}
	src := &fakeSource{result: result}
	e := newEnv(t, src)

	summary, err := New(e.deps, Options{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, summary.Status)
	assert.Equal(t, 1, summary.Counts.Failed)
}

func TestRunAuthenticationFailure(t *testing.T) {
	authErr := &source.APIError{Op: "Authenticate", Err: source.ErrUnauthorized, StatusCode: 401}
	src := &fakeSource{authErr: authErr}
	e := newEnv(t, src)

	summary, err := New(e.deps, Options{}).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthentication)
	assert.ErrorIs(t, err, source.ErrUnauthorized)
	assert.Equal(t, []string{"auth"}, src.calls)

	assert.Equal(t, models.StatusFailed, summary.Status)
	rec, err := e.store.GetAudit(context.Background(), summary.AuditID)
	require.NoError(t, err)
	assert.Equal(t, "POST", rec.RequestMethod)
	assert.Equal(t, 401, rec.ResponseCode)
	assert.Equal(t, "https://ap.test/api/Auth/Client", rec.RequestURL)
	assert.Zero(t, rec.ExecutionSummary.TotalProcessed)
	require.Len(t, e.notifier.sent, 1)
}

func TestRunFetchFailure(t *testing.T) {
	src := &fakeSource{fetchErr: errors.New("connection refused")}
	e := newEnv(t, src)

	summary, err := New(e.deps, Options{}).Run(context.Background())
	assert.ErrorIs(t, err, ErrFetch)
	assert.Equal(t, models.StatusFailed, summary.Status)
	assert.NotEmpty(t, summary.AuditID)
}

type failingSearcher struct{}

func (failingSearcher) Search(context.Context, services.Query) iter.Seq2[services.ReferenceRecord, error] {
	return func(yield func(services.ReferenceRecord, error) bool) {
		yield(services.ReferenceRecord{}, errors.New("ledger unavailable"))
	}
}

func TestRunLookupFailure(t *testing.T) {
	src := &fakeSource{result: fetched(sourceInvoice(1, line("6100", "1.00", "")))}
	e := newEnv(t, src)
	e.deps.Ledger = failingSearcher{}

	summary, err := New(e.deps, Options{}).Run(context.Background())
	assert.ErrorIs(t, err, ErrLookup)

	rec, err := e.store.GetAudit(context.Background(), summary.AuditID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, rec.Status)
	assert.Contains(t, rec.ErrorMessage, "ledger unavailable")
	assert.Equal(t, "https://ap.test/api/Invoice", rec.RequestURL)
}

func TestRunReadyForPostMode(t *testing.T) {
	src := &fakeSource{result: fetched()}
	e := newEnv(t, src)

	_, err := New(e.deps, Options{Mode: config.ModeReadyForPost, EntityID: "77"}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"auth", "readyForPost 77"}, src.calls)
}

type panickyBuilder struct {
	panicOn int64
}

func (b panickyBuilder) Build(_ context.Context, inv models.SourceInvoice, _ invoice.Lookup) models.Outcome {
	if inv.ID == b.panicOn {
		panic("nil line")
	}
	return models.Successful(inv, "Vendor Bill", fmt.Sprint(inv.ID*10), nil)
}

func TestRunRecoversPanicsAndKeepsOrder(t *testing.T) {
	var invoices []models.SourceInvoice
	for i := int64(1); i <= 40; i++ {
		invoices = append(invoices, sourceInvoice(i, line("6100", "1.00", "")))
	}
	src := &fakeSource{result: fetched(invoices...)}
	e := newEnv(t, src)
	e.deps.Builder = panickyBuilder{panicOn: 17}

	summary, err := New(e.deps, Options{Workers: 5}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 39, summary.Counts.Successful)
	assert.Equal(t, 1, summary.Counts.Failed)
	for i, o := range summary.Outcomes {
		assert.Equal(t, fmt.Sprint(i+1), o.InvoiceID)
	}
	assert.Equal(t, "unexpected error: nil line", summary.Outcomes[16].Error)
}

func TestGetNumWorkers(t *testing.T) {
	t.Setenv("BATCH_WORKERS", "")
	assert.Equal(t, DefaultWorkers, getNumWorkers(0))
	assert.Equal(t, 4, getNumWorkers(4))

	t.Setenv("BATCH_WORKERS", "3")
	assert.Equal(t, 3, getNumWorkers(0))

	t.Setenv("BATCH_WORKERS", "zero")
	assert.Equal(t, DefaultWorkers, getNumWorkers(0))
}
