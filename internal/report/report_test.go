package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"invoicesync/pkg/models"
)

func invoice(id int64) models.SourceInvoice {
	return models.SourceInvoice{ID: id, InvoiceNumber: fmt.Sprintf("INV-%d", id)}
}

func outcomes(successful, failed, skipped int) []models.Outcome {
	var out []models.Outcome
	id := int64(1)
	for i := 0; i < successful; i++ {
		out = append(out, models.Successful(invoice(id), "Vendor Bill", fmt.Sprint(100+id), nil))
		id++
	}
	for i := 0; i < failed; i++ {
		out = append(out, models.Failed(invoice(id), "Vendor Credit", "Tax code not found: X"))
		id++
	}
	for i := 0; i < skipped; i++ {
		out = append(out, models.Skipped(invoice(id), "Duplicate invoice already exists in ledger", "Vendor Bill", "77"))
		id++
	}
	return out
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		name               string
		successful, failed int
		want               string
	}{
		{"all successful", 3, 0, models.StatusSuccess},
		{"mixed", 3, 2, models.StatusPartial},
		{"all failed", 0, 3, models.StatusFailed},
		{"empty batch", 0, 0, models.StatusSuccess},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusOf(tt.successful, tt.failed))
		})
	}
}

func TestAggregate(t *testing.T) {
	s := Aggregate("run-1", outcomes(2, 1, 1))

	assert.Equal(t, models.ExecutionSummary{TotalProcessed: 4, Successful: 2, Failed: 1, Skipped: 1}, s.Counts)
	assert.Equal(t, models.StatusPartial, s.Status)
	assert.Equal(t, "Vendor Bill, Vendor Credit", s.RecordTypes())
	assert.Equal(t, []string{
		"Invoice #INV-3 (ID: 3): Tax code not found: X",
		"Invoice #INV-4 (ID: 4): Duplicate invoice already exists in ledger (Existing Record: 77)",
	}, s.ErrorMessages())

	rec := s.AuditRecord(Request{Method: "GET", Code: 200, URL: "https://ap.test/api/Invoice"})
	assert.Equal(t, "run-1", rec.RunID)
	assert.Equal(t, "GET", rec.RequestMethod)
	assert.Len(t, rec.ResponseBody.SuccessfulInvoices, 2)
	assert.Len(t, rec.ResponseBody.FailedInvoices, 1)
	assert.Len(t, rec.ResponseBody.SkippedInvoices, 1)
	assert.Equal(t, 2, strings.Count(rec.ErrorMessage, "Invoice #"))
	assert.Contains(t, rec.ErrorMessage, "\n\n")
}

func TestParseRecipients(t *testing.T) {
	assert.Equal(t, []string{"a@x.test", "b@x.test"}, ParseRecipients(" a@x.test, ,b@x.test,"))
	assert.Nil(t, ParseRecipients(""))
}

func TestSubject(t *testing.T) {
	rec := &models.AuditRecord{Status: models.StatusFailed}
	assert.Equal(t, "[Ledger Integration] Failed - Integration Sync Error", Subject("[Ledger Integration]", rec))

	rec.RecordType = "Vendor Bill"
	rec.Status = models.StatusPartial
	assert.Equal(t, "[AP] Partial - Vendor Bill Sync Error", Subject("[AP]", rec))
}

func TestRenderEmailCapsLists(t *testing.T) {
	s := Aggregate("run-2", outcomes(1, 12, 0))
	rec := s.AuditRecord(Request{Method: "GET", Code: 200, URL: "https://ap.test/api/Invoice"})
	rec.ID = "audit-9"

	html, err := RenderEmail(rec, "http://localhost:8080/api/v1/audit/audit-9")
	require.NoError(t, err)

	assert.Equal(t, MaxErrorsInEmail, strings.Count(html, "<li>"))
	assert.Contains(t, html, "... and 2 more errors. See integration log for full details.")
	assert.Contains(t, html, "Showing 5 of 12 failed invoices.")
	assert.Equal(t, MaxFailedRowsInEmail, strings.Count(html, "<tr><td>INV-"))
	assert.Contains(t, html, `href="http://localhost:8080/api/v1/audit/audit-9"`)
	assert.Contains(t, html, "Log record ID: audit-9")
}

func TestRenderEmailBatchFailure(t *testing.T) {
	rec := FailureRecord("run-3", Request{Method: "GET", Code: 401}, "", errors.New("401 unauthorized"))

	html, err := RenderEmail(rec, "")
	require.NoError(t, err)
	assert.Contains(t, html, "<li>401 unauthorized</li>")
	assert.NotContains(t, html, "more errors")
	assert.NotContains(t, html, "View Integration Log")
}

type memorySink struct {
	saved []*models.AuditRecord
	err   error
}

func (m *memorySink) SaveAudit(_ context.Context, rec *models.AuditRecord) error {
	if m.err != nil {
		return m.err
	}
	rec.ID = fmt.Sprintf("audit-%d", len(m.saved)+1)
	m.saved = append(m.saved, rec)
	return nil
}

type memoryNotifier struct {
	sent []Notification
	err  error
}

func (m *memoryNotifier) Notify(_ context.Context, n Notification) error {
	m.sent = append(m.sent, n)
	return m.err
}

type memoryExporter struct {
	exported []string
}

func (m *memoryExporter) Export(_ context.Context, rec *models.AuditRecord) error {
	m.exported = append(m.exported, rec.ID)
	return nil
}

func TestReporterCleanBatchDoesNotNotify(t *testing.T) {
	sink := &memorySink{}
	notifier := &memoryNotifier{}
	exporter := &memoryExporter{}
	r := NewReporter(sink, Options{Notifier: notifier, Recipients: []string{"ap@x.test"}, Exporters: []Exporter{exporter}})

	s := Aggregate("run-4", outcomes(3, 0, 0))
	rec, err := r.Report(context.Background(), &s, Request{Method: "GET", Code: 200})
	require.NoError(t, err)

	assert.Equal(t, "audit-1", rec.ID)
	assert.Equal(t, "audit-1", s.AuditID)
	assert.Len(t, sink.saved, 1)
	assert.Empty(t, notifier.sent)
	assert.Equal(t, []string{"audit-1"}, exporter.exported)
}

func TestReporterNotifiesOnSkips(t *testing.T) {
	notifier := &memoryNotifier{}
	r := NewReporter(&memorySink{}, Options{
		Notifier:   notifier,
		Recipients: []string{"ap@x.test"},
		PublicURL:  "http://ledger.test/",
	})

	s := Aggregate("run-5", outcomes(2, 0, 1))
	_, err := r.Report(context.Background(), &s, Request{Method: "GET", Code: 200})
	require.NoError(t, err)

	require.Len(t, notifier.sent, 1)
	n := notifier.sent[0]
	assert.Equal(t, "[Ledger Integration] Success - Vendor Bill Sync Error", n.Subject)
	assert.Contains(t, n.HTML, "http://ledger.test/api/v1/audit/audit-1")
}

func TestReporterNotificationFailureIsNotFatal(t *testing.T) {
	r := NewReporter(&memorySink{}, Options{
		Notifier:   &memoryNotifier{err: errors.New("smtp down")},
		Recipients: []string{"ap@x.test"},
	})

	_, err := r.ReportFailure(context.Background(), "run-6", Request{}, "", errors.New("lookup failed"))
	assert.NoError(t, err)
}

func TestReporterSaveFailure(t *testing.T) {
	notifier := &memoryNotifier{}
	r := NewReporter(&memorySink{err: errors.New("disk full")}, Options{Notifier: notifier, Recipients: []string{"ap@x.test"}})

	s := Aggregate("run-7", outcomes(0, 1, 0))
	_, err := r.Report(context.Background(), &s, Request{})
	require.Error(t, err)
	assert.Empty(t, notifier.sent)
}

func TestWriteWorkbook(t *testing.T) {
	s := Aggregate("run-8", outcomes(1, 2, 1))
	rec := s.AuditRecord(Request{Method: "GET", Code: 200, URL: "https://ap.test/api/Invoice"})
	rec.ID = "audit-8"

	var buf bytes.Buffer
	require.NoError(t, WriteWorkbook(rec, &buf))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"Summary", "Successful", "Failed", "Skipped"}, f.GetSheetList())

	status, err := f.GetCellValue("Summary", "B3")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPartial, status)

	rows, err := f.GetRows("Failed")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Tax code not found: X", rows[1][4])
}
