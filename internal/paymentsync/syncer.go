// Package paymentsync reports bills paid in the ledger back to the
// accounts-payable API.
//
// For one vendor payment the Syncer marks every eligible bill's source invoice
// as paid, then sets its posting status, then stamps the bill's sync fields.
// Every attempt that reaches the source writes one audit record.
package paymentsync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"invoicesync/internal/logger"
	"invoicesync/internal/source"
	"invoicesync/pkg/models"
	"invoicesync/pkg/services"
)

// SyncStatusSynced is written to a bill once the source has been updated.
const SyncStatusSynced = 1

var (
	ErrAuthentication = errors.New("authentication failed")
	ErrMarkPaid       = errors.New("marking invoices paid failed")
	ErrPostingStatus  = errors.New("posting status update failed")
)

// Source is the part of the source client payment sync needs.
type Source interface {
	Authenticate(ctx context.Context) error
	SetInvoicePaid(ctx context.Context, updates []source.PaidUpdate) ([]source.MutationResult, error)
	SetInvoicePostingStatus(ctx context.Context, updates []source.PostingStatusUpdate) ([]source.MutationResult, error)
	BaseURL() string
}

// Ledger is the part of the ledger payment sync reads and writes.
type Ledger interface {
	LoadPayment(ctx context.Context, internalID string) (*services.Payment, error)
	LoadTransaction(ctx context.Context, kind services.RecordKind, internalID string) (*services.Transaction, error)
	UpdateSyncFields(ctx context.Context, kind services.RecordKind, internalID string, fields services.SyncFields) error
}

// Publisher writes audit records.
type Publisher interface {
	Publish(ctx context.Context, rec *models.AuditRecord) error
}

// Bill is a paid bill whose source invoice will be updated.
type Bill struct {
	InternalID string    `json:"billId"`
	Number     string    `json:"billNumber"`
	InvoiceID  int64     `json:"invoiceId"`
	PaidAt     time.Time `json:"paidDate"`
}

// Result describes one payment sync. Status is empty when nothing was eligible.
type Result struct {
	PaymentID string `json:"paymentId"`
	Status    string `json:"status,omitempty"`
	Bills     []Bill `json:"bills"`
	Synced    int    `json:"synced"`
	AuditID   string `json:"auditId,omitempty"`
}

type Syncer struct {
	source    Source
	ledger    Ledger
	publisher Publisher
	now       func() time.Time
	log       zerolog.Logger
}

func NewSyncer(src Source, ledger Ledger, publisher Publisher) *Syncer {
	return &Syncer{
		source:    src,
		ledger:    ledger,
		publisher: publisher,
		now:       time.Now,
		log:       logger.WithComponent("paymentsync"),
	}
}

// SyncPayment pushes the paid state of every eligible bill of a payment to
// the source. An error is returned when the payment cannot be loaded, when
// authentication fails or when the source rejects the credentials midway; the
// outcome of every other attempt is carried by Result.Status.
func (s *Syncer) SyncPayment(ctx context.Context, paymentID string) (Result, error) {
	const op = "SyncPayment"

	runID := uuid.NewString()
	log := s.log.With().Str("payment_id", paymentID).Str("run_id", runID).Logger()
	result := Result{PaymentID: paymentID}

	payment, err := s.ledger.LoadPayment(ctx, paymentID)
	if err != nil {
		return result, fmt.Errorf("%s: %w", op, err)
	}

	bills := s.eligibleBills(ctx, payment, log)
	result.Bills = bills
	if len(bills) == 0 {
		log.Debug().Msg("No bills created from the source were paid in full with this payment")
		return result, nil
	}

	log.Info().Int("bills", len(bills)).Msg("Syncing paid bills to source")

	if err := s.source.Authenticate(ctx); err != nil {
		rec := s.record(runID, http.MethodPost, http.StatusUnauthorized, "Authentication Endpoint")
		rec.failAll(bills, "Authentication failed - Could not retrieve token")
		rec.Status = models.StatusFailed
		rec.ErrorMessage = "Authentication Failed: Could not retrieve token for payment ID: " + paymentID
		s.publish(ctx, &result, rec.AuditRecord, log)

		log.Error().Err(err).Msg("Authentication failed")
		return result, fmt.Errorf("%s: %w: %w", op, ErrAuthentication, err)
	}

	if ok, err := s.markPaid(ctx, &result, runID, bills, log); !ok {
		if err != nil {
			return result, fmt.Errorf("%s: %w", op, err)
		}
		return result, nil
	}

	if err := s.postAndStamp(ctx, &result, runID, bills, log); err != nil {
		return result, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// eligibleBills loads every applied bill and keeps those created from the
// source, paid in full and carrying a source id. Bills that fail to load are
// logged and left out.
func (s *Syncer) eligibleBills(ctx context.Context, payment *services.Payment, log zerolog.Logger) []Bill {
	var bills []Bill
	for _, app := range payment.Applied {
		if !app.Applied {
			continue
		}

		tx, err := s.ledger.LoadTransaction(ctx, services.KindBill, app.TransactionID)
		if err != nil {
			log.Error().Err(err).Str("bill_id", app.TransactionID).Msg("Error loading bill")
			continue
		}

		log.Debug().
			Str("bill_id", tx.InternalID).
			Str("status", tx.Status).
			Bool("created_from_source", tx.CreatedFromSource).
			Str("external_id", tx.ExternalID).
			Msg("Bill details")

		if !tx.CreatedFromSource || tx.Status != services.StatusPaidInFull || tx.ExternalID == "" {
			continue
		}
		invoiceID, err := strconv.ParseInt(tx.ExternalID, 10, 64)
		if err != nil {
			log.Warn().Str("bill_id", tx.InternalID).Str("external_id", tx.ExternalID).Msg("Bill external id is not a source invoice id")
			continue
		}

		paidAt := s.now()
		if tx.SyncDate != nil {
			paidAt = *tx.SyncDate
		}
		bills = append(bills, Bill{
			InternalID: tx.InternalID,
			Number:     tx.TranID,
			InvoiceID:  invoiceID,
			PaidAt:     paidAt,
		})
	}
	return bills
}

// markPaid reports whether every invoice was confirmed paid. Otherwise the
// audit record has been written and sync stops.
func (s *Syncer) markPaid(ctx context.Context, result *Result, runID string, bills []Bill, log zerolog.Logger) (bool, error) {
	updates := make([]source.PaidUpdate, len(bills))
	for i, b := range bills {
		updates[i] = source.NewPaidUpdate(b.InvoiceID, b.PaidAt)
	}

	url := s.source.BaseURL() + "/Invoice/SetInvoicePaid"
	results, err := s.source.SetInvoicePaid(ctx, updates)
	if err != nil || !anyAccepted(results) {
		rec := s.record(runID, http.MethodPost, responseCode(results, err), url)
		rec.failAll(bills, "SetInvoicePaid API call failed")
		rec.Status = models.StatusFailed
		rec.ErrorMessage = "SetInvoicePaid Failed for Payment ID: " + result.PaymentID + describe(err)
		s.publish(ctx, result, rec.AuditRecord, log)

		log.Error().Err(err).Msg("SetInvoicePaid failed")
		if err != nil {
			return false, fmt.Errorf("%w: %w", ErrMarkPaid, err)
		}
		return false, nil
	}

	byInvoice := billsByInvoice(bills)
	rec := s.record(runID, http.MethodPost, responseCode(results, nil), url)
	for _, r := range results {
		if r.OK() {
			continue
		}
		b := byInvoice[r.InvoiceID]
		rec.fail(b, fmt.Sprintf("Payment status update failed - Status Code: %d, Response: %s", r.StatusCode, responseText(r)))
		log.Error().
			Int64("invoice_id", r.InvoiceID).
			Int("status", r.StatusCode).
			Str("response", responseText(r)).
			Msg("Invoice payment update not fully successful")
	}

	if failed := len(rec.ResponseBody.FailedInvoices); failed > 0 {
		rec.ExecutionSummary.Successful = len(bills) - failed
		rec.ExecutionSummary.TotalProcessed = len(bills)
		rec.Status = models.StatusPartial
		rec.ErrorMessage = fmt.Sprintf("Failed to mark %d invoice(s) as paid for Payment ID: %s", failed, result.PaymentID)
		s.publish(ctx, result, rec.AuditRecord, log)

		log.Error().Int("failed", failed).Msg("Skipping posting status update, not all invoices were marked as paid")
		return false, nil
	}

	log.Info().Int("bills", len(bills)).Msg("All invoices marked as paid, updating posting status")
	return true, nil
}

// postAndStamp sets the posting status of every invoice and stamps the bills'
// sync fields.
func (s *Syncer) postAndStamp(ctx context.Context, result *Result, runID string, bills []Bill, log zerolog.Logger) error {
	updates := make([]source.PostingStatusUpdate, len(bills))
	for i, b := range bills {
		updates[i] = source.PostingStatusUpdate{
			InvoiceID:     b.InvoiceID,
			Status:        source.PostingStatusPosted,
			PostingNumber: b.InternalID,
			Message: fmt.Sprintf("Paid In Full in ledger - Bill ID: %s, Bill Number: %s, Payment ID: %s",
				b.InternalID, b.Number, result.PaymentID),
		}
	}

	url := s.source.BaseURL() + "/Invoice/SetInvoicePostingStatus"
	results, err := s.source.SetInvoicePostingStatus(ctx, updates)
	if err != nil || !anyAccepted(results) {
		rec := s.record(runID, http.MethodPost, responseCode(results, err), url)
		rec.failAll(bills, "Posting status update failed")
		rec.Status = models.StatusFailed
		rec.ErrorMessage = "Posting Status Update Failed for Payment ID: " + result.PaymentID + describe(err)
		s.publish(ctx, result, rec.AuditRecord, log)

		log.Error().Err(err).Msg("Posting status update failed")
		if err != nil {
			return fmt.Errorf("%w: %w", ErrPostingStatus, err)
		}
		return nil
	}

	rec := s.record(runID, http.MethodPost, responseCode(results, nil), url)
	syncedAt := s.now()
	for _, b := range bills {
		err := s.ledger.UpdateSyncFields(ctx, services.KindBill, b.InternalID, services.SyncFields{
			SyncStatus: SyncStatusSynced,
			SyncDate:   syncedAt,
		})
		if err != nil {
			rec.fail(b, "Failed to update sync status in ledger: "+err.Error())
			log.Error().Err(err).Str("bill_id", b.InternalID).Msg("Error updating bill sync status")
			continue
		}
		rec.succeed(b)
	}
	result.Synced = len(rec.ResponseBody.SuccessfulInvoices)

	rec.Status = models.StatusSuccess
	if len(rec.ResponseBody.FailedInvoices) > 0 {
		rec.Status = models.StatusPartial
		rec.ErrorMessage = "Some bills failed to update sync status in ledger"
	}
	s.publish(ctx, result, rec.AuditRecord, log)

	log.Info().
		Int("synced", result.Synced).
		Int("failed", len(rec.ResponseBody.FailedInvoices)).
		Msg("Payment status synced to source")
	return nil
}

func (s *Syncer) publish(ctx context.Context, result *Result, rec *models.AuditRecord, log zerolog.Logger) {
	rec.ExecutionSummary.Failed = len(rec.ResponseBody.FailedInvoices)
	if rec.ExecutionSummary.Successful == 0 {
		rec.ExecutionSummary.Successful = len(rec.ResponseBody.SuccessfulInvoices)
	}
	if rec.ExecutionSummary.TotalProcessed == 0 {
		rec.ExecutionSummary.TotalProcessed = rec.ExecutionSummary.Successful + rec.ExecutionSummary.Failed
	}
	rec.Timestamp = s.now()

	result.Status = rec.Status
	if err := s.publisher.Publish(ctx, rec); err != nil {
		log.Error().Err(err).Msg("Failed to write payment sync audit record")
		return
	}
	result.AuditID = rec.ID
}

// auditDraft accumulates per-bill entries of one audit record.
type auditDraft struct {
	*models.AuditRecord
}

func (s *Syncer) record(runID, method string, code int, url string) auditDraft {
	return auditDraft{&models.AuditRecord{
		RunID:         runID,
		RequestMethod: method,
		ResponseCode:  code,
		RecordType:    services.KindBill.Label(),
		RequestURL:    url,
		ResponseBody: models.ResponseBody{
			SuccessfulInvoices: []models.Outcome{},
			FailedInvoices:     []models.Outcome{},
			SkippedInvoices:    []models.Outcome{},
		},
	}}
}

func billOutcome(kind models.OutcomeKind, b Bill) models.Outcome {
	return models.Outcome{
		Kind:          kind,
		InvoiceID:     strconv.FormatInt(b.InvoiceID, 10),
		InvoiceNumber: b.Number,
		RecordType:    services.KindBill.Label(),
		InternalID:    b.InternalID,
	}
}

func (d auditDraft) fail(b Bill, reason string) {
	o := billOutcome(models.OutcomeFailed, b)
	o.Error = reason
	d.ResponseBody.FailedInvoices = append(d.ResponseBody.FailedInvoices, o)
}

func (d auditDraft) failAll(bills []Bill, reason string) {
	for _, b := range bills {
		d.fail(b, reason)
	}
}

func (d auditDraft) succeed(b Bill) {
	d.ResponseBody.SuccessfulInvoices = append(d.ResponseBody.SuccessfulInvoices, billOutcome(models.OutcomeSuccessful, b))
}

func billsByInvoice(bills []Bill) map[int64]Bill {
	out := make(map[int64]Bill, len(bills))
	for _, b := range bills {
		out[b.InvoiceID] = b
	}
	return out
}

func anyAccepted(results []source.MutationResult) bool {
	for _, r := range results {
		if r.Accepted() {
			return true
		}
	}
	return false
}

func responseCode(results []source.MutationResult, err error) int {
	if code := source.StatusCode(err); code != 0 {
		return code
	}
	for _, r := range results {
		if r.StatusCode != 0 {
			return r.StatusCode
		}
	}
	return 0
}

func responseText(r source.MutationResult) string {
	if r.Error != "" {
		return r.Error
	}
	if len(r.Response) == 0 {
		return "{}"
	}
	return strings.TrimSpace(string(r.Response))
}

func describe(err error) string {
	if err == nil {
		return ""
	}
	return " | " + err.Error()
}
