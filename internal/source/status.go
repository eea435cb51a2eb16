package source

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// PaidDateLayout is the date format the API expects for paidDate.
const PaidDateLayout = "2006-01-02 15:04:05"

// PostingStatusPosted marks an invoice as recorded downstream.
const PostingStatusPosted = 1

// PaidUpdate is the body of POST /Invoice/SetInvoicePaid.
type PaidUpdate struct {
	InvoiceID int64  `json:"invoiceId"`
	Paid      bool   `json:"paid"`
	PaidDate  string `json:"paidDate"`
}

// NewPaidUpdate builds a paid update with the date in PaidDateLayout.
func NewPaidUpdate(invoiceID int64, paidAt time.Time) PaidUpdate {
	return PaidUpdate{
		InvoiceID: invoiceID,
		Paid:      true,
		PaidDate:  paidAt.Format(PaidDateLayout),
	}
}

// PostingStatusUpdate is the body of POST /Invoice/SetInvoicePostingStatus.
type PostingStatusUpdate struct {
	InvoiceID     int64  `json:"invoiceId"`
	Status        int    `json:"status"`
	PostingNumber string `json:"postingNumber"`
	Message       string `json:"message"`
}

// MutationResult is the per-invoice result of a status mutation.
type MutationResult struct {
	InvoiceID    int64           `json:"invoiceId"`
	StatusCode   int             `json:"statusCode,omitempty"`
	IsSuccessful bool            `json:"isSuccessful"`
	Response     json.RawMessage `json:"response,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// OK reports a 200 response whose body confirmed success.
func (r MutationResult) OK() bool {
	return r.Error == "" && r.StatusCode == http.StatusOK && r.IsSuccessful
}

// Accepted reports a 2xx response regardless of the body.
func (r MutationResult) Accepted() bool {
	return r.Error == "" && r.StatusCode >= 200 && r.StatusCode < 300
}

// SetInvoicePaid marks each invoice as paid, one request per invoice. A 401
// aborts the remaining updates and is returned as an error.
func (c *Client) SetInvoicePaid(ctx context.Context, updates []PaidUpdate) ([]MutationResult, error) {
	const op = "SetInvoicePaid"

	results := make([]MutationResult, 0, len(updates))
	for _, update := range updates {
		res, err := c.mutate(ctx, op, "/Invoice/SetInvoicePaid", update.InvoiceID, update)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}

	c.logMutationSummary(op, results)
	return results, nil
}

// SetInvoicePostingStatus updates the posting status of each invoice, one
// request per invoice. A 401 aborts the remaining updates.
func (c *Client) SetInvoicePostingStatus(ctx context.Context, updates []PostingStatusUpdate) ([]MutationResult, error) {
	const op = "SetInvoicePostingStatus"

	results := make([]MutationResult, 0, len(updates))
	for _, update := range updates {
		if update.Status == 0 {
			update.Status = PostingStatusPosted
		}
		res, err := c.mutate(ctx, op, "/Invoice/SetInvoicePostingStatus", update.InvoiceID, update)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}

	c.logMutationSummary(op, results)
	return results, nil
}

// mutate posts one body and converts everything except a 401 into a result.
func (c *Client) mutate(ctx context.Context, op, path string, invoiceID int64, body any) (MutationResult, error) {
	res := MutationResult{InvoiceID: invoiceID}

	status, raw, err := c.call(ctx, op, http.MethodPost, path, body)
	res.StatusCode = status
	if err != nil {
		if IsAuthError(err) {
			return res, err
		}
		res.Error = err.Error()
		c.log.Error().
			Err(err).
			Str("op", op).
			Int64("invoice_id", invoiceID).
			Int("status", status).
			Msg("Invoice status update failed")
		return res, nil
	}

	if len(raw) > 0 && json.Valid(raw) {
		res.Response = json.RawMessage(raw)
		var parsed struct {
			IsSuccessful bool `json:"isSuccessful"`
		}
		if err := json.Unmarshal(raw, &parsed); err == nil {
			res.IsSuccessful = parsed.IsSuccessful
		}
	}

	c.log.Info().
		Str("op", op).
		Int64("invoice_id", invoiceID).
		Int("status", status).
		Bool("is_successful", res.IsSuccessful).
		Msg("Invoice status updated")

	return res, nil
}

func (c *Client) logMutationSummary(op string, results []MutationResult) {
	failed := 0
	for _, r := range results {
		if !r.Accepted() {
			failed++
		}
	}
	c.log.Info().
		Str("op", op).
		Int("total", len(results)).
		Int("successful", len(results)-failed).
		Int("failed", failed).
		Msg("Invoice status update summary")
}
