package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"invoicesync/pkg/models"
)

// RequestMeta describes the request a batch was fetched with. It is copied into
// the audit record.
type RequestMeta struct {
	Method string `json:"method"`
	Code   int    `json:"code"`
	URL    string `json:"url"`
}

// FetchResult is the outcome of a retrieval.
type FetchResult struct {
	Invoices []models.SourceInvoice

	// Partial is set when a timeout stopped retrieval early.
	Partial bool

	// Truncated is set when the page ceiling stopped retrieval.
	Truncated bool

	// Pages is the number of pages received.
	Pages int

	// Rejected lists received records that could not be decoded.
	Rejected []RejectedInvoice

	Meta RequestMeta
}

// FetchAll pages through GET /Invoice and keeps invoices in the given stage.
//
// Retrieval stops on a short page, on the page ceiling, on a timeout
// (Partial), or on an unexpected status; in each case the accumulated invoices
// are returned. A 401, a transport failure or a body that is not an invoice
// list returns an error and no invoices. Records that fail to decode on their
// own are listed in Rejected and do not stop retrieval.
func (c *Client) FetchAll(ctx context.Context, stage string, pageSize int) (FetchResult, error) {
	const op = "FetchAll"

	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	result := FetchResult{
		Meta: RequestMeta{
			Method: http.MethodGet,
			Code:   http.StatusOK,
			URL:    c.baseURL + "/Invoice",
		},
	}

	for page := 1; ; page++ {
		skip := (page - 1) * pageSize
		path := fmt.Sprintf("/Invoice?skip=%d&take=%d", skip, pageSize)

		c.log.Debug().
			Int("page", page).
			Int("skip", skip).
			Int("take", pageSize).
			Msg("Fetching invoice page")

		var records []json.RawMessage
		status, err := c.getJSON(ctx, op, path, &records)
		if err != nil {
			switch {
			case errors.Is(err, ErrUnauthorized):
				return FetchResult{}, err
			case errors.Is(err, ErrTimeout):
				c.log.Error().
					Err(err).
					Int("page", page).
					Int("fetched", len(result.Invoices)).
					Msg("Timeout while fetching invoices, returning invoices fetched so far")
				result.Partial = true
				return result, nil
			case errors.Is(err, ErrUnexpectedResponse):
				c.log.Error().
					Err(err).
					Int("page", page).
					Int("status", status).
					Msg("Unexpected response code, stopping pagination")
				result.Meta.Code = status
				return result, nil
			case status != 0:
				c.log.Error().
					Err(err).
					Int("page", page).
					Msg("Response is not an invoice list")
				return FetchResult{}, err
			default:
				return FetchResult{}, err
			}
		}
		if status != http.StatusOK {
			c.log.Error().Int("page", page).Int("status", status).Msg("Unexpected response code, stopping pagination")
			result.Meta.Code = status
			return result, nil
		}

		result.Pages = page
		kept, rejected := decodeInvoices(records, stage)
		result.Invoices = append(result.Invoices, kept...)
		result.Rejected = append(result.Rejected, rejected...)
		c.logRejected(page, rejected)

		c.log.Info().
			Int("page", page).
			Int("records_in_page", len(records)).
			Int("filtered_records", len(kept)).
			Int("rejected_records", len(rejected)).
			Int("total_so_far", len(result.Invoices)).
			Msg("Page fetched and filtered")

		if len(records) < pageSize {
			break
		}
		if page >= c.maxPages {
			c.log.Error().
				Int("max_pages", c.maxPages).
				Int("fetched", len(result.Invoices)).
				Msg("Page limit reached, result truncated")
			result.Truncated = true
			break
		}
	}

	c.log.Info().
		Int("total_invoices", len(result.Invoices)).
		Int("pages", result.Pages).
		Int("rejected", len(result.Rejected)).
		Str("stage", stage).
		Msg("Invoice retrieval completed")

	return result, nil
}

// ReadyForPost fetches the invoices an entity has marked ready for posting.
// Non-200 responses and bodies without exportInvoices yield an empty result.
func (c *Client) ReadyForPost(ctx context.Context, entityID string) (FetchResult, error) {
	const op = "ReadyForPost"

	path := "/Invoice/GetInvoicesReadyForPost/" + url.PathEscape(entityID)
	result := FetchResult{
		Meta: RequestMeta{
			Method: http.MethodGet,
			Code:   http.StatusOK,
			URL:    c.baseURL + path,
		},
	}

	var body struct {
		ExportInvoices []json.RawMessage `json:"exportInvoices"`
	}
	status, err := c.getJSON(ctx, op, path, &body)
	if err != nil {
		switch {
		case errors.Is(err, ErrUnauthorized):
			return FetchResult{}, err
		case errors.Is(err, ErrTimeout):
			c.log.Error().Err(err).Str("entity_id", entityID).Msg("Timeout while fetching invoices ready for post")
			result.Partial = true
			return result, nil
		case status != 0:
			c.log.Warn().Err(err).Int("status", status).Str("entity_id", entityID).Msg("No exportInvoices found in response")
			result.Meta.Code = status
			return result, nil
		default:
			return FetchResult{}, err
		}
	}

	result.Pages = 1
	result.Invoices, result.Rejected = decodeInvoices(body.ExportInvoices, "")
	c.logRejected(1, result.Rejected)
	if len(body.ExportInvoices) == 0 {
		c.log.Warn().Str("entity_id", entityID).Msg("No exportInvoices found in response")
	}

	c.log.Info().
		Str("entity_id", entityID).
		Int("invoices", len(result.Invoices)).
		Int("rejected", len(result.Rejected)).
		Msg("Invoices ready for post retrieved")

	return result, nil
}

func (c *Client) logRejected(page int, rejected []RejectedInvoice) {
	for _, r := range rejected {
		c.log.Error().
			Int("page", page).
			Str("invoice_id", r.ID).
			Str("invoice_number", r.InvoiceNumber).
			Str("reason", r.Reason).
			Msg("Invoice could not be decoded")
	}
}
