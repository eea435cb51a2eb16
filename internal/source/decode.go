package source

import (
	"encoding/json"
	"strconv"
	"strings"

	"invoicesync/pkg/models"
)

// RejectedInvoice is a record that was received but could not be decoded.
// ID and InvoiceNumber are best effort and may be empty.
type RejectedInvoice struct {
	ID            string `json:"invoiceId"`
	InvoiceNumber string `json:"invoiceNumber"`
	Reason        string `json:"reason"`
}

// Outcome renders the rejection as a Failed outcome.
func (r RejectedInvoice) Outcome() models.Outcome {
	return models.Outcome{
		Kind:          models.OutcomeFailed,
		InvoiceID:     r.ID,
		InvoiceNumber: r.InvoiceNumber,
		Error:         "Invalid invoice data: " + r.Reason,
	}
}

// decodeInvoices decodes each record on its own so one malformed invoice does
// not take its page down with it. Records in another stage are dropped when
// stage is non-empty, including rejected ones whose stage can be read.
func decodeInvoices(records []json.RawMessage, stage string) (kept []models.SourceInvoice, rejected []RejectedInvoice) {
	for _, raw := range records {
		var inv models.SourceInvoice
		if err := json.Unmarshal(raw, &inv); err != nil {
			header := readHeader(raw)
			if stage != "" && header.stage != "" && header.stage != stage {
				continue
			}
			rejected = append(rejected, RejectedInvoice{
				ID:            header.id,
				InvoiceNumber: header.number,
				Reason:        err.Error(),
			})
			continue
		}
		if stage != "" && inv.Stage != stage {
			continue
		}
		kept = append(kept, inv)
	}
	return kept, rejected
}

type recordHeader struct {
	id, number, stage string
}

// readHeader pulls identifying fields out of a record that failed to decode.
func readHeader(raw json.RawMessage) recordHeader {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return recordHeader{}
	}
	return recordHeader{
		id:     scalar(fields["id"]),
		number: scalar(fields["invoiceNumber"]),
		stage:  scalar(fields["stage"]),
	}
}

func scalar(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if unquoted, err := strconv.Unquote(s); err == nil {
		return unquoted
	}
	if s == "null" || strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[") {
		return ""
	}
	return s
}
