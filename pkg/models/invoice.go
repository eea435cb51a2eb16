package models

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// StageFinalReview is the lifecycle stage an invoice must be in to be ingested.
const StageFinalReview = "FinalReview"

// SourceInvoice is an invoice as returned by the accounts-payable API.
type SourceInvoice struct {
	// Core identifiers
	ID            int64  `json:"id"`            // Source system identifier, stored as the ledger external id
	InvoiceNumber string `json:"invoiceNumber"` // Human-readable invoice number

	// Header
	DueDate            string `json:"dueDate"`
	PONumber           string `json:"poNumber"`
	InvoiceDescription string `json:"invoiceDescription"`
	SupplierName       string `json:"supplierName"`

	// Lifecycle
	Stage         string `json:"stage"`
	Status        string `json:"status,omitempty"`
	PostingNumber string `json:"postingNumber,omitempty"`

	Lines []SourceLine `json:"lines"`
}

// SourceLine is a single expense line of a SourceInvoice.
type SourceLine struct {
	GLCode            string          `json:"glCode"`
	Description       string          `json:"description"`
	Quantity          decimal.Decimal `json:"quantity"`
	UnitCost          decimal.Decimal `json:"unitCost"`
	Subtotal          decimal.Decimal `json:"subtotal"`
	Total             decimal.Decimal `json:"total"`
	TaxCode           string          `json:"taxCode"`
	SubAllocationCode string          `json:"subAllocationCode"`
}

// UnmarshalJSON accepts amounts as JSON numbers or numeric strings. Empty,
// null and non-numeric amounts decode as zero.
func (l *SourceLine) UnmarshalJSON(data []byte) error {
	type plain SourceLine
	var raw struct {
		plain
		Quantity json.RawMessage `json:"quantity"`
		UnitCost json.RawMessage `json:"unitCost"`
		Subtotal json.RawMessage `json:"subtotal"`
		Total    json.RawMessage `json:"total"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*l = SourceLine(raw.plain)
	l.Quantity = ParseAmount(raw.Quantity)
	l.UnitCost = ParseAmount(raw.UnitCost)
	l.Subtotal = ParseAmount(raw.Subtotal)
	l.Total = ParseAmount(raw.Total)
	return nil
}

// ParseAmount reads a JSON number or numeric string, returning zero for
// anything else.
func ParseAmount(raw json.RawMessage) decimal.Decimal {
	s := strings.TrimSpace(string(raw))
	if unquoted, err := strconv.Unquote(s); err == nil {
		s = strings.TrimSpace(unquoted)
	}
	if s == "" || s == "null" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// ExternalID returns the identifier written to the ledger's external id field.
func (inv SourceInvoice) ExternalID() string {
	return strconv.FormatInt(inv.ID, 10)
}

// HasNegativeLines reports whether any line subtotal is below zero.
func (inv SourceInvoice) HasNegativeLines() bool {
	for _, line := range inv.Lines {
		if line.Subtotal.IsNegative() {
			return true
		}
	}
	return false
}
