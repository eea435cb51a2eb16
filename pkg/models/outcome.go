package models

import "fmt"

// TransactionVariant selects which ledger transaction an invoice becomes.
type TransactionVariant int

const (
	VariantBill TransactionVariant = iota
	VariantCredit
)

// SelectVariant returns VariantCredit when any line is negative, VariantBill otherwise.
func SelectVariant(inv SourceInvoice) TransactionVariant {
	if inv.HasNegativeLines() {
		return VariantCredit
	}
	return VariantBill
}

func (v TransactionVariant) String() string {
	switch v {
	case VariantBill:
		return "Bill"
	case VariantCredit:
		return "Credit"
	default:
		return fmt.Sprintf("TransactionVariant(%d)", int(v))
	}
}

// RecordType is the label used in audit records and notifications.
func (v TransactionVariant) RecordType() string {
	switch v {
	case VariantCredit:
		return "Vendor Credit"
	default:
		return "Vendor Bill"
	}
}

// OutcomeKind classifies how a single invoice finished.
type OutcomeKind string

const (
	OutcomeSuccessful OutcomeKind = "successful"
	OutcomeFailed     OutcomeKind = "failed"
	OutcomeSkipped    OutcomeKind = "skipped"
)

// Outcome is the terminal result of processing one invoice.
type Outcome struct {
	Kind          OutcomeKind `json:"-"`
	InvoiceID     string      `json:"invoiceId"`
	InvoiceNumber string      `json:"invoiceNumber"`
	RecordType    string      `json:"recordType,omitempty"`

	// Successful
	InternalID string   `json:"internalId,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`

	// Failed
	Error string `json:"error,omitempty"`

	// Skipped
	Reason             string `json:"reason,omitempty"`
	ExistingRecordType string `json:"existingRecordType,omitempty"`
	ExistingRecordID   string `json:"existingRecordId,omitempty"`
}

// Successful builds an Outcome for a saved transaction.
func Successful(inv SourceInvoice, recordType, internalID string, warnings []string) Outcome {
	return Outcome{
		Kind:          OutcomeSuccessful,
		InvoiceID:     inv.ExternalID(),
		InvoiceNumber: inv.InvoiceNumber,
		RecordType:    recordType,
		InternalID:    internalID,
		Warnings:      warnings,
	}
}

// Failed builds an Outcome for an invoice that could not be recorded.
func Failed(inv SourceInvoice, recordType, reason string) Outcome {
	return Outcome{
		Kind:          OutcomeFailed,
		InvoiceID:     inv.ExternalID(),
		InvoiceNumber: inv.InvoiceNumber,
		RecordType:    recordType,
		Error:         reason,
	}
}

// Skipped builds an Outcome for an invoice that already exists in the ledger.
func Skipped(inv SourceInvoice, reason, existingType, existingID string) Outcome {
	return Outcome{
		Kind:               OutcomeSkipped,
		InvoiceID:          inv.ExternalID(),
		InvoiceNumber:      inv.InvoiceNumber,
		RecordType:         existingType,
		Reason:             reason,
		ExistingRecordType: existingType,
		ExistingRecordID:   existingID,
	}
}

// Message renders the human-readable line used in audit records and notifications.
// Successful outcomes have no message.
func (o Outcome) Message() string {
	switch o.Kind {
	case OutcomeFailed:
		return fmt.Sprintf("Invoice #%s (ID: %s): %s", o.InvoiceNumber, o.InvoiceID, o.Error)
	case OutcomeSkipped:
		return fmt.Sprintf("Invoice #%s (ID: %s): %s (Existing Record: %s)",
			o.InvoiceNumber, o.InvoiceID, o.Reason, o.ExistingRecordID)
	default:
		return ""
	}
}
