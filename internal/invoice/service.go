// Package invoice turns source invoices into ledger transactions.
//
// An invoice becomes a Vendor Credit when any line subtotal is negative and a
// Vendor Bill otherwise. Each line's GL code is resolved against the batch
// lookup cache; the two variants treat unresolved segments differently:
//   - Bill: every unresolved segment is collected and written to the header
//     error note as "Validation Warnings: ...", then the bill is saved
//   - Credit: the first line with unresolved segments aborts the invoice
//
// Other rules:
//   - GL account 1410 always maps to internal id 229
//   - a zero or missing quantity is recorded as 1
//   - Credit rates and amounts are recorded as absolute values
//   - a tax code without an active tax item fails the invoice
//   - an unknown sub-allocation code is ignored
//   - saved transactions carry CreatedFromSource and the source id as external id
//
// Building never returns an error. Every failure, including a panic, becomes a
// Failed outcome so sibling invoices in the batch are unaffected.
package invoice

import (
	"context"
	"time"

	"invoicesync/internal/glcode"
	"invoicesync/pkg/models"
	"invoicesync/pkg/services"
)

// TransactionBuilder defines the interface for building one invoice.
type TransactionBuilder interface {
	// Build converts and saves one invoice. It always returns exactly one outcome.
	Build(ctx context.Context, inv models.SourceInvoice, lookup Lookup) models.Outcome
}

// Lookup is the subset of the lookup cache used to resolve line references.
type Lookup interface {
	glcode.Lookup
	Job(code string) (string, bool)
	TaxCode(code string) (string, bool)
}

// Saver persists a built transaction.
type Saver interface {
	SaveTransaction(ctx context.Context, tx *services.Transaction) (string, error)
}

// Config holds builder settings.
type Config struct {
	// Now returns the transaction date. Default: time.Now.
	Now func() time.Time

	// DueDateLayouts are tried in order when parsing the source due date.
	DueDateLayouts []string
}

// DefaultConfig returns a Config with the layouts the source API emits.
func DefaultConfig() Config {
	return Config{
		Now: time.Now,
		DueDateLayouts: []string{
			time.RFC3339,
			"2006-01-02T15:04:05",
			"2006-01-02",
		},
	}
}

// State tracks how far an invoice got through the builder.
type State int

const (
	StateDraft State = iota
	StateLinesAppended
	StateValidated
	StateAborted
	StateSaved
	StatePersistFailed
)

func (s State) String() string {
	switch s {
	case StateDraft:
		return "draft"
	case StateLinesAppended:
		return "lines_appended"
	case StateValidated:
		return "validated"
	case StateAborted:
		return "aborted"
	case StateSaved:
		return "saved"
	case StatePersistFailed:
		return "persist_failed"
	default:
		return "unknown"
	}
}
