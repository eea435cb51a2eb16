package invoice

import (
	"github.com/shopspring/decimal"

	"invoicesync/internal/glcode"
	"invoicesync/pkg/models"
	"invoicesync/pkg/services"
)

// LineResult is one processed source line.
type LineResult struct {
	// Index is the 1-based position of the line on the invoice.
	Index  int
	Line   services.TransactionLine
	Errors []glcode.ValidationError
}

// Valid reports whether every GL segment resolved.
func (r LineResult) Valid() bool {
	return len(r.Errors) == 0
}

// variantPolicy holds the rules that differ between Bill and Credit.
type variantPolicy struct {
	variant models.TransactionVariant
	kind    services.RecordKind

	// absolute converts rates and amounts to their absolute values.
	absolute bool

	// abortOnInvalid stops the invoice at the first line with validation errors.
	// Otherwise errors are collected into the header note.
	abortOnInvalid bool
}

var (
	billPolicy = variantPolicy{
		variant: models.VariantBill,
		kind:    services.KindBill,
	}
	creditPolicy = variantPolicy{
		variant:        models.VariantCredit,
		kind:           services.KindCredit,
		absolute:       true,
		abortOnInvalid: true,
	}
)

func policyFor(v models.TransactionVariant) variantPolicy {
	if v == models.VariantCredit {
		return creditPolicy
	}
	return billPolicy
}

// amounts returns quantity, rate and amount for a source line. A zero or
// missing quantity becomes 1.
func (p variantPolicy) amounts(line models.SourceLine) (qty, rate, amount decimal.Decimal) {
	qty = line.Quantity
	if qty.IsZero() {
		qty = decimal.NewFromInt(1)
	}
	rate = line.UnitCost
	amount = line.Subtotal
	if p.absolute {
		rate = rate.Abs()
		amount = amount.Abs()
	}
	return qty, rate, amount
}

// review applies the variant's validation policy to a line. It returns the
// warnings to keep, or an error when the invoice must be aborted.
func (p variantPolicy) review(invoiceID string, res LineResult) ([]string, error) {
	if res.Valid() {
		return nil, nil
	}
	if p.abortOnInvalid {
		return nil, &BuildError{
			Op:        "ValidateLine",
			Err:       ErrLineValidation,
			InvoiceID: invoiceID,
			Line:      res.Index,
			Details:   glcode.Join(res.Errors),
		}
	}

	warnings := make([]string, len(res.Errors))
	for i, e := range res.Errors {
		warnings[i] = e.Error()
	}
	return warnings, nil
}
