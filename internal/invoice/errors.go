package invoice

import (
	"errors"
	"fmt"
)

// Common transaction building errors
var (
	// ErrTaxCodeNotFound is returned when a line names a tax code that has no
	// active tax item in the ledger. It is fatal for the invoice.
	ErrTaxCodeNotFound = errors.New("tax code not found")

	// ErrLineValidation is returned when a Credit line has unresolved GL segments.
	ErrLineValidation = errors.New("line validation failed")

	// ErrSaveFailed is returned when the ledger rejects the transaction.
	ErrSaveFailed = errors.New("failed to save transaction")

	// ErrPanic is returned when building an invoice panicked.
	ErrPanic = errors.New("invoice processing panicked")
)

// BuildError wraps errors with the invoice and the step that failed.
type BuildError struct {
	// Op is the step that failed (e.g., "ProcessLine", "Save").
	Op string

	// Err is the underlying error.
	Err error

	// InvoiceID is the source id of the invoice being built.
	InvoiceID string

	// Line is the 1-based line number, zero for header-level failures.
	Line int

	// Details is the human-readable reason recorded on the Failed outcome.
	Details string
}

// Error implements the error interface.
func (e *BuildError) Error() string {
	switch {
	case e.Line > 0 && e.Details != "":
		return fmt.Sprintf("invoice: %s failed (invoice %s, line %d): %s: %v", e.Op, e.InvoiceID, e.Line, e.Details, e.Err)
	case e.Details != "":
		return fmt.Sprintf("invoice: %s failed (invoice %s): %s: %v", e.Op, e.InvoiceID, e.Details, e.Err)
	default:
		return fmt.Sprintf("invoice: %s failed (invoice %s): %v", e.Op, e.InvoiceID, e.Err)
	}
}

// Unwrap returns the underlying error for error unwrapping.
func (e *BuildError) Unwrap() error {
	return e.Err
}

// Is implements error matching for Go 1.13+ error handling.
func (e *BuildError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// Reason returns the message recorded on the Failed outcome.
func (e *BuildError) Reason() string {
	if e.Details != "" {
		return e.Details
	}
	return e.Err.Error()
}

// NewBuildError creates a BuildError for a header-level step.
func NewBuildError(op, invoiceID string, err error, details string) *BuildError {
	return &BuildError{
		Op:        op,
		Err:       err,
		InvoiceID: invoiceID,
		Details:   details,
	}
}

// Reason extracts the outcome message from any error returned by the builder.
func Reason(err error) string {
	var buildErr *BuildError
	if errors.As(err, &buildErr) {
		return buildErr.Reason()
	}
	return err.Error()
}
