package invoice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"invoicesync/internal/glcode"
	"invoicesync/internal/logger"
	"invoicesync/pkg/models"
	"invoicesync/pkg/services"
)

const warningsPrefix = "Validation Warnings: "

// Builder builds and saves ledger transactions.
type Builder struct {
	saver Saver
	cfg   Config
	log   zerolog.Logger
}

var _ TransactionBuilder = (*Builder)(nil)

// NewBuilder creates a builder saving through s.
func NewBuilder(s Saver, cfg Config) *Builder {
	def := DefaultConfig()
	if cfg.Now == nil {
		cfg.Now = def.Now
	}
	if len(cfg.DueDateLayouts) == 0 {
		cfg.DueDateLayouts = def.DueDateLayouts
	}
	return &Builder{
		saver: s,
		cfg:   cfg,
		log:   logger.WithComponent("invoice"),
	}
}

// Draft is a prepared, unsaved transaction.
type Draft struct {
	Transaction *services.Transaction
	Variant     models.TransactionVariant
	Warnings    []string
	State       State
}

// Prepare runs every step up to saving. The returned draft is non-nil even on
// error so callers can report the state reached.
func (b *Builder) Prepare(inv models.SourceInvoice, lookup Lookup) (*Draft, error) {
	const op = "Prepare"

	policy := policyFor(models.SelectVariant(inv))
	invoiceID := inv.ExternalID()
	log := b.log.With().
		Str("invoice_id", invoiceID).
		Str("invoice_number", inv.InvoiceNumber).
		Str("variant", policy.variant.String()).
		Logger()

	tx := &services.Transaction{
		Kind:        policy.kind,
		TranID:      inv.InvoiceNumber,
		Supplier:    inv.SupplierName,
		TranDate:    b.cfg.Now(),
		DueDate:     b.parseDueDate(inv.DueDate, log),
		OtherRefNum: inv.PONumber,
		Memo:        inv.InvoiceDescription,
	}
	draft := &Draft{Transaction: tx, Variant: policy.variant, State: StateDraft}

	for i, line := range inv.Lines {
		res := b.processLine(i+1, line, policy, lookup, log)

		warnings, err := policy.review(invoiceID, res)
		if err != nil {
			log.Warn().Int("line", res.Index).Str("reason", Reason(err)).Msg("Line validation aborted invoice")
			draft.State = StateAborted
			return draft, err
		}

		// Segment errors take precedence over a missing tax code.
		if res.Line.TaxCode, err = taxItem(res.Index, invoiceID, line.TaxCode, lookup); err != nil {
			draft.State = StateAborted
			return draft, err
		}
		draft.Warnings = append(draft.Warnings, warnings...)
		tx.Lines = append(tx.Lines, res.Line)
		draft.State = StateLinesAppended
	}

	if len(draft.Warnings) > 0 {
		tx.ErrorNote = warningsPrefix + strings.Join(draft.Warnings, "; ")
		log.Warn().Strs("warnings", draft.Warnings).Msg("Invoice has validation warnings")
	}

	tx.CreatedFromSource = true
	tx.ExternalID = invoiceID
	draft.State = StateValidated

	log.Debug().Str("op", op).Int("lines", len(tx.Lines)).Msg("Transaction prepared")
	return draft, nil
}

func (b *Builder) processLine(index int, line models.SourceLine, policy variantPolicy, lookup Lookup, log zerolog.Logger) LineResult {
	resolved, validationErrs, formatErr := glcode.Resolve(line.GLCode, lookup)
	if formatErr != nil {
		log.Warn().Err(formatErr).Int("line", index).Msg("GL code has fewer segments than expected")
	}
	if resolved.Account == "" {
		log.Warn().Int("line", index).Str("account", resolved.Key.Account).Msg("GL account not mapped")
	}

	qty, rate, amount := policy.amounts(line)
	out := services.TransactionLine{
		Account:    resolved.Account,
		Memo:       line.Description,
		Quantity:   qty,
		Rate:       rate,
		Amount:     amount,
		Location:   resolved.Location,
		Department: resolved.Department,
		Class:      resolved.Class,
	}

	if code := strings.TrimSpace(line.SubAllocationCode); code != "" {
		if id, ok := lookup.Job(code); ok {
			out.Customer = id
		} else {
			log.Warn().Int("line", index).Str("sub_allocation", code).Msg("Sub-allocation not mapped, ignoring")
		}
	}

	return LineResult{Index: index, Line: out, Errors: validationErrs}
}

// taxItem maps a line's tax code to its tax item. An empty code maps to
// nothing; an unknown one fails the invoice.
func taxItem(index int, invoiceID, code string, lookup Lookup) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", nil
	}
	id, ok := lookup.TaxCode(code)
	if !ok {
		return "", &BuildError{
			Op:        "ProcessLine",
			Err:       ErrTaxCodeNotFound,
			InvoiceID: invoiceID,
			Line:      index,
			Details:   fmt.Sprintf("Tax code not found: %s", code),
		}
	}
	return id, nil
}

func (b *Builder) parseDueDate(raw string, log zerolog.Logger) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range b.cfg.DueDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t
		}
	}
	log.Warn().Str("due_date", raw).Msg("Could not parse due date, leaving it empty")
	return nil
}

// Build prepares and saves one invoice.
func (b *Builder) Build(ctx context.Context, inv models.SourceInvoice, lookup Lookup) (outcome models.Outcome) {
	recordType := models.SelectVariant(inv).RecordType()
	invoiceID := inv.ExternalID()

	defer func() {
		if r := recover(); r != nil {
			b.log.Error().
				Interface("panic", r).
				Str("invoice_id", invoiceID).
				Msg("Recovered from panic while building invoice")
			err := NewBuildError("Build", invoiceID, ErrPanic, fmt.Sprintf("unexpected error: %v", r))
			outcome = models.Failed(inv, recordType, err.Reason())
		}
	}()

	draft, err := b.Prepare(inv, lookup)
	if err != nil {
		return models.Failed(inv, recordType, Reason(err))
	}

	internalID, err := b.saver.SaveTransaction(ctx, draft.Transaction)
	if err != nil {
		draft.State = StatePersistFailed
		buildErr := NewBuildError("Save", invoiceID, errors.Join(ErrSaveFailed, err), err.Error())
		b.log.Error().
			Err(buildErr).
			Str("invoice_id", invoiceID).
			Str("state", draft.State.String()).
			Msg("Failed to save transaction")
		return models.Failed(inv, recordType, buildErr.Reason())
	}
	draft.State = StateSaved

	b.log.Info().
		Str("invoice_id", invoiceID).
		Str("invoice_number", inv.InvoiceNumber).
		Str("record_type", recordType).
		Str("internal_id", internalID).
		Int("warnings", len(draft.Warnings)).
		Msg("Invoice recorded")

	return models.Successful(inv, recordType, internalID, draft.Warnings)
}
