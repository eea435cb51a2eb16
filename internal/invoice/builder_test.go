package invoice

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invoicesync/internal/lookup"
	"invoicesync/pkg/models"
	"invoicesync/pkg/services"
)

type stubSaver struct {
	saved []*services.Transaction
	err   error
	panic bool
}

func (s *stubSaver) SaveTransaction(_ context.Context, tx *services.Transaction) (string, error) {
	if s.panic {
		panic("ledger connection lost")
	}
	if s.err != nil {
		return "", s.err
	}
	s.saved = append(s.saved, tx)
	return "900", nil
}

var fixedNow = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func testLookup() *lookup.Cache {
	return lookup.NewCache(lookup.Tables{
		Accounts:    lookup.Table{"6100": "300"},
		Locations:   lookup.Table{"SYD": "30"},
		Classes:     lookup.Table{"C3": "20"},
		Departments: lookup.Table{"Finance": "10"},
		Jobs:        lookup.Table{"PRJ-9": "40"},
		TaxCodes:    lookup.Table{"GST": "7"},
	})
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testInvoice(lines ...models.SourceLine) models.SourceInvoice {
	return models.SourceInvoice{
		ID:                 42,
		InvoiceNumber:      "INV-42",
		DueDate:            "2024-05-31T00:00:00",
		PONumber:           "PO-7",
		InvoiceDescription: "May supplies",
		SupplierName:       "Paper Co",
		Stage:              models.StageFinalReview,
		Lines:              lines,
	}
}

func newTestBuilder(s Saver) *Builder {
	return NewBuilder(s, Config{Now: func() time.Time { return fixedNow }})
}

func TestBuildBill(t *testing.T) {
	saver := &stubSaver{}
	inv := testInvoice(models.SourceLine{
		GLCode:            "6100-SYD-C3-Finance",
		Description:       "Paper",
		Quantity:          dec("2"),
		UnitCost:          dec("12.50"),
		Subtotal:          dec("25.00"),
		TaxCode:           "gst",
		SubAllocationCode: "PRJ-9",
	})

	outcome := newTestBuilder(saver).Build(context.Background(), inv, testLookup())

	require.Equal(t, models.OutcomeSuccessful, outcome.Kind)
	assert.Equal(t, "900", outcome.InternalID)
	assert.Equal(t, "Vendor Bill", outcome.RecordType)
	assert.Empty(t, outcome.Warnings)

	require.Len(t, saver.saved, 1)
	tx := saver.saved[0]
	assert.Equal(t, services.KindBill, tx.Kind)
	assert.Equal(t, "INV-42", tx.TranID)
	assert.Equal(t, "Paper Co", tx.Supplier)
	assert.Equal(t, fixedNow, tx.TranDate)
	require.NotNil(t, tx.DueDate)
	assert.Equal(t, "2024-05-31", tx.DueDate.Format("2006-01-02"))
	assert.Equal(t, "PO-7", tx.OtherRefNum)
	assert.Equal(t, "May supplies", tx.Memo)
	assert.True(t, tx.CreatedFromSource)
	assert.Equal(t, "42", tx.ExternalID)
	assert.Empty(t, tx.ErrorNote)

	require.Len(t, tx.Lines, 1)
	line := tx.Lines[0]
	assert.Equal(t, "300", line.Account)
	assert.Equal(t, "30", line.Location)
	assert.Equal(t, "20", line.Class)
	assert.Equal(t, "10", line.Department)
	assert.Equal(t, "40", line.Customer)
	assert.Equal(t, "7", line.TaxCode)
	assert.Equal(t, "Paper", line.Memo)
	assert.True(t, dec("2").Equal(line.Quantity))
	assert.True(t, dec("12.5").Equal(line.Rate))
	assert.True(t, dec("25").Equal(line.Amount))
}

func TestBuildBillCollectsWarnings(t *testing.T) {
	saver := &stubSaver{}
	inv := testInvoice(
		models.SourceLine{GLCode: "6100-SYD-C3-Legal", UnitCost: dec("1"), Subtotal: dec("1")},
		models.SourceLine{GLCode: "6100-MEL-C3-Finance", UnitCost: dec("2"), Subtotal: dec("2")},
	)

	outcome := newTestBuilder(saver).Build(context.Background(), inv, testLookup())

	require.Equal(t, models.OutcomeSuccessful, outcome.Kind)
	assert.Equal(t, []string{
		"Department internal id not found for: Legal",
		"Location internal id not found for: MEL",
	}, outcome.Warnings)
	require.Len(t, saver.saved, 1)
	assert.Equal(t,
		"Validation Warnings: Department internal id not found for: Legal; Location internal id not found for: MEL",
		saver.saved[0].ErrorNote)
	assert.Len(t, saver.saved[0].Lines, 2)
}

func TestBuildCredit(t *testing.T) {
	saver := &stubSaver{}
	inv := testInvoice(
		models.SourceLine{GLCode: "6100-SYD-C3-Finance", Quantity: dec("1"), UnitCost: dec("-40"), Subtotal: dec("-40")},
		models.SourceLine{GLCode: "1410-SYD-C3-Finance", UnitCost: dec("5"), Subtotal: dec("5")},
	)

	outcome := newTestBuilder(saver).Build(context.Background(), inv, testLookup())

	require.Equal(t, models.OutcomeSuccessful, outcome.Kind)
	assert.Equal(t, "Vendor Credit", outcome.RecordType)
	tx := saver.saved[0]
	assert.Equal(t, services.KindCredit, tx.Kind)
	assert.True(t, dec("40").Equal(tx.Lines[0].Rate))
	assert.True(t, dec("40").Equal(tx.Lines[0].Amount))
	assert.Equal(t, "229", tx.Lines[1].Account, "sentinel account")
	assert.True(t, dec("1").Equal(tx.Lines[1].Quantity), "missing quantity defaults to 1")
}

func TestBuildCreditAbortsOnInvalidLine(t *testing.T) {
	saver := &stubSaver{}
	inv := testInvoice(
		models.SourceLine{GLCode: "6100-SYD-C3-Finance", UnitCost: dec("-1"), Subtotal: dec("-1")},
		models.SourceLine{GLCode: "6100-MEL-C9-Finance", UnitCost: dec("-2"), Subtotal: dec("-2")},
	)

	b := newTestBuilder(saver)
	draft, err := b.Prepare(inv, testLookup())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLineValidation)
	assert.Equal(t, StateAborted, draft.State)

	outcome := b.Build(context.Background(), inv, testLookup())
	require.Equal(t, models.OutcomeFailed, outcome.Kind)
	assert.Equal(t, "Vendor Credit", outcome.RecordType)
	assert.Equal(t, "Location internal id not found for: MEL; Class internal id not found for: C9", outcome.Error)
	assert.Empty(t, saver.saved)
}

func TestBuildUnresolvedDepartmentByVariant(t *testing.T) {
	tests := []struct {
		name      string
		subtotal  string
		taxCode   string
		wantKind  models.OutcomeKind
		wantType  string
		wantError string
		wantNote  string
	}{
		{
			name:     "bill saves with warning note",
			subtotal: "10",
			wantKind: models.OutcomeSuccessful,
			wantType: "Vendor Bill",
			wantNote: "Validation Warnings: Department internal id not found for: Legal",
		},
		{
			name:      "credit fails",
			subtotal:  "-10",
			wantKind:  models.OutcomeFailed,
			wantType:  "Vendor Credit",
			wantError: "Department internal id not found for: Legal",
		},
		{
			name:      "credit reports segment errors before a missing tax code",
			subtotal:  "-10",
			taxCode:   "VAT20",
			wantKind:  models.OutcomeFailed,
			wantType:  "Vendor Credit",
			wantError: "Department internal id not found for: Legal",
		},
		{
			name:      "bill still fails on a missing tax code",
			subtotal:  "10",
			taxCode:   "VAT20",
			wantKind:  models.OutcomeFailed,
			wantType:  "Vendor Bill",
			wantError: "Tax code not found: VAT20",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			saver := &stubSaver{}
			inv := testInvoice(models.SourceLine{
				GLCode:   "6100-SYD-C3-Legal",
				UnitCost: dec(tt.subtotal),
				Subtotal: dec(tt.subtotal),
				TaxCode:  tt.taxCode,
			})

			outcome := newTestBuilder(saver).Build(context.Background(), inv, testLookup())

			require.Equal(t, tt.wantKind, outcome.Kind)
			assert.Equal(t, tt.wantType, outcome.RecordType)
			assert.Equal(t, tt.wantError, outcome.Error)
			if tt.wantKind == models.OutcomeSuccessful {
				require.Len(t, saver.saved, 1)
				assert.Equal(t, tt.wantNote, saver.saved[0].ErrorNote)
				assert.Empty(t, saver.saved[0].Lines[0].Department)
			} else {
				assert.Empty(t, saver.saved)
			}
		})
	}
}

func TestBuildMissingTaxCodeFails(t *testing.T) {
	saver := &stubSaver{}
	inv := testInvoice(models.SourceLine{GLCode: "6100-SYD-C3-Finance", UnitCost: dec("1"), Subtotal: dec("1"), TaxCode: "VAT20"})

	outcome := newTestBuilder(saver).Build(context.Background(), inv, testLookup())

	require.Equal(t, models.OutcomeFailed, outcome.Kind)
	assert.Equal(t, "Tax code not found: VAT20", outcome.Error)
	assert.Empty(t, saver.saved)
}

func TestBuildUnknownSubAllocationIsIgnored(t *testing.T) {
	saver := &stubSaver{}
	inv := testInvoice(models.SourceLine{GLCode: "6100-SYD-C3-Finance", UnitCost: dec("1"), Subtotal: dec("1"), SubAllocationCode: "NOPE"})

	outcome := newTestBuilder(saver).Build(context.Background(), inv, testLookup())

	require.Equal(t, models.OutcomeSuccessful, outcome.Kind)
	assert.Empty(t, saver.saved[0].Lines[0].Customer)
	assert.Empty(t, outcome.Warnings)
}

func TestBuildSaveFailure(t *testing.T) {
	saver := &stubSaver{err: errors.New(`invalid transaction: vendor "Paper Co" not found`)}
	inv := testInvoice(models.SourceLine{GLCode: "6100-SYD-C3-Finance", UnitCost: dec("1"), Subtotal: dec("1")})

	outcome := newTestBuilder(saver).Build(context.Background(), inv, testLookup())

	require.Equal(t, models.OutcomeFailed, outcome.Kind)
	assert.Equal(t, `invalid transaction: vendor "Paper Co" not found`, outcome.Error)
}

func TestBuildRecoversPanic(t *testing.T) {
	saver := &stubSaver{panic: true}
	inv := testInvoice(models.SourceLine{GLCode: "6100-SYD-C3-Finance", UnitCost: dec("1"), Subtotal: dec("1")})

	outcome := newTestBuilder(saver).Build(context.Background(), inv, testLookup())

	require.Equal(t, models.OutcomeFailed, outcome.Kind)
	assert.Contains(t, outcome.Error, "ledger connection lost")
}

func TestPrepareUnparseableDueDate(t *testing.T) {
	inv := testInvoice(models.SourceLine{GLCode: "6100-SYD-C3-Finance", UnitCost: dec("1"), Subtotal: dec("1")})
	inv.DueDate = "next Tuesday"

	draft, err := newTestBuilder(&stubSaver{}).Prepare(inv, testLookup())
	require.NoError(t, err)
	assert.Nil(t, draft.Transaction.DueDate)
	assert.Equal(t, StateValidated, draft.State)
}
