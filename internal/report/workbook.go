package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"invoicesync/pkg/models"
)

var outcomeHeaders = []any{"Invoice #", "Invoice ID", "Record Type", "Internal ID", "Error", "Warnings", "Existing Record"}

// WriteWorkbook writes rec as an xlsx workbook with a summary sheet and one
// sheet per outcome kind.
func WriteWorkbook(rec *models.AuditRecord, w io.Writer) error {
	const op = "WriteWorkbook"

	f := excelize.NewFile()
	defer f.Close()

	summary := "Summary"
	if err := f.SetSheetName("Sheet1", summary); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	rows := [][]any{
		{"Log record ID", rec.ID},
		{"Run ID", rec.RunID},
		{"Status", rec.Status},
		{"Record Type", rec.RecordType},
		{"Timestamp", rec.Timestamp.Format(time.RFC3339)},
		{"Request", fmt.Sprintf("%s %s (%d)", rec.RequestMethod, rec.RequestURL, rec.ResponseCode)},
		{"Total Processed", rec.ExecutionSummary.TotalProcessed},
		{"Successful", rec.ExecutionSummary.Successful},
		{"Failed", rec.ExecutionSummary.Failed},
		{"Skipped", rec.ExecutionSummary.Skipped},
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(summary, cell, &row); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	sheets := []struct {
		name     string
		outcomes []models.Outcome
	}{
		{"Successful", rec.ResponseBody.SuccessfulInvoices},
		{"Failed", rec.ResponseBody.FailedInvoices},
		{"Skipped", rec.ResponseBody.SkippedInvoices},
	}
	for _, sheet := range sheets {
		if err := writeOutcomeSheet(f, sheet.name, sheet.outcomes); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("%s: failed to write workbook: %w", op, err)
	}
	return nil
}

func writeOutcomeSheet(f *excelize.File, name string, outcomes []models.Outcome) error {
	if _, err := f.NewSheet(name); err != nil {
		return err
	}
	if err := f.SetSheetRow(name, "A1", &outcomeHeaders); err != nil {
		return err
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	if err := f.SetRowStyle(name, 1, 1, bold); err != nil {
		return err
	}

	for i, o := range outcomes {
		existing := ""
		if o.ExistingRecordID != "" {
			existing = o.ExistingRecordType + " " + o.ExistingRecordID
		}
		row := []any{
			o.InvoiceNumber,
			o.InvoiceID,
			o.RecordType,
			o.InternalID,
			firstNonEmpty(o.Error, o.Reason),
			strings.Join(o.Warnings, "; "),
			existing,
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(name, cell, &row); err != nil {
			return err
		}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
