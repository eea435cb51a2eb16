package sheets

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"invoicesync/internal/logger"
	"invoicesync/pkg/models"
)

// Service mirrors run outcomes to a Google Sheet
type Service struct {
	sheetsService *sheets.Service
	spreadsheetID string
	worksheet     string
	log           zerolog.Logger
}

// OutcomeRow represents a row to be written to the sheet
type OutcomeRow struct {
	RunID          string
	Timestamp      string
	Result         string
	InvoiceNumber  string
	InvoiceID      string
	RecordType     string
	InternalID     string
	Message        string
	Warnings       string
	ExistingRecord string
}

var headers = []interface{}{
	"Run ID", "Timestamp", "Result", "Invoice #", "Invoice ID",
	"Record Type", "Internal ID", "Message", "Warnings", "Existing Record",
}

const lastColumn = "J"

// NewSheetsService creates a new Google Sheets service
func NewSheetsService(ctx context.Context, sheetURL, worksheet string) (*Service, error) {
	const op = "NewSheetsService"

	// Get Google credentials
	var (
		creds []byte
		err   error
	)
	if credsFile := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); credsFile != "" {
		creds, err = os.ReadFile(credsFile)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to read credentials file: %w", op, err)
		}
	} else if credsJSON := os.Getenv("GOOGLE_CREDENTIALS"); credsJSON != "" {
		creds = []byte(credsJSON)
	} else {
		return nil, fmt.Errorf("%s: neither GOOGLE_APPLICATION_CREDENTIALS nor GOOGLE_CREDENTIALS is set", op)
	}

	config, err := google.JWTConfigFromJSON(creds, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse credentials: %w", op, err)
	}

	return New(ctx, sheetURL, worksheet, option.WithHTTPClient(config.Client(ctx)))
}

// New creates a service with explicit client options.
func New(ctx context.Context, sheetURL, worksheet string, opts ...option.ClientOption) (*Service, error) {
	const op = "New"

	log := logger.WithComponent("sheets")

	spreadsheetID, err := extractSpreadsheetID(sheetURL)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to extract spreadsheet ID: %w", op, err)
	}
	log.Debug().Str("spreadsheet_id", spreadsheetID).Msg("Extracted spreadsheet ID")

	sheetsService, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create sheets service: %w", op, err)
	}

	if worksheet == "" {
		worksheet = "Invoice Sync"
	}
	return &Service{
		sheetsService: sheetsService,
		spreadsheetID: spreadsheetID,
		worksheet:     worksheet,
		log:           log,
	}, nil
}

var spreadsheetIDPattern = regexp.MustCompile(`/spreadsheets/d/([a-zA-Z0-9-_]+)`)

// extractSpreadsheetID extracts the spreadsheet ID from a Google Sheets URL
func extractSpreadsheetID(url string) (string, error) {
	matches := spreadsheetIDPattern.FindStringSubmatch(url)
	if len(matches) < 2 {
		return "", fmt.Errorf("invalid Google Sheets URL format")
	}
	return matches[1], nil
}

// Export appends one row per invoice outcome of rec to the worksheet.
func (s *Service) Export(ctx context.Context, rec *models.AuditRecord) error {
	const op = "Export"

	rows := convertRecordToRows(rec)
	if len(rows) == 0 {
		s.log.Debug().Str("run_id", rec.RunID).Msg("No outcomes to export")
		return nil
	}

	s.log.Info().
		Str("sheet", s.worksheet).
		Int("rows", len(rows)).
		Msg("Writing run outcomes to Google Sheet")

	if err := s.ensureSheetWithHeaders(ctx, s.worksheet); err != nil {
		return fmt.Errorf("%s: failed to ensure sheet exists: %w", op, err)
	}

	var values [][]interface{}
	for _, row := range rows {
		values = append(values, rowToValues(row))
	}

	_, err := s.sheetsService.Spreadsheets.Values.Append(
		s.spreadsheetID,
		s.worksheet+"!A:"+lastColumn,
		&sheets.ValueRange{Values: values},
	).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("%s: failed to append values to sheet: %w", op, err)
	}

	s.log.Info().
		Int("rows_written", len(values)).
		Msg("Successfully wrote run outcomes to Google Sheet")

	return nil
}

// convertRecordToRows flattens the outcomes of rec, successful first.
func convertRecordToRows(rec *models.AuditRecord) []OutcomeRow {
	ts := rec.Timestamp.Format(time.RFC3339)
	groups := []struct {
		result   string
		outcomes []models.Outcome
	}{
		{"Successful", rec.ResponseBody.SuccessfulInvoices},
		{"Failed", rec.ResponseBody.FailedInvoices},
		{"Skipped", rec.ResponseBody.SkippedInvoices},
	}

	var rows []OutcomeRow
	for _, g := range groups {
		for _, o := range g.outcomes {
			row := OutcomeRow{
				RunID:         rec.RunID,
				Timestamp:     ts,
				Result:        g.result,
				InvoiceNumber: o.InvoiceNumber,
				InvoiceID:     o.InvoiceID,
				RecordType:    o.RecordType,
				InternalID:    o.InternalID,
				Message:       o.Error,
				Warnings:      strings.Join(o.Warnings, "; "),
			}
			if o.Reason != "" {
				row.Message = o.Reason
			}
			if o.ExistingRecordID != "" {
				row.ExistingRecord = o.ExistingRecordType + " " + o.ExistingRecordID
			}
			rows = append(rows, row)
		}
	}
	return rows
}

// rowToValues converts OutcomeRow to interface{} slice for Google Sheets
func rowToValues(row OutcomeRow) []interface{} {
	return []interface{}{
		row.RunID,          // A
		row.Timestamp,      // B
		row.Result,         // C
		row.InvoiceNumber,  // D
		row.InvoiceID,      // E
		row.RecordType,     // F
		row.InternalID,     // G
		row.Message,        // H
		row.Warnings,       // I
		row.ExistingRecord, // J
	}
}

// ensureSheetWithHeaders ensures the sheet exists and has proper headers
func (s *Service) ensureSheetWithHeaders(ctx context.Context, sheetName string) error {
	const op = "ensureSheetWithHeaders"

	spreadsheet, err := s.sheetsService.Spreadsheets.Get(s.spreadsheetID).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("%s: failed to get spreadsheet: %w", op, err)
	}

	var sheetExists bool
	var sheetID int64
	for _, sheet := range spreadsheet.Sheets {
		if sheet.Properties != nil && sheet.Properties.Title == sheetName {
			sheetExists = true
			sheetID = sheet.Properties.SheetId
			break
		}
	}

	if !sheetExists {
		s.log.Info().Str("sheet", sheetName).Msg("Creating new sheet")

		batchUpdateReq := &sheets.BatchUpdateSpreadsheetRequest{
			Requests: []*sheets.Request{
				{AddSheet: &sheets.AddSheetRequest{Properties: &sheets.SheetProperties{Title: sheetName}}},
			},
		}
		resp, err := s.sheetsService.Spreadsheets.BatchUpdate(s.spreadsheetID, batchUpdateReq).Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("%s: failed to create sheet: %w", op, err)
		}
		if len(resp.Replies) > 0 && resp.Replies[0].AddSheet != nil {
			sheetID = resp.Replies[0].AddSheet.Properties.SheetId
		}
	}

	headerRange := fmt.Sprintf("%s!A1:%s1", sheetName, lastColumn)
	resp, err := s.sheetsService.Spreadsheets.Values.Get(s.spreadsheetID, headerRange).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("%s: failed to get headers: %w", op, err)
	}

	if len(resp.Values) == 0 || len(resp.Values[0]) == 0 {
		s.log.Info().Str("sheet", sheetName).Msg("Adding headers to sheet")

		_, err = s.sheetsService.Spreadsheets.Values.Update(
			s.spreadsheetID,
			headerRange,
			&sheets.ValueRange{Values: [][]interface{}{headers}},
		).ValueInputOption("RAW").Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("%s: failed to add headers: %w", op, err)
		}

		if err := s.formatHeaders(ctx, sheetID); err != nil {
			s.log.Warn().Err(err).Msg("Failed to format headers, continuing anyway")
		}
	}

	return nil
}

// formatHeaders makes the header row bold and applies basic formatting
func (s *Service) formatHeaders(ctx context.Context, sheetID int64) error {
	const op = "formatHeaders"

	columns := int64(len(headers))
	requests := []*sheets.Request{
		{
			RepeatCell: &sheets.RepeatCellRequest{
				Range: &sheets.GridRange{
					SheetId:          sheetID,
					StartRowIndex:    0,
					EndRowIndex:      1,
					StartColumnIndex: 0,
					EndColumnIndex:   columns,
				},
				Cell: &sheets.CellData{
					UserEnteredFormat: &sheets.CellFormat{
						TextFormat:      &sheets.TextFormat{Bold: true},
						BackgroundColor: &sheets.Color{Red: 0.9, Green: 0.9, Blue: 0.9},
					},
				},
				Fields: "userEnteredFormat(textFormat,backgroundColor)",
			},
		},
		{
			AutoResizeDimensions: &sheets.AutoResizeDimensionsRequest{
				Dimensions: &sheets.DimensionRange{
					SheetId:    sheetID,
					Dimension:  "COLUMNS",
					StartIndex: 0,
					EndIndex:   columns,
				},
			},
		},
	}

	batchUpdateReq := &sheets.BatchUpdateSpreadsheetRequest{Requests: requests}
	if _, err := s.sheetsService.Spreadsheets.BatchUpdate(s.spreadsheetID, batchUpdateReq).Context(ctx).Do(); err != nil {
		return fmt.Errorf("%s: failed to format headers: %w", op, err)
	}
	return nil
}
