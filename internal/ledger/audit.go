package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"invoicesync/pkg/models"
)

// SaveAudit persists an integration log record. An empty ID is replaced with a
// new UUID and a zero Timestamp with the current time.
func (s *Store) SaveAudit(ctx context.Context, rec *models.AuditRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	summary, err := json.Marshal(rec.ExecutionSummary)
	if err != nil {
		return fmt.Errorf("failed to encode execution summary: %w", err)
	}
	body, err := json.MarshalIndent(rec.ResponseBody, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode response body: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, run_id, request_method, response_code, record_type, execution_summary,
			response_body, status, error_message, request_url, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.RunID, rec.RequestMethod, rec.ResponseCode, rec.RecordType, string(summary),
		string(body), rec.Status, rec.ErrorMessage, rec.RequestURL, formatTime(rec.Timestamp))
	if err != nil {
		return fmt.Errorf("failed to save audit record: %w", err)
	}

	s.log.Info().
		Str("audit_id", rec.ID).
		Str("run_id", rec.RunID).
		Str("status", rec.Status).
		Msg("Integration log record saved")
	return nil
}

// AuditFilter narrows ListAudit.
type AuditFilter struct {
	Status string
	Since  time.Time
	Limit  int
}

const auditColumns = `id, run_id, request_method, response_code, record_type, execution_summary,
	response_body, status, error_message, request_url, timestamp`

// ListAudit returns audit records, newest first.
func (s *Store) ListAudit(ctx context.Context, f AuditFilter) ([]models.AuditRecord, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_log WHERE 1 = 1`
	var args []any
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	if !f.Since.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, formatTime(f.Since))
	}
	query += ` ORDER BY timestamp DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit records: %w", err)
	}
	defer rows.Close()

	var out []models.AuditRecord
	for rows.Next() {
		rec, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// GetAudit loads one audit record.
func (s *Store) GetAudit(ctx context.Context, id string) (*models.AuditRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+auditColumns+` FROM audit_log WHERE id = ?`, id)
	rec, err := scanAudit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: audit record %s", ErrNotFound, id)
	}
	return rec, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAudit(sc scanner) (*models.AuditRecord, error) {
	var (
		rec           models.AuditRecord
		summary, body string
		timestamp     string
	)
	if err := sc.Scan(&rec.ID, &rec.RunID, &rec.RequestMethod, &rec.ResponseCode, &rec.RecordType,
		&summary, &body, &rec.Status, &rec.ErrorMessage, &rec.RequestURL, &timestamp); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan audit record: %w", err)
	}
	if err := json.Unmarshal([]byte(summary), &rec.ExecutionSummary); err != nil {
		return nil, fmt.Errorf("failed to decode execution summary: %w", err)
	}
	if err := json.Unmarshal([]byte(body), &rec.ResponseBody); err != nil {
		return nil, fmt.Errorf("failed to decode response body: %w", err)
	}
	markKind(rec.ResponseBody.SuccessfulInvoices, models.OutcomeSuccessful)
	markKind(rec.ResponseBody.FailedInvoices, models.OutcomeFailed)
	markKind(rec.ResponseBody.SkippedInvoices, models.OutcomeSkipped)

	ts, err := parseTime(timestamp)
	if err != nil {
		return nil, fmt.Errorf("failed to parse audit timestamp: %w", err)
	}
	rec.Timestamp = ts
	return &rec, nil
}

func markKind(outcomes []models.Outcome, kind models.OutcomeKind) {
	for i := range outcomes {
		outcomes[i].Kind = kind
	}
}
