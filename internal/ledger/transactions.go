package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"invoicesync/pkg/services"
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// FindTransaction returns the transaction of kind with the external id, or nil.
func (s *Store) FindTransaction(ctx context.Context, kind services.RecordKind, externalID string) (*services.TransactionRef, error) {
	return s.findTransaction(ctx, s.db, kind, externalID)
}

func (s *Store) findTransaction(ctx context.Context, q querier, kind services.RecordKind, externalID string) (*services.TransactionRef, error) {
	if externalID == "" {
		return nil, nil
	}
	var (
		id     int64
		tranID string
	)
	err := q.QueryRowContext(ctx,
		`SELECT id, tran_id FROM transactions WHERE kind = ? AND external_id = ? LIMIT 1`,
		string(kind), externalID).Scan(&id, &tranID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find %s by external id %s: %w", kind.Label(), externalID, err)
	}
	return &services.TransactionRef{
		Kind:       kind,
		InternalID: strconv.FormatInt(id, 10),
		TranID:     tranID,
		ExternalID: externalID,
	}, nil
}

// SaveTransaction validates tx and inserts it with its lines. The vendor must
// exist by name and every line must reference an active account.
func (s *Store) SaveTransaction(ctx context.Context, tx *services.Transaction) (string, error) {
	if tx == nil || !tx.Kind.IsTransaction() {
		return "", fmt.Errorf("%w: unsupported record kind", ErrInvalidTransaction)
	}

	dbtx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer dbtx.Rollback()

	if err := s.validateTransaction(ctx, dbtx, tx); err != nil {
		return "", err
	}

	if existing, err := s.findTransaction(ctx, dbtx, tx.Kind, tx.ExternalID); err != nil {
		return "", err
	} else if existing != nil {
		return "", fmt.Errorf("%w: %s %s", ErrDuplicateExternalID, tx.Kind.Label(), existing.InternalID)
	}

	status := tx.Status
	if status == "" {
		status = services.StatusOpen
	}
	tranDate := tx.TranDate
	if tranDate.IsZero() {
		tranDate = time.Now()
	}

	res, err := dbtx.ExecContext(ctx, `
		INSERT INTO transactions (kind, tran_id, supplier, tran_date, due_date, other_ref_num, memo,
			error_note, created_from_source, external_id, status, sync_status, sync_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(tx.Kind), tx.TranID, tx.Supplier, formatTime(tranDate), nullTime(tx.DueDate),
		tx.OtherRefNum, tx.Memo, tx.ErrorNote, tx.CreatedFromSource, nullString(tx.ExternalID),
		status, tx.SyncStatus, nullTime(tx.SyncDate))
	if err != nil {
		return "", fmt.Errorf("failed to insert %s: %w", tx.Kind.Label(), err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return "", fmt.Errorf("failed to read %s id: %w", tx.Kind.Label(), err)
	}

	for i, line := range tx.Lines {
		_, err := dbtx.ExecContext(ctx, `
			INSERT INTO transaction_lines (transaction_id, line_no, account, memo, quantity, rate, amount,
				location, department, class, customer, tax_code)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, i+1, line.Account, line.Memo, line.Quantity.String(), line.Rate.String(), line.Amount.String(),
			line.Location, line.Department, line.Class, line.Customer, line.TaxCode)
		if err != nil {
			return "", fmt.Errorf("failed to insert %s line %d: %w", tx.Kind.Label(), i+1, err)
		}
	}

	if err := dbtx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit %s: %w", tx.Kind.Label(), err)
	}

	internalID := strconv.FormatInt(id, 10)
	s.log.Info().
		Str("kind", string(tx.Kind)).
		Str("internal_id", internalID).
		Str("external_id", tx.ExternalID).
		Int("lines", len(tx.Lines)).
		Msg("Transaction saved")

	return internalID, nil
}

func (s *Store) validateTransaction(ctx context.Context, q querier, tx *services.Transaction) error {
	var problems []string

	if strings.TrimSpace(tx.Supplier) == "" {
		problems = append(problems, "vendor is required")
	} else if ok, err := s.vendorExists(ctx, q, tx.Supplier); err != nil {
		return fmt.Errorf("failed to look up vendor: %w", err)
	} else if !ok {
		problems = append(problems, fmt.Sprintf("vendor %q not found", tx.Supplier))
	}

	if len(tx.Lines) == 0 {
		problems = append(problems, "at least one expense line is required")
	}
	for i, line := range tx.Lines {
		if line.Account == "" {
			problems = append(problems, fmt.Sprintf("line %d: account is required", i+1))
			continue
		}
		ok, err := s.referenceExists(ctx, q, services.KindAccount, line.Account)
		if err != nil {
			return fmt.Errorf("failed to look up account: %w", err)
		}
		if !ok {
			problems = append(problems, fmt.Sprintf("line %d: account %s not found", i+1, line.Account))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidTransaction, strings.Join(problems, "; "))
	}
	return nil
}

// LoadTransaction loads a transaction with its lines.
func (s *Store) LoadTransaction(ctx context.Context, kind services.RecordKind, internalID string) (*services.Transaction, error) {
	id, err := parseID(internalID)
	if err != nil {
		return nil, err
	}

	tx := &services.Transaction{Kind: kind, InternalID: internalID}
	var (
		tranDate          string
		dueDate, syncDate sql.NullString
		externalID        sql.NullString
	)
	err = s.db.QueryRowContext(ctx, `
		SELECT tran_id, supplier, tran_date, due_date, other_ref_num, memo, error_note,
			created_from_source, external_id, status, sync_status, sync_date
		FROM transactions WHERE id = ? AND kind = ?`, id, string(kind)).
		Scan(&tx.TranID, &tx.Supplier, &tranDate, &dueDate, &tx.OtherRefNum, &tx.Memo, &tx.ErrorNote,
			&tx.CreatedFromSource, &externalID, &tx.Status, &tx.SyncStatus, &syncDate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s %s", ErrNotFound, kind.Label(), internalID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s %s: %w", kind.Label(), internalID, err)
	}

	tx.ExternalID = externalID.String
	if tx.TranDate, err = parseTime(tranDate); err != nil {
		return nil, fmt.Errorf("failed to parse tran date: %w", err)
	}
	if tx.DueDate, err = scanNullTime(dueDate); err != nil {
		return nil, fmt.Errorf("failed to parse due date: %w", err)
	}
	if tx.SyncDate, err = scanNullTime(syncDate); err != nil {
		return nil, fmt.Errorf("failed to parse sync date: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT account, memo, quantity, rate, amount, location, department, class, customer, tax_code
		FROM transaction_lines WHERE transaction_id = ? ORDER BY line_no`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var line services.TransactionLine
		if err := rows.Scan(&line.Account, &line.Memo, &line.Quantity, &line.Rate, &line.Amount,
			&line.Location, &line.Department, &line.Class, &line.Customer, &line.TaxCode); err != nil {
			return nil, fmt.Errorf("failed to scan line: %w", err)
		}
		tx.Lines = append(tx.Lines, line)
	}
	return tx, rows.Err()
}

// TransactionFilter narrows ListTransactions.
type TransactionFilter struct {
	Kind              services.RecordKind
	Status            string
	CreatedFromSource bool
	Limit             int
}

// ListTransactions returns transaction headers, newest first. Lines are not loaded.
func (s *Store) ListTransactions(ctx context.Context, f TransactionFilter) ([]services.Transaction, error) {
	query := `SELECT id, kind, tran_id, supplier, tran_date, external_id, status, sync_status, created_from_source
		FROM transactions WHERE 1 = 1`
	var args []any
	if f.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(f.Kind))
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.CreatedFromSource {
		query += ` AND created_from_source = 1`
	}
	query += ` ORDER BY id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var out []services.Transaction
	for rows.Next() {
		var (
			tx         services.Transaction
			id         int64
			kind       string
			tranDate   string
			externalID sql.NullString
		)
		if err := rows.Scan(&id, &kind, &tx.TranID, &tx.Supplier, &tranDate, &externalID,
			&tx.Status, &tx.SyncStatus, &tx.CreatedFromSource); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		tx.InternalID = strconv.FormatInt(id, 10)
		tx.Kind = services.RecordKind(kind)
		tx.ExternalID = externalID.String
		var err error
		if tx.TranDate, err = parseTime(tranDate); err != nil {
			return nil, fmt.Errorf("failed to parse tran date of transaction %d: %w", id, err)
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

// UpdateSyncFields records the payment sync status of a transaction.
func (s *Store) UpdateSyncFields(ctx context.Context, kind services.RecordKind, internalID string, fields services.SyncFields) error {
	id, err := parseID(internalID)
	if err != nil {
		return err
	}
	syncDate := fields.SyncDate
	res, err := s.db.ExecContext(ctx,
		`UPDATE transactions SET sync_status = ?, sync_date = ? WHERE id = ? AND kind = ?`,
		fields.SyncStatus, nullTime(&syncDate), id, string(kind))
	if err != nil {
		return fmt.Errorf("failed to update sync fields of %s %s: %w", kind.Label(), internalID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s %s", ErrNotFound, kind.Label(), internalID)
	}

	s.log.Debug().
		Str("kind", string(kind)).
		Str("internal_id", internalID).
		Int("sync_status", fields.SyncStatus).
		Msg("Sync fields updated")
	return nil
}
