package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"invoicesync/pkg/services"
)

// RecordPayment stores a vendor payment and marks the bills it applies to as
// paid in full. It returns the payment's internal id.
func (s *Store) RecordPayment(ctx context.Context, billIDs []string, at time.Time) (string, error) {
	if len(billIDs) == 0 {
		return "", fmt.Errorf("payment must apply to at least one bill")
	}
	if at.IsZero() {
		at = time.Now()
	}

	dbtx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer dbtx.Rollback()

	res, err := dbtx.ExecContext(ctx, `INSERT INTO payments (created_at) VALUES (?)`, formatTime(at))
	if err != nil {
		return "", fmt.Errorf("failed to insert payment: %w", err)
	}
	paymentID, err := res.LastInsertId()
	if err != nil {
		return "", fmt.Errorf("failed to read payment id: %w", err)
	}

	for _, billID := range billIDs {
		id, err := parseID(billID)
		if err != nil {
			return "", err
		}
		upd, err := dbtx.ExecContext(ctx,
			`UPDATE transactions SET status = ? WHERE id = ? AND kind = ?`,
			services.StatusPaidInFull, id, string(services.KindBill))
		if err != nil {
			return "", fmt.Errorf("failed to mark bill %s paid: %w", billID, err)
		}
		if n, _ := upd.RowsAffected(); n == 0 {
			return "", fmt.Errorf("%w: %s %s", ErrNotFound, services.KindBill.Label(), billID)
		}
		if _, err := dbtx.ExecContext(ctx,
			`INSERT INTO payment_applications (payment_id, transaction_id, applied) VALUES (?, ?, 1)`,
			paymentID, billID); err != nil {
			return "", fmt.Errorf("failed to apply payment to bill %s: %w", billID, err)
		}
	}

	if err := dbtx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit payment: %w", err)
	}

	internalID := strconv.FormatInt(paymentID, 10)
	s.log.Info().
		Str("payment_id", internalID).
		Strs("bills", billIDs).
		Msg("Vendor payment recorded")
	return internalID, nil
}

// LoadPayment loads a vendor payment and its applications.
func (s *Store) LoadPayment(ctx context.Context, internalID string) (*services.Payment, error) {
	id, err := parseID(internalID)
	if err != nil {
		return nil, err
	}

	var createdAt string
	err = s.db.QueryRowContext(ctx, `SELECT created_at FROM payments WHERE id = ?`, id).Scan(&createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: vendor payment %s", ErrNotFound, internalID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load vendor payment %s: %w", internalID, err)
	}

	payment := &services.Payment{InternalID: internalID}
	if payment.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse payment date: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT transaction_id, applied FROM payment_applications WHERE payment_id = ? ORDER BY rowid`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load payment applications: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var app services.PaymentApplication
		if err := rows.Scan(&app.TransactionID, &app.Applied); err != nil {
			return nil, fmt.Errorf("failed to scan payment application: %w", err)
		}
		payment.Applied = append(payment.Applied, app)
	}
	return payment, rows.Err()
}
