// Package ledger is the accounting-system side of the integration: a SQLite
// store holding reference records, vendor bills and credits, vendor payments,
// and the integration audit log.
package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"invoicesync/internal/logger"
	"invoicesync/pkg/services"
)

// DefaultPageSize is the number of rows fetched per Search page.
const DefaultPageSize = 1000

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidTransaction is returned when a transaction fails save validation.
	ErrInvalidTransaction = errors.New("invalid transaction")

	// ErrDuplicateExternalID is returned when a transaction with the same kind
	// and external id already exists.
	ErrDuplicateExternalID = errors.New("transaction with this external id already exists")
)

var _ services.LedgerService = (*Store)(nil)

// Store is a SQLite-backed ledger.
type Store struct {
	db       *sql.DB
	pageSize int
	log      zerolog.Logger
}

// Open opens (creating when needed) the ledger database at path.
func Open(path string) (*Store, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(home, path[1:])
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create ledger directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}
	// One connection serializes writers from the worker pool.
	db.SetMaxOpenConns(1)

	store := &Store{
		db:       db,
		pageSize: DefaultPageSize,
		log:      logger.WithComponent("ledger"),
	}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate ledger database: %w", err)
	}

	store.log.Debug().Str("path", path).Msg("Ledger database opened")
	return store, nil
}

// SetPageSize overrides DefaultPageSize for Search.
func (s *Store) SetPageSize(n int) {
	if n > 0 {
		s.pageSize = n
	}
}

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS reference_records (
			kind TEXT NOT NULL,
			internal_id TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			external_id TEXT NOT NULL DEFAULT '',
			number TEXT NOT NULL DEFAULT '',
			item_id TEXT NOT NULL DEFAULT '',
			inactive INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (kind, internal_id)
		);

		CREATE TABLE IF NOT EXISTS transactions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			kind TEXT NOT NULL,
			tran_id TEXT NOT NULL DEFAULT '',
			supplier TEXT NOT NULL,
			tran_date TEXT NOT NULL,
			due_date TEXT,
			other_ref_num TEXT NOT NULL DEFAULT '',
			memo TEXT NOT NULL DEFAULT '',
			error_note TEXT NOT NULL DEFAULT '',
			created_from_source INTEGER NOT NULL DEFAULT 0,
			external_id TEXT,
			status TEXT NOT NULL DEFAULT 'open',
			sync_status INTEGER NOT NULL DEFAULT 0,
			sync_date TEXT,
			UNIQUE (kind, external_id)
		);

		CREATE TABLE IF NOT EXISTS transaction_lines (
			transaction_id INTEGER NOT NULL,
			line_no INTEGER NOT NULL,
			account TEXT NOT NULL,
			memo TEXT NOT NULL DEFAULT '',
			quantity TEXT NOT NULL,
			rate TEXT NOT NULL,
			amount TEXT NOT NULL,
			location TEXT NOT NULL DEFAULT '',
			department TEXT NOT NULL DEFAULT '',
			class TEXT NOT NULL DEFAULT '',
			customer TEXT NOT NULL DEFAULT '',
			tax_code TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (transaction_id, line_no),
			FOREIGN KEY (transaction_id) REFERENCES transactions(id) ON DELETE CASCADE
		);

		CREATE TABLE IF NOT EXISTS payments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS payment_applications (
			payment_id INTEGER NOT NULL,
			transaction_id TEXT NOT NULL,
			applied INTEGER NOT NULL DEFAULT 1,
			FOREIGN KEY (payment_id) REFERENCES payments(id) ON DELETE CASCADE
		);

		CREATE TABLE IF NOT EXISTS audit_log (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL DEFAULT '',
			request_method TEXT NOT NULL DEFAULT '',
			response_code INTEGER NOT NULL DEFAULT 0,
			record_type TEXT NOT NULL DEFAULT '',
			execution_summary TEXT NOT NULL DEFAULT '{}',
			response_body TEXT NOT NULL DEFAULT '{}',
			status TEXT NOT NULL,
			error_message TEXT NOT NULL DEFAULT '',
			request_url TEXT NOT NULL DEFAULT '',
			timestamp TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_transactions_external ON transactions(external_id);
		CREATE INDEX IF NOT EXISTS idx_applications_payment ON payment_applications(payment_id);
		CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_log(timestamp);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// timeLayout has a fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(raw string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, raw)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil || t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func scanNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func parseID(internalID string) (int64, error) {
	id, err := strconv.ParseInt(internalID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: internal id %q", ErrNotFound, internalID)
	}
	return id, nil
}
