package ledger

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"invoicesync/pkg/services"
)

// SaveReference inserts or replaces a reference record.
func (s *Store) SaveReference(ctx context.Context, rec services.ReferenceRecord) error {
	if rec.Kind == "" || rec.Kind.IsTransaction() {
		return fmt.Errorf("invalid reference kind %q", rec.Kind)
	}
	if rec.InternalID == "" {
		return fmt.Errorf("%s record requires an internal id", rec.Kind.Label())
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reference_records (kind, internal_id, name, external_id, number, item_id, inactive)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (kind, internal_id) DO UPDATE SET
			name = excluded.name,
			external_id = excluded.external_id,
			number = excluded.number,
			item_id = excluded.item_id,
			inactive = excluded.inactive`,
		string(rec.Kind), rec.InternalID, rec.Name, rec.ExternalID, rec.Number, rec.ItemID, rec.Inactive)
	if err != nil {
		return fmt.Errorf("failed to save %s %s: %w", rec.Kind.Label(), rec.InternalID, err)
	}
	return nil
}

// Search yields reference records of one kind page by page. Each page is read
// fully before it is yielded so callers may query the store while ranging.
func (s *Store) Search(ctx context.Context, q services.Query) iter.Seq2[services.ReferenceRecord, error] {
	return func(yield func(services.ReferenceRecord, error) bool) {
		size := q.PageSize
		if size <= 0 {
			size = s.pageSize
		}

		for offset := 0; ; offset += size {
			page, err := s.searchPage(ctx, q, size, offset)
			if err != nil {
				yield(services.ReferenceRecord{}, err)
				return
			}
			for _, rec := range page {
				if !yield(rec, nil) {
					return
				}
			}
			if len(page) < size {
				return
			}
		}
	}
}

func (s *Store) searchPage(ctx context.Context, q services.Query, limit, offset int) ([]services.ReferenceRecord, error) {
	query := `SELECT internal_id, name, external_id, number, item_id, inactive
		FROM reference_records WHERE kind = ?`
	if q.ActiveOnly {
		query += ` AND inactive = 0`
	}
	query += ` ORDER BY rowid LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, query, string(q.Kind), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", q.Kind.Label(), err)
	}
	defer rows.Close()

	var page []services.ReferenceRecord
	for rows.Next() {
		rec := services.ReferenceRecord{Kind: q.Kind}
		if err := rows.Scan(&rec.InternalID, &rec.Name, &rec.ExternalID, &rec.Number, &rec.ItemID, &rec.Inactive); err != nil {
			return nil, fmt.Errorf("search %s: %w", q.Kind.Label(), err)
		}
		page = append(page, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search %s: %w", q.Kind.Label(), err)
	}
	return page, nil
}

// referenceExists reports whether an active record of kind has the internal id.
func (s *Store) referenceExists(ctx context.Context, q querier, kind services.RecordKind, internalID string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reference_records WHERE kind = ? AND internal_id = ? AND inactive = 0`,
		string(kind), internalID).Scan(&n)
	return n > 0, err
}

// vendorExists matches a vendor by name, ignoring case and surrounding space.
func (s *Store) vendorExists(ctx context.Context, q querier, name string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reference_records WHERE kind = ? AND UPPER(name) = ? AND inactive = 0`,
		string(services.KindVendor), strings.ToUpper(strings.TrimSpace(name))).Scan(&n)
	return n > 0, err
}
