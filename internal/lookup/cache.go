// Package lookup builds the batch-scoped tables that map normalized source
// values to ledger internal ids.
package lookup

import (
	"context"
	"fmt"
	"iter"
	"regexp"
	"strings"

	"golang.org/x/sync/errgroup"

	"invoicesync/internal/logger"
	"invoicesync/pkg/services"
)

// Table is a normalized key to internal id mapping.
type Table map[string]string

// Tables groups the six tables of a Cache.
type Tables struct {
	Departments Table
	Classes     Table
	Locations   Table
	Jobs        Table
	TaxCodes    Table
	Accounts    Table
}

// Cache is read-only after Build and safe for concurrent use.
type Cache struct {
	t Tables
}

// Searcher is the part of the ledger the cache is built from.
type Searcher interface {
	Search(ctx context.Context, q services.Query) iter.Seq2[services.ReferenceRecord, error]
}

// NewCache wraps prebuilt tables. Keys are normalized on the way in.
func NewCache(t Tables) *Cache {
	return &Cache{t: Tables{
		Departments: normalizeTable(t.Departments, NormalizeDepartment),
		Classes:     normalizeTable(t.Classes, NormalizeKey),
		Locations:   normalizeTable(t.Locations, NormalizeKey),
		Jobs:        normalizeTable(t.Jobs, NormalizeKey),
		TaxCodes:    normalizeTable(t.TaxCodes, NormalizeKey),
		Accounts:    normalizeTable(t.Accounts, NormalizeKey),
	}}
}

func normalizeTable(in Table, norm func(string) string) Table {
	out := make(Table, len(in))
	for k, v := range in {
		if key := norm(k); key != "" {
			out[key] = v
		}
	}
	return out
}

type tableSpec struct {
	name   string
	query  services.Query
	key    func(services.ReferenceRecord) string
	target *Table
}

// Build loads every table from the ledger concurrently. Any failed search
// fails the whole build.
func Build(ctx context.Context, s Searcher) (*Cache, error) {
	const op = "Build"
	log := logger.WithComponent("lookup")

	var t Tables
	specs := []tableSpec{
		{
			name:   "departments",
			query:  services.Query{Kind: services.KindDepartment},
			key:    func(r services.ReferenceRecord) string { return NormalizeDepartment(r.Name) },
			target: &t.Departments,
		},
		{
			name:   "classes",
			query:  services.Query{Kind: services.KindClassification},
			key:    func(r services.ReferenceRecord) string { return NormalizeKey(r.ExternalID) },
			target: &t.Classes,
		},
		{
			name:   "locations",
			query:  services.Query{Kind: services.KindLocation},
			key:    func(r services.ReferenceRecord) string { return NormalizeKey(r.ExternalID) },
			target: &t.Locations,
		},
		{
			name:   "jobs",
			query:  services.Query{Kind: services.KindJob},
			key:    func(r services.ReferenceRecord) string { return NormalizeKey(r.ExternalID) },
			target: &t.Jobs,
		},
		{
			name:   "tax codes",
			query:  services.Query{Kind: services.KindTaxItem, ActiveOnly: true},
			key:    func(r services.ReferenceRecord) string { return NormalizeKey(r.ItemID) },
			target: &t.TaxCodes,
		},
		{
			name:   "accounts",
			query:  services.Query{Kind: services.KindAccount, ActiveOnly: true},
			key:    func(r services.ReferenceRecord) string { return NormalizeKey(r.Number) },
			target: &t.Accounts,
		},
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, spec := range specs {
		g.Go(func() error {
			table := make(Table)
			for rec, err := range s.Search(gctx, spec.query) {
				if err != nil {
					return fmt.Errorf("%s: failed to load %s: %w", op, spec.name, err)
				}
				if key := spec.key(rec); key != "" {
					table[key] = rec.InternalID
				}
			}
			*spec.target = table
			log.Debug().Str("table", spec.name).Int("entries", len(table)).Msg("Lookup table loaded")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	c := &Cache{t: t}
	log.Info().
		Int("departments", len(t.Departments)).
		Int("classes", len(t.Classes)).
		Int("locations", len(t.Locations)).
		Int("jobs", len(t.Jobs)).
		Int("tax_codes", len(t.TaxCodes)).
		Int("accounts", len(t.Accounts)).
		Msg("Lookup cache built")
	return c, nil
}

var (
	leadingNumber = regexp.MustCompile(`^\d+\s*`)
	innerSpace    = regexp.MustCompile(`\s+`)
)

// NormalizeKey uppercases and trims s.
func NormalizeKey(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// NormalizeDepartment keeps the text after the last ':', drops a leading
// numeric prefix, collapses whitespace and uppercases.
//
//	"Operations : 200 Finance" -> "FINANCE"
func NormalizeDepartment(name string) string {
	if i := strings.LastIndex(name, ":"); i >= 0 {
		name = name[i+1:]
	}
	name = strings.TrimSpace(name)
	name = leadingNumber.ReplaceAllString(name, "")
	name = innerSpace.ReplaceAllString(name, " ")
	return strings.ToUpper(strings.TrimSpace(name))
}

func (c *Cache) Department(name string) (string, bool) {
	id, ok := c.t.Departments[NormalizeDepartment(name)]
	return id, ok
}

func (c *Cache) Class(code string) (string, bool) {
	id, ok := c.t.Classes[NormalizeKey(code)]
	return id, ok
}

func (c *Cache) Location(code string) (string, bool) {
	id, ok := c.t.Locations[NormalizeKey(code)]
	return id, ok
}

func (c *Cache) Job(code string) (string, bool) {
	id, ok := c.t.Jobs[NormalizeKey(code)]
	return id, ok
}

func (c *Cache) TaxCode(code string) (string, bool) {
	id, ok := c.t.TaxCodes[NormalizeKey(code)]
	return id, ok
}

func (c *Cache) Account(number string) (string, bool) {
	id, ok := c.t.Accounts[NormalizeKey(number)]
	return id, ok
}

// Sizes reports the number of entries per table, for logs and the CLI.
func (c *Cache) Sizes() map[string]int {
	return map[string]int{
		"departments": len(c.t.Departments),
		"classes":     len(c.t.Classes),
		"locations":   len(c.t.Locations),
		"jobs":        len(c.t.Jobs),
		"tax_codes":   len(c.t.TaxCodes),
		"accounts":    len(c.t.Accounts),
	}
}
