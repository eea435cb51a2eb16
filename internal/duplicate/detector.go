// Package duplicate checks whether a source invoice was already recorded in
// the ledger as a bill or a credit.
package duplicate

import (
	"context"

	"github.com/rs/zerolog"

	"invoicesync/internal/logger"
	"invoicesync/pkg/services"
)

// Finder looks up a transaction by external id.
type Finder interface {
	FindTransaction(ctx context.Context, kind services.RecordKind, externalID string) (*services.TransactionRef, error)
}

// Result is the outcome of a duplicate check.
type Result struct {
	IsDuplicate bool
	RecordType  string
	InternalID  string
}

// Detector queries bills first, then credits.
type Detector struct {
	finder Finder
	kinds  []services.RecordKind
	log    zerolog.Logger
}

func NewDetector(f Finder) *Detector {
	return &Detector{
		finder: f,
		kinds:  []services.RecordKind{services.KindBill, services.KindCredit},
		log:    logger.WithComponent("duplicate"),
	}
}

// Check returns the first transaction whose external id matches. A failed
// query counts as "not a duplicate" so the invoice is still attempted.
func (d *Detector) Check(ctx context.Context, externalID string) Result {
	for _, kind := range d.kinds {
		ref, err := d.finder.FindTransaction(ctx, kind, externalID)
		if err != nil {
			d.log.Warn().
				Err(err).
				Str("external_id", externalID).
				Str("kind", string(kind)).
				Msg("Duplicate check failed, treating invoice as new")
			return Result{}
		}
		if ref != nil {
			d.log.Debug().
				Str("external_id", externalID).
				Str("record_type", kind.Label()).
				Str("internal_id", ref.InternalID).
				Msg("Duplicate found")
			return Result{IsDuplicate: true, RecordType: kind.Label(), InternalID: ref.InternalID}
		}
	}
	return Result{}
}
