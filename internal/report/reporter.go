package report

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"invoicesync/internal/logger"
	"invoicesync/pkg/models"
)

// AuditSink persists audit records.
type AuditSink interface {
	SaveAudit(ctx context.Context, rec *models.AuditRecord) error
}

// Exporter receives every published audit record, e.g. to mirror it to a
// spreadsheet.
type Exporter interface {
	Export(ctx context.Context, rec *models.AuditRecord) error
}

// Options configures a Reporter.
type Options struct {
	Notifier      Notifier
	Recipients    []string
	SubjectPrefix string

	// PublicURL is the base of the HTTP surface used for log links.
	PublicURL string

	Exporters []Exporter
}

// Reporter writes audit records and sends notifications.
type Reporter struct {
	sink AuditSink
	opts Options
	log  zerolog.Logger
}

func NewReporter(sink AuditSink, opts Options) *Reporter {
	if opts.SubjectPrefix == "" {
		opts.SubjectPrefix = "[Ledger Integration]"
	}
	return &Reporter{
		sink: sink,
		opts: opts,
		log:  logger.WithComponent("report"),
	}
}

// Report writes the audit record for a processed batch and notifies when the
// batch was not clean. The summary's AuditID is set on success.
func (r *Reporter) Report(ctx context.Context, s *Summary, req Request) (*models.AuditRecord, error) {
	rec := s.AuditRecord(req)
	if err := r.Publish(ctx, rec); err != nil {
		return rec, err
	}
	s.AuditID = rec.ID
	return rec, nil
}

// ReportFailure records a batch that failed before processing.
func (r *Reporter) ReportFailure(ctx context.Context, runID string, req Request, recordType string, cause error) (*models.AuditRecord, error) {
	rec := FailureRecord(runID, req, recordType, cause)
	return rec, r.Publish(ctx, rec)
}

// Publish saves rec, then notifies and exports. Only a failed save is
// returned; notification and export failures are logged.
func (r *Reporter) Publish(ctx context.Context, rec *models.AuditRecord) error {
	const op = "Publish"

	if err := r.sink.SaveAudit(ctx, rec); err != nil {
		return fmt.Errorf("%s: failed to write audit record: %w", op, err)
	}

	r.log.Info().
		Str("audit_id", rec.ID).
		Str("run_id", rec.RunID).
		Str("status", rec.Status).
		Int("total", rec.ExecutionSummary.TotalProcessed).
		Int("successful", rec.ExecutionSummary.Successful).
		Int("failed", rec.ExecutionSummary.Failed).
		Int("skipped", rec.ExecutionSummary.Skipped).
		Msg("Integration log written")

	if NeedsNotification(rec) {
		if err := r.notify(ctx, rec); err != nil {
			r.log.Error().Err(err).Str("audit_id", rec.ID).Msg("Failed to send error notification")
		}
	}

	for _, exp := range r.opts.Exporters {
		if err := exp.Export(ctx, rec); err != nil {
			r.log.Error().Err(err).Str("audit_id", rec.ID).Msg("Failed to export run")
		}
	}
	return nil
}

func (r *Reporter) notify(ctx context.Context, rec *models.AuditRecord) error {
	if r.opts.Notifier == nil || len(r.opts.Recipients) == 0 {
		r.log.Debug().Msg("No notification recipients configured, skipping email")
		return nil
	}

	body, err := RenderEmail(rec, r.LogURL(rec.ID))
	if err != nil {
		return err
	}
	n := Notification{
		Recipients: r.opts.Recipients,
		Subject:    Subject(r.opts.SubjectPrefix, rec),
		HTML:       body,
	}
	if err := r.opts.Notifier.Notify(ctx, n); err != nil {
		return err
	}

	r.log.Info().
		Strs("recipients", n.Recipients).
		Str("subject", n.Subject).
		Msg("Error notification sent")
	return nil
}

// LogURL links to an audit record on the HTTP surface.
func (r *Reporter) LogURL(id string) string {
	if r.opts.PublicURL == "" || id == "" {
		return ""
	}
	return strings.TrimRight(r.opts.PublicURL, "/") + "/api/v1/audit/" + id
}
