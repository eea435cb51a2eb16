// Package report aggregates per-invoice outcomes into a batch summary, writes
// the integration audit record and sends error notifications.
package report

import (
	"strings"
	"time"

	"invoicesync/pkg/models"
)

// Request describes the source request a batch was fetched with.
type Request struct {
	Method string
	Code   int
	URL    string
}

// Summary is the aggregated result of one batch.
type Summary struct {
	RunID      string                  `json:"runId"`
	Counts     models.ExecutionSummary `json:"executionSummary"`
	Status     string                  `json:"status"`
	Outcomes   []models.Outcome        `json:"-"`
	StartedAt  time.Time               `json:"startedAt"`
	FinishedAt time.Time               `json:"finishedAt"`
	AuditID    string                  `json:"auditId,omitempty"`
	Partial    bool                    `json:"partial,omitempty"`
	Truncated  bool                    `json:"truncated,omitempty"`
}

// Aggregate counts outcomes and derives the batch status.
func Aggregate(runID string, outcomes []models.Outcome) Summary {
	s := Summary{RunID: runID, Outcomes: outcomes}
	for _, o := range outcomes {
		switch o.Kind {
		case models.OutcomeSuccessful:
			s.Counts.Successful++
		case models.OutcomeFailed:
			s.Counts.Failed++
		case models.OutcomeSkipped:
			s.Counts.Skipped++
		}
	}
	s.Counts.TotalProcessed = len(outcomes)
	s.Status = StatusOf(s.Counts.Successful, s.Counts.Failed)
	return s
}

// StatusOf returns Success when nothing failed, Failed when something failed
// and nothing succeeded, and Partial otherwise.
func StatusOf(successful, failed int) string {
	switch {
	case failed == 0:
		return models.StatusSuccess
	case successful == 0:
		return models.StatusFailed
	default:
		return models.StatusPartial
	}
}

func (s Summary) byKind(kind models.OutcomeKind) []models.Outcome {
	out := []models.Outcome{}
	for _, o := range s.Outcomes {
		if o.Kind == kind {
			out = append(out, o)
		}
	}
	return out
}

// ResponseBody groups outcomes by kind.
func (s Summary) ResponseBody() models.ResponseBody {
	return models.ResponseBody{
		SuccessfulInvoices: s.byKind(models.OutcomeSuccessful),
		FailedInvoices:     s.byKind(models.OutcomeFailed),
		SkippedInvoices:    s.byKind(models.OutcomeSkipped),
	}
}

// ErrorMessages returns one line per failed invoice followed by one per
// skipped invoice.
func (s Summary) ErrorMessages() []string {
	return ErrorMessages(s.ResponseBody())
}

// ErrorMessages renders the failed then skipped outcomes of body.
func ErrorMessages(body models.ResponseBody) []string {
	var msgs []string
	for _, o := range body.FailedInvoices {
		msgs = append(msgs, o.Message())
	}
	for _, o := range body.SkippedInvoices {
		msgs = append(msgs, o.Message())
	}
	return msgs
}

// RecordTypes returns the distinct record types of all outcomes in first-seen
// order, joined by ", ".
func (s Summary) RecordTypes() string {
	seen := make(map[string]bool)
	var types []string
	for _, o := range s.Outcomes {
		if o.RecordType == "" || seen[o.RecordType] {
			continue
		}
		seen[o.RecordType] = true
		types = append(types, o.RecordType)
	}
	return strings.Join(types, ", ")
}

// AuditRecord builds the integration log entry for the batch.
func (s Summary) AuditRecord(req Request) *models.AuditRecord {
	ts := s.FinishedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return &models.AuditRecord{
		RunID:            s.RunID,
		RequestMethod:    req.Method,
		ResponseCode:     req.Code,
		RecordType:       s.RecordTypes(),
		ExecutionSummary: s.Counts,
		ResponseBody:     s.ResponseBody(),
		Status:           s.Status,
		ErrorMessage:     strings.Join(s.ErrorMessages(), "\n\n"),
		RequestURL:       req.URL,
		Timestamp:        ts,
	}
}

// FailureRecord builds the audit record for a batch that failed before any
// invoice was processed.
func FailureRecord(runID string, req Request, recordType string, err error) *models.AuditRecord {
	return &models.AuditRecord{
		RunID:         runID,
		RequestMethod: req.Method,
		ResponseCode:  req.Code,
		RecordType:    recordType,
		ResponseBody: models.ResponseBody{
			SuccessfulInvoices: []models.Outcome{},
			FailedInvoices:     []models.Outcome{},
			SkippedInvoices:    []models.Outcome{},
		},
		Status:       models.StatusFailed,
		ErrorMessage: err.Error(),
		RequestURL:   req.URL,
		Timestamp:    time.Now(),
	}
}

// NeedsNotification reports whether rec should be emailed.
func NeedsNotification(rec *models.AuditRecord) bool {
	return rec.Status != models.StatusSuccess || rec.ErrorMessage != ""
}
