package models

import "time"

// Audit status values.
const (
	StatusSuccess = "Success"
	StatusPartial = "Partial"
	StatusFailed  = "Failed"
)

// ExecutionSummary is the count block stored with every audit record.
type ExecutionSummary struct {
	TotalProcessed int `json:"totalProcessed"`
	Successful     int `json:"successful"`
	Failed         int `json:"failed"`
	Skipped        int `json:"skipped"`
}

// ResponseBody groups the per-invoice entries of a run.
type ResponseBody struct {
	SuccessfulInvoices []Outcome `json:"successfulInvoices"`
	FailedInvoices     []Outcome `json:"failedInvoices"`
	SkippedInvoices    []Outcome `json:"skippedInvoices"`
}

// AuditRecord is the persisted integration log entry for one run.
type AuditRecord struct {
	ID               string           `json:"id"`
	RunID            string           `json:"runId"`
	RequestMethod    string           `json:"requestMethod"`
	ResponseCode     int              `json:"responseCode"`
	RecordType       string           `json:"recordType"`
	ExecutionSummary ExecutionSummary `json:"executionSummary"`
	ResponseBody     ResponseBody     `json:"responseBody"`
	Status           string           `json:"status"`
	ErrorMessage     string           `json:"errorMessage"`
	RequestURL       string           `json:"requestUrl"`
	Timestamp        time.Time        `json:"timestamp"`
}
