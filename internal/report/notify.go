package report

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"invoicesync/pkg/models"
)

const (
	// MaxErrorsInEmail caps the error list in a notification.
	MaxErrorsInEmail = 10

	// MaxFailedRowsInEmail caps the failed-invoice table in a notification.
	MaxFailedRowsInEmail = 5
)

// Notification is a rendered email.
type Notification struct {
	Recipients []string
	Subject    string
	HTML       string
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// ParseRecipients splits a comma-separated address list, trimming entries and
// dropping empty ones.
func ParseRecipients(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if addr := strings.TrimSpace(part); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}

// Subject renders "<prefix> <status> - <record type> Sync Error".
func Subject(prefix string, rec *models.AuditRecord) string {
	recordType := rec.RecordType
	if recordType == "" {
		recordType = "Integration"
	}
	return fmt.Sprintf("%s %s - %s Sync Error", prefix, rec.Status, recordType)
}

type emailData struct {
	Record        *models.AuditRecord
	Errors        []string
	MoreErrors    int
	FailedRows    []models.Outcome
	FailedTotal   int
	ShowingFailed bool
	LogURL        string
	Timestamp     string
}

var emailTemplate = template.Must(template.New("email").Parse(`<html>
<body style="font-family: Arial, sans-serif;">
<h2>Integration {{.Record.Status}}</h2>
<p>Record type: {{if .Record.RecordType}}{{.Record.RecordType}}{{else}}Integration{{end}}<br>
Time: {{.Timestamp}}</p>

<h3>Execution Summary</h3>
<table border="1" cellpadding="4" cellspacing="0">
<tr><th>Total Processed</th><th>Successful</th><th>Failed</th><th>Skipped</th></tr>
<tr><td>{{.Record.ExecutionSummary.TotalProcessed}}</td><td>{{.Record.ExecutionSummary.Successful}}</td><td>{{.Record.ExecutionSummary.Failed}}</td><td>{{.Record.ExecutionSummary.Skipped}}</td></tr>
</table>
{{if .Errors}}
<h3>Errors</h3>
<ul>
{{range .Errors}}<li>{{.}}</li>
{{end}}</ul>
{{if .MoreErrors}}<p>... and {{.MoreErrors}} more errors. See integration log for full details.</p>{{end}}
{{end}}
{{if .FailedRows}}
<h3>Failed Invoices</h3>
<table border="1" cellpadding="4" cellspacing="0">
<tr><th>Invoice #</th><th>ID</th><th>Error</th></tr>
{{range .FailedRows}}<tr><td>{{.InvoiceNumber}}</td><td>{{.InvoiceID}}</td><td>{{.Error}}</td></tr>
{{end}}</table>
{{if .ShowingFailed}}<p>Showing {{len .FailedRows}} of {{.FailedTotal}} failed invoices.</p>{{end}}
{{end}}
<p>{{if .LogURL}}<a href="{{.LogURL}}">View Integration Log</a><br>{{end}}
Log record ID: {{.Record.ID}}<br>
Request URL: {{.Record.RequestURL}}</p>
</body>
</html>
`))

// RenderEmail renders the notification body for rec. logURL links to the audit
// record and may be empty.
func RenderEmail(rec *models.AuditRecord, logURL string) (string, error) {
	errs := ErrorMessages(rec.ResponseBody)
	if len(errs) == 0 && rec.ErrorMessage != "" {
		errs = []string{rec.ErrorMessage}
	}

	data := emailData{
		Record:      rec,
		Errors:      errs,
		FailedRows:  rec.ResponseBody.FailedInvoices,
		FailedTotal: len(rec.ResponseBody.FailedInvoices),
		LogURL:      logURL,
		Timestamp:   rec.Timestamp.Format(time.RFC1123),
	}
	if len(errs) > MaxErrorsInEmail {
		data.Errors = errs[:MaxErrorsInEmail]
		data.MoreErrors = len(errs) - MaxErrorsInEmail
	}
	if data.FailedTotal > MaxFailedRowsInEmail {
		data.FailedRows = data.FailedRows[:MaxFailedRowsInEmail]
		data.ShowingFailed = true
	}

	var buf bytes.Buffer
	if err := emailTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render notification: %w", err)
	}
	return buf.String(), nil
}

// SMTPSender delivers notifications over SMTP with PLAIN auth when a username
// is set.
type SMTPSender struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Notify sends n as an HTML email.
func (s *SMTPSender) Notify(ctx context.Context, n Notification) error {
	const op = "Notify"

	if len(n.Recipients) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", s.From)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(n.Recipients, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", n.Subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n\r\n")
	msg.WriteString(n.HTML)

	var auth smtp.Auth
	if s.Username != "" {
		auth = smtp.PlainAuth("", s.Username, s.Password, s.Host)
	}

	addr := net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
	if err := smtp.SendMail(addr, auth, s.From, n.Recipients, msg.Bytes()); err != nil {
		return fmt.Errorf("%s: failed to send email via %s: %w", op, addr, err)
	}
	return nil
}
