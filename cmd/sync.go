package cmd

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"invoicesync/internal/logger"
	"invoicesync/internal/report"
	"invoicesync/pkg/models"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Record accounts-payable invoices in the ledger",
	Long: `Fetch invoices from the accounts-payable API and record each one in the
ledger as a vendor bill (all lines positive) or a vendor credit (any line
negative).

Invoices whose source id already exists on a bill or credit are skipped.
One integration log record is written per run; when invoices fail or are
skipped an email summary goes to NOTIFY_EMAIL_RECIPIENTS.

Required environment variables:
  SOURCE_CLIENT_ID - API client id
  SOURCE_CLIENT_SECRET - API client secret
  SOURCE_ENTITY_ID - Entity id (ready-for-post mode only)

Optional environment variables:
  SOURCE_BASE_URL - API root (default: https://api.myalii.app/api)
  SOURCE_MODE - all or ready-for-post (default: all)
  SOURCE_STAGE - Lifecycle stage kept in mode all (default: FinalReview)
  LEDGER_DATABASE - SQLite ledger file (default: ledger.db)
  BATCH_WORKERS - Number of parallel workers (default: 12)
  GOOGLE_SHEET_URL - Sheet used by --sheet`,
	Example: `  # Sync every invoice in FinalReview
  invoicesync sync

  # Sync the invoices entity 42 marked ready for posting
  invoicesync sync --mode ready-for-post --entity 42

  # Use 4 workers and mirror the outcomes to Google Sheets
  invoicesync sync --workers 4 --sheet`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)

	addSyncFlags(syncCmd)
	syncCmd.Flags().Duration("timeout", 30*time.Minute, "Overall timeout for the run")
	syncCmd.Flags().Bool("quiet", false, "Do not print per-invoice progress")
}

func runSync(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("sync")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	opts := readSyncFlags(cmd, cfg)
	timeout, _ := cmd.Flags().GetDuration("timeout")
	quiet, _ := cmd.Flags().GetBool("quiet")

	log.Info().
		Str("mode", opts.Mode).
		Str("entity_id", opts.EntityID).
		Int("workers", opts.Workers).
		Bool("sheet", opts.Sheet).
		Msg("Starting invoice sync")

	ctx, cancel := createContext(timeout, log)
	defer cancel()

	a, err := newApp(ctx, cfg, opts.Sheet, log)
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("                              INVOICE SYNC")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Source: %s\n", cfg.SourceBaseURL)
	fmt.Printf("Mode: %s\n", opts.Mode)
	if opts.EntityID != "" {
		fmt.Printf("Entity: %s\n", opts.EntityID)
	}
	fmt.Printf("Ledger: %s\n", cfg.LedgerDatabase)
	fmt.Println()

	var progress func(done, total int, o models.Outcome)
	if !quiet {
		var mu sync.Mutex
		progress = func(done, total int, o models.Outcome) {
			mu.Lock()
			defer mu.Unlock()
			fmt.Printf("[%d/%d] %s - %s", done, total, o.InvoiceNumber, getStatusEmoji(o.Kind))
			if msg := outcomeDetail(o); msg != "" {
				fmt.Printf(" (%s)", msg)
			}
			fmt.Println()
		}
	}

	summary, runErr := a.newPipeline(opts, progress).Run(ctx)
	if summary != nil {
		fmt.Println()
		printSummary(summary)
	}
	if runErr != nil {
		return handleSyncError(runErr, log)
	}
	return nil
}

func outcomeDetail(o models.Outcome) string {
	switch o.Kind {
	case models.OutcomeSuccessful:
		if len(o.Warnings) > 0 {
			return fmt.Sprintf("%s %s, %d warnings", o.RecordType, o.InternalID, len(o.Warnings))
		}
		return fmt.Sprintf("%s %s", o.RecordType, o.InternalID)
	case models.OutcomeFailed:
		return o.Error
	case models.OutcomeSkipped:
		return fmt.Sprintf("exists as %s %s", o.ExistingRecordType, o.ExistingRecordID)
	default:
		return ""
	}
}

func printSummary(s *report.Summary) {
	fmt.Println(strings.Repeat("=", 50))
	fmt.Println("                 RESULT")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Printf("Status: %s\n", s.Status)
	fmt.Printf("Processed: %d\n", s.Counts.TotalProcessed)
	fmt.Printf("Successful: %d\n", s.Counts.Successful)
	if s.Counts.Failed > 0 {
		fmt.Printf("Failed: %d\n", s.Counts.Failed)
	}
	if s.Counts.Skipped > 0 {
		fmt.Printf("Skipped: %d\n", s.Counts.Skipped)
	}
	if s.Partial {
		fmt.Println("Retrieval timed out, only part of the invoices were processed.")
	}
	if s.Truncated {
		fmt.Println("Page limit reached, remaining invoices will be picked up next run.")
	}
	if s.AuditID != "" {
		fmt.Printf("Log record ID: %s\n", s.AuditID)
	}
	fmt.Println(strings.Repeat("=", 50))
}

// getStatusEmoji returns an emoji for the outcome kind
func getStatusEmoji(kind models.OutcomeKind) string {
	switch kind {
	case models.OutcomeSuccessful:
		return "✅"
	case models.OutcomeSkipped:
		return "⏭️"
	case models.OutcomeFailed:
		return "❌"
	default:
		return "❓"
	}
}
