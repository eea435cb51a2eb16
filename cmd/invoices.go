package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"invoicesync/internal/config"
	"invoicesync/internal/logger"
	"invoicesync/internal/source"
	"invoicesync/pkg/models"
)

var invoicesCmd = &cobra.Command{
	Use:   "invoices",
	Short: "Preview the invoices a sync would fetch",
	Long: `Fetch invoices from the accounts-payable API the same way sync does and
print them without touching the ledger. Each invoice shows the transaction
type it would become.`,
	Example: `  # Show the first 20 invoices in FinalReview
  invoicesync invoices --limit 20

  # Dump the ready-for-post invoices of entity 42 as JSON
  invoicesync invoices --mode ready-for-post --entity 42 --json`,
	Args: cobra.NoArgs,
	RunE: runInvoices,
}

func init() {
	rootCmd.AddCommand(invoicesCmd)

	invoicesCmd.Flags().String("mode", "", "Retrieval mode: all or ready-for-post (default: SOURCE_MODE)")
	invoicesCmd.Flags().String("entity", "", "Entity id for ready-for-post mode (default: SOURCE_ENTITY_ID)")
	invoicesCmd.Flags().Int("limit", 0, "Print at most this many invoices (0 = all)")
	invoicesCmd.Flags().Bool("json", false, "Print invoices as JSON")
	invoicesCmd.Flags().Duration("timeout", 5*time.Minute, "Overall timeout")
}

func runInvoices(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("invoices")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if v, _ := cmd.Flags().GetString("mode"); v != "" {
		cfg.SourceMode = v
	}
	if v, _ := cmd.Flags().GetString("entity"); v != "" {
		cfg.SourceEntityID = v
	}
	limit, _ := cmd.Flags().GetInt("limit")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	client, err := newSourceClient(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := createContext(timeout, log)
	defer cancel()

	if err := client.Authenticate(ctx); err != nil {
		return handleSyncError(err, log)
	}

	var result source.FetchResult
	if cfg.SourceMode == config.ModeReadyForPost {
		result, err = client.ReadyForPost(ctx, cfg.SourceEntityID)
	} else {
		result, err = client.FetchAll(ctx, cfg.SourceStage, cfg.SourcePageSize)
	}
	if err != nil {
		return handleSyncError(err, log)
	}

	invoices := result.Invoices
	if limit > 0 && len(invoices) > limit {
		invoices = invoices[:limit]
	}

	if jsonOutput {
		data, err := json.MarshalIndent(invoices, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to create JSON output: %w", err)
		}
		if _, err := os.Stdout.Write(data); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
		fmt.Println()
		return nil
	}

	fmt.Printf("%-10s %-20s %-30s %-14s %6s %12s\n", "ID", "Invoice #", "Supplier", "Type", "Lines", "Subtotal")
	fmt.Println(strings.Repeat("-", 97))
	for _, inv := range invoices {
		fmt.Printf("%-10d %-20s %-30s %-14s %6d %12s\n",
			inv.ID,
			clip(inv.InvoiceNumber, 20),
			clip(inv.SupplierName, 30),
			models.SelectVariant(inv).RecordType(),
			len(inv.Lines),
			subtotal(inv).StringFixed(2))
	}
	fmt.Println()
	fmt.Printf("%d of %d invoices shown (%d pages)\n", len(invoices), len(result.Invoices), result.Pages)
	for _, r := range result.Rejected {
		fmt.Printf("Rejected invoice %s (#%s): %s\n", r.ID, r.InvoiceNumber, r.Reason)
	}
	if result.Partial {
		fmt.Println("Retrieval timed out; the list is incomplete.")
	}
	if result.Truncated {
		fmt.Println("Page limit reached; the list is incomplete.")
	}
	return nil
}

func subtotal(inv models.SourceInvoice) decimal.Decimal {
	sum := decimal.Zero
	for _, line := range inv.Lines {
		sum = sum.Add(line.Subtotal)
	}
	return sum
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
