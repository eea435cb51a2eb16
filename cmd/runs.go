package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"invoicesync/internal/ledger"
	"invoicesync/internal/report"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect the integration log",
	Long: `Every batch run and payment sync writes one integration log record with
its counts, the per-invoice outcomes and the request that produced it.`,
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List integration log records, newest first",
	Example: `  # Failed runs of the last week
  invoicesync runs list --status Failed --since 168h`,
	Args: cobra.NoArgs,
	RunE: runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Print one integration log record as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

var runsExportCmd = &cobra.Command{
	Use:   "export [id]",
	Short: "Export one integration log record to an Excel workbook",
	Example: `  invoicesync runs export 3f2a9c1e --out run.xlsx`,
	Args: cobra.ExactArgs(1),
	RunE: runRunsExport,
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsListCmd, runsShowCmd, runsExportCmd)

	runsListCmd.Flags().String("status", "", "Only records with this status (Success, Partial, Failed)")
	runsListCmd.Flags().Duration("since", 0, "Only records newer than this age, e.g. 24h")
	runsListCmd.Flags().Int("limit", 20, "Maximum number of records")

	runsExportCmd.Flags().StringP("out", "o", "", "Output file (default: <id>.xlsx)")
}

func openLedgerFromFlags(cmd *cobra.Command) (*ledger.Store, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return openLedger(cfg)
}

func runRunsList(cmd *cobra.Command, args []string) error {
	filter := ledger.AuditFilter{}
	filter.Status, _ = cmd.Flags().GetString("status")
	filter.Limit, _ = cmd.Flags().GetInt("limit")
	if since, _ := cmd.Flags().GetDuration("since"); since > 0 {
		filter.Since = time.Now().Add(-since)
	}

	store, err := openLedgerFromFlags(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.ListAudit(cmd.Context(), filter)
	if err != nil {
		return err
	}

	fmt.Printf("%-36s %-20s %-8s %-24s %5s %5s %5s\n", "ID", "Time", "Status", "Type", "OK", "Fail", "Skip")
	fmt.Println(strings.Repeat("-", 111))
	for _, rec := range records {
		fmt.Printf("%-36s %-20s %-8s %-24s %5d %5d %5d\n",
			rec.ID,
			rec.Timestamp.Local().Format("2006-01-02 15:04:05"),
			rec.Status,
			clip(rec.RecordType, 24),
			rec.ExecutionSummary.Successful,
			rec.ExecutionSummary.Failed,
			rec.ExecutionSummary.Skipped)
	}
	return nil
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	store, err := openLedgerFromFlags(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	rec, err := store.GetAudit(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to load log record %s: %w", args[0], err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(rec)
}

func runRunsExport(cmd *cobra.Command, args []string) error {
	out, _ := cmd.Flags().GetString("out")
	if out == "" {
		out = args[0] + ".xlsx"
	}

	store, err := openLedgerFromFlags(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	rec, err := store.GetAudit(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to load log record %s: %w", args[0], err)
	}

	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", out, err)
	}
	if err := report.WriteWorkbook(rec, f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", out, err)
	}

	fmt.Printf("Wrote %s\n", out)
	return nil
}
