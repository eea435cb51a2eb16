package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"invoicesync/internal/logger"
	"invoicesync/pkg/models"
)

var paymentsCmd = &cobra.Command{
	Use:   "payments [payment-id]",
	Short: "Report a ledger payment's paid bills back to the source",
	Long: `Load a vendor payment from the ledger and, for every applied bill that was
created from the accounts-payable API and is paid in full, mark the source
invoice as paid and set its posting status. Synced bills get their sync
status and sync date stamped in the ledger.

An integration log record is written for every attempt that reaches the
source.`,
	Example: `  # Sync payment 17
  invoicesync payments 17`,
	Args: cobra.ExactArgs(1),
	RunE: runPayments,
}

func init() {
	rootCmd.AddCommand(paymentsCmd)

	paymentsCmd.Flags().Duration("timeout", 5*time.Minute, "Overall timeout")
}

func runPayments(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("payments")
	paymentID := args[0]

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	timeout, _ := cmd.Flags().GetDuration("timeout")

	ctx, cancel := createContext(timeout, log)
	defer cancel()

	a, err := newApp(ctx, cfg, false, log)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.paymentSyncer().SyncPayment(ctx, paymentID)
	if err != nil {
		return handleSyncError(err, log)
	}

	if result.Status == "" {
		fmt.Printf("Payment %s: no bills created from the source were paid in full.\n", paymentID)
		return nil
	}

	fmt.Printf("Payment %s: %s\n", paymentID, result.Status)
	fmt.Printf("Bills: %d, synced: %d\n", len(result.Bills), result.Synced)
	if result.AuditID != "" {
		fmt.Printf("Log record ID: %s\n", result.AuditID)
	}
	if result.Status != models.StatusSuccess {
		return fmt.Errorf("payment sync finished with status %s", result.Status)
	}
	return nil
}
