package cmd

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"invoicesync/internal/ledger"
	"invoicesync/internal/logger"
	"invoicesync/pkg/services"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Manage the local ledger database",
	Long: `Commands that work directly on the SQLite ledger named by LEDGER_DATABASE:
load reference data, record vendor payments and list transactions.`,
}

var ledgerSeedCmd = &cobra.Command{
	Use:   "seed [file.yaml]",
	Short: "Load reference records from a YAML file",
	Long: `Upsert departments, classes, locations, jobs, tax items, accounts and
vendors from a YAML document into the ledger. Records are keyed by kind and
internal id, so a seed can be applied repeatedly.`,
	Example: `  invoicesync ledger seed reference.yaml`,
	Args:    cobra.ExactArgs(1),
	RunE:    runLedgerSeed,
}

var ledgerPayCmd = &cobra.Command{
	Use:   "pay [bill-id...]",
	Short: "Record a vendor payment that pays bills in full",
	Long: `Record a vendor payment applied to the given bills and mark each bill as
paid in full. With --sync the payment is reported to the source right away,
the same way 'invoicesync payments' does.`,
	Example: `  # Pay bills 12 and 13
  invoicesync ledger pay 12 13

  # Pay and report to the source
  invoicesync ledger pay 12 --sync`,
	Args: cobra.MinimumNArgs(1),
	RunE: runLedgerPay,
}

var ledgerTransactionsCmd = &cobra.Command{
	Use:   "transactions",
	Short: "List bills and credits",
	Example: `  # Bills created from the source that are paid in full
  invoicesync ledger transactions --kind bill --status paidInFull --source`,
	Args: cobra.NoArgs,
	RunE: runLedgerTransactions,
}

func init() {
	rootCmd.AddCommand(ledgerCmd)
	ledgerCmd.AddCommand(ledgerSeedCmd, ledgerPayCmd, ledgerTransactionsCmd)

	ledgerPayCmd.Flags().Bool("sync", false, "Report the payment to the source after recording it")

	ledgerTransactionsCmd.Flags().String("kind", "", "bill or credit")
	ledgerTransactionsCmd.Flags().String("status", "", "open or paidInFull")
	ledgerTransactionsCmd.Flags().Bool("source", false, "Only transactions created from the source")
	ledgerTransactionsCmd.Flags().Int("limit", 50, "Maximum number of transactions")
}

func runLedgerSeed(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("ledger")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	seed, err := ledger.LoadSeedFile(args[0])
	if err != nil {
		return err
	}

	store, err := openLedger(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	counts, err := store.ApplySeed(cmd.Context(), seed)
	if err != nil {
		log.Error().Err(err).Str("file", args[0]).Msg("Seeding failed")
		return fmt.Errorf("failed to apply seed: %w", err)
	}

	kinds := make([]string, 0, len(counts))
	for kind := range counts {
		kinds = append(kinds, string(kind))
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		k := services.RecordKind(kind)
		fmt.Printf("%-16s %d\n", k.Label(), counts[k])
	}
	return nil
}

func runLedgerPay(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("ledger")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	doSync, _ := cmd.Flags().GetBool("sync")

	ctx, cancel := createContext(5*time.Minute, log)
	defer cancel()

	if !doSync {
		store, err := openLedger(cfg)
		if err != nil {
			return err
		}
		defer store.Close()
		_, err = recordPayment(ctx, store, args)
		return err
	}

	a, err := newApp(ctx, cfg, false, log)
	if err != nil {
		return err
	}
	defer a.Close()

	paymentID, err := recordPayment(ctx, a.store, args)
	if err != nil {
		return err
	}
	result, err := a.paymentSyncer().SyncPayment(ctx, paymentID)
	if err != nil {
		return handleSyncError(err, log)
	}
	fmt.Printf("Sync status: %s (synced %d of %d bills)\n", statusOrNone(result.Status), result.Synced, len(result.Bills))
	return nil
}

func recordPayment(ctx context.Context, store *ledger.Store, billIDs []string) (string, error) {
	paymentID, err := store.RecordPayment(ctx, billIDs, time.Now())
	if err != nil {
		return "", handleSyncError(err, logger.WithComponent("ledger"))
	}
	fmt.Printf("Payment %s recorded for bills %s\n", paymentID, strings.Join(billIDs, ", "))
	return paymentID, nil
}

func statusOrNone(status string) string {
	if status == "" {
		return "nothing to sync"
	}
	return status
}

func runLedgerTransactions(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	filter := ledger.TransactionFilter{}
	switch kind, _ := cmd.Flags().GetString("kind"); strings.ToLower(kind) {
	case "":
	case "bill":
		filter.Kind = services.KindBill
	case "credit":
		filter.Kind = services.KindCredit
	default:
		return fmt.Errorf("invalid kind: %s (must be 'bill' or 'credit')", kind)
	}
	filter.Status, _ = cmd.Flags().GetString("status")
	filter.CreatedFromSource, _ = cmd.Flags().GetBool("source")
	filter.Limit, _ = cmd.Flags().GetInt("limit")

	store, err := openLedger(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	txs, err := store.ListTransactions(cmd.Context(), filter)
	if err != nil {
		return err
	}

	fmt.Printf("%-8s %-14s %-20s %-24s %-10s %-11s %s\n", "ID", "Type", "Number", "Supplier", "Source ID", "Status", "Synced")
	fmt.Println(strings.Repeat("-", 100))
	for _, tx := range txs {
		fmt.Printf("%-8s %-14s %-20s %-24s %-10s %-11s %d\n",
			tx.InternalID, tx.Kind.Label(), clip(tx.TranID, 20), clip(tx.Supplier, 24), tx.ExternalID, tx.Status, tx.SyncStatus)
	}
	fmt.Printf("\n%d transactions\n", len(txs))
	return nil
}
