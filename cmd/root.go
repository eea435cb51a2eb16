package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"invoicesync/internal/logger"
)

var version = "1.0.0"

var rootCmd = &cobra.Command{
	Use:   "invoicesync",
	Short: "Sync accounts-payable invoices into the ledger",
	Long: `invoicesync pulls invoices from the accounts-payable API, records them
in the ledger as vendor bills or vendor credits, and reports paid bills
back to the source.

Every batch writes an integration log record to the ledger database and
emails a summary when invoices failed or were skipped.

Configuration is read from the environment (and .env). A YAML, TOML or
JSON file can be supplied with --config or INVOICESYNC_CONFIG; environment
variables override values from the file.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	log := logger.WithComponent("cmd")

	if err := rootCmd.Execute(); err != nil {
		log.Error().
			Err(err).
			Msg("Command execution failed")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Config file (default: $INVOICESYNC_CONFIG)")
}
