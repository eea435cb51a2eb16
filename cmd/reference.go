package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"invoicesync/internal/logger"
	"invoicesync/internal/source"
)

var referenceKinds = []string{"supplier", "entity", "glcode", "businessunit", "taxcode", "suballocation"}

var referenceCmd = &cobra.Command{
	Use:   "reference",
	Short: "Read and maintain reference data in the accounts-payable system",
	Long: `Reference data (suppliers, entities, GL codes, business units, tax codes
and sub-allocations) is what invoice coders pick from in the accounts-payable
system. These commands list it and push changes from YAML files.

Kinds: ` + strings.Join(referenceKinds, ", "),
}

var referenceListCmd = &cobra.Command{
	Use:   "list [kind]",
	Short: "List reference records of one kind",
	Example: `  invoicesync reference list supplier
  invoicesync reference list glcode --output json`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: referenceKinds,
	RunE:      runReferenceList,
}

var referencePushCmd = &cobra.Command{
	Use:   "push [kind] [file.yaml]",
	Short: "Create or update reference records from a YAML list",
	Long: `Read a YAML list of records of one kind. Records with an id are updated in
place, records without one are created.`,
	Example: `  invoicesync reference push taxcode taxcodes.yaml`,
	Args:    cobra.ExactArgs(2),
	RunE:    runReferencePush,
}

func init() {
	rootCmd.AddCommand(referenceCmd)
	referenceCmd.AddCommand(referenceListCmd, referencePushCmd)

	referenceCmd.PersistentFlags().Duration("timeout", 2*time.Minute, "Overall timeout")
	referenceListCmd.Flags().StringP("output", "o", "yaml", "Output format: yaml or json")
}

func connectSource(cmd *cobra.Command) (*source.Client, context.Context, context.CancelFunc, error) {
	log := logger.WithComponent("reference")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	client, err := newSourceClient(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx, cancel := createContext(timeout, log)
	if err := client.Authenticate(ctx); err != nil {
		cancel()
		return nil, nil, nil, handleSyncError(err, log)
	}
	return client, ctx, cancel, nil
}

func runReferenceList(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("output")
	if format != "yaml" && format != "json" {
		return fmt.Errorf("invalid output format: %s (must be 'yaml' or 'json')", format)
	}

	client, ctx, cancel, err := connectSource(cmd)
	if err != nil {
		return err
	}
	defer cancel()

	var records any
	switch strings.ToLower(args[0]) {
	case "supplier":
		records, err = client.Suppliers().List(ctx)
	case "entity":
		records, err = client.Entities().List(ctx)
	case "glcode":
		records, err = client.GLCodes().List(ctx)
	case "businessunit":
		records, err = client.BusinessUnits().List(ctx)
	case "taxcode":
		records, err = client.TaxCodes().List(ctx)
	case "suballocation":
		records, err = client.SubAllocations().List(ctx)
	default:
		return unknownKind(args[0])
	}
	if err != nil {
		return handleSyncError(err, logger.WithComponent("reference"))
	}

	return writeRecords(records, format)
}

func writeRecords(records any, format string) error {
	if format == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(records)
}

func runReferencePush(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[1])
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", args[1], err)
	}

	client, ctx, cancel, err := connectSource(cmd)
	if err != nil {
		return err
	}
	defer cancel()

	var created, updated int
	switch strings.ToLower(args[0]) {
	case "supplier":
		created, updated, err = pushRecords(ctx, client.Suppliers(), data, func(r source.Supplier) int64 { return r.ID })
	case "entity":
		created, updated, err = pushRecords(ctx, client.Entities(), data, func(r source.Entity) int64 { return r.ID })
	case "glcode":
		created, updated, err = pushRecords(ctx, client.GLCodes(), data, func(r source.GLCode) int64 { return r.ID })
	case "businessunit":
		created, updated, err = pushRecords(ctx, client.BusinessUnits(), data, func(r source.BusinessUnit) int64 { return r.ID })
	case "taxcode":
		created, updated, err = pushRecords(ctx, client.TaxCodes(), data, func(r source.TaxCode) int64 { return r.ID })
	case "suballocation":
		created, updated, err = pushRecords(ctx, client.SubAllocations(), data, func(r source.SubAllocation) int64 { return r.ID })
	default:
		return unknownKind(args[0])
	}

	fmt.Printf("Created: %d, updated: %d\n", created, updated)
	if err != nil {
		return handleSyncError(err, logger.WithComponent("reference"))
	}
	return nil
}

// pushRecords stops at the first rejected record.
func pushRecords[T any](ctx context.Context, res source.Resource[T], data []byte, idOf func(T) int64) (created, updated int, err error) {
	var records []T
	if err := yaml.Unmarshal(data, &records); err != nil {
		return 0, 0, fmt.Errorf("failed to parse %s records: %w", res.Path(), err)
	}
	for i, rec := range records {
		if id := idOf(rec); id != 0 {
			if _, err := res.Update(ctx, id, rec); err != nil {
				return created, updated, fmt.Errorf("record %d: %w", i+1, err)
			}
			updated++
			continue
		}
		if _, err := res.Create(ctx, rec); err != nil {
			return created, updated, fmt.Errorf("record %d: %w", i+1, err)
		}
		created++
	}
	return created, updated, nil
}

func unknownKind(kind string) error {
	return fmt.Errorf("unknown reference kind: %s (must be one of %s)", kind, strings.Join(referenceKinds, ", "))
}
