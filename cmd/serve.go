package cmd

import (
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"invoicesync/internal/logger"
	"invoicesync/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the audit log, sync trigger and payment webhook over HTTP",
	Long: `Start the HTTP server.

Routes:
  GET  /healthz                   liveness
  GET  /api/v1/audit              integration log (?status=&since=&limit=)
  GET  /api/v1/audit/:id          one log record
  POST /api/v1/sync               run a batch; concurrent triggers share one run
  POST /api/v1/payments/:id/sync  payment status sync

The listen address defaults to SERVER_ADDR. PUBLIC_URL is used for the log
links in notification emails.`,
	Example: `  # Listen on the configured address
  invoicesync serve

  # Listen on port 9090 and mirror batch outcomes to Google Sheets
  invoicesync serve --addr :9090 --sheet`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	addSyncFlags(serveCmd)
	serveCmd.Flags().String("addr", "", "Listen address (default: SERVER_ADDR)")
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("serve")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	opts := readSyncFlags(cmd, cfg)
	addr := cfg.ServerAddr
	if v, _ := cmd.Flags().GetString("addr"); v != "" {
		addr = v
	}

	ctx, cancel := createContext(0, log)
	defer cancel()

	a, err := newApp(ctx, cfg, opts.Sheet, log)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.LogLevel != "debug" && cfg.LogLevel != "trace" {
		gin.SetMode(gin.ReleaseMode)
	}

	srv := server.NewServer(a.newPipeline(opts, nil), a.paymentSyncer(), a.store)
	return srv.Run(ctx, addr)
}
