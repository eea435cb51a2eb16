package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"invoicesync/internal/config"
	"invoicesync/internal/duplicate"
	"invoicesync/internal/invoice"
	"invoicesync/internal/ledger"
	"invoicesync/internal/logger"
	"invoicesync/internal/paymentsync"
	"invoicesync/internal/pipeline"
	"invoicesync/internal/report"
	"invoicesync/internal/sheets"
	"invoicesync/internal/source"
	"invoicesync/pkg/models"
)

// ConfigEnv names the config file when --config is not given.
const ConfigEnv = "INVOICESYNC_CONFIG"

// loadConfig loads configuration and re-initializes the logger from it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = os.Getenv(ConfigEnv)
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := logger.Setup(cfg.GetLoggerConfig()); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}

// createContext creates a context with an optional timeout that is cancelled
// on SIGINT or SIGTERM.
func createContext(timeout time.Duration, log zerolog.Logger) (context.Context, context.CancelFunc) {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			log.Info().
				Str("signal", sig.String()).
				Msg("Received interrupt signal, canceling")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

func newSourceClient(cfg *config.Config) (*source.Client, error) {
	if err := cfg.ValidateSource(); err != nil {
		return nil, fmt.Errorf("accounts-payable API is not configured: %w", err)
	}
	return source.NewClient(source.Options{
		BaseURL:      cfg.SourceBaseURL,
		ClientID:     cfg.SourceClientID,
		ClientSecret: cfg.SourceClientSecret,
		Timeout:      cfg.SourceTimeout,
		RateLimit:    cfg.SourceRateLimit,
		TokenTTL:     cfg.SourceTokenTTL,
		MaxPages:     cfg.SourceMaxPages,
	}), nil
}

func openLedger(cfg *config.Config) (*ledger.Store, error) {
	store, err := ledger.Open(cfg.LedgerDatabase)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database %s: %w", cfg.LedgerDatabase, err)
	}
	return store, nil
}

// newReporter wires the audit sink, SMTP notifications and, when withSheet is
// set, the Google Sheets exporter.
func newReporter(ctx context.Context, cfg *config.Config, store *ledger.Store, withSheet bool, log zerolog.Logger) (*report.Reporter, error) {
	opts := report.Options{
		Recipients:    report.ParseRecipients(cfg.NotifyRecipients),
		SubjectPrefix: cfg.NotifySubjectPrefix,
		PublicURL:     cfg.PublicURL,
	}

	if err := cfg.ValidateNotify(); err != nil {
		log.Warn().Err(err).Msg("Error notifications disabled")
	} else if cfg.NotificationsEnabled() {
		opts.Notifier = &report.SMTPSender{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		}
	}

	if withSheet {
		if cfg.GoogleSheetURL == "" {
			return nil, fmt.Errorf("GOOGLE_SHEET_URL environment variable is required for --sheet")
		}
		sheetsService, err := sheets.NewSheetsService(ctx, cfg.GoogleSheetURL, cfg.GoogleSheetWorksheet)
		if err != nil {
			return nil, fmt.Errorf("failed to create Google Sheets service: %w", err)
		}
		opts.Exporters = append(opts.Exporters, sheetsService)
	}

	return report.NewReporter(store, opts), nil
}

// syncOptions are the batch settings shared by sync and serve.
type syncOptions struct {
	Mode     string
	EntityID string
	Workers  int
	Sheet    bool
}

func addSyncFlags(cmd *cobra.Command) {
	cmd.Flags().String("mode", "", "Retrieval mode: all or ready-for-post (default: SOURCE_MODE)")
	cmd.Flags().String("entity", "", "Entity id for ready-for-post mode (default: SOURCE_ENTITY_ID)")
	cmd.Flags().Int("workers", 0, "Number of parallel workers (default: BATCH_WORKERS)")
	cmd.Flags().Bool("sheet", false, "Also append run outcomes to GOOGLE_SHEET_URL")
}

func readSyncFlags(cmd *cobra.Command, cfg *config.Config) syncOptions {
	opts := syncOptions{Mode: cfg.SourceMode, EntityID: cfg.SourceEntityID, Workers: cfg.BatchWorkers}
	if v, _ := cmd.Flags().GetString("mode"); v != "" {
		opts.Mode = v
		cfg.SourceMode = v
	}
	if v, _ := cmd.Flags().GetString("entity"); v != "" {
		opts.EntityID = v
		cfg.SourceEntityID = v
	}
	if v, _ := cmd.Flags().GetInt("workers"); v > 0 {
		opts.Workers = v
	}
	opts.Sheet, _ = cmd.Flags().GetBool("sheet")
	return opts
}

// app holds the wired components of one command invocation.
type app struct {
	cfg      *config.Config
	client   *source.Client
	store    *ledger.Store
	reporter *report.Reporter
}

func newApp(ctx context.Context, cfg *config.Config, withSheet bool, log zerolog.Logger) (*app, error) {
	client, err := newSourceClient(cfg)
	if err != nil {
		return nil, err
	}
	store, err := openLedger(cfg)
	if err != nil {
		return nil, err
	}
	reporter, err := newReporter(ctx, cfg, store, withSheet, log)
	if err != nil {
		store.Close()
		return nil, err
	}
	return &app{cfg: cfg, client: client, store: store, reporter: reporter}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

func (a *app) newPipeline(opts syncOptions, progress func(done, total int, o models.Outcome)) *pipeline.Pipeline {
	return pipeline.New(pipeline.Deps{
		Source:     a.client,
		Ledger:     a.store,
		Duplicates: duplicate.NewDetector(a.store),
		Builder:    invoice.NewBuilder(a.store, invoice.DefaultConfig()),
		Reporter:   a.reporter,
	}, pipeline.Options{
		Mode:     opts.Mode,
		Stage:    a.cfg.SourceStage,
		EntityID: opts.EntityID,
		PageSize: a.cfg.SourcePageSize,
		Workers:  opts.Workers,
		Progress: progress,
	})
}

func (a *app) paymentSyncer() *paymentsync.Syncer {
	return paymentsync.NewSyncer(a.client, a.store, a.reporter)
}

// handleSyncError provides user-friendly error messages for sync failures
func handleSyncError(err error, log zerolog.Logger) error {
	log.Error().Err(err).Msg("Sync failed")

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("sync timed out. Try increasing --timeout or SOURCE_TIMEOUT")
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("sync was canceled")
	case errors.Is(err, source.ErrUnauthorized), errors.Is(err, source.ErrNoToken):
		return fmt.Errorf("accounts-payable API authentication failed. Please check your credentials:\n\n" +
			"  SOURCE_CLIENT_ID - API client id\n" +
			"  SOURCE_CLIENT_SECRET - API client secret\n\n" +
			"Original error: %v", err)
	case errors.Is(err, source.ErrTimeout):
		return fmt.Errorf("accounts-payable API did not respond in time: %w", err)
	case errors.Is(err, pipeline.ErrLookup):
		return fmt.Errorf("could not load ledger reference data. Run 'invoicesync ledger seed' first or check LEDGER_DATABASE: %w", err)
	case errors.Is(err, pipeline.ErrAudit):
		return fmt.Errorf("batch finished but the integration log could not be written: %w", err)
	case errors.Is(err, ledger.ErrNotFound):
		return fmt.Errorf("not found in ledger: %w", err)
	default:
		return fmt.Errorf("sync failed: %w", err)
	}
}
