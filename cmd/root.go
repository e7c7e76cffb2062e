// Package cmd defines the openperu-ingest command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/openperu-ingest/internal/api"
	"github.com/JakeFAU/openperu-ingest/internal/app"
	"github.com/JakeFAU/openperu-ingest/internal/config"
	"github.com/JakeFAU/openperu-ingest/internal/ingest"
	"github.com/JakeFAU/openperu-ingest/internal/logging"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is the slice of application services the commands use. Tests swap in
// a mock through newApp.
type App interface {
	Logger() *zap.Logger
	IngestBills(ctx context.Context, refs []ingest.BillRef) (ingest.Summary, error)
	IngestCongresspeople(ctx context.Context) (ingest.Summary, error)
	OpsServer() *api.Server
	Close(ctx context.Context) error
}

// runtime is what PersistentPreRunE stores for subcommands.
type runtime struct {
	cfg config.Config
	app App
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.New(ctx, cfg, logger)
}

// newLogger is swapped in tests to keep output quiet.
var newLogger = func(cfg config.Config) (*zap.Logger, error) {
	return logging.New(logging.Options{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
		Service:     cfg.Telemetry.ServiceName,
	})
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "openperu-ingest",
		Short: "Ingest Peruvian congress bills and congresspeople.",
		Long: `openperu-ingest downloads bill expedientes from the congress service,
classifies vote documents by OCR, resolves organizations and authors, and
writes normalized records to the configured sink.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			zap.ReplaceGlobals(logger)

			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, &runtime{cfg: cfg, app: a}))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, toml or json)")
	cmd.AddCommand(newBillsCmd(), newCongresspeopleCmd(), newServeCmd())
	return cmd
}

func resolveRuntime(ctx context.Context) (*runtime, error) {
	rt, ok := ctx.Value(appKey).(*runtime)
	if !ok || rt == nil {
		return nil, errors.New("application services not initialized")
	}
	return rt, nil
}

// withApp adapts fn into a RunE that always releases the application
// services, including when fn fails.
func withApp(fn func(cmd *cobra.Command, rt *runtime) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		rt, err := resolveRuntime(cmd.Context())
		if err != nil {
			return err
		}
		runErr := fn(cmd, rt)
		closeErr := rt.app.Close(context.WithoutCancel(cmd.Context()))
		_ = rt.app.Logger().Sync()
		return errors.Join(runErr, closeErr)
	}
}

// Execute runs the root command until it finishes or the process is
// interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "openperu-ingest: %v\n", err)
		return err
	}
	return nil
}
