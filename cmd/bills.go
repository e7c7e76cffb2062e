package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/openperu-ingest/internal/ingest"
)

var periodYear = regexp.MustCompile(`^\d{4}$`)

type billsOptions struct {
	year string
	from int
	to   int
	ops  bool
}

func newBillsCmd() *cobra.Command {
	opts := &billsOptions{}
	cmd := &cobra.Command{
		Use:   "bills",
		Short: "Ingest a range of bills for one parliamentary period",
		Long: `Fetches the expediente of every bill number in [--from, --to] for the
parliamentary period starting in --year, classifies its vote documents and
writes the normalized records. Per-bill failures are counted, not fatal.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.NoArgs(cmd, args); err != nil {
				return err
			}
			return opts.validate()
		},
		RunE: withApp(func(cmd *cobra.Command, rt *runtime) error {
			return runBills(cmd, rt, opts)
		}),
	}
	cmd.Flags().StringVar(&opts.year, "year", "", "first year of the parliamentary period, e.g. 2021")
	cmd.Flags().IntVar(&opts.from, "from", 1, "first bill number")
	cmd.Flags().IntVar(&opts.to, "to", 0, "last bill number (inclusive)")
	cmd.Flags().BoolVar(&opts.ops, "ops", false, "serve the ops API on server.port while ingesting")
	_ = cmd.MarkFlagRequired("year")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func (o *billsOptions) validate() error {
	if !periodYear.MatchString(o.year) {
		return fmt.Errorf("--year must be a four digit year, got %q", o.year)
	}
	if o.from < 1 {
		return fmt.Errorf("--from must be >= 1")
	}
	if o.to < o.from {
		return fmt.Errorf("--to (%d) must be >= --from (%d)", o.to, o.from)
	}
	return nil
}

func runBills(cmd *cobra.Command, rt *runtime, opts *billsOptions) error {
	logger := rt.app.Logger()
	refs := ingest.Range(opts.year, opts.from, opts.to)

	if !opts.ops {
		sum, err := rt.app.IngestBills(cmd.Context(), refs)
		return report(cmd, logger, sum, err)
	}

	// The ops server lives exactly as long as the run.
	opsCtx, stopOps := context.WithCancel(cmd.Context())
	defer stopOps()
	g, gctx := errgroup.WithContext(opsCtx)
	g.Go(func() error {
		return rt.app.OpsServer().ListenAndServe(gctx, fmt.Sprintf(":%d", rt.cfg.Server.Port))
	})
	sum, runErr := rt.app.IngestBills(cmd.Context(), refs)
	stopOps()
	if err := g.Wait(); err != nil {
		logger.Warn("ops server stopped with error", zap.Error(err))
	}
	return report(cmd, logger, sum, runErr)
}

// report prints the run summary as JSON on stdout.
func report(cmd *cobra.Command, logger *zap.Logger, sum ingest.Summary, runErr error) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(sum); err != nil {
		logger.Warn("write summary", zap.Error(err))
	}
	if runErr != nil {
		return fmt.Errorf("%s run %s: %w", sum.Kind, sum.RunID, runErr)
	}
	return nil
}
