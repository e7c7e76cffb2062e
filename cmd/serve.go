package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the ops HTTP server",
		Long:  "Serves /healthz, /readyz, /metrics and /v1/runs/current until interrupted.",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, rt *runtime) error {
			return rt.app.OpsServer().ListenAndServe(cmd.Context(), fmt.Sprintf(":%d", rt.cfg.Server.Port))
		}),
	}
}
