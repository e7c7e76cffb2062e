package cmd

import (
	"github.com/spf13/cobra"
)

func newCongresspeopleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "congresspeople",
		Short: "Scrape congressperson profiles for every legislative period",
		Long: `Walks the period selector of the congress directory, scrapes each
congressperson profile and writes congresspeople, parties and organizations.
The congresspeople output feeds author resolution in later bill runs.`,
		Args: cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, rt *runtime) error {
			sum, err := rt.app.IngestCongresspeople(cmd.Context())
			return report(cmd, rt.app.Logger(), sum, err)
		}),
	}
}
