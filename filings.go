package main

import (
	"github.com/spf13/cobra"

	"marketscan/internal/config"
	"marketscan/internal/disclosures"
)

var filingsCmd = &cobra.Command{
	Use:   "filings",
	Short: "Collect recent institutional holdings filings",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := runContext(cmd)
		defer stop()

		if err := cfg.Validate(config.JobFilings); err != nil {
			return err
		}
		e := newEnv(cfg)

		client, err := e.edgar()
		if err != nil {
			return err
		}
		defer client.Close()

		job, err := disclosures.NewFilingsJob(client, cfg.Filings.Pages, e.aggregate("filings", cfg.Workers))
		if err != nil {
			return err
		}
		res, err := job.Run(ctx)
		if err != nil {
			return err
		}
		return finish(cmd, res.Report, e.output("filings.csv"), disclosures.FilingsTable(res.Filings))
	},
}

func init() {
	filingsCmd.Flags().Int("pages", 0, "feed pages to read (default 1)")
	filingsCmd.Flags().String("form", "", "form type (default 13F-HR)")
	bindFlag(filingsCmd.Flags(), "pages", "filings.pages")
	bindFlag(filingsCmd.Flags(), "form", "filings.form")
	rootCmd.AddCommand(filingsCmd)
}
