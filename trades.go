package main

import (
	"github.com/spf13/cobra"

	"marketscan/internal/config"
	"marketscan/internal/disclosures"
)

var tradesCmd = &cobra.Command{
	Use:   "trades",
	Short: "Collect the latest politician trade disclosures",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := runContext(cmd)
		defer stop()

		if err := cfg.Validate(config.JobTrades); err != nil {
			return err
		}
		e := newEnv(cfg)

		client := e.capitoltrades()
		defer client.Close()

		job, err := disclosures.NewTradesJob(client, cfg.Trades.MaxPages, e.aggregate("trades", cfg.Workers))
		if err != nil {
			return err
		}
		res, err := job.Run(ctx)
		if err != nil {
			return err
		}
		return finish(cmd, res.Report, e.output("trades.csv"), disclosures.TradesTable(res.Trades))
	},
}

func init() {
	tradesCmd.Flags().Int("pages", 0, "listing pages to read (default 5)")
	bindFlag(tradesCmd.Flags(), "pages", "trades.max_pages")
	rootCmd.AddCommand(tradesCmd)
}
