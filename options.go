package main

import (
	"github.com/spf13/cobra"

	"marketscan/internal/config"
	"marketscan/internal/screener"
)

var optionsCmd = &cobra.Command{
	Use:   "options",
	Short: "Find the call nearest the money at an expiration most tickers share",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := runContext(cmd)
		defer stop()

		e := newEnv(cfg)
		tickers, err := e.tickers(config.JobOptions)
		if err != nil {
			return err
		}

		client := e.yahoo()
		defer client.Close()

		job, err := screener.NewOptionsJob(client, cfg.Options.SortBy, e.pipeline("options"))
		if err != nil {
			return err
		}
		res, err := job.Run(ctx, tickers)
		if err != nil {
			return err
		}

		logReport(res.Collect)
		return finish(cmd, res.Fetch, e.output("options.csv"), screener.OptionsTable(res.Values()))
	},
}

func init() {
	optionsCmd.Flags().String("sort", "", "breakeven or expiration (default breakeven)")
	bindFlag(optionsCmd.Flags(), "sort", "options.sort_by")
	rootCmd.AddCommand(optionsCmd)
}
