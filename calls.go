package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"marketscan/internal/config"
	"marketscan/internal/screener"
)

var callsCmd = &cobra.Command{
	Use:   "calls",
	Short: "List every in-band call option across expirations",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := runContext(cmd)
		defer stop()

		e := newEnv(cfg)
		tickers, err := e.tickers(config.JobCalls)
		if err != nil {
			return err
		}

		client := e.yahoo()
		defer client.Close()

		c := cfg.Calls
		job, err := screener.NewCallsJob(client, screener.CallsConfig{
			MaxExpirations: c.MaxExpirations,
			LowerBand:      c.LowerBand,
			UpperBand:      c.UpperBand,
			StrikeCoverage: c.StrikeCoverage,
			ChainWorkers:   c.ChainWorkers,
		}, e.aggregate("calls", cfg.Workers))
		if err != nil {
			return err
		}
		res, err := job.Run(ctx, tickers)
		if err != nil {
			return err
		}

		if res.CommonDate != "" {
			zap.L().Info("latest common expiration", zap.String("date", res.CommonDate))
		}
		return finish(cmd, res.Report, e.output("call_options.xlsx"), screener.CallsTables(res)...)
	},
}

func init() {
	callsCmd.Flags().Int("max-expirations", 0, "expirations read per ticker (default 100)")
	bindFlag(callsCmd.Flags(), "max-expirations", "calls.max_expirations")
	rootCmd.AddCommand(callsCmd)
}
