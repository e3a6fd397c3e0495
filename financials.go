package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"marketscan/internal/config"
	"marketscan/internal/fundamentals"
)

var financialsCmd = &cobra.Command{
	Use:   "financials",
	Short: "Refresh the quarterly revenue and net income history",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := runContext(cmd)
		defer stop()

		e := newEnv(cfg)
		tickers, err := e.tickers(config.JobFinancials)
		if err != nil {
			return err
		}

		existing, err := fundamentals.LoadHistory(cfg.Financials.History)
		if err != nil {
			return err
		}

		client := e.alphavantage()
		defer client.Close()

		job, err := fundamentals.NewFinancialsJob(client, cfg.Financials.Years, e.clock, e.aggregate("financials", cfg.Workers))
		if err != nil {
			return err
		}
		res, err := job.Run(ctx, tickers, existing)
		if err != nil {
			return err
		}

		zap.L().Info("history merged",
			zap.Int("stored", len(existing)),
			zap.Int("fetched", res.Fetched),
			zap.Int("rows", len(res.Quarters)),
		)
		return finish(cmd, res.Report, e.output(cfg.Financials.History), fundamentals.HistoryTable(res.Quarters))
	},
}

var pivotCmd = &cobra.Command{
	Use:   "pivot",
	Short: "Summarize revenue and net income trends per ticker",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := runContext(cmd)
		defer stop()

		if err := cfg.Validate(config.JobPivot); err != nil {
			return err
		}
		e := newEnv(cfg)

		history, err := fundamentals.LoadHistory(cfg.Financials.History)
		if err != nil {
			return err
		}

		client := e.yahoo()
		defer client.Close()

		job, err := fundamentals.NewPivotJob(client, e.aggregate("pivot", cfg.Workers))
		if err != nil {
			return err
		}
		res, err := job.Run(ctx, history)
		if err != nil {
			return err
		}

		// Dividend yields are optional; their failures never fail the run.
		logReport(res.Report)
		return writeTables(cmd, "pivot", e.output("financials_summary.csv"), fundamentals.PivotTable(res.Trends))
	},
}

func init() {
	financialsCmd.Flags().Int("years", 0, "years of quarterly reports to keep (default 5)")
	bindFlag(financialsCmd.Flags(), "years", "financials.years")

	for _, c := range []*cobra.Command{financialsCmd, pivotCmd} {
		c.Flags().String("history", "", "history CSV (default financials-historical.csv)")
		bindFlag(c.Flags(), "history", "financials.history")
		rootCmd.AddCommand(c)
	}
}
