package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/jmhodges/clock"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"marketscan/internal/aggregate"
	"marketscan/internal/alphavantage"
	"marketscan/internal/capitoltrades"
	"marketscan/internal/config"
	"marketscan/internal/edgar"
	"marketscan/internal/fetcher"
	"marketscan/internal/pipeline"
	"marketscan/internal/ratelimit"
	"marketscan/internal/retry"
	"marketscan/internal/sink"
	"marketscan/internal/table"
	"marketscan/internal/yahoo"
)

// env builds provider clients and job settings from one configuration.
type env struct {
	cfg     *config.Config
	limiter *ratelimit.Limiter
	pool    fetcher.PoolSettings
	clock   clock.Clock
}

func newEnv(c *config.Config) *env {
	return &env{
		cfg:     c,
		limiter: ratelimit.New(limits(c.Rate)),
		pool: fetcher.PoolSettings{
			MaxConnsPerHost: c.MaxConnsPerHost,
			RequestTimeout:  c.RequestTimeout,
		},
		clock: clock.New(),
	}
}

// limits overrides the default rates with any configured ones.
func limits(r config.RateConfig) map[ratelimit.API]ratelimit.Limit {
	l := ratelimit.Defaults()
	if r.YahooPerSecond > 0 {
		l[ratelimit.APIYahoo] = ratelimit.Limit{PerSecond: r.YahooPerSecond, Burst: l[ratelimit.APIYahoo].Burst}
	}
	if r.AlphaVantagePerMinute > 0 {
		l[ratelimit.APIAlphaVantage] = ratelimit.PerMinute(r.AlphaVantagePerMinute)
	}
	if r.CapitolTradesPerSecond > 0 {
		l[ratelimit.APICapitolTrades] = ratelimit.Limit{PerSecond: r.CapitolTradesPerSecond, Burst: 1}
	}
	if r.EdgarPerSecond > 0 {
		l[ratelimit.APIEdgar] = ratelimit.Limit{PerSecond: r.EdgarPerSecond, Burst: 1}
	}
	return l
}

func (e *env) retry(source string) retry.Policy {
	r := e.cfg.Retry
	return retry.Policy{
		MaxAttempts:    r.MaxAttempts,
		InitialBackoff: r.InitialBackoff,
		MaxBackoff:     r.MaxBackoff,
		Multiplier:     r.Multiplier,
		Jitter:         r.Jitter,
		OnRetry:        retry.Logger(source),
	}
}

func (e *env) aggregate(source string, workers int) aggregate.Config {
	return aggregate.Config{
		Source:     source,
		Workers:    workers,
		Retry:      e.retry(source),
		OnProgress: progress(source),
	}
}

func (e *env) pipeline(source string) pipeline.Config {
	return pipeline.Config{
		Source:         source,
		CollectWorkers: e.cfg.CollectWorkers,
		FetchWorkers:   e.cfg.Workers,
		Coverage:       e.cfg.Coverage,
		CollectTimeout: e.cfg.CollectDeadline,
		FetchTimeout:   e.cfg.FetchDeadline,
		Retry:          e.retry(source),
		OnProgress: func(state pipeline.State, done, total int) {
			zap.L().Debug("progress",
				zap.String("source", source),
				zap.Stringer("state", state),
				zap.Int("done", done),
				zap.Int("total", total),
			)
		},
	}
}

func progress(source string) func(done, total int) {
	return func(done, total int) {
		zap.L().Debug("progress",
			zap.String("source", source),
			zap.Int("done", done),
			zap.Int("total", total),
		)
	}
}

func (e *env) yahoo() *yahoo.Client {
	return yahoo.NewClient(e.cfg.YahooBaseURL, e.pool, e.limiter)
}

func (e *env) alphavantage() *alphavantage.Client {
	return alphavantage.NewClient(e.cfg.AlphavantageAPIKey, e.cfg.AlphavantageBaseURL, e.pool, e.limiter)
}

func (e *env) capitoltrades() *capitoltrades.Client {
	return capitoltrades.NewClient(e.cfg.CapitolTradesBaseURL, e.cfg.Trades.PageSize, e.pool, e.limiter, e.clock)
}

func (e *env) edgar() (*edgar.Client, error) {
	return edgar.NewClient(edgar.Options{
		BaseURL:   e.cfg.EdgarBaseURL,
		UserAgent: e.cfg.EdgarUserAgent,
		Form:      e.cfg.Filings.Form,
		Count:     e.cfg.Filings.Count,
		Pool:      e.pool,
		Limiter:   e.limiter,
		Clock:     e.clock,
	})
}

// tickers validates the job's settings and resolves its ticker list.
func (e *env) tickers(job config.Job) ([]string, error) {
	if err := e.cfg.Validate(job); err != nil {
		return nil, err
	}
	tickers, err := e.cfg.ResolveTickers()
	if err != nil {
		return nil, err
	}
	if len(tickers) == 0 {
		return nil, fmt.Errorf("no tickers to process")
	}
	return tickers, nil
}

// runContext is canceled on SIGINT/SIGTERM or when the run deadline passes.
func runContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	if cfg.Deadline <= 0 {
		return ctx, stop
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.Deadline)
	return ctx, func() {
		cancel()
		stop()
	}
}

func (e *env) output(fallback string) string {
	if e.cfg.Output != "" {
		return e.cfg.Output
	}
	return fallback
}

// finish logs the run report, fails on a systemic outage and otherwise
// writes the tables.
func finish(cmd *cobra.Command, report aggregate.Report, path string, tables ...*table.Table) error {
	logReport(report)
	if err := report.Systemic(); err != nil {
		zap.L().Error("run failed", zap.String("source", report.Source), zap.Error(err))
		return err
	}

	return writeTables(cmd, report.Source, path, tables...)
}

func writeTables(cmd *cobra.Command, source, path string, tables ...*table.Table) error {
	if err := sink.Save(path, tables...); err != nil {
		return err
	}

	rows := 0
	for _, t := range tables {
		rows += len(t.Rows)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d rows written to %s\n", source, rows, path)
	return nil
}

func logReport(r aggregate.Report) {
	for _, f := range r.Failures {
		zap.L().Warn("key failed",
			zap.String("source", r.Source),
			zap.String("key", f.Key),
			zap.String("type", string(f.Type)),
			zap.String("reason", f.Reason),
		)
	}
	zap.L().Info("run finished",
		zap.String("source", r.Source),
		zap.Int("dispatched", r.Dispatched),
		zap.Int("succeeded", r.Succeeded),
		zap.Int("failed", r.Failed),
	)
}
