package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"marketscan/internal/config"
)

// viperKey annotates a flag with the configuration key it overrides.
const viperKey = "viper_key"

var (
	settings = config.New()
	cfg      *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "marketscan",
	Short: "Batch market data collection",
	Long: "Fetches options chains, politician trades, regulatory filings and " +
		"income statements concurrently and writes them as CSV or XLSX tables.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := bindFlags(settings, cmd); err != nil {
			return fmt.Errorf("bind flags: %w", err)
		}

		c, err := config.Decode(settings)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringSlice("tickers", nil, "tickers to process, comma separated")
	flags.String("tickers-file", "", "CSV file with a tickers column")
	flags.StringP("output", "o", "", "output file (.csv or .xlsx)")
	flags.Int("workers", 0, "concurrent fetches (default 8)")
	flags.Float64("coverage", 0, "share of tickers that must list the shared expiration (default 0.8)")
	flags.Duration("deadline", 0, "overall run deadline (default 5m)")
	flags.String("log-level", "", "debug, info, warn or error")

	bindFlag(flags, "tickers", "tickers")
	bindFlag(flags, "tickers-file", "tickers_file")
	bindFlag(flags, "output", "output")
	bindFlag(flags, "workers", "workers")
	bindFlag(flags, "coverage", "coverage")
	bindFlag(flags, "deadline", "deadline")
	bindFlag(flags, "log-level", "log.level")
}

// bindFlag records which configuration key a flag sets. The binding is
// applied only for the command that runs, so two commands may share a key.
func bindFlag(flags *pflag.FlagSet, name, key string) {
	_ = flags.SetAnnotation(name, viperKey, []string{key})
}

func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	var err error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		keys, ok := f.Annotations[viperKey]
		if !ok || err != nil {
			return
		}
		err = v.BindPFlag(keys[0], f)
	})
	return err
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
