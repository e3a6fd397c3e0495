package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Job names a command whose required settings Validate checks.
type Job string

const (
	JobOptions    Job = "options"
	JobCalls      Job = "calls"
	JobTrades     Job = "trades"
	JobFinancials Job = "financials"
	JobPivot      Job = "pivot"
	JobFilings    Job = "filings"
)

// RetryConfig holds the retry policy applied to every fetch.
type RetryConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	Multiplier     float64       `mapstructure:"multiplier"`
	Jitter         float64       `mapstructure:"jitter"`
}

// RateConfig holds the per-API request rates.
type RateConfig struct {
	YahooPerSecond         float64 `mapstructure:"yahoo_per_second"`
	AlphaVantagePerMinute  float64 `mapstructure:"alphavantage_per_minute"`
	CapitolTradesPerSecond float64 `mapstructure:"capitoltrades_per_second"`
	EdgarPerSecond         float64 `mapstructure:"edgar_per_second"`
}

// LogConfig selects the log level and encoding.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// OptionsConfig holds settings for the options command.
type OptionsConfig struct {
	SortBy string `mapstructure:"sort_by"`
}

// CallsConfig holds settings for the calls command.
type CallsConfig struct {
	MaxExpirations int     `mapstructure:"max_expirations"`
	LowerBand      float64 `mapstructure:"lower_band"`
	UpperBand      float64 `mapstructure:"upper_band"`
	StrikeCoverage float64 `mapstructure:"strike_coverage"`
	ChainWorkers   int     `mapstructure:"chain_workers"`
}

// TradesConfig holds settings for the trades command.
type TradesConfig struct {
	MaxPages int `mapstructure:"max_pages"`
	PageSize int `mapstructure:"page_size"`
}

// FinancialsConfig holds settings for the financials and pivot commands.
type FinancialsConfig struct {
	Years   int    `mapstructure:"years"`
	History string `mapstructure:"history"`
}

// FilingsConfig holds settings for the filings command.
type FilingsConfig struct {
	Pages int    `mapstructure:"pages"`
	Form  string `mapstructure:"form"`
	Count int    `mapstructure:"count"`
}

// Config holds all configuration for marketscan.
type Config struct {
	// API credentials
	AlphavantageAPIKey string `mapstructure:"alphavantage_api_key"`
	EdgarUserAgent     string `mapstructure:"edgar_user_agent"`

	// Base URLs for API endpoints (configurable for testing)
	YahooBaseURL         string `mapstructure:"yahoo_base_url"`
	AlphavantageBaseURL  string `mapstructure:"alphavantage_base_url"`
	CapitolTradesBaseURL string `mapstructure:"capitoltrades_base_url"`
	EdgarBaseURL         string `mapstructure:"edgar_base_url"`

	// Items to fetch
	Tickers     []string `mapstructure:"tickers"`
	TickersFile string   `mapstructure:"tickers_file"`
	Output      string   `mapstructure:"output"`

	// Fan-out and deadlines
	Workers         int           `mapstructure:"workers"`
	CollectWorkers  int           `mapstructure:"collect_workers"`
	Coverage        float64       `mapstructure:"coverage"`
	Deadline        time.Duration `mapstructure:"deadline"`
	CollectDeadline time.Duration `mapstructure:"collect_deadline"`
	FetchDeadline   time.Duration `mapstructure:"fetch_deadline"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	MaxConnsPerHost int           `mapstructure:"max_conns_per_host"`

	Retry RetryConfig `mapstructure:"retry"`
	Rate  RateConfig  `mapstructure:"rate"`
	Log   LogConfig   `mapstructure:"log"`

	Options    OptionsConfig    `mapstructure:"options"`
	Calls      CallsConfig      `mapstructure:"calls"`
	Trades     TradesConfig     `mapstructure:"trades"`
	Financials FinancialsConfig `mapstructure:"financials"`
	Filings    FilingsConfig    `mapstructure:"filings"`
}

// New returns a viper instance with defaults, environment bindings and the
// optional config file search path. Callers may bind flags to it before
// passing it to Decode.
func New() *viper.Viper {
	v := viper.New()

	// Nested keys map to MARKETSCAN_RETRY_MAX_ATTEMPTS and so on.
	v.SetEnvPrefix("MARKETSCAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults for base URLs
	v.SetDefault("yahoo_base_url", "https://query2.finance.yahoo.com")
	v.SetDefault("alphavantage_base_url", "https://www.alphavantage.co/query")
	v.SetDefault("capitoltrades_base_url", "https://www.capitoltrades.com")
	v.SetDefault("edgar_base_url", "https://www.sec.gov")

	// Unmarshal only sees keys viper knows about, so optional ones get an
	// empty default to stay reachable from the environment.
	v.SetDefault("tickers", []string{})
	v.SetDefault("tickers_file", "")
	v.SetDefault("output", "")

	v.SetDefault("workers", 8)
	v.SetDefault("collect_workers", 16)
	v.SetDefault("coverage", 0.8)
	v.SetDefault("deadline", 5*time.Minute)
	v.SetDefault("collect_deadline", 2*time.Minute)
	v.SetDefault("fetch_deadline", 3*time.Minute)
	v.SetDefault("request_timeout", 30*time.Second)
	v.SetDefault("max_conns_per_host", 10)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff", 500*time.Millisecond)
	v.SetDefault("retry.max_backoff", 10*time.Second)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter", 0.2)

	v.SetDefault("rate.yahoo_per_second", 20.0)
	v.SetDefault("rate.alphavantage_per_minute", 5.0)
	v.SetDefault("rate.capitoltrades_per_second", 2.0)
	v.SetDefault("rate.edgar_per_second", 10.0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("options.sort_by", "breakeven")
	v.SetDefault("calls.max_expirations", 100)
	v.SetDefault("calls.lower_band", 0.7)
	v.SetDefault("calls.upper_band", 1.05)
	v.SetDefault("calls.strike_coverage", 0.5)
	v.SetDefault("calls.chain_workers", 4)
	v.SetDefault("trades.max_pages", 5)
	v.SetDefault("trades.page_size", 1000)
	v.SetDefault("financials.years", 5)
	v.SetDefault("financials.history", "financials-historical.csv")
	v.SetDefault("filings.pages", 1)
	v.SetDefault("filings.form", "13F-HR")
	v.SetDefault("filings.count", 100)

	// Optionally read from config file if it exists
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.marketscan")

	// Credentials keep their conventional unprefixed names
	_ = v.BindEnv("alphavantage_api_key", "ALPHAVANTAGE_API_KEY")
	_ = v.BindEnv("edgar_user_agent", "EDGAR_USER_AGENT")

	return v
}

// Load reads configuration from a .env file, environment variables and an
// optional config file. Environment variables take precedence over config
// file values.
func Load() (*Config, error) {
	return Decode(New())
}

// Decode loads .env, reads the config file if one exists and unmarshals v.
func Decode(v *viper.Viper) (*Config, error) {
	if err := LoadDotEnv(); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return config, nil
}

// LoadDotEnv loads variables from the given .env files, or ./.env when
// none are named. Missing files are ignored and variables already set in
// the environment win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// Validate checks the settings job needs and reports every missing one.
func (c *Config) Validate(job Job) error {
	var missing []string
	switch job {
	case JobOptions, JobCalls, JobFinancials:
		if len(c.Tickers) == 0 && c.TickersFile == "" {
			missing = append(missing, "MARKETSCAN_TICKERS or MARKETSCAN_TICKERS_FILE")
		}
	}
	switch job {
	case JobFinancials:
		if c.AlphavantageAPIKey == "" {
			missing = append(missing, "ALPHAVANTAGE_API_KEY")
		}
	case JobFilings:
		if strings.TrimSpace(c.EdgarUserAgent) == "" {
			missing = append(missing, "EDGAR_USER_AGENT")
		}
	case JobPivot:
		if c.Financials.History == "" {
			missing = append(missing, "MARKETSCAN_FINANCIALS_HISTORY")
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	if c.Workers <= 0 || c.CollectWorkers <= 0 {
		return fmt.Errorf("invalid configuration: workers must be positive (workers=%d, collect_workers=%d)", c.Workers, c.CollectWorkers)
	}
	if c.Coverage <= 0 || c.Coverage > 1 {
		return fmt.Errorf("invalid configuration: coverage must be in (0, 1], got %v", c.Coverage)
	}
	return nil
}

type tickerRow struct {
	Ticker string `csv:"tickers"`
}

// ResolveTickers returns the explicit ticker list, or the tickers column
// of TickersFile. Tickers are upper-cased and de-duplicated in order.
func (c *Config) ResolveTickers() ([]string, error) {
	raw := c.Tickers
	if len(raw) == 0 && c.TickersFile != "" {
		f, err := os.Open(c.TickersFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open tickers file: %w", err)
		}
		defer f.Close()

		var rows []*tickerRow
		if err := gocsv.Unmarshal(f, &rows); err != nil {
			return nil, fmt.Errorf("failed to read tickers file %s: %w", c.TickersFile, err)
		}
		for _, r := range rows {
			raw = append(raw, r.Ticker)
		}
	}
	return NormalizeTickers(raw), nil
}

// NormalizeTickers trims, upper-cases and de-duplicates tickers. Entries
// may themselves hold comma-separated lists.
func NormalizeTickers(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	var tickers []string
	for _, entry := range raw {
		for _, t := range strings.Split(entry, ",") {
			t = strings.ToUpper(strings.TrimSpace(t))
			if t == "" {
				continue
			}
			if _, dup := seen[t]; dup {
				continue
			}
			seen[t] = struct{}{}
			tickers = append(tickers, t)
		}
	}
	return tickers
}

// InitLogger installs the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %w", err)
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return nil
}
