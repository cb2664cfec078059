package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/maltedev/bluray-scraper/internal/config"
	"github.com/maltedev/bluray-scraper/pkg/logger"
)

type rootFlags struct {
	years     string
	series    string
	country   string
	output    string
	workers   int
	logLevel  string
	logFormat string
}

var flags rootFlags

var rootCmd = &cobra.Command{
	Use:           "bluray-scraper",
	Short:         "bluray-scraper crawls the blu-ray.com catalog into per-year JSON files.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.years, "years", "", "years to crawl: 2023, 2019-2023 or 2019,2021 (env YEARS)")
	pf.StringVar(&flags.series, "series", "", "bluray, 3d or dvd (env SERIES)")
	pf.StringVar(&flags.country, "country", "", "country code sent as locale cookie (env COUNTRY)")
	pf.StringVar(&flags.output, "output", "", "output directory (env OUTPUT_DIR)")
	pf.IntVar(&flags.workers, "workers", 0, "concurrent crawl workers (env CRAWL_WORKERS)")
	pf.StringVar(&flags.logLevel, "log-level", "", "debug, info, warn or error (env LOG_LEVEL)")
	pf.StringVar(&flags.logFormat, "log-format", "", "json or text (env LOG_FORMAT)")
}

// ExecuteContext runs the CLI and returns the process exit code.
func ExecuteContext(ctx context.Context) int {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

// loadConfig reads the environment and applies command line overrides.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	if flags.years != "" {
		years, err := config.ParseYears(flags.years)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid --years: %w", err)
		}
		cfg.Crawl.Years = years
	}
	if flags.series != "" {
		cfg.Crawl.Series = flags.series
	}
	if flags.country != "" {
		cfg.Crawl.Country = flags.country
	}
	if flags.output != "" {
		cfg.Crawl.OutputDir = flags.output
	}
	if flags.workers > 0 {
		cfg.Crawl.Workers = flags.workers
	}
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}
	if flags.logFormat != "" {
		cfg.Logging.Format = flags.logFormat
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(log)
	return cfg, log, nil
}
