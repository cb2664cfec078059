package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/maltedev/bluray-scraper/internal/app"
)

func init() {
	rootCmd.AddCommand(crawlCmd)
}

var crawlCmd = &cobra.Command{
	Use:   "crawl [--years 2019-2023] [--series bluray] [--country us]",
	Short: "Crawls the configured years once and writes the output files.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		c, err := app.Build(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer c.Close()

		summary, err := c.Service.Run(ctx, cfg.Crawl.Years, nil)
		if summary != nil {
			log.Info("run summary",
				"run_id", summary.RunID,
				"years", summary.Years,
				"list_pages", summary.Stats.ListPages,
				"dispatched", summary.Stats.Dispatched,
				"emitted", summary.Stats.Emitted,
				"duplicates", summary.Stats.Duplicates,
				"not_found", summary.Stats.NotFound,
				"failed", summary.Stats.Failed,
				"aborted", summary.Aborted)
		}
		if err != nil {
			return fmt.Errorf("crawl failed: %w", err)
		}
		return nil
	},
}
