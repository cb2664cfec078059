package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/maltedev/bluray-scraper/internal/api"
	"github.com/maltedev/bluray-scraper/internal/app"
	"github.com/maltedev/bluray-scraper/internal/jobs"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serves the run API and relays outbox events when Redis is configured.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		c, err := app.Build(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer c.Close()

		var outbox api.OutboxStats
		if c.Relay != nil {
			outbox = c.Relay
			go func() {
				if err := c.Relay.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Error("relay stopped with error", "error", err)
				}
			}()
		}

		manager := jobs.NewManager(ctx, c.Service, log)
		handlers := api.NewHandlers(manager, outbox, log)

		server := &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:      handlers.Router(),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		go func() {
			<-ctx.Done()
			log.Info("shutting down server...")

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer shutdownCancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Error("server shutdown failed", "error", err)
			}
		}()

		log.Info("server starting", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}

		// running crawls see the canceled context and save their output
		cancel()
		manager.Wait()
		log.Info("server stopped")
		return nil
	},
}
