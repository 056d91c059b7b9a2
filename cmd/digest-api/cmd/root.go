package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/planetaryescape/ai-digest-sub001/internal/api"
	"github.com/planetaryescape/ai-digest-sub001/internal/bootstrap"
	"github.com/planetaryescape/ai-digest-sub001/internal/config"
	"github.com/planetaryescape/ai-digest-sub001/internal/server"
)

const (
	Version   = "1.0.0"
	BuildDate = "development"
)

var envFile string

// rootCmd serves the §6 HTTP entry points: POST /run-now, POST /historical,
// GET /execution/{id}, GET /history, and GET /healthz.
var rootCmd = &cobra.Command{
	Use:   "digest-api",
	Short: "HTTP API for triggering and inspecting AI Digest runs",
	Long: `digest-api v1.0.0

DESCRIPTION:
    Serves the HTTP-triggered half of the AI Digest pipeline: run-now and
    historical-backfill triggers, execution status lookups, and run
    history, backed by the same Orchestrator digest-worker drives on a
    cron schedule.

CONFIGURATION:
    Configuration is via environment variables and an optional .env file;
    see internal/config for the full variable set (Gmail OAuth2, LLM
    provider, SMTP, Redis checkpoint store, circuit breaker tuning).

EXAMPLES:
    digest-api
    digest-api --env-file=.env.production`,
	Version: Version,
	RunE:    runAPI,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "path to an optional .env file")
}

func runAPI(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	app, err := bootstrap.New(context.Background(), cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer app.Close()

	srv := &http.Server{
		Addr:         cfg.Address(),
		Handler:      api.NewServer(app.Orchestrator, app.Checkpoints, app.DB.Runs, app.Breakers, app.DB).Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	app.Logger.Info("starting digest-api", "addr", cfg.Address(), "version", Version)
	return server.HandleSignals(srv, 30*time.Second)
}
