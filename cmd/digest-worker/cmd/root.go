package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/planetaryescape/ai-digest-sub001/internal/bootstrap"
	"github.com/planetaryescape/ai-digest-sub001/internal/config"
	"github.com/planetaryescape/ai-digest-sub001/internal/scheduler"
)

const (
	Version   = "1.0.0"
	BuildDate = "development"
)

var envFile string

// rootCmd drives the cron-triggered half of the AI Digest pipeline: no
// HTTP listener, just the weekly scheduler running until a shutdown
// signal arrives.
var rootCmd = &cobra.Command{
	Use:   "digest-worker",
	Short: "Cron-triggered weekly runner for the AI Digest pipeline",
	Long: `digest-worker v1.0.0

DESCRIPTION:
    Runs the scheduled half of the AI Digest pipeline: a cron trigger
    (default Mondays 08:00, configurable via SCHEDULER_CRON and
    SCHEDULER_TIMEZONE) that invokes a weekly digest run against the
    same Orchestrator digest-api exposes over HTTP.

EXAMPLES:
    digest-worker
    digest-worker --env-file=.env.production`,
	Version: Version,
	RunE:    runWorker,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "path to an optional .env file")
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	app, err := bootstrap.New(context.Background(), cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer app.Close()

	sched, err := scheduler.New(app.Orchestrator, cfg.Scheduler.CronExpression, cfg.Scheduler.Timezone, app.Logger)
	if err != nil {
		return fmt.Errorf("failed to build scheduler: %w", err)
	}

	sched.Start()
	app.Logger.Info("digest-worker running", "cron", cfg.Scheduler.CronExpression, "timezone", cfg.Scheduler.Timezone, "version", Version)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	app.Logger.Info("received shutdown signal", "signal", sig.String())

	sched.Stop()
	app.Logger.Info("digest-worker stopped")
	return nil
}
