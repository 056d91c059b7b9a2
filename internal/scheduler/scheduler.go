// Package scheduler implements the weekly cron trigger half of C15,
// invoking the Orchestrator's weekly RunDigest on the configured schedule.
package scheduler

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/planetaryescape/ai-digest-sub001/internal/model"
)

// Runner is the subset of orchestrator.Orchestrator the Scheduler needs.
type Runner interface {
	RunDigestWithID(ctx context.Context, executionID string, mode model.RunMode, window *model.DateWindow) (model.RunResult, error)
}

// Scheduler triggers weekly digest runs on a cron schedule rather than a
// fixed-interval ticker, since the trigger is a calendar expression
// ("Mondays 08:00"), not a duration.
type Scheduler struct {
	runner  Runner
	cron    *cron.Cron
	running atomic.Bool
	logger  *slog.Logger
}

// New constructs a Scheduler. cronExpr and timezone follow
// config.SchedulerConfig (standard 5-field cron, e.g. "0 8 * * 1").
func New(runner Runner, cronExpr, timezone string, logger *slog.Logger) (*Scheduler, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, err
	}

	s := &Scheduler{runner: runner, logger: logger}
	s.cron = cron.New(cron.WithLocation(loc))
	if _, err := s.cron.AddFunc(cronExpr, s.triggerWeeklyRun); err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins the cron loop in the background.
func (s *Scheduler) Start() {
	s.running.Store(true)
	s.logger.Info("scheduler: starting weekly cron trigger", "entries", len(s.cron.Entries()))
	s.cron.Start()
}

// Stop halts the cron loop, waiting for any in-progress trigger to return.
func (s *Scheduler) Stop() {
	s.running.Store(false)
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("scheduler: stopped")
}

func (s *Scheduler) triggerWeeklyRun() {
	executionID := uuid.NewString()
	s.logger.Info("scheduler: triggering weekly run", "execution_id", executionID)

	result, err := s.runner.RunDigestWithID(context.Background(), executionID, model.ModeWeekly, nil)
	if err != nil {
		s.logger.Error("scheduler: weekly run failed", "execution_id", executionID, "error", err)
		return
	}
	s.logger.Info("scheduler: weekly run finished", "execution_id", executionID, "success", result.Success, "emails_found", result.EmailsFound)
}
