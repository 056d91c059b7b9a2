// Package bootstrap wires a resolved config.Config into a runnable
// Orchestrator, shared by cmd/digest-api and cmd/digest-worker so both
// entry points construct the exact same dependency graph.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/planetaryescape/ai-digest-sub001/internal/breaker"
	"github.com/planetaryescape/ai-digest-sub001/internal/checkpoint"
	"github.com/planetaryescape/ai-digest-sub001/internal/config"
	"github.com/planetaryescape/ai-digest-sub001/internal/costtracker"
	"github.com/planetaryescape/ai-digest-sub001/internal/llm"
	"github.com/planetaryescape/ai-digest-sub001/internal/mailbox"
	"github.com/planetaryescape/ai-digest-sub001/internal/mailer"
	"github.com/planetaryescape/ai-digest-sub001/internal/orchestrator"
	"github.com/planetaryescape/ai-digest-sub001/internal/payload"
	"github.com/planetaryescape/ai-digest-sub001/internal/stage"
	"github.com/planetaryescape/ai-digest-sub001/internal/store"
	"github.com/planetaryescape/ai-digest-sub001/internal/webextract"
	"github.com/planetaryescape/ai-digest-sub001/internal/websearch"
)

// App holds every constructed collaborator, so main() can defer-close
// what needs closing without reaching back into the Orchestrator.
type App struct {
	DB           *store.DB
	Checkpoints  *checkpoint.Store
	Breakers     *breaker.Registry
	Orchestrator *orchestrator.Orchestrator
	Logger       *slog.Logger
}

// New constructs the full dependency graph described by cfg: stores,
// external clients, the stage Deps bundle, and the Orchestrator on top
// of it — database first, then per-dependency clients, then the thing
// that uses all of them.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	db, err := store.Open(cfg.Store.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	logger.Info("database initialized", "path", cfg.Store.DBPath)

	blob, err := store.NewBlobStore(ctx, store.BlobStoreConfig{
		Bucket:         cfg.Store.BlobBucket,
		Region:         cfg.Store.BlobRegion,
		Endpoint:       cfg.Store.BlobEndpoint,
		AccessKey:      cfg.Store.BlobAccessKey,
		SecretKey:      cfg.Store.BlobSecretKey,
		ForcePathStyle: cfg.Store.BlobForcePath,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open blob store: %w", err)
	}

	box, err := mailbox.New(ctx, mailbox.Config{
		ClientID:     cfg.Gmail.ClientID,
		ClientSecret: cfg.Gmail.ClientSecret,
		UserEmail:    cfg.Gmail.UserEmail,
		MaxResults:   int64(cfg.Gmail.BatchSize),
	}, db.Tokens, db.Senders, cfg.Gmail.RefreshToken)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("build mailbox: %w", err)
	}

	checkpoints := checkpoint.New(checkpoint.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := checkpoints.Ping(ctx); err != nil {
		logger.Warn("redis checkpoint store unreachable at startup; run-in-flight polling will degrade", "error", err)
	}

	breakers := breaker.NewRegistry(breaker.Options{
		FailureThreshold:  cfg.CircuitBreaker.FailureThreshold,
		ResetTimeout:      cfg.CircuitBreaker.ResetTimeout,
		HalfOpenMaxProbes: cfg.CircuitBreaker.HalfOpenMaxProbes,
	})

	deps := &stage.Deps{
		Mailbox:    box,
		Senders:    db.Senders,
		Processed:  db.Processed,
		Payloads:   payload.New(blob, cfg.Payload.InlineThresholdBytes),
		LLM: llm.New(llm.Config{
			Provider:     cfg.LLM.Provider,
			APIKey:       cfg.LLM.APIKey,
			Endpoint:     cfg.LLM.Endpoint,
			QualityModel: cfg.LLM.QualityModel,
			FastModel:    cfg.LLM.FastModel,
			Timeout:      cfg.LLM.Timeout,
			RateLimitRPM: cfg.LLM.RateLimitRPM,
		}),
		WebExtract: webextract.New(time.Duration(cfg.WebExtract.TimeoutSeconds) * time.Second),
		WebSearch: websearch.New(websearch.Config{
			APIKey:  cfg.WebSearch.APIKey,
			Timeout: cfg.WebSearch.Timeout,
		}),
		Mailer: mailer.New(mailer.Config{
			Host:      cfg.Mailer.SMTPHost,
			Port:      cfg.Mailer.SMTPPort,
			Username:  cfg.Mailer.SMTPUsername,
			Password:  cfg.Mailer.SMTPPassword,
			From:      cfg.Mailer.FromAddress,
			FromName:  cfg.Mailer.FromName,
			Recipient: cfg.Mailer.Recipient,
			StartTLS:  cfg.Mailer.UseSTARTTLS,
		}),
		Cost:       costtracker.New(cfg.CostTracker.MaxCostPerRunUSD, cfg.CostTracker.ApproachingPct),
		Breakers:   breakers,
		Recipient:  cfg.Mailer.Recipient,
		OwnAddress: cfg.Gmail.UserEmail,
	}

	orch := orchestrator.New(deps, checkpoints, db.Runs)

	return &App{DB: db, Checkpoints: checkpoints, Breakers: breakers, Orchestrator: orch, Logger: logger}, nil
}

// Close releases every closable resource. Safe to call on a partially
// constructed App.
func (a *App) Close() {
	if a.Checkpoints != nil {
		a.Checkpoints.Close()
	}
	if a.DB != nil {
		a.DB.Close()
	}
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
