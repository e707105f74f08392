package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"google.golang.org/api/gmail/v1"

	"github.com/sbitra/mailmint/internal/pipeline"
	"github.com/sbitra/mailmint/pkg/api"
	"github.com/sbitra/mailmint/pkg/client"
	"github.com/sbitra/mailmint/pkg/config"
	"github.com/sbitra/mailmint/pkg/gatekeeper"
	"github.com/sbitra/mailmint/pkg/normalize"
	"github.com/sbitra/mailmint/pkg/rules"
	gmailsource "github.com/sbitra/mailmint/pkg/source/gmail"
	mboxsource "github.com/sbitra/mailmint/pkg/source/mbox"
	"github.com/sbitra/mailmint/pkg/store/postgres"
)

// runMailmint starts the extraction daemon.
func runMailmint(logger *slog.Logger) error {
	k := koanf.New(".")

	// Load configuration from environment variables
	if err := k.Load(env.Provider("", ".", nil), nil); err != nil {
		return fmt.Errorf("loading config from environment: %w", err)
	}

	var cfg config.Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf", FlatPaths: true}); err != nil {
		return fmt.Errorf("unmarshaling config: %w", err)
	}

	if cfg.Postgres.Host == "" {
		return fmt.Errorf("POSTGRES_HOST environment variable is required")
	}

	// Load extraction rules
	var registry *rules.Registry
	var err error
	if cfg.RulesFile != "" {
		registry, err = rules.LoadFile(cfg.RulesFile)
	} else {
		registry, err = rules.LoadEmbedded()
	}
	if err != nil {
		return fmt.Errorf("loading rules: %w", err)
	}

	var review *rules.ReviewLog
	if cfg.ReviewLog != "" {
		review, err = rules.OpenReviewLog(cfg.ReviewLog)
		if err != nil {
			return fmt.Errorf("opening review log: %w", err)
		}
		defer review.Close()
	}

	logger.Info("configuration loaded",
		"source", sourceName(cfg),
		"rule_count", registry.Len(),
		"review_log", cfg.ReviewLog,
	)

	source, err := buildSource(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating source: %w", err)
	}
	defer source.Close()

	store, err := postgres.New(postgres.Config{
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
	}, logger.With("component", "store"))
	if err != nil {
		return fmt.Errorf("creating store: %w", err)
	}
	defer store.Close()

	gate := gatekeeper.New(gatekeeper.DefaultConfig(), logger.With("component", "gatekeeper"))
	normalizer := normalize.New(normalize.DefaultConfig(), logger.With("component", "normalizer"))

	p := pipeline.New(source, store, gate, registry, normalizer, review, pipeline.Config{
		ChunkSize:    cfg.ChunkSize,
		Workers:      cfg.Workers,
		PollInterval: time.Duration(cfg.PollIntervalMinutes) * time.Minute,
		Lookback:     time.Duration(cfg.LookbackHours) * time.Hour,
	}, logger.With("component", "pipeline"))

	// Setup context with cancellation on SIGINT/SIGTERM
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	logger.Info("mailmint started")

	if cfg.Once {
		err = p.RunOnce(ctx)
	} else {
		err = p.Run(ctx)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("mailmint stopped")
	return nil
}

func sourceName(cfg config.Config) string {
	if cfg.Source == "" {
		return "gmail"
	}
	return cfg.Source
}

// buildSource constructs the configured mailbox backend.
func buildSource(cfg config.Config, logger *slog.Logger) (api.Source, error) {
	switch sourceName(cfg) {
	case "mbox":
		if cfg.MboxPath == "" {
			return nil, fmt.Errorf("MAILMINT_MBOX_PATH is required for the mbox source")
		}
		return mboxsource.New(cfg.MboxPath, logger.With("component", "source", "backend", "mbox"))

	case "gmail":
		httpClient, err := client.New(config.ClientSecretFile, logger, gmail.GmailReadonlyScope)
		if err != nil {
			return nil, fmt.Errorf("creating http client: %w", err)
		}
		return gmailsource.New(httpClient, gmailsource.Config{
			Mailbox: cfg.Mailbox,
		}, logger.With("component", "source", "backend", "gmail"))

	default:
		return nil, fmt.Errorf("unknown source %q (want gmail or mbox)", cfg.Source)
	}
}
