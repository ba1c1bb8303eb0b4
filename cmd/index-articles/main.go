// Command index-articles copies the Kayako help center into the Postgres
// knowledge base.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/koscakluka/ema-support/core/knowledgebase"
	"github.com/koscakluka/ema-support/core/knowledgebase/postgres"
	"github.com/koscakluka/ema-support/core/ticketing/kayako"
	"github.com/koscakluka/ema-support/internal/config"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to load .env file", "error", err)
	}
	cfg := config.Load()

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("article indexing failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if cfg.KBDatabaseURL == "" {
		return errors.New("KB_DATABASE_URL is not set")
	}
	if cfg.TicketingURL == "" {
		return errors.New("TICKETING_URL is not set")
	}

	searcher, err := postgres.New(ctx, cfg.KBDatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to knowledge base: %w", err)
	}
	defer searcher.Close()
	if err := searcher.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate knowledge base: %w", err)
	}

	client := kayako.New(cfg.TicketingURL, cfg.TicketingEmail, cfg.TicketingPassword)
	report, err := knowledgebase.NewIndexer(client, searcher).Run(ctx)
	logger.Info("indexed help center articles",
		"listed", report.Listed,
		"indexed", report.Indexed,
		"skipped", report.Skipped,
		"failed", len(report.Failed))
	return err
}
