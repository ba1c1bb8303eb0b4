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
	"time"

	"github.com/joho/godotenv"
	orchestration "github.com/koscakluka/ema-support/core"
	"github.com/koscakluka/ema-support/core/calls"
	"github.com/koscakluka/ema-support/core/knowledgebase"
	"github.com/koscakluka/ema-support/core/knowledgebase/httpkb"
	"github.com/koscakluka/ema-support/core/knowledgebase/postgres"
	sttdeepgram "github.com/koscakluka/ema-support/core/speechtotext/deepgram"
	"github.com/koscakluka/ema-support/core/summarize/gemini"
	ttsdeepgram "github.com/koscakluka/ema-support/core/texttospeech/deepgram"
	"github.com/koscakluka/ema-support/core/ticketing"
	"github.com/koscakluka/ema-support/core/ticketing/kayako"
	"github.com/koscakluka/ema-support/core/ticketing/sqlitestore"
	"github.com/koscakluka/ema-support/internal/config"
	"github.com/koscakluka/ema-support/internal/server"
)

const shutdownTimeout = 45 * time.Second

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
		logger.Error("ema-support stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	callConfig := cfg.Orchestration()
	opts := []orchestration.OrchestratorOption{
		orchestration.WithConfig(callConfig),
		orchestration.WithLogger(logger),
	}

	// Speech
	if cfg.DeepgramAPIKey == "" {
		logger.Warn("DEEPGRAM_API_KEY is not set, calls will not be transcribed or voiced")
	} else {
		opts = append(opts, orchestration.WithSpeechToText(
			func(context.Context, calls.CallID) (orchestration.SpeechToText, error) {
				return sttdeepgram.NewTranscriptionClient(cfg.DeepgramAPIKey), nil
			}))

		ttsOpts := []ttsdeepgram.ClientOption{ttsdeepgram.WithEncoding(callConfig.Encoding)}
		if voice, ok := ttsdeepgram.ParseVoice(cfg.DeepgramVoice); ok {
			ttsOpts = append(ttsOpts, ttsdeepgram.WithVoice(voice))
		} else {
			logger.Warn("unknown deepgram voice, using the default", "voice", cfg.DeepgramVoice)
		}
		textToSpeech, err := ttsdeepgram.NewTextToSpeechClient(cfg.DeepgramAPIKey, ttsOpts...)
		if err != nil {
			return fmt.Errorf("failed to create text to speech client: %w", err)
		}
		opts = append(opts, orchestration.WithTextToSpeech(textToSpeech))
	}

	// Knowledge base
	var articleStore knowledgebase.ArticleStore
	var staticIndex *knowledgebase.StaticIndex
	switch {
	case cfg.KBDatabaseURL != "":
		searcher, err := postgres.New(ctx, cfg.KBDatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to knowledge base: %w", err)
		}
		defer searcher.Close()
		if err := searcher.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to migrate knowledge base: %w", err)
		}
		opts = append(opts, orchestration.WithKnowledgeBase(searcher))
		articleStore = searcher
		logger.Info("knowledge base: postgres")
	case cfg.KBServiceURL != "":
		opts = append(opts, orchestration.WithKnowledgeBase(httpkb.New(cfg.KBServiceURL, httpkb.WithAPIKey(cfg.KBAPIKey))))
		logger.Info("knowledge base: http service", "url", cfg.KBServiceURL)
	default:
		staticIndex = knowledgebase.NewStaticIndex()
		opts = append(opts, orchestration.WithKnowledgeBase(staticIndex))
		articleStore = staticIndex
		logger.Warn("no knowledge base configured, using an in-memory index")
	}

	// Ticketing
	fallback, err := sqlitestore.New(ctx, cfg.FallbackDBPath)
	if err != nil {
		return fmt.Errorf("failed to open ticket fallback store: %w", err)
	}
	defer fallback.Close()
	opts = append(opts, orchestration.WithFallbackStore(fallback))

	classifier, err := ticketing.NewClassifier(ctx, ticketing.DefaultPolicy)
	if err != nil {
		return fmt.Errorf("failed to prepare ticket classifier: %w", err)
	}
	opts = append(opts, orchestration.WithClassifier(classifier))

	var (
		replayer *ticketing.Replayer
		indexer  *knowledgebase.Indexer
	)
	if cfg.TicketingURL == "" {
		logger.Warn("TICKETING_URL is not set, tickets are only queued locally")
	} else {
		var kayakoOpts []kayako.Option
		if cfg.TicketingRequester > 0 {
			kayakoOpts = append(kayakoOpts, kayako.WithRequesterID(cfg.TicketingRequester))
		}
		client := kayako.New(cfg.TicketingURL, cfg.TicketingEmail, cfg.TicketingPassword, kayakoOpts...)
		opts = append(opts, orchestration.WithTicketing(client))
		replayer = ticketing.NewReplayer(fallback, client, ticketing.WithReplayLogger(logger))
		if articleStore != nil {
			indexer = knowledgebase.NewIndexer(client, articleStore)
		}
	}

	// Summarization
	if cfg.GeminiAPIKey != "" {
		var geminiOpts []gemini.Option
		if cfg.GeminiModel != "" {
			geminiOpts = append(geminiOpts, gemini.WithModel(cfg.GeminiModel))
		}
		summarizer, err := gemini.New(ctx, cfg.GeminiAPIKey, geminiOpts...)
		if err != nil {
			return fmt.Errorf("failed to create summarizer: %w", err)
		}
		opts = append(opts, orchestration.WithSummarizer(summarizer))
	}

	orchestrator := orchestration.NewOrchestrator(opts...)
	go orchestrator.Run(ctx)
	if replayer != nil {
		go replayer.Run(ctx, cfg.ReplayInterval)
	}
	// The in-memory index starts empty on every boot.
	if staticIndex != nil && indexer != nil {
		go func() {
			report, err := indexer.Run(ctx)
			if err != nil {
				logger.Error("failed to index help center articles", "error", err)
			}
			logger.Info("indexed help center articles", "indexed", report.Indexed, "skipped", report.Skipped)
		}()
	}

	serverOpts := []server.Option{
		server.WithPublicHost(cfg.PublicHost),
		server.WithFallbackStore(fallback),
		server.WithLogger(logger),
	}
	if replayer != nil {
		serverOpts = append(serverOpts, server.WithReplayer(replayer))
	}
	if indexer != nil {
		serverOpts = append(serverOpts, server.WithArticleIndexer(indexer))
	}
	srv := server.New(orchestrator, serverOpts...)

	serverErr := make(chan error, 1)
	go func() { serverErr <- srv.Start(cfg.HTTPAddr) }()

	var errs []error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serverErr:
		if err != nil {
			errs = append(errs, fmt.Errorf("http server failed: %w", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("failed to shut down http server: %w", err))
	}
	// Live calls are closed and their tickets handed off before the fallback
	// store is closed by the deferred call above.
	if err := orchestrator.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("failed to close live calls: %w", err))
	}
	logger.Info("ema-support stopped", "open_calls", orchestrator.Registry().Len())
	return errors.Join(errs...)
}
