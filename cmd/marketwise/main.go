package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rewired-gh/marketwise/internal/config"
	"github.com/rewired-gh/marketwise/internal/logger"
	"github.com/rewired-gh/marketwise/internal/mastodon"
	"github.com/rewired-gh/marketwise/internal/metrics"
	"github.com/rewired-gh/marketwise/internal/platforms"
	"github.com/rewired-gh/marketwise/internal/runner"
	"github.com/rewired-gh/marketwise/internal/storage"
	"github.com/rewired-gh/marketwise/internal/telegram"
)

var (
	configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")
	dbPath     = flag.String("database", "", "SQLite database to use (overrides storage.db_path)")
	noFetch    = flag.Bool("no-fetch", false, "Do not fetch new market data")
	noPublish  = flag.Bool("no-publish", false, "Do not publish noteworthy changes")
)

func main() {
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("Failed to load .env: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *dbPath != "" {
		cfg.Storage.DBPath = *dbPath
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	if err := logger.SetFile(logger.FileConfig{
		Path:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	}); err != nil {
		logger.Fatal("Failed to open log file: %v", err)
	}
	logger.Info("Configuration loaded from %s", *configPath)

	exitCode := 0
	defer func() {
		if exitCode != 0 {
			os.Exit(exitCode)
		}
	}()

	store, err := storage.New(cfg.Storage.DBPath)
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	var telegramClient *telegram.Client
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(telegram.Config{
			BotToken:       cfg.Telegram.BotToken,
			ChatID:         cfg.Telegram.ChatID,
			APIEndpoint:    cfg.Telegram.APIEndpoint,
			MaxRetries:     cfg.Telegram.MaxRetries,
			RetryDelayBase: cfg.Telegram.RetryDelayBase,
		})
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	var announcers []runner.Announcer
	if cfg.Mastodon.Enabled {
		mc, err := mastodon.NewClient(mastodon.Config{
			Endpoint:    cfg.Mastodon.APIEndpoint,
			AccessToken: cfg.Mastodon.AccessToken,
			Visibility:  cfg.Mastodon.Visibility,
			Language:    cfg.Mastodon.Language,
			Timeout:     cfg.Mastodon.Timeout,
		})
		if err != nil {
			logger.Fatal("Failed to initialize Mastodon client: %v", err)
		}
		announcers = append(announcers, mc)
	}
	if telegramClient != nil && cfg.Telegram.Announce {
		announcers = append(announcers, telegramClient)
	}
	if len(announcers) == 0 {
		logger.Warn("No announcer configured, changes will only be logged")
	}

	opts := runner.Options{
		MinSilence:     cfg.Publish.MinSilence,
		Retention:      cfg.Storage.Retention,
		Freshness:      cfg.Monitor.Freshness,
		HistorySize:    cfg.Monitor.HistorySize,
		EarlyTolerance: cfg.Monitor.EarlyTolerance,
		NoFetch:        *noFetch,
		NoPublish:      *noPublish,
	}
	r := runner.New(store, buildSources(cfg), announcers, opts)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cleaning up...")
		cancel()
	}()

	defer func() {
		if n, err := r.Retire(); err != nil {
			logger.Warn("Final retention sweep failed: %v", err)
		} else {
			logger.Debug("Final retention sweep removed %d observations", n)
		}
	}()

	runOnce := func() error {
		_, err := r.Run(ctx)
		if werr := metrics.WriteTextfile(cfg.Metrics.TextfilePath); werr != nil {
			logger.Warn("Failed to write metrics textfile: %v", werr)
		}
		return err
	}

	if cfg.Run.Interval == 0 {
		if err := runOnce(); err != nil {
			logger.Error("Run failed: %v", err)
			exitCode = 1
		}
		return
	}

	if telegramClient != nil {
		telegramClient.ListenForCommands(ctx)
	}

	logger.Info("Starting marketwise (interval: %v, min_silence: %v, retention: %v)",
		cfg.Run.Interval, cfg.Publish.MinSilence, cfg.Storage.Retention)

	ticker := time.NewTicker(cfg.Run.Interval)
	defer ticker.Stop()

	consecutiveFailures := 0

	handleRunResult := func(err error) {
		if err != nil {
			consecutiveFailures++
			logger.Error("Run failed: %v", err)
			if consecutiveFailures == 1 && telegramClient != nil {
				if sendErr := telegramClient.SendError(err); sendErr != nil {
					logger.Warn("Failed to send error notification to Telegram: %v", sendErr)
				}
			}
		} else {
			if consecutiveFailures > 0 && telegramClient != nil {
				if sendErr := telegramClient.SendRecovery(consecutiveFailures); sendErr != nil {
					logger.Warn("Failed to send recovery notification to Telegram: %v", sendErr)
				}
			}
			consecutiveFailures = 0
		}
	}

	handleRunResult(runOnce())

	for {
		select {
		case <-ctx.Done():
			logger.Info("Service stopped")
			return

		case <-ticker.C:
			logger.Debug("Starting scheduled run")
			handleRunResult(runOnce())
		}
	}
}

func buildSources(cfg *config.Config) []platforms.Source {
	client := platforms.ClientConfig{
		Timeout:         cfg.HTTP.Timeout,
		MaxRetries:      cfg.HTTP.MaxRetries,
		RetryDelayBase:  cfg.HTTP.RetryDelayBase,
		RequestInterval: cfg.HTTP.RequestInterval,
	}

	var sources []platforms.Source
	if cfg.Manifold.Enabled {
		sources = append(sources, platforms.NewManifold(platforms.ManifoldConfig{
			BaseURL:    cfg.Manifold.BaseURL,
			Limit:      cfg.Manifold.Limit,
			Referral:   cfg.Manifold.Referral,
			MinBettors: cfg.Manifold.MinBettors,
			MinVolume:  cfg.Manifold.MinVolume,
		}, client))
	}
	if cfg.Metaculus.Enabled {
		sources = append(sources, platforms.NewMetaculus(platforms.MetaculusConfig{
			BaseURL:        cfg.Metaculus.BaseURL,
			Limit:          cfg.Metaculus.Limit,
			MinForecasters: cfg.Metaculus.MinForecasters,
		}, client))
	}
	if cfg.Polymarket.Enabled {
		sources = append(sources, platforms.NewPolymarket(platforms.PolymarketConfig{
			GammaAPIURL:   cfg.Polymarket.GammaAPIURL,
			EventURL:      cfg.Polymarket.EventURL,
			Limit:         cfg.Polymarket.Limit,
			MinLiquidity:  cfg.Polymarket.MinLiquidity,
			MinVolume24hr: cfg.Polymarket.MinVolume24hr,
		}, client))
	}
	return sources
}
