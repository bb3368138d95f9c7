package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/stockcast/marketpulse/internal/api/finnhub"
	"github.com/stockcast/marketpulse/internal/api/openai"
	"github.com/stockcast/marketpulse/internal/api/yahoo"
	"github.com/stockcast/marketpulse/internal/config"
	"github.com/stockcast/marketpulse/internal/database"
	"github.com/stockcast/marketpulse/internal/engine"
	"github.com/stockcast/marketpulse/internal/market"
	"github.com/stockcast/marketpulse/internal/notify"
	"github.com/stockcast/marketpulse/internal/pipeline"
)

func main() {
	cronSpec := flag.String("cron", "", "run in-process on a cron schedule instead of once (e.g. \"30 6 * * 1-5\")")
	dateOverride := flag.String("date", "", "trading date override YYYY-MM-DD (for reruns)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(lvl)

	db, err := database.New(database.ConnectionParams{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		DBName:   cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	notifier, err := notify.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize Telegram bot")
	}

	timeout := time.Duration(cfg.RequestTimeout) * time.Second
	prices := yahoo.NewClient(timeout)
	news := finnhub.NewClient(cfg.FinnhubAPIKey)
	model := openai.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIModel)

	p := pipeline.New(
		prices,
		news,
		market.NewBuilder(cfg.MinTickers),
		engine.NewEngine(model, cfg.ListSize, cfg.MaxPredictedPct),
		db,
		notifier,
		pipeline.Options{
			Universe:         cfg.Universe,
			LookbackDays:     cfg.LookbackDays,
			FetchConcurrency: cfg.FetchConcurrency,
			OutputPath:       cfg.OutputJSONPath,
		},
	)

	runOnce := func(ctx context.Context) error {
		asOf := time.Now()
		if *dateOverride != "" {
			asOf, err = time.Parse("2006-01-02", *dateOverride)
			if err != nil {
				log.Fatal().Err(err).Str("date", *dateOverride).Msg("Invalid -date value")
			}
		}
		report, err := p.Run(ctx, asOf)
		if err != nil {
			log.Error().Err(err).Str("date", report.Date).Msg("Run failed")
			return err
		}
		log.Info().Str("date", report.Date).Bool("degraded", report.Degraded).Msg("Run finished")
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *cronSpec == "" {
		if err := runOnce(ctx); err != nil {
			os.Exit(1)
		}
		return
	}

	// In-process scheduler mode; the usual deployment triggers the binary
	// from an external cron instead
	c := cron.New()
	if _, err := c.AddFunc(*cronSpec, func() {
		if err := runOnce(ctx); err != nil {
			log.Error().Err(err).Msg("Scheduled run failed")
		}
	}); err != nil {
		log.Fatal().Err(err).Str("spec", *cronSpec).Msg("Invalid cron spec")
	}

	log.Info().Str("spec", *cronSpec).Msg("Scheduler started")
	c.Start()
	<-ctx.Done()
	c.Stop()
	log.Info().Msg("Scheduler stopped")
}
