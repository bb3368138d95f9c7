package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/stockcast/marketpulse/internal/config"
	"github.com/stockcast/marketpulse/internal/database"
	"github.com/stockcast/marketpulse/models"
)

// Prints a digest of recent predictions joined with their recorded actuals:
// per-day hit counts and the overall direction hit rate. With -telegram the
// digest is also pushed to the configured chat.
func main() {
	days := flag.Int("days", 7, "how many days of history to include")
	toTelegram := flag.Bool("telegram", false, "also send the digest to the configured Telegram chat")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

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

	history, err := db.RecentHistory(context.Background(), *days)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load history")
	}
	if len(history) == 0 {
		fmt.Printf("No predictions recorded in the last %d days.\n", *days)
		return
	}

	digest := buildDigest(history, *days)
	fmt.Print(digest)

	if *toTelegram {
		if cfg.TelegramBotToken == "" || cfg.TelegramChatID == 0 {
			log.Fatal().Msg("Telegram credentials not set")
		}
		bot, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize Telegram bot")
		}
		if _, err := bot.Send(tgbotapi.NewMessage(cfg.TelegramChatID, digest)); err != nil {
			log.Fatal().Err(err).Msg("Failed to send digest")
		}
		log.Info().Msg("Digest sent")
	}
}

func buildDigest(history []models.HistoryEntry, days int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Prediction history, last %d days\n\n", days)

	totalHits, totalScored := 0, 0
	for _, entry := range history {
		hits, scored := dayHits(entry)
		totalHits += hits
		totalScored += scored

		predicted := len(entry.Record.Winners) + len(entry.Record.Losers)
		if scored == 0 {
			fmt.Fprintf(&sb, "%s  %d picks, no actuals yet\n", entry.Record.Date, predicted)
			continue
		}
		fmt.Fprintf(&sb, "%s  %d/%d direction hits (%d picks)\n", entry.Record.Date, hits, scored, predicted)
	}

	if totalScored > 0 {
		fmt.Fprintf(&sb, "\nOverall: %d/%d (%.0f%%)\n", totalHits, totalScored,
			float64(totalHits)/float64(totalScored)*100)
	}
	return sb.String()
}

// dayHits counts scored picks whose realized move had the predicted sign
func dayHits(entry models.HistoryEntry) (hits, scored int) {
	for _, outcome := range entry.Actuals {
		scored++
		if outcome.PredictedChangePct > 0 == (outcome.ActualChangePct > 0) {
			hits++
		}
	}
	return hits, scored
}
