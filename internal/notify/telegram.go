package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/stockcast/marketpulse/models"
)

// TelegramNotifier pushes a short "predictions are ready" message with the
// top picks after a successful run. Best effort only; the pipeline never
// fails because of it.
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger zerolog.Logger
}

// NewTelegramNotifier creates a notifier; returns nil (a no-op) when the
// token or chat is unset
func NewTelegramNotifier(token string, chatID int64) (*TelegramNotifier, error) {
	if token == "" || chatID == 0 {
		log.Warn().Msg("Telegram credentials not set, notifications disabled")
		return nil, nil
	}

	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("initializing telegram bot: %w", err)
	}

	return &TelegramNotifier{
		bot:    bot,
		chatID: chatID,
		logger: log.With().Str("component", "telegram_notifier").Logger(),
	}, nil
}

// PredictionsReady sends the daily summary message
func (n *TelegramNotifier) PredictionsReady(ctx context.Context, record *models.PredictionRecord) error {
	if n == nil {
		return nil
	}

	text := fmt.Sprintf("Today's stock predictions are ready (%s).", record.Date)
	if len(record.Winners) > 0 && len(record.Losers) > 0 {
		top := record.Winners[0]
		bottom := record.Losers[0]
		text = fmt.Sprintf("📈 %s %+.1f%%  📉 %s %+.1f%%\n%s",
			top.Ticker, top.PredictedChangePct,
			bottom.Ticker, bottom.PredictedChangePct,
			record.MarketSummary)
	}

	msg := tgbotapi.NewMessage(n.chatID, text)
	if _, err := n.bot.Send(msg); err != nil {
		n.logger.Error().Err(err).Msg("Failed to send notification")
		return err
	}

	n.logger.Info().Msg("Prediction notification sent")
	return nil
}
