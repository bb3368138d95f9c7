package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/stockcast/marketpulse/internal/market"
	"github.com/stockcast/marketpulse/models"
)

const (
	maxPromptMacroHeadlines = 15
	modelCallRetries        = 2
)

// Engine elicits a structured prediction set from the generative model and
// validates it against the supplied universe before it crosses into the
// typed data model
type Engine struct {
	client       models.CompletionClient
	listSize     int
	maxChangePct float64
	logger       zerolog.Logger
}

// NewEngine creates a prediction engine. listSize is the exact number of
// winners and losers requested; maxChangePct bounds a plausible daily move.
func NewEngine(client models.CompletionClient, listSize int, maxChangePct float64) *Engine {
	return &Engine{
		client:       client,
		listSize:     listSize,
		maxChangePct: maxChangePct,
		logger:       log.With().Str("component", "prediction_engine").Logger(),
	}
}

// Predict sends the market context to the model and returns a validated
// prediction record for the date. An invalid response gets exactly one
// repair retry with the validation error appended; a second invalid
// response fails with ErrModelOutputValidation.
func (e *Engine) Predict(ctx context.Context, mc *market.Context, date string) (*models.PredictionRecord, error) {
	prompt := e.buildPrompt(mc, date)

	raw, err := e.complete(ctx, prompt)
	if err != nil {
		return nil, err
	}

	record, validationErr := e.parseAndValidate(raw, mc, date)
	if validationErr == nil {
		return record, nil
	}

	e.logger.Warn().Err(validationErr).Msg("Model output invalid, attempting repair retry")

	repairPrompt := prompt + fmt.Sprintf(
		"\n\nYour previous response was rejected: %s\nReturn a corrected JSON object that fixes this. Return ONLY the JSON object.",
		validationErr.Error(),
	)
	raw, err = e.complete(ctx, repairPrompt)
	if err != nil {
		return nil, err
	}

	record, validationErr = e.parseAndValidate(raw, mc, date)
	if validationErr != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrModelOutputValidation, validationErr)
	}
	return record, nil
}

// complete calls the model with bounded retries on transport failure
func (e *Engine) complete(ctx context.Context, prompt string) (string, error) {
	var raw string
	operation := func() error {
		var err error
		raw, err = e.client.Complete(ctx, prompt)
		return err
	}

	strategy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), modelCallRetries)
	if err := backoff.Retry(operation, backoff.WithContext(strategy, ctx)); err != nil {
		if errors.Is(err, models.ErrModelInvocation) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", models.ErrModelInvocation, err)
	}
	return raw, nil
}

func (e *Engine) buildPrompt(mc *market.Context, date string) string {
	var sb strings.Builder

	sb.WriteString("You are a quantitative stock market analyst. Based on the following market data and news, predict which stocks are most likely to move significantly today.\n\n")

	sb.WriteString("=== STOCK UNIVERSE DATA ===\n")
	sb.WriteString("(Format: ticker: current price, 1-day change, 1-week change, 1-month change, volume ratio vs 20d avg, momentum score 0-100)\n\n")
	for _, ticker := range mc.Tickers() {
		m := mc.Metrics[ticker]
		sb.WriteString(fmt.Sprintf("%s: price=$%.2f, 1d=%+.1f%%, 1w=%+.1f%%, 1m=%+.1f%%, vol_ratio=%.1fx, momentum=%.0f/100\n",
			ticker, m.CurrentPrice, m.DailyChangePct, m.WeeklyChangePct, m.MonthlyChangePct, m.VolumeRatio, m.MomentumScore))
	}

	sb.WriteString("\n=== MACRO & GEOPOLITICAL NEWS ===\n")
	macro := mc.News.Macro
	if len(macro) > maxPromptMacroHeadlines {
		macro = macro[:maxPromptMacroHeadlines]
	}
	for _, h := range macro {
		sb.WriteString("- " + h.Title + "\n")
	}

	sb.WriteString("\n=== SECTOR NEWS ===\n")
	for _, sector := range sortedSectors(mc.News.Sector) {
		headlines := mc.News.Sector[sector]
		if len(headlines) == 0 {
			continue
		}
		sb.WriteString(strings.ToUpper(sector) + ":\n")
		for _, h := range headlines {
			sb.WriteString("  - " + h.Title + "\n")
		}
	}

	sb.WriteString(fmt.Sprintf(`
=== YOUR TASK ===
Analyze all stocks and identify:
1. TOP %d EXPECTED WINNERS - stocks most likely to rise today
2. TOP %d EXPECTED LOSERS - stocks most likely to fall today

For each stock provide:
- Predicted %% move for the day (be specific, e.g. +2.4%% not just "positive")
- A concise reason (max 6 words) based on the data and news

Respond ONLY with valid JSON in this exact format, no other text:

{
  "date": "%s",
  "market_summary": "One sentence summary of today's market conditions",
  "winners": [
    {"rank": 1, "ticker": "XXXX", "company": "Full Company Name", "sector": "Sector Name", "predicted_change_pct": 3.2, "reason": "Short reason here"}
  ],
  "losers": [
    {"rank": 1, "ticker": "XXXX", "company": "Full Company Name", "sector": "Sector Name", "predicted_change_pct": -2.8, "reason": "Short reason here"}
  ]
}

Rules:
- winners list must have exactly %d items, ranked by predicted gain descending
- losers list must have exactly %d items, ranked by predicted loss descending (most negative first)
- Only pick tickers from the stock universe provided
- Return ONLY the JSON object, no markdown, no explanation
`, e.listSize, e.listSize, date, e.listSize, e.listSize))

	return sb.String()
}

func (e *Engine) parseAndValidate(raw string, mc *market.Context, date string) (*models.PredictionRecord, error) {
	content := cleanJSONResponse(raw)

	var record models.PredictionRecord
	if err := json.Unmarshal([]byte(content), &record); err != nil {
		return nil, fmt.Errorf("response is not valid JSON: %v", err)
	}

	universe := make(map[string]bool, len(mc.Metrics))
	for ticker := range mc.Metrics {
		universe[ticker] = true
	}

	if err := e.validateList("winners", record.Winners, universe); err != nil {
		return nil, err
	}
	if err := e.validateList("losers", record.Losers, universe); err != nil {
		return nil, err
	}

	// The model's date field is advisory; the run's trading date is authoritative
	record.Date = date
	record.CreatedAt = time.Now().UTC()
	return &record, nil
}

func (e *Engine) validateList(name string, items []models.PredictionItem, universe map[string]bool) error {
	if len(items) != e.listSize {
		return fmt.Errorf("%s must have exactly %d items, got %d", name, e.listSize, len(items))
	}

	seenRanks := make(map[int]bool, len(items))
	for i, item := range items {
		if item.Rank < 1 || item.Rank > e.listSize {
			return fmt.Errorf("%s[%d] rank %d outside 1..%d", name, i, item.Rank, e.listSize)
		}
		if seenRanks[item.Rank] {
			return fmt.Errorf("%s has duplicate rank %d", name, item.Rank)
		}
		seenRanks[item.Rank] = true

		if strings.TrimSpace(item.Ticker) == "" {
			return fmt.Errorf("%s[%d] has empty ticker", name, i)
		}
		if !universe[item.Ticker] {
			return fmt.Errorf("%s[%d] ticker %q is not in the supplied universe", name, i, item.Ticker)
		}
		if math.IsNaN(item.PredictedChangePct) || math.IsInf(item.PredictedChangePct, 0) {
			return fmt.Errorf("%s[%d] predicted_change_pct is not a finite number", name, i)
		}
		if math.Abs(item.PredictedChangePct) >= e.maxChangePct {
			return fmt.Errorf("%s[%d] predicted_change_pct %.2f exceeds bound %.0f", name, i, item.PredictedChangePct, e.maxChangePct)
		}
		if strings.TrimSpace(item.Reason) == "" {
			return fmt.Errorf("%s[%d] (%s) is missing a reason", name, i, item.Ticker)
		}
	}
	return nil
}

// cleanJSONResponse strips markdown fences and surrounding prose from a
// model response before unmarshalling
func cleanJSONResponse(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start >= 0 && end > start {
		content = content[start : end+1]
	}
	return content
}

func sortedSectors(sectors map[string][]models.Headline) []string {
	names := make([]string, 0, len(sectors))
	for name := range sectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
