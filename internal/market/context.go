package market

import (
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/stockcast/marketpulse/models"
)

// minCloses is the shortest usable price history; anything below is skipped
const minCloses = 5

// DefaultUniverse is the tracked stock set, grouped roughly by sector
var DefaultUniverse = []string{
	// Mega cap tech
	"AAPL", "MSFT", "GOOGL", "AMZN", "META", "NVDA", "TSLA", "ORCL", "IBM", "ADBE",
	// Semiconductors
	"AMD", "INTC", "QCOM", "AVGO", "MU", "AMAT", "LRCX", "KLAC", "MRVL", "TXN",
	// Finance
	"JPM", "BAC", "GS", "MS", "V", "MA", "AXP", "WFC", "C", "BLK",
	// Fintech
	"HOOD", "SOFI", "COIN", "UPST", "AFRM", "PYPL",
	// Healthcare
	"JNJ", "PFE", "MRNA", "UNH", "CVS", "ABT", "LLY", "MRK", "BMY", "GILD",
	"AMGN", "REGN", "VRTX", "ISRG",
	// Consumer staples
	"WMT", "TGT", "COST", "MCD", "SBUX", "NKE", "PG", "KO", "PEP",
	// Consumer discretionary
	"HD", "LOW", "BKNG", "MAR", "F", "GM", "RIVN", "CVNA",
	// Energy
	"XOM", "CVX", "OXY", "SLB", "COP", "EOG", "VLO", "HAL",
	// Industrial / aerospace
	"BA", "GE", "CAT", "HON", "LMT", "RTX", "NOC", "DE",
	// Media / telecom
	"DIS", "NFLX", "T", "VZ", "CMCSA", "SPOT",
	// Cloud / SaaS
	"PLTR", "CRM", "SNOW", "DDOG", "NET", "MDB", "ZS", "PANW", "CRWD", "NOW",
	// Transportation
	"UPS", "FDX", "DAL", "UAL", "UBER", "LYFT", "DASH",
	// High volatility
	"GME", "AMC", "MARA", "RIOT",
}

// Context is the bounded payload handed to the prediction engine
type Context struct {
	Metrics map[string]models.StockMetrics
	News    *models.NewsBundle
	Skipped []string
}

// Tickers returns the tickers that have metrics, sorted for a stable prompt
func (c *Context) Tickers() []string {
	tickers := make([]string, 0, len(c.Metrics))
	for t := range c.Metrics {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)
	return tickers
}

// Builder normalizes raw price series and news into a model-ready context
type Builder struct {
	minTickers int
	logger     zerolog.Logger
}

// NewBuilder creates a context builder; minTickers is the smallest universe
// worth predicting on (mirrors the fetch abort threshold)
func NewBuilder(minTickers int) *Builder {
	return &Builder{
		minTickers: minTickers,
		logger:     log.With().Str("component", "context_builder").Logger(),
	}
}

// Build computes per-ticker metrics and attaches curated news. Tickers with
// missing or short histories are flagged and skipped, not fatal; the build
// fails only when fewer than minTickers survive.
func (b *Builder) Build(series map[string]*models.PriceSeries, news *models.NewsBundle) (*Context, error) {
	ctx := &Context{
		Metrics: make(map[string]models.StockMetrics, len(series)),
		News:    news,
	}
	if ctx.News == nil {
		ctx.News = &models.NewsBundle{}
	}

	for ticker, s := range series {
		if s == nil {
			ctx.Skipped = append(ctx.Skipped, ticker)
			continue
		}
		metrics, err := ComputeMetrics(s.Closes, s.Volumes)
		if err != nil {
			b.logger.Warn().Err(err).Str("ticker", ticker).Msg("Skipping ticker")
			ctx.Skipped = append(ctx.Skipped, ticker)
			continue
		}
		ctx.Metrics[ticker] = *metrics
	}
	sort.Strings(ctx.Skipped)

	if len(ctx.Metrics) < b.minTickers {
		return nil, fmt.Errorf("%w: only %d of %d tickers usable (minimum %d)",
			models.ErrInputFetch, len(ctx.Metrics), len(series), b.minTickers)
	}

	b.logger.Info().Int("tickers", len(ctx.Metrics)).Int("skipped", len(ctx.Skipped)).Msg("Market context built")
	return ctx, nil
}

// ComputeMetrics derives trend and volume features from a daily close series
func ComputeMetrics(closes, volumes []float64) (*models.StockMetrics, error) {
	if len(closes) < minCloses {
		return nil, fmt.Errorf("short history: %d closes", len(closes))
	}

	currentPrice := closes[len(closes)-1]
	prevClose := closes[len(closes)-2]
	weekAgo := prevClose
	if len(closes) >= 6 {
		weekAgo = closes[len(closes)-6]
	}
	monthAgo := prevClose
	if len(closes) >= 22 {
		monthAgo = closes[len(closes)-22]
	}
	if prevClose == 0 || weekAgo == 0 || monthAgo == 0 {
		return nil, fmt.Errorf("zero close in history")
	}

	dailyChangePct := ((currentPrice - prevClose) / prevClose) * 100
	weeklyChangePct := ((currentPrice - weekAgo) / weekAgo) * 100
	monthlyChangePct := ((currentPrice - monthAgo) / monthAgo) * 100

	avgVolume := 0.0
	recentVolume := 0.0
	volumeRatio := 1.0
	if len(volumes) > 0 {
		recentVolume = volumes[len(volumes)-1]
		window := volumes
		if len(volumes) >= 20 {
			window = volumes[len(volumes)-20:]
		}
		sum := 0.0
		for _, v := range window {
			sum += v
		}
		avgVolume = sum / float64(len(window))
		if avgVolume > 0 {
			volumeRatio = recentVolume / avgVolume
		}
	}

	// Momentum: 50 base, shifted by clamped recent changes plus a volume kicker
	momentum := 50.0
	momentum += clamp(dailyChangePct*5, -20, 20)
	momentum += clamp(weeklyChangePct*2, -15, 15)
	momentum += clamp(monthlyChangePct, -15, 15)
	if volumeRatio > 1.5 {
		momentum += math.Min((volumeRatio-1)*5, 10)
	}
	momentum = clamp(momentum, 0, 100)

	return &models.StockMetrics{
		CurrentPrice:     round2(currentPrice),
		PrevClose:        round2(prevClose),
		DailyChangePct:   round2(dailyChangePct),
		WeeklyChangePct:  round2(weeklyChangePct),
		MonthlyChangePct: round2(monthlyChangePct),
		VolumeRatio:      round2(volumeRatio),
		MomentumScore:    math.Round(momentum*10) / 10,
		AvgVolume:        int64(avgVolume),
		RecentVolume:     int64(recentVolume),
	}, nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
