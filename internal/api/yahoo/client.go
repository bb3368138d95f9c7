package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	platformhttp "github.com/stockcast/marketpulse/internal/platform/http"
	"github.com/stockcast/marketpulse/models"
)

const defaultBaseURL = "https://query1.finance.yahoo.com/v8/finance/chart"

// indexSymbols maps output keys to Yahoo Finance index tickers
var indexSymbols = map[string]string{
	"sp500":  "^GSPC",
	"nasdaq": "^IXIC",
	"dow":    "^DJI",
}

// Client fetches daily price history from the Yahoo Finance v8 chart API
type Client struct {
	httpClient *platformhttp.Client
	baseURL    string
	logger     zerolog.Logger
}

// NewClient creates a new Yahoo Finance client with rate limiting
func NewClient(timeout time.Duration) *Client {
	return &Client{
		httpClient: platformhttp.NewClient(platformhttp.ClientOptions{
			Timeout:        timeout,
			RequestsPerSec: 5,
		}),
		baseURL: defaultBaseURL,
		logger:  log.With().Str("component", "yahoo_client").Logger(),
	}
}

// NewClientWithBaseURL creates a client against a custom endpoint (tests)
func NewClientWithBaseURL(baseURL string, timeout time.Duration) *Client {
	c := NewClient(timeout)
	c.baseURL = baseURL
	return c
}

// chartResponse mirrors the Yahoo Finance v8 chart payload
type chartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Adjclose []struct {
					Adjclose []*float64 `json:"adjclose"`
				} `json:"adjclose"`
				Quote []struct {
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// Series fetches the daily close/volume history for one ticker, oldest first
func (c *Client) Series(ctx context.Context, ticker string, lookbackDays int) (*models.PriceSeries, error) {
	now := time.Now()
	raw, err := c.fetchChart(ctx, ticker, now.AddDate(0, 0, -lookbackDays), now)
	if err != nil {
		return nil, err
	}

	series := &models.PriceSeries{Ticker: ticker}
	for i, close := range raw.closes {
		if close == nil {
			continue
		}
		series.Closes = append(series.Closes, *close)
		if i < len(raw.volumes) && raw.volumes[i] != nil {
			series.Volumes = append(series.Volumes, *raw.volumes[i])
		} else {
			series.Volumes = append(series.Volumes, 0)
		}
	}

	if len(series.Closes) < 5 {
		return nil, fmt.Errorf("%w: %s: only %d closes returned", models.ErrInputFetch, ticker, len(series.Closes))
	}

	c.logger.Debug().Str("ticker", ticker).Int("closes", len(series.Closes)).Msg("Fetched price series")
	return series, nil
}

// ClosingPrices fetches the closing price for each ticker on a trading date.
// The window reaches a week back so the last close at-or-before the date is
// used (Friday's close for a Monday reconciliation). Per-ticker failures are
// logged and skipped; the map holds whatever was found.
func (c *Client) ClosingPrices(ctx context.Context, tickers []string, date string) (map[string]float64, error) {
	target, err := time.Parse("2006-01-02", date)
	if err != nil {
		return nil, fmt.Errorf("parsing date %q: %w", date, err)
	}
	cutoff := target.Add(24 * time.Hour)

	prices := make(map[string]float64)
	for _, ticker := range tickers {
		raw, err := c.fetchChart(ctx, ticker, target.AddDate(0, 0, -7), target.AddDate(0, 0, 2))
		if err != nil {
			c.logger.Warn().Err(err).Str("ticker", ticker).Msg("No actual price for ticker")
			continue
		}

		var best *float64
		for i, ts := range raw.timestamps {
			if i >= len(raw.closes) || raw.closes[i] == nil {
				continue
			}
			if time.Unix(ts, 0).Before(cutoff) {
				best = raw.closes[i]
			}
		}
		if best != nil {
			prices[ticker] = *best
		}
	}

	c.logger.Info().Int("found", len(prices)).Int("requested", len(tickers)).Str("date", date).Msg("Fetched closing prices")
	return prices, nil
}

// Indices fetches the headline index quotes. A failed index degrades to a
// zero-value flat summary instead of failing the batch.
func (c *Client) Indices(ctx context.Context) (map[string]models.IndexSummary, error) {
	now := time.Now()
	result := make(map[string]models.IndexSummary, len(indexSymbols))

	for name, symbol := range indexSymbols {
		raw, err := c.fetchChart(ctx, symbol, now.AddDate(0, 0, -7), now)
		if err != nil {
			c.logger.Warn().Err(err).Str("index", name).Msg("Index fetch failed")
			result[name] = models.IndexSummary{Direction: models.DirectionFlat}
			continue
		}

		var closes []float64
		for _, close := range raw.closes {
			if close != nil {
				closes = append(closes, *close)
			}
		}
		if len(closes) < 2 {
			result[name] = models.IndexSummary{Direction: models.DirectionFlat}
			continue
		}

		current := closes[len(closes)-1]
		prev := closes[len(closes)-2]
		changePct := ((current - prev) / prev) * 100
		result[name] = models.IndexSummary{
			Value:     current,
			ChangePct: changePct,
			Direction: models.DirectionOf(changePct),
		}
	}

	return result, nil
}

type chartData struct {
	timestamps []int64
	closes     []*float64
	volumes    []*float64
}

func (c *Client) fetchChart(ctx context.Context, ticker string, from, to time.Time) (*chartData, error) {
	params := url.Values{}
	params.Set("period1", strconv.FormatInt(from.Unix(), 10))
	params.Set("period2", strconv.FormatInt(to.Unix(), 10))
	params.Set("interval", "1d")
	params.Set("includePrePost", "false")

	reqURL := fmt.Sprintf("%s/%s?%s", c.baseURL, url.PathEscape(ticker), params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64)")
	req.Header.Set("Referer", "https://finance.yahoo.com/")

	resp, err := c.httpClient.DoRequest(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", models.ErrInputFetch, ticker, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	var data chartResponse
	if err := json.Unmarshal(body, &data); err != nil {
		c.logger.Error().Err(err).Str("ticker", ticker).Msg("Error parsing chart JSON")
		return nil, fmt.Errorf("%w: %s: parsing JSON: %v", models.ErrInputFetch, ticker, err)
	}

	if data.Chart.Error != nil {
		return nil, fmt.Errorf("%w: %s: %s", models.ErrInputFetch, ticker, data.Chart.Error.Description)
	}
	if len(data.Chart.Result) == 0 {
		return nil, fmt.Errorf("%w: %s: empty chart result", models.ErrInputFetch, ticker)
	}

	r := data.Chart.Result[0]
	out := &chartData{timestamps: r.Timestamp}
	if len(r.Indicators.Adjclose) > 0 {
		out.closes = r.Indicators.Adjclose[0].Adjclose
	}
	if len(r.Indicators.Quote) > 0 {
		out.volumes = r.Indicators.Quote[0].Volume
	}
	if len(out.closes) == 0 {
		return nil, fmt.Errorf("%w: %s: no closes in response", models.ErrInputFetch, ticker)
	}

	return out, nil
}
