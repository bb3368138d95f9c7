package finnhub

import (
	"context"
	"fmt"
	"strings"
	"time"

	finnhub "github.com/Finnhub-Stock-API/finnhub-go/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/stockcast/marketpulse/models"
)

const (
	maxMacroHeadlines  = 20
	maxSectorHeadlines = 4
	maxHeadlineAge     = 48 * time.Hour
)

// sectorKeywords buckets general market headlines into the sectors the
// prediction prompt cares about
var sectorKeywords = map[string][]string{
	"technology": {"tech", "ai ", "artificial intelligence", "semiconductor", "chip", "software", "cloud"},
	"energy":     {"oil", "opec", "energy", "gas", "crude"},
	"healthcare": {"pharma", "biotech", "fda", "drug", "health"},
	"finance":    {"bank", "fed ", "federal reserve", "interest rate", "treasury", "earnings"},
}

// Client fetches market news from Finnhub
type Client struct {
	api    *finnhub.DefaultApiService
	logger zerolog.Logger
}

// NewClient creates a new Finnhub news client
func NewClient(apiKey string) *Client {
	cfg := finnhub.NewConfiguration()
	cfg.AddDefaultHeader("X-Finnhub-Token", apiKey)
	return &Client{
		api:    finnhub.NewAPIClient(cfg).DefaultApi,
		logger: log.With().Str("component", "finnhub_client").Logger(),
	}
}

// MarketNews fetches recent general market headlines and buckets them into
// macro plus per-sector lists. Zero results is not an error; the context
// builder tolerates an empty bundle.
func (c *Client) MarketNews(ctx context.Context) (*models.NewsBundle, error) {
	res, _, err := c.api.MarketNews(ctx).Category("general").Execute()
	if err != nil {
		return nil, fmt.Errorf("%w: market news: %v", models.ErrInputFetch, err)
	}

	bundle := &models.NewsBundle{
		Sector: make(map[string][]models.Headline),
	}
	cutoff := time.Now().Add(-maxHeadlineAge)

	for _, item := range res {
		if item.Headline == nil || *item.Headline == "" {
			continue
		}

		h := models.Headline{Title: *item.Headline}
		if item.Summary != nil {
			h.Summary = *item.Summary
		}
		if item.Source != nil {
			h.Source = *item.Source
		}
		if item.Datetime != nil {
			h.PublishedAt = time.Unix(*item.Datetime, 0)
			if h.PublishedAt.Before(cutoff) {
				continue
			}
		}

		if sector := classifySector(h.Title); sector != "" && len(bundle.Sector[sector]) < maxSectorHeadlines {
			bundle.Sector[sector] = append(bundle.Sector[sector], h)
		}
		if len(bundle.Macro) < maxMacroHeadlines {
			bundle.Macro = append(bundle.Macro, h)
		}
	}

	total := len(bundle.Macro)
	for _, headlines := range bundle.Sector {
		total += len(headlines)
	}
	c.logger.Info().Int("macro", len(bundle.Macro)).Int("total", total).Msg("Fetched market news")

	return bundle, nil
}

func classifySector(headline string) string {
	lower := strings.ToLower(headline)
	for sector, keywords := range sectorKeywords {
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				return sector
			}
		}
	}
	return ""
}
