package models

import "context"

// PriceClient provides price history, point-in-time closes and index quotes
type PriceClient interface {
	Series(ctx context.Context, ticker string, lookbackDays int) (*PriceSeries, error)
	ClosingPrices(ctx context.Context, tickers []string, date string) (map[string]float64, error)
	Indices(ctx context.Context) (map[string]IndexSummary, error)
}

// NewsClient fetches recent market headlines
type NewsClient interface {
	MarketNews(ctx context.Context) (*NewsBundle, error)
}

// CompletionClient sends a prompt to a generative model and returns raw text
type CompletionClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// PredictionStore persists predictions and reconciled actuals keyed by trading date
type PredictionStore interface {
	UpsertPrediction(ctx context.Context, record *PredictionRecord) error
	GetPrediction(ctx context.Context, date string) (*PredictionRecord, error)
	SaveActuals(ctx context.Context, outcomes []ActualOutcome) error
	GetActuals(ctx context.Context, date string) ([]ActualOutcome, error)
}

// Notifier announces a completed prediction run; best effort only
type Notifier interface {
	PredictionsReady(ctx context.Context, record *PredictionRecord) error
}
