package models

import (
	"time"
)

// Prediction type constants
const (
	PredictionTypeWinner = "winner"
	PredictionTypeLoser  = "loser"
)

// Outcome labels for a reconciled prediction
const (
	OutcomeBeat    = "beat"
	OutcomeMiss    = "miss"
	OutcomeInline  = "inline"
	OutcomePending = "pending"
)

// Index direction values derived from the sign of the change
const (
	DirectionUp   = "up"
	DirectionDown = "down"
	DirectionFlat = "flat"
)

// PredictionItem is a single ranked pick inside the winners or losers list
type PredictionItem struct {
	Rank               int     `json:"rank"`
	Ticker             string  `json:"ticker"`
	Company            string  `json:"company"`
	Sector             string  `json:"sector"`
	PredictedChangePct float64 `json:"predicted_change_pct"`
	Reason             string  `json:"reason"`
}

// PredictionRecord holds the full prediction set for one trading date.
// Date is the natural key (YYYY-MM-DD); at most one record exists per date.
type PredictionRecord struct {
	Date          string           `json:"date"`
	MarketSummary string           `json:"market_summary"`
	Winners       []PredictionItem `json:"winners"`
	Losers        []PredictionItem `json:"losers"`
	CreatedAt     time.Time        `json:"created_at,omitempty"`
}

// Tickers returns all tickers across winners and losers
func (r *PredictionRecord) Tickers() []string {
	tickers := make([]string, 0, len(r.Winners)+len(r.Losers))
	for _, e := range r.Winners {
		tickers = append(tickers, e.Ticker)
	}
	for _, e := range r.Losers {
		tickers = append(tickers, e.Ticker)
	}
	return tickers
}

// ActualOutcome records the realized price move for one predicted ticker.
// Unique per (date, ticker); written once, never updated.
type ActualOutcome struct {
	Date               string    `json:"date"`
	Ticker             string    `json:"ticker"`
	PredictedChangePct float64   `json:"predicted_change_pct"`
	ActualChangePct    float64   `json:"actual_change_pct"`
	PredictionType     string    `json:"prediction_type"` // winner or loser
	CreatedAt          time.Time `json:"created_at,omitempty"`
}

// PriceSeries is an ordered (oldest first) daily close/volume history
type PriceSeries struct {
	Ticker  string    `json:"ticker"`
	Closes  []float64 `json:"closes"`
	Volumes []float64 `json:"volumes"`
}

// StockMetrics holds the derived per-ticker features fed into the model prompt
type StockMetrics struct {
	CurrentPrice     float64 `json:"current_price"`
	PrevClose        float64 `json:"prev_close"`
	DailyChangePct   float64 `json:"daily_change_pct"`
	WeeklyChangePct  float64 `json:"weekly_change_pct"`
	MonthlyChangePct float64 `json:"monthly_change_pct"`
	VolumeRatio      float64 `json:"volume_ratio"`
	MomentumScore    float64 `json:"momentum_score"` // 0-100
	AvgVolume        int64   `json:"avg_volume"`
	RecentVolume     int64   `json:"recent_volume"`
}

// Headline is a single news item already fetched from the news provider
type Headline struct {
	Title       string    `json:"title"`
	Summary     string    `json:"summary,omitempty"`
	Source      string    `json:"source,omitempty"`
	PublishedAt time.Time `json:"published_at,omitempty"`
}

// NewsBundle groups fetched headlines into macro and per-sector buckets
type NewsBundle struct {
	Macro  []Headline            `json:"macro"`
	Sector map[string][]Headline `json:"sector"`
}

// IndexSummary is a lightweight market index quote for the overview strip
type IndexSummary struct {
	Value     float64 `json:"value"`
	ChangePct float64 `json:"change_pct"`
	Direction string  `json:"direction"` // up, down, flat
}

// directionEpsilon - changes smaller than this count as flat
const directionEpsilon = 0.005

// DirectionOf derives the direction label from the sign of a percent change
func DirectionOf(changePct float64) string {
	switch {
	case changePct > directionEpsilon:
		return DirectionUp
	case changePct < -directionEpsilon:
		return DirectionDown
	default:
		return DirectionFlat
	}
}

// ScoredItem is a prediction item enriched with its realized outcome.
// ActualChangePct and AccuracyScore are nil when no actual was observed.
type ScoredItem struct {
	PredictionItem
	PredictionType  string   `json:"prediction_type"`
	ActualChangePct *float64 `json:"actual_change_pct"`
	AccuracyScore   *int     `json:"accuracy_score"`
	Outcome         string   `json:"outcome"`
}

// SnapshotToday is today's freshly generated prediction set
type SnapshotToday struct {
	Date          string           `json:"date"`
	MarketSummary string           `json:"market_summary"`
	Winners       []PredictionItem `json:"winners"`
	Losers        []PredictionItem `json:"losers"`
}

// SnapshotYesterday is the prior prediction set scored against actuals
type SnapshotYesterday struct {
	Date       string       `json:"date"`
	Winners    []ScoredItem `json:"winners"`
	Losers     []ScoredItem `json:"losers"`
	HasActuals bool         `json:"has_actuals"`
}

// SnapshotDocument is the single denormalized output the presentation layer reads
type SnapshotDocument struct {
	GeneratedAt time.Time               `json:"generated_at"`
	Today       SnapshotToday           `json:"today"`
	Yesterday   SnapshotYesterday       `json:"yesterday"`
	Indices     map[string]IndexSummary `json:"indices"`
}

// HistoryEntry is one archived day of predictions joined with its actuals
type HistoryEntry struct {
	Record  PredictionRecord         `json:"record"`
	Actuals map[string]ActualOutcome `json:"actuals"`
}
