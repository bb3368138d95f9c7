package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockcast/marketpulse/internal/engine"
	"github.com/stockcast/marketpulse/internal/market"
	"github.com/stockcast/marketpulse/models"
)

var testUniverse = []string{"AAPL", "MSFT", "GOOG", "AMZN"}

// fakePrices serves generated histories plus canned per-date closes
type fakePrices struct {
	closes     map[string]map[string]float64 // date -> ticker -> close
	seriesErr  map[string]error
	closesErr  error
	indicesErr error
}

func (f *fakePrices) Series(ctx context.Context, ticker string, lookbackDays int) (*models.PriceSeries, error) {
	if err := f.seriesErr[ticker]; err != nil {
		return nil, err
	}
	closes := make([]float64, 30)
	volumes := make([]float64, 30)
	for i := range closes {
		closes[i] = 100 + float64(i)
		volumes[i] = 1_000_000
	}
	return &models.PriceSeries{Ticker: ticker, Closes: closes, Volumes: volumes}, nil
}

func (f *fakePrices) ClosingPrices(ctx context.Context, tickers []string, date string) (map[string]float64, error) {
	if f.closesErr != nil {
		return nil, f.closesErr
	}
	byTicker := f.closes[date]
	out := make(map[string]float64)
	for _, t := range tickers {
		if v, ok := byTicker[t]; ok {
			out[t] = v
		}
	}
	return out, nil
}

func (f *fakePrices) Indices(ctx context.Context) (map[string]models.IndexSummary, error) {
	if f.indicesErr != nil {
		return nil, f.indicesErr
	}
	return map[string]models.IndexSummary{
		"sp500": {Value: 6500, ChangePct: 0.3, Direction: models.DirectionUp},
	}, nil
}

type fakeNews struct{ err error }

func (f *fakeNews) MarketNews(ctx context.Context) (*models.NewsBundle, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.NewsBundle{
		Macro:  []models.Headline{{Title: "Futures point higher"}},
		Sector: map[string][]models.Headline{},
	}, nil
}

// fakeModel emits a structurally valid prediction for the test universe
type fakeModel struct {
	invalid bool
	calls   int
}

func (f *fakeModel) Complete(ctx context.Context, prompt string) (string, error) {
	f.calls++
	if f.invalid {
		return "I cannot produce JSON today.", nil
	}
	record := map[string]any{
		"date":           "echoed-by-model",
		"market_summary": "Steady grind upward",
		"winners": []map[string]any{
			{"rank": 1, "ticker": "AAPL", "company": "Apple", "sector": "Technology", "predicted_change_pct": 2.0, "reason": "momentum"},
			{"rank": 2, "ticker": "MSFT", "company": "Microsoft", "sector": "Technology", "predicted_change_pct": 1.0, "reason": "cloud demand"},
		},
		"losers": []map[string]any{
			{"rank": 1, "ticker": "GOOG", "company": "Alphabet", "sector": "Technology", "predicted_change_pct": -2.0, "reason": "ad softness"},
			{"rank": 2, "ticker": "AMZN", "company": "Amazon", "sector": "Consumer", "predicted_change_pct": -1.0, "reason": "margin pressure"},
		},
	}
	data, _ := json.Marshal(record)
	return string(data), nil
}

// fakeStore is an in-memory PredictionStore with first-write-wins actuals
type fakeStore struct {
	predictions  map[string]*models.PredictionRecord
	actuals      map[string]map[string]models.ActualOutcome
	upsertErr    error
	getErr       error
	saveErr      error
	savedBatches int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		predictions: map[string]*models.PredictionRecord{},
		actuals:     map[string]map[string]models.ActualOutcome{},
	}
}

func (f *fakeStore) UpsertPrediction(ctx context.Context, record *models.PredictionRecord) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.predictions[record.Date] = record
	return nil
}

func (f *fakeStore) GetPrediction(ctx context.Context, date string) (*models.PredictionRecord, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.predictions[date], nil
}

func (f *fakeStore) SaveActuals(ctx context.Context, outcomes []models.ActualOutcome) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.savedBatches++
	for _, o := range outcomes {
		byTicker, ok := f.actuals[o.Date]
		if !ok {
			byTicker = map[string]models.ActualOutcome{}
			f.actuals[o.Date] = byTicker
		}
		if _, exists := byTicker[o.Ticker]; !exists {
			byTicker[o.Ticker] = o
		}
	}
	return nil
}

func (f *fakeStore) GetActuals(ctx context.Context, date string) ([]models.ActualOutcome, error) {
	var out []models.ActualOutcome
	for _, o := range f.actuals[date] {
		out = append(out, o)
	}
	return out, nil
}

type fakeNotifier struct{ notified int }

func (f *fakeNotifier) PredictionsReady(ctx context.Context, record *models.PredictionRecord) error {
	f.notified++
	return nil
}

func newTestPipeline(t *testing.T, prices *fakePrices, store *fakeStore, model *fakeModel, notifier models.Notifier) (*Pipeline, string) {
	t.Helper()
	outPath := filepath.Join(t.TempDir(), "data.json")
	eng := engine.NewEngine(model, 2, 50)
	p := New(prices, &fakeNews{}, market.NewBuilder(2), eng, store, notifier, Options{
		Universe:         testUniverse,
		LookbackDays:     30,
		FetchConcurrency: 2,
		OutputPath:       outPath,
	})
	return p, outPath
}

func readSnapshot(t *testing.T, path string) *models.SnapshotDocument {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc models.SnapshotDocument
	require.NoError(t, json.Unmarshal(data, &doc))
	return &doc
}

func TestRunFirstDay(t *testing.T) {
	prices := &fakePrices{}
	store := newFakeStore()
	notifier := &fakeNotifier{}
	p, outPath := newTestPipeline(t, prices, store, &fakeModel{}, notifier)

	asOf := time.Date(2026, 8, 28, 6, 0, 0, 0, time.UTC)
	report, err := p.Run(context.Background(), asOf)
	require.NoError(t, err)
	assert.Equal(t, StepDone, report.Step)
	assert.False(t, report.Degraded)

	// prediction persisted under the run date, not the model's echoed date
	require.Contains(t, store.predictions, "2026-08-28")
	assert.Equal(t, 1, notifier.notified)

	doc := readSnapshot(t, outPath)
	assert.Equal(t, "2026-08-28", doc.Today.Date)
	assert.Len(t, doc.Today.Winners, 2)
	assert.False(t, doc.Yesterday.HasActuals)
	assert.Empty(t, doc.Yesterday.Winners)
	assert.Contains(t, doc.Indices, "sp500")
}

func TestRunSecondDayReconciles(t *testing.T) {
	prices := &fakePrices{closes: map[string]map[string]float64{
		"2026-08-28": {"AAPL": 102.3, "MSFT": 101.0, "GOOG": 98.5, "AMZN": 99.0},
		"2026-08-27": {"AAPL": 100.0, "MSFT": 100.0, "GOOG": 100.0, "AMZN": 100.0},
	}}
	store := newFakeStore()
	p, outPath := newTestPipeline(t, prices, store, &fakeModel{}, nil)

	day1 := time.Date(2026, 8, 28, 6, 0, 0, 0, time.UTC)
	_, err := p.Run(context.Background(), day1)
	require.NoError(t, err)

	day2 := day1.AddDate(0, 0, 1)
	report, err := p.Run(context.Background(), day2)
	require.NoError(t, err)
	assert.Equal(t, StepDone, report.Step)
	assert.False(t, report.Degraded)

	doc := readSnapshot(t, outPath)
	assert.Equal(t, "2026-08-29", doc.Today.Date)
	assert.Equal(t, "2026-08-28", doc.Yesterday.Date)
	assert.True(t, doc.Yesterday.HasActuals)
	require.Len(t, doc.Yesterday.Winners, 2)
	require.NotNil(t, doc.Yesterday.Winners[0].ActualChangePct)
	assert.InDelta(t, 2.3, *doc.Yesterday.Winners[0].ActualChangePct, 0.01)

	saved := store.actuals["2026-08-28"]
	require.Len(t, saved, 4)
	assert.Equal(t, models.PredictionTypeLoser, saved["GOOG"].PredictionType)
}

func TestRunWeekendFallbackForPreviousClose(t *testing.T) {
	// Reconciling a Monday record: Saturday and Sunday have no closes, so the
	// previous close walks back to Friday (four days before the Tuesday run)
	prices := &fakePrices{closes: map[string]map[string]float64{
		"2026-08-31": {"AAPL": 105.0, "MSFT": 102.0, "GOOG": 99.0, "AMZN": 98.0}, // Monday
		"2026-08-28": {"AAPL": 100.0, "MSFT": 100.0, "GOOG": 100.0, "AMZN": 100.0}, // Friday
	}}
	store := newFakeStore()
	store.predictions["2026-08-31"] = &models.PredictionRecord{
		Date: "2026-08-31",
		Winners: []models.PredictionItem{
			{Rank: 1, Ticker: "AAPL", PredictedChangePct: 3.0, Reason: "momentum"},
			{Rank: 2, Ticker: "MSFT", PredictedChangePct: 1.5, Reason: "cloud demand"},
		},
		Losers: []models.PredictionItem{
			{Rank: 1, Ticker: "GOOG", PredictedChangePct: -2.0, Reason: "ad softness"},
			{Rank: 2, Ticker: "AMZN", PredictedChangePct: -1.0, Reason: "margin pressure"},
		},
	}
	p, _ := newTestPipeline(t, prices, store, &fakeModel{}, nil)

	tuesday := time.Date(2026, 9, 1, 6, 0, 0, 0, time.UTC)
	report, err := p.Run(context.Background(), tuesday)
	require.NoError(t, err)
	assert.Equal(t, StepDone, report.Step)
	assert.False(t, report.Degraded)

	saved := store.actuals["2026-08-31"]
	require.Len(t, saved, 4)
	assert.InDelta(t, 5.0, saved["AAPL"].ActualChangePct, 0.01)
}

func TestRunActualsFetchFailureDegrades(t *testing.T) {
	prices := &fakePrices{}
	store := newFakeStore()
	store.predictions["2026-08-28"] = &models.PredictionRecord{
		Date: "2026-08-28",
		Winners: []models.PredictionItem{
			{Rank: 1, Ticker: "AAPL", PredictedChangePct: 2.0, Reason: "momentum"},
		},
		Losers: []models.PredictionItem{
			{Rank: 1, Ticker: "GOOG", PredictedChangePct: -2.0, Reason: "ad softness"},
		},
	}
	prices.closesErr = fmt.Errorf("%w: provider timeout", models.ErrInputFetch)
	p, outPath := newTestPipeline(t, prices, store, &fakeModel{}, nil)

	report, err := p.Run(context.Background(), time.Date(2026, 8, 29, 6, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, StepDone, report.Step)
	assert.True(t, report.Degraded)

	// output still written, yesterday carried as pending
	doc := readSnapshot(t, outPath)
	assert.Equal(t, "2026-08-28", doc.Yesterday.Date)
	assert.False(t, doc.Yesterday.HasActuals)
	require.Len(t, doc.Yesterday.Winners, 1)
	assert.Equal(t, models.OutcomePending, doc.Yesterday.Winners[0].Outcome)

	assert.Empty(t, store.actuals)
}

func TestRunIndexFetchFailureDegrades(t *testing.T) {
	prices := &fakePrices{indicesErr: errors.New("quote service down")}
	store := newFakeStore()
	p, outPath := newTestPipeline(t, prices, store, &fakeModel{}, nil)

	report, err := p.Run(context.Background(), time.Date(2026, 8, 28, 6, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, StepDone, report.Step)
	assert.True(t, report.Degraded)

	doc := readSnapshot(t, outPath)
	assert.NotNil(t, doc.Indices)
	assert.Empty(t, doc.Indices)
}

func TestRunInvalidModelOutputFailsWithoutArtifacts(t *testing.T) {
	prices := &fakePrices{}
	store := newFakeStore()
	model := &fakeModel{invalid: true}
	p, outPath := newTestPipeline(t, prices, store, model, nil)

	report, err := p.Run(context.Background(), time.Date(2026, 8, 28, 6, 0, 0, 0, time.UTC))
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrModelOutputValidation))
	assert.True(t, strings.Contains(err.Error(), string(StepPredict)))
	assert.Equal(t, StepFailed, report.Step)
	// one repair retry, then give up
	assert.Equal(t, 2, model.calls)

	// a failed run must leave no prediction row and no output document
	assert.Empty(t, store.predictions)
	_, statErr := os.Stat(outPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunTooFewTickersFails(t *testing.T) {
	prices := &fakePrices{seriesErr: map[string]error{
		"AAPL": errors.New("not found"),
		"MSFT": errors.New("not found"),
		"GOOG": errors.New("not found"),
	}}
	store := newFakeStore()
	p, _ := newTestPipeline(t, prices, store, &fakeModel{}, nil)

	_, err := p.Run(context.Background(), time.Date(2026, 8, 28, 6, 0, 0, 0, time.UTC))
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrInputFetch))
	assert.True(t, strings.Contains(err.Error(), string(StepBuildContext)))
}

func TestRunStaleQuoteSkipped(t *testing.T) {
	// GOOG's close did not move between sessions: treated as stale, not flat
	prices := &fakePrices{closes: map[string]map[string]float64{
		"2026-08-28": {"AAPL": 102.0, "MSFT": 101.0, "GOOG": 100.0, "AMZN": 99.0},
		"2026-08-27": {"AAPL": 100.0, "MSFT": 100.0, "GOOG": 100.0, "AMZN": 100.0},
	}}
	store := newFakeStore()
	p, _ := newTestPipeline(t, prices, store, &fakeModel{}, nil)

	day1 := time.Date(2026, 8, 28, 6, 0, 0, 0, time.UTC)
	_, err := p.Run(context.Background(), day1)
	require.NoError(t, err)

	_, err = p.Run(context.Background(), day1.AddDate(0, 0, 1))
	require.NoError(t, err)

	saved := store.actuals["2026-08-28"]
	require.Len(t, saved, 3)
	assert.NotContains(t, saved, "GOOG")
}

func TestRunRerunSameDayIsIdempotent(t *testing.T) {
	prices := &fakePrices{closes: map[string]map[string]float64{
		"2026-08-28": {"AAPL": 102.3, "MSFT": 101.0, "GOOG": 98.5, "AMZN": 99.0},
		"2026-08-27": {"AAPL": 100.0, "MSFT": 100.0, "GOOG": 100.0, "AMZN": 100.0},
	}}
	store := newFakeStore()
	p, _ := newTestPipeline(t, prices, store, &fakeModel{}, nil)

	day2 := time.Date(2026, 8, 29, 6, 0, 0, 0, time.UTC)
	_, err := p.Run(context.Background(), day2.AddDate(0, 0, -1))
	require.NoError(t, err)

	_, err = p.Run(context.Background(), day2)
	require.NoError(t, err)
	first := store.actuals["2026-08-28"]["AAPL"].ActualChangePct

	_, err = p.Run(context.Background(), day2)
	require.NoError(t, err)

	assert.Len(t, store.predictions, 2)
	assert.Equal(t, first, store.actuals["2026-08-28"]["AAPL"].ActualChangePct)
}
