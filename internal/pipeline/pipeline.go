package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/stockcast/marketpulse/internal/engine"
	"github.com/stockcast/marketpulse/internal/market"
	"github.com/stockcast/marketpulse/internal/reconcile"
	"github.com/stockcast/marketpulse/internal/snapshot"
	"github.com/stockcast/marketpulse/models"
)

// Step names the states of a single daily run
type Step string

const (
	StepFetchInputs        Step = "FETCH_INPUTS"
	StepBuildContext       Step = "BUILD_CONTEXT"
	StepPredict            Step = "PREDICT"
	StepPersistPredictions Step = "PERSIST_PREDICTIONS"
	StepReconcilePrior     Step = "RECONCILE_PRIOR"
	StepPersistActuals     Step = "PERSIST_ACTUALS"
	StepAssembleSnapshot   Step = "ASSEMBLE_SNAPSHOT"
	StepWriteOutput        Step = "WRITE_OUTPUT"
	StepDone               Step = "DONE"
	StepFailed             Step = "FAILED"
)

// maxPrevCloseFallbackDays bounds the walk back to the previous trading
// day's close (Monday reconciliation needs Friday, holidays stretch it)
const maxPrevCloseFallbackDays = 6

// Options holds the orchestrator's tunables
type Options struct {
	Universe         []string
	LookbackDays     int
	FetchConcurrency int
	OutputPath       string
}

// Report summarizes how a run ended
type Report struct {
	Date     string
	Step     Step
	Degraded bool // yesterday section missing or incomplete
}

// Pipeline sequences one daily prediction-and-reconciliation run
type Pipeline struct {
	prices   models.PriceClient
	news     models.NewsClient
	builder  *market.Builder
	engine   *engine.Engine
	store    models.PredictionStore
	notifier models.Notifier
	opts     Options
	logger   zerolog.Logger
}

// New wires the pipeline from its collaborators
func New(prices models.PriceClient, news models.NewsClient, builder *market.Builder, eng *engine.Engine, store models.PredictionStore, notifier models.Notifier, opts Options) *Pipeline {
	if len(opts.Universe) == 0 {
		opts.Universe = market.DefaultUniverse
	}
	if opts.LookbackDays == 0 {
		opts.LookbackDays = 90
	}
	if opts.FetchConcurrency <= 0 {
		opts.FetchConcurrency = 4
	}
	if opts.OutputPath == "" {
		opts.OutputPath = "./data.json"
	}
	return &Pipeline{
		prices:   prices,
		news:     news,
		builder:  builder,
		engine:   eng,
		store:    store,
		notifier: notifier,
		opts:     opts,
		logger:   log.With().Str("component", "pipeline").Logger(),
	}
}

// Run executes the full state machine for the trading date of asOf.
// Failures up to WRITE_OUTPUT leave no output document behind; a failed
// reconciliation only degrades the yesterday section.
func (p *Pipeline) Run(ctx context.Context, asOf time.Time) (*Report, error) {
	date := asOf.Format("2006-01-02")
	report := &Report{Date: date, Step: StepFailed}

	p.logger.Info().Str("date", date).Msg("Pipeline starting")

	// FETCH_INPUTS: prices and news are independent reads, issue both at once
	p.enter(StepFetchInputs)
	series, news := p.fetchInputs(ctx)

	// BUILD_CONTEXT
	p.enter(StepBuildContext)
	mc, err := p.builder.Build(series, news)
	if err != nil {
		return report, p.fail(StepBuildContext, err)
	}

	// PREDICT
	p.enter(StepPredict)
	record, err := p.engine.Predict(ctx, mc, date)
	if err != nil {
		return report, p.fail(StepPredict, err)
	}

	// PERSIST_PREDICTIONS: a constraint hit means another run already stored
	// this date; the post-condition (one record per date) holds either way
	p.enter(StepPersistPredictions)
	if err := p.store.UpsertPrediction(ctx, record); err != nil {
		if errors.Is(err, models.ErrStorageConstraint) {
			p.logger.Info().Str("date", date).Msg("Prediction already stored, continuing")
		} else {
			return report, p.fail(StepPersistPredictions, err)
		}
	}

	// RECONCILE_PRIOR: every failure in here degrades instead of aborting
	p.enter(StepReconcilePrior)
	yesterday, scored := p.reconcilePrior(ctx, asOf, report)

	// PERSIST_ACTUALS
	p.enter(StepPersistActuals)
	if scored != nil && len(scored.Outcomes) > 0 {
		if err := p.store.SaveActuals(ctx, scored.Outcomes); err != nil {
			if errors.Is(err, models.ErrStorageConstraint) {
				p.logger.Info().Msg("Actuals already stored, continuing")
			} else {
				return report, p.fail(StepPersistActuals, err)
			}
		}
	}

	// ASSEMBLE_SNAPSHOT
	p.enter(StepAssembleSnapshot)
	indices, err := p.prices.Indices(ctx)
	if err != nil {
		p.logger.Warn().Err(err).Msg("Index fetch failed, snapshot will have empty indices")
		indices = map[string]models.IndexSummary{}
		report.Degraded = true
	}
	doc := snapshot.Assemble(record, yesterday, scored, indices, time.Now().UTC())

	// WRITE_OUTPUT
	p.enter(StepWriteOutput)
	if err := snapshot.Write(p.opts.OutputPath, doc); err != nil {
		return report, p.fail(StepWriteOutput, err)
	}

	if p.notifier != nil {
		if err := p.notifier.PredictionsReady(ctx, record); err != nil {
			p.logger.Warn().Err(err).Msg("Notification failed")
		}
	}

	report.Step = StepDone
	p.logger.Info().Str("date", date).Bool("degraded", report.Degraded).Msg("Pipeline completed")
	return report, nil
}

// fetchInputs pulls price series for the universe through a bounded worker
// pool while news loads alongside. Per-ticker failures stay in the map as
// nil entries so the context builder can flag them.
func (p *Pipeline) fetchInputs(ctx context.Context) (map[string]*models.PriceSeries, *models.NewsBundle) {
	series := make(map[string]*models.PriceSeries, len(p.opts.Universe))
	var news *models.NewsBundle

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		var mu sync.Mutex
		sem := make(chan struct{}, p.opts.FetchConcurrency)
		var tickerWG sync.WaitGroup

		for _, ticker := range p.opts.Universe {
			tickerWG.Add(1)
			go func(ticker string) {
				defer tickerWG.Done()
				sem <- struct{}{}
				defer func() { <-sem }()

				s, err := p.prices.Series(ctx, ticker, p.opts.LookbackDays)
				if err != nil {
					p.logger.Warn().Err(err).Str("ticker", ticker).Msg("Price fetch failed")
					s = nil
				}
				mu.Lock()
				series[ticker] = s
				mu.Unlock()
			}(ticker)
		}
		tickerWG.Wait()
	}()

	go func() {
		defer wg.Done()
		var err error
		news, err = p.news.MarketNews(ctx)
		if err != nil {
			p.logger.Warn().Err(err).Msg("News fetch failed, predicting without headlines")
			news = &models.NewsBundle{}
		}
	}()

	wg.Wait()
	return series, news
}

// reconcilePrior loads yesterday's record and scores it against observed
// changes. Returns (nil, nil) when there is nothing to reconcile; any
// provider or store failure marks the report degraded rather than failing
// the run.
func (p *Pipeline) reconcilePrior(ctx context.Context, asOf time.Time, report *Report) (*models.PredictionRecord, *reconcile.Result) {
	yesterdayDate := asOf.AddDate(0, 0, -1).Format("2006-01-02")

	yesterday, err := p.store.GetPrediction(ctx, yesterdayDate)
	if err != nil {
		p.logger.Warn().Err(err).Str("date", yesterdayDate).Msg("Could not load yesterday's predictions")
		report.Degraded = true
		return nil, nil
	}
	if yesterday == nil {
		p.logger.Info().Str("date", yesterdayDate).Msg("No yesterday predictions found (first run?)")
		return nil, nil
	}

	actuals, err := p.fetchActualChanges(ctx, yesterday.Tickers(), asOf)
	if err != nil {
		p.logger.Warn().Err(err).Msg("Actuals fetch failed, yesterday section degraded")
		report.Degraded = true
		return yesterday, reconcile.Reconcile(yesterday, nil)
	}
	if len(actuals) == 0 {
		report.Degraded = true
	}

	scored := reconcile.Reconcile(yesterday, actuals)
	p.logger.Info().Int("scored", len(scored.Outcomes)).Int("predicted", len(yesterday.Tickers())).Msg("Reconciled prior predictions")
	return yesterday, scored
}

// fetchActualChanges computes the realized percent change for each ticker
// on yesterday's date, walking back past weekends and holidays for the
// previous close
func (p *Pipeline) fetchActualChanges(ctx context.Context, tickers []string, asOf time.Time) (map[string]float64, error) {
	yesterdayDate := asOf.AddDate(0, 0, -1).Format("2006-01-02")

	closes, err := p.prices.ClosingPrices(ctx, tickers, yesterdayDate)
	if err != nil {
		return nil, fmt.Errorf("fetching closes for %s: %w", yesterdayDate, err)
	}

	var prevCloses map[string]float64
	for daysBack := 2; daysBack <= maxPrevCloseFallbackDays; daysBack++ {
		prevDate := asOf.AddDate(0, 0, -daysBack).Format("2006-01-02")
		prevCloses, err = p.prices.ClosingPrices(ctx, tickers, prevDate)
		if err != nil {
			return nil, fmt.Errorf("fetching previous closes for %s: %w", prevDate, err)
		}
		if len(prevCloses) > 0 {
			if daysBack > 2 {
				p.logger.Info().Str("date", prevDate).Msg("Using earlier session as previous close")
			}
			break
		}
	}

	changes := make(map[string]float64, len(tickers))
	for _, ticker := range tickers {
		last, okLast := closes[ticker]
		prev, okPrev := prevCloses[ticker]
		// identical close usually means a stale quote, not a flat day
		if !okLast || !okPrev || prev <= 0 || last == prev {
			continue
		}
		changes[ticker] = ((last - prev) / prev) * 100
	}
	return changes, nil
}

func (p *Pipeline) enter(step Step) {
	p.logger.Debug().Str("step", string(step)).Msg("Entering step")
}

func (p *Pipeline) fail(step Step, err error) error {
	p.logger.Error().Err(err).Str("step", string(step)).Msg("Pipeline failed")
	return fmt.Errorf("step %s: %w", step, err)
}
