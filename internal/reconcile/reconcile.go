package reconcile

import (
	"math"
	"time"

	"github.com/stockcast/marketpulse/models"
)

const (
	// inlineBandPct - magnitude gap within which a correct-direction call is "inline"
	inlineBandPct = 0.5

	// missedDirectionCap - ceiling for any score with the direction wrong;
	// keeps every sign mismatch strictly below every sign match
	missedDirectionCap = 40
)

// Result holds everything derived from comparing a prediction set to actuals
type Result struct {
	Outcomes   []models.ActualOutcome
	Winners    []models.ScoredItem
	Losers     []models.ScoredItem
	HasActuals bool
}

// Reconcile scores yesterday's prediction record against observed percent
// changes. Tickers without an actual (delisted, halted, fetch failure) are
// emitted with a pending outcome and produce no ActualOutcome row;
// HasActuals is false only when nothing at all was observed.
func Reconcile(record *models.PredictionRecord, actuals map[string]float64) *Result {
	result := &Result{}
	now := time.Now().UTC()

	result.Winners = scoreItems(record.Winners, models.PredictionTypeWinner, actuals)
	result.Losers = scoreItems(record.Losers, models.PredictionTypeLoser, actuals)

	for _, items := range [][]models.ScoredItem{result.Winners, result.Losers} {
		for _, item := range items {
			if item.ActualChangePct == nil {
				continue
			}
			result.HasActuals = true
			result.Outcomes = append(result.Outcomes, models.ActualOutcome{
				Date:               record.Date,
				Ticker:             item.Ticker,
				PredictedChangePct: item.PredictedChangePct,
				ActualChangePct:    *item.ActualChangePct,
				PredictionType:     item.PredictionType,
				CreatedAt:          now,
			})
		}
	}

	return result
}

func scoreItems(items []models.PredictionItem, predictionType string, actuals map[string]float64) []models.ScoredItem {
	scored := make([]models.ScoredItem, 0, len(items))
	for _, item := range items {
		s := models.ScoredItem{
			PredictionItem: item,
			PredictionType: predictionType,
			Outcome:        models.OutcomePending,
		}
		if actual, ok := actuals[item.Ticker]; ok {
			actualCopy := actual
			score := Score(item.PredictedChangePct, actual)
			s.ActualChangePct = &actualCopy
			s.AccuracyScore = &score
			s.Outcome = Outcome(item.PredictedChangePct, actual)
		}
		scored = append(scored, s)
	}
	return scored
}

// Score rates a prediction 0..100. Direction correctness earns a 50 point
// base with up to 50 more for magnitude closeness; a wrong direction decays
// with the total error and is capped at missedDirectionCap.
func Score(predicted, actual float64) int {
	if directionCorrect(predicted, actual) {
		diff := math.Abs(math.Abs(predicted) - math.Abs(actual))
		magnitude := math.Max(0, 50-diff*10)
		return clip(int(math.Round(50 + magnitude)))
	}

	score := int(math.Round(math.Max(0, 50-math.Abs(actual-predicted)*5)))
	if score > missedDirectionCap {
		score = missedDirectionCap
	}
	return clip(score)
}

// Outcome labels a reconciled prediction: miss on the wrong direction,
// inline when the realized magnitude lands within the inline band, beat
// when the move exceeded the prediction, miss on a shortfall
func Outcome(predicted, actual float64) string {
	if !directionCorrect(predicted, actual) {
		return models.OutcomeMiss
	}
	diff := math.Abs(predicted) - math.Abs(actual)
	if math.Abs(diff) <= inlineBandPct {
		return models.OutcomeInline
	}
	if diff < 0 {
		return models.OutcomeBeat
	}
	return models.OutcomeMiss
}

func directionCorrect(predicted, actual float64) bool {
	return (predicted > 0 && actual > 0) || (predicted < 0 && actual < 0)
}

func clip(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
