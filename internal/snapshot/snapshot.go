package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stockcast/marketpulse/internal/reconcile"
	"github.com/stockcast/marketpulse/models"
)

// Assemble merges today's predictions, yesterday's reconciled results and
// the index summaries into the single output document. Pure: a missing
// yesterday record or reconciliation just yields has_actuals=false.
func Assemble(today *models.PredictionRecord, yesterday *models.PredictionRecord, scored *reconcile.Result, indices map[string]models.IndexSummary, now time.Time) *models.SnapshotDocument {
	doc := &models.SnapshotDocument{
		GeneratedAt: now,
		Today: models.SnapshotToday{
			Date:          today.Date,
			MarketSummary: today.MarketSummary,
			Winners:       today.Winners,
			Losers:        today.Losers,
		},
		Yesterday: models.SnapshotYesterday{
			Date:    previousDate(today.Date),
			Winners: []models.ScoredItem{},
			Losers:  []models.ScoredItem{},
		},
		Indices: indices,
	}
	if doc.Today.Winners == nil {
		doc.Today.Winners = []models.PredictionItem{}
	}
	if doc.Today.Losers == nil {
		doc.Today.Losers = []models.PredictionItem{}
	}
	if doc.Indices == nil {
		doc.Indices = map[string]models.IndexSummary{}
	}

	if yesterday == nil {
		return doc
	}

	doc.Yesterday.Date = yesterday.Date
	if scored == nil {
		scored = reconcile.Reconcile(yesterday, nil)
	}
	doc.Yesterday.Winners = scored.Winners
	doc.Yesterday.Losers = scored.Losers
	doc.Yesterday.HasActuals = scored.HasActuals

	return doc
}

// Write serializes the document and moves it into place atomically. The
// temp-write-then-rename keeps a crashed run from leaving a torn document
// for the presentation layer.
func Write(path string, doc *models.SnapshotDocument) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("writing snapshot temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming snapshot into place: %w", err)
	}

	log.Info().Str("path", path).Int("bytes", len(data)).Msg("Snapshot written")
	return nil
}

// previousDate returns the calendar day before a YYYY-MM-DD date; used only
// as a placeholder when no yesterday record exists
func previousDate(date string) string {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return ""
	}
	return t.AddDate(0, 0, -1).Format("2006-01-02")
}
