package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/stockcast/marketpulse/models"
)

// uniqueViolation is the PostgreSQL error code for a unique constraint hit
const uniqueViolation = "23505"

// DB represents a database connection
type DB struct {
	*sql.DB
}

// ConnectionParams holds PostgreSQL connection parameters
type ConnectionParams struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// New creates a new database connection
func New(params ConnectionParams) (*DB, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		params.Host, params.Port, params.User, params.Password, params.DBName, params.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}

	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("%w: creating tables: %v", models.ErrStorageUnavailable, err)
	}

	return &DB{db}, nil
}

// NewFromDB wraps an existing connection (tests)
func NewFromDB(db *sql.DB) *DB {
	return &DB{db}
}

// createTables creates the necessary tables if they don't exist
func createTables(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS predictions (
			id BIGSERIAL PRIMARY KEY,
			date DATE NOT NULL UNIQUE,
			market_summary TEXT,
			winners JSONB NOT NULL,
			losers JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS actuals (
			id BIGSERIAL PRIMARY KEY,
			date DATE NOT NULL,
			ticker TEXT NOT NULL,
			predicted_change_pct DOUBLE PRECISION NOT NULL,
			actual_change_pct DOUBLE PRECISION NOT NULL,
			prediction_type TEXT NOT NULL CHECK (prediction_type IN ('winner', 'loser')),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (date, ticker)
		)
	`)
	return err
}

// UpsertPrediction stores the prediction record for its date. Re-running the
// pipeline for an already-recorded date replaces the row in place; the date
// key guarantees at most one record.
func (db *DB) UpsertPrediction(ctx context.Context, record *models.PredictionRecord) error {
	winners, err := json.Marshal(record.Winners)
	if err != nil {
		return fmt.Errorf("marshaling winners: %w", err)
	}
	losers, err := json.Marshal(record.Losers)
	if err != nil {
		return fmt.Errorf("marshaling losers: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO predictions (date, market_summary, winners, losers)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (date)
		DO UPDATE SET
			market_summary = EXCLUDED.market_summary,
			winners = EXCLUDED.winners,
			losers = EXCLUDED.losers
	`, record.Date, record.MarketSummary, winners, losers)

	return classify(err)
}

// GetPrediction fetches the record for a trading date; nil when absent
func (db *DB) GetPrediction(ctx context.Context, date string) (*models.PredictionRecord, error) {
	var record models.PredictionRecord
	var recordDate time.Time
	var winners, losers []byte

	err := db.QueryRowContext(ctx, `
		SELECT date, COALESCE(market_summary, ''), winners, losers, created_at
		FROM predictions
		WHERE date = $1
	`, date).Scan(&recordDate, &record.MarketSummary, &winners, &losers, &record.CreatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, classify(err)
	}

	record.Date = recordDate.Format("2006-01-02")
	if err := json.Unmarshal(winners, &record.Winners); err != nil {
		return nil, fmt.Errorf("unmarshaling winners: %w", err)
	}
	if err := json.Unmarshal(losers, &record.Losers); err != nil {
		return nil, fmt.Errorf("unmarshaling losers: %w", err)
	}

	return &record, nil
}

// SaveActuals writes reconciled outcomes. First write per (date, ticker)
// wins; replays skip existing rows so re-reconciliation is a no-op.
func (db *DB) SaveActuals(ctx context.Context, outcomes []models.ActualOutcome) error {
	if len(outcomes) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	defer tx.Rollback()

	for _, o := range outcomes {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO actuals (date, ticker, predicted_change_pct, actual_change_pct, prediction_type)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (date, ticker) DO NOTHING
		`, o.Date, o.Ticker, o.PredictedChangePct, o.ActualChangePct, o.PredictionType)
		if err != nil {
			return classify(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return classify(err)
	}
	return nil
}

// GetActuals fetches all reconciled outcomes for a trading date
func (db *DB) GetActuals(ctx context.Context, date string) ([]models.ActualOutcome, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT date, ticker, predicted_change_pct, actual_change_pct, prediction_type, created_at
		FROM actuals
		WHERE date = $1
		ORDER BY ticker
	`, date)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var outcomes []models.ActualOutcome
	for rows.Next() {
		var o models.ActualOutcome
		var outcomeDate time.Time
		if err := rows.Scan(&outcomeDate, &o.Ticker, &o.PredictedChangePct, &o.ActualChangePct, &o.PredictionType, &o.CreatedAt); err != nil {
			return nil, classify(err)
		}
		o.Date = outcomeDate.Format("2006-01-02")
		outcomes = append(outcomes, o)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}

	return outcomes, nil
}

// RecentHistory fetches the last N days of predictions joined with their
// actuals, newest first. Used for the archive view.
func (db *DB) RecentHistory(ctx context.Context, days int) ([]models.HistoryEntry, error) {
	fromDate := time.Now().AddDate(0, 0, -days).Format("2006-01-02")

	rows, err := db.QueryContext(ctx, `
		SELECT date, COALESCE(market_summary, ''), winners, losers, created_at
		FROM predictions
		WHERE date >= $1
		ORDER BY date DESC
	`, fromDate)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var history []models.HistoryEntry
	for rows.Next() {
		var record models.PredictionRecord
		var recordDate time.Time
		var winners, losers []byte
		if err := rows.Scan(&recordDate, &record.MarketSummary, &winners, &losers, &record.CreatedAt); err != nil {
			return nil, classify(err)
		}
		record.Date = recordDate.Format("2006-01-02")
		if err := json.Unmarshal(winners, &record.Winners); err != nil {
			return nil, fmt.Errorf("unmarshaling winners: %w", err)
		}
		if err := json.Unmarshal(losers, &record.Losers); err != nil {
			return nil, fmt.Errorf("unmarshaling losers: %w", err)
		}
		history = append(history, models.HistoryEntry{Record: record})
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}

	for i := range history {
		actuals, err := db.GetActuals(ctx, history[i].Record.Date)
		if err != nil {
			return nil, err
		}
		history[i].Actuals = make(map[string]models.ActualOutcome, len(actuals))
		for _, a := range actuals {
			history[i].Actuals[a.Ticker] = a
		}
	}

	return history, nil
}

// classify maps driver errors onto the pipeline error kinds. A unique
// violation is the expected duplicate-run signal, everything else means the
// store is unusable for this run.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %v", models.ErrStorageConstraint, err)
	}
	return fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
}
