package yahoo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockcast/marketpulse/models"
)

// chartJSON builds a v8 chart payload for the given closes, one bar per day
// ending at `end`. A nil entry becomes a JSON null (halted session).
func chartJSON(end time.Time, closes []*float64, volumes []*float64) string {
	timestamps := make([]int64, len(closes))
	for i := range closes {
		timestamps[i] = end.AddDate(0, 0, i-len(closes)+1).Unix()
	}
	payload := map[string]any{
		"chart": map[string]any{
			"result": []map[string]any{{
				"timestamp": timestamps,
				"indicators": map[string]any{
					"adjclose": []map[string]any{{"adjclose": closes}},
					"quote":    []map[string]any{{"volume": volumes}},
				},
			}},
			"error": nil,
		},
	}
	data, _ := json.Marshal(payload)
	return string(data)
}

func ptr(v float64) *float64 { return &v }

func ptrs(values ...float64) []*float64 {
	out := make([]*float64, len(values))
	for i, v := range values {
		out[i] = ptr(v)
	}
	return out
}

func TestSeries(t *testing.T) {
	end := time.Now()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/AAPL"))
		assert.Equal(t, "1d", r.URL.Query().Get("interval"))
		fmt.Fprint(w, chartJSON(end, ptrs(100, 101, 102, 103, 104, 105), ptrs(1e6, 1e6, 1e6, 1e6, 1e6, 2e6)))
	}))
	defer server.Close()

	c := NewClientWithBaseURL(server.URL, 5*time.Second)
	series, err := c.Series(context.Background(), "AAPL", 30)
	require.NoError(t, err)
	assert.Equal(t, "AAPL", series.Ticker)
	assert.Equal(t, []float64{100, 101, 102, 103, 104, 105}, series.Closes)
	assert.Equal(t, 2e6, series.Volumes[5])
}

func TestSeriesSkipsNullCloses(t *testing.T) {
	end := time.Now()
	closes := []*float64{ptr(100), nil, ptr(102), ptr(103), ptr(104), ptr(105)}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, chartJSON(end, closes, ptrs(1, 1, 1, 1, 1, 1)))
	}))
	defer server.Close()

	c := NewClientWithBaseURL(server.URL, 5*time.Second)
	series, err := c.Series(context.Background(), "AAPL", 30)
	require.NoError(t, err)
	assert.Equal(t, []float64{100, 102, 103, 104, 105}, series.Closes)
	assert.Len(t, series.Volumes, 5)
}

func TestSeriesTooShort(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, chartJSON(time.Now(), ptrs(100, 101), ptrs(1, 1)))
	}))
	defer server.Close()

	c := NewClientWithBaseURL(server.URL, 5*time.Second)
	_, err := c.Series(context.Background(), "NEWIPO", 30)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrInputFetch))
}

func TestSeriesChartError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found, symbol may be delisted"}}}`)
	}))
	defer server.Close()

	c := NewClientWithBaseURL(server.URL, 5*time.Second)
	_, err := c.Series(context.Background(), "GONE", 30)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrInputFetch))
	assert.Contains(t, err.Error(), "delisted")
}

func TestClosingPrices(t *testing.T) {
	target, _ := time.Parse("2006-01-02", "2026-08-28")
	// last bar lands after the target date and must not be picked
	end := target.AddDate(0, 0, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/DEAD") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprint(w, chartJSON(end, ptrs(100, 101, 102, 999), ptrs(1, 1, 1, 1)))
	}))
	defer server.Close()

	c := NewClientWithBaseURL(server.URL, 5*time.Second)
	prices, err := c.ClosingPrices(context.Background(), []string{"AAPL", "DEAD"}, "2026-08-28")
	require.NoError(t, err)

	// failed ticker skipped, survivor holds the last close on or before the date
	require.Contains(t, prices, "AAPL")
	assert.NotContains(t, prices, "DEAD")
	assert.Equal(t, 102.0, prices["AAPL"])
}

func TestIndices(t *testing.T) {
	end := time.Now()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "GSPC"):
			fmt.Fprint(w, chartJSON(end, ptrs(6400, 6500), ptrs(1, 1)))
		case strings.Contains(r.URL.Path, "IXIC"):
			fmt.Fprint(w, chartJSON(end, ptrs(20500, 20400), ptrs(1, 1)))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	c := NewClientWithBaseURL(server.URL, 5*time.Second)
	indices, err := c.Indices(context.Background())
	require.NoError(t, err)
	require.Len(t, indices, 3)

	assert.Equal(t, models.DirectionUp, indices["sp500"].Direction)
	assert.InDelta(t, 1.5625, indices["sp500"].ChangePct, 0.001)
	assert.Equal(t, models.DirectionDown, indices["nasdaq"].Direction)

	// the failing index degrades to a flat zero summary
	assert.Equal(t, models.IndexSummary{Direction: models.DirectionFlat}, indices["dow"])
}
