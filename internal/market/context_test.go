package market

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockcast/marketpulse/models"
)

func flatSeries(ticker string, n int, price, volume float64) *models.PriceSeries {
	s := &models.PriceSeries{Ticker: ticker}
	for i := 0; i < n; i++ {
		s.Closes = append(s.Closes, price)
		s.Volumes = append(s.Volumes, volume)
	}
	return s
}

func TestComputeMetrics(t *testing.T) {
	// 21 flat closes at 100, then a jump to 110
	closes := make([]float64, 22)
	volumes := make([]float64, 22)
	for i := range closes {
		closes[i] = 100
		volumes[i] = 1000
	}
	closes[21] = 110
	volumes[21] = 2000

	m, err := ComputeMetrics(closes, volumes)
	require.NoError(t, err)

	assert.Equal(t, 110.0, m.CurrentPrice)
	assert.Equal(t, 100.0, m.PrevClose)
	assert.Equal(t, 10.0, m.DailyChangePct)
	assert.Equal(t, 10.0, m.WeeklyChangePct)
	assert.Equal(t, 10.0, m.MonthlyChangePct)
	// avg of last 20 volumes = (19*1000 + 2000)/20 = 1050
	assert.Equal(t, 1.9, m.VolumeRatio)
	assert.Equal(t, int64(2000), m.RecentVolume)
	// 50 base + 20 (daily, clamped) + 15 (weekly, clamped) + 10 (monthly) + volume kicker
	assert.InDelta(t, 99.5, m.MomentumScore, 0.01)
}

func TestComputeMetricsFlat(t *testing.T) {
	s := flatSeries("AAPL", 30, 50, 1000)
	m, err := ComputeMetrics(s.Closes, s.Volumes)
	require.NoError(t, err)

	assert.Equal(t, 0.0, m.DailyChangePct)
	assert.Equal(t, 1.0, m.VolumeRatio)
	assert.Equal(t, 50.0, m.MomentumScore)
}

func TestComputeMetricsShortHistory(t *testing.T) {
	_, err := ComputeMetrics([]float64{100, 101}, []float64{1, 1})
	assert.Error(t, err)

	_, err = ComputeMetrics(nil, nil)
	assert.Error(t, err)
}

func TestComputeMetricsNoVolumes(t *testing.T) {
	m, err := ComputeMetrics([]float64{100, 100, 100, 100, 100, 102}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1.0, m.VolumeRatio)
}

func TestBuildSkipsBrokenTickers(t *testing.T) {
	series := map[string]*models.PriceSeries{
		"AAPL": flatSeries("AAPL", 30, 180, 1000),
		"MSFT": flatSeries("MSFT", 30, 400, 1000),
		"DEAD": nil,                                // fetch failed
		"SHRT": {Ticker: "SHRT", Closes: []float64{1, 2}}, // not enough history
	}

	builder := NewBuilder(2)
	ctx, err := builder.Build(series, &models.NewsBundle{})
	require.NoError(t, err)

	assert.Len(t, ctx.Metrics, 2)
	assert.Equal(t, []string{"DEAD", "SHRT"}, ctx.Skipped)
	assert.Equal(t, []string{"AAPL", "MSFT"}, ctx.Tickers())
}

func TestBuildTooFewTickers(t *testing.T) {
	series := map[string]*models.PriceSeries{
		"AAPL": flatSeries("AAPL", 30, 180, 1000),
		"DEAD": nil,
	}

	builder := NewBuilder(2)
	_, err := builder.Build(series, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrInputFetch))
}

func TestBuildNilNews(t *testing.T) {
	series := map[string]*models.PriceSeries{
		"AAPL": flatSeries("AAPL", 30, 180, 1000),
	}

	builder := NewBuilder(1)
	ctx, err := builder.Build(series, nil)
	require.NoError(t, err)
	require.NotNil(t, ctx.News)
	assert.Empty(t, ctx.News.Macro)
}
