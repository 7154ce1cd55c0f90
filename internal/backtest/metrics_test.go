package backtest

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"divetrader/internal/model"
)

func tradeWithPnL(pnl float64) model.BacktestTrade {
	entry := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	return model.BacktestTrade{
		Symbol:        "BTC/USD",
		Side:          model.SideBuy,
		EntryTime:     entry,
		ExitTime:      entry.Add(2 * time.Hour),
		EntryPrice:    45000,
		ExitPrice:     45000 + pnl,
		Quantity:      1,
		PnL:           pnl,
		DurationHours: 2,
	}
}

func TestComputeMetricsBasics(t *testing.T) {
	trades := []model.BacktestTrade{
		tradeWithPnL(100), tradeWithPnL(-50), tradeWithPnL(200), tradeWithPnL(-30), tradeWithPnL(-20),
	}
	equity := []model.EquityPoint{
		{PortfolioValue: 10000},
		{PortfolioValue: 10100, DrawdownPct: 0},
		{PortfolioValue: 10050, DrawdownPct: 0.5},
		{PortfolioValue: 10200, DrawdownPct: 0},
	}

	res := ComputeMetrics(trades, equity, 10000, 10200, nil)
	assert.Equal(t, 5, res.TotalTrades)
	assert.Equal(t, 2, res.WinningTrades)
	assert.Equal(t, 3, res.LosingTrades)
	assert.InDelta(t, 40.0, res.WinRate, 1e-9)
	assert.InDelta(t, 150.0, res.AvgWin, 1e-9)
	assert.InDelta(t, -100.0/3, res.AvgLoss, 1e-9)
	assert.InDelta(t, 3.0, res.ProfitFactor, 1e-9)
	assert.Equal(t, 2, res.MaxConsecLosses)
	assert.InDelta(t, 2.0, res.AvgTradeDuration, 1e-9)
	assert.InDelta(t, 0.5, res.MaxDrawdownPct, 1e-9)
	assert.InDelta(t, 2.0, res.TotalReturnPct, 1e-9)
}

func TestComputeMetricsSentinels(t *testing.T) {
	// all winners: zero gross loss, zero drawdown
	trades := []model.BacktestTrade{tradeWithPnL(100), tradeWithPnL(50)}
	equity := []model.EquityPoint{{PortfolioValue: 10000}, {PortfolioValue: 10150}}

	res := ComputeMetrics(trades, equity, 10000, 10150, nil)
	assert.Equal(t, 999.99, res.ProfitFactor)
	assert.Equal(t, 999.99, res.RecoveryFactor)
}

func TestComputeMetricsNoTrades(t *testing.T) {
	res := ComputeMetrics(nil, nil, 10000, 10000, nil)
	assert.Equal(t, 0, res.TotalTrades)
	assert.Equal(t, 0.0, res.WinRate)
	assert.Equal(t, 0.0, res.SharpeRatio)
}

func TestSharpeDegenerateSeries(t *testing.T) {
	// constant equity: zero variance must not divide
	equity := []model.EquityPoint{
		{PortfolioValue: 10000}, {PortfolioValue: 10000}, {PortfolioValue: 10000},
	}
	assert.Equal(t, 0.0, sharpeRatio(equity))

	// single point
	assert.Equal(t, 0.0, sharpeRatio(equity[:1]))

	// zero portfolio values must not divide either
	assert.Equal(t, 0.0, sharpeRatio([]model.EquityPoint{{PortfolioValue: 0}, {PortfolioValue: 0}}))
}

func TestBuyHoldReturn(t *testing.T) {
	bars := []model.Bar{
		{Close: decimal.NewFromInt(100)},
		{Close: decimal.NewFromInt(110)},
	}
	assert.InDelta(t, 10.0, buyHoldReturn(bars), 1e-9)
	assert.Equal(t, 0.0, buyHoldReturn(bars[:1]))
}

func TestSanitizeResult(t *testing.T) {
	r := &model.BacktestResult{
		SharpeRatio:    math.NaN(),
		ProfitFactor:   math.Inf(1),
		RecoveryFactor: math.Inf(-1),
		WinRate:        55,
		Trades: []model.BacktestTrade{
			{PnL: math.NaN(), PnLPct: math.Inf(1)},
		},
		EquityCurve: []model.EquityPoint{
			{PortfolioValue: math.Inf(1), DrawdownPct: math.NaN()},
		},
	}
	SanitizeResult(r)

	assert.Equal(t, 0.0, r.SharpeRatio)
	assert.Equal(t, 999.99, r.ProfitFactor)
	assert.Equal(t, -999.99, r.RecoveryFactor)
	assert.Equal(t, 55.0, r.WinRate)
	assert.Equal(t, 0.0, r.Trades[0].PnL)
	assert.Equal(t, 999.99, r.Trades[0].PnLPct)
	assert.Equal(t, 999.99, r.EquityCurve[0].PortfolioValue)
	assert.Equal(t, 0.0, r.EquityCurve[0].DrawdownPct)
}

func TestSyntheticCryptoShape(t *testing.T) {
	bars := SyntheticCrypto("BTC/USD", 7, DefaultSeed)
	assert.Equal(t, 7*24, len(bars))

	for i, b := range bars {
		assert.True(t, b.High.GreaterThanOrEqual(b.Open), "bar %d high < open", i)
		assert.True(t, b.High.GreaterThanOrEqual(b.Close), "bar %d high < close", i)
		assert.True(t, b.Low.LessThanOrEqual(b.Open), "bar %d low > open", i)
		assert.True(t, b.Low.LessThanOrEqual(b.Close), "bar %d low > close", i)
		assert.True(t, b.Volume.IsPositive(), "bar %d volume", i)
		if i > 0 {
			assert.True(t, b.Timestamp.After(bars[i-1].Timestamp), "bar %d timestamp order", i)
		}
	}

	// same seed, same series
	again := SyntheticCrypto("BTC/USD", 7, DefaultSeed)
	assert.True(t, bars[50].Close.Equal(again[50].Close))
}

func TestSyntheticStockPerSymbolVariation(t *testing.T) {
	a := SyntheticStock("AAPL", 30, DefaultSeed)
	b := SyntheticStock("MSFT", 30, DefaultSeed)
	assert.Equal(t, 30, len(a))
	assert.False(t, a[10].Close.Equal(b[10].Close), "different symbols should not share a series")
}
