package backtest

import (
	"math"

	"divetrader/internal/model"
)

// sentinel replaces unbounded ratios so results stay JSON-representable.
const sentinel = 999.99

// ComputeMetrics fills the statistical fields of a result from its trade
// log and equity curve. Callers still own identity fields (strategy name,
// symbol, period, data source).
func ComputeMetrics(trades []model.BacktestTrade, equity []model.EquityPoint, initialCapital, finalCapital float64, bars []model.Bar) *model.BacktestResult {
	res := &model.BacktestResult{
		InitialCapital: initialCapital,
		FinalCapital:   finalCapital,
		Trades:         trades,
		EquityCurve:    equity,
	}

	res.TotalReturn = finalCapital - initialCapital
	if initialCapital > 0 {
		res.TotalReturnPct = res.TotalReturn / initialCapital * 100
	}
	res.BuyHoldReturnPct = buyHoldReturn(bars)
	res.ExcessReturnPct = res.TotalReturnPct - res.BuyHoldReturnPct

	if len(trades) == 0 {
		return res
	}

	var grossProfit, grossLoss, sumDuration float64
	var consec, maxConsec int
	for _, t := range trades {
		sumDuration += t.DurationHours
		switch {
		case t.PnL > 0:
			res.WinningTrades++
			grossProfit += t.PnL
			consec = 0
		case t.PnL < 0:
			res.LosingTrades++
			grossLoss += -t.PnL
			consec++
			if consec > maxConsec {
				maxConsec = consec
			}
		default:
			consec = 0
		}
	}
	res.TotalTrades = len(trades)
	res.WinRate = float64(res.WinningTrades) / float64(len(trades)) * 100
	if res.WinningTrades > 0 {
		res.AvgWin = grossProfit / float64(res.WinningTrades)
	}
	if res.LosingTrades > 0 {
		res.AvgLoss = -grossLoss / float64(res.LosingTrades)
	}
	if grossLoss > 0 {
		res.ProfitFactor = grossProfit / grossLoss
	} else {
		res.ProfitFactor = sentinel
	}
	res.AvgTradeDuration = sumDuration / float64(len(trades))
	res.MaxConsecLosses = maxConsec

	for _, p := range equity {
		if p.DrawdownPct > res.MaxDrawdownPct {
			res.MaxDrawdownPct = p.DrawdownPct
		}
	}
	if res.MaxDrawdownPct > 0 {
		res.RecoveryFactor = math.Abs(res.TotalReturn / res.MaxDrawdownPct)
	} else {
		res.RecoveryFactor = sentinel
	}

	res.SharpeRatio = sharpeRatio(equity)
	return res
}

// sharpeRatio is the annualized mean/stddev of per-step equity returns,
// using the sample standard deviation. Degenerate series yield 0.
func sharpeRatio(equity []model.EquityPoint) float64 {
	var returns []float64
	for i := 1; i < len(equity); i++ {
		prev := equity[i-1].PortfolioValue
		if prev <= 0 {
			continue
		}
		r := (equity[i].PortfolioValue - prev) / prev
		if math.IsNaN(r) || math.IsInf(r, 0) {
			continue
		}
		returns = append(returns, r)
	}
	if len(returns) < 2 {
		return 0
	}

	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var sq float64
	for _, r := range returns {
		sq += (r - mean) * (r - mean)
	}
	std := math.Sqrt(sq / float64(len(returns)-1))
	if std <= 0 || math.IsNaN(std) || math.IsInf(std, 0) {
		return 0
	}

	sharpe := mean / std * math.Sqrt(252)
	if math.IsNaN(sharpe) || math.IsInf(sharpe, 0) {
		return 0
	}
	return sharpe
}

// buyHoldReturn is the benchmark percentage return of holding the first
// bar's close through the last bar's close.
func buyHoldReturn(bars []model.Bar) float64 {
	if len(bars) < 2 {
		return 0
	}
	first, _ := bars[0].Close.Float64()
	last, _ := bars[len(bars)-1].Close.Float64()
	if first <= 0 {
		return 0
	}
	return (last - first) / first * 100
}
