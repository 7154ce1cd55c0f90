package backtest

import (
	"math"

	"divetrader/internal/model"
)

// sanitizeFloat maps the non-finite values a degenerate series can
// produce onto JSON-safe numbers: NaN to 0, infinities to the sentinel.
func sanitizeFloat(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case math.IsInf(v, 1):
		return sentinel
	case math.IsInf(v, -1):
		return -sentinel
	}
	return v
}

// SanitizeResult scrubs every float in a result in place. The engine
// applies it once at the boundary, so strategies and metric code never
// worry about NaN or Inf escaping to callers.
func SanitizeResult(r *model.BacktestResult) {
	r.InitialCapital = sanitizeFloat(r.InitialCapital)
	r.FinalCapital = sanitizeFloat(r.FinalCapital)
	r.TotalReturn = sanitizeFloat(r.TotalReturn)
	r.TotalReturnPct = sanitizeFloat(r.TotalReturnPct)
	r.WinRate = sanitizeFloat(r.WinRate)
	r.AvgWin = sanitizeFloat(r.AvgWin)
	r.AvgLoss = sanitizeFloat(r.AvgLoss)
	r.ProfitFactor = sanitizeFloat(r.ProfitFactor)
	r.MaxDrawdownPct = sanitizeFloat(r.MaxDrawdownPct)
	r.SharpeRatio = sanitizeFloat(r.SharpeRatio)
	r.AvgTradeDuration = sanitizeFloat(r.AvgTradeDuration)
	r.RecoveryFactor = sanitizeFloat(r.RecoveryFactor)
	r.BuyHoldReturnPct = sanitizeFloat(r.BuyHoldReturnPct)
	r.ExcessReturnPct = sanitizeFloat(r.ExcessReturnPct)

	for i := range r.Trades {
		t := &r.Trades[i]
		t.EntryPrice = sanitizeFloat(t.EntryPrice)
		t.ExitPrice = sanitizeFloat(t.ExitPrice)
		t.Quantity = sanitizeFloat(t.Quantity)
		t.PnL = sanitizeFloat(t.PnL)
		t.PnLPct = sanitizeFloat(t.PnLPct)
		t.DurationHours = sanitizeFloat(t.DurationHours)
	}
	for i := range r.EquityCurve {
		p := &r.EquityCurve[i]
		p.Cash = sanitizeFloat(p.Cash)
		p.PortfolioValue = sanitizeFloat(p.PortfolioValue)
		p.DrawdownPct = sanitizeFloat(p.DrawdownPct)
	}
}
