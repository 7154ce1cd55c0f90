// Package performance maintains the per-strategy daily performance rows
// and serves aggregate statistics over them.
package performance

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"divetrader/internal/model"
	"divetrader/internal/store"
)

type Tracker struct {
	store  store.Store
	logger *zap.Logger
}

func NewTracker(st store.Store, logger *zap.Logger) *Tracker {
	return &Tracker{store: st, logger: logger}
}

// UpdateDaily recomputes today's performance row for a strategy from its
// current capital, open positions and filled trade history. Called once
// per iteration loop pass; the row is upserted in place.
func (t *Tracker) UpdateDaily(ctx context.Context, strategyID int64) error {
	st, err := t.store.GetStrategy(ctx, strategyID)
	if err != nil {
		return fmt.Errorf("load strategy: %w", err)
	}

	positions, err := t.store.ListPositions(ctx, strategyID)
	if err != nil {
		return fmt.Errorf("list positions: %w", err)
	}
	positionValue := decimal.Zero
	for _, p := range positions {
		positionValue = positionValue.Add(p.MarketValue)
	}
	pv, _ := positionValue.Float64()
	totalValue := st.CurrentCapital + pv

	// daily P&L against yesterday's close, falling back to initial
	// capital on the first recorded day
	previous := st.InitialCapital
	history, err := t.store.ListPerformance(ctx, strategyID, 7)
	if err == nil {
		today := dateOnly(time.Now().UTC())
		for _, row := range history {
			if dateOnly(row.Date).Before(today) {
				previous = row.TotalValue
			}
		}
	}

	wins, losses, total := t.tradeCounts(ctx, strategyID)
	winRate := 0.0
	if wins+losses > 0 {
		winRate = float64(wins) / float64(wins+losses) * 100
	}

	roi := 0.0
	if st.InitialCapital > 0 {
		roi = (totalValue - st.InitialCapital) / st.InitialCapital * 100
	}

	metric := &model.PerformanceMetric{
		StrategyID:    strategyID,
		Date:          dateOnly(time.Now().UTC()),
		TotalValue:    totalValue,
		DailyPnL:      totalValue - previous,
		CumulativePnL: totalValue - st.InitialCapital,
		ROIPct:        roi,
		TotalTrades:   total,
		WinningTrades: wins,
		LosingTrades:  losses,
		WinRate:       winRate,
		SharpeRatio:   t.sharpeFromHistory(ctx, strategyID),
		MaxDrawdown:   t.maxDrawdownFromHistory(ctx, strategyID, st.InitialCapital),
	}
	if err := t.store.UpsertPerformance(ctx, metric); err != nil {
		return fmt.Errorf("upsert performance: %w", err)
	}
	return nil
}

// Snapshot is the live performance summary served by the API.
type Snapshot struct {
	StrategyID     int64                     `json:"strategy_id"`
	CurrentCapital float64                   `json:"current_capital"`
	TotalValue     float64                   `json:"total_value"`
	TotalReturnPct float64                   `json:"total_return_pct"`
	TotalTrades    int                       `json:"total_trades"`
	WinRate        float64                   `json:"win_rate"`
	OpenPositions  int                       `json:"open_positions"`
	Risk           RiskStats                 `json:"risk"`
	History        []model.PerformanceMetric `json:"history"`
}

func (t *Tracker) Snapshot(ctx context.Context, strategyID int64, days int) (*Snapshot, error) {
	st, err := t.store.GetStrategy(ctx, strategyID)
	if err != nil {
		return nil, err
	}
	if days <= 0 {
		days = 30
	}

	positions, err := t.store.ListPositions(ctx, strategyID)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	positionValue := decimal.Zero
	for _, p := range positions {
		positionValue = positionValue.Add(p.MarketValue)
	}
	pv, _ := positionValue.Float64()
	totalValue := st.CurrentCapital + pv

	history, err := t.store.ListPerformance(ctx, strategyID, days)
	if err != nil {
		return nil, fmt.Errorf("list performance: %w", err)
	}

	wins, losses, total := t.tradeCounts(ctx, strategyID)
	winRate := 0.0
	if wins+losses > 0 {
		winRate = float64(wins) / float64(wins+losses) * 100
	}
	returnPct := 0.0
	if st.InitialCapital > 0 {
		returnPct = (totalValue - st.InitialCapital) / st.InitialCapital * 100
	}

	return &Snapshot{
		StrategyID:     strategyID,
		CurrentCapital: st.CurrentCapital,
		TotalValue:     totalValue,
		TotalReturnPct: returnPct,
		TotalTrades:    total,
		WinRate:        winRate,
		OpenPositions:  len(positions),
		Risk: RiskStats{
			SharpeRatio:    t.sharpeFromHistory(ctx, strategyID),
			VolatilityPct:  t.volatilityFromHistory(ctx, strategyID),
			MaxDrawdownPct: t.maxDrawdownFromHistory(ctx, strategyID, st.InitialCapital),
		},
		History: history,
	}, nil
}

// tradeCounts tallies filled trades: sells with positive realized P&L
// count as wins, sells at a loss count as losses. Buys only contribute
// to the total.
func (t *Tracker) tradeCounts(ctx context.Context, strategyID int64) (wins, losses, total int) {
	trades, err := t.store.ListTrades(ctx, strategyID, 1000)
	if err != nil {
		t.logger.Warn("failed to list trades", zap.Int64("strategy_id", strategyID), zap.Error(err))
		return 0, 0, 0
	}
	for _, tr := range trades {
		if tr.Status != model.TradeFilled {
			continue
		}
		total++
		if tr.Side != model.SideSell {
			continue
		}
		if tr.RealizedPnL.IsPositive() {
			wins++
		} else if tr.RealizedPnL.IsNegative() {
			losses++
		}
	}
	return wins, losses, total
}

// RiskStats are return statistics derived from the recorded daily rows.
type RiskStats struct {
	SharpeRatio    float64 `json:"sharpe_ratio"`
	VolatilityPct  float64 `json:"volatility_pct"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
}

// ComputeRiskStats summarizes the last 90 days of recorded metrics.
// Sparse history yields zeros rather than an error.
func (t *Tracker) ComputeRiskStats(ctx context.Context, strategyID int64) (RiskStats, error) {
	st, err := t.store.GetStrategy(ctx, strategyID)
	if err != nil {
		return RiskStats{}, err
	}
	return RiskStats{
		SharpeRatio:    t.sharpeFromHistory(ctx, strategyID),
		VolatilityPct:  t.volatilityFromHistory(ctx, strategyID),
		MaxDrawdownPct: t.maxDrawdownFromHistory(ctx, strategyID, st.InitialCapital),
	}, nil
}

// dailyReturns converts recorded total values into per-day simple
// returns, skipping rows recorded against a non-positive base.
func dailyReturns(history []model.PerformanceMetric) []float64 {
	returns := make([]float64, 0, len(history))
	for i := 1; i < len(history); i++ {
		prev := history[i-1].TotalValue
		if prev <= 0 {
			continue
		}
		returns = append(returns, (history[i].TotalValue-prev)/prev)
	}
	return returns
}

func meanStddev(returns []float64) (mean, std float64) {
	if len(returns) < 2 {
		return 0, 0
	}
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)
	return mean, math.Sqrt(variance)
}

// sharpeFromHistory annualizes the mean/stddev of daily returns from the
// recorded total values. Under three days of history yields zero.
func (t *Tracker) sharpeFromHistory(ctx context.Context, strategyID int64) float64 {
	history, err := t.store.ListPerformance(ctx, strategyID, 90)
	if err != nil || len(history) < 3 {
		return 0
	}
	mean, std := meanStddev(dailyReturns(history))
	if std == 0 {
		return 0
	}
	return mean / std * math.Sqrt(252)
}

// volatilityFromHistory is the annualized standard deviation of daily
// returns, as a percentage.
func (t *Tracker) volatilityFromHistory(ctx context.Context, strategyID int64) float64 {
	history, err := t.store.ListPerformance(ctx, strategyID, 90)
	if err != nil || len(history) < 3 {
		return 0
	}
	_, std := meanStddev(dailyReturns(history))
	return std * math.Sqrt(252) * 100
}

func (t *Tracker) maxDrawdownFromHistory(ctx context.Context, strategyID int64, initialCapital float64) float64 {
	history, err := t.store.ListPerformance(ctx, strategyID, 365)
	if err != nil || len(history) == 0 {
		return 0
	}
	peak := initialCapital
	maxDD := 0.0
	for _, row := range history {
		if row.TotalValue > peak {
			peak = row.TotalValue
		}
		if peak > 0 {
			dd := (peak - row.TotalValue) / peak * 100
			if dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

func dateOnly(ts time.Time) time.Time {
	return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
}
